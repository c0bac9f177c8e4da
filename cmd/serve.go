package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spigell/career-matcher/internal/logger"
	"github.com/spigell/career-matcher/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the career matching HTTP API",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("address", "a", "", "listen address (default :8080)")
	viper.BindPFlag("server.address", serveCmd.Flags().Lookup("address"))
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"), zap.String("version", version))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the career-matcher",
		zap.String("provider", config.AI.Provider),
		zap.String("address", config.Server.Address),
	)

	c, err := buildComponents(ctx, config, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("building components", zap.Error(err))
	}
	defer c.Close()

	srv, err := server.New(server.Config{
		Address:         config.Server.Address,
		ReadTimeout:     config.Server.ReadTimeout,
		WriteTimeout:    config.Server.WriteTimeout,
		PipelineTimeout: config.Pipeline.Timeout,
	}, c.pipeline, c.persister, c.store, server.GatewayAuthenticator{UserHeader: config.Server.UserHeader}, logger.Named("http"))
	if err != nil {
		logger.Fatal("creating http server", zap.Error(err))
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Fatal("serving", zap.Error(err))
	}

	logger.Info("exiting", zap.String("reason", "shutdown signal received"))
}
