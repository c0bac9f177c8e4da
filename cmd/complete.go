package cmd

import (
	"log"

	"github.com/spigell/career-matcher/internal/logger"

	"github.com/manifoldco/promptui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var completeCmd = &cobra.Command{
	Use:   "complete",
	Short: "Mark an assessment completed after its matches were stored but the flag update failed",
	Run: func(cmd *cobra.Command, _ []string) {
		complete(cmd)
	},
}

func init() {
	rootCmd.AddCommand(completeCmd)

	completeCmd.Flags().String("assessment-id", "", "assessment to complete (required)")
	completeCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	completeCmd.MarkFlagRequired("assessment-id")
}

func complete(cmd *cobra.Command) {
	assessmentID, _ := cmd.Flags().GetString("assessment-id")
	autoApprove, _ := cmd.Flags().GetBool("yes")

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"), zap.String("version", version))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	logger = logger.With(zap.String("assessment_id", assessmentID))

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	ctx := cmd.Context()

	c, err := buildComponents(ctx, config, logger, prometheus.NewRegistry())
	if err != nil {
		logger.Fatal("building components", zap.Error(err))
	}
	defer c.Close()

	matches, err := c.store.ListMatches(ctx, assessmentID)
	if err != nil {
		logger.Fatal("loading stored matches", zap.Error(err))
	}

	logger.Info("stored matches found", zap.Int("count", len(matches)))

	if !autoApprove {
		prompt := promptui.Select{
			Label: "Mark the assessment completed?",
			Items: []string{PromptYes, PromptNo},
		}

		_, action, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}

		if action != PromptYes {
			logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
	}

	if err := c.persister.Complete(ctx, assessmentID); err != nil {
		logger.Fatal("completing assessment", zap.Error(err))
	}

	logger.Info("assessment completed")
}
