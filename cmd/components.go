package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spigell/career-matcher/internal/ai"
	"github.com/spigell/career-matcher/internal/ai/gemini"
	"github.com/spigell/career-matcher/internal/ai/openai"
	"github.com/spigell/career-matcher/internal/logger"
	"github.com/spigell/career-matcher/internal/matching"
	"github.com/spigell/career-matcher/internal/runlock"
	"github.com/spigell/career-matcher/internal/secrets"
	"github.com/spigell/career-matcher/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Default environment variables holding scoring credentials.
var apiKeyEnv = map[string]string{
	providerOpenAI: "LOVABLE_API_KEY",
	providerGemini: "GEMINI_API_KEY",
}

// components are the wired collaborators shared by the commands.
type components struct {
	store     *store.Store
	persister *matching.Persister
	pipeline  *matching.Pipeline
	redis     *redis.Client
}

func buildComponents(ctx context.Context, config *Config, log *zap.Logger, reg prometheus.Registerer) (*components, error) {
	password, err := secrets.Load(secrets.Source{
		Name:  "database password",
		Value: config.Database.Password,
		File:  config.Database.PasswordFile,
		Env:   "PGPASSWORD",
	})
	if err != nil && !errors.Is(err, secrets.ErrNotConfigured) {
		return nil, err
	}

	st, err := store.Open(store.Config{
		URL:          config.Database.URL,
		Host:         config.Database.Host,
		Port:         config.Database.Port,
		Name:         config.Database.Name,
		User:         config.Database.User,
		Password:     password,
		SSLMode:      config.Database.SSLMode,
		MaxOpenConns: config.Database.MaxOpen,
		MaxIdleConns: config.Database.MaxIdle,
	}, log.Named("store"))
	if err != nil {
		return nil, err
	}

	c := &components{
		store:     st,
		persister: matching.NewPersister(st),
	}

	opts := []matching.Option{
		matching.WithMetrics(matching.NewMetrics(reg)),
		matching.WithMaxLogLength(config.AI.MaxLogLength),
	}

	if config.Redis.Address != "" {
		c.redis = runlock.NewClient(config.Redis.Address, config.Redis.Password, config.Redis.DB)
		opts = append(opts, matching.WithLocker(runlock.New(c.redis, config.Redis.LockTTL)))
		log.Info("run lock enabled", zap.String("redis", config.Redis.Address))
	}

	generator, err := newGenerator(ctx, config.AI, log)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.pipeline, err = matching.NewPipeline(st, generator, c.persister, log.Named("matching"), opts...)
	if err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

func (c *components) Close() {
	if c.redis != nil {
		c.redis.Close()
	}
	if c.store != nil {
		c.store.Close()
	}
}

// newGenerator builds the configured scoring client. Missing credentials do
// not stop startup: the returned generator fails every call instead.
func newGenerator(ctx context.Context, cfg *AIConfig, log *zap.Logger) (ai.Generator, error) {
	apiKey, err := secrets.Load(secrets.Source{
		Name:  cfg.Provider + " api key",
		Value: cfg.APIKey,
		File:  cfg.APIKeyFile,
		Env:   apiKeyEnv[cfg.Provider],
	})
	if err != nil {
		log.Warn("scoring client is not configured, matching requests will fail",
			zap.Error(err),
			zap.String("hint", fmt.Sprintf("set ai.api-key-file or %s", apiKeyEnv[cfg.Provider])),
		)
		return ai.Unconfigured{ProviderName: cfg.Provider, Reason: err}, nil
	}

	if cfg.Provider == providerGemini {
		generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Model, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return generator, nil
	}

	client, err := openai.New(openai.Config{
		APIKey:       apiKey,
		BaseURL:      cfg.BaseURL,
		Model:        cfg.Model,
		Timeout:      cfg.Timeout,
		MaxLogLength: cfg.MaxLogLength,
	}, log)
	if err != nil {
		return nil, err
	}

	logger.WithCommonFields(log, client.Provider(), client.Model()).Info("scoring client configured")

	return client, nil
}
