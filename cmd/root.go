package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app       = "career-matcher"
	envPrefix = "CAREER_MATCHER"
)

type Config struct {
	Server   *ServerConfig   `mapstructure:"server"`
	Database *DatabaseConfig `mapstructure:"database"`
	AI       *AIConfig       `mapstructure:"ai"`
	Redis    *RedisConfig    `mapstructure:"redis"`
	Pipeline *PipelineConfig `mapstructure:"pipeline"`
}

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read-timeout"`
	WriteTimeout time.Duration `mapstructure:"write-timeout"`
	UserHeader   string        `mapstructure:"user-header"`
}

type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Name         string `mapstructure:"name"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	PasswordFile string `mapstructure:"password-file"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpen      int    `mapstructure:"max-open"`
	MaxIdle      int    `mapstructure:"max-idle"`
}

type AIConfig struct {
	Provider     string        `mapstructure:"provider"`
	Model        string        `mapstructure:"model"`
	BaseURL      string        `mapstructure:"base-url"`
	APIKey       string        `mapstructure:"api-key"`
	APIKeyFile   string        `mapstructure:"api-key-file"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxLogLength int           `mapstructure:"max-log-length"`
}

type RedisConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock-ttl"`
}

type PipelineConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

const (
	providerOpenAI = "openai"
	providerGemini = "gemini"
)

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "career-matcher scores assessment answers against the career catalog and stores the matches",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is career-matcher.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults(viper.GetViper())
}

// setDefaults registers every key so environment overrides apply to all of them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read-timeout", 10*time.Second)
	v.SetDefault("server.write-timeout", 60*time.Second)
	v.SetDefault("server.user-header", "X-User-ID")

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "career_matcher")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password-file", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max-open", 10)
	v.SetDefault("database.max-idle", 5)

	v.SetDefault("ai.provider", providerOpenAI)
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.base-url", "")
	v.SetDefault("ai.api-key", "")
	v.SetDefault("ai.api-key-file", "")
	v.SetDefault("ai.timeout", 55*time.Second)
	v.SetDefault("ai.max-log-length", 200)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock-ttl", 2*time.Minute)

	v.SetDefault("pipeline.timeout", 58*time.Second)
}

func initConfig() {
	// Config is not needed to print the version.
	if versionCmd.CalledAs() != "" {
		return
	}

	// A missing .env is fine; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit --config must exist; the default one is optional.
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c == nil || c.Server == nil || c.Database == nil || c.AI == nil || c.Redis == nil || c.Pipeline == nil {
		return errors.New("config sections are missing")
	}

	c.AI.Provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	switch c.AI.Provider {
	case providerOpenAI, providerGemini:
	default:
		return fmt.Errorf("unsupported ai provider: %q", c.AI.Provider)
	}

	if strings.TrimSpace(c.Server.Address) == "" {
		return errors.New("server.address is required")
	}

	if c.AI.Timeout <= 0 {
		return errors.New("ai.timeout must be positive")
	}

	if c.Pipeline.Timeout <= 0 {
		return errors.New("pipeline.timeout must be positive")
	}

	if c.Pipeline.Timeout < c.AI.Timeout {
		return fmt.Errorf("pipeline.timeout (%s) must not be shorter than ai.timeout (%s)", c.Pipeline.Timeout, c.AI.Timeout)
	}

	return nil
}
