package cmd

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/talent-sourcer/internal/notify"
	"github.com/spigell/talent-sourcer/internal/store/firestore"
	"github.com/spigell/talent-sourcer/internal/store/postgres"
)

const (
	app       = "talent-sourcer"
	envPrefix = "SOURCER"
)

type Config struct {
	Provider  *ProviderConfig  `mapstructure:"provider"`
	Filtering *FilteringConfig `mapstructure:"filtering"`
	Fetch     *FetchConfig     `mapstructure:"fetch"`
	Scoring   *ScoringConfig   `mapstructure:"scoring"`
	AI        *AIConfig        `mapstructure:"ai"`
	Store     *StoreConfig     `mapstructure:"store"`
	Notify    *NotifyConfig    `mapstructure:"notify"`
	Server    *ServerConfig    `mapstructure:"server"`
}

type ProviderConfig struct {
	APIURL            string        `mapstructure:"api-url"`
	DatasetID         string        `mapstructure:"dataset-id"`
	Token             string        `mapstructure:"token"`
	TokenFile         string        `mapstructure:"token-file"`
	UserAgent         string        `mapstructure:"user-agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	PollInterval      time.Duration `mapstructure:"poll-interval"`
	MaxPollAttempts   int           `mapstructure:"max-poll-attempts"`
	RequestsPerSecond float64       `mapstructure:"requests-per-second"`
}

type FilteringConfig struct {
	ExcludeFile  string   `mapstructure:"exclude-file"`
	AllowedHosts []string `mapstructure:"allowed-hosts"`
}

type FetchConfig struct {
	BatchSize       int           `mapstructure:"batch-size"`
	MaxRetries      int           `mapstructure:"max-retries"`
	BaseDelay       time.Duration `mapstructure:"base-delay"`
	MaxDelay        time.Duration `mapstructure:"max-delay"`
	InterBatchDelay time.Duration `mapstructure:"inter-batch-delay"`
	CostPerProfile  float64       `mapstructure:"cost-per-profile"`
	BudgetCeiling   float64       `mapstructure:"budget-ceiling"`
}

type ScoringConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	Delay         time.Duration `mapstructure:"delay"`
	GateThreshold int           `mapstructure:"gate-threshold"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type StoreConfig struct {
	// Driver is memory or postgres.
	Driver    string            `mapstructure:"driver"`
	Postgres  postgres.Config   `mapstructure:"postgres"`
	Firestore *firestore.Config `mapstructure:"firestore"`
}

type NotifyConfig struct {
	// Driver is log, pubsub or none.
	Driver string              `mapstructure:"driver"`
	PubSub notify.PubSubConfig `mapstructure:"pubsub"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue-size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "talent-sourcer fetches external profiles, deduplicates them into candidates and scores them against a job",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is talent-sourcer.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults(viper.GetViper())
}

var envOnlyKeys = []string{
	"provider.api-url",
	"provider.dataset-id",
	"provider.token",
	"provider.token-file",
	"filtering.exclude-file",
	"ai.gemini.api-key",
	"ai.gemini.api-key-file",
	"store.postgres.dsn",
	"store.firestore.project-id",
	"store.firestore.credentials-file",
	"notify.pubsub.project-id",
	"notify.pubsub.topic",
	"notify.pubsub.credentials-file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.timeout", 30*time.Second)
	v.SetDefault("provider.poll-interval", 5*time.Second)
	v.SetDefault("provider.max-poll-attempts", 24)

	v.SetDefault("fetch.batch-size", 5)
	v.SetDefault("fetch.max-retries", 2)
	v.SetDefault("fetch.base-delay", time.Second)
	v.SetDefault("fetch.max-delay", 30*time.Second)
	v.SetDefault("fetch.inter-batch-delay", 2*time.Second)

	v.SetDefault("scoring.concurrency", 4)
	v.SetDefault("scoring.gate-threshold", 70)

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	v.SetDefault("ai.gemini.max-retries", 3)
	v.SetDefault("ai.gemini.max-log-length", 2000)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("notify.driver", "log")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.workers", 2)
	v.SetDefault("server.queue-size", 32)
	v.SetDefault("server.shutdown-timeout", 30*time.Second)
}

func initConfig() {
	// Version needs no configuration.
	if versionCmd.CalledAs() != "" {
		return
	}

	// A missing .env is fine, the environment may already be populated.
	_ = godotenv.Load()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Keys without defaults are invisible to Unmarshal unless bound.
	for _, key := range envOnlyKeys {
		if err := viper.BindEnv(key); err != nil {
			log.Fatalf("binding %s environment variable: %v", key, err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// Defaults and environment are enough when no file is given explicitly.
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
