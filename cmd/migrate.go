package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/logger"
	"github.com/spigell/talent-sourcer/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema to the configured postgres",
	Run: func(_ *cobra.Command, _ []string) {
		migrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func migrate() {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil || config.Store == nil || config.Store.Postgres.DSN == "" {
		logger.Fatal("postgres dsn is required", zap.String("hint", "set store.postgres.dsn or SOURCER_STORE_POSTGRES_DSN"))
	}

	pg, err := postgres.Open(ctx, config.Store.Postgres, logger)
	if err != nil {
		logger.Fatal("opening postgres", zap.Error(err))
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		logger.Fatal("applying schema", zap.Error(err))
	}

	logger.Info("schema applied")
}
