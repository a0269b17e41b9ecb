package cmd

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/api"
	"github.com/spigell/talent-sourcer/internal/logger"
	"github.com/spigell/talent-sourcer/internal/sourcing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sourcing API and execute submitted runs in the background",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address, overrides server.addr")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil || config.Server == nil {
		logger.Fatal("server config is required")
	}

	logger.Info("starting the talent-sourcer server", zap.String("version", version), zap.String("commit", commit))

	st, closeStore, err := openStore(ctx, config.Store, logger)
	if err != nil {
		logger.Fatal("opening store", zap.Error(err))
	}
	defer closeStore()

	runs, closeRuns, err := openRunStore(ctx, config.Store, st, logger)
	if err != nil {
		logger.Fatal("opening run store", zap.Error(err))
	}
	defer closeRuns()

	notifier, closeNotifier, err := newNotifier(ctx, config.Notify, logger)
	if err != nil {
		logger.Fatal("creating notifier", zap.Error(err))
	}
	defer closeNotifier()

	pipeline, err := newPipeline(ctx, config, runs, st, notifier, logger)
	if err != nil {
		logger.Fatal("building pipeline", zap.Error(err))
	}

	executor := sourcing.NewExecutor(pipeline, runs, sourcing.ExecutorConfig{
		Workers:   config.Server.Workers,
		QueueSize: config.Server.QueueSize,
	}, logger)
	executor.Start(ctx)

	server := &http.Server{
		Addr:              config.Server.Addr,
		Handler:           api.NewRouter(api.NewHandler(executor, runs, st, st, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	// Runs still in flight when the timeout hits are cancelled and recorded as failed.
	if err := executor.Shutdown(shutdownCtx); err != nil {
		logger.Warn("executor forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
