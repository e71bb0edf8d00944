package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/crosslane/bridge-relay/bridge"
	"github.com/crosslane/bridge-relay/config"
	"github.com/crosslane/bridge-relay/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge relay loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		// Missing .env is fine, the environment may be populated directly.
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			logger.WithError(err).Warnf("Could not load env file %s", envFile)
		}

		cfg, err := config.Load()
		if err != nil {
			logger.WithError(err).Error("Invalid configuration")
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		m := metrics.New()
		if cfg.MetricsAddr != "" {
			go serveMetrics(ctx, cfg.MetricsAddr, m, logger)
		}

		service := bridge.New(cfg, m, logger)

		if err := service.Run(ctx); err != nil {
			logger.WithError(err).Error("Bridge relay terminated")
			return err
		}

		logger.Info("Shutdown signal received, exiting")
		return nil
	},
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", addr).Info("Serving metrics")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Error("Metrics server failed")
	}
}
