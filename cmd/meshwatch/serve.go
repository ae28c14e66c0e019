package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshwatch/meshwatch/internal/broadcast"
	"github.com/meshwatch/meshwatch/internal/config"
	"github.com/meshwatch/meshwatch/internal/ingress"
	"github.com/meshwatch/meshwatch/internal/logging"
	"github.com/meshwatch/meshwatch/internal/pipeline"
	"github.com/meshwatch/meshwatch/internal/repository"
	"github.com/meshwatch/meshwatch/internal/server"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingest pipeline and API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With(slog.String("service", "meshwatch"))
	logging.SetDefault(logger)

	logger.Info("starting meshwatch",
		slog.Int("port", cfg.Server.Port),
		slog.String("ingress", cfg.Ingress.Backend),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := repository.Migrate(cfg.Database.URL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	store, err := repository.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()

	hub := broadcast.NewHub(logger)
	go hub.Run()
	defer hub.Close()

	pipe, err := pipeline.New(ctx, logger, store, hub, cfg.DecodeKeys(), cfg.Decode.DedupWindow)
	if err != nil {
		return err
	}

	source, err := newSource(logger, cfg)
	if err != nil {
		return err
	}
	if err := source.Start(ctx, func(ctx context.Context, topic string, payload []byte) {
		if err := pipe.HandleFrame(ctx, topic, payload); err != nil {
			logger.Error("frame ingest failed", "topic", topic, "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to start ingress: %w", err)
	}
	defer source.Close()

	handler := server.NewHandler(logger, store, pipe)
	srv := server.New(cfg.Server, server.NewRouter(handler, hub, cfg.Server.AllowedOrigins))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown error", "error", err)
	}
	return nil
}

func newSource(logger *logging.Logger, cfg *config.Config) (ingress.Source, error) {
	switch cfg.Ingress.Backend {
	case "mqtt":
		return ingress.NewMQTTSource(logger, ingress.MQTTConfig{
			BrokerURL: cfg.Ingress.MQTTBroker,
			Topic:     cfg.Ingress.MQTTTopic,
			ClientID:  cfg.Ingress.MQTTClientID,
			Username:  cfg.Ingress.MQTTUsername,
			Password:  cfg.Ingress.MQTTPassword,
			QoS:       byte(cfg.Ingress.MQTTQoS),
		}), nil
	case "nats":
		return ingress.NewNATSSource(logger, ingress.NATSConfig{
			URL:     cfg.Ingress.NATSURL,
			Subject: cfg.Ingress.NATSSubject,
		}), nil
	default:
		return nil, fmt.Errorf("unknown ingress backend %q", cfg.Ingress.Backend)
	}
}
