package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fosrl/servertiming/internal/config"
	"github.com/fosrl/servertiming/internal/demo"
	"github.com/fosrl/servertiming/internal/servertiming"
	"github.com/fosrl/servertiming/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the demo server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.TelemetryInit(version))
	if err != nil {
		return fmt.Errorf("serve: init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("serve: telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	mw := servertiming.New(cfg.Middleware(logger, telemetry.Recorder{}))
	telemetry.SetActiveRequestsProvider(func(context.Context) (int64, error) {
		return mw.InFlight(), nil
	})

	app := demo.New(cfg.Cache.TTL, cfg.Cache.CleanupInterval, nil, logger)
	telemetry.RegisterCacheCollector(func(context.Context) ([]telemetry.CacheStats, error) {
		return []telemetry.CacheStats{{Name: "items", Items: int64(app.CachedItems())}}, nil
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           app.Router(mw.Handler),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		st := mw.Config()
		logger.Info("serve: listening",
			slog.String("addr", cfg.ListenAddr),
			slog.Bool("enabled", st.Enabled),
			slog.Bool("trailers", st.Trailers),
			slog.Bool("total", st.Total),
			slog.String("exporter", cfg.Telemetry.Exporter))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("serve: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("serve: shutdown: %w", err)
	}
	return nil
}
