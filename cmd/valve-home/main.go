package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"valve-go-home/internal/controller"
	"valve-go-home/internal/logging"
	"valve-go-home/internal/metrics"
	"valve-go-home/internal/scheduler"
	"valve-go-home/internal/store"
	"valve-go-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err == nil {
		err = cfg.validate()
	}
	if err != nil {
		bootLogger.Error("config", "path", cfgPath, "err", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("valve-go-home starting", "version", version)

	if err := run(cfg, logger); err != nil {
		logger.Error("controller stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
}

func run(cfg *Config, logger *slog.Logger) error {
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	hub := controller.New(db, controller.NewEventBus(logger), logger, controller.WithMetrics(metrics.New()))
	devices, err := hub.Devices()
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	logger.Info("device registry loaded", "devices", len(devices), "path", cfg.Store.Path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(hub, cfg.sweepInterval, logger)
	sched.Start(ctx)
	defer sched.Stop()

	// No-op when built with no_automation.
	auto, autoWebOpts := initAutomation(hub, cfg, logger)
	defer auto.Stop()

	webOpts := append([]web.ServerOption{web.WithVersion(version)}, autoWebOpts...)
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webServer := web.NewServer(hub, logger, webOpts...)
	defer webServer.Stop()

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		serveErr <- httpServer.ListenAndServe()
	}()

	// No-op when built with no_mqtt.
	mqtt := initMQTT(hub, cfg, logger)
	defer mqtt.Stop()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	return nil
}
