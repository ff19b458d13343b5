package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"valve-go-home/internal/agent"
	"valve-go-home/internal/client"
	"valve-go-home/internal/logging"
	"valve-go-home/internal/relay"
)

var version = "dev"

func main() {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "agent.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("valve-agent starting", "version", version, "controller", cfg.Controller.URL)

	if err := run(cfg, logger); err != nil {
		logger.Error("agent stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
}

func run(cfg *Config, logger *slog.Logger) error {
	board, err := relay.Open(cfg.relay, logger)
	if err != nil {
		return err
	}
	defer board.Close()

	ctrl, err := client.New(cfg.Controller.URL, cfg.controllerTimeout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	factory := agent.NewValveFactory(board, cfg.models, cfg.DefaultModel, logger)
	a := agent.New(ctrl, factory, cfg.agent, logger)
	if err := a.Init(ctx); err != nil {
		return err
	}
	logger.Info("valves ready", "devices", a.Devices())

	// Run returns once every loop has finished its in-flight actuation.
	a.Run(ctx)
	return nil
}
