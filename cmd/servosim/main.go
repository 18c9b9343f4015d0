// Command servosim simulates buses of Modbus RTU servos on serial ptys or
// RTU-over-TCP listeners, for running servod without hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"servo-dispatcher/internal/config"
	"servo-dispatcher/internal/logging"
	"servo-dispatcher/internal/servosim"
)

var version = "dev"

func main() {
	var configPath, level string
	flag.StringVar(&configPath, "config", "servosim.yaml", "Path to simulator configuration file")
	flag.StringVar(&level, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	log := logging.New(config.LoggingConfig{Level: level, Format: "text", Output: "stderr"}, version).With("component", "servosim")
	if err := run(configPath, log); err != nil {
		log.Error("simulator failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, log *logging.Logger) error {
	cfg, err := servosim.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting simulator", "endpoints", len(cfg.Endpoints), "tick", cfg.Tick.String())
	if err := servosim.Run(ctx, cfg, log); err != nil {
		return err
	}
	log.Info("simulator stopped")
	return nil
}
