package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crossing/internal/app"
	"crossing/internal/config"
	"crossing/internal/logging"
)

var version = "dev"
var appName = "crossing-sim"

func main() {
	cfg, err := config.LoadSimFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewTo(os.Stderr, cfg.Logging, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the last walker never leaves: wait out the arm timeout and a WAITING round trip
	tail := cfg.Measure.ArmTimeout + 2*time.Second

	if _, err := app.RunSim(ctx, cfg, app.DefaultScript(), tail, logger, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}
