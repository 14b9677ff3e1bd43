package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hostwatch/internal/app"
	"hostwatch/internal/config"
	"hostwatch/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(2)
	}
	defer closer.Close()
	logger.Info("starting hostwatch", "addr", cfg.Addr, "db", cfg.DBPath, "docker_mode", cfg.DockerMode)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("init failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := a.Run(ctx); err != nil {
		logger.Error("shutdown with error", "err", err)
		stop()
		_ = closer.Close()
		os.Exit(1)
	}
}
