package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/leowu0329/authservice/internal/app"
	"github.com/leowu0329/authservice/internal/config"
	pkgconfig "github.com/leowu0329/authservice/pkg/config"
	"github.com/leowu0329/authservice/pkg/logger"
)

func main() {
	if err := pkgconfig.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cfg, err := config.LoadWorker()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(config.WorkerServiceName, cfg.LogLevel)
	log.Info("starting mail worker",
		slog.String("environment", cfg.Environment),
		slog.Any("kafka_brokers", cfg.KafkaBrokers),
		slog.String("smtp_host", cfg.SMTP.Host),
	)

	w, err := app.NewWorker(cfg, log)
	if err != nil {
		log.Error("failed to initialize mail worker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := w.Run(ctx); err != nil {
		log.Error("mail worker error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("mail worker stopped")
}
