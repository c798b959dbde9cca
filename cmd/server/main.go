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
	// Real environment variables win over .env values.
	if err := pkgconfig.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(config.ServiceName, cfg.LogLevel)
	log.Info("starting account service",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
		slog.String("store", cfg.StoreDriver),
		slog.String("mail_transport", cfg.MailTransport),
	)

	application, err := app.NewApp(cfg, log)
	if err != nil {
		log.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := application.Run(ctx); err != nil {
		log.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("account service stopped")
}
