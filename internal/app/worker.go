package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/leowu0329/authservice/internal/config"
	"github.com/leowu0329/authservice/internal/mailer"
	"github.com/leowu0329/authservice/internal/worker"
	"github.com/leowu0329/authservice/pkg/database"
	"github.com/leowu0329/authservice/pkg/health"
	pkgkafka "github.com/leowu0329/authservice/pkg/kafka"
	"github.com/leowu0329/authservice/pkg/middleware"
	"github.com/leowu0329/authservice/pkg/tracing"
)

const idempotencyKeyPrefix = "authservice:mailworker:processed:"

// Worker wires together the mail.requested consumer and its ops endpoints.
type Worker struct {
	cfg            *config.WorkerConfig
	logger         *slog.Logger
	redis          *redis.Client
	dlq            *pkgkafka.DLQProducer
	consumer       *pkgkafka.Consumer
	healthServer   *http.Server
	tracerShutdown func(context.Context) error
}

// NewWorker creates the mail worker, initializing all dependencies.
func NewWorker(cfg *config.WorkerConfig, logger *slog.Logger) (*Worker, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, cfg.TracingConfig())
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	w := &Worker{cfg: cfg, logger: logger, tracerShutdown: tracerShutdown}

	client, err := database.NewRedisClient(ctx, cfg.RedisConfig())
	if err != nil {
		return nil, errors.Join(fmt.Errorf("connect to redis: %w", err), w.Shutdown())
	}
	w.redis = client
	logger.Info("connected to Redis")

	store := pkgkafka.NewRedisIdempotencyStore(client, idempotencyKeyPrefix, cfg.IdempotencyTTL)
	handler := worker.NewMailHandler(mailer.Instrument(mailer.NewSMTPMailer(cfg.SMTP.Mailer())), logger)
	w.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	w.consumer = worker.NewConsumer(cfg.KafkaBrokers, handler, store, w.dlq, logger)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return pkgkafka.PingBrokers(ctx, cfg.KafkaBrokers)
	})

	w.healthServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HealthPort),
		Handler:           newOpsRouter(healthHandler, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return w, nil
}

func newOpsRouter(healthHandler *health.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Run consumes mail requests and serves the ops endpoints until ctx is
// canceled or either of them fails.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		w.logger.Info("starting health server", slog.String("addr", w.healthServer.Addr))
		if err := w.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- w.consumer.Start(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		w.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		cancel()
	}

	if err := <-consumerDone; err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close consumer: %w", err))
	}
	return errors.Join(runErr, w.Shutdown())
}

// Shutdown stops the ops server and releases the DLQ writer, Redis and the
// tracer. The consumer is closed by Run.
func (w *Worker) Shutdown() error {
	w.logger.Info("shutting down mail worker...")

	var errs []error

	if w.healthServer != nil {
		httpCtx, httpCancel := context.WithTimeout(context.Background(), w.cfg.ShutdownTimeout)
		defer httpCancel()
		if err := w.healthServer.Shutdown(httpCtx); err != nil {
			errs = append(errs, fmt.Errorf("health server shutdown: %w", err))
		}
	}

	if w.dlq != nil {
		if err := w.dlq.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dlq producer close: %w", err))
		}
	}

	if w.redis != nil {
		if err := w.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	if w.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := w.tracerShutdown(tracerCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}

	for _, err := range errs {
		w.logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	w.logger.Info("mail worker shutdown complete")
	return errors.Join(errs...)
}
