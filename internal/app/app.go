package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/leowu0329/authservice/internal/auth"
	"github.com/leowu0329/authservice/internal/config"
	"github.com/leowu0329/authservice/internal/domain"
	"github.com/leowu0329/authservice/internal/event"
	handler "github.com/leowu0329/authservice/internal/handler/http"
	"github.com/leowu0329/authservice/internal/mailer"
	"github.com/leowu0329/authservice/internal/repository"
	"github.com/leowu0329/authservice/internal/repository/memory"
	"github.com/leowu0329/authservice/internal/repository/postgres"
	"github.com/leowu0329/authservice/internal/secret"
	"github.com/leowu0329/authservice/internal/service"
	"github.com/leowu0329/authservice/migrations"
	"github.com/leowu0329/authservice/pkg/database"
	"github.com/leowu0329/authservice/pkg/health"
	"github.com/leowu0329/authservice/pkg/httpclient"
	pkgkafka "github.com/leowu0329/authservice/pkg/kafka"
	"github.com/leowu0329/authservice/pkg/middleware"
	"github.com/leowu0329/authservice/pkg/tracing"
)

// App wires together all dependencies and runs the account API.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, cfg.TracingConfig())
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, tracerShutdown: tracerShutdown}
	healthHandler := health.NewHandler()

	repo, err := a.openStore(ctx, healthHandler)
	if err != nil {
		return nil, errors.Join(err, a.Shutdown())
	}

	// Domain events are best-effort; a disabled bus is a no-op publisher.
	var (
		events        event.Publisher = event.NoopPublisher{}
		eventProducer *event.Producer
	)
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		eventProducer = event.NewProducer(a.producer, logger)
		events = eventProducer
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	transport, err := newMailer(cfg, eventProducer, logger)
	if err != nil {
		return nil, errors.Join(err, a.Shutdown())
	}
	logger.Info("mail transport selected", slog.String("transport", transport.Name()))

	codec, err := secret.NewCodec(cfg.BcryptCost)
	if err != nil {
		return nil, errors.Join(err, a.Shutdown())
	}
	sessions, err := auth.NewSessionManager(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return nil, errors.Join(err, a.Shutdown())
	}
	composer := mailer.NewComposer(cfg.AppName, cfg.ClientURL, domain.VerificationCodeTTL, domain.ResetTokenTTL)

	accountService, err := service.NewAccountService(
		repo, codec, sessions, mailer.Instrument(transport), composer, events, logger,
		service.Config{ConcealUnknownEmail: cfg.ConcealUnknownEmail},
	)
	if err != nil {
		return nil, errors.Join(err, a.Shutdown())
	}

	router := handler.NewRouter(accountService, sessions, healthHandler, logger, handler.RouterConfig{
		ServiceName: config.ServiceName,
		Cookie: handler.CookieConfig{
			Name:   cfg.CookieName,
			Secure: cfg.IsProduction(),
			MaxAge: cfg.SessionTTL,
		},
		CORS: middleware.CORSConfig{
			AllowedOrigins:   []string{cfg.ClientURL},
			AllowCredentials: true,
		},
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// openStore connects the configured account store.
func (a *App) openStore(ctx context.Context, healthHandler *health.Handler) (repository.AccountRepository, error) {
	if a.cfg.StoreDriver == config.StoreMemory {
		a.logger.Warn("using in-memory account store, data is lost on restart")
		return memory.NewAccountRepository(), nil
	}

	pool, err := database.NewPostgresPool(ctx, a.cfg.PostgresConfig(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", a.cfg.PostgresHost),
		slog.Int("port", a.cfg.PostgresPort),
		slog.String("database", a.cfg.PostgresDB),
	)

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, config.ServiceName); err != nil {
		a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, err
	}
	a.logger.Info("database migrations completed")

	if a.cfg.SlowQueryThreshold > 0 {
		database.SetSlowQueryLogging(a.cfg.SlowQueryThreshold, a.logger)
	}

	healthHandler.RegisterCritical("postgres", pool.Ping)
	return postgres.NewAccountRepository(pool), nil
}

// newMailer builds the transport named by MAIL_TRANSPORT.
func newMailer(cfg *config.Config, events *event.Producer, logger *slog.Logger) (mailer.Mailer, error) {
	switch cfg.MailTransport {
	case config.MailLog:
		return mailer.NewLogMailer(logger, cfg.MailLogBody), nil
	case config.MailSMTP:
		return mailer.NewSMTPMailer(cfg.SMTP.Mailer()), nil
	case config.MailHTTP:
		client := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpclient.DefaultConfig()),
			httpclient.DefaultCircuitBreakerConfig("mail-http"),
			logger,
		)
		return mailer.NewHTTPMailer(cfg.HTTPMailConfig(), client), nil
	case config.MailKafka:
		if events == nil {
			return nil, fmt.Errorf("mail transport %q requires kafka", cfg.MailTransport)
		}
		return mailer.NewKafkaMailer(events), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.MailTransport)
	}
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order: HTTP server, tracer,
// Kafka producer, PostgreSQL pool. Components that were never started are
// skipped.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	if a.httpServer != nil {
		httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer httpCancel()
		if err := a.httpServer.Shutdown(httpCtx); err != nil {
			a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// Flush spans after the HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.pool != nil {
		a.pool.Close()
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
