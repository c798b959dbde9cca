package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leowu0329/authservice/internal/auth"
	"github.com/leowu0329/authservice/internal/service"
	"github.com/leowu0329/authservice/pkg/health"
	"github.com/leowu0329/authservice/pkg/middleware"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	ServiceName       string
	Cookie            CookieConfig
	CORS              middleware.CORSConfig
	PprofAllowedCIDRs []string
}

// SessionValidator bridges the session manager to the auth middleware.
func SessionValidator(sessions *auth.SessionManager) middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		claims, err := sessions.Verify(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{AccountID: claims.AccountID()}, nil
	}
}

// NewRouter creates a chi router with all account routes registered.
func NewRouter(
	accountService *service.AccountService,
	sessions *auth.SessionManager,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	tokenValidator := SessionValidator(sessions)
	authHandler := NewAuthHandler(accountService, cfg.Cookie, tokenValidator, logger)
	profileHandler := NewProfileHandler(accountService, logger)

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(ContentTypeJSON)

		r.Post("/register", authHandler.Register)
		r.Post("/verify-email", authHandler.VerifyEmail)
		r.Post("/resend-verification", authHandler.ResendVerification)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/check-auth", authHandler.CheckAuth)
		r.Post("/forgot-password", authHandler.ForgotPassword)
		r.Post("/reset-password/{token}", authHandler.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator, cfg.Cookie.Name))

			r.Post("/change-password", authHandler.ChangePassword)
			r.Get("/profile", profileHandler.GetProfile)
			r.Put("/profile", profileHandler.UpdateProfile)
		})
	})

	return r
}
