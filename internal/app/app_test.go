package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leowu0329/authservice/internal/config"
	"github.com/leowu0329/authservice/internal/event"
	"github.com/leowu0329/authservice/pkg/database"
	"github.com/leowu0329/authservice/pkg/health"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	return &config.Config{
		Environment:       "development",
		HTTPPort:          0,
		ShutdownTimeout:   time.Second,
		StoreDriver:       config.StoreMemory,
		JWTSecret:         "app-test-secret-that-is-long-enough",
		SessionTTL:        time.Hour,
		CookieName:        "token",
		BcryptCost:        4,
		ClientURL:         "http://localhost:5173",
		AppName:           "Acme",
		MailTransport:     config.MailLog,
		PprofAllowedCIDRs: []string{"127.0.0.1/32"},
	}
}

func TestNewApp_MemoryStoreServesAPI(t *testing.T) {
	a, err := NewApp(memoryConfig(), newTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"name":"Ann","email":"ann@example.com","password":"secret1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"ann@example.com","password":"secret1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "token", cookies[0].Name)
	assert.False(t, cookies[0].Secure)
}

func TestNewApp_RejectsBadBcryptCost(t *testing.T) {
	cfg := memoryConfig()
	cfg.BcryptCost = 99

	a, err := NewApp(cfg, newTestLogger())

	assert.Nil(t, a)
	require.Error(t, err)
}

func TestNewMailer_SelectsTransport(t *testing.T) {
	producer := event.NewProducer(nil, newTestLogger())

	tests := []struct {
		transport string
		events    *event.Producer
		want      string
	}{
		{config.MailLog, nil, "log"},
		{config.MailSMTP, nil, "smtp"},
		{config.MailHTTP, nil, "http"},
		{config.MailKafka, producer, "kafka"},
	}
	for _, tt := range tests {
		t.Run(tt.transport, func(t *testing.T) {
			cfg := memoryConfig()
			cfg.MailTransport = tt.transport
			cfg.MailHTTPURL = "http://mail.invalid/send"

			m, err := newMailer(cfg, tt.events, newTestLogger())

			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Name())
		})
	}
}

func TestNewMailer_KafkaWithoutProducer(t *testing.T) {
	cfg := memoryConfig()
	cfg.MailTransport = config.MailKafka

	_, err := newMailer(cfg, nil, newTestLogger())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires kafka")
}

func TestNewWorker_RedisUnreachable(t *testing.T) {
	cfg := &config.WorkerConfig{
		ShutdownTimeout: time.Second,
		KafkaBrokers:    []string{"127.0.0.1:1"},
		RedisAddr:       "127.0.0.1:1",
		IdempotencyTTL:  time.Hour,
	}

	w, err := NewWorker(cfg, newTestLogger())

	assert.Nil(t, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to redis")
}

func TestOpsRouter_ReportsRedisReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := database.NewRedisClient(context.Background(), database.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	router := newOpsRouter(healthHandler, newTestLogger())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	mr.Close()
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp health.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, health.StatusDown, resp.Checks["redis"].Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
