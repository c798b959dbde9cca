package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/leowu0329/authservice/internal/auth"
	"github.com/leowu0329/authservice/internal/domain"
	"github.com/leowu0329/authservice/internal/event"
	"github.com/leowu0329/authservice/internal/mailer"
	"github.com/leowu0329/authservice/internal/repository/memory"
	"github.com/leowu0329/authservice/internal/secret"
	"github.com/leowu0329/authservice/internal/service"
	"github.com/leowu0329/authservice/pkg/health"
	"github.com/leowu0329/authservice/pkg/httputil"
	"github.com/leowu0329/authservice/pkg/middleware"
)

// ============================================================================
// Test server
// ============================================================================

type outbox struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (o *outbox) Name() string { return "outbox" }

func (o *outbox) Send(_ context.Context, msg mailer.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

var (
	codePattern  = regexp.MustCompile(`\b(\d{6})\b`)
	tokenPattern = regexp.MustCompile(`/reset-password/([0-9a-f]{64})`)
)

func (o *outbox) find(t *testing.T, re *regexp.Regexp) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent, "no mail sent")
	m := re.FindStringSubmatch(o.sent[len(o.sent)-1].HTMLBody)
	require.Len(t, m, 2)
	return m[1]
}

const cookieName = "token"

type testServer struct {
	handler  http.Handler
	repo     *memory.AccountRepository
	mail     *outbox
	sessions *auth.SessionManager
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	codec, err := secret.NewCodec(bcrypt.MinCost)
	require.NoError(t, err)
	sessions, err := auth.NewSessionManager("handler-test-secret-long-enough-for-hs256", time.Hour)
	require.NoError(t, err)

	ts := &testServer{
		repo:     memory.NewAccountRepository(),
		mail:     &outbox{},
		sessions: sessions,
	}
	composer := mailer.NewComposer("Acme", "http://localhost:5173", domain.VerificationCodeTTL, domain.ResetTokenTTL)
	svc, err := service.NewAccountService(ts.repo, codec, sessions, ts.mail, composer, event.NoopPublisher{}, newTestLogger(), service.Config{})
	require.NoError(t, err)

	ts.handler = NewRouter(svc, sessions, health.NewHandler(), newTestLogger(), RouterConfig{
		ServiceName: "authservice-test",
		Cookie:      CookieConfig{Name: cookieName, MaxAge: time.Hour},
		CORS: middleware.CORSConfig{
			AllowedOrigins:   []string{"http://localhost:5173"},
			AllowCredentials: true,
		},
		PprofAllowedCIDRs: []string{"127.0.0.1/32"},
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage         `json:"data"`
	Error *httputil.ErrorResponse `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	env := decode(t, rec)
	require.Nil(t, env.Error, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	env := decode(t, rec)
	require.NotNil(t, env.Error, rec.Body.String())
	return env.Error.Code
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", cookieName)
	return nil
}

// register creates and verifies an account, then logs in.
func (ts *testServer) register(t *testing.T, name, email, password string) *http.Cookie {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/auth/register",
		`{"name":"`+name+`","email":"`+email+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	code := ts.mail.find(t, codePattern)
	rec = ts.do(t, http.MethodPost, "/api/auth/verify-email", `{"email":"`+email+`","code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"`+email+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookie(t, rec)
}

// ============================================================================
// Register / verify
// ============================================================================

func TestRegister_Created(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/auth/register",
		`{"name":"Ann","email":"Ann@Example.com","password":"secret1"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp RegisterResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, "ann@example.com", resp.Email)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, 1, ts.repo.Len())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRegister_ValidationErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/auth/register", `{"email":"not-an-email","password":"123"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Fields, "name")
	assert.Contains(t, env.Error.Fields, "email")
	assert.Contains(t, env.Error.Fields, "password")

	rec = ts.do(t, http.MethodPost, "/api/auth/register", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
	assert.Equal(t, 0, ts.repo.Len())
}

func TestRegister_DuplicateEmail(t *testing.T) {
	ts := newTestServer(t)
	body := `{"name":"Ann","email":"ann@example.com","password":"secret1"}`
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/auth/register", body).Code)

	rec := ts.do(t, http.MethodPost, "/api/auth/register",
		`{"name":"Ann Two","email":"ANN@example.com","password":"secret2"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_EMAIL", errorCode(t, rec))
}

func TestRegister_RejectsNonJSONContentType(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader("name=Ann"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", errorCode(t, rec))
}

func TestVerifyEmail(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/auth/register",
		`{"name":"Ann","email":"ann@example.com","password":"secret1"}`).Code)
	code := ts.mail.find(t, codePattern)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	rec := ts.do(t, http.MethodPost, "/api/auth/verify-email", `{"email":"ann@example.com","code":"`+wrong+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_OR_EXPIRED_CODE", errorCode(t, rec))

	rec = ts.do(t, http.MethodPost, "/api/auth/verify-email", `{"email":"ann@example.com","code":"`+code+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp UserResponse
	decodeData(t, rec, &resp)
	assert.True(t, resp.User.Verified)
	assert.Equal(t, "ann@example.com", resp.User.Email)

	rec = ts.do(t, http.MethodPost, "/api/auth/verify-email", `{"email":"ann@example.com","code":"`+code+`"}`)
	assert.Equal(t, "INVALID_OR_EXPIRED_CODE", errorCode(t, rec))
}

func TestResendVerification(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/auth/resend-verification", `{"email":"ghost@example.com"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/auth/register",
		`{"name":"Ann","email":"ann@example.com","password":"secret1"}`).Code)
	rec = ts.do(t, http.MethodPost, "/api/auth/resend-verification", `{"email":"ann@example.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	code := ts.mail.find(t, codePattern)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/auth/verify-email",
		`{"email":"ann@example.com","code":"`+code+`"}`).Code)

	rec = ts.do(t, http.MethodPost, "/api/auth/resend-verification", `{"email":"ann@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ALREADY_VERIFIED", errorCode(t, rec))
}

// ============================================================================
// Sessions
// ============================================================================

func TestLogin_SetsSessionCookie(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/auth/register",
		`{"name":"Ann","email":"ann@example.com","password":"secret1"}`).Code)

	rec := ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"ann@example.com","password":"secret1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	c := sessionCookie(t, rec)
	assert.NotEmpty(t, c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Equal(t, 3600, c.MaxAge)
	assert.Equal(t, "/", c.Path)
	assert.False(t, c.Secure)

	claims, err := ts.sessions.Verify(c.Value)
	require.NoError(t, err)

	var resp UserResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, claims.AccountID(), resp.User.ID)
	assert.False(t, resp.User.Verified)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

func TestLogin_InvalidCredentials(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/auth/register",
		`{"name":"Ann","email":"ann@example.com","password":"secret1"}`).Code)

	for _, body := range []string{
		`{"email":"ann@example.com","password":"wrong-password"}`,
		`{"email":"ghost@example.com","password":"secret1"}`,
	} {
		rec := ts.do(t, http.MethodPost, "/api/auth/login", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, rec))
		assert.Empty(t, rec.Result().Cookies())
	}
}

func TestCheckAuth(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.register(t, "Ann", "ann@example.com", "secret1")

	rec := ts.do(t, http.MethodGet, "/api/auth/check-auth", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(t, rec))

	rec = ts.do(t, http.MethodGet, "/api/auth/check-auth", "", cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp UserResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, "Ann", resp.User.Name)
	assert.True(t, resp.User.Verified)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/check-auth", nil)
	req.Header.Set("Authorization", "Bearer "+cookie.Value)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/auth/check-auth", "", &http.Cookie{Name: cookieName, Value: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(t, rec))
}

func TestLogout_ClearsCookie(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.register(t, "Ann", "ann@example.com", "secret1")

	for _, cookies := range [][]*http.Cookie{{cookie}, nil} {
		rec := ts.do(t, http.MethodPost, "/api/auth/logout", "", cookies...)

		assert.Equal(t, http.StatusOK, rec.Code)
		cleared := sessionCookie(t, rec)
		assert.Empty(t, cleared.Value)
		assert.Equal(t, -1, cleared.MaxAge)
		assert.True(t, cleared.HttpOnly)
	}
}

// ============================================================================
// Password reset / change
// ============================================================================

func TestForgotAndResetPassword(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "Ann", "ann@example.com", "secret1")

	rec := ts.do(t, http.MethodPost, "/api/auth/forgot-password", `{"email":"ghost@example.com"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/auth/forgot-password", `{"email":"ann@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	token := ts.mail.find(t, tokenPattern)

	rec = ts.do(t, http.MethodPost, "/api/auth/reset-password/"+token, `{"password":"123"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))

	rec = ts.do(t, http.MethodPost, "/api/auth/reset-password/"+strings.Repeat("0", 64), `{"password":"brand-new"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_OR_EXPIRED_TOKEN", errorCode(t, rec))

	rec = ts.do(t, http.MethodPost, "/api/auth/reset-password/"+token, `{"password":"brand-new"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/auth/reset-password/"+token, `{"password":"brand-new-2"}`)
	assert.Equal(t, "INVALID_OR_EXPIRED_TOKEN", errorCode(t, rec))

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/api/auth/login",
		`{"email":"ann@example.com","password":"secret1"}`).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/auth/login",
		`{"email":"ann@example.com","password":"brand-new"}`).Code)
}

func TestChangePassword(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.register(t, "Ann", "ann@example.com", "secret1")

	rec := ts.do(t, http.MethodPost, "/api/auth/change-password", `{"currentPassword":"secret1","newPassword":"secret2"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/auth/change-password",
		`{"currentPassword":"nope-nope","newPassword":"secret2"}`, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INCORRECT_PASSWORD", errorCode(t, rec))

	rec = ts.do(t, http.MethodPost, "/api/auth/change-password",
		`{"currentPassword":"secret1","newPassword":"secret2"}`, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/auth/login",
		`{"email":"ann@example.com","password":"secret2"}`).Code)
}

// ============================================================================
// Ops endpoints
// ============================================================================

func TestOpsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health/ready", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/metrics", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCORS_AllowsClientWithCredentials(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()

	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
