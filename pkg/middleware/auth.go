package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/leowu0329/authservice/pkg/httputil"
	"github.com/leowu0329/authservice/pkg/logger"
)

type contextKeyType string

const accountIDKey contextKeyType = "account_id"

// Claims represents the session claims extracted by the auth middleware.
type Claims struct {
	AccountID string
}

// TokenValidator validates a session token and returns its claims.
// Services inject their own signing logic through it.
type TokenValidator func(token string) (*Claims, error)

// Auth validates the session token and injects the account ID into the
// request context. The token is read from the named cookie first and from an
// "Authorization: Bearer" header second.
func Auth(validate TokenValidator, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r, cookieName)
			if token == "" {
				writeAuthError(w, r, "authentication required")
				return
			}

			claims, err := validate(token)
			if err != nil {
				logger.FromContext(r.Context()).DebugContext(r.Context(), "session rejected",
					slog.String("reason", err.Error()),
				)
				writeAuthError(w, r, "invalid or expired session")
				return
			}

			ctx := WithAccountID(r.Context(), claims.AccountID)
			ctx = logger.WithAccountID(ctx, claims.AccountID)
			ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(slog.String("account_id", claims.AccountID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest returns the session token carried by the request, or "".
func TokenFromRequest(r *http.Request, cookieName string) string {
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}

	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// WithAccountID stores the authenticated account ID in ctx.
func WithAccountID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, accountIDKey, id)
}

// AccountIDFromContext extracts the account ID from the request context.
func AccountIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(accountIDKey).(string); ok {
		return id
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, r *http.Request, message string) {
	httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
		Error: &httputil.ErrorResponse{
			Code:      "UNAUTHENTICATED",
			Message:   message,
			RequestID: logger.CorrelationIDFromContext(r.Context()),
		},
	})
}
