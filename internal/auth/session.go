package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of every session token.
const Issuer = "authservice"

// DefaultSessionTTL is the lifetime of a session token and its cookie.
const DefaultSessionTTL = 7 * 24 * time.Hour

var (
	// ErrSessionExpired is returned for a correctly signed token past its expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionInvalid is returned for any token that fails signature or claim checks.
	ErrSessionInvalid = errors.New("session invalid")
)

// SessionClaims are the JWT claims of a session token. The subject is the
// account id.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// AccountID returns the account the session is bound to.
func (c *SessionClaims) AccountID() string {
	return c.Subject
}

// SessionManager signs and verifies stateless session tokens.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewSessionManager creates a manager for the given HMAC secret. An empty
// secret is rejected.
func NewSessionManager(secret string, ttl time.Duration) (*SessionManager, error) {
	if secret == "" {
		return nil, errors.New("session signing secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	m := &SessionManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	// Issue and Verify read the same clock.
	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	return m, nil
}

// TTL returns the session lifetime.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a session token for accountID.
func (m *SessionManager) Issue(accountID string) (string, time.Time, error) {
	if accountID == "" {
		return "", time.Time{}, errors.New("issue session: empty account id")
	}
	now := m.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(m.ttl)
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the token signature and expiry. It returns ErrSessionExpired
// or ErrSessionInvalid, each wrapping the parser error.
func (m *SessionManager) Verify(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := m.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	default:
		return nil, fmt.Errorf("%w: %w", ErrSessionInvalid, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrSessionInvalid)
	}
	return claims, nil
}
