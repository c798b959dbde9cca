package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 10

const (
	codeMin        = 100000
	codeSpan       = 900000 // codes are drawn from [100000, 999999]
	resetTokenSize = 32
)

// Codec hashes passwords and mints the random secrets sent by email.
type Codec struct {
	cost int
}

// NewCodec creates a codec with the given bcrypt cost.
func NewCodec(cost int) (*Codec, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d outside [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Codec{cost: cost}, nil
}

// HashPassword returns a salted bcrypt hash of plain.
func (c *Codec) HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), c.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// VerifyPassword reports whether plain matches hash.
func (c *Codec) VerifyPassword(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// GenerateVerificationCode returns a uniformly random 6-digit code.
func (c *Codec) GenerateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%d", codeMin+n.Int64()), nil
}

// GenerateResetToken returns 256 bits of randomness as lowercase hex.
func (c *Codec) GenerateResetToken() (string, error) {
	b := make([]byte, resetTokenSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the SHA-256 hex digest of token. Only digests of reset
// tokens are stored.
func (c *Codec) HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
