package repository

import (
	"context"
	"time"

	"github.com/leowu0329/authservice/internal/domain"
)

// AccountRepository defines the persistence operations for accounts.
// Lookups that miss return apperrors.ErrNotFound; unique violations return
// domain.ErrDuplicateEmail or domain.ErrDuplicateNationalID.
type AccountRepository interface {
	// Create inserts a new account.
	Create(ctx context.Context, account *domain.Account) error

	// GetByID retrieves an account by its identifier.
	GetByID(ctx context.Context, id string) (*domain.Account, error)

	// GetByEmail retrieves an account by its normalized email.
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)

	// GetByVerificationCode retrieves the account with this email whose
	// pending code equals code and has not expired at now.
	GetByVerificationCode(ctx context.Context, email, code string, now time.Time) (*domain.Account, error)

	// GetByResetTokenHash retrieves the account holding this reset token
	// digest, provided it has not expired at now.
	GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*domain.Account, error)

	// GetByNationalID retrieves the account holding a national ID number.
	GetByNationalID(ctx context.Context, nationalID string) (*domain.Account, error)

	// Update overwrites the whole record in one statement and refreshes UpdatedAt.
	Update(ctx context.Context, account *domain.Account) error

	// ConsumeVerificationCode marks the account verified and clears its
	// pending code, provided the code still matches and has not expired at
	// now. Only one caller can consume a given code; the others get
	// apperrors.ErrNotFound.
	ConsumeVerificationCode(ctx context.Context, email, code string, now time.Time) (*domain.Account, error)

	// ConsumeResetToken stores passwordHash and clears the reset token,
	// provided the token digest still matches and has not expired at now.
	// Only one caller can consume a given token; the others get
	// apperrors.ErrNotFound.
	ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*domain.Account, error)
}
