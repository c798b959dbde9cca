package memory

import (
	"context"
	"sync"
	"time"

	"github.com/leowu0329/authservice/internal/domain"
	apperrors "github.com/leowu0329/authservice/pkg/errors"
)

// AccountRepository is an in-process account store. Records are copied on
// the way in and out so callers never share memory with the store.
type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
}

// NewAccountRepository creates an empty in-memory account repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{accounts: make(map[string]*domain.Account)}
}

// Create inserts a new account, enforcing email and national ID uniqueness.
func (r *AccountRepository) Create(_ context.Context, a *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[a.ID]; ok {
		return apperrors.Conflict("account id already exists")
	}
	if err := r.checkUnique(a); err != nil {
		return err
	}
	r.accounts[a.ID] = clone(a)
	return nil
}

// GetByID retrieves an account by its ID.
func (r *AccountRepository) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return clone(a), nil
}

// GetByEmail retrieves an account by email.
func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	return r.find(func(a *domain.Account) bool { return a.Email == email })
}

// GetByVerificationCode retrieves an account by email and unexpired code.
func (r *AccountRepository) GetByVerificationCode(_ context.Context, email, code string, now time.Time) (*domain.Account, error) {
	return r.find(func(a *domain.Account) bool {
		return a.Email == email && a.HasValidCode(code, now)
	})
}

// GetByResetTokenHash retrieves an account by unexpired reset token digest.
func (r *AccountRepository) GetByResetTokenHash(_ context.Context, tokenHash string, now time.Time) (*domain.Account, error) {
	return r.find(func(a *domain.Account) bool { return a.HasValidResetToken(tokenHash, now) })
}

// GetByNationalID retrieves an account by national ID number.
func (r *AccountRepository) GetByNationalID(_ context.Context, nationalID string) (*domain.Account, error) {
	if nationalID == "" {
		return nil, apperrors.ErrNotFound
	}
	return r.find(func(a *domain.Account) bool { return a.NationalID == nationalID })
}

// Update replaces the stored record.
func (r *AccountRepository) Update(_ context.Context, a *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[a.ID]; !ok {
		return apperrors.ErrNotFound
	}
	if err := r.checkUnique(a); err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	r.accounts[a.ID] = clone(a)
	return nil
}

// ConsumeVerificationCode verifies the matching account and clears its code
// under the write lock.
func (r *AccountRepository) ConsumeVerificationCode(_ context.Context, email, code string, now time.Time) (*domain.Account, error) {
	return r.consume(
		func(a *domain.Account) bool { return a.Email == email && a.HasValidCode(code, now) },
		(*domain.Account).MarkVerified,
	)
}

// ConsumeResetToken stores passwordHash on the matching account and clears
// its reset token under the write lock.
func (r *AccountRepository) ConsumeResetToken(_ context.Context, tokenHash, passwordHash string, now time.Time) (*domain.Account, error) {
	return r.consume(
		func(a *domain.Account) bool { return a.HasValidResetToken(tokenHash, now) },
		func(a *domain.Account) {
			a.PasswordHash = passwordHash
			a.ClearResetToken()
		},
	)
}

// Len returns the number of stored accounts.
func (r *AccountRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

func (r *AccountRepository) find(match func(*domain.Account) bool) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.accounts {
		if match(a) {
			return clone(a), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *AccountRepository) consume(match func(*domain.Account) bool, apply func(*domain.Account)) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if match(a) {
			apply(a)
			a.UpdatedAt = time.Now().UTC()
			return clone(a), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

// checkUnique must be called with mu held.
func (r *AccountRepository) checkUnique(a *domain.Account) error {
	for id, other := range r.accounts {
		if id == a.ID {
			continue
		}
		if other.Email == a.Email {
			return domain.ErrDuplicateEmail
		}
		if a.NationalID != "" && other.NationalID == a.NationalID {
			return domain.ErrDuplicateNationalID
		}
	}
	return nil
}

func clone(a *domain.Account) *domain.Account {
	cp := *a
	cp.VerificationCodeExpiresAt = cloneTime(a.VerificationCodeExpiresAt)
	cp.ResetTokenExpiresAt = cloneTime(a.ResetTokenExpiresAt)
	cp.Birthday = cloneTime(a.Birthday)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
