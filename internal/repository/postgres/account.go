package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/leowu0329/authservice/internal/domain"
	"github.com/leowu0329/authservice/pkg/database"
	apperrors "github.com/leowu0329/authservice/pkg/errors"
)

// Constraint names from migrations/001_create_accounts.up.sql.
const (
	emailConstraint      = "accounts_email_key"
	nationalIDConstraint = "accounts_national_id_key"
)

const accountFields = `id, email, password_hash, name, verified,
		       COALESCE(verification_code, ''), verification_code_expires_at,
		       COALESCE(reset_token_hash, ''), reset_token_expires_at,
		       birthday, COALESCE(address, ''), COALESCE(national_id, ''),
		       created_at, updated_at`

const selectAccount = `
		SELECT ` + accountFields + `
		FROM accounts`

// AccountRepository implements repository.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db database.DBTX
}

// NewAccountRepository creates a new PostgreSQL-backed account repository.
func NewAccountRepository(db database.DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) (err error) {
	query := `
		INSERT INTO accounts (id, email, password_hash, name, verified,
		                      verification_code, verification_code_expires_at,
		                      reset_token_hash, reset_token_expires_at,
		                      birthday, address, national_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10, NULLIF($11, ''), NULLIF($12, ''), $13, $14)`

	ctx, end := database.TraceQuery(ctx, "CreateAccount", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		a.ID,
		a.Email,
		a.PasswordHash,
		a.Name,
		a.Verified,
		a.VerificationCode,
		a.VerificationCodeExpiresAt,
		a.ResetTokenHash,
		a.ResetTokenExpiresAt,
		a.Birthday,
		a.Address,
		a.NationalID,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if dup := uniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by its ID.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.scanAccount(ctx, "GetAccountByID", selectAccount+`
		WHERE id = $1`, id)
}

// GetByEmail retrieves an account by email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.scanAccount(ctx, "GetAccountByEmail", selectAccount+`
		WHERE email = $1`, email)
}

// GetByVerificationCode retrieves an account by email and unexpired code.
func (r *AccountRepository) GetByVerificationCode(ctx context.Context, email, code string, now time.Time) (*domain.Account, error) {
	return r.scanAccount(ctx, "GetAccountByVerificationCode", selectAccount+`
		WHERE email = $1 AND verification_code = $2 AND verification_code_expires_at > $3`,
		email, code, now)
}

// GetByResetTokenHash retrieves an account by unexpired reset token digest.
func (r *AccountRepository) GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*domain.Account, error) {
	return r.scanAccount(ctx, "GetAccountByResetToken", selectAccount+`
		WHERE reset_token_hash = $1 AND reset_token_expires_at > $2`,
		tokenHash, now)
}

// GetByNationalID retrieves an account by national ID number.
func (r *AccountRepository) GetByNationalID(ctx context.Context, nationalID string) (*domain.Account, error) {
	return r.scanAccount(ctx, "GetAccountByNationalID", selectAccount+`
		WHERE national_id = $1`, nationalID)
}

// Update overwrites every mutable column of the account.
func (r *AccountRepository) Update(ctx context.Context, a *domain.Account) (err error) {
	a.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE accounts
		SET email = $1, password_hash = $2, name = $3, verified = $4,
		    verification_code = NULLIF($5, ''), verification_code_expires_at = $6,
		    reset_token_hash = NULLIF($7, ''), reset_token_expires_at = $8,
		    birthday = $9, address = NULLIF($10, ''), national_id = NULLIF($11, ''),
		    updated_at = $12
		WHERE id = $13`

	ctx, end := database.TraceQuery(ctx, "UpdateAccount", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query,
		a.Email,
		a.PasswordHash,
		a.Name,
		a.Verified,
		a.VerificationCode,
		a.VerificationCodeExpiresAt,
		a.ResetTokenHash,
		a.ResetTokenExpiresAt,
		a.Birthday,
		a.Address,
		a.NationalID,
		a.UpdatedAt,
		a.ID,
	)
	if err != nil {
		if dup := uniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("update account: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// ConsumeVerificationCode verifies the account and clears its code in one
// conditional statement. A code that was consumed, replaced or expired
// matches no row.
func (r *AccountRepository) ConsumeVerificationCode(ctx context.Context, email, code string, now time.Time) (*domain.Account, error) {
	return r.scanAccount(ctx, "ConsumeVerificationCode", `
		UPDATE accounts
		SET verified = TRUE, verification_code = NULL, verification_code_expires_at = NULL,
		    updated_at = $4
		WHERE email = $1 AND verification_code = $2 AND verification_code_expires_at > $3
		RETURNING `+accountFields, email, code, now, time.Now().UTC())
}

// ConsumeResetToken stores the new password hash and clears the reset token
// in one conditional statement. A token that was consumed, replaced or
// expired matches no row.
func (r *AccountRepository) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*domain.Account, error) {
	return r.scanAccount(ctx, "ConsumeResetToken", `
		UPDATE accounts
		SET password_hash = $3, reset_token_hash = NULL, reset_token_expires_at = NULL,
		    updated_at = $4
		WHERE reset_token_hash = $1 AND reset_token_expires_at > $2
		RETURNING `+accountFields, tokenHash, now, passwordHash, time.Now().UTC())
}

func (r *AccountRepository) scanAccount(ctx context.Context, operation, query string, args ...any) (*domain.Account, error) {
	ctx, end := database.TraceQuery(ctx, operation, query)

	var a domain.Account
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.Name,
		&a.Verified,
		&a.VerificationCode,
		&a.VerificationCodeExpiresAt,
		&a.ResetTokenHash,
		&a.ResetTokenExpiresAt,
		&a.Birthday,
		&a.Address,
		&a.NationalID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

// uniqueViolation maps a unique constraint failure to the matching domain
// error, or returns nil for any other error.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case nationalIDConstraint:
		return domain.ErrDuplicateNationalID.WithCause(err)
	case emailConstraint:
		return domain.ErrDuplicateEmail.WithCause(err)
	default:
		return apperrors.Conflict("account conflicts with an existing record").WithCause(err)
	}
}
