package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/leowu0329/authservice/internal/auth"
	"github.com/leowu0329/authservice/internal/domain"
	"github.com/leowu0329/authservice/internal/event"
	"github.com/leowu0329/authservice/internal/mailer"
	"github.com/leowu0329/authservice/internal/repository"
	"github.com/leowu0329/authservice/internal/secret"
	apperrors "github.com/leowu0329/authservice/pkg/errors"
)

const (
	minPasswordLength = 6
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLength = 72
	maxNameLength     = 100
	maxAddressLength  = 255
	maxNationalIDLen  = 32
)

// Config holds behaviour switches of the account service.
type Config struct {
	// ConcealUnknownEmail makes ForgotPassword succeed silently for
	// addresses that have no account.
	ConcealUnknownEmail bool
}

// AccountService implements the account lifecycle: registration, email
// verification, sessions, password reset and change, and profile updates.
type AccountService struct {
	repo     repository.AccountRepository
	codec    *secret.Codec
	sessions *auth.SessionManager
	mailer   mailer.Mailer
	composer *mailer.Composer
	events   event.Publisher
	logger   *slog.Logger
	cfg      Config

	now       func() time.Time
	dummyHash string
}

// NewAccountService creates a new account service.
func NewAccountService(
	repo repository.AccountRepository,
	codec *secret.Codec,
	sessions *auth.SessionManager,
	mail mailer.Mailer,
	composer *mailer.Composer,
	events event.Publisher,
	logger *slog.Logger,
	cfg Config,
) (*AccountService, error) {
	// Unknown-email logins compare against this hash so they cost as much
	// as a wrong password.
	dummy, err := codec.HashPassword(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	if events == nil {
		events = event.NoopPublisher{}
	}

	return &AccountService{
		repo:      repo,
		codec:     codec,
		sessions:  sessions,
		mailer:    mail,
		composer:  composer,
		events:    events,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		dummyHash: dummy,
	}, nil
}

// --- Input/Output types ---

// RegisterInput holds the parameters for registering an account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// RegisterResult is returned by a successful registration.
type RegisterResult struct {
	Account *domain.Account
	Email   string
}

// LoginInput holds the parameters for logging in.
type LoginInput struct {
	Email    string
	Password string
}

// LoginResult carries the authenticated account and its session token.
type LoginResult struct {
	Account   *domain.Account
	Token     string
	ExpiresAt time.Time
}

// UpdateProfileInput holds a partial profile update. A nil field is left
// unchanged; an empty Birthday, Address or NationalID clears the field.
type UpdateProfileInput struct {
	Name       *string
	Birthday   *string
	Address    *string
	NationalID *string
}

// --- Registration and verification ---

// Register creates an unverified account and emails it a verification code.
// The account is persisted before the mail is sent; a delivery failure is
// reported as domain.ErrMailDeliveryFailed and the account is kept so the
// client can recover through ResendVerification.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (_ *RegisterResult, err error) {
	defer func() { observe("register", err) }()

	name := strings.TrimSpace(input.Name)
	email := domain.NormalizeEmail(input.Email)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	_, err = s.repo.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, domain.ErrDuplicateEmail
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, s.storeError(ctx, "check email", err)
	}

	hash, err := s.codec.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	code, err := s.codec.GenerateVerificationCode()
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	now := s.now()
	account := &domain.Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	account.SetVerificationCode(code, now)

	if err := s.repo.Create(ctx, account); err != nil {
		return nil, s.storeError(ctx, "create account", err)
	}

	s.logger.InfoContext(ctx, "account registered",
		slog.String("account_id", account.ID),
		slog.String("email", account.Email),
	)

	if err := s.events.AccountRegistered(ctx, account); err != nil {
		s.logPublishError(ctx, event.AccountRegistered, account.ID, err)
	}

	if err := s.sendVerification(ctx, account, code); err != nil {
		return nil, err
	}

	return &RegisterResult{Account: account, Email: account.Email}, nil
}

// VerifyEmail marks the account verified when code matches its pending,
// unexpired verification code. The code is consumed.
func (s *AccountService) VerifyEmail(ctx context.Context, email, code string) (_ *domain.Account, err error) {
	defer func() { observe("verify_email", err) }()

	email = domain.NormalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return nil, domain.ErrInvalidOrExpiredCode
	}

	now := s.now()
	if _, err := s.repo.GetByVerificationCode(ctx, email, code, now); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.ErrInvalidOrExpiredCode
		}
		return nil, s.storeError(ctx, "find verification code", err)
	}

	// A concurrent verify of the same code may win between the lookup and
	// here; the loser sees no match.
	account, err := s.repo.ConsumeVerificationCode(ctx, email, code, now)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.ErrInvalidOrExpiredCode
		}
		return nil, s.storeError(ctx, "mark verified", err)
	}

	s.logger.InfoContext(ctx, "email verified", slog.String("account_id", account.ID))

	if err := s.events.AccountVerified(ctx, account); err != nil {
		s.logPublishError(ctx, event.AccountVerified, account.ID, err)
	}

	return account, nil
}

// ResendVerification replaces the pending code of an unverified account and
// emails the new one.
func (s *AccountService) ResendVerification(ctx context.Context, email string) (err error) {
	defer func() { observe("resend_verification", err) }()

	account, err := s.getByEmail(ctx, email)
	if err != nil {
		return err
	}
	if account.Verified {
		return domain.ErrAlreadyVerified
	}

	code, err := s.codec.GenerateVerificationCode()
	if err != nil {
		return fmt.Errorf("resend verification: %w", err)
	}
	account.SetVerificationCode(code, s.now())
	if err := s.repo.Update(ctx, account); err != nil {
		return s.storeError(ctx, "store verification code", err)
	}

	s.logger.InfoContext(ctx, "verification code reissued", slog.String("account_id", account.ID))

	return s.sendVerification(ctx, account, code)
}

// --- Sessions ---

// Login checks the credentials and issues a session token. Unknown emails
// and wrong passwords fail identically. Unverified accounts may log in; the
// client routes them to verification.
func (s *AccountService) Login(ctx context.Context, input LoginInput) (_ *LoginResult, err error) {
	defer func() { observe("login", err) }()

	email := domain.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.codec.VerifyPassword(input.Password, s.dummyHash)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, s.storeError(ctx, "find account", err)
	}

	if !s.codec.VerifyPassword(input.Password, account.PasswordHash) {
		s.logger.InfoContext(ctx, "login rejected", slog.String("account_id", account.ID))
		return nil, domain.ErrInvalidCredentials
	}

	token, expiresAt, err := s.sessions.Issue(account.ID)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	s.logger.InfoContext(ctx, "account logged in", slog.String("account_id", account.ID))

	return &LoginResult{Account: account, Token: token, ExpiresAt: expiresAt}, nil
}

// Logout ends a session. Sessions are stateless, so nothing changes server
// side; the transport clears the cookie. A token copied before logout stays
// valid until it expires.
func (s *AccountService) Logout(ctx context.Context, accountID string) {
	observe("logout", nil)
	if accountID != "" {
		s.logger.InfoContext(ctx, "account logged out", slog.String("account_id", accountID))
	}
}

// CheckSession validates a session token and returns the account it is
// bound to, fetched fresh from the store.
func (s *AccountService) CheckSession(ctx context.Context, token string) (_ *domain.Account, err error) {
	defer func() { observe("check_session", err) }()

	if token == "" {
		return nil, domain.ErrUnauthenticated
	}

	claims, err := s.sessions.Verify(token)
	if err != nil {
		kind := "invalid"
		if errors.Is(err, auth.ErrSessionExpired) {
			kind = "expired"
		}
		s.logger.DebugContext(ctx, "session rejected",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return nil, domain.ErrUnauthenticated.WithCause(err)
	}

	return s.getByID(ctx, claims.AccountID())
}

// --- Password reset and change ---

// ForgotPassword stores a fresh reset token digest and emails the reset
// link. Unknown emails fail with domain.ErrAccountNotFound unless
// Config.ConcealUnknownEmail is set.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) (err error) {
	defer func() { observe("forgot_password", err) }()

	account, err := s.getByEmail(ctx, email)
	if err != nil {
		if s.cfg.ConcealUnknownEmail && errors.Is(err, domain.ErrAccountNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return err
	}

	token, err := s.codec.GenerateResetToken()
	if err != nil {
		return fmt.Errorf("forgot password: %w", err)
	}
	account.SetResetToken(s.codec.HashToken(token), s.now())
	if err := s.repo.Update(ctx, account); err != nil {
		return s.storeError(ctx, "store reset token", err)
	}

	s.logger.InfoContext(ctx, "password reset requested", slog.String("account_id", account.ID))

	msg, err := s.composer.PasswordReset(account.Email, account.Name, token)
	if err != nil {
		return fmt.Errorf("forgot password: %w", err)
	}
	return s.send(ctx, account, msg)
}

// ResetPassword sets a new password when token matches an unexpired reset
// request. The token is consumed.
func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	defer func() { observe("reset_password", err) }()

	if token == "" {
		return domain.ErrInvalidOrExpiredToken
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	tokenHash, now := s.codec.HashToken(token), s.now()
	if _, err := s.repo.GetByResetTokenHash(ctx, tokenHash, now); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.ErrInvalidOrExpiredToken
		}
		return s.storeError(ctx, "find reset token", err)
	}

	hash, err := s.codec.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	account, err := s.repo.ConsumeResetToken(ctx, tokenHash, hash, now)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.ErrInvalidOrExpiredToken
		}
		return s.storeError(ctx, "store new password", err)
	}

	s.logger.InfoContext(ctx, "password reset completed", slog.String("account_id", account.ID))

	if err := s.events.PasswordChanged(ctx, account.ID, event.ReasonReset); err != nil {
		s.logPublishError(ctx, event.AccountPasswordChanged, account.ID, err)
	}
	return nil
}

// ChangePassword replaces the password of an authenticated account after
// checking the current one against a freshly loaded record.
func (s *AccountService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) (err error) {
	defer func() { observe("change_password", err) }()

	if currentPassword == "" {
		return apperrors.InvalidInput("current password is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	account, err := s.getByID(ctx, accountID)
	if err != nil {
		return err
	}

	if !s.codec.VerifyPassword(currentPassword, account.PasswordHash) {
		return domain.ErrIncorrectPassword
	}

	hash, err := s.codec.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	account.PasswordHash = hash
	if err := s.repo.Update(ctx, account); err != nil {
		return s.storeError(ctx, "store new password", err)
	}

	s.logger.InfoContext(ctx, "password changed", slog.String("account_id", account.ID))

	if err := s.events.PasswordChanged(ctx, account.ID, event.ReasonChanged); err != nil {
		s.logPublishError(ctx, event.AccountPasswordChanged, account.ID, err)
	}
	return nil
}

// --- Profile ---

// GetProfile returns the account of an authenticated session.
func (s *AccountService) GetProfile(ctx context.Context, accountID string) (_ *domain.Account, err error) {
	defer func() { observe("get_profile", err) }()
	return s.getByID(ctx, accountID)
}

// UpdateProfile applies a partial profile update.
func (s *AccountService) UpdateProfile(ctx context.Context, accountID string, input UpdateProfileInput) (_ *domain.Account, err error) {
	defer func() { observe("update_profile", err) }()

	account, err := s.getByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if err := validateName(name); err != nil {
			return nil, err
		}
		account.Name = name
	}

	if input.Birthday != nil {
		birthday, err := s.parseBirthday(strings.TrimSpace(*input.Birthday))
		if err != nil {
			return nil, err
		}
		account.Birthday = birthday
	}

	if input.Address != nil {
		address := strings.TrimSpace(*input.Address)
		if utf8.RuneCountInString(address) > maxAddressLength {
			return nil, apperrors.InvalidInput(fmt.Sprintf("address must be at most %d characters", maxAddressLength))
		}
		account.Address = address
	}

	if input.NationalID != nil {
		nationalID := strings.TrimSpace(*input.NationalID)
		if len(nationalID) > maxNationalIDLen {
			return nil, apperrors.InvalidInput(fmt.Sprintf("national ID number must be at most %d characters", maxNationalIDLen))
		}
		if nationalID != "" && nationalID != account.NationalID {
			holder, err := s.repo.GetByNationalID(ctx, nationalID)
			switch {
			case err == nil && holder.ID != account.ID:
				return nil, domain.ErrDuplicateNationalID
			case err != nil && !errors.Is(err, apperrors.ErrNotFound):
				return nil, s.storeError(ctx, "check national id", err)
			}
		}
		account.NationalID = nationalID
	}

	if err := s.repo.Update(ctx, account); err != nil {
		return nil, s.storeError(ctx, "update profile", err)
	}

	s.logger.InfoContext(ctx, "profile updated", slog.String("account_id", account.ID))

	if err := s.events.ProfileUpdated(ctx, account); err != nil {
		s.logPublishError(ctx, event.AccountProfileUpdated, account.ID, err)
	}
	return account, nil
}

// --- Helpers ---

func (s *AccountService) getByID(ctx context.Context, id string) (*domain.Account, error) {
	if id == "" {
		return nil, domain.ErrUnauthenticated
	}
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, s.storeError(ctx, "find account", err)
	}
	return account, nil
}

func (s *AccountService) getByEmail(ctx context.Context, email string) (*domain.Account, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, s.storeError(ctx, "find account", err)
	}
	return account, nil
}

func (s *AccountService) sendVerification(ctx context.Context, account *domain.Account, code string) error {
	msg, err := s.composer.Verification(account.Email, account.Name, code)
	if err != nil {
		return fmt.Errorf("compose verification mail: %w", err)
	}
	return s.send(ctx, account, msg)
}

// send delivers msg. Secrets are already persisted, so a failure leaves a
// state the client can retry from.
func (s *AccountService) send(ctx context.Context, account *domain.Account, msg mailer.Message) error {
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "mail delivery failed",
			slog.String("account_id", account.ID),
			slog.String("subject", msg.Subject),
			slog.String("transport", s.mailer.Name()),
			slog.String("error", err.Error()),
		)
		return domain.ErrMailDeliveryFailed.WithCause(err)
	}
	return nil
}

// storeError passes domain and application errors through and reports
// anything else as an unavailable store.
func (s *AccountService) storeError(ctx context.Context, op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	s.logger.ErrorContext(ctx, "account store failure",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return domain.ErrStoreUnavailable.WithCause(fmt.Errorf("%s: %w", op, err))
}

func (s *AccountService) logPublishError(ctx context.Context, eventType, accountID string, err error) {
	s.logger.ErrorContext(ctx, "failed to publish event",
		slog.String("event_type", eventType),
		slog.String("account_id", accountID),
		slog.String("error", err.Error()),
	)
}

func (s *AccountService) parseBirthday(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(domain.BirthdayLayout, v)
	if err != nil {
		return nil, apperrors.InvalidInput("birthday must be a date in YYYY-MM-DD format")
	}
	if t.After(s.now()) {
		return nil, apperrors.InvalidInput("birthday must not be in the future")
	}
	return &t, nil
}

func validateName(name string) error {
	if name == "" {
		return apperrors.InvalidInput("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return apperrors.InvalidInput(fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at most %d bytes", maxPasswordLength))
	}
	return nil
}
