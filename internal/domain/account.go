package domain

import (
	"strings"
	"time"
)

const (
	// VerificationCodeTTL is how long an emailed verification code stays valid.
	VerificationCodeTTL = 10 * time.Minute

	// ResetTokenTTL is how long a password reset link stays valid.
	ResetTokenTTL = time.Hour
)

// BirthdayLayout is the wire format of Account.Birthday.
const BirthdayLayout = "2006-01-02"

// Account is a registered identity and its pending secrets.
type Account struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Name         string `json:"name"`
	Verified     bool   `json:"verified"`

	VerificationCode          string     `json:"-"`
	VerificationCodeExpiresAt *time.Time `json:"-"`
	ResetTokenHash            string     `json:"-"`
	ResetTokenExpiresAt       *time.Time `json:"-"`

	Birthday   *time.Time `json:"birthday,omitempty"`
	Address    string     `json:"address,omitempty"`
	NationalID string     `json:"nationalIdNumber,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeEmail trims and lowercases an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SetVerificationCode replaces any pending code.
func (a *Account) SetVerificationCode(code string, now time.Time) {
	exp := now.Add(VerificationCodeTTL)
	a.VerificationCode = code
	a.VerificationCodeExpiresAt = &exp
}

// MarkVerified flips the account to verified and consumes the pending code.
func (a *Account) MarkVerified() {
	a.Verified = true
	a.VerificationCode = ""
	a.VerificationCodeExpiresAt = nil
}

// SetResetToken records the digest of a freshly issued reset token.
func (a *Account) SetResetToken(tokenHash string, now time.Time) {
	exp := now.Add(ResetTokenTTL)
	a.ResetTokenHash = tokenHash
	a.ResetTokenExpiresAt = &exp
}

// ClearResetToken consumes the pending reset token.
func (a *Account) ClearResetToken() {
	a.ResetTokenHash = ""
	a.ResetTokenExpiresAt = nil
}

// HasValidCode reports whether code matches the pending verification code
// and has not expired at now.
func (a *Account) HasValidCode(code string, now time.Time) bool {
	return a.VerificationCode != "" &&
		a.VerificationCode == code &&
		a.VerificationCodeExpiresAt != nil &&
		now.Before(*a.VerificationCodeExpiresAt)
}

// HasValidResetToken reports whether tokenHash matches the pending reset
// token and has not expired at now.
func (a *Account) HasValidResetToken(tokenHash string, now time.Time) bool {
	return a.ResetTokenHash != "" &&
		a.ResetTokenHash == tokenHash &&
		a.ResetTokenExpiresAt != nil &&
		now.Before(*a.ResetTokenExpiresAt)
}

// PublicView is the account representation returned by session endpoints.
type PublicView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

// ProfileView extends PublicView with the optional profile attributes.
type ProfileView struct {
	PublicView
	Birthday         string `json:"birthday,omitempty"`
	Address          string `json:"address,omitempty"`
	NationalIDNumber string `json:"nationalIdNumber,omitempty"`
}

// Public returns the client-safe view of the account.
func (a *Account) Public() PublicView {
	return PublicView{
		ID:       a.ID,
		Name:     a.Name,
		Email:    a.Email,
		Verified: a.Verified,
	}
}

// Profile returns the client-safe view including profile attributes.
func (a *Account) Profile() ProfileView {
	v := ProfileView{
		PublicView:       a.Public(),
		Address:          a.Address,
		NationalIDNumber: a.NationalID,
	}
	if a.Birthday != nil {
		v.Birthday = a.Birthday.Format(BirthdayLayout)
	}
	return v
}
