package domain

import (
	"net/http"

	apperrors "github.com/leowu0329/authservice/pkg/errors"
)

// Account lifecycle errors. Each value matches itself under errors.Is even
// after WithCause attaches the underlying failure.
var (
	ErrDuplicateEmail = apperrors.New("DUPLICATE_EMAIL",
		"an account with this email already exists", http.StatusConflict, apperrors.ErrAlreadyExists)
	ErrDuplicateNationalID = apperrors.New("DUPLICATE_NATIONAL_ID",
		"this national ID number is already in use", http.StatusConflict, apperrors.ErrAlreadyExists)
	ErrInvalidCredentials = apperrors.New("INVALID_CREDENTIALS",
		"invalid email or password", http.StatusUnauthorized, apperrors.ErrUnauthorized)
	ErrIncorrectPassword = apperrors.New("INCORRECT_PASSWORD",
		"current password is incorrect", http.StatusBadRequest, apperrors.ErrInvalidInput)
	ErrInvalidOrExpiredCode = apperrors.New("INVALID_OR_EXPIRED_CODE",
		"invalid or expired verification code", http.StatusBadRequest, apperrors.ErrInvalidInput)
	ErrInvalidOrExpiredToken = apperrors.New("INVALID_OR_EXPIRED_TOKEN",
		"invalid or expired reset token", http.StatusBadRequest, apperrors.ErrInvalidInput)
	ErrAlreadyVerified = apperrors.New("ALREADY_VERIFIED",
		"email is already verified", http.StatusBadRequest, apperrors.ErrConflict)
	ErrAccountNotFound = apperrors.New("NOT_FOUND",
		"account not found", http.StatusNotFound, apperrors.ErrNotFound)
	ErrUnauthenticated = apperrors.New("UNAUTHENTICATED",
		"session expired, please log in again", http.StatusUnauthorized, apperrors.ErrUnauthorized)
	ErrMailDeliveryFailed = apperrors.New("MAIL_DELIVERY_FAILED",
		"could not send email, please try again", http.StatusServiceUnavailable, apperrors.ErrServiceUnavail)
	ErrStoreUnavailable = apperrors.New("STORE_UNAVAILABLE",
		"service temporarily unavailable", http.StatusServiceUnavailable, apperrors.ErrServiceUnavail)
)
