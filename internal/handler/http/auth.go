package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leowu0329/authservice/internal/domain"
	"github.com/leowu0329/authservice/internal/service"
	"github.com/leowu0329/authservice/pkg/httputil"
	"github.com/leowu0329/authservice/pkg/middleware"
	"github.com/leowu0329/authservice/pkg/validator"
)

// AuthHandler handles HTTP requests for the account lifecycle endpoints.
type AuthHandler struct {
	service  *service.AccountService
	cookie   CookieConfig
	validate middleware.TokenValidator
	logger   *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler. validate is used only to
// attribute logouts to an account.
func NewAuthHandler(svc *service.AccountService, cookie CookieConfig, validate middleware.TokenValidator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, cookie: cookie, validate: validate, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for registration.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,notblank,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// VerifyEmailRequest is the JSON request body for email verification.
type VerifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required"`
}

// EmailRequest carries a single email address.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// LoginRequest is the JSON request body for login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ResetPasswordRequest is the JSON request body for completing a reset.
type ResetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// ChangePasswordRequest is the JSON request body for changing a password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,max=72"`
}

// --- Response types ---

// MessageResponse is returned by endpoints with nothing else to report.
type MessageResponse struct {
	Message string `json:"message"`
}

// RegisterResponse is returned after a successful registration.
type RegisterResponse struct {
	Message string `json:"message"`
	Email   string `json:"email"`
}

// UserResponse wraps the public view of an account.
type UserResponse struct {
	Message string            `json:"message,omitempty"`
	User    domain.PublicView `json:"user"`
}

// --- Handlers ---

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	res, err := h.service.Register(r.Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, RegisterResponse{
		Message: "registration successful, check your email for the verification code",
		Email:   res.Email,
	})
}

// VerifyEmail handles POST /api/auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	account, err := h.service.VerifyEmail(r.Context(), req.Email, req.Code)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, UserResponse{Message: "email verified", User: account.Public()})
}

// ResendVerification handles POST /api/auth/resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	if err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, MessageResponse{Message: "verification code sent"})
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	res, err := h.service.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookie.set(w, res.Token, res.ExpiresAt)
	httputil.WriteData(w, http.StatusOK, UserResponse{User: res.Account.Public()})
}

// Logout handles POST /api/auth/logout. It succeeds with or without a
// session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var accountID string
	if token := middleware.TokenFromRequest(r, h.cookie.Name); token != "" {
		if claims, err := h.validate(token); err == nil {
			accountID = claims.AccountID
		}
	}
	h.service.Logout(r.Context(), accountID)

	h.cookie.clear(w)
	httputil.WriteData(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// CheckAuth handles GET /api/auth/check-auth
func (h *AuthHandler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromRequest(r, h.cookie.Name)
	if token == "" {
		httputil.WriteError(w, r, domain.ErrUnauthenticated, h.logger)
		return
	}

	account, err := h.service.CheckSession(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, UserResponse{User: account.Public()})
}

// ForgotPassword handles POST /api/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, MessageResponse{Message: "password reset email sent"})
}

// ResetPassword handles POST /api/auth/reset-password/{token}
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req ResetPasswordRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	if err := h.service.ResetPassword(r.Context(), token, req.Password); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, MessageResponse{Message: "password has been reset"})
}

// ChangePassword handles POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	accountID := middleware.AccountIDFromContext(r.Context())
	if err := h.service.ChangePassword(r.Context(), accountID, req.CurrentPassword, req.NewPassword); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, MessageResponse{Message: "password changed"})
}
