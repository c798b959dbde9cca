package http

import (
	"log/slog"
	"net/http"

	"github.com/leowu0329/authservice/internal/domain"
	"github.com/leowu0329/authservice/internal/service"
	"github.com/leowu0329/authservice/pkg/httputil"
	"github.com/leowu0329/authservice/pkg/middleware"
	"github.com/leowu0329/authservice/pkg/validator"
)

// ProfileHandler serves the authenticated account's profile.
type ProfileHandler struct {
	service *service.AccountService
	logger  *slog.Logger
}

// NewProfileHandler creates a new profile HTTP handler.
func NewProfileHandler(svc *service.AccountService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{service: svc, logger: logger}
}

// UpdateProfileRequest is a partial update: omitted fields are left alone,
// empty strings clear optional fields.
type UpdateProfileRequest struct {
	Name             *string `json:"name" validate:"omitnil,max=100"`
	Birthday         *string `json:"birthday" validate:"omitnil,date"`
	Address          *string `json:"address" validate:"omitnil,max=255"`
	NationalIDNumber *string `json:"nationalIdNumber" validate:"omitnil,max=32"`
}

// ProfileResponse wraps the full profile view.
type ProfileResponse struct {
	User domain.ProfileView `json:"user"`
}

// GetProfile handles GET /api/auth/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.GetProfile(r.Context(), middleware.AccountIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, ProfileResponse{User: account.Profile()})
}

// UpdateProfile handles PUT /api/auth/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	account, err := h.service.UpdateProfile(r.Context(), middleware.AccountIDFromContext(r.Context()), service.UpdateProfileInput{
		Name:       req.Name,
		Birthday:   req.Birthday,
		Address:    req.Address,
		NationalID: req.NationalIDNumber,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, ProfileResponse{User: account.Profile()})
}
