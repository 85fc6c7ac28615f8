package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// resetAcceptedMessage is returned for every well-formed reset request
const resetAcceptedMessage = "If an account exists for this address, a password reset link has been sent."

// PasswordResetter issues and redeems password reset links
type PasswordResetter interface {
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// PasswordResetHandler handles the forgot-password flow
type PasswordResetHandler struct {
	service PasswordResetter
	logger  *slog.Logger
}

// NewPasswordResetHandler creates a new PasswordResetHandler
func NewPasswordResetHandler(service PasswordResetter, logger *slog.Logger) *PasswordResetHandler {
	return &PasswordResetHandler{service: service, logger: logger}
}

// PasswordResetRequest represents the request body for a reset link
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// PasswordResetConfirmRequest represents the request body for redeeming a link
type PasswordResetConfirmRequest struct {
	Token    string `json:"token" validate:"required,max=256"`
	Password string `json:"password" validate:"required,max=1024"`
}

// RequestReset accepts a reset request. The answer is the same whether or
// not the account exists or the address is throttled.
// @Summary Request a password reset link
// @Accept json
// @Param request body PasswordResetRequest true "Reset request"
// @Success 202 {object} map[string]string
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /auth/password-reset [post]
func (h *PasswordResetHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, models.CodeInvalidInput, err.Error())
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeSecurityError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{"message": resetAcceptedMessage})
}

// ConfirmReset sets a new password using a mailed token
// @Router /auth/password-reset/confirm [post]
func (h *PasswordResetHandler) ConfirmReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, models.CodeInvalidInput, err.Error())
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeSecurityError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}
