package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// LoginService is the login orchestrator as seen by HTTP
type LoginService interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	Logout(ctx context.Context, uid string) error
}

// AttemptInfoProvider projects rate limit state for UI feedback
type AttemptInfoProvider interface {
	GetAttemptInfo(ctx context.Context, identifier string) (*models.AttemptInfo, error)
}

// AuthHandler handles login and logout
type AuthHandler struct {
	service  LoginService
	attempts AttemptInfoProvider
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service LoginService, attempts AttemptInfoProvider, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		attempts: attempts,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// AttemptInfoRequest represents the request body for attempt feedback
type AttemptInfoRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// Login handles admin login
// @Summary Admin login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.LoginResult
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, models.CodeInvalidInput, err.Error())
		return
	}

	hints := pkghttp.ExtractClientHints(r, h.ipConfig)
	result, err := h.service.Login(r.Context(), services.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		Client: models.ClientInfo{
			IPAddress:      hints.IPAddress,
			UserAgent:      hints.UserAgent,
			AcceptLanguage: hints.AcceptLanguage,
			Platform:       hints.Platform,
			Timezone:       hints.Timezone,
		},
	})
	if err != nil {
		writeSecurityError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Logout signs the caller out, which also ends their idle session
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.Logout(r.Context(), claims.UserID); err != nil {
		writeSecurityError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// AttemptInfo reports remaining attempts for an e-mail address
// @Router /auth/attempts [post]
func (h *AuthHandler) AttemptInfo(w http.ResponseWriter, r *http.Request) {
	var req AttemptInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, models.CodeInvalidInput, err.Error())
		return
	}

	info, err := h.attempts.GetAttemptInfo(r.Context(), pkgauth.EmailIdentifier(req.Email))
	if err != nil {
		h.logger.Error("failed to load attempt info", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, info)
}
