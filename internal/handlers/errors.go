package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// writeSecurityError maps the login error taxonomy onto HTTP status codes.
// Authentication failures always carry the same generic message.
func writeSecurityError(w http.ResponseWriter, logger *slog.Logger, err error) {
	se, ok := models.AsSecurityError(err)
	if !ok {
		logger.Error("unclassified error", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	switch se.Kind {
	case models.KindValidation:
		pkghttp.WriteError(w, http.StatusBadRequest, se.Code, se.UserMessage)
	case models.KindAuthentication:
		pkghttp.WriteError(w, http.StatusUnauthorized, se.Code, "Authentication failed")
	case models.KindRateLimit:
		pkghttp.WriteRetryAfter(w, se.Code, se.UserMessage, se.RetryAfter)
	default:
		logger.Error("login failed with internal error",
			slog.String("code", se.Code),
			slog.String("severity", string(se.Severity)),
			slog.Any("error", se.Err))
		pkghttp.WriteError(w, http.StatusInternalServerError, models.CodeInternal, se.UserMessage)
	}
}

// writeStoreError maps repository sentinels for the dashboard endpoints
func writeStoreError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidSecurityEvent):
		pkghttp.WriteBadRequest(w, "Invalid event filter")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Security event not found")
	default:
		logger.Error("security dashboard request failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
