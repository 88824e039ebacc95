package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/domain"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/response"
)

// writeServiceError maps domain errors onto stable codes. Anything unknown
// is logged and reported as INTERNAL without leaking the cause.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, clientMessage(err), nil)
	case errors.Is(err, domain.ErrFlagNotFound):
		response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "feature flag not found", nil)
	case errors.Is(err, domain.ErrApprovalNotFound):
		response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "approval not found", nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		response.Error(w, r, http.StatusConflict, response.CodeInvalidTransition, clientMessage(err), nil)
	case errors.Is(err, domain.ErrApprovalConflict):
		response.Error(w, r, http.StatusConflict, response.CodeApprovalConflict, clientMessage(err), nil)
	default:
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrInvariantViolation) {
			level = slog.LevelError
		}
		slog.Default().Log(r.Context(), level, fallback, "error", err, "path", r.URL.Path)
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, fallback, nil)
	}
}

// clientMessage drops the sentinel prefix, leaving the detail.
func clientMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}
