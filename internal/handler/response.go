package handler

// RESPONSE HELPERS:
// Every JSON handler goes through writeJSON and writeError, so every error
// body has the same shape:
//
//	{"error": "duplicate", "message": "Este registro já foi reconhecido."}
//
// The message is the same text a connected client would see as a
// notification, so the page can show it as is.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/crono-esfera/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
// Headers and status go out before the body; later header changes are lost.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorMapping pairs a sentinel with its HTTP status. Order matters: the
// first sentinel found in the chain wins.
var errorMapping = []struct {
	target error
	status int
	kind   string
}{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrDuplicate, http.StatusConflict, "duplicate"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
	{apperror.ErrBackendWrite, http.StatusBadGateway, "backend_error"},
}

// writeError maps a domain error to the appropriate HTTP status code and
// sends it. Services never know about HTTP; this is the only translation.
//
// errors.As extracts the *AppError for its message; errors.Is then walks
// the chain for the sentinel, including the joined cause of BackendWrite.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, kind := http.StatusInternalServerError, "internal_error"
		for _, m := range errorMapping {
			if errors.Is(err, m.target) {
				status, kind = m.status, m.kind
				break
			}
		}
		writeJSON(w, status, ErrorResponse{Error: kind, Message: appErr.Message})
		return
	}

	// Unknown error: never expose internals to the client.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
