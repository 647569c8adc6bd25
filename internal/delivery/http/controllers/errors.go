package controllers

import (
	"log/slog"
	"net/http"

	"waitlistgate/internal/delivery/http/helpers"
)

// writeServiceError maps err to the API envelope. Unmapped errors are logged and answered with 500.
func writeServiceError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, ok := helpers.StatusForError(err)
	if !ok || status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "method", r.Method, "err", err)
	}
	helpers.WriteJSONError(w, status, code, message)
}

// pathUUID reads a UUID path parameter, writing a 400 when it is malformed.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id, err := parseUUID(r.PathValue(name))
	if err != nil {
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, name+" must be a valid UUID")
		return "", false
	}
	return id, true
}
