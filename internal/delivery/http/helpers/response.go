package helpers

import (
	"encoding/json"
	"errors"
	"net/http"

	"waitlistgate/internal/domain"
)

// Error codes for API error responses. Use these with WriteJSONError.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeForbidden     = "forbidden"
	ErrCodeNotFound      = "not_found"
	ErrCodeConflict      = "conflict"
	ErrCodeInvalidToken  = "invalid_token"
	ErrCodeTokenExpired  = "token_expired"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeUnavailable   = "unavailable"
	ErrCodeInternalError = "internal_error"
)

// APIError is the error object in the standardized API response envelope.
// swagger:model APIError
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIResponse is the standardized envelope for all API responses.
// On success: Data is set, Error is nil. On error: Data is nil, Error is set.
// swagger:model APIResponse
type APIResponse struct {
	Data  any       `json:"data"`
	Error *APIError `json:"error"`
}

// WriteJSONSuccess sets Content-Type to application/json, writes statusCode, and
// encodes an APIResponse with the given data and error set to nil.
func WriteJSONSuccess(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(APIResponse{Data: data, Error: nil})
}

// WriteJSONError sets Content-Type to application/json, writes statusCode, and
// encodes an APIResponse with data nil and the given error code and message.
func WriteJSONError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(APIResponse{
		Data:  nil,
		Error: &APIError{Code: code, Message: message},
	})
}

// StatusForError maps a domain error to an HTTP status, error code, and client-safe message.
// ok is false for errors with no client-facing mapping; callers log those and answer 500.
func StatusForError(err error) (status int, code, message string, ok bool) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, ErrCodeBadRequest, err.Error(), true
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "entry not found", true
	case errors.Is(err, domain.ErrAlreadyActivated):
		return http.StatusConflict, ErrCodeConflict, "entry already activated", true
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, ErrCodeConflict, err.Error(), true
	case errors.Is(err, domain.ErrDuplicateEmail):
		return http.StatusConflict, ErrCodeConflict, "email already registered", true
	case errors.Is(err, domain.ErrHandleTaken):
		return http.StatusConflict, ErrCodeConflict, "handle is not available", true
	case errors.Is(err, domain.ErrTokenExpired):
		return http.StatusUnauthorized, ErrCodeTokenExpired, "activation token expired", true
	case errors.Is(err, domain.ErrInvalidToken):
		return http.StatusUnauthorized, ErrCodeInvalidToken, "invalid activation token", true
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, ErrCodeUnauthorized, "invalid credentials", true
	case errors.Is(err, domain.ErrBackingStoreUnavailable):
		return http.StatusServiceUnavailable, ErrCodeUnavailable, "service temporarily unavailable", true
	}
	return http.StatusInternalServerError, ErrCodeInternalError, "internal error", false
}
