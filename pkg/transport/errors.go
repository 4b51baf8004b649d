package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/artifacts"
	"github.com/rhuss/antwort-sandbox/pkg/engine"
	"github.com/rhuss/antwort-sandbox/pkg/storage"
)

// ErrorFrom maps err to an APIError. Errors without a mapping become
// server errors whose message does not leak internals.
func ErrorFrom(err error) *api.APIError {
	var apiErr *api.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, engine.ErrSessionNotFound):
		return api.NewNotFoundError("session not found")
	case errors.Is(err, engine.ErrExecutionNotFound):
		return api.NewNotFoundError("execution not found or already finished")
	case errors.Is(err, artifacts.ErrNotFound):
		return api.NewNotFoundError("artifact not found")
	case errors.Is(err, storage.ErrNotFound):
		return api.NewNotFoundError("not found")
	case errors.Is(err, engine.ErrNotMaterialized):
		return api.NewConflictError("artifact exceeds the size ceiling and is available as metadata only")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return api.NewUnavailableError("request cancelled")
	}
	slog.Error("unmapped service error", "error", err)
	return api.NewServerError("internal error")
}

// WriteErrorResponse writes apiErr as a JSON ErrorResponse with status.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteError maps err and writes it with the matching status.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := ErrorFrom(err)
	WriteErrorResponse(w, apiErr, api.HTTPStatus(apiErr))
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response body", "error", err)
	}
}
