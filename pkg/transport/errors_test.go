package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/artifacts"
	"github.com/rhuss/antwort-sandbox/pkg/engine"
	"github.com/rhuss/antwort-sandbox/pkg/storage"
)

func TestErrorFrom(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantType   api.ErrorType
		wantStatus int
	}{
		{"api error passes through", api.NewInvalidRequestError("runtime", "bad"), api.ErrorTypeInvalidRequest, http.StatusBadRequest},
		{"session not found", engine.ErrSessionNotFound, api.ErrorTypeNotFound, http.StatusNotFound},
		{"wrapped session not found", fmt.Errorf("lookup: %w", engine.ErrSessionNotFound), api.ErrorTypeNotFound, http.StatusNotFound},
		{"execution not found", engine.ErrExecutionNotFound, api.ErrorTypeNotFound, http.StatusNotFound},
		{"artifact not found", artifacts.ErrNotFound, api.ErrorTypeNotFound, http.StatusNotFound},
		{"history cursor not found", storage.ErrNotFound, api.ErrorTypeNotFound, http.StatusNotFound},
		{"not materialized", engine.ErrNotMaterialized, api.ErrorTypeConflict, http.StatusConflict},
		{"cancelled", context.Canceled, api.ErrorTypeUnavailable, http.StatusServiceUnavailable},
		{"unknown", errors.New("disk on fire at /var/lib/x"), api.ErrorTypeServerError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ErrorFrom(tt.err)
			if got.Type != tt.wantType {
				t.Errorf("type = %q, want %q", got.Type, tt.wantType)
			}
			if s := api.HTTPStatus(got); s != tt.wantStatus {
				t.Errorf("status = %d, want %d", s, tt.wantStatus)
			}
		})
	}
}

func TestErrorFromHidesInternals(t *testing.T) {
	got := ErrorFrom(errors.New("open /var/lib/secret: permission denied"))
	if strings.Contains(got.Message, "/var/lib") {
		t.Errorf("message leaks internals: %q", got.Message)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, engine.ErrSessionNotFound)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Type != api.ErrorTypeNotFound {
		t.Errorf("body = %+v", resp.Error)
	}
}
