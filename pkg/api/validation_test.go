package api

import (
	"strings"
	"testing"
)

func validRequest() *ExecutionRequest {
	return &ExecutionRequest{
		Runtime:    RuntimePython,
		SourceCode: "result = 2 + 2",
		SessionID:  "s1",
	}
}

func TestValidateRequest(t *testing.T) {
	cfg := DefaultValidationConfig()

	tests := []struct {
		name      string
		modify    func(r *ExecutionRequest)
		wantParam string
	}{
		{name: "valid", modify: func(r *ExecutionRequest) {}},
		{
			name:      "unknown runtime",
			modify:    func(r *ExecutionRequest) { r.Runtime = "julia" },
			wantParam: "runtime",
		},
		{
			name:      "empty source",
			modify:    func(r *ExecutionRequest) { r.SourceCode = "" },
			wantParam: "source_code",
		},
		{
			name:      "oversized source",
			modify:    func(r *ExecutionRequest) { r.SourceCode = strings.Repeat("x", cfg.MaxSourceBytes+1) },
			wantParam: "source_code",
		},
		{
			name:      "invalid utf8",
			modify:    func(r *ExecutionRequest) { r.SourceCode = "x = '\xff'" },
			wantParam: "source_code",
		},
		{
			name:      "missing session",
			modify:    func(r *ExecutionRequest) { r.SessionID = "" },
			wantParam: "session_id",
		},
		{
			name:      "path traversal session",
			modify:    func(r *ExecutionRequest) { r.SessionID = "../x" },
			wantParam: "session_id",
		},
		{
			name:      "negative timeout",
			modify:    func(r *ExecutionRequest) { r.TimeoutSeconds = -1 },
			wantParam: "timeout_seconds",
		},
		{
			name:      "timeout above max",
			modify:    func(r *ExecutionRequest) { r.TimeoutSeconds = cfg.MaxTimeoutSecs + 1 },
			wantParam: "timeout_seconds",
		},
		{
			name: "valid binding",
			modify: func(r *ExecutionRequest) {
				r.DatasetBindings = []DatasetBinding{{LogicalName: "sales", StorageReference: "sales.csv"}}
			},
		},
		{
			name: "bad logical name",
			modify: func(r *ExecutionRequest) {
				r.DatasetBindings = []DatasetBinding{{LogicalName: "1sales", StorageReference: "sales.csv"}}
			},
			wantParam: "dataset_bindings[0].logical_name",
		},
		{
			name: "duplicate logical name",
			modify: func(r *ExecutionRequest) {
				r.DatasetBindings = []DatasetBinding{
					{LogicalName: "df", StorageReference: "a.csv"},
					{LogicalName: "df", StorageReference: "b.csv"},
				}
			},
			wantParam: "dataset_bindings[1].logical_name",
		},
		{
			name: "missing reference",
			modify: func(r *ExecutionRequest) {
				r.DatasetBindings = []DatasetBinding{{LogicalName: "df"}}
			},
			wantParam: "dataset_bindings[0].storage_reference",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.modify(req)
			err := ValidateRequest(req, cfg)
			if tt.wantParam == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error for param %q", tt.wantParam)
			}
			if err.Param != tt.wantParam {
				t.Errorf("param = %q, want %q", err.Param, tt.wantParam)
			}
			if err.Type != ErrorTypeInvalidRequest {
				t.Errorf("type = %q, want invalid_request", err.Type)
			}
		})
	}
}

func TestValidateRequestNil(t *testing.T) {
	if err := ValidateRequest(nil, DefaultValidationConfig()); err == nil {
		t.Fatal("expected error for nil request")
	}
}
