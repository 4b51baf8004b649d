package api

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxSourceBytes int
	MaxBindings    int
	MaxTimeoutSecs int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxSourceBytes: 1024 * 1024, // 1MB
		MaxBindings:    32,
		MaxTimeoutSecs: 600,
	}
}

var logicalNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// ValidateRequest checks an ExecutionRequest for structural validity. It
// returns an *APIError describing the first failure, or nil. Policy checks
// are not performed here.
func ValidateRequest(req *ExecutionRequest, cfg ValidationConfig) *APIError {
	if req == nil {
		return NewInvalidRequestError("", "request body is required")
	}
	if !req.Runtime.Valid() {
		return NewInvalidRequestError("runtime",
			fmt.Sprintf("unsupported runtime %q", req.Runtime))
	}
	if req.SourceCode == "" {
		return NewInvalidRequestError("source_code", "source_code is required")
	}
	if cfg.MaxSourceBytes > 0 && len(req.SourceCode) > cfg.MaxSourceBytes {
		return NewInvalidRequestError("source_code",
			fmt.Sprintf("source_code exceeds maximum of %d bytes", cfg.MaxSourceBytes))
	}
	if !utf8.ValidString(req.SourceCode) {
		return NewInvalidRequestError("source_code", "source_code must be valid UTF-8")
	}
	if !ValidateSessionID(req.SessionID) {
		return NewInvalidRequestError("session_id", "session_id is missing or contains unsupported characters")
	}
	if req.TimeoutSeconds < 0 {
		return NewInvalidRequestError("timeout_seconds", "timeout_seconds must not be negative")
	}
	if cfg.MaxTimeoutSecs > 0 && req.TimeoutSeconds > cfg.MaxTimeoutSecs {
		return NewInvalidRequestError("timeout_seconds",
			fmt.Sprintf("timeout_seconds exceeds maximum of %d", cfg.MaxTimeoutSecs))
	}
	if cfg.MaxBindings > 0 && len(req.DatasetBindings) > cfg.MaxBindings {
		return NewInvalidRequestError("dataset_bindings",
			fmt.Sprintf("dataset_bindings exceeds maximum of %d", cfg.MaxBindings))
	}

	seen := make(map[string]bool, len(req.DatasetBindings))
	for i, b := range req.DatasetBindings {
		param := fmt.Sprintf("dataset_bindings[%d]", i)
		if !logicalNamePattern.MatchString(b.LogicalName) {
			return NewInvalidRequestError(param+".logical_name",
				fmt.Sprintf("logical_name %q is not a valid identifier", b.LogicalName))
		}
		if seen[b.LogicalName] {
			return NewInvalidRequestError(param+".logical_name",
				fmt.Sprintf("logical_name %q is bound more than once", b.LogicalName))
		}
		seen[b.LogicalName] = true
		if b.StorageReference == "" {
			return NewInvalidRequestError(param+".storage_reference", "storage_reference is required")
		}
	}
	return nil
}
