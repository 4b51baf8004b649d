package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/extract"
	"github.com/rhuss/antwort-sandbox/pkg/observability"
	"github.com/rhuss/antwort-sandbox/pkg/resolver"
	"github.com/rhuss/antwort-sandbox/pkg/runner"
)

const truncatedMarker = "\n...[truncated]"

// Resource limit names reported in ErrorDetail.Limit.
const (
	limitOutput   = "output size"
	limitCPU      = "CPU time"
	limitFileSize = "file size"
	limitMemory   = "memory"
)

// classify maps what the runner observed to a result. Timeouts and resource
// limits report only the aggregate facts; partial output is dropped.
func classify(rt api.Runtime, out *runner.Output, ex extract.Extraction, timeout time.Duration, logCap int) *api.ExecutionResult {
	res := &api.ExecutionResult{ExitCode: out.ExitCode}
	elapsed := out.Duration.Milliseconds()

	switch {
	case out.TimedOut:
		res.Status = api.StatusTimeout
		return withError(res, &api.ErrorDetail{
			Type:      "timeout",
			Message:   fmt.Sprintf("execution exceeded %s", timeout),
			ElapsedMs: elapsed,
			Limit:     timeout.String(),
		})
	case out.Cancelled:
		res.Status = api.StatusTimeout
		return withError(res, &api.ErrorDetail{
			Type:      "cancelled",
			Message:   "execution was cancelled",
			ElapsedMs: elapsed,
		})
	case out.OutputExceeded:
		observability.OutputTruncatedTotal.WithLabelValues(string(rt)).Inc()
		res.Truncated = true
		return resourceExceeded(res, limitOutput, elapsed)
	case out.Signal == "SIGXCPU":
		return resourceExceeded(res, limitCPU, elapsed)
	case out.Signal == "SIGXFSZ":
		return resourceExceeded(res, limitFileSize, elapsed)
	case out.Signal == "SIGKILL", ex.MemoryExhausted && out.ExitCode != 0:
		return resourceExceeded(res, limitMemory, elapsed)
	}

	res.StdoutLog = capHead(ex.Stdout, logCap)
	res.StderrLog = capTail(string(out.Stderr), logCap)

	if out.ExitCode == 0 && ex.Error == nil && !ex.Malformed {
		res.Status = api.StatusSuccess
		res.StructuredValue = ex.Value
		if res.StructuredValue == nil {
			res.StructuredValue = &api.StructuredValue{Kind: api.ValueKindNone}
		}
		return res
	}

	res.Status = api.StatusRuntimeError
	detail := ex.Error
	if detail == nil {
		detail = &api.ErrorDetail{
			Type:    "malformed_result",
			Message: "the result frame could not be decoded",
		}
	}
	if detail.Package == "" && !detail.Deliberate {
		if pkg, ok := resolver.MissingPackage(rt, out.Stderr); ok {
			detail.Package = pkg
		}
	}
	return withError(res, detail)
}

func resourceExceeded(res *api.ExecutionResult, limit string, elapsed int64) *api.ExecutionResult {
	res.Status = api.StatusResourceExceeded
	return withError(res, &api.ErrorDetail{
		Type:      "resource_exceeded",
		Message:   fmt.Sprintf("execution exceeded the %s limit", limit),
		ElapsedMs: elapsed,
		Limit:     limit,
	})
}

// errorResult builds a runtime_error for failures outside the user code,
// such as a dataset that cannot be staged.
func errorResult(typ, msg string) *api.ExecutionResult {
	return withError(&api.ExecutionResult{Status: api.StatusRuntimeError, ExitCode: -1},
		&api.ErrorDetail{Type: typ, Message: msg})
}

func withError(res *api.ExecutionResult, d *api.ErrorDetail) *api.ExecutionResult {
	res.StructuredValue = &api.StructuredValue{Kind: api.ValueKindError, Error: d}
	return res
}

func errorDetail(res *api.ExecutionResult) *api.ErrorDetail {
	if res.StructuredValue == nil {
		return nil
	}
	return res.StructuredValue.Error
}

// capHead keeps the first n bytes of s.
func capHead(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + truncatedMarker
}

// capTail keeps the last n bytes of s; the end of stderr carries the error.
func capTail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return "...[truncated]\n" + strings.ToValidUTF8(s[len(s)-n:], "")
}
