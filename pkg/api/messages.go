package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// StatusMessage returns the stable, human-readable message for a status.
// The agent layer can present it verbatim.
func StatusMessage(s Status, detail *ErrorDetail) string {
	switch s {
	case StatusSuccess:
		return "Execution completed successfully."
	case StatusPolicyRejected:
		return "Execution was rejected by the sandbox policy before running."
	case StatusTimeout:
		if detail != nil && detail.Limit != "" {
			return fmt.Sprintf("Execution exceeded the time limit of %s and was stopped.", detail.Limit)
		}
		return "Execution exceeded the time limit and was stopped."
	case StatusResourceExceeded:
		if detail != nil && detail.Limit != "" {
			return fmt.Sprintf("Execution exceeded the %s limit and was stopped.", detail.Limit)
		}
		return "Execution exceeded a resource limit and was stopped."
	case StatusRuntimeError:
		if detail != nil && detail.Package != "" {
			return fmt.Sprintf("Execution failed: required package %q is not available.", detail.Package)
		}
		if detail != nil && detail.Deliberate {
			return "Execution stopped with an error raised by the code."
		}
		return "Execution failed with a runtime error."
	}
	return string(s)
}

const previewLen = 200

// Summarize builds the loggable summary of a request.
func Summarize(req *ExecutionRequest) RequestSummary {
	sum := sha256.Sum256([]byte(req.SourceCode))
	s := RequestSummary{
		Runtime:       req.Runtime,
		SourcePreview: truncateRunes(req.SourceCode, previewLen),
		SourceSHA256:  hex.EncodeToString(sum[:]),
		AllowInstall:  req.AllowInstall,
	}
	for _, b := range req.DatasetBindings {
		s.Datasets = append(s.Datasets, b.LogicalName)
	}
	return s
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
