package api

import (
	"strings"
	"testing"
)

func TestStatusMessageStable(t *testing.T) {
	statuses := []Status{StatusSuccess, StatusPolicyRejected, StatusRuntimeError, StatusTimeout, StatusResourceExceeded}
	for _, s := range statuses {
		a := StatusMessage(s, nil)
		b := StatusMessage(s, nil)
		if a == "" || a != b {
			t.Errorf("StatusMessage(%s) not stable: %q vs %q", s, a, b)
		}
	}
}

func TestStatusMessageDetail(t *testing.T) {
	msg := StatusMessage(StatusRuntimeError, &ErrorDetail{Package: "polars"})
	if !strings.Contains(msg, `"polars"`) {
		t.Errorf("message %q does not name the package", msg)
	}
	msg = StatusMessage(StatusTimeout, &ErrorDetail{Limit: "5s"})
	if !strings.Contains(msg, "5s") {
		t.Errorf("message %q does not name the limit", msg)
	}
}

func TestSummarize(t *testing.T) {
	req := &ExecutionRequest{
		Runtime:    RuntimeR,
		SourceCode: strings.Repeat("é", 300),
		DatasetBindings: []DatasetBinding{
			{LogicalName: "a", StorageReference: "a.csv"},
			{LogicalName: "b", StorageReference: "b.rds"},
		},
	}
	s := Summarize(req)
	if s.Runtime != RuntimeR {
		t.Errorf("runtime = %s", s.Runtime)
	}
	if got := len([]rune(s.SourcePreview)); got != previewLen+3 {
		t.Errorf("preview rune length = %d, want %d", got, previewLen+3)
	}
	if len(s.SourceSHA256) != 64 {
		t.Errorf("sha256 length = %d", len(s.SourceSHA256))
	}
	if len(s.Datasets) != 2 || s.Datasets[0] != "a" || s.Datasets[1] != "b" {
		t.Errorf("datasets = %v", s.Datasets)
	}
}

func TestRequestRecoveryIsOneShot(t *testing.T) {
	req := validRequest()
	if !req.ConsumeRecovery() {
		t.Fatal("first recovery should be granted")
	}
	if req.ConsumeRecovery() {
		t.Fatal("second recovery must be refused")
	}
	clone := req.Clone()
	if clone.Recoveries() != 0 {
		t.Errorf("clone recoveries = %d, want 0", clone.Recoveries())
	}
}
