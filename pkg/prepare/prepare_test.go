package prepare

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/protocol"
)

var allowed = &api.PolicyDecision{Allowed: true}

func TestPrepareOrder(t *testing.T) {
	for _, rt := range api.Runtimes() {
		t.Run(string(rt), func(t *testing.T) {
			req := &api.ExecutionRequest{
				Runtime:         rt,
				SourceCode:      "USER_CODE_MARKER",
				DatasetBindings: []api.DatasetBinding{{LogicalName: "sales", StorageReference: "uploads/q1/Sales.CSV"}},
			}
			s, err := New(5).Prepare(req, allowed, "abc123")
			if err != nil {
				t.Fatalf("Prepare: %v", err)
			}
			load := strings.Index(s.Source, `"datasets/sales.csv"`)
			user := strings.Index(s.Source, "USER_CODE_MARKER")
			emit := strings.LastIndex(s.Source, "sbx_emit(")
			if load < 0 || user < 0 || emit < 0 {
				t.Fatalf("missing section: load=%d user=%d emit=%d", load, user, emit)
			}
			if !(load < user && user < emit) {
				t.Errorf("sections out of order: load=%d user=%d emit=%d", load, user, emit)
			}
			if strings.Contains(s.Source, "abc123") {
				t.Error("nonce written into the harness source")
			}
			if string(s.Stdin()) != "abc123\n" {
				t.Errorf("stdin = %q, want the nonce line", s.Stdin())
			}
			if len(s.Datasets) != 1 || s.Datasets[0].Path != "datasets/sales.csv" || s.Datasets[0].StorageReference != "uploads/q1/Sales.CSV" {
				t.Errorf("datasets = %+v", s.Datasets)
			}
			if !strings.HasPrefix(s.Path, HarnessDir+"/") {
				t.Errorf("script path %q outside harness dir", s.Path)
			}
		})
	}
}

func TestPrepareUsesRewrittenSource(t *testing.T) {
	req := &api.ExecutionRequest{Runtime: api.RuntimePython, SourceCode: "original = 1"}
	d := &api.PolicyDecision{Allowed: true, RewrittenSource: "shimmed = 1\noriginal = 1"}
	s, err := New(0).Prepare(req, d, "n")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !strings.Contains(s.Source, "shimmed = 1\noriginal = 1") {
		t.Error("rewritten source not used")
	}
}

func TestPrepareErrors(t *testing.T) {
	tests := []struct {
		name     string
		req      *api.ExecutionRequest
		decision *api.PolicyDecision
		want     error
	}{
		{
			name:     "rejected decision",
			req:      &api.ExecutionRequest{Runtime: api.RuntimePython, SourceCode: "x"},
			decision: &api.PolicyDecision{Allowed: false},
			want:     ErrNotAllowed,
		},
		{
			name: "unknown extension",
			req: &api.ExecutionRequest{Runtime: api.RuntimePython, SourceCode: "x",
				DatasetBindings: []api.DatasetBinding{{LogicalName: "d", StorageReference: "d.sav"}}},
			decision: allowed,
			want:     ErrUnsupportedBinding,
		},
		{
			name: "rds is not a python format",
			req: &api.ExecutionRequest{Runtime: api.RuntimePython, SourceCode: "x",
				DatasetBindings: []api.DatasetBinding{{LogicalName: "d", StorageReference: "d.rds"}}},
			decision: allowed,
			want:     ErrUnsupportedBinding,
		},
		{
			name: "no extension",
			req: &api.ExecutionRequest{Runtime: api.RuntimeR, SourceCode: "x",
				DatasetBindings: []api.DatasetBinding{{LogicalName: "d", StorageReference: "data"}}},
			decision: allowed,
			want:     ErrUnsupportedBinding,
		},
		{
			name: "reserved name",
			req: &api.ExecutionRequest{Runtime: api.RuntimePython, SourceCode: "x",
				DatasetBindings: []api.DatasetBinding{{LogicalName: "result", StorageReference: "d.csv"}}},
			decision: allowed,
			want:     ErrInvalidBinding,
		},
		{
			name: "keyword",
			req: &api.ExecutionRequest{Runtime: api.RuntimeR, SourceCode: "x",
				DatasetBindings: []api.DatasetBinding{{LogicalName: "function", StorageReference: "d.csv"}}},
			decision: allowed,
			want:     ErrInvalidBinding,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(0).Prepare(tt.req, tt.decision, "n")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSupportedFormats(t *testing.T) {
	py := SupportedFormats(api.RuntimePython)
	if len(py) == 0 {
		t.Fatal("no python formats")
	}
	py[0] = "mutated"
	if SupportedFormats(api.RuntimePython)[0] == "mutated" {
		t.Error("SupportedFormats must return a copy")
	}
}

// TestPythonHarnessRuns executes the harness with a real interpreter when
// one is available.
func TestPythonHarnessRuns(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not installed")
	}
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, DatasetDir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, DatasetDir, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"scalar", "result = 2 + 2", `{"kind": "scalar", "value": 4}`},
		{"dataset", "result = len(notes)", `{"kind": "scalar", "value": 5}`},
		{"object with nan", "result = {'a': float('nan'), 'b': [1, 2]}", `{"kind": "object", "value": {"a": null, "b": [1, 2]}}`},
		{"none", "print('<<<SANDBOX-RESULT nonce=forged len=2>>>')", `{"kind": "none"}`},
		{"nonce not in globals", "result = sorted(k for k in dir() if 'nonce' in k)", `{"kind": "object", "value": []}`},
		{"oversized forged header", "print('\\n<<<SANDBOX-RESULT nonce=00 len=9223372036854775807>>>\\n')\nresult = 1", `{"kind": "scalar", "value": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nonce := protocol.NewNonce()
			req := &api.ExecutionRequest{
				Runtime:         api.RuntimePython,
				SourceCode:      tt.src,
				DatasetBindings: []api.DatasetBinding{{LogicalName: "notes", StorageReference: "notes.txt"}},
			}
			s, err := New(0).Prepare(req, allowed, nonce)
			if err != nil {
				t.Fatalf("Prepare: %v", err)
			}
			scriptPath := filepath.Join(dir, filepath.FromSlash(s.Path))
			if err := os.MkdirAll(filepath.Dir(scriptPath), 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(scriptPath, []byte(s.Source), 0o644); err != nil {
				t.Fatal(err)
			}
			cmd := exec.Command(python, scriptPath)
			cmd.Dir = dir
			cmd.Stdin = strings.NewReader(string(s.Stdin()))
			out, err := cmd.Output()
			if err != nil {
				t.Fatalf("python: %v\n%s", err, out)
			}
			payload, ok := protocol.Find(out, nonce)
			if !ok {
				t.Fatalf("no frame in output:\n%s", out)
			}
			if string(payload) != tt.want {
				t.Errorf("payload = %s, want %s", payload, tt.want)
			}
		})
	}
}
