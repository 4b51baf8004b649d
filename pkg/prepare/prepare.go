package prepare

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/rhuss/antwort-sandbox/pkg/api"
)

var (
	// ErrUnsupportedBinding is returned when a dataset's extension has no
	// loader for the runtime.
	ErrUnsupportedBinding = errors.New("unsupported dataset format")

	// ErrInvalidBinding is returned when a logical name cannot be bound.
	ErrInvalidBinding = errors.New("invalid dataset binding")

	// ErrNotAllowed is returned when asked to prepare a rejected source.
	ErrNotAllowed = errors.New("policy decision does not allow execution")
)

const (
	// HarnessDir holds generated files inside the execution directory.
	HarnessDir = ".sandbox"
	// DatasetDir holds staged read-only dataset copies.
	DatasetDir = "datasets"

	// ResultVariable is the name user code assigns its result to.
	ResultVariable = "result"

	DefaultPreviewRows = 20
)

// Script is a complete harness ready to be written and executed.
type Script struct {
	Runtime api.Runtime
	// Path is relative to the execution directory.
	Path     string
	Source   string
	Nonce    string
	Datasets []StagedDataset
}

// Stdin is the input the interpreter must be started with. The harness
// reads the nonce from it before any user code runs and keeps it only in
// the emitter's closure.
func (s *Script) Stdin() []byte {
	return []byte(s.Nonce + "\n")
}

// StagedDataset tells the caller where to copy a binding before running.
type StagedDataset struct {
	LogicalName      string
	StorageReference string
	// Path is relative to the execution directory.
	Path string
}

// Preparer builds harness scripts.
type Preparer struct {
	previewRows int
}

// New returns a Preparer that bounds table previews to previewRows rows.
func New(previewRows int) *Preparer {
	if previewRows <= 0 {
		previewRows = DefaultPreviewRows
	}
	return &Preparer{previewRows: previewRows}
}

type runtimeTemplate struct {
	file     string
	formats  []string
	reserved []string
	build    func(p *Preparer, datasets []StagedDataset, source string) string
}

var templates = map[api.Runtime]runtimeTemplate{
	api.RuntimePython: {
		file:     "main.py",
		formats:  []string{".csv", ".tsv", ".json", ".jsonl", ".parquet", ".feather", ".xlsx", ".xls", ".txt"},
		reserved: pythonReserved,
		build:    (*Preparer).python,
	},
	api.RuntimeR: {
		file:     "main.R",
		formats:  []string{".csv", ".tsv", ".json", ".rds", ".parquet", ".feather", ".txt"},
		reserved: rReserved,
		build:    (*Preparer).r,
	},
}

// SupportedFormats lists the dataset extensions rt can load.
func SupportedFormats(rt api.Runtime) []string {
	return slices.Clone(templates[rt].formats)
}

// Prepare builds the harness for req. The decision must allow execution;
// its rewritten source, when present, replaces the request source.
func (p *Preparer) Prepare(req *api.ExecutionRequest, decision *api.PolicyDecision, nonce string) (*Script, error) {
	if decision == nil || !decision.Allowed {
		return nil, ErrNotAllowed
	}
	tmpl, ok := templates[req.Runtime]
	if !ok {
		return nil, fmt.Errorf("unsupported runtime %q", req.Runtime)
	}

	datasets := make([]StagedDataset, 0, len(req.DatasetBindings))
	for _, b := range req.DatasetBindings {
		if slices.Contains(tmpl.reserved, b.LogicalName) || strings.HasPrefix(b.LogicalName, "_sbx") || strings.HasPrefix(b.LogicalName, ".sbx") {
			return nil, fmt.Errorf("%w: %q is reserved by the harness", ErrInvalidBinding, b.LogicalName)
		}
		ext := strings.ToLower(path.Ext(b.StorageReference))
		if !slices.Contains(tmpl.formats, ext) {
			return nil, fmt.Errorf("%w: %q (%s) cannot be loaded by the %s runtime", ErrUnsupportedBinding, b.LogicalName, extOrNone(ext), req.Runtime)
		}
		datasets = append(datasets, StagedDataset{
			LogicalName:      b.LogicalName,
			StorageReference: b.StorageReference,
			Path:             path.Join(DatasetDir, b.LogicalName+ext),
		})
	}

	source := decision.EffectiveSource(req.SourceCode)
	return &Script{
		Runtime:  req.Runtime,
		Path:     path.Join(HarnessDir, tmpl.file),
		Source:   tmpl.build(p, datasets, source),
		Nonce:    nonce,
		Datasets: datasets,
	}, nil
}

func extOrNone(ext string) string {
	if ext == "" {
		return "no extension"
	}
	return ext
}

// literal quotes s as a string literal. JSON string syntax is valid in
// both Python and R.
func literal(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
