// Package extract turns raw subprocess output into a structured value or an
// error summary. It never fails: malformed structured output degrades to
// the stderr fallback.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/debug"
	"github.com/rhuss/antwort-sandbox/pkg/protocol"
)

// TailLines is how many trailing stderr lines an error summary keeps.
const TailLines = 12

// Raw is the captured output of one process.
type Raw struct {
	Runtime  api.Runtime
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Extraction is the result of Extract.
type Extraction struct {
	// Value is the decoded frame, or nil when none was usable.
	Value *api.StructuredValue
	// Error is set when the frame carried an error or, without a usable
	// frame, when stderr looks like a failure.
	Error *api.ErrorDetail
	// Stdout is the program output with result frames removed.
	Stdout string
	// MemoryExhausted is set when stderr shows an allocation failure.
	MemoryExhausted bool
	// Malformed is set when a frame was present but could not be decoded.
	Malformed bool
}

// Extract locates the last frame for nonce and decodes it. Table previews
// are bounded to previewRows.
func Extract(raw Raw, nonce string, previewRows int) Extraction {
	ex := Extraction{Stdout: string(protocol.Strip(raw.Stdout, nonce))}
	ex.MemoryExhausted = memoryExhausted(raw.Stderr)

	if payload, ok := protocol.Find(raw.Stdout, nonce); ok {
		v, err := decode(payload, previewRows)
		if err == nil {
			ex.Value = v
			if v.Kind == api.ValueKindError {
				ex.Error = v.Error
			}
			return ex
		}
		ex.Malformed = true
		debug.Log("extract", "malformed frame", "error", err, "bytes", len(payload))
	}

	if raw.ExitCode != 0 || (ex.Malformed && len(bytes.TrimSpace(raw.Stderr)) > 0) {
		ex.Error = Summarize(raw.Runtime, raw.Stderr)
	}
	return ex
}

type wireValue struct {
	Kind  api.ValueKind    `json:"kind"`
	Value any              `json:"value"`
	Table *wireTable       `json:"table"`
	Error *api.ErrorDetail `json:"error"`
}

type wireTable struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	TotalRows *int     `json:"total_rows"`
}

func decode(payload []byte, previewRows int) (*api.StructuredValue, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var w wireValue
	if err := dec.Decode(&w); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after payload")
	}

	switch w.Kind {
	case api.ValueKindNone:
		return &api.StructuredValue{Kind: api.ValueKindNone}, nil
	case api.ValueKindScalar:
		v := normalize(w.Value)
		switch v.(type) {
		case nil, bool, int64, float64, string:
		default:
			return nil, fmt.Errorf("scalar has composite value %T", v)
		}
		return &api.StructuredValue{Kind: api.ValueKindScalar, Value: v}, nil
	case api.ValueKindObject:
		return &api.StructuredValue{Kind: api.ValueKindObject, Value: normalize(w.Value)}, nil
	case api.ValueKindTable:
		if w.Table == nil || w.Table.Columns == nil {
			return nil, errors.New("table without columns")
		}
		rows := w.Table.Rows
		if rows == nil {
			rows = [][]any{}
		}
		total := len(rows)
		if w.Table.TotalRows != nil && *w.Table.TotalRows >= total {
			total = *w.Table.TotalRows
		}
		if previewRows > 0 && len(rows) > previewRows {
			rows = rows[:previewRows]
		}
		for i, row := range rows {
			for j, cell := range row {
				rows[i][j] = normalize(cell)
			}
		}
		return &api.StructuredValue{Kind: api.ValueKindTable, Table: &api.TablePreview{
			Columns:   w.Table.Columns,
			Rows:      rows,
			TotalRows: total,
		}}, nil
	case api.ValueKindError:
		if w.Error == nil || w.Error.Message == "" {
			return nil, errors.New("error without message")
		}
		return &api.StructuredValue{Kind: api.ValueKindError, Error: w.Error}, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", w.Kind)
	}
}

// normalize converts json.Number to int64 when integral, float64 otherwise.
func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if !strings.ContainsAny(x.String(), ".eE") {
			if i, err := x.Int64(); err == nil {
				return i
			}
		}
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	default:
		return v
	}
}

var (
	pyExceptionLine = regexp.MustCompile(`^([A-Za-z_][\w.]*(?:Error|Exception|Exit|Interrupt|Warning|Iteration|Fault))(?::\s?(.*))?$`)
	rErrorLine      = regexp.MustCompile(`^Error(?: in (.*?))?\s*:\s*(.*)$`)
	memoryPattern   = regexp.MustCompile(`\bMemoryError\b|cannot allocate vector of size|cannot allocate memory|std::bad_alloc|Cannot allocate memory`)
)

func memoryExhausted(stderr []byte) bool {
	return memoryPattern.Match(stderr)
}

// Summarize classifies the tail of stderr into an error detail.
func Summarize(rt api.Runtime, stderr []byte) *api.ErrorDetail {
	lines := tail(stderr, TailLines)
	d := &api.ErrorDetail{Type: "runtime_error", Lines: lines}
	if len(lines) == 0 {
		d.Message = "process exited without output"
		return d
	}

	switch rt {
	case api.RuntimePython:
		for i := len(lines) - 1; i >= 0; i-- {
			if m := pyExceptionLine.FindStringSubmatch(lines[i]); m != nil {
				d.Type, d.Message = m[1], m[2]
				if d.Message == "" {
					d.Message = m[1]
				}
				return d
			}
		}
	case api.RuntimeR:
		for i := len(lines) - 1; i >= 0; i-- {
			if m := rErrorLine.FindStringSubmatch(lines[i]); m != nil {
				d.Type = "r_error"
				msg := m[2]
				// R wraps long messages onto the following lines.
				for _, next := range lines[i+1:] {
					if next == "Execution halted" || strings.HasPrefix(next, "Calls:") || strings.HasPrefix(next, "In addition:") {
						break
					}
					msg = strings.TrimSpace(msg + " " + strings.TrimSpace(next))
				}
				d.Message = strings.TrimSpace(msg)
				if d.Message == "" {
					d.Message = strings.TrimSpace(lines[i])
				}
				return d
			}
		}
	}
	d.Message = lines[len(lines)-1]
	return d
}

// tail returns up to n trailing non-empty lines.
func tail(b []byte, n int) []string {
	all := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	var lines []string
	for i := len(all) - 1; i >= 0 && len(lines) < n; i-- {
		if l := strings.TrimRight(all[i], " \t"); strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines
}
