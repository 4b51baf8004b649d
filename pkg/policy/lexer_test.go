package policy

import (
	"errors"
	"strings"
	"testing"

	"github.com/rhuss/antwort-sandbox/pkg/api"
)

func TestLexPreservesLayout(t *testing.T) {
	src := "x = 'a\\'b'  # note\ny = \"\"\"multi\nline\"\"\"\n"
	v, err := lex(api.RuntimePython, src)
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	if len(v.code) != len(src) || len(v.literal) != len(src) {
		t.Fatalf("views changed length: code=%d literal=%d src=%d", len(v.code), len(v.literal), len(src))
	}
	if strings.Count(v.code, "\n") != strings.Count(src, "\n") {
		t.Error("code view lost newlines")
	}
	if strings.Contains(v.code, "note") || strings.Contains(v.literal, "note") {
		t.Error("comment survived")
	}
	if strings.Contains(v.code, "multi") {
		t.Error("string content survived in code view")
	}
	if !strings.Contains(v.literal, "multi") {
		t.Error("string content missing from literal view")
	}
}

func TestLexPythonFStringBodyIsCode(t *testing.T) {
	v, err := lex(api.RuntimePython, `s = f"{eval('1')}"`)
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	if !strings.Contains(v.code, "eval(") {
		t.Errorf("f-string replacement field hidden from code view: %q", v.code)
	}
}

func TestLexR(t *testing.T) {
	src := "x <- \"system('id')\" # system()\ny <- r\"(a \"quoted\" b)\"\n`system`(\"id\")\n"
	v, err := lex(api.RuntimeR, src)
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	if strings.Count(v.code, "system") != 1 {
		t.Errorf("expected only the backquoted call in code view, got %q", v.code)
	}
	if strings.Contains(v.code, "quoted") {
		t.Error("raw string content survived in code view")
	}
	if strings.Contains(v.code, "`") {
		t.Error("backquotes should be removed from the code view")
	}
}

func TestLexMalformed(t *testing.T) {
	tests := []struct {
		name string
		rt   api.Runtime
		src  string
	}{
		{"python unterminated", api.RuntimePython, "x = 'abc\nprint(x)"},
		{"python unterminated triple", api.RuntimePython, `x = """abc`},
		{"python nul", api.RuntimePython, "x = 1\x00"},
		{"invalid utf8", api.RuntimePython, "x = '\xff'"},
		{"r unterminated", api.RuntimeR, `x <- "abc`},
		{"r unterminated raw", api.RuntimeR, `x <- r"(abc"`},
		{"r unterminated backquote", api.RuntimeR, "`abc <- 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lex(tt.rt, tt.src)
			if !errors.Is(err, ErrMalformedSource) {
				t.Errorf("err = %v, want ErrMalformedSource", err)
			}
		})
	}
}
