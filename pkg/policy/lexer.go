package policy

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rhuss/antwort-sandbox/pkg/api"
)

// ErrMalformedSource is returned when source cannot be tokenized. The
// coordinator reports it as a runtime error without spawning a process.
var ErrMalformedSource = errors.New("malformed source")

// views holds two position-preserving renderings of a source file. In code,
// comments and string contents are replaced by spaces; in literal, only
// comments are. Newlines are always kept so line numbers agree.
type views struct {
	code    string
	literal string
	// resolved is code with import aliases expanded.
	resolved string
}

func lex(rt api.Runtime, src string) (views, error) {
	if !utf8.ValidString(src) {
		return views{}, fmt.Errorf("%w: invalid UTF-8", ErrMalformedSource)
	}
	if i := strings.IndexByte(src, 0); i >= 0 {
		return views{}, fmt.Errorf("%w: NUL byte at offset %d", ErrMalformedSource, i)
	}
	l := &lexer{src: src, code: []byte(src), literal: []byte(src)}
	var err error
	switch rt {
	case api.RuntimePython:
		err = l.python()
	case api.RuntimeR:
		err = l.r()
	default:
		return views{}, fmt.Errorf("unsupported runtime %q", rt)
	}
	if err != nil {
		return views{}, err
	}
	return views{code: string(l.code), literal: string(l.literal)}, nil
}

type lexer struct {
	src     string
	code    []byte
	literal []byte
}

// blank overwrites src[from:to] with spaces in the selected views.
func (l *lexer) blank(from, to int, code, literal bool) {
	for i := from; i < to; i++ {
		if l.src[i] == '\n' {
			continue
		}
		if code {
			l.code[i] = ' '
		}
		if literal {
			l.literal[i] = ' '
		}
	}
}

func (l *lexer) line(pos int) int {
	return strings.Count(l.src[:pos], "\n") + 1
}

func (l *lexer) python() error {
	src := l.src
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '#':
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				end = len(src) - i
			}
			l.blank(i, i+end, true, true)
			i += end
		case c == '\'' || c == '"':
			start := i
			prefix := pythonPrefix(src, i)
			quote := src[i : i+1]
			if strings.HasPrefix(src[i:], strings.Repeat(quote, 3)) {
				quote = strings.Repeat(quote, 3)
			}
			end, ok := scanPythonString(src, i+len(quote), quote)
			if !ok {
				return fmt.Errorf("%w: unterminated string literal on line %d", ErrMalformedSource, l.line(start))
			}
			// f-string replacement fields are code, so the body stays
			// visible in the code view.
			if !strings.ContainsAny(prefix, "fF") {
				l.blank(i+len(quote), end-len(quote), true, false)
			}
			i = end
		default:
			i++
		}
	}
	return nil
}

// pythonPrefix returns the string prefix letters (r, b, u, f) directly
// before the quote at i, if they form a prefix and not an identifier tail.
func pythonPrefix(src string, i int) string {
	j := i
	for j > 0 && j > i-2 && strings.IndexByte("rRbBuUfF", src[j-1]) >= 0 {
		j--
	}
	if j > 0 && isIdentByte(src[j-1]) {
		return ""
	}
	return src[j:i]
}

// scanPythonString returns the offset just past the closing quote.
func scanPythonString(src string, i int, quote string) (int, bool) {
	triple := len(quote) == 3
	for i < len(src) {
		switch c := src[i]; {
		case c == '\\':
			i += 2
		case c == '\n' && !triple:
			return 0, false
		case strings.HasPrefix(src[i:], quote):
			return i + len(quote), true
		default:
			i++
		}
	}
	return 0, false
}

func (l *lexer) r() error {
	src := l.src
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '#':
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				end = len(src) - i
			}
			l.blank(i, i+end, true, true)
			i += end
		case (c == 'r' || c == 'R') && (i == 0 || !isRIdentByte(src[i-1])) && i+1 < len(src) && (src[i+1] == '"' || src[i+1] == '\''):
			end, ok := scanRRawString(src, i+1)
			if !ok {
				return fmt.Errorf("%w: unterminated raw string on line %d", ErrMalformedSource, l.line(i))
			}
			l.blank(i+2, end-1, true, false)
			i = end
		case c == '\'' || c == '"':
			end, ok := scanRString(src, i+1, c)
			if !ok {
				return fmt.Errorf("%w: unterminated string literal on line %d", ErrMalformedSource, l.line(i))
			}
			l.blank(i+1, end-1, true, false)
			i = end
		case c == '`':
			// Backquoted names are identifiers; drop the quotes so calls
			// such as `system`("id") look like ordinary calls.
			end := strings.IndexByte(src[i+1:], '`')
			if end < 0 {
				return fmt.Errorf("%w: unterminated backquoted name on line %d", ErrMalformedSource, l.line(i))
			}
			l.code[i] = ' '
			l.code[i+1+end] = ' '
			i += end + 2
		default:
			i++
		}
	}
	return nil
}

// R strings may span lines.
func scanRString(src string, i int, quote byte) (int, bool) {
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
		case quote:
			return i + 1, true
		default:
			i++
		}
	}
	return 0, false
}

// scanRRawString handles r"(...)", r"[...]", r"{...}" with optional dashes.
// q is the offset of the opening quote.
func scanRRawString(src string, q int) (int, bool) {
	quote := src[q]
	i := q + 1
	dashes := 0
	for i < len(src) && src[i] == '-' {
		dashes++
		i++
	}
	if i >= len(src) {
		return 0, false
	}
	var closer byte
	switch src[i] {
	case '(':
		closer = ')'
	case '[':
		closer = ']'
	case '{':
		closer = '}'
	default:
		return 0, false
	}
	terminator := string(closer) + strings.Repeat("-", dashes) + string(quote)
	end := strings.Index(src[i+1:], terminator)
	if end < 0 {
		return 0, false
	}
	return i + 1 + end + len(terminator), true
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= 0x80
}

func isRIdentByte(c byte) bool {
	return isIdentByte(c) || c == '.'
}
