package policy

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rhuss/antwort-sandbox/pkg/api"
)

// importSet is the result of scanning a source for package references.
type importSet struct {
	// packages holds top-level package names in order of first appearance.
	packages []string
	// aliases maps a local name to the dotted module it refers to
	// ("np" -> "numpy", "osp" -> "os.path").
	aliases map[string]string
	// names maps a name bound by "from m import n" to "m.n".
	names map[string]string
}

func (s *importSet) add(pkg string) {
	if pkg == "" {
		return
	}
	for _, p := range s.packages {
		if p == pkg {
			return
		}
	}
	s.packages = append(s.packages, pkg)
}

var (
	pyContinuation = regexp.MustCompile(`\\\n`)
	pyImport       = regexp.MustCompile(`(?m)(?:^|[;:])[ \t]*import[ \t]+([^\n;]+)`)
	pyFromImport   = regexp.MustCompile(`(?m)(?:^|[;:])[ \t]*from[ \t]+(\.*)([\w.]*)[ \t]+import[ \t]+(\([^)]*\)|[^\n;]+)`)

	rLibraryCall = regexp.MustCompile(`(?:^|[^.\w])(?:library|require|requireNamespace|loadNamespace|attachNamespace)\s*\(`)
	rLibraryArg  = regexp.MustCompile(`^\s*(?:package\s*=\s*)?["']?([A-Za-z][\w.]*)`)
	rNamespace   = regexp.MustCompile(`(?:^|[^.\w])([A-Za-z][\w.]*)\s*:::?`)
)

func extractImports(rt api.Runtime, v views) *importSet {
	s := &importSet{aliases: map[string]string{}, names: map[string]string{}}
	switch rt {
	case api.RuntimePython:
		pythonImports(pyContinuation.ReplaceAllString(v.code, "  "), s)
	case api.RuntimeR:
		rImports(v, s)
	}
	return s
}

func pythonImports(code string, s *importSet) {
	type match struct {
		pos int
		fn  func()
	}
	var ordered []match

	for _, idx := range pyImport.FindAllStringSubmatchIndex(code, -1) {
		clause := code[idx[2]:idx[3]]
		ordered = append(ordered, match{idx[0], func() {
			for _, part := range strings.Split(clause, ",") {
				mod, alias := splitAlias(part)
				if mod == "" {
					continue
				}
				s.add(topLevel(mod))
				if alias != "" {
					s.aliases[alias] = mod
				}
			}
		}})
	}
	for _, idx := range pyFromImport.FindAllStringSubmatchIndex(code, -1) {
		dots := code[idx[2]:idx[3]]
		mod := code[idx[4]:idx[5]]
		names := strings.Trim(code[idx[6]:idx[7]], "() \t\n")
		ordered = append(ordered, match{idx[0], func() {
			// Relative imports cannot reach outside the script directory.
			if dots != "" || mod == "" {
				return
			}
			s.add(topLevel(mod))
			for _, part := range strings.Split(names, ",") {
				name, alias := splitAlias(part)
				if name == "" || name == "*" {
					continue
				}
				if alias == "" {
					alias = name
				}
				s.names[alias] = mod + "." + name
			}
		}})
	}

	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].pos < ordered[j].pos })
	for _, m := range ordered {
		m.fn()
	}
}

// rImports finds call sites in the code view and reads the package argument
// from the literal view at the same offset, so library("x") is seen but a
// string that merely mentions library(x) is not.
func rImports(v views, s *importSet) {
	type hit struct {
		pos int
		pkg string
	}
	var hits []hit
	for _, idx := range rLibraryCall.FindAllStringIndex(v.code, -1) {
		if m := rLibraryArg.FindStringSubmatch(v.literal[idx[1]:]); m != nil {
			hits = append(hits, hit{idx[0], m[1]})
		}
	}
	for _, idx := range rNamespace.FindAllStringSubmatchIndex(v.code, -1) {
		hits = append(hits, hit{idx[0], v.code[idx[2]:idx[3]]})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	for _, h := range hits {
		s.add(h.pkg)
	}
}

func splitAlias(part string) (name, alias string) {
	fields := strings.Fields(part)
	switch {
	case len(fields) == 0:
		return "", ""
	case len(fields) >= 3 && fields[1] == "as":
		return fields[0], fields[2]
	default:
		return fields[0], ""
	}
}

func topLevel(mod string) string {
	if i := strings.IndexByte(mod, '.'); i >= 0 {
		return mod[:i]
	}
	return mod
}
