package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/debug"
	"github.com/rhuss/antwort-sandbox/pkg/observability"
)

// Engine evaluates sources against a compiled rule table. It is safe for
// concurrent use; all state is read-only after New.
type Engine struct {
	sets map[api.Runtime]*compiledSet
}

type compiledSet struct {
	packages map[string]Package
	denied   []compiledRule
	shims    []Shim
}

type compiledRule struct {
	DeniedCall
	re *regexp.Regexp
}

// New compiles the rule table. Every runtime in api.Runtimes must be
// present.
func New(table *RuleTable) (*Engine, error) {
	e := &Engine{sets: make(map[api.Runtime]*compiledSet)}
	for _, rt := range api.Runtimes() {
		rs, ok := table.Runtimes[rt]
		if !ok || rs == nil {
			return nil, fmt.Errorf("rule table has no entry for runtime %q", rt)
		}
		cs := &compiledSet{packages: make(map[string]Package, len(rs.Packages))}
		for _, p := range rs.Packages {
			if p.Name == "" {
				return nil, fmt.Errorf("%s: package entry without a name", rt)
			}
			cs.packages[p.Name] = p
		}
		for _, d := range rs.DeniedCalls {
			if d.Disabled {
				continue
			}
			cr, err := compileRule(rt, d)
			if err != nil {
				return nil, err
			}
			cs.denied = append(cs.denied, cr)
		}
		for _, s := range rs.Shims {
			if !s.Disabled {
				cs.shims = append(cs.shims, s)
			}
		}
		e.sets[rt] = cs
	}
	return e, nil
}

// NewDefault returns an engine for the embedded rule table merged with the
// optional override file at path.
func NewDefault(path string) (*Engine, error) {
	table, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	return New(table)
}

func compileRule(rt api.Runtime, d DeniedCall) (compiledRule, error) {
	if d.Symbol == "" {
		return compiledRule{}, fmt.Errorf("%s: denied call without a symbol", rt)
	}
	if d.Match == "" {
		d.Match = MatchCall
	}
	if d.Scope == "" {
		d.Scope = ScopeCode
	}
	if d.Match != MatchCall && d.Match != MatchReference {
		return compiledRule{}, fmt.Errorf("%s: %s: unknown match %q", rt, d.Symbol, d.Match)
	}
	if d.Scope != ScopeCode && d.Scope != ScopeLiteral {
		return compiledRule{}, fmt.Errorf("%s: %s: unknown scope %q", rt, d.Symbol, d.Scope)
	}
	expr := d.Pattern
	if expr == "" {
		expr = derivePattern(rt, d.Symbol, d.Match)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return compiledRule{}, fmt.Errorf("%s: %s: %w", rt, d.Symbol, err)
	}
	return compiledRule{DeniedCall: d, re: re}, nil
}

// derivePattern builds the default expression for a symbol. The symbol
// must not be preceded by an identifier character or an attribute dot, so
// "df.eval(" does not match a rule for "eval".
func derivePattern(rt api.Runtime, symbol string, m Match) string {
	quoted := regexp.QuoteMeta(symbol)
	if rt == api.RuntimePython {
		// Python attribute access tolerates whitespace around the dot; in R
		// the dot is part of the identifier.
		quoted = strings.ReplaceAll(quoted, `\.`, `\s*\.\s*`)
	}
	expr := `(?m)(?:^|[^.\w])` + quoted
	if m == MatchCall {
		return expr + `\s*\(`
	}
	return expr + `(?:[^\w]|$)`
}

// Evaluate statically checks source for runtime. Rejection is a normal
// decision; an error is returned only for an unknown runtime or source that
// cannot be tokenized (ErrMalformedSource).
func (e *Engine) Evaluate(rt api.Runtime, source string) (*api.PolicyDecision, error) {
	cs, ok := e.sets[rt]
	if !ok {
		return nil, fmt.Errorf("unsupported runtime %q", rt)
	}
	v, err := lex(rt, source)
	if err != nil {
		return nil, err
	}

	imports := extractImports(rt, v)
	v.resolved = resolveBindings(v.code, imports)
	decision := &api.PolicyDecision{Imports: imports.packages}

	for _, pkg := range imports.packages {
		if _, ok := cs.packages[pkg]; !ok {
			decision.Violations = append(decision.Violations, api.Violation{
				RuleKind: api.RuleKindImport,
				Symbol:   pkg,
				Reason:   fmt.Sprintf("package %q is not on the %s allow-list", pkg, rt),
			})
		}
	}

	for _, r := range cs.denied {
		if r.matches(v, imports) {
			decision.Violations = append(decision.Violations, api.Violation{
				RuleKind: api.RuleKindCall,
				Symbol:   r.Symbol,
				Reason:   r.Reason,
			})
		}
	}

	if len(decision.Violations) > 0 {
		for _, viol := range decision.Violations {
			observability.PolicyViolationsTotal.WithLabelValues(string(rt), string(viol.RuleKind)).Inc()
		}
		debug.Log("policy", "rejected", "runtime", rt, "violations", len(decision.Violations))
		return decision, nil
	}

	decision.Allowed = true
	var prelude strings.Builder
	for _, s := range cs.shims {
		if shimApplies(s, rt, v, imports) {
			prelude.WriteString(strings.TrimRight(s.Code, "\n"))
			prelude.WriteByte('\n')
			decision.AppliedShims = append(decision.AppliedShims, s.Name)
		}
	}
	if prelude.Len() > 0 {
		decision.RewrittenSource = prelude.String() + source
	}
	debug.Log("policy", "allowed", "runtime", rt, "imports", imports.packages, "shims", decision.AppliedShims)
	return decision, nil
}

func (r *compiledRule) matches(v views, imports *importSet) bool {
	if r.Scope == ScopeLiteral {
		return r.re.MatchString(v.literal)
	}
	if r.re.MatchString(v.code) || (v.resolved != v.code && r.re.MatchString(v.resolved)) {
		return true
	}
	// "from os import posix_spawnp" binds the denied function itself, which
	// is denied even if the call site hides it.
	for _, target := range imports.names {
		if target == r.Symbol || r.re.MatchString(target+"(") {
			return true
		}
	}
	return false
}

// resolveBindings rewrites module aliases ("import os as o") and names bound
// by "from m import n" in code to the dotted paths they refer to.
func resolveBindings(code string, imports *importSet) string {
	for alias, mod := range imports.aliases {
		if alias == mod {
			continue
		}
		re := regexp.MustCompile(`(?m)(^|[^.\w])` + regexp.QuoteMeta(alias) + `(\s*\.)`)
		code = re.ReplaceAllString(code, "${1}"+mod+"${2}")
	}
	for alias, target := range imports.names {
		re := regexp.MustCompile(`(?m)(^|[^.\w])` + regexp.QuoteMeta(alias) + `\b`)
		code = re.ReplaceAllString(code, "${1}"+target)
	}
	return code
}

func shimApplies(s Shim, rt api.Runtime, v views, imports *importSet) bool {
	if s.WhenImport == "" && s.WhenReference == "" {
		return true
	}
	if s.WhenImport != "" {
		for _, p := range imports.packages {
			if p == s.WhenImport {
				return true
			}
		}
	}
	if s.WhenReference != "" {
		re := regexp.MustCompile(derivePattern(rt, s.WhenReference, MatchReference))
		if re.MatchString(v.code) {
			return true
		}
	}
	return false
}

// PackageAllowed reports whether name is on the allow-list for rt.
func (e *Engine) PackageAllowed(rt api.Runtime, name string) bool {
	cs, ok := e.sets[rt]
	if !ok {
		return false
	}
	_, ok = cs.packages[name]
	return ok
}

// InstallName maps an import name to the package manager name. The second
// result is false when the package is not allow-listed.
func (e *Engine) InstallName(rt api.Runtime, name string) (string, bool) {
	cs, ok := e.sets[rt]
	if !ok {
		return "", false
	}
	p, ok := cs.packages[name]
	if !ok {
		return "", false
	}
	return p.InstallName(), true
}
