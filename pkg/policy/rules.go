package policy

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/antwort-sandbox/pkg/api"
)

//go:embed rules.yaml
var defaultRules []byte

// RuleTable maps each runtime to its rule set. It is data: new packages and
// denied calls are added by editing YAML, not code.
type RuleTable struct {
	Runtimes map[api.Runtime]*RuleSet `yaml:"runtimes"`
}

// RuleSet is the policy for one runtime.
type RuleSet struct {
	Packages    []Package    `yaml:"packages"`
	DeniedCalls []DeniedCall `yaml:"denied_calls"`
	Shims       []Shim       `yaml:"shims"`
}

// Package is an allow-listed import. Install is the name passed to the
// package manager when it differs from the import name.
type Package struct {
	Name    string `yaml:"name"`
	Install string `yaml:"install,omitempty"`
}

// UnmarshalYAML accepts either a bare string or a {name, install} mapping.
func (p *Package) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		p.Name = node.Value
		return nil
	}
	type plain Package
	return node.Decode((*plain)(p))
}

// InstallName returns the package manager name for p.
func (p Package) InstallName() string {
	if p.Install != "" {
		return p.Install
	}
	return p.Name
}

// Match selects how a denied symbol is recognized.
type Match string

const (
	// MatchCall fires on "symbol(" not preceded by an attribute dot.
	MatchCall Match = "call"
	// MatchReference fires on any standalone use of the symbol.
	MatchReference Match = "reference"
)

// Scope selects which view of the source a rule is matched against.
type Scope string

const (
	ScopeCode    Scope = "code"
	ScopeLiteral Scope = "literal"
)

// DeniedCall is one entry in the deny table, keyed by Symbol. Pattern, when
// set, replaces the expression derived from Symbol and Match.
type DeniedCall struct {
	Symbol   string `yaml:"symbol"`
	Match    Match  `yaml:"match,omitempty"`
	Scope    Scope  `yaml:"scope,omitempty"`
	Pattern  string `yaml:"pattern,omitempty"`
	Reason   string `yaml:"reason"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// Shim is code prepended to an allowed source. It applies when the source
// imports WhenImport or references WhenReference; with neither set it
// always applies.
type Shim struct {
	Name          string `yaml:"name"`
	WhenImport    string `yaml:"when_import,omitempty"`
	WhenReference string `yaml:"when_reference,omitempty"`
	Code          string `yaml:"code"`
	Disabled      bool   `yaml:"disabled,omitempty"`
}

// DefaultRules returns the embedded rule table.
func DefaultRules() (*RuleTable, error) {
	return ParseRules(defaultRules)
}

// ParseRules decodes a YAML rule table.
func ParseRules(data []byte) (*RuleTable, error) {
	var t RuleTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing rule table: %w", err)
	}
	for rt := range t.Runtimes {
		if !rt.Valid() {
			return nil, fmt.Errorf("rule table: unsupported runtime %q", rt)
		}
	}
	return &t, nil
}

// LoadRules returns the embedded table with the file at path merged on top.
// An empty path returns the embedded table.
func LoadRules(path string) (*RuleTable, error) {
	base, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	override, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	base.Merge(override)
	return base, nil
}

// Merge folds o into t. Packages are unioned; denied calls and shims
// replace entries with the same key (symbol or name) and append otherwise.
// An entry with disabled: true removes the matching entry.
func (t *RuleTable) Merge(o *RuleTable) {
	if t.Runtimes == nil {
		t.Runtimes = map[api.Runtime]*RuleSet{}
	}
	for rt, src := range o.Runtimes {
		dst := t.Runtimes[rt]
		if dst == nil {
			dst = &RuleSet{}
			t.Runtimes[rt] = dst
		}
		for _, p := range src.Packages {
			if i := indexPackage(dst.Packages, p.Name); i >= 0 {
				dst.Packages[i] = p
			} else {
				dst.Packages = append(dst.Packages, p)
			}
		}
		for _, d := range src.DeniedCalls {
			i := -1
			for j := range dst.DeniedCalls {
				if dst.DeniedCalls[j].Symbol == d.Symbol {
					i = j
					break
				}
			}
			switch {
			case i >= 0 && d.Disabled:
				dst.DeniedCalls = append(dst.DeniedCalls[:i], dst.DeniedCalls[i+1:]...)
			case i >= 0:
				dst.DeniedCalls[i] = d
			case !d.Disabled:
				dst.DeniedCalls = append(dst.DeniedCalls, d)
			}
		}
		for _, s := range src.Shims {
			i := -1
			for j := range dst.Shims {
				if dst.Shims[j].Name == s.Name {
					i = j
					break
				}
			}
			switch {
			case i >= 0 && s.Disabled:
				dst.Shims = append(dst.Shims[:i], dst.Shims[i+1:]...)
			case i >= 0:
				dst.Shims[i] = s
			case !s.Disabled:
				dst.Shims = append(dst.Shims, s)
			}
		}
	}
}

func indexPackage(pkgs []Package, name string) int {
	for i, p := range pkgs {
		if p.Name == name {
			return i
		}
	}
	return -1
}
