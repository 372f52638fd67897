// Package scanner is the pattern-matching layer consumed by detectors.
//
// An Engine compiles a rule set, identified by a path, into Rules. Rules scan a
// file and report one Match per rule hit, in the order the engine reports them.
// Two engines ship with the package: a go-yara wrapper (scanner/yara) and a
// pure-Go literal engine driven by JSON rule files.
package scanner

import (
	"context"
	"errors"
	"sort"
)

// ErrUnsupportedRuleSet is returned by a Mux when no engine handles a rule set.
var ErrUnsupportedRuleSet = errors.New("no engine registered for rule set")

// Engine compiles a rule set into scannable Rules.
type Engine interface {
	Compile(ruleSet string) (Rules, error)
}

// Rules is a compiled rule set. Implementations must be safe for concurrent scans.
type Rules interface {
	ScanFile(ctx context.Context, path string) ([]Match, error)
}

// Match is one rule hit.
type Match struct {
	Rule      string            `json:"rule"`
	Namespace string            `json:"namespace,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	Strings   []string          `json:"strings,omitempty"`
}

// Field returns the metadata value stored under name.
func (m Match) Field(name string) (string, bool) {
	v, ok := m.Meta[name]
	return v, ok
}

// MatchedStrings returns the distinct matched strings in lexicographic order.
func (m Match) MatchedStrings() []string {
	return uniqueSorted(m.Strings)
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
