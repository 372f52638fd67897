package scanner

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LiteralRule is one rule of a JSON literal rule file:
//
//	{"rules": [{"id": "upx", "meta": {"description": "UPX"},
//	            "strings": [{"name": "$a", "text": "UPX0"}, {"name": "$b", "hex": "55 50 58 31"}]}]}
type LiteralRule struct {
	ID        string            `json:"id"`
	Enabled   *bool             `json:"enabled,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	Strings   []LiteralPattern  `json:"strings"`
	Condition string            `json:"condition,omitempty"` // any (default) | all
}

// LiteralPattern is a plain-text or hex byte pattern.
type LiteralPattern struct {
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`
	Hex  string `json:"hex,omitempty"`
}

const (
	conditionAny = "any"
	conditionAll = "all"
)

// IsEnabled defaults to true when the field is omitted.
func (r LiteralRule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Bytes returns the raw bytes the pattern matches.
func (p LiteralPattern) Bytes() ([]byte, error) {
	switch {
	case p.Text != "" && p.Hex != "":
		return nil, fmt.Errorf("pattern %q sets both text and hex", p.Name)
	case p.Text != "":
		return []byte(p.Text), nil
	case p.Hex != "":
		b, err := hex.DecodeString(strings.Join(strings.Fields(p.Hex), ""))
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p.Name, err)
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("pattern %q is empty", p.Name)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("pattern %q is empty", p.Name)
	}
}

// LoadLiteralRules reads and validates a JSON literal rule file.
func LoadLiteralRules(path string) ([]LiteralRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Rules []LiteralRule `json:"rules"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(wrapper.Rules) == 0 {
		return nil, fmt.Errorf("%s declares no rules", path)
	}
	seen := make(map[string]struct{}, len(wrapper.Rules))
	for i := range wrapper.Rules {
		r := &wrapper.Rules[i]
		if r.ID == "" {
			return nil, fmt.Errorf("%s: rule #%d has no id", path, i)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("%s: duplicate rule id %q", path, r.ID)
		}
		seen[r.ID] = struct{}{}
		switch r.Condition {
		case "":
			r.Condition = conditionAny
		case conditionAny, conditionAll:
		default:
			return nil, fmt.Errorf("%s: rule %q: unknown condition %q", path, r.ID, r.Condition)
		}
		if len(r.Strings) == 0 {
			return nil, fmt.Errorf("%s: rule %q has no strings", path, r.ID)
		}
		for _, p := range r.Strings {
			if _, err := p.Bytes(); err != nil {
				return nil, fmt.Errorf("%s: rule %q: %w", path, r.ID, err)
			}
		}
	}
	return wrapper.Rules, nil
}
