package scanner

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Mux picks an Engine by rule-set file extension.
type Mux struct {
	byExt map[string]Engine
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{byExt: make(map[string]Engine)}
}

// Handle registers engine for the given extensions (".yara", ".json", ...).
func (m *Mux) Handle(engine Engine, exts ...string) *Mux {
	for _, ext := range exts {
		m.byExt[normalizeExt(ext)] = engine
	}
	return m
}

// Compile dispatches to the engine registered for ruleSet's extension.
func (m *Mux) Compile(ruleSet string) (Rules, error) {
	ext := normalizeExt(filepath.Ext(ruleSet))
	engine, ok := m.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRuleSet, ruleSet)
	}
	return engine.Compile(ruleSet)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
