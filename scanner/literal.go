package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LiteralEngine compiles JSON literal rule files (see LiteralRule) into an
// Aho-Corasick automaton. It needs no cgo, which makes it the engine of choice
// for simple string signatures and for tests.
type LiteralEngine struct {
	BufferSize int
}

// NewLiteralEngine returns an engine streaming files in 64KiB chunks.
func NewLiteralEngine() *LiteralEngine {
	return &LiteralEngine{BufferSize: defaultBufferSize}
}

type literalPattern struct {
	rule int
	text string
}

type literalRules struct {
	namespace string
	rules     []LiteralRule
	patterns  []literalPattern
	stream    *StreamingScanner
}

// Compile loads and compiles a rule file.
func (e *LiteralEngine) Compile(ruleSet string) (Rules, error) {
	rules, err := LoadLiteralRules(ruleSet)
	if err != nil {
		return nil, err
	}
	lr := &literalRules{
		namespace: strings.TrimSuffix(filepath.Base(ruleSet), filepath.Ext(ruleSet)),
	}
	var raw [][]byte
	for _, r := range rules {
		if !r.IsEnabled() {
			continue
		}
		idx := len(lr.rules)
		lr.rules = append(lr.rules, r)
		for _, p := range r.Strings {
			b, _ := p.Bytes() // validated by LoadLiteralRules
			raw = append(raw, b)
			lr.patterns = append(lr.patterns, literalPattern{rule: idx, text: string(b)})
		}
	}
	lr.stream = NewStreamingScanner(BuildAho(raw), e.BufferSize)
	return lr, nil
}

// ScanFile reports matching rules in declaration order.
func (lr *literalRules) ScanFile(ctx context.Context, path string) ([]Match, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	found, err := lr.stream.ScanStream(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	if len(found) == 0 {
		return nil, nil
	}

	hits := make([][]string, len(lr.rules))
	distinct := make([]int, len(lr.rules))
	for id, p := range lr.patterns {
		if _, ok := found[id]; !ok {
			continue
		}
		hits[p.rule] = append(hits[p.rule], p.text)
		distinct[p.rule]++
	}

	var matches []Match
	for i, r := range lr.rules {
		if distinct[i] == 0 {
			continue
		}
		if r.Condition == conditionAll && distinct[i] < len(r.Strings) {
			continue
		}
		meta := make(map[string]string, len(r.Meta))
		for k, v := range r.Meta {
			meta[k] = v
		}
		matches = append(matches, Match{
			Rule:      r.ID,
			Namespace: lr.namespace,
			Tags:      r.Tags,
			Meta:      meta,
			Strings:   hits[i],
		})
	}
	return matches, nil
}
