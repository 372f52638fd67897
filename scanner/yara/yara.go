// Package yara adapts go-yara to the scanner.Engine contract.
package yara

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goyara "github.com/hillu/go-yara/v4"

	"github.com/swarmguard/binscan/scanner"
)

// Extensions handled by this engine.
var Extensions = []string{".yar", ".yara"}

// Engine compiles YARA sources. A rule set may be a single file or a
// directory, in which case every .yar/.yara file below it is compiled, each
// into a namespace named after the file.
type Engine struct {
	Timeout time.Duration
	Flags   goyara.ScanFlags
}

// New returns an engine whose scans are bounded by timeout (0 = unbounded).
func New(timeout time.Duration) *Engine {
	return &Engine{Timeout: timeout}
}

// Rules wraps compiled YARA rules. go-yara rules may be scanned concurrently.
type Rules struct {
	rules   *goyara.Rules
	timeout time.Duration
	flags   goyara.ScanFlags
}

// Compile implements scanner.Engine.
func (e *Engine) Compile(ruleSet string) (scanner.Rules, error) {
	files, err := ruleFiles(ruleSet)
	if err != nil {
		return nil, err
	}
	compiler, err := goyara.NewCompiler()
	if err != nil {
		return nil, fmt.Errorf("yara compiler init: %w", err)
	}
	for _, rfile := range files {
		if err := addFile(compiler, rfile); err != nil {
			return nil, err
		}
	}
	rules, err := compiler.GetRules()
	if err != nil {
		return nil, fmt.Errorf("get rules: %w", err)
	}
	return &Rules{rules: rules, timeout: e.Timeout, flags: e.Flags}, nil
}

func ruleFiles(ruleSet string) ([]string, error) {
	info, err := os.Stat(ruleSet)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{ruleSet}, nil
	}
	var files []string
	err = filepath.WalkDir(ruleSet, func(path string, d os.DirEntry, werr error) error {
		if werr != nil || d.IsDir() {
			return werr
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yar", ".yara":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk rules dir: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no YARA rules found in " + ruleSet)
	}
	return files, nil
}

func addFile(compiler *goyara.Compiler, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	ns := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := compiler.AddFile(f, ns); err != nil {
		if len(compiler.Errors) > 0 {
			msg := compiler.Errors[0]
			return fmt.Errorf("compile %s:%d: %s: %w", path, msg.Line, msg.Text, err)
		}
		return fmt.Errorf("compile %s: %w", path, err)
	}
	return nil
}

// ScanFile implements scanner.Rules. A context deadline shorter than the
// engine timeout takes precedence.
func (r *Rules) ScanFile(ctx context.Context, path string) ([]scanner.Match, error) {
	timeout, err := scanTimeout(ctx, r.timeout)
	if err != nil {
		return nil, err
	}
	var mr goyara.MatchRules
	if err := r.rules.ScanFile(path, r.flags, timeout, &mr); err != nil {
		return nil, fmt.Errorf("yara scan file: %w", err)
	}
	matches := make([]scanner.Match, 0, len(mr))
	for _, m := range mr {
		matches = append(matches, convert(m))
	}
	return matches, nil
}

// scanTimeout picks the bound for one scan. libyara counts whole seconds and
// treats 0 as unbounded, so a positive bound is rounded up to a second.
func scanTimeout(ctx context.Context, engine time.Duration) (time.Duration, error) {
	timeout := engine
	if dl, ok := ctx.Deadline(); ok {
		remaining := time.Until(dl)
		if remaining <= 0 {
			return 0, context.DeadlineExceeded
		}
		if timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if timeout > 0 && timeout < time.Second {
		timeout = time.Second
	}
	return timeout, nil
}

func convert(m goyara.MatchRule) scanner.Match {
	meta := make(map[string]string, len(m.Metas))
	for _, item := range m.Metas {
		// first value wins when a rule repeats a meta identifier
		if _, ok := meta[item.Identifier]; !ok {
			meta[item.Identifier] = fmt.Sprintf("%v", item.Value)
		}
	}
	strs := make([]string, 0, len(m.Strings))
	for _, s := range m.Strings {
		strs = append(strs, string(s.Data))
	}
	return scanner.Match{
		Rule:      m.Rule,
		Namespace: m.Namespace,
		Tags:      m.Tags,
		Meta:      meta,
		Strings:   strs,
	}
}
