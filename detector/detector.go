// Package detector turns raw pattern matches into severity-levelled findings.
//
// A Detector binds one rule set to a presentation policy (summary, severity,
// metadata field, whether to list matched strings). Rules are compiled on the
// first scan and reused for the detector's lifetime. A failed load is cached:
// later scans return the empty Finding without retrying until Reset is called.
package detector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/swarmguard/binscan/scanner"
)

// Target is anything with a resolvable file-system path.
type Target interface {
	Path() string
}

// FilePath is a Target backed by a plain path.
type FilePath string

func (p FilePath) Path() string { return string(p) }

// State of a detector's rule set.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "unloaded"
	}
}

// stringsMarker follows the field value when matched strings are listed.
const stringsMarker = " String(s) found:"

// Detector is safe for concurrent use.
type Detector struct {
	cfg    Config
	engine scanner.Engine

	mu      sync.Mutex // serializes loading
	state   atomic.Int32
	rules   scanner.Rules
	gen     string // generation the loaded rules were compiled from
	loadErr error
}

// New validates cfg and binds it to engine. No rules are compiled yet.
func New(cfg Config, engine scanner.Engine) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:    cfg,
		engine: engine,
	}, nil
}

func (d *Detector) log() *slog.Logger {
	return slog.Default().With("detector", d.cfg.ID)
}

func (d *Detector) ID() string          { return d.cfg.ID }
func (d *Detector) Description() string { return d.cfg.Description }
func (d *Detector) Config() Config      { return d.cfg }

func (d *Detector) Descriptor() Descriptor {
	return Descriptor{ID: d.cfg.ID, Description: d.cfg.Description}
}

// State returns the current rule-set state without blocking on a load in progress.
func (d *Detector) State() State { return State(d.state.Load()) }

// LastError returns the cached rule-load error, if any.
func (d *Detector) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadErr
}

// Reset drops compiled rules and any cached failure; the next scan reloads.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = nil
	d.gen = ""
	d.loadErr = nil
	d.state.Store(int32(StateUnloaded))
}

func (d *Detector) ensureRulesLoaded() (scanner.Rules, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch State(d.state.Load()) {
	case StateLoaded:
		return d.rules, d.gen, nil
	case StateFailed:
		return nil, "", d.loadErr
	}
	d.state.Store(int32(StateLoading))
	// taken before compiling: an edit racing the compile leaves a stale
	// generation, which only costs a cache miss
	gen, genErr := d.generation()
	rules, err := d.engine.Compile(d.cfg.RuleSet)
	if err != nil {
		d.loadErr = &RuleLoadError{Detector: d.cfg.ID, RuleSet: d.cfg.RuleSet, Err: err}
		d.state.Store(int32(StateFailed))
		d.log().Error("could not load rules", "rule_set", d.cfg.RuleSet, "error", err)
		return nil, "", d.loadErr
	}
	if genErr != nil {
		d.log().Warn("rule set fingerprint unavailable", "rule_set", d.cfg.RuleSet, "error", genErr)
	}
	d.rules = rules
	d.gen = gen
	d.state.Store(int32(StateLoaded))
	d.log().Debug("rules loaded", "rule_set", d.cfg.RuleSet, "generation", gen)
	return rules, gen, nil
}

// Analyze scans target and never fails: rule-load and scan errors are logged
// and yield the empty Finding.
func (d *Detector) Analyze(ctx context.Context, target Target) Finding {
	f, err := d.Scan(ctx, target)
	if err == nil {
		return f
	}
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		d.log().Error("scan failed", "target", target.Path(), "error", scanErr.Err)
	} else {
		// the load failure itself was logged when it happened
		d.log().Debug("skipping scan, rules unavailable", "target", target.Path())
	}
	return Finding{}
}

// Scan is Analyze with the diagnostic returned. On error the Finding is empty.
func (d *Detector) Scan(ctx context.Context, target Target) (Finding, error) {
	f, _, err := d.ScanGeneration(ctx, target)
	return f, err
}

// ScanGeneration is Scan that also returns the generation of the rules that
// produced the Finding ("" when no rules were loaded).
func (d *Detector) ScanGeneration(ctx context.Context, target Target) (Finding, string, error) {
	rules, gen, err := d.ensureRulesLoaded()
	if err != nil {
		return Finding{}, "", err
	}
	matches, err := rules.ScanFile(ctx, target.Path())
	if err != nil {
		return Finding{}, gen, &ScanError{Detector: d.cfg.ID, Target: target.Path(), Err: err}
	}
	return d.reduce(matches), gen, nil
}

// reduce maps engine matches onto a Finding, keeping engine order.
func (d *Detector) reduce(matches []scanner.Match) Finding {
	var f Finding
	if len(matches) == 0 {
		return f
	}
	f.Severity = d.cfg.Severity
	f.Summary = d.cfg.Summary
	for _, m := range matches {
		value, ok := m.Field(d.cfg.Field)
		if !ok {
			d.log().Error("rule is missing metadata field",
				"rule", m.Rule, "namespace", m.Namespace, "field", d.cfg.Field)
		}
		if !d.cfg.ShowStrings {
			f.addInformation(value)
			continue
		}
		f.addInformation(value + stringsMarker)
		for _, s := range m.MatchedStrings() {
			f.addInformation("\t" + s)
		}
	}
	return f
}
