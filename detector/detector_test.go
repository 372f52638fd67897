package detector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmguard/binscan/scanner"
)

// fakeEngine counts compilations and hands out fakeRules.
type fakeEngine struct {
	mu       sync.Mutex
	compiles int
	err      error
	matches  []scanner.Match
	scanErr  error
}

func (e *fakeEngine) Compile(ruleSet string) (scanner.Rules, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiles++
	if e.err != nil {
		return nil, e.err
	}
	return &fakeRules{engine: e}, nil
}

func (e *fakeEngine) compileCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compiles
}

type fakeRules struct {
	engine *fakeEngine
}

func (r *fakeRules) ScanFile(ctx context.Context, path string) ([]scanner.Match, error) {
	if r.engine.scanErr != nil {
		return nil, r.engine.scanErr
	}
	return r.engine.matches, nil
}

func clamavConfig() Config {
	return Config{
		ID:          "clamav",
		Description: "Scans the binary with ClamAV virus definitions.",
		RuleSet:     "clamav.yara",
		Summary:     "Matching ClamAV signature(s):",
		Severity:    SeverityMalicious,
		Field:       "signature",
	}
}

func stringsConfig() Config {
	return Config{
		ID:          "strings",
		RuleSet:     "suspicious_strings.yara",
		Summary:     "Strings found in the binary may indicate undesirable behavior:",
		Severity:    SeveritySuspicious,
		Field:       "description",
		ShowStrings: true,
	}
}

func newDetector(t *testing.T, cfg Config, engine scanner.Engine) *Detector {
	t.Helper()
	d, err := New(cfg, engine)
	require.NoError(t, err)
	return d
}

var target = FilePath("/bin/sample.exe")

func TestAnalyzeNoMatchesReturnsEmptyFinding(t *testing.T) {
	d := newDetector(t, clamavConfig(), &fakeEngine{})

	f := d.Analyze(context.Background(), target)
	assert.True(t, f.Empty())
	assert.Equal(t, SeverityNone, f.Severity)
	assert.Empty(t, f.Summary)
	assert.Empty(t, f.Information)
	assert.Equal(t, StateLoaded, d.State())
}

func TestAnalyzeSingleSignature(t *testing.T) {
	engine := &fakeEngine{matches: []scanner.Match{
		{Rule: "eicar", Meta: map[string]string{"signature": "EICAR-Test"}},
	}}
	d := newDetector(t, clamavConfig(), engine)

	f := d.Analyze(context.Background(), target)
	assert.Equal(t, SeverityMalicious, f.Severity)
	assert.Equal(t, "Matching ClamAV signature(s):", f.Summary)
	assert.Equal(t, []string{"EICAR-Test"}, f.Information)
}

func TestAnalyzeShowStrings(t *testing.T) {
	engine := &fakeEngine{matches: []scanner.Match{
		{Rule: "upx", Meta: map[string]string{"description": "UPX"}, Strings: []string{"UPX1", "UPX0", "UPX1"}},
	}}
	d := newDetector(t, stringsConfig(), engine)

	f := d.Analyze(context.Background(), target)
	assert.Equal(t, SeveritySuspicious, f.Severity)
	assert.Equal(t, []string{"UPX String(s) found:", "\tUPX0", "\tUPX1"}, f.Information)
}

func TestAnalyzeKeepsEngineOrderWithoutCrossRecordDedup(t *testing.T) {
	engine := &fakeEngine{matches: []scanner.Match{
		{Rule: "b", Meta: map[string]string{"description": "VMware"}, Strings: []string{"vmtoolsd.exe"}},
		{Rule: "a", Meta: map[string]string{"description": "Debugger"}, Strings: []string{"OllyDbg", "IsDebuggerPresent"}},
		{Rule: "c", Meta: map[string]string{"description": "VMware"}, Strings: []string{"vmtoolsd.exe"}},
	}}
	d := newDetector(t, stringsConfig(), engine)

	f := d.Analyze(context.Background(), target)
	assert.Equal(t, []string{
		"VMware String(s) found:", "\tvmtoolsd.exe",
		"Debugger String(s) found:", "\tIsDebuggerPresent", "\tOllyDbg",
		"VMware String(s) found:", "\tvmtoolsd.exe",
	}, f.Information)

	clam := newDetector(t, clamavConfig(), &fakeEngine{matches: []scanner.Match{
		{Meta: map[string]string{"signature": "Win.Trojan.A"}},
		{Meta: map[string]string{"signature": "Win.Trojan.A"}},
	}})
	assert.Equal(t, []string{"Win.Trojan.A", "Win.Trojan.A"}, clam.Analyze(context.Background(), target).Information)
}

func TestAnalyzeMissingFieldIsEmptyString(t *testing.T) {
	engine := &fakeEngine{matches: []scanner.Match{
		{Rule: "no_meta", Meta: map[string]string{"author": "x"}},
		{Rule: "ok", Meta: map[string]string{"signature": "Sig"}},
	}}
	d := newDetector(t, clamavConfig(), engine)

	f := d.Analyze(context.Background(), target)
	assert.Equal(t, []string{"", "Sig"}, f.Information)
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	engine := &fakeEngine{matches: []scanner.Match{
		{Meta: map[string]string{"description": "UPX"}, Strings: []string{"UPX1", "UPX0"}},
	}}
	d := newDetector(t, stringsConfig(), engine)

	first := d.Analyze(context.Background(), target)
	second := d.Analyze(context.Background(), target)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, engine.compileCount(), "rules compile once")

	// findings are independent values
	first.Information[0] = "mutated"
	assert.Equal(t, "UPX String(s) found:", second.Information[0])
}

func TestRuleLoadFailureIsCached(t *testing.T) {
	loadErr := errors.New("syntax error")
	engine := &fakeEngine{err: loadErr}
	d := newDetector(t, clamavConfig(), engine)

	for i := 0; i < 3; i++ {
		f := d.Analyze(context.Background(), target)
		assert.True(t, f.Empty())
	}
	assert.Equal(t, 1, engine.compileCount(), "failure is terminal until Reset")
	assert.Equal(t, StateFailed, d.State())

	_, err := d.Scan(context.Background(), target)
	assert.ErrorIs(t, err, ErrRulesUnavailable)
	assert.ErrorIs(t, err, loadErr)
	var rle *RuleLoadError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "clamav.yara", rle.RuleSet)
	assert.ErrorIs(t, d.LastError(), loadErr)
}

func TestResetRetriesLoading(t *testing.T) {
	engine := &fakeEngine{err: errors.New("missing"), matches: []scanner.Match{
		{Meta: map[string]string{"signature": "EICAR-Test"}},
	}}
	d := newDetector(t, clamavConfig(), engine)
	assert.True(t, d.Analyze(context.Background(), target).Empty())

	engine.err = nil
	d.Reset()
	assert.Equal(t, StateUnloaded, d.State())
	assert.NoError(t, d.LastError())

	f := d.Analyze(context.Background(), target)
	assert.Equal(t, []string{"EICAR-Test"}, f.Information)
	assert.Equal(t, 2, engine.compileCount())
}

func TestScanFailureIsSoft(t *testing.T) {
	engine := &fakeEngine{scanErr: os.ErrPermission}
	d := newDetector(t, clamavConfig(), engine)

	assert.True(t, d.Analyze(context.Background(), target).Empty())

	_, err := d.Scan(context.Background(), target)
	var se *ScanError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "/bin/sample.exe", se.Target)
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.NotErrorIs(t, err, ErrRulesUnavailable)
	assert.Equal(t, StateLoaded, d.State(), "scan errors do not poison the rules")
}

func TestConcurrentAnalyzeCompilesOnce(t *testing.T) {
	engine := &fakeEngine{matches: []scanner.Match{{Meta: map[string]string{"signature": "S"}}}}
	d := newDetector(t, clamavConfig(), engine)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, []string{"S"}, d.Analyze(context.Background(), target).Information)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, engine.compileCount())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"id":       func(c *Config) { c.ID = "" },
		"rule set": func(c *Config) { c.RuleSet = "" },
		"field":    func(c *Config) { c.Field = "" },
		"summary":  func(c *Config) { c.Summary = "" },
		"severity": func(c *Config) { c.Severity = Severity(9) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := clamavConfig()
			mutate(&cfg)
			_, err := New(cfg, &fakeEngine{})
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDescriptorIsConstant(t *testing.T) {
	d := newDetector(t, clamavConfig(), &fakeEngine{})
	assert.Equal(t, "clamav", d.ID())
	assert.Equal(t, "Scans the binary with ClamAV virus definitions.", d.Description())
	assert.Equal(t, Descriptor{ID: d.ID(), Description: d.Description()}, d.Descriptor())
}

// End to end through the literal engine and a real file.
func TestAnalyzeWithLiteralEngine(t *testing.T) {
	dir := t.TempDir()
	rules := `{"rules": [{"id": "upx", "meta": {"description": "UPX"},
		"strings": [{"text": "UPX0"}, {"text": "UPX1"}]}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "suspicious_strings.json"), []byte(rules), 0o644))
	sample := filepath.Join(dir, "sample.exe")
	require.NoError(t, os.WriteFile(sample, []byte("MZ\x00\x00UPX1\x00UPX0\x00UPX1"), 0o644))

	cfg := stringsConfig()
	cfg.RuleSet = "suspicious_strings.json"
	d := newDetector(t, cfg.Resolve(dir), scanner.NewLiteralEngine())

	f := d.Analyze(context.Background(), FilePath(sample))
	assert.Equal(t, Finding{
		Severity:    SeveritySuspicious,
		Summary:     "Strings found in the binary may indicate undesirable behavior:",
		Information: []string{"UPX String(s) found:", "\tUPX0", "\tUPX1"},
	}, f)

	missing := d.Analyze(context.Background(), FilePath(filepath.Join(dir, "missing.exe")))
	assert.True(t, missing.Empty())
}
