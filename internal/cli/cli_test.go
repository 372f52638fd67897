package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmguard/binscan/detector"
	"github.com/swarmguard/binscan/internal/sweep"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return ExitClean
	}
	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	return exit.Code
}

// workspace writes a config that swaps the builtins for one literal detector.
func workspace(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	rules := filepath.Join(dir, "rules")
	require.NoError(t, os.Mkdir(rules, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rules, "packers.json"),
		[]byte(`{"rules": [{"id": "upx", "meta": {"packer_name": "UPX"}, "strings": [{"text": "UPX0"}, {"text": "UPX1"}], "condition": "all"}]}`), 0o644))
	cfgPath = filepath.Join(dir, "binscan.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
rules_dir: `+rules+`
disabled: [clamav, compilers, peid, strings]
detectors:
  - id: packers
    description: Packer signatures.
    rule_set: packers.json
    summary: "PEiD Signature:"
    severity: suspicious
    field: packer_name
`), 0o644))

	samples := filepath.Join(dir, "samples")
	require.NoError(t, os.Mkdir(samples, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(samples, "packed.exe"), []byte("MZ..UPX0..UPX1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(samples, "clean.exe"), []byte("MZ.."), 0o644))
	return dir, cfgPath
}

func TestVersion(t *testing.T) {
	SetBuildInfo("1.2.3", "abc", "today")
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "binscan 1.2.3\ncommit: abc\nbuilt:  today\n", out)
}

func TestDetectorsList(t *testing.T) {
	out, err := run(t, "--config", writeEmptyConfig(t), "detectors", "list", "--quiet")
	require.NoError(t, err)
	assert.Equal(t, "clamav\ncompilers\npeid\nstrings\n", out)

	out, err = run(t, "--config", writeEmptyConfig(t), "--no-color", "detectors", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "DETECTOR: peid")
	assert.Contains(t, out, "Returns the PEiD signature of the binary.")
}

func TestDetectorsShow(t *testing.T) {
	_, cfgPath := workspace(t)
	out, err := run(t, "--config", cfgPath, "--no-color", "detectors", "show", "packers")
	require.NoError(t, err)
	assert.Contains(t, out, "Severity:     suspicious")
	assert.Contains(t, out, "Field:        packer_name")

	_, err = run(t, "--config", cfgPath, "detectors", "show", "clamav")
	assert.ErrorIs(t, err, detector.ErrUnknownDetector)
}

func TestScanJSON(t *testing.T) {
	dir, cfgPath := workspace(t)
	out, err := run(t, "--config", cfgPath, "scan", "--json", filepath.Join(dir, "samples"))
	assert.Equal(t, ExitFlagged, exitCode(t, err))

	var reports []sweep.Report
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 2)
	byName := map[string]sweep.Report{}
	for _, r := range reports {
		byName[filepath.Base(r.Target.Path())] = r
	}
	assert.Equal(t, detector.SeverityNone, byName["clean.exe"].Verdict)
	packed := byName["packed.exe"]
	assert.Equal(t, detector.SeveritySuspicious, packed.Verdict)
	assert.Equal(t, []string{"UPX"}, packed.Results[0].Finding.Information)
}

func TestScanConsoleAndCache(t *testing.T) {
	dir, cfgPath := workspace(t)
	cache := filepath.Join(dir, "cache", "reports.db")
	sample := filepath.Join(dir, "samples", "packed.exe")

	out, err := run(t, "--config", cfgPath, "--no-color", "scan", "--cache", cache, sample)
	assert.Equal(t, ExitFlagged, exitCode(t, err))
	assert.Contains(t, out, "[SUSPICIOUS] packers: PEiD Signature:")
	assert.NotContains(t, out, "(cached report)")

	out, err = run(t, "--config", cfgPath, "--no-color", "scan", "--cache", cache, sample)
	assert.Equal(t, ExitFlagged, exitCode(t, err))
	assert.Contains(t, out, "(cached report)")
}

func TestScanCacheFollowsRuleEdits(t *testing.T) {
	dir, cfgPath := workspace(t)
	cache := filepath.Join(dir, "cache", "reports.db")
	sample := filepath.Join(dir, "samples", "dropper.exe")
	require.NoError(t, os.WriteFile(sample, []byte("MZ..EVIL"), 0o644))

	_, err := run(t, "--config", cfgPath, "scan", "--cache", cache, sample)
	assert.Equal(t, ExitClean, exitCode(t, err))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules", "packers.json"),
		[]byte(`{"rules": [{"id": "evil", "meta": {"packer_name": "EvilPack"}, "strings": [{"text": "EVIL"}]}]}`), 0o644))

	out, err := run(t, "--config", cfgPath, "--no-color", "scan", "--cache", cache, sample)
	assert.Equal(t, ExitFlagged, exitCode(t, err))
	assert.NotContains(t, out, "(cached report)")
	assert.Contains(t, out, "EvilPack")

	out, err = run(t, "--config", cfgPath, "--no-color", "scan", "--cache", cache, sample)
	assert.Equal(t, ExitFlagged, exitCode(t, err))
	assert.Contains(t, out, "(cached report)")
}

func TestScanExitCodes(t *testing.T) {
	dir, cfgPath := workspace(t)

	_, err := run(t, "--config", cfgPath, "scan", filepath.Join(dir, "samples", "clean.exe"))
	assert.Equal(t, ExitClean, exitCode(t, err))

	_, err = run(t, "--config", cfgPath, "scan", filepath.Join(dir, "samples", "missing.exe"))
	assert.Equal(t, ExitPartial, exitCode(t, err))

	_, err = run(t, "--config", cfgPath, "scan", "--detectors", "bogus", filepath.Join(dir, "samples"))
	assert.Equal(t, ExitFatal, exitCode(t, err))
	assert.ErrorIs(t, err, detector.ErrUnknownDetector)

	// builtins point at .yara rule sets the default engine cannot compile
	out, err := run(t, "--config", writeEmptyConfig(t), "--rules-dir", dir, "--no-color", "scan", filepath.Join(dir, "samples", "clean.exe"))
	assert.Equal(t, ExitPartial, exitCode(t, err))
	assert.True(t, strings.Contains(out, "rules unavailable"), out)

	_, err = run(t, "scan")
	assert.Error(t, err, "a path is required")
}

func writeEmptyConfig(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "binscan.yml")
	require.NoError(t, os.WriteFile(p, []byte("# defaults\n"), 0o644))
	return p
}
