package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmguard/binscan/detector"
)

const sample = `
rules_dir: /srv/rules
scan_timeout: 30s
workers: 8
cache_path: /var/lib/binscan/reports.db
nats:
  url: nats://127.0.0.1:4222
  flagged_only: true
watch_rules: true
rate_limit:
  burst: 50
  per_sec: 10
disabled: clamav, compilers
detectors:
  - id: signed
    description: Flags known signers.
    rule_set: signers.json
    summary: "Known signer:"
    severity: info
    field: vendor
schedules:
  - name: nightly
    cron: "0 0 3 * * *"
    paths: [/usr/local/bin]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "binscan.yml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoaderDefaults(t *testing.T) {
	cfg, err := Loader{ConfigPath: writeConfig(t, "# empty\n")}.Load(Overrides{})
	require.NoError(t, err)
	assert.Equal(t, DefaultRuntimeConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoaderFileEnvAndFlags(t *testing.T) {
	path := writeConfig(t, sample)
	t.Setenv(envWorkers, "2")
	t.Setenv(envNATSSubject, "scans")

	listen := ":9090"
	cfg, err := Loader{ConfigPath: path}.Load(Overrides{Listen: listen, RulesDir: "/override"})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/override", cfg.RulesDir, "flags beat the file")
	assert.Equal(t, listen, cfg.Listen)
	assert.Equal(t, 30*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 2, cfg.Workers, "env beats the file")
	assert.Equal(t, "/var/lib/binscan/reports.db", cfg.CachePath)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	assert.Equal(t, "scans", cfg.NATSSubject)
	assert.True(t, cfg.PublishFlagged)
	assert.True(t, cfg.WatchRules)
	assert.Equal(t, int64(50), cfg.RateLimitBurst)
	assert.Equal(t, 10.0, cfg.RateLimitPerSec)
	assert.Equal(t, []string{"clamav", "compilers"}, cfg.Disabled)

	require.Len(t, cfg.Detectors, 1)
	assert.Equal(t, "signed", cfg.Detectors[0].ID)
	assert.Equal(t, detector.SeverityInfo, cfg.Detectors[0].Severity)

	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, []string{"/usr/local/bin"}, cfg.Schedules[0].Paths)
}

func TestLoaderErrors(t *testing.T) {
	_, err := Loader{ConfigPath: filepath.Join(t.TempDir(), "missing.yml")}.Load(Overrides{})
	assert.ErrorIs(t, err, os.ErrNotExist, "an explicit path must exist")

	_, err = Loader{ConfigPath: writeConfig(t, "scan_timeout: soon\n")}.Load(Overrides{})
	assert.Error(t, err)

	_, err = Loader{ConfigPath: writeConfig(t, "detectors:\n  - id: x\n    severity: critical\n")}.Load(Overrides{})
	assert.Error(t, err)

	t.Setenv(envWorkers, "many")
	_, err = Loader{ConfigPath: writeConfig(t, "")}.Load(Overrides{})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultRuntimeConfig()
	cfg.Workers = 100
	assert.Error(t, cfg.Validate())

	cfg = DefaultRuntimeConfig()
	cfg.NATSURL = "nats://x"
	cfg.NATSSubject = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultRuntimeConfig()
	cfg.ScanTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("BINSCAN_TEST_DOTENV=loaded\n"), 0o600))
	t.Setenv("BINSCAN_TEST_DOTENV", "")
	os.Unsetenv("BINSCAN_TEST_DOTENV")

	assert.Equal(t, env, LoadDotEnv(filepath.Join(dir, "none"), env))
	assert.Equal(t, "loaded", os.Getenv("BINSCAN_TEST_DOTENV"))
	assert.Empty(t, LoadDotEnv(filepath.Join(dir, "none")))
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, ParseList(" a, b\nc ,"))
	assert.Nil(t, ParseList(" , "))
}
