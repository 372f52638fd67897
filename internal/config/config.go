// Package config merges the YAML config file, .env files, BINSCAN_* variables
// and CLI flags, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/swarmguard/binscan/detector"
	"github.com/swarmguard/binscan/internal/schedule"
)

const (
	DefaultConfigPath = "binscan.yml"

	envConfig      = "BINSCAN_CONFIG"
	envRulesDir    = "BINSCAN_RULES_DIR"
	envListen      = "BINSCAN_LISTEN"
	envScanTimeout = "BINSCAN_SCAN_TIMEOUT"
	envWorkers     = "BINSCAN_WORKERS"
	envCachePath   = "BINSCAN_CACHE_PATH"
	envNATSURL     = "BINSCAN_NATS_URL"
	envNATSSubject = "BINSCAN_NATS_SUBJECT"
	envWatchRules  = "BINSCAN_WATCH_RULES"
	envDisabled    = "BINSCAN_DISABLED"
)

// Loader merges configuration coming from files, environment variables, and CLI flags.
type Loader struct {
	ConfigPath string
}

// RuntimeConfig is the fully merged configuration.
type RuntimeConfig struct {
	RulesDir    string
	Listen      string
	ScanTimeout time.Duration
	Workers     int
	CachePath   string

	NATSURL         string
	NATSSubject     string
	PublishFlagged  bool
	WatchRules      bool
	RateLimitBurst  int64
	RateLimitPerSec float64

	Detectors []detector.Config
	Disabled  []string
	Schedules []schedule.Config
}

// Overrides captures values coming from the file, env vars or CLI flags.
// Zero values mean "not set"; pointers are used where zero is meaningful.
type Overrides struct {
	RulesDir        string
	Listen          string
	ScanTimeout     time.Duration
	Workers         *int
	CachePath       string
	NATSURL         string
	NATSSubject     string
	PublishFlagged  *bool
	WatchRules      *bool
	RateLimitBurst  int64
	RateLimitPerSec float64
	Detectors       []detector.Config
	Disabled        []string
	Schedules       []schedule.Config
}

// DefaultRuntimeConfig returns the baseline configuration.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		RulesDir:        "yara_rules",
		Listen:          ":8080",
		ScanTimeout:     60 * time.Second,
		Workers:         4,
		NATSSubject:     "binscan.findings",
		RateLimitBurst:  20,
		RateLimitPerSec: 5,
	}
}

// LoadDotEnv loads the first .env file found. Variables already set win.
// It returns the path that was loaded, or "".
func LoadDotEnv(paths ...string) string {
	if len(paths) == 0 {
		paths = []string{".env", "../.env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err == nil {
			return p
		}
	}
	return ""
}

// Load resolves the final runtime configuration.
func (l Loader) Load(override Overrides) (RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()
	path := l.ConfigPath
	explicit := path != ""
	if !explicit {
		path = os.Getenv(envConfig)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultConfigPath
	}

	if fileExists(path) {
		fileOv, err := loadFromFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
		cfg.apply(fileOv)
	} else if explicit {
		return cfg, fmt.Errorf("config %s: %w", path, os.ErrNotExist)
	}

	envOv, err := overridesFromEnv()
	if err != nil {
		return cfg, err
	}
	cfg.apply(envOv)
	cfg.apply(override)
	return cfg, nil
}

// Validate checks ranges; detector declarations are validated by the catalog.
func (c RuntimeConfig) Validate() error {
	if c.RulesDir == "" {
		return errors.New("rules directory cannot be empty")
	}
	if c.Workers < 0 || c.Workers > 64 {
		return fmt.Errorf("workers must be between 0 and 64 (got %d)", c.Workers)
	}
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scan timeout must be positive (got %s)", c.ScanTimeout)
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return errors.New("nats subject cannot be empty when a nats url is set")
	}
	if c.RateLimitBurst < 1 || c.RateLimitPerSec <= 0 {
		return errors.New("rate limit burst and rate must be positive")
	}
	return nil
}

func (c *RuntimeConfig) apply(src Overrides) {
	if src.RulesDir != "" {
		c.RulesDir = src.RulesDir
	}
	if src.Listen != "" {
		c.Listen = src.Listen
	}
	if src.ScanTimeout > 0 {
		c.ScanTimeout = src.ScanTimeout
	}
	if src.Workers != nil {
		c.Workers = *src.Workers
	}
	if src.CachePath != "" {
		c.CachePath = src.CachePath
	}
	if src.NATSURL != "" {
		c.NATSURL = src.NATSURL
	}
	if src.NATSSubject != "" {
		c.NATSSubject = src.NATSSubject
	}
	if src.PublishFlagged != nil {
		c.PublishFlagged = *src.PublishFlagged
	}
	if src.WatchRules != nil {
		c.WatchRules = *src.WatchRules
	}
	if src.RateLimitBurst > 0 {
		c.RateLimitBurst = src.RateLimitBurst
	}
	if src.RateLimitPerSec > 0 {
		c.RateLimitPerSec = src.RateLimitPerSec
	}
	if len(src.Detectors) > 0 {
		c.Detectors = src.Detectors
	}
	if len(src.Disabled) > 0 {
		c.Disabled = cleanList(src.Disabled)
	}
	if len(src.Schedules) > 0 {
		c.Schedules = src.Schedules
	}
}

func loadFromFile(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Overrides{}, err
	}

	type rawConfig struct {
		RulesDir    string `yaml:"rules_dir"`
		Listen      string `yaml:"listen"`
		ScanTimeout string `yaml:"scan_timeout"`
		Workers     *int   `yaml:"workers"`
		CachePath   string `yaml:"cache_path"`
		NATS        struct {
			URL         string `yaml:"url"`
			Subject     string `yaml:"subject"`
			FlaggedOnly *bool  `yaml:"flagged_only"`
		} `yaml:"nats"`
		WatchRules *bool `yaml:"watch_rules"`
		RateLimit  struct {
			Burst  int64   `yaml:"burst"`
			PerSec float64 `yaml:"per_sec"`
		} `yaml:"rate_limit"`
		Detectors []detector.Config `yaml:"detectors"`
		Disabled  stringList        `yaml:"disabled"`
		Schedules []schedule.Config `yaml:"schedules"`
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Overrides{}, err
	}

	over := Overrides{
		RulesDir:        raw.RulesDir,
		Listen:          raw.Listen,
		Workers:         raw.Workers,
		CachePath:       raw.CachePath,
		NATSURL:         raw.NATS.URL,
		NATSSubject:     raw.NATS.Subject,
		PublishFlagged:  raw.NATS.FlaggedOnly,
		WatchRules:      raw.WatchRules,
		RateLimitBurst:  raw.RateLimit.Burst,
		RateLimitPerSec: raw.RateLimit.PerSec,
		Detectors:       raw.Detectors,
		Disabled:        raw.Disabled,
		Schedules:       raw.Schedules,
	}
	if raw.ScanTimeout != "" {
		d, err := time.ParseDuration(raw.ScanTimeout)
		if err != nil {
			return Overrides{}, fmt.Errorf("scan_timeout: %w", err)
		}
		over.ScanTimeout = d
	}
	return over, nil
}

func overridesFromEnv() (Overrides, error) {
	ov := Overrides{
		RulesDir:    os.Getenv(envRulesDir),
		Listen:      os.Getenv(envListen),
		CachePath:   os.Getenv(envCachePath),
		NATSURL:     os.Getenv(envNATSURL),
		NATSSubject: os.Getenv(envNATSSubject),
	}
	if value := os.Getenv(envScanTimeout); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return ov, fmt.Errorf("%s: %w", envScanTimeout, err)
		}
		ov.ScanTimeout = d
	}
	if value := os.Getenv(envWorkers); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return ov, fmt.Errorf("%s: %w", envWorkers, err)
		}
		ov.Workers = &n
	}
	if value := os.Getenv(envWatchRules); value != "" {
		parsed := strings.EqualFold(value, "true") || value == "1"
		ov.WatchRules = &parsed
	}
	if value := os.Getenv(envDisabled); value != "" {
		ov.Disabled = ParseList(value)
	}
	return ov, nil
}

// ParseList splits comma or whitespace separated ids.
func ParseList(input string) []string {
	return cleanList(strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\r' || r == '\t'
	}))
}

func cleanList(values []string) []string {
	var out []string
	for _, v := range values {
		if candidate := strings.TrimSpace(v); candidate != "" {
			out = append(out, candidate)
		}
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// stringList accepts a YAML scalar ("a, b") or a sequence.
type stringList []string

func (s *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var out []string
		for _, node := range value.Content {
			out = append(out, node.Value)
		}
		*s = cleanList(out)
	case yaml.ScalarNode:
		*s = ParseList(value.Value)
	default:
		return fmt.Errorf("unsupported YAML type for list")
	}
	return nil
}
