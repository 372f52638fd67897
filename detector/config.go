package detector

import (
	"fmt"
	"path/filepath"
)

// Config fully describes a detector. Adding a detector means declaring one of
// these; there is no per-detector code.
type Config struct {
	ID          string   `yaml:"id" json:"id"`
	Description string   `yaml:"description" json:"description"`
	RuleSet     string   `yaml:"rule_set" json:"rule_set"`
	Summary     string   `yaml:"summary" json:"summary"`
	Severity    Severity `yaml:"severity" json:"severity"`
	Field       string   `yaml:"field" json:"field"`
	ShowStrings bool     `yaml:"show_strings" json:"show_strings"`
}

// Descriptor identifies a detector in a catalog.
type Descriptor struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Validate checks the fields a detector cannot work without.
func (c Config) Validate() error {
	switch {
	case c.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidConfig)
	case c.RuleSet == "":
		return fmt.Errorf("%w: %s: empty rule set", ErrInvalidConfig, c.ID)
	case c.Field == "":
		return fmt.Errorf("%w: %s: empty metadata field", ErrInvalidConfig, c.ID)
	case c.Summary == "":
		return fmt.Errorf("%w: %s: empty summary", ErrInvalidConfig, c.ID)
	case c.Severity < SeverityNone || c.Severity > SeverityMalicious:
		return fmt.Errorf("%w: %s: severity out of range", ErrInvalidConfig, c.ID)
	}
	return nil
}

// Resolve returns a copy whose relative rule set is joined onto dir.
func (c Config) Resolve(dir string) Config {
	if dir != "" && !filepath.IsAbs(c.RuleSet) {
		c.RuleSet = filepath.Join(dir, c.RuleSet)
	}
	return c
}
