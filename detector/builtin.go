package detector

import "github.com/swarmguard/binscan/scanner"

// Builtins are the detectors shipped with binscan. Rule sets are relative to
// the configured rules directory.
var Builtins = []Config{
	{
		ID:          "clamav",
		Description: "Scans the binary with ClamAV virus definitions.",
		RuleSet:     "clamav.yara",
		Summary:     "Matching ClamAV signature(s):",
		Severity:    SeverityMalicious,
		Field:       "signature",
	},
	{
		ID:          "compilers",
		Description: "Tries to determine which compiler generated the binary.",
		RuleSet:     "compilers.yara",
		Summary:     "Matching compiler(s):",
		Severity:    SeverityInfo,
		Field:       "description",
	},
	{
		ID:          "peid",
		Description: "Returns the PEiD signature of the binary.",
		RuleSet:     "peid.yara",
		Summary:     "PEiD Signature:",
		Severity:    SeveritySuspicious,
		Field:       "packer_name",
	},
	{
		ID:          "strings",
		Description: "Looks for suspicious strings (anti-VM, process names...).",
		RuleSet:     "suspicious_strings.yara",
		Summary:     "Strings found in the binary may indicate undesirable behavior:",
		Severity:    SeveritySuspicious,
		Field:       "description",
		ShowStrings: true,
	},
}

// NewBuiltinCatalog registers the builtins followed by extra declarations.
// An extra detector reusing a builtin id is a duplicate and fails.
func NewBuiltinCatalog(engine scanner.Engine, rulesDir string, extra []Config, disabled ...string) (*Catalog, error) {
	skip := disabledSet(disabled)
	c := NewCatalog()
	for _, cfg := range Builtins {
		if _, ok := skip[cfg.ID]; ok {
			continue
		}
		d, err := New(cfg.Resolve(rulesDir), engine)
		if err != nil {
			panic(err)
		}
		c.MustRegister(d)
	}
	if err := c.registerConfigs(engine, rulesDir, extra, skip); err != nil {
		return nil, err
	}
	return c, nil
}
