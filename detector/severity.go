package detector

import (
	"fmt"
	"strings"
)

// Severity is the ordinal threat level of a Finding.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityInfo
	SeveritySuspicious
	SeverityMalicious
)

var severityNames = [...]string{
	SeverityNone:       "none",
	SeverityInfo:       "info",
	SeveritySuspicious: "suspicious",
	SeverityMalicious:  "malicious",
}

func (s Severity) String() string {
	if s < SeverityNone || s > SeverityMalicious {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity accepts the names above, case-insensitively. "informational"
// and "no_opinion" are accepted as aliases.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return SeverityNone, nil
	case "info", "informational", "no_opinion":
		return SeverityInfo, nil
	case "suspicious":
		return SeveritySuspicious, nil
	case "malicious":
		return SeverityMalicious, nil
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", s)
}

func (s Severity) MarshalText() ([]byte, error) {
	if s < SeverityNone || s > SeverityMalicious {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Max returns the higher of two severities.
func Max(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}
