package detector

import (
	"errors"
	"fmt"
)

var (
	// ErrRulesUnavailable is matched by every rule-load failure, including
	// the cached one returned after the first attempt failed.
	ErrRulesUnavailable = errors.New("rules unavailable")
	// ErrDuplicateID is returned when a catalog already holds a detector id.
	ErrDuplicateID = errors.New("duplicate detector id")
	// ErrUnknownDetector is returned by catalog lookups.
	ErrUnknownDetector = errors.New("unknown detector")
	// ErrInvalidConfig is wrapped by Config.Validate failures.
	ErrInvalidConfig = errors.New("invalid detector config")
)

// RuleLoadError reports a rule set that could not be compiled.
type RuleLoadError struct {
	Detector string
	RuleSet  string
	Err      error
}

func (e *RuleLoadError) Error() string {
	return fmt.Sprintf("detector %s: could not load %s: %v", e.Detector, e.RuleSet, e.Err)
}

func (e *RuleLoadError) Unwrap() []error { return []error{ErrRulesUnavailable, e.Err} }

// ScanError reports a target the engine could not process.
type ScanError struct {
	Detector string
	Target   string
	Err      error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("detector %s: scan %s: %v", e.Detector, e.Target, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }
