package detector

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/swarmguard/binscan/scanner"
)

// Catalog holds the detectors available to a host, in registration order.
type Catalog struct {
	mu    sync.RWMutex
	byID  map[string]*Detector
	order []*Detector
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{byID: make(map[string]*Detector)}
}

// Register adds d. An id that is already taken is rejected, never overwritten.
func (c *Catalog) Register(d *Detector) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byID[d.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, d.ID())
	}
	c.byID[d.ID()] = d
	c.order = append(c.order, d)
	return nil
}

// MustRegister is Register for static declarations; it panics on error.
func (c *Catalog) MustRegister(d *Detector) {
	if err := c.Register(d); err != nil {
		panic(err)
	}
}

// Lookup returns the detector registered under id.
func (c *Catalog) Lookup(id string) (*Detector, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byID[id]
	return d, ok
}

// List returns every detector in registration order.
func (c *Catalog) List() []*Detector {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Detector, len(c.order))
	copy(out, c.order)
	return out
}

// Descriptors lists ids and descriptions in registration order.
func (c *Catalog) Descriptors() []Descriptor {
	list := c.List()
	out := make([]Descriptor, 0, len(list))
	for _, d := range list {
		out = append(out, d.Descriptor())
	}
	return out
}

// Select resolves ids in the order given. No ids selects everything.
func (c *Catalog) Select(ids ...string) ([]*Detector, error) {
	if len(ids) == 0 {
		return c.List(), nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Detector, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		d, ok := c.byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDetector, id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}

// Reset reloads the rules of the given detectors on their next scan; no ids resets all.
func (c *Catalog) Reset(ids ...string) error {
	list, err := c.Select(ids...)
	if err != nil {
		return err
	}
	for _, d := range list {
		d.Reset()
	}
	return nil
}

// ResetRuleSet resets every detector whose rule set is path or lives under it.
// It returns the ids that were reset.
func (c *Catalog) ResetRuleSet(path string) []string {
	path = filepath.Clean(path)
	var reset []string
	for _, d := range c.List() {
		rs := filepath.Clean(d.Config().RuleSet)
		if rs == path || isWithin(path, rs) {
			d.Reset()
			reset = append(reset, d.ID())
		}
	}
	return reset
}

// isWithin reports whether file lies below dir.
func isWithin(file, dir string) bool {
	rel, err := filepath.Rel(dir, file)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// FromConfigs builds a catalog from declarations. Rule sets are resolved
// against rulesDir; ids listed in disabled are skipped.
func FromConfigs(engine scanner.Engine, rulesDir string, configs []Config, disabled ...string) (*Catalog, error) {
	c := NewCatalog()
	if err := c.registerConfigs(engine, rulesDir, configs, disabledSet(disabled)); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) registerConfigs(engine scanner.Engine, rulesDir string, configs []Config, skip map[string]struct{}) error {
	for _, cfg := range configs {
		if _, ok := skip[cfg.ID]; ok {
			continue
		}
		d, err := New(cfg.Resolve(rulesDir), engine)
		if err != nil {
			return err
		}
		if err := c.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func disabledSet(ids []string) map[string]struct{} {
	skip := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		skip[id] = struct{}{}
	}
	return skip
}
