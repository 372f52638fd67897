// Package pipeline ties target resolution, sweeps, the report cache and the
// publisher together. The CLI, the HTTP server and the scheduler all go
// through it.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/swarmguard/binscan/internal/store"
	"github.com/swarmguard/binscan/internal/sweep"
	"github.com/swarmguard/binscan/internal/target"
)

// Cache is satisfied by *store.Cache.
type Cache interface {
	Get(ctx context.Context, key []byte) (sweep.Report, bool, error)
	Put(ctx context.Context, key []byte, rep sweep.Report) error
	Purge(ctx context.Context) (int, error)
}

// Publisher is satisfied by *publish.Publisher.
type Publisher interface {
	Publish(ctx context.Context, rep sweep.Report) error
}

// Pipeline is safe for concurrent use. Cache and Publisher are optional.
type Pipeline struct {
	Runner    *sweep.Runner
	Cache     Cache
	Publisher Publisher
}

// Analyze resolves path and sweeps it, serving unchanged binaries from the
// cache. Fresh reports are stored and published; cache and bus failures are
// logged, never returned.
func (p *Pipeline) Analyze(ctx context.Context, path string, ids ...string) (sweep.Report, error) {
	bin, err := target.Open(path)
	if err != nil {
		return sweep.Report{}, err
	}
	return p.AnalyzeBinary(ctx, bin, ids...)
}

// AnalyzeBinary is Analyze for an already resolved target.
//
// Cached reports are keyed by the rules generation on disk, so an edited rule
// file or a changed detector declaration misses. A fresh report is stored only
// when it was produced by that same generation and the file did not change
// while it was being scanned.
func (p *Pipeline) AnalyzeBinary(ctx context.Context, bin target.Binary, ids ...string) (sweep.Report, error) {
	catalog := p.Runner.Catalog()
	// unknown ids fail before the cache is consulted
	if _, err := catalog.Select(ids...); err != nil {
		return sweep.Report{}, err
	}
	var (
		key []byte
		gen string
	)
	if p.Cache != nil {
		var err error
		if gen, err = catalog.Generation(ids...); err != nil {
			slog.Warn("report cache bypassed", "error", err)
		} else {
			key = store.Key(bin.SHA256, gen, ids)
		}
	}
	if key != nil {
		rep, ok, err := p.Cache.Get(ctx, key)
		if err != nil {
			slog.Warn("report cache read failed", "error", err)
		} else if ok {
			rep.Target = bin
			return rep, nil
		}
	}

	rep, err := p.Runner.Run(ctx, bin, ids...)
	if err != nil {
		return sweep.Report{}, err
	}
	if key != nil && cacheable(rep, gen) {
		if err := p.Cache.Put(ctx, key, rep); err != nil {
			slog.Warn("report cache write failed", "error", err)
		}
	}
	if p.Publisher != nil {
		if err := p.Publisher.Publish(ctx, rep); err != nil {
			slog.Warn("report publish failed", "report", rep.ID, "error", err)
		}
	}
	return rep, nil
}

// cacheable rejects reports with detector errors, reports produced by rules
// other than generation gen, and targets modified since they were hashed.
func cacheable(rep sweep.Report, gen string) bool {
	for _, r := range rep.Results {
		if r.Error != "" {
			return false
		}
	}
	if rep.Generation != gen {
		slog.Debug("report not cached, loaded rules differ from disk", "report", rep.ID)
		return false
	}
	changed, err := rep.Target.Changed()
	if err != nil || changed {
		slog.Debug("report not cached, target changed during sweep", "report", rep.ID, "path", rep.Target.Path())
		return false
	}
	return true
}

// Invalidate purges cached reports, typically after a rule change.
func (p *Pipeline) Invalidate(ctx context.Context) {
	if p.Cache == nil {
		return
	}
	n, err := p.Cache.Purge(ctx)
	if err != nil {
		slog.Warn("report cache purge failed", "error", err)
		return
	}
	slog.Info("report cache purged", "reports", n)
}

// Reload resets the given detectors (all when empty) and purges the cache.
func (p *Pipeline) Reload(ctx context.Context, ids ...string) error {
	if err := p.Runner.Catalog().Reset(ids...); err != nil {
		return err
	}
	p.Invalidate(ctx)
	return nil
}
