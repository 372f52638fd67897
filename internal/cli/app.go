package cli

import (
	"context"
	"log/slog"

	"github.com/swarmguard/binscan/core/otelinit"
	"github.com/swarmguard/binscan/detector"
	"github.com/swarmguard/binscan/internal/config"
	"github.com/swarmguard/binscan/internal/pipeline"
	"github.com/swarmguard/binscan/internal/publish"
	"github.com/swarmguard/binscan/internal/store"
	"github.com/swarmguard/binscan/internal/sweep"
)

// app is the object graph shared by scan and serve.
type app struct {
	cfg      config.RuntimeConfig
	catalog  *detector.Catalog
	pipeline *pipeline.Pipeline
	cache    *store.Cache
	pub      *publish.Publisher
}

func buildCatalog(cfg config.RuntimeConfig) (*detector.Catalog, error) {
	return detector.NewBuiltinCatalog(engineFactory(cfg.ScanTimeout), cfg.RulesDir, cfg.Detectors, cfg.Disabled...)
}

// buildApp opens the cache when a path is configured and connects the
// publisher when withBus is set and a NATS URL is configured. A bus that
// cannot be reached is logged and skipped.
func buildApp(cfg config.RuntimeConfig, m otelinit.Metrics, withBus bool) (*app, error) {
	cat, err := buildCatalog(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		catalog: cat,
		pipeline: &pipeline.Pipeline{
			Runner: sweep.NewRunner(cat, m, nil, cfg.Workers),
		},
	}
	if cfg.CachePath != "" {
		c, err := store.Open(cfg.CachePath, m)
		if err != nil {
			return nil, err
		}
		a.cache = c
		a.pipeline.Cache = c
	}
	if withBus && cfg.NATSURL != "" {
		p, err := publish.Connect(cfg.NATSURL, cfg.NATSSubject, m)
		if err != nil {
			slog.Warn("publisher disabled", "error", err)
		} else {
			p.OnlyFlagged = cfg.PublishFlagged
			a.pub = p
			a.pipeline.Publisher = p
		}
	}
	return a, nil
}

func (a *app) Close() {
	if a.pub != nil {
		a.pub.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Warn("report cache close failed", "error", err)
		}
	}
}

// Invalidate is the watcher callback.
func (a *app) Invalidate(ctx context.Context, ids []string) {
	a.pipeline.Invalidate(ctx)
}
