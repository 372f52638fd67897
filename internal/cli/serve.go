package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/swarmguard/binscan/core/otelinit"
	"github.com/swarmguard/binscan/core/resilience"
	"github.com/swarmguard/binscan/internal/config"
	"github.com/swarmguard/binscan/internal/schedule"
	"github.com/swarmguard/binscan/internal/server"
	"github.com/swarmguard/binscan/internal/watch"
)

const service = "binscan"

func newServeCommand(g *globalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Long: `Run the HTTP service.

Routes:
  GET  /health                liveness
  GET  /v1/detectors          detectors with rule-set state
  POST /v1/analyze            {"path": "...", "detectors": ["..."]}, rate limited
  POST /v1/detectors/reload   {"detectors": ["..."]} or empty for all
  GET  /stats                 sweep, cache, watcher and schedule statistics

With watch_rules enabled, editing a rule file resets the detectors bound to it.
Schedules declared in the config sweep their paths on a cron (seconds field).
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(config.Overrides{Listen: listen})
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default :8080)")
	return cmd
}

func serve(ctx context.Context, cfg config.RuntimeConfig) error {
	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, metrics := otelinit.InitMetrics(ctx, service)

	a, err := buildApp(cfg, metrics, true)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(a.pipeline, resilience.NewRateLimiter(cfg.RateLimitBurst, cfg.RateLimitPerSec))
	if a.cache != nil {
		srv.AddStats("cache", func() any { return a.cache.Stats() })
	}
	if a.pub != nil {
		srv.AddStats("publisher", func() any { return map[string]string{"breaker": a.pub.BreakerState()} })
	}

	if cfg.WatchRules {
		w, err := watch.New(cfg.RulesDir, a.catalog, a.Invalidate)
		if err != nil {
			return fmt.Errorf("watch rules: %w", err)
		}
		go w.Run(ctx)
		defer w.Close()
		srv.AddStats("watcher", func() any { return w.Metadata() })
		slog.Info("watching rules", "dir", cfg.RulesDir)
	}

	sched := schedule.New(a.pipeline)
	for _, sc := range cfg.Schedules {
		if err := sched.Add(sc); err != nil {
			return err
		}
	}
	if len(cfg.Schedules) > 0 {
		sched.Start()
		srv.AddStats("schedules", func() any { return sched.Last() })
	}

	slog.Info("service started", "detectors", len(a.catalog.List()), "rules_dir", cfg.RulesDir)
	err = srv.ListenAndServe(ctx, cfg.Listen)
	slog.Info("shutdown initiated")

	ctxSd, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if len(cfg.Schedules) > 0 {
		_ = sched.Stop(ctxSd)
	}
	otelinit.Flush(ctxSd, shutdownTrace)
	_ = shutdownMetrics(ctxSd)
	slog.Info("shutdown complete")
	return err
}
