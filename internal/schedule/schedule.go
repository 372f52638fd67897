// Package schedule sweeps configured paths on cron schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/binscan/internal/sweep"
	"github.com/swarmguard/binscan/internal/target"
)

// ErrUnknownSchedule is returned by RunNow for an unregistered name.
var ErrUnknownSchedule = errors.New("unknown schedule")

// Config is one scheduled sweep.
type Config struct {
	Name      string   `yaml:"name" json:"name"`
	Cron      string   `yaml:"cron" json:"cron"` // with seconds: "0 */15 * * * *"
	Paths     []string `yaml:"paths" json:"paths"`
	Detectors []string `yaml:"detectors,omitempty" json:"detectors,omitempty"`
}

// Analyzer is satisfied by *pipeline.Pipeline.
type Analyzer interface {
	AnalyzeBinary(ctx context.Context, bin target.Binary, ids ...string) (sweep.Report, error)
}

// RunStats summarizes the latest run of a schedule.
type RunStats struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	Files    int           `json:"files"`
	Flagged  int           `json:"flagged"`
	Errors   int           `json:"errors"`
}

// Scheduler wraps a seconds-precision cron.
type Scheduler struct {
	cron     *cron.Cron
	analyzer Analyzer

	// ctx is the parent of every cron-triggered sweep; Stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	configs map[string]Config
	last    map[string]RunStats

	runs  metric.Int64Counter
	fails metric.Int64Counter
}

// New returns a stopped scheduler. Overlapping runs of one schedule are skipped.
func New(analyzer Analyzer) *Scheduler {
	logger := slogLogger{}
	meter := otel.Meter("binscan")
	runs, _ := meter.Int64Counter("binscan_schedule_runs_total")
	fails, _ := meter.Int64Counter("binscan_schedule_file_errors_total")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		analyzer: analyzer,
		ctx:      ctx,
		cancel:   cancel,
		configs:  make(map[string]Config),
		last:     make(map[string]RunStats),
		runs:     runs,
		fails:    fails,
	}
}

// Add registers cfg. Names must be unique.
func (s *Scheduler) Add(cfg Config) error {
	if cfg.Name == "" {
		cfg.Name = cfg.Cron
	}
	if len(cfg.Paths) == 0 {
		return fmt.Errorf("schedule %q: no paths", cfg.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.configs[cfg.Name]; exists {
		return fmt.Errorf("schedule %q: duplicate name", cfg.Name)
	}
	id, err := s.cron.AddFunc(cfg.Cron, func() {
		s.run(s.ctx, cfg)
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", cfg.Name, err)
	}
	s.configs[cfg.Name] = cfg
	slog.Info("cron schedule added", "schedule", cfg.Name, "cron", cfg.Cron, "entry_id", id)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "entries", len(s.cron.Entries()))
}

// Stop cancels running sweeps and waits for them to return or for ctx,
// whichever comes first. The scheduler cannot be restarted.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	s.cancel()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		slog.Warn("scheduler stop timeout")
		return ctx.Err()
	}
}

// RunNow executes the named schedule synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) (RunStats, error) {
	s.mu.RLock()
	cfg, ok := s.configs[name]
	s.mu.RUnlock()
	if !ok {
		return RunStats{}, fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	return s.run(ctx, cfg), nil
}

func (s *Scheduler) run(ctx context.Context, cfg Config) RunStats {
	st := RunStats{Name: cfg.Name, Started: time.Now()}
	attrs := metric.WithAttributes(attribute.String("schedule", cfg.Name))
	s.runs.Add(ctx, 1, attrs)

	fail := func(path string, err error) {
		st.Errors++
		s.fails.Add(ctx, 1, attrs)
		slog.Warn("scheduled sweep skipped file", "schedule", cfg.Name, "path", path, "error", err)
	}
	for _, root := range cfg.Paths {
		bins, err := target.Walk(root, fail)
		if err != nil {
			fail(root, err)
			continue
		}
		for _, bin := range bins {
			if ctx.Err() != nil {
				break
			}
			rep, err := s.analyzer.AnalyzeBinary(ctx, bin, cfg.Detectors...)
			if err != nil {
				fail(bin.Path(), err)
				continue
			}
			st.Files++
			if len(rep.Flagged()) > 0 {
				st.Flagged++
				slog.Info("scheduled sweep flagged file", "schedule", cfg.Name, "path", bin.Path(), "verdict", rep.Verdict.String())
			}
		}
	}
	st.Duration = time.Since(st.Started)
	slog.Info("scheduled sweep finished", "schedule", cfg.Name, "files", st.Files, "flagged", st.Flagged, "errors", st.Errors, "duration", st.Duration)

	s.mu.Lock()
	s.last[cfg.Name] = st
	s.mu.Unlock()
	return st
}

// Last returns the latest run of every schedule that has run, by name.
func (s *Scheduler) Last() []RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunStats, 0, len(s.last))
	for _, st := range s.last {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// slogLogger adapts slog to cron.Logger.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
