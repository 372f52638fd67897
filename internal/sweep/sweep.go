// Package sweep runs a selection of detectors over one target and collects
// their findings into a Report.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/swarmguard/binscan/core/otelinit"
	"github.com/swarmguard/binscan/detector"
	"github.com/swarmguard/binscan/internal/target"
)

// Result is one detector's contribution to a Report.
type Result struct {
	ID               string           `json:"id"`
	Description      string           `json:"description,omitempty"`
	Finding          detector.Finding `json:"finding"`
	Error            string           `json:"error,omitempty"`
	RulesUnavailable bool             `json:"rules_unavailable,omitempty"`
	DurationMs       float64          `json:"duration_ms"`
}

// Report is the outcome of one sweep. Generation identifies the rules the
// results were produced with (see detector.Catalog.Generation).
type Report struct {
	ID         string            `json:"id"`
	Target     target.Binary     `json:"target"`
	StartedAt  time.Time         `json:"started_at"`
	Duration   time.Duration     `json:"duration_ns"`
	Verdict    detector.Severity `json:"verdict"`
	Results    []Result          `json:"results"`
	Generation string            `json:"generation,omitempty"`
	Cached     bool              `json:"cached,omitempty"`
}

// Flagged returns the results with a non-empty finding.
func (r Report) Flagged() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Finding.Empty() {
			out = append(out, res)
		}
	}
	return out
}

// Runner fans a target out to detectors with bounded parallelism.
type Runner struct {
	catalog *detector.Catalog
	metrics otelinit.Metrics
	stats   *MetricsCollector
	workers int
	now     func() time.Time
}

// NewRunner returns a Runner over catalog. workers <= 0 means one per detector.
func NewRunner(catalog *detector.Catalog, m otelinit.Metrics, stats *MetricsCollector, workers int) *Runner {
	if stats == nil {
		stats = NewMetricsCollector()
	}
	return &Runner{
		catalog: catalog,
		metrics: m,
		stats:   stats,
		workers: workers,
		now:     time.Now,
	}
}

func (r *Runner) Catalog() *detector.Catalog { return r.catalog }
func (r *Runner) Stats() *MetricsCollector    { return r.stats }

// Run analyzes bin with the detectors named by ids (all when empty).
// Detector failures are reported per result; only an unknown id or a
// cancelled context fails the sweep.
func (r *Runner) Run(ctx context.Context, bin target.Binary, ids ...string) (Report, error) {
	dets, err := r.catalog.Select(ids...)
	if err != nil {
		return Report{}, err
	}
	ctx, end := otelinit.WithSpan(ctx, "sweep.run")
	defer end()

	start := r.now()
	report := Report{
		ID:        uuid.NewString(),
		Target:    bin,
		StartedAt: start.UTC(),
		Results:   make([]Result, len(dets)),
	}
	gens := make([]string, len(dets))

	g, gctx := errgroup.WithContext(ctx)
	if r.workers > 0 {
		g.SetLimit(r.workers)
	}
	for i, d := range dets {
		i, d := i, d
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report.Results[i], gens[i] = r.analyze(gctx, d, bin)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	byID := make(map[string]string, len(dets))
	for i, res := range report.Results {
		report.Verdict = detector.Max(report.Verdict, res.Finding.Severity)
		byID[res.ID] = gens[i]
	}
	report.Generation = detector.CombineGenerations(byID)
	report.Duration = r.now().Sub(start)
	r.stats.RecordSweep(bin.Size)
	return report, nil
}

func (r *Runner) analyze(ctx context.Context, d *detector.Detector, bin target.Binary) (Result, string) {
	ctx, end := otelinit.WithSpan(ctx, "detector."+d.ID())
	defer end()

	began := time.Now()
	finding, gen, err := d.ScanGeneration(ctx, bin)
	elapsed := time.Since(began)

	res := Result{
		ID:          d.ID(),
		Description: d.Description(),
		Finding:     finding,
		DurationMs:  float64(elapsed.Microseconds()) / 1000,
	}
	attrs := metric.WithAttributes(attribute.String("detector", d.ID()))
	r.metrics.Analyses.Add(ctx, 1, attrs)
	r.metrics.AnalyzeDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		res.Error = err.Error()
		if errors.Is(err, detector.ErrRulesUnavailable) {
			res.RulesUnavailable = true
			r.metrics.RuleLoadErrors.Add(ctx, 1, attrs)
		} else {
			r.metrics.ScanErrors.Add(ctx, 1, attrs)
			slog.Error("scan failed", "detector", d.ID(), "target", bin.Path(), "error", err)
		}
	}
	if !finding.Empty() {
		r.metrics.Matches.Add(ctx, int64(len(finding.Information)), attrs)
	}
	r.stats.RecordAnalysis(d.ID(), elapsed, !finding.Empty(), err != nil)
	return res, gen
}
