package sweep

import (
	"sort"
	"sync"
	"time"
)

// MetricsCollector keeps in-process sweep statistics for the /stats endpoint.
// The otel instruments carry the same signals to the collector.
type MetricsCollector struct {
	mu sync.RWMutex

	totalSweeps   int64
	totalAnalyses int64
	totalFindings int64
	totalErrors   int64
	bytesScanned  int64

	// buckets: <1ms, <10ms, <100ms, <1s, >=1s
	latency []int64

	// detector id -> non-empty findings
	hits map[string]int64

	recent []sweepStat
	window time.Duration
	now    func() time.Time
}

type sweepStat struct {
	at    time.Time
	bytes int64
}

// NewMetricsCollector initializes a collector with a 60s throughput window.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		latency: make([]int64, 5),
		hits:    make(map[string]int64),
		window:  60 * time.Second,
		now:     time.Now,
	}
}

// RecordAnalysis records one detector run.
func (m *MetricsCollector) RecordAnalysis(detectorID string, d time.Duration, matched, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalAnalyses++
	m.latency[latencyBucket(d)]++
	if matched {
		m.totalFindings++
		m.hits[detectorID]++
	}
	if failed {
		m.totalErrors++
	}
}

// RecordSweep records a finished sweep over a target of the given size.
func (m *MetricsCollector) RecordSweep(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSweeps++
	m.bytesScanned += bytes
	now := m.now()
	m.recent = append(m.recent, sweepStat{at: now, bytes: bytes})
	m.prune(now)
}

func latencyBucket(d time.Duration) int {
	switch {
	case d < time.Millisecond:
		return 0
	case d < 10*time.Millisecond:
		return 1
	case d < 100*time.Millisecond:
		return 2
	case d < time.Second:
		return 3
	default:
		return 4
	}
}

func (m *MetricsCollector) prune(now time.Time) {
	cutoff := now.Add(-m.window)
	i := 0
	for i < len(m.recent) && m.recent[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.recent = m.recent[i:]
	}
}

// Snapshot is a point-in-time view of the collector.
type Snapshot struct {
	TotalSweeps        int64          `json:"total_sweeps"`
	TotalAnalyses      int64          `json:"total_analyses"`
	TotalFindings      int64          `json:"total_findings"`
	TotalErrors        int64          `json:"total_errors"`
	BytesScanned       int64          `json:"bytes_scanned"`
	LatencyHistogram   []int64        `json:"latency_histogram"` // [<1ms, <10ms, <100ms, <1s, >=1s]
	RecentSweepsPerSec float64        `json:"recent_sweeps_per_sec"`
	RecentBytesPerSec  float64        `json:"recent_bytes_per_sec"`
	TopDetectors       []DetectorHits `json:"top_detectors"`
}

// DetectorHits counts non-empty findings of one detector.
type DetectorHits struct {
	ID   string `json:"id"`
	Hits int64  `json:"hits"`
}

// Snapshot returns current statistics.
func (m *MetricsCollector) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(m.now())

	s := Snapshot{
		TotalSweeps:      m.totalSweeps,
		TotalAnalyses:    m.totalAnalyses,
		TotalFindings:    m.totalFindings,
		TotalErrors:      m.totalErrors,
		BytesScanned:     m.bytesScanned,
		LatencyHistogram: append([]int64(nil), m.latency...),
		TopDetectors:     m.top(10),
	}
	if len(m.recent) > 0 {
		var bytes int64
		for _, r := range m.recent {
			bytes += r.bytes
		}
		elapsed := m.now().Sub(m.recent[0].at).Seconds()
		if elapsed > 0 {
			s.RecentSweepsPerSec = float64(len(m.recent)) / elapsed
			s.RecentBytesPerSec = float64(bytes) / elapsed
		}
	}
	return s
}

func (m *MetricsCollector) top(n int) []DetectorHits {
	out := make([]DetectorHits, 0, len(m.hits))
	for id, hits := range m.hits {
		out = append(out, DetectorHits{ID: id, Hits: hits})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hits != out[j].Hits {
			return out[i].Hits > out[j].Hits
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
