// Package store persists sweep reports keyed by target digest so unchanged
// binaries are not rescanned until the rules change.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/binscan/core/otelinit"
	"github.com/swarmguard/binscan/internal/sweep"
)

var bucketReports = []byte("reports")

// Cache is a bbolt-backed report store with a bloom filter in front.
type Cache struct {
	db      *bbolt.DB
	bloom   *BloomFilter
	metrics otelinit.Metrics
}

// Open opens (or creates) the database at path and warms the bloom filter.
func Open(path string, m otelinit.Metrics) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketReports)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	c := &Cache{db: db, bloom: NewBloomFilter(100_000, 0.01), metrics: m}
	err = db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReports).ForEach(func(k, _ []byte) error {
			c.bloom.Add(k)
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("warm bloom: %w", err)
	}
	return c, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// Key identifies a report by target digest, rules generation and detector
// selection. An empty selection means every detector.
func Key(sha256, generation string, ids []string) []byte {
	sel := "*"
	if len(ids) > 0 {
		sorted := append([]string(nil), ids...)
		sort.Strings(sorted)
		sel = strings.Join(sorted, ",")
	}
	return []byte(sha256 + "|" + generation + "|" + sel)
}

// Get returns the cached report for key, if any.
func (c *Cache) Get(ctx context.Context, key []byte) (sweep.Report, bool, error) {
	if !c.bloom.MayContain(key) {
		c.miss(ctx, "bloom")
		return sweep.Report{}, false, nil
	}
	var (
		rep   sweep.Report
		found bool
	)
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketReports).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rep)
	})
	if err != nil {
		return sweep.Report{}, false, fmt.Errorf("read report: %w", err)
	}
	if !found {
		c.miss(ctx, "db")
		return sweep.Report{}, false, nil
	}
	c.metrics.CacheHits.Add(ctx, 1)
	rep.Cached = true
	return rep, true, nil
}

func (c *Cache) miss(ctx context.Context, stage string) {
	c.metrics.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// Put stores rep under key, replacing any previous report.
func (c *Cache) Put(ctx context.Context, key []byte, rep sweep.Report) error {
	rep.Cached = false
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReports).Put(key, data)
	})
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	c.bloom.Add(key)
	return nil
}

// Purge drops every report. Called when rules change.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	var n int
	err := c.db.Update(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketReports); b != nil {
			n = b.Stats().KeyN
			if err := tx.DeleteBucket(bucketReports); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket(bucketReports)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purge reports: %w", err)
	}
	c.bloom.Clear()
	return n, nil
}

// Stats is what /stats shows for the cache.
type Stats struct {
	Reports   int     `json:"reports"`
	BloomFill float64 `json:"bloom_fill"`
}

// Stats reports the stored report count and how full the bloom filter is.
func (c *Cache) Stats() Stats {
	return Stats{Reports: c.Len(), BloomFill: c.bloom.FillRatio()}
}

// Len counts stored reports.
func (c *Cache) Len() int {
	var n int
	c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketReports).Stats().KeyN
		return nil
	})
	return n
}
