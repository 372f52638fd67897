package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmguard/binscan/core/otelinit"
	"github.com/swarmguard/binscan/detector"
	"github.com/swarmguard/binscan/internal/sweep"
	"github.com/swarmguard/binscan/internal/target"
)

func openCache(t *testing.T, path string) *Cache {
	t.Helper()
	c, err := Open(path, otelinit.NewMetrics())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleReport() sweep.Report {
	return sweep.Report{
		ID:        "r-1",
		Target:    target.Binary{FilePath: "/tmp/a.exe", Size: 12, SHA256: "abc", Kind: "exe"},
		StartedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Verdict:   detector.SeveritySuspicious,
		Results: []sweep.Result{{
			ID: "peid",
			Finding: detector.Finding{
				Severity:    detector.SeveritySuspicious,
				Summary:     "PEiD Signature:",
				Information: []string{"UPX"},
			},
		}},
	}
}

func TestCachePutGet(t *testing.T) {
	c := openCache(t, filepath.Join(t.TempDir(), "reports.db"))
	ctx := context.Background()
	key := Key("abc", "g1", nil)

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, key, sampleReport()))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Cached)
	assert.Equal(t, detector.SeveritySuspicious, got.Verdict)
	assert.Equal(t, []string{"UPX"}, got.Results[0].Finding.Information)
	assert.Equal(t, 1, c.Len())

	st := c.Stats()
	assert.Equal(t, 1, st.Reports)
	assert.Greater(t, st.BloomFill, 0.0)
}

func TestCacheSurvivesReopenAndPurge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reports.db")
	ctx := context.Background()

	c, err := Open(path, otelinit.NewMetrics())
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, Key("abc", "g1", []string{"peid"}), sampleReport()))
	require.NoError(t, c.Close())

	c = openCache(t, path)
	_, ok, err := c.Get(ctx, Key("abc", "g1", []string{"peid"}))
	require.NoError(t, err)
	assert.True(t, ok, "bloom is warmed from disk")

	n, err := c.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok, err = c.Get(ctx, Key("abc", "g1", []string{"peid"}))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestKeyCoversGenerationAndSelection(t *testing.T) {
	assert.Equal(t, Key("d", "g1", []string{"strings", "peid"}), Key("d", "g1", []string{"peid", "strings"}))
	assert.NotEqual(t, Key("d", "g1", nil), Key("d", "g1", []string{"peid"}))
	assert.NotEqual(t, Key("d", "g1", nil), Key("d", "g2", nil))
}

func TestBloomFilter(t *testing.T) {
	bf := NewBloomFilter(1000, 0.01)
	for i := 0; i < 1000; i++ {
		bf.Add([]byte(fmt.Sprintf("key-%d", i)))
	}
	for i := 0; i < 1000; i++ {
		assert.True(t, bf.MayContain([]byte(fmt.Sprintf("key-%d", i))))
	}
	fp := 0
	for i := 0; i < 10000; i++ {
		if bf.MayContain([]byte(fmt.Sprintf("other-%d", i))) {
			fp++
		}
	}
	assert.Less(t, fp, 500, "false-positive rate stays near target")
	assert.Greater(t, bf.FillRatio(), 0.0)

	bf.Clear()
	assert.False(t, bf.MayContain([]byte("key-1")))
	assert.Zero(t, bf.FillRatio())
}
