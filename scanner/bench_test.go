package scanner

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"testing"
)

// BenchmarkAhoScan measures Aho-Corasick scan performance
func BenchmarkAhoScan(b *testing.B) {
	patterns := make([][]byte, 1000)
	for i := range patterns {
		patterns[i] = []byte(fmt.Sprintf("malware_pattern_%d", i))
	}
	auto := BuildAho(patterns)

	data := make([]byte, 1024*1024)
	_, _ = rand.Read(data)

	b.ResetTimer()
	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	for i := 0; i < b.N; i++ {
		auto.Scan(data)
	}
}

// BenchmarkStreamingScan measures chunked scanning of the same payload.
func BenchmarkStreamingScan(b *testing.B) {
	patterns := make([][]byte, 1000)
	for i := range patterns {
		patterns[i] = []byte(fmt.Sprintf("pattern_%d_with_longer_content_%d", i, i*7))
	}
	s := NewStreamingScanner(BuildAho(patterns), 0)

	data := make([]byte, 1024*1024)
	_, _ = rand.Read(data)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	for i := 0; i < b.N; i++ {
		if _, err := s.ScanStream(ctx, bytes.NewReader(data)); err != nil {
			b.Fatal(err)
		}
	}
}
