package store

import (
	"math"
	"math/bits"
	"sync"

	"github.com/spaolacci/murmur3"
)

// BloomFilter answers "definitely not cached" without touching the database.
// False positives fall through to a bbolt read.
type BloomFilter struct {
	mu   sync.RWMutex
	bits []uint64
	k    int // hash functions
	m    int // bits
}

// NewBloomFilter sizes the filter for n elements at false-positive rate p.
func NewBloomFilter(n int, p float64) *BloomFilter {
	if n < 1 {
		n = 1
	}
	m := optimalM(n, p)
	return &BloomFilter{bits: make([]uint64, (m+63)/64), k: optimalK(m, n), m: m}
}

func optimalM(n int, p float64) int {
	m := int(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m < 64 {
		m = 64
	}
	return m
}

func optimalK(m, n int) int {
	k := int(math.Ceil(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 10 {
		k = 10
	}
	return k
}

// positions derives k indexes from one 128-bit murmur3 sum (double hashing).
func (bf *BloomFilter) positions(data []byte) []uint64 {
	h1, h2 := murmur3.Sum128(data)
	out := make([]uint64, bf.k)
	for i := range out {
		out[i] = (h1 + uint64(i)*h2) % uint64(bf.m)
	}
	return out
}

func (bf *BloomFilter) Add(data []byte) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	for _, idx := range bf.positions(data) {
		bf.bits[idx/64] |= 1 << (idx % 64)
	}
}

// MayContain has no false negatives.
func (bf *BloomFilter) MayContain(data []byte) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	for _, idx := range bf.positions(data) {
		if bf.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// Clear empties the filter.
func (bf *BloomFilter) Clear() {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	for i := range bf.bits {
		bf.bits[i] = 0
	}
}

// FillRatio is the share of set bits; past ~0.5 the false-positive rate climbs.
func (bf *BloomFilter) FillRatio() float64 {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	set := 0
	for _, w := range bf.bits {
		set += bits.OnesCount64(w)
	}
	return float64(set) / float64(bf.m)
}
