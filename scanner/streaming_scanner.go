package scanner

import (
	"context"
	"errors"
	"io"
)

const defaultBufferSize = 64 * 1024

// StreamingScanner feeds a reader through an automaton chunk by chunk without
// loading the whole payload into memory. Automaton state carries over between
// chunks, so patterns spanning a boundary are still found.
// Safe for concurrent use with different readers.
type StreamingScanner struct {
	automaton  *AhoAutomaton
	bufferSize int
}

// NewStreamingScanner constructs a scanner; bufferSize below 1KiB falls back to 64KiB.
func NewStreamingScanner(automaton *AhoAutomaton, bufferSize int) *StreamingScanner {
	if bufferSize < 1024 {
		bufferSize = defaultBufferSize
	}
	return &StreamingScanner{automaton: automaton, bufferSize: bufferSize}
}

// ScanStream returns the ids of every pattern found in r. The context is
// checked between chunks.
func (s *StreamingScanner) ScanStream(ctx context.Context, r io.Reader) (map[int]struct{}, error) {
	found := make(map[int]struct{})
	buffer := make([]byte, s.bufferSize)
	c := s.automaton.cursor()
	for {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		n, err := r.Read(buffer)
		if n > 0 {
			c.feed(buffer[:n], found)
		}
		if errors.Is(err, io.EOF) {
			return found, nil
		}
		if err != nil {
			return found, err
		}
	}
}
