package businesskey

import (
	"context"
	"sync"
)

// MemorySequencer is a process-wide, in-memory Sequencer. Counters are
// monotonic per key for the lifetime of the process and reset on restart;
// deployments that need durable sequences use the redis sequencer instead.
type MemorySequencer struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemorySequencer creates an empty in-memory sequencer.
func NewMemorySequencer() *MemorySequencer {
	return &MemorySequencer{counters: make(map[string]int64)}
}

// Next returns the next sequence value for the key, starting at 1.
func (s *MemorySequencer) Next(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key], nil
}
