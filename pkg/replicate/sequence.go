package replicate

import (
	"fmt"
	"sync"
)

// Sequencer issues the monotonically increasing checkpoint numbers for one
// model on one data source. Sequencer identity is deliberately explicit:
// two models replicated separately must never share a sequence, even when
// they live in the same physical store, or their deltas cross-contaminate.
type Sequencer struct {
	mu      sync.Mutex
	value   int64
	persist func(int64) error
}

// NewSequencer starts a sequencer at the given value. The optional persist
// hook is called with each new value before it is handed out, so a durable
// backend can record progress; a persist failure leaves the sequence
// unchanged.
func NewSequencer(start int64, persist func(int64) error) *Sequencer {
	return &Sequencer{value: start, persist: persist}
}

// Current returns the latest issued checkpoint. It reflects every Advance
// that completed before this call.
func (s *Sequencer) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Advance increments the sequence by exactly one and returns the new
// checkpoint. Concurrent calls never observe the same value.
func (s *Sequencer) Advance() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.value + 1
	if s.persist != nil {
		if err := s.persist(next); err != nil {
			return 0, fmt.Errorf("persist checkpoint %d: %w", next, err)
		}
	}
	s.value = next
	return next, nil
}

// SequencerFactory builds the sequencer for a model, loading its persisted
// position where the backing store supports that.
type SequencerFactory func(model string) (*Sequencer, error)

// MemorySequencers is a SequencerFactory for purely in-memory sources;
// every model starts at zero.
func MemorySequencers(model string) (*Sequencer, error) {
	return NewSequencer(0, nil), nil
}
