package replicate

import (
	"fmt"
	"sync"
)

// Tracker observes committed mutations on one data source and turns each
// into a Change stamped with the next checkpoint for its model. It must be
// invoked exactly once per durable mutation; a mutation whose change could
// not be recorded must be rolled back by the caller, or the record is lost
// to replication.
type Tracker struct {
	log     ChangeLog
	factory SequencerFactory

	mu   sync.Mutex
	seqs map[string]*Sequencer
}

// NewTracker builds a tracker over the source's change log. The factory
// supplies one sequencer per model, lazily, so sequences stay independent
// even on a shared physical store.
func NewTracker(log ChangeLog, factory SequencerFactory) *Tracker {
	return &Tracker{
		log:     log,
		factory: factory,
		seqs:    make(map[string]*Sequencer),
	}
}

// Sequencer returns the model's sequencer, creating it on first use.
func (t *Tracker) Sequencer(model string) (*Sequencer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if seq, ok := t.seqs[model]; ok {
		return seq, nil
	}
	seq, err := t.factory(model)
	if err != nil {
		return nil, fmt.Errorf("sequencer for %s: %w", model, err)
	}
	t.seqs[model] = seq
	return seq, nil
}

// Record captures one committed mutation: it advances the model's
// checkpoint by exactly one and appends the resulting change. The state
// must be the record's post-mutation payload, nil for deletes.
func (t *Tracker) Record(model, recordID string, typ ChangeType, state map[string]any) (Change, error) {
	seq, err := t.Sequencer(model)
	if err != nil {
		return Change{}, err
	}

	checkpoint, err := seq.Advance()
	if err != nil {
		return Change{}, err
	}

	if typ == ChangeDelete {
		state = nil
	}
	change := Change{
		Model:      model,
		RecordID:   recordID,
		Revision:   Revision(state),
		Checkpoint: checkpoint,
		Type:       typ,
		State:      state,
	}

	if err := t.log.Append(change); err != nil {
		return Change{}, fmt.Errorf("append change for %s/%s: %w", model, recordID, err)
	}
	return change, nil
}
