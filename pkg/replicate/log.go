package replicate

import (
	"sort"
	"sync"
)

// ChangeLog is the append-only change store for one data source. Entries
// are never mutated after Append; retention is the backend's concern.
type ChangeLog interface {
	// Append persists one change. A failure here must fail the mutation
	// that produced the change.
	Append(change Change) error

	// Since returns all changes for the model with checkpoint strictly
	// greater than the given value, ascending by checkpoint.
	Since(model string, checkpoint int64) ([]Change, error)

	// Head returns the latest change per requested record id, for records
	// that have any change at all.
	Head(model string, ids []string) ([]Change, error)
}

// SyncStateStore persists replication progress per (source, target, model)
// pair. Pair state is exclusively owned by the replicator run that holds
// the pair lock; no other component writes it.
type SyncStateStore interface {
	// LoadState returns the zero SyncState for an unknown pair.
	LoadState(pair string) (SyncState, error)
	SaveState(pair string, state SyncState) error
}

// MemLog is the in-memory ChangeLog and SyncStateStore used by embedded
// stores and tests. Reads hand out copies so callers never alias the
// internal slices.
type MemLog struct {
	mu      sync.RWMutex
	changes map[string][]Change // per model, ascending by checkpoint
	states  map[string]SyncState
}

// NewMemLog returns an empty in-memory log.
func NewMemLog() *MemLog {
	return &MemLog{
		changes: make(map[string][]Change),
		states:  make(map[string]SyncState),
	}
}

func (l *MemLog) Append(change Change) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.changes[change.Model]
	// Appends arrive roughly in checkpoint order; insert-sort from the
	// tail keeps the invariant under concurrent trackers.
	i := len(entries)
	for i > 0 && entries[i-1].Checkpoint > change.Checkpoint {
		i--
	}
	entries = append(entries, Change{})
	copy(entries[i+1:], entries[i:])
	entries[i] = change
	l.changes[change.Model] = entries
	return nil
}

func (l *MemLog) Since(model string, checkpoint int64) ([]Change, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Change
	for _, c := range l.changes[model] {
		if c.Checkpoint > checkpoint {
			out = append(out, c)
		}
	}
	return out, nil
}

func (l *MemLog) Head(model string, ids []string) ([]Change, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	entries := l.changes[model]
	found := make(map[string]Change)
	for i := len(entries) - 1; i >= 0 && len(found) < len(wanted); i-- {
		c := entries[i]
		if wanted[c.RecordID] {
			if _, ok := found[c.RecordID]; !ok {
				found[c.RecordID] = c
			}
		}
	}

	out := make([]Change, 0, len(found))
	for _, c := range found {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Checkpoint != out[j].Checkpoint {
			return out[i].Checkpoint < out[j].Checkpoint
		}
		return out[i].RecordID < out[j].RecordID
	})
	return out, nil
}

func (l *MemLog) LoadState(pair string) (SyncState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := l.states[pair]
	st.Pending = append([]string(nil), st.Pending...)
	st.Synced = copySynced(st.Synced)
	return st, nil
}

func (l *MemLog) SaveState(pair string, state SyncState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state.Pending = append([]string(nil), state.Pending...)
	state.Synced = copySynced(state.Synced)
	l.states[pair] = state
	return nil
}

func copySynced(synced map[string]string) map[string]string {
	if synced == nil {
		return nil
	}
	out := make(map[string]string, len(synced))
	for id, rev := range synced {
		out[id] = rev
	}
	return out
}
