package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/syncline-dev/syncline/pkg/replicate"
)

// MemStore is the thread-safe in-memory record store.
//
// Mutations go through the tracker before they commit: if the change
// cannot be recorded, the mutation is rolled back, because a mutated
// record without a change entry is invisible to replication forever.
type MemStore struct {
	mu sync.RWMutex
	// Structure: [model][recordID]record
	data      map[string]map[string]map[string]any
	tracker   *replicate.Tracker
	persister *Persistence
	wg        sync.WaitGroup
}

// NewMemStore initializes a store. It accepts existing data (from
// LoadAll), the source's change tracker and an optional persister. A nil
// tracker leaves the store untracked and therefore not replicable; only
// tests use that.
func NewMemStore(initial map[string]map[string]map[string]any, tracker *replicate.Tracker, p *Persistence) *MemStore {
	if initial == nil {
		initial = make(map[string]map[string]map[string]any)
	}
	return &MemStore{
		data:      initial,
		tracker:   tracker,
		persister: p,
	}
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

func (m *MemStore) Get(model, id string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.data[model]
	if !ok {
		return nil, ErrModelNotFound
	}
	record, ok := records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyRecord(record), nil
}

// List returns the model's records ordered by id. An unknown model is an
// empty list, not an error: a side may list before the first record ever
// syncs in.
func (m *MemStore) List(model string) ([]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.data[model]
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyRecord(records[id]))
	}
	return out, nil
}

// Create stores a new record, minting an id when the payload carries
// none, and records the create change.
func (m *MemStore) Create(model string, record map[string]any) (map[string]any, error) {
	record = copyRecord(record)
	id, _ := record[IDField].(string)
	if id == "" {
		id = uuid.NewString()
		record[IDField] = id
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.modelData(model)[id]; exists {
		return nil, fmt.Errorf("record %s/%s already exists", model, id)
	}
	m.data[model][id] = record

	if err := m.track(model, id, replicate.ChangeCreate, record); err != nil {
		delete(m.data[model], id)
		return nil, err
	}

	m.persistModel(model)
	return copyRecord(record), nil
}

// Update merges the patch into an existing record and records the update
// change.
func (m *MemStore) Update(model, id string, patch map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.data[model]
	if !ok {
		return nil, ErrModelNotFound
	}
	current, ok := records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}

	next := copyRecord(current)
	for k, v := range patch {
		next[k] = v
	}
	next[IDField] = id
	records[id] = next

	if err := m.track(model, id, replicate.ChangeUpdate, next); err != nil {
		records[id] = current
		return nil, err
	}

	m.persistModel(model)
	return copyRecord(next), nil
}

// Delete removes a record and records the tombstone change.
func (m *MemStore) Delete(model, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.data[model]
	if !ok {
		return ErrModelNotFound
	}
	current, ok := records[id]
	if !ok {
		return ErrRecordNotFound
	}
	delete(records, id)

	if err := m.track(model, id, replicate.ChangeDelete, nil); err != nil {
		records[id] = current
		return err
	}

	m.persistModel(model)
	return nil
}

// Apply writes one replicated change into the store, idempotently:
// re-applying a change the store already reflects is a no-op and records
// nothing, so retried runs cannot echo changes back and forth.
func (m *MemStore) Apply(model string, change replicate.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.modelData(model)
	current, exists := records[change.RecordID]

	if change.Deleted() {
		if !exists {
			return nil
		}
		delete(records, change.RecordID)
		if err := m.track(model, change.RecordID, replicate.ChangeDelete, nil); err != nil {
			records[change.RecordID] = current
			return err
		}
		m.persistModel(model)
		return nil
	}

	if exists && replicate.Revision(current) == change.Revision {
		return nil
	}

	next := copyRecord(change.State)
	next[IDField] = change.RecordID
	records[change.RecordID] = next

	typ := replicate.ChangeUpdate
	if !exists {
		typ = replicate.ChangeCreate
	}
	if err := m.track(model, change.RecordID, typ, next); err != nil {
		if exists {
			records[change.RecordID] = current
		} else {
			delete(records, change.RecordID)
		}
		return err
	}

	m.persistModel(model)
	return nil
}

// modelData returns the model's record map, creating it on first write.
// Callers must hold m.mu.
func (m *MemStore) modelData(model string) map[string]map[string]any {
	if m.data[model] == nil {
		m.data[model] = make(map[string]map[string]any)
	}
	return m.data[model]
}

// track records the mutation. Callers must hold m.mu and roll the write
// back when an error returns.
func (m *MemStore) track(model, id string, typ replicate.ChangeType, state map[string]any) error {
	if m.tracker == nil {
		return nil
	}
	if state != nil {
		state = copyRecord(state)
	}
	_, err := m.tracker.Record(model, id, typ, state)
	return err
}

// persistModel snapshots the model to disk in the background. Callers
// must hold m.mu; the snapshot is deep-copied so the write is safe after
// the lock is released.
func (m *MemStore) persistModel(model string) {
	if m.persister == nil {
		return
	}
	snapshot := make(map[string]map[string]any, len(m.data[model]))
	for id, record := range m.data[model] {
		snapshot[id] = copyRecord(record)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.persister.SaveModel(model, snapshot)
	}()
}

func copyRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}
