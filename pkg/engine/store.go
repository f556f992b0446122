// Package engine implements the tracked record store: per-model record
// collections whose every committed mutation is reported to the
// replication tracker.
package engine

import (
	"errors"

	"github.com/syncline-dev/syncline/pkg/replicate"
)

// Standard errors for the engine.
var (
	ErrModelNotFound  = errors.New("model not found")
	ErrRecordNotFound = errors.New("record not found")
)

// IDField is the record field holding the stable unique identifier.
const IDField = "id"

// RecordReader defines the read operations for the store.
type RecordReader interface {
	Get(model, id string) (map[string]any, error)
	List(model string) ([]map[string]any, error)
}

// RecordWriter defines the mutation operations for the store. Every
// committed mutation produces exactly one tracked change.
type RecordWriter interface {
	Create(model string, record map[string]any) (map[string]any, error)
	Update(model, id string, patch map[string]any) (map[string]any, error)
	Delete(model, id string) error
}

// Store is the full tracked store surface. Apply is the replication entry
// point and satisfies replicate.RecordStore.
type Store interface {
	RecordReader
	RecordWriter
	Apply(model string, change replicate.Change) error
}
