// Package replicate implements bidirectional record synchronization between
// independently persisted stores: change tracking, checkpoint sequencing,
// delta computation, conflict detection and the replication protocol itself.
package replicate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ChangeType identifies the kind of mutation a Change records.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// revisionDomain is the domain prefix baked into every revision hash.
// The version suffix allows a future algorithm migration.
const revisionDomain = "syncline/revision/v1"

// TombstoneRevision is the fixed revision of a deleted record. Two stores
// that both delete a record converge on this value.
const TombstoneRevision = "syncline/tombstone/v1"

// Change is one committed mutation in the append-only change log.
// Changes for a given (Model, RecordID) are totally ordered by Checkpoint
// on their originating store. State carries the post-mutation payload so
// a delta can be applied on the other side; it is nil for deletes.
type Change struct {
	Model      string         `json:"model"`
	RecordID   string         `json:"record_id"`
	Revision   string         `json:"revision"`
	Checkpoint int64          `json:"checkpoint"`
	Type       ChangeType     `json:"type"`
	State      map[string]any `json:"state,omitempty"`
}

// Deleted reports whether the change is a tombstone.
func (c Change) Deleted() bool {
	return c.Type == ChangeDelete
}

// Conflict pairs two divergent changes to the same record, one per side.
// It is an immutable snapshot; resolution is the caller's decision.
type Conflict struct {
	Model    string `json:"model"`
	RecordID string `json:"record_id"`
	Source   Change `json:"source"`
	Target   Change `json:"target"`
}

// Choice selects the winning side when resolving a conflict.
type Choice string

const (
	KeepSource Choice = "source"
	KeepTarget Choice = "target"
)

// SyncState is the per-pair replication progress persisted on the
// initiating side. Pending holds record ids whose conflicts were detected
// but not yet resolved; they are re-examined on every run even though the
// checkpoints have advanced past them.
//
// Synced maps record id to the revision both sides last confirmed, one
// entry per record the pair ever agreed on. Applying a change records an
// echo change on the receiving side above the saved checkpoint; the next
// run recognizes that echo by its revision and treats the side as
// unchanged, while a genuine edit carries a different revision and still
// counts as divergence.
type SyncState struct {
	SourceCheckpoint int64             `json:"source_checkpoint"`
	TargetCheckpoint int64             `json:"target_checkpoint"`
	Pending          []string          `json:"pending,omitempty"`
	Synced           map[string]string `json:"synced,omitempty"`
}

// Revision computes the deterministic fingerprint of a record state, or
// TombstoneRevision for nil. Two stores that converge on the same data
// converge on the same revision, regardless of which side computed it.
func Revision(state map[string]any) string {
	if state == nil {
		return TombstoneRevision
	}

	h := sha256.New()
	h.Write([]byte(revisionDomain))
	h.Write([]byte{0x00}) // null separator between domain and payload
	h.Write(canonicalState(state))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalState produces a canonical JSON encoding of a record state.
// The round trip through `any` normalizes numeric types (an int written
// locally and a float64 decoded off the wire must hash identically), and
// encoding/json emits map keys in sorted order.
func canonicalState(state map[string]any) []byte {
	raw, err := json.Marshal(state)
	if err != nil {
		// Record states come from JSON bodies or map literals; an
		// unmarshalable value indicates a programming error upstream.
		panic("replicate: record state is not JSON-encodable: " + err.Error())
	}

	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		panic("replicate: canonical round trip failed: " + err.Error())
	}

	canonical, err := json.Marshal(normalized)
	if err != nil {
		panic("replicate: canonical round trip failed: " + err.Error())
	}
	return canonical
}
