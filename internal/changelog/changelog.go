// Package changelog persists one data source's replication state in
// SQLite: the append-only change log, per-model checkpoint positions and
// per-pair sync state.
package changelog

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/syncline-dev/syncline/pkg/replicate"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite-backed replicate.ChangeLog and
// replicate.SyncStateStore, plus the persistence behind the source's
// checkpoint sequencers.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
// WAL mode allows concurrent reads during writes; the connection pool is
// held to a single connection because SQLite allows one writer at a time.
// Open is idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts one change. Rows are never updated afterwards.
func (s *Store) Append(change replicate.Change) error {
	var state any
	if change.State != nil {
		raw, err := json.Marshal(change.State)
		if err != nil {
			return fmt.Errorf("encode state for %s/%s: %w", change.Model, change.RecordID, err)
		}
		state = string(raw)
	}

	_, err := s.db.Exec(`
		INSERT INTO changes (model, record_id, revision, checkpoint, type, state)
		VALUES (?, ?, ?, ?, ?, ?)`,
		change.Model, change.RecordID, change.Revision, change.Checkpoint,
		string(change.Type), state)
	if err != nil {
		return fmt.Errorf("append change for %s/%s: %w", change.Model, change.RecordID, err)
	}
	return nil
}

// Since returns the model's changes with checkpoint strictly greater than
// the given value, ascending.
func (s *Store) Since(model string, checkpoint int64) ([]replicate.Change, error) {
	rows, err := s.db.Query(`
		SELECT record_id, revision, checkpoint, type, state
		FROM changes
		WHERE model = ? AND checkpoint > ?
		ORDER BY checkpoint ASC, record_id ASC`,
		model, checkpoint)
	if err != nil {
		return nil, fmt.Errorf("query changes for %s: %w", model, err)
	}
	defer rows.Close()

	return scanChanges(rows, model)
}

// Head returns the latest change per requested record id.
func (s *Store) Head(model string, ids []string) ([]replicate.Change, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	args = append(args, model)
	for _, id := range ids {
		args = append(args, id)
	}

	// The self-join keeps only each record's highest checkpoint.
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT c.record_id, c.revision, c.checkpoint, c.type, c.state
		FROM changes c
		JOIN (
			SELECT record_id, MAX(checkpoint) AS checkpoint
			FROM changes
			WHERE model = ?1 AND record_id IN (%s)
			GROUP BY record_id
		) latest ON c.record_id = latest.record_id AND c.checkpoint = latest.checkpoint
		WHERE c.model = ?1
		ORDER BY c.checkpoint ASC, c.record_id ASC`, placeholders),
		args...)
	if err != nil {
		return nil, fmt.Errorf("query head changes for %s: %w", model, err)
	}
	defer rows.Close()

	return scanChanges(rows, model)
}

func scanChanges(rows *sql.Rows, model string) ([]replicate.Change, error) {
	var out []replicate.Change
	for rows.Next() {
		var (
			c     replicate.Change
			typ   string
			state sql.NullString
		)
		if err := rows.Scan(&c.RecordID, &c.Revision, &c.Checkpoint, &typ, &state); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Model = model
		c.Type = replicate.ChangeType(typ)
		if state.Valid {
			if err := json.Unmarshal([]byte(state.String), &c.State); err != nil {
				return nil, fmt.Errorf("decode state for %s/%s: %w", model, c.RecordID, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SequencerFactory builds per-model sequencers whose positions survive a
// restart.
func (s *Store) SequencerFactory() replicate.SequencerFactory {
	return func(model string) (*replicate.Sequencer, error) {
		var value int64
		err := s.db.QueryRow(`SELECT value FROM checkpoints WHERE model = ?`, model).Scan(&value)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("load checkpoint for %s: %w", model, err)
		}

		persist := func(v int64) error {
			_, err := s.db.Exec(`
				INSERT INTO checkpoints (model, value) VALUES (?, ?)
				ON CONFLICT (model) DO UPDATE SET value = excluded.value`,
				model, v)
			if err != nil {
				return fmt.Errorf("save checkpoint for %s: %w", model, err)
			}
			return nil
		}
		return replicate.NewSequencer(value, persist), nil
	}
}

// LoadState returns the pair's saved progress, or the zero state for an
// unknown pair.
func (s *Store) LoadState(pair string) (replicate.SyncState, error) {
	var (
		state   replicate.SyncState
		pending string
		synced  string
	)
	err := s.db.QueryRow(`
		SELECT source_checkpoint, target_checkpoint, pending, synced
		FROM sync_state WHERE pair = ?`, pair).
		Scan(&state.SourceCheckpoint, &state.TargetCheckpoint, &pending, &synced)
	if err == sql.ErrNoRows {
		return replicate.SyncState{}, nil
	}
	if err != nil {
		return replicate.SyncState{}, fmt.Errorf("load sync state for %s: %w", pair, err)
	}

	if err := json.Unmarshal([]byte(pending), &state.Pending); err != nil {
		return replicate.SyncState{}, fmt.Errorf("decode pending for %s: %w", pair, err)
	}
	if err := json.Unmarshal([]byte(synced), &state.Synced); err != nil {
		return replicate.SyncState{}, fmt.Errorf("decode synced for %s: %w", pair, err)
	}
	return state, nil
}

// SaveState writes the pair's progress in one statement, keeping the
// commit point atomic.
func (s *Store) SaveState(pair string, state replicate.SyncState) error {
	pending := state.Pending
	if pending == nil {
		pending = []string{}
	}
	rawPending, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("encode pending for %s: %w", pair, err)
	}

	synced := state.Synced
	if synced == nil {
		synced = map[string]string{}
	}
	rawSynced, err := json.Marshal(synced)
	if err != nil {
		return fmt.Errorf("encode synced for %s: %w", pair, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sync_state (pair, source_checkpoint, target_checkpoint, pending, synced)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (pair) DO UPDATE SET
			source_checkpoint = excluded.source_checkpoint,
			target_checkpoint = excluded.target_checkpoint,
			pending = excluded.pending,
			synced = excluded.synced`,
		pair, state.SourceCheckpoint, state.TargetCheckpoint, string(rawPending), string(rawSynced))
	if err != nil {
		return fmt.Errorf("save sync state for %s: %w", pair, err)
	}
	return nil
}
