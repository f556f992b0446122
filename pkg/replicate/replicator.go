package replicate

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// protocol states, in the order a successful run passes through them.
type runState string

const (
	stateIdle      runState = "IDLE"
	stateFetching  runState = "FETCHING_DELTAS"
	stateDetecting runState = "DETECTING_CONFLICTS"
	stateChecking  runState = "CHECKING_ACCESS"
	stateApplying  runState = "APPLYING"
	stateAdvancing runState = "ADVANCING_CHECKPOINTS"
	stateDone      runState = "DONE"
	stateFailed    runState = "FAILED"
)

// Pair names one replication direction: source model to target model.
// Bidirectional sync is two pairs, each run independently under its own
// principal and access checks.
type Pair struct {
	Source Endpoint
	Target Endpoint
	Model  string
}

// Key identifies the pair in the sync state store and the per-pair lock
// table.
func (p Pair) Key() string {
	return p.Source.Name() + "|" + p.Target.Name() + "|" + p.Model
}

// Result reports a completed run. A non-empty Conflicts slice is not an
// error: the run succeeded, the listed records await explicit resolution
// and reappear on every run until resolved.
type Result struct {
	Applied   int        `json:"applied"`
	Skipped   int        `json:"skipped"`
	Conflicts []Conflict `json:"conflicts,omitempty"`

	SourceCheckpoint int64 `json:"source_checkpoint"`
	TargetCheckpoint int64 `json:"target_checkpoint"`
}

// Replicator drives the replication protocol between endpoint pairs.
// Runs on distinct pairs may proceed concurrently; runs on the same pair
// are serialized so they cannot race on the pair's sync state.
type Replicator struct {
	states SyncStateStore
	log    zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewReplicator builds a replicator persisting pair progress in states.
func NewReplicator(states SyncStateStore, logger zerolog.Logger) *Replicator {
	return &Replicator{
		states: states,
		log:    logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (r *Replicator) pairLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

// Replicate runs the protocol once in the pair's direction and returns the
// unresolved conflicts. Saving the new sync state is the single commit
// point: any failure before it leaves the state untouched, so the next run
// retries from the same checkpoints and re-applies idempotently.
func (r *Replicator) Replicate(ctx context.Context, pair Pair) (*Result, error) {
	key := pair.Key()
	lock := r.pairLock(key)
	lock.Lock()
	defer lock.Unlock()

	logger := r.log.With().Str("pair", key).Logger()
	logger.Debug().Str("state", string(stateIdle)).Msg("run starting")

	state, err := r.states.LoadState(key)
	if err != nil {
		return nil, fmt.Errorf("load sync state for %s: %w", key, err)
	}

	// FETCHING_DELTAS. Read access is checked on both sides before any
	// delta is requested: a denial aborts the whole run rather than
	// masking a permission error as an empty sync.
	logger.Debug().Str("state", string(stateFetching)).Msg("fetching deltas")
	if err := pair.Source.Gate().Check(pair.Model, AccessRead, ""); err != nil {
		return nil, r.fail(logger, err)
	}
	if err := pair.Target.Gate().Check(pair.Model, AccessRead, ""); err != nil {
		return nil, r.fail(logger, err)
	}

	// Checkpoints are read before the deltas: a mutation landing between
	// the two reads is included in the delta but stays above the saved
	// checkpoint, so the next run re-fetches it and converges. Reading in
	// the other order would lose it.
	sourceCp, err := pair.Source.Checkpoint(ctx, pair.Model)
	if err != nil {
		return nil, r.fail(logger, err)
	}
	targetCp, err := pair.Target.Checkpoint(ctx, pair.Model)
	if err != nil {
		return nil, r.fail(logger, err)
	}

	sourceDelta, err := pair.Source.Delta(ctx, pair.Model, state.SourceCheckpoint)
	if err != nil {
		return nil, r.fail(logger, err)
	}
	targetDelta, err := pair.Target.Delta(ctx, pair.Model, state.TargetCheckpoint)
	if err != nil {
		return nil, r.fail(logger, err)
	}

	// Records with pending conflicts sit below the saved checkpoints, so
	// the deltas no longer carry them; merge in their head changes so the
	// detector keeps re-reporting them until they resolve or converge.
	if len(state.Pending) > 0 {
		sourceDelta, err = r.mergePending(ctx, pair.Source, pair.Model, state.Pending, sourceDelta)
		if err != nil {
			return nil, r.fail(logger, err)
		}
		targetDelta, err = r.mergePending(ctx, pair.Target, pair.Model, state.Pending, targetDelta)
		if err != nil {
			return nil, r.fail(logger, err)
		}
	}

	// DETECTING_CONFLICTS. Entries whose revision matches the pair's last
	// confirmed revision are echoes of a previous apply (or a side reverted
	// to the agreed state), not edits; drop them so only genuine divergence
	// reaches the detector.
	sourceDelta, sourceEchoes := dropConfirmed(sourceDelta, state.Synced)
	targetDelta, _ = dropConfirmed(targetDelta, state.Synced)

	logger.Debug().Str("state", string(stateDetecting)).
		Int("source_delta", len(sourceDelta)).
		Int("target_delta", len(targetDelta)).
		Msg("partitioning deltas")
	safe, converged, conflicts := Partition(sourceDelta, targetDelta)

	// CHECKING_ACCESS. Every safe change is checked against the target's
	// gate before anything is written, keeping the push all-or-nothing.
	logger.Debug().Str("state", string(stateChecking)).Int("safe", len(safe)).Msg("checking write access")
	for _, c := range safe {
		if err := pair.Target.Gate().Check(pair.Model, AccessWrite, c.RecordID); err != nil {
			return nil, r.fail(logger, err)
		}
	}

	// APPLYING.
	logger.Debug().Str("state", string(stateApplying)).Msg("applying safe changes")
	if len(safe) > 0 {
		if err := pair.Target.Apply(ctx, pair.Model, safe); err != nil {
			return nil, r.fail(logger, err)
		}
	}

	// ADVANCING_CHECKPOINTS: the sole durable side effect gating success.
	// Applied and converged revisions become the new confirmed set, so the
	// next run can tell their echoes apart from fresh edits.
	logger.Debug().Str("state", string(stateAdvancing)).Msg("advancing checkpoints")
	synced := confirm(state.Synced, safe, converged)
	next := SyncState{
		SourceCheckpoint: sourceCp,
		TargetCheckpoint: targetCp,
		Pending:          conflictIDs(conflicts),
		Synced:           synced,
	}
	if err := r.states.SaveState(key, next); err != nil {
		return nil, r.fail(logger, fmt.Errorf("save sync state for %s: %w", key, err))
	}

	result := &Result{
		Applied:          len(safe),
		Skipped:          sourceEchoes + len(converged),
		Conflicts:        conflicts,
		SourceCheckpoint: sourceCp,
		TargetCheckpoint: targetCp,
	}
	logger.Info().Str("state", string(stateDone)).
		Int("applied", result.Applied).
		Int("conflicts", len(result.Conflicts)).
		Msg("run complete")
	return result, nil
}

// Resolve writes the chosen revision of a conflicting record to the losing
// side and clears the record from the pair's pending set. The losing
// side's own tracker records the write, so both sequences move past the
// conflict and the next run sees the sides converged.
func (r *Replicator) Resolve(ctx context.Context, pair Pair, conflict Conflict, choice Choice) error {
	var winning Change
	var loser Endpoint
	switch choice {
	case KeepSource:
		winning, loser = conflict.Source, pair.Target
	case KeepTarget:
		winning, loser = conflict.Target, pair.Source
	default:
		return fmt.Errorf("unknown resolution choice %q", choice)
	}

	key := pair.Key()
	lock := r.pairLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := loser.Gate().Check(pair.Model, AccessWrite, conflict.RecordID); err != nil {
		return err
	}
	if err := loser.Apply(ctx, pair.Model, []Change{winning}); err != nil {
		return err
	}

	state, err := r.states.LoadState(key)
	if err != nil {
		return fmt.Errorf("load sync state for %s: %w", key, err)
	}
	state.Pending = removeID(state.Pending, conflict.RecordID)
	// The chosen revision is now on both sides; confirm it so the losing
	// side's apply echo is not mistaken for a new edit.
	if state.Synced == nil {
		state.Synced = make(map[string]string)
	}
	state.Synced[conflict.RecordID] = winning.Revision
	if err := r.states.SaveState(key, state); err != nil {
		return fmt.Errorf("save sync state for %s: %w", key, err)
	}

	r.log.Info().Str("pair", key).Str("record", conflict.RecordID).
		Str("choice", string(choice)).Msg("conflict resolved")
	return nil
}

func (r *Replicator) fail(logger zerolog.Logger, err error) error {
	logger.Warn().Str("state", string(stateFailed)).Err(err).Msg("run aborted")
	return err
}

// mergePending adds the head change of each pending record to the delta
// unless the delta already carries that record.
func (r *Replicator) mergePending(ctx context.Context, side Endpoint, model string, pending []string, delta []Change) ([]Change, error) {
	present := make(map[string]bool, len(delta))
	for _, c := range delta {
		present[c.RecordID] = true
	}

	var missing []string
	for _, id := range pending {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return delta, nil
	}

	heads, err := side.Head(ctx, model, missing)
	if err != nil {
		return nil, err
	}
	return append(delta, heads...), nil
}

// dropConfirmed removes delta entries whose revision equals the pair's
// confirmed revision for the record. Those sides hold exactly the state
// the pair last agreed on, so they have not diverged.
func dropConfirmed(delta []Change, synced map[string]string) ([]Change, int) {
	if len(synced) == 0 {
		return delta, 0
	}
	out := delta[:0]
	dropped := 0
	for _, c := range delta {
		if synced[c.RecordID] == c.Revision {
			dropped++
			continue
		}
		out = append(out, c)
	}
	return out, dropped
}

// confirm extends the confirmed revision set with this run's applied and
// converged changes. The input map is never mutated; runs that fail after
// this point must leave the loaded state untouched.
func confirm(synced map[string]string, applied, converged []Change) map[string]string {
	out := make(map[string]string, len(synced)+len(applied)+len(converged))
	for id, rev := range synced {
		out[id] = rev
	}
	for _, c := range applied {
		out[c.RecordID] = c.Revision
	}
	for _, c := range converged {
		out[c.RecordID] = c.Revision
	}
	return out
}

func conflictIDs(conflicts []Conflict) []string {
	if len(conflicts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		ids = append(ids, c.RecordID)
	}
	return ids
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
