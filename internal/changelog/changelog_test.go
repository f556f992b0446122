package changelog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncline-dev/syncline/pkg/replicate"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "changelog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func appendChange(t *testing.T, s *Store, model, id string, checkpoint int64, typ replicate.ChangeType, state map[string]any) {
	t.Helper()
	require.NoError(t, s.Append(replicate.Change{
		Model:      model,
		RecordID:   id,
		Revision:   replicate.Revision(state),
		Checkpoint: checkpoint,
		Type:       typ,
		State:      state,
	}))
}

func TestStore_AppendAndSince(t *testing.T) {
	store := openStore(t)

	appendChange(t, store, "cars", "1", 1, replicate.ChangeCreate, map[string]any{"id": "1", "make": "Ford"})
	appendChange(t, store, "cars", "2", 2, replicate.ChangeCreate, map[string]any{"id": "2", "make": "Audi"})
	appendChange(t, store, "cars", "1", 3, replicate.ChangeDelete, nil)

	all, err := store.Since("cars", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Ford", all[0].State["make"])
	assert.Nil(t, all[2].State, "a tombstone carries no state")
	assert.Equal(t, replicate.TombstoneRevision, all[2].Revision)

	// Since is exclusive.
	tail, err := store.Since("cars", 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(3), tail[0].Checkpoint)

	empty, err := store.Since("cars", 3)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_ModelsAreIsolated(t *testing.T) {
	store := openStore(t)

	appendChange(t, store, "cars", "1", 1, replicate.ChangeCreate, map[string]any{"id": "1"})
	appendChange(t, store, "drivers", "1", 1, replicate.ChangeCreate, map[string]any{"id": "1"})

	cars, err := store.Since("cars", 0)
	require.NoError(t, err)
	require.Len(t, cars, 1)
	assert.Equal(t, "cars", cars[0].Model)
}

func TestStore_DuplicateCheckpointRejected(t *testing.T) {
	store := openStore(t)

	appendChange(t, store, "cars", "1", 1, replicate.ChangeCreate, map[string]any{"id": "1"})
	err := store.Append(replicate.Change{
		Model:      "cars",
		RecordID:   "2",
		Revision:   replicate.TombstoneRevision,
		Checkpoint: 1,
		Type:       replicate.ChangeDelete,
	})
	assert.Error(t, err, "checkpoints are unique per model")
}

func TestStore_Head(t *testing.T) {
	store := openStore(t)

	appendChange(t, store, "cars", "1", 1, replicate.ChangeCreate, map[string]any{"id": "1", "v": 1})
	appendChange(t, store, "cars", "1", 2, replicate.ChangeUpdate, map[string]any{"id": "1", "v": 2})
	appendChange(t, store, "cars", "2", 3, replicate.ChangeCreate, map[string]any{"id": "2"})

	heads, err := store.Head("cars", []string{"1", "ghost"})
	require.NoError(t, err)
	require.Len(t, heads, 1, "records with no change history are omitted")
	assert.Equal(t, "1", heads[0].RecordID)
	assert.Equal(t, int64(2), heads[0].Checkpoint)
	assert.EqualValues(t, 2, heads[0].State["v"])

	none, err := store.Head("cars", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_SequencerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changelog.db")

	store, err := Open(path)
	require.NoError(t, err)

	seq, err := store.SequencerFactory()("cars")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := seq.Advance()
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	seq, err = reopened.SequencerFactory()("cars")
	require.NoError(t, err)
	assert.Equal(t, int64(5), seq.Current())

	next, err := seq.Advance()
	require.NoError(t, err)
	assert.Equal(t, int64(6), next)
}

func TestStore_SequencersPerModel(t *testing.T) {
	store := openStore(t)
	factory := store.SequencerFactory()

	cars, err := factory("cars")
	require.NoError(t, err)
	drivers, err := factory("drivers")
	require.NoError(t, err)

	_, err = cars.Advance()
	require.NoError(t, err)
	_, err = cars.Advance()
	require.NoError(t, err)

	assert.Equal(t, int64(2), cars.Current())
	assert.Equal(t, int64(0), drivers.Current())
}

func TestStore_SyncStateRoundTrip(t *testing.T) {
	store := openStore(t)

	// Unknown pair starts at zero.
	state, err := store.LoadState("a|b|cars")
	require.NoError(t, err)
	assert.Zero(t, state.SourceCheckpoint)
	assert.Empty(t, state.Pending)
	assert.Empty(t, state.Synced)

	require.NoError(t, store.SaveState("a|b|cars", replicate.SyncState{
		SourceCheckpoint: 7,
		TargetCheckpoint: 3,
		Pending:          []string{"1", "2"},
		Synced:           map[string]string{"3": "rev-a", "4": "rev-b"},
	}))

	state, err = store.LoadState("a|b|cars")
	require.NoError(t, err)
	assert.Equal(t, int64(7), state.SourceCheckpoint)
	assert.Equal(t, int64(3), state.TargetCheckpoint)
	assert.Equal(t, []string{"1", "2"}, state.Pending)
	assert.Equal(t, map[string]string{"3": "rev-a", "4": "rev-b"}, state.Synced)

	// Saving again replaces, including clearing the pending set.
	require.NoError(t, store.SaveState("a|b|cars", replicate.SyncState{
		SourceCheckpoint: 9,
		TargetCheckpoint: 4,
	}))
	state, err = store.LoadState("a|b|cars")
	require.NoError(t, err)
	assert.Equal(t, int64(9), state.SourceCheckpoint)
	assert.Empty(t, state.Pending)
	assert.Empty(t, state.Synced)
}

func TestStore_BacksTracker(t *testing.T) {
	store := openStore(t)

	tracker := replicate.NewTracker(store, store.SequencerFactory())
	_, err := tracker.Record("cars", "1", replicate.ChangeCreate, map[string]any{"id": "1", "make": "Ford"})
	require.NoError(t, err)
	_, err = tracker.Record("cars", "1", replicate.ChangeDelete, nil)
	require.NoError(t, err)

	differ := replicate.NewDiffer(store)
	delta, err := differ.Delta("cars", 0)
	require.NoError(t, err)
	require.Len(t, delta, 1, "the delta collapses to the latest change")
	assert.True(t, delta[0].Deleted())
}
