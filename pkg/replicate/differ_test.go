package replicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackedLog(t *testing.T) (*MemLog, *Tracker) {
	t.Helper()
	log := NewMemLog()
	return log, NewTracker(log, MemorySequencers)
}

func TestDiffer_DeltaSinceIsExclusive(t *testing.T) {
	log, tracker := trackedLog(t)

	_, err := tracker.Record("cars", "a", ChangeCreate, map[string]any{"make": "Ford"})
	require.NoError(t, err)
	_, err = tracker.Record("cars", "b", ChangeCreate, map[string]any{"make": "Audi"})
	require.NoError(t, err)

	delta, err := NewDiffer(log).Delta("cars", 1)
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, "b", delta[0].RecordID)
}

func TestDiffer_CollapsesToLatestPerRecord(t *testing.T) {
	log, tracker := trackedLog(t)

	_, err := tracker.Record("cars", "a", ChangeCreate, map[string]any{"v": 1})
	require.NoError(t, err)
	_, err = tracker.Record("cars", "a", ChangeUpdate, map[string]any{"v": 2})
	require.NoError(t, err)
	last, err := tracker.Record("cars", "a", ChangeUpdate, map[string]any{"v": 3})
	require.NoError(t, err)

	delta, err := NewDiffer(log).Delta("cars", 0)
	require.NoError(t, err)
	require.Len(t, delta, 1, "intermediate changes are irrelevant to sync")
	assert.Equal(t, last.Revision, delta[0].Revision)
	assert.Equal(t, int64(3), delta[0].Checkpoint)
}

func TestDiffer_DeterministicOrder(t *testing.T) {
	log, tracker := trackedLog(t)

	for _, id := range []string{"c", "a", "b"} {
		_, err := tracker.Record("cars", id, ChangeCreate, map[string]any{"id": id})
		require.NoError(t, err)
	}

	differ := NewDiffer(log)
	first, err := differ.Delta("cars", 0)
	require.NoError(t, err)
	second, err := differ.Delta("cars", 0)
	require.NoError(t, err)

	assert.Equal(t, first, second, "re-reading an unchanged delta must be identical")
	for i := 1; i < len(first); i++ {
		assert.Less(t, first[i-1].Checkpoint, first[i].Checkpoint)
	}
}

func TestDiffer_ModelsDoNotShareSequences(t *testing.T) {
	log, tracker := trackedLog(t)

	_, err := tracker.Record("cars", "a", ChangeCreate, map[string]any{"make": "Ford"})
	require.NoError(t, err)
	boats, err := tracker.Record("boats", "x", ChangeCreate, map[string]any{"name": "Lady"})
	require.NoError(t, err)

	// Both models start their own sequence at 1; a delta for one model
	// never carries the other's changes.
	assert.Equal(t, int64(1), boats.Checkpoint)

	delta, err := NewDiffer(log).Delta("cars", 0)
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, "a", delta[0].RecordID)
}

func TestDiffer_Head(t *testing.T) {
	log, tracker := trackedLog(t)

	_, err := tracker.Record("cars", "a", ChangeCreate, map[string]any{"v": 1})
	require.NoError(t, err)
	latest, err := tracker.Record("cars", "a", ChangeUpdate, map[string]any{"v": 2})
	require.NoError(t, err)
	_, err = tracker.Record("cars", "b", ChangeCreate, map[string]any{"v": 1})
	require.NoError(t, err)

	differ := NewDiffer(log)
	heads, err := differ.Head("cars", []string{"a", "missing"})
	require.NoError(t, err)
	require.Len(t, heads, 1)
	assert.Equal(t, latest.Revision, heads[0].Revision)

	none, err := differ.Head("cars", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTracker_DeleteProducesTombstone(t *testing.T) {
	_, tracker := trackedLog(t)

	change, err := tracker.Record("cars", "a", ChangeDelete, map[string]any{"ignored": true})
	require.NoError(t, err)
	assert.Equal(t, TombstoneRevision, change.Revision)
	assert.Nil(t, change.State)
}
