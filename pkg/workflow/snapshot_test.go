package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot(id string, at time.Time) *Snapshot {
	return &Snapshot{
		WorkflowID: id,
		TakenAt:    at,
		Status:     StatusRunning,
		StepStatuses: map[string]StepStatus{
			"classify": StepCompleted,
			"respond":  StepRunning,
		},
		Variables: map[string]any{"intent": "question"},
		Completed: []string{"classify"},
	}
}

func TestMemorySnapshotStoreRoundTrip(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()

	snap := sampleSnapshot("run-1", time.Now())
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	loaded, err := store.LoadSnapshot(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, loaded.Status)
	assert.Equal(t, StepCompleted, loaded.StepStatuses["classify"])
	assert.Equal(t, []string{"classify"}, loaded.Completed)
	assert.Equal(t, "question", loaded.Variables["intent"])
}

func TestMemorySnapshotStoreIsolatesCopies(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()

	snap := sampleSnapshot("run-1", time.Now())
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	// Mutating the saved value must not leak into the store.
	snap.StepStatuses["classify"] = StepFailed
	snap.Completed[0] = "tampered"

	loaded, err := store.LoadSnapshot(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StepCompleted, loaded.StepStatuses["classify"])
	assert.Equal(t, "classify", loaded.Completed[0])

	// Mutating a loaded value must not affect later loads either.
	loaded.Variables["intent"] = "other"
	again, err := store.LoadSnapshot(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "question", again.Variables["intent"])
}

func TestMemorySnapshotStoreNotFound(t *testing.T) {
	store := NewMemorySnapshotStore()
	_, err := store.LoadSnapshot(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestMemorySnapshotStoreListSorted(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.SaveSnapshot(ctx, sampleSnapshot("late", base.Add(time.Hour))))
	require.NoError(t, store.SaveSnapshot(ctx, sampleSnapshot("early", base)))

	snaps, err := store.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "early", snaps[0].WorkflowID)
	assert.Equal(t, "late", snaps[1].WorkflowID)
}

func TestSnapshotRequiresWorkflowID(t *testing.T) {
	store := NewMemorySnapshotStore()
	err := store.SaveSnapshot(context.Background(), &Snapshot{})
	assert.Error(t, err)
}

func TestFileSnapshotStoreRoundTrip(t *testing.T) {
	store, err := NewFileSnapshotStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	taken := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.SaveSnapshot(ctx, sampleSnapshot("run-9", taken)))

	loaded, err := store.LoadSnapshot(ctx, "run-9")
	require.NoError(t, err)
	assert.Equal(t, "run-9", loaded.WorkflowID)
	assert.True(t, loaded.TakenAt.Equal(taken))
	assert.Equal(t, StepRunning, loaded.StepStatuses["respond"])
}

func TestFileSnapshotStoreOverwrites(t *testing.T) {
	store, err := NewFileSnapshotStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	first := sampleSnapshot("run-9", time.Now())
	require.NoError(t, store.SaveSnapshot(ctx, first))

	second := sampleSnapshot("run-9", time.Now())
	second.Status = StatusCompleted
	second.StepStatuses["respond"] = StepCompleted
	second.Completed = []string{"classify", "respond"}
	require.NoError(t, store.SaveSnapshot(ctx, second))

	loaded, err := store.LoadSnapshot(ctx, "run-9")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Status)
	assert.Equal(t, []string{"classify", "respond"}, loaded.Completed)
}

func TestFileSnapshotStoreNotFound(t *testing.T) {
	store, err := NewFileSnapshotStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.LoadSnapshot(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestFileSnapshotStoreList(t *testing.T) {
	store, err := NewFileSnapshotStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, store.SaveSnapshot(ctx, sampleSnapshot("b", base.Add(time.Minute))))
	require.NoError(t, store.SaveSnapshot(ctx, sampleSnapshot("a", base)))

	snaps, err := store.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "a", snaps[0].WorkflowID)
	assert.Equal(t, "b", snaps[1].WorkflowID)
}
