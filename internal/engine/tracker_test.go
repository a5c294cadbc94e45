package engine

import (
	"sync"
	"testing"

	"github.com/rendis/lessonflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_Lifecycle(t *testing.T) {
	tr := NewTracker([]string{"a", "b"}, false)

	rec, ok := tr.Get("a")
	require.True(t, ok)
	assert.Equal(t, schema.RecordPending, rec.Status)
	assert.Nil(t, rec.StartedAt)

	require.NoError(t, tr.Begin("a"))
	rec, _ = tr.Get("a")
	assert.Equal(t, schema.RecordRunning, rec.Status)
	assert.NotNil(t, rec.StartedAt)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, "", tr.Result("a"))

	require.NoError(t, tr.Complete("a", "done"))
	rec, _ = tr.Get("a")
	assert.Equal(t, schema.RecordCompleted, rec.Status)
	assert.Equal(t, "done", tr.Result("a"))
	assert.NotNil(t, rec.CompletedAt)

	require.NoError(t, tr.Begin("b"))
	require.NoError(t, tr.Fail("b", "boom"))
	rec, _ = tr.Get("b")
	assert.Equal(t, schema.RecordError, rec.Status)
	assert.Equal(t, "boom", rec.Error)
	assert.Equal(t, "", tr.Result("b"))
}

func TestTracker_InvalidTransitions(t *testing.T) {
	tr := NewTracker([]string{"a"}, false)

	err := tr.Complete("a", "x")
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))

	require.NoError(t, tr.Begin("a"))
	require.NoError(t, tr.Complete("a", "x"))

	err = tr.Begin("a")
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err), "terminal states are final")

	err = tr.Begin("missing")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))

	_, ok := tr.Get("missing")
	assert.False(t, ok)
}

func TestTracker_Reentry(t *testing.T) {
	tr := NewTracker([]string{"a"}, true)

	require.NoError(t, tr.Begin("a"))
	require.NoError(t, tr.Fail("a", "first"))
	require.NoError(t, tr.Begin("a"))
	rec, _ := tr.Get("a")
	assert.Equal(t, schema.RecordRunning, rec.Status)
	assert.Empty(t, rec.Error)
	assert.Nil(t, rec.CompletedAt)
	assert.Equal(t, 2, rec.Attempts)

	require.NoError(t, tr.Complete("a", "second"))
	assert.Equal(t, "second", tr.Result("a"))
}

func TestTracker_ObserverSeesEveryChange(t *testing.T) {
	tr := NewTracker([]string{"a"}, false)

	var mu sync.Mutex
	var seen []schema.RecordStatus
	tr.Observe(func(rec schema.ExecutionRecord) {
		mu.Lock()
		seen = append(seen, rec.Status)
		mu.Unlock()
	})

	require.NoError(t, tr.Begin("a"))
	require.NoError(t, tr.Complete("a", "ok"))
	_ = tr.Begin("a")

	assert.Equal(t, []schema.RecordStatus{schema.RecordRunning, schema.RecordCompleted}, seen)
}

func TestTracker_SnapshotOrder(t *testing.T) {
	tr := NewTracker([]string{"z", "a", "m"}, false)
	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "z", snap[0].NodeID)
	assert.Equal(t, "a", snap[1].NodeID)
	assert.Equal(t, "m", snap[2].NodeID)
}
