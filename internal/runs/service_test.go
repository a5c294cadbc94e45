package runs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/lessonflow/internal/engine"
	"github.com/rendis/lessonflow/internal/store"
	"github.com/rendis/lessonflow/pkg/schema"
)

type dispatchFunc func(ctx context.Context, node *schema.Node, input string) (string, error)

func (f dispatchFunc) Execute(ctx context.Context, node *schema.Node, input string) (string, error) {
	return f(ctx, node, input)
}

func echo(_ context.Context, n *schema.Node, input string) (string, error) {
	return n.ID + "<" + input + ">", nil
}

func newStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newService(t *testing.T, d engine.Dispatcher, st Store) *Service {
	t.Helper()
	svc := NewService(d, st, Config{PoolSize: 4})
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc
}

func diamond() *schema.Workflow {
	return &schema.Workflow{
		ID:    "wf-diamond",
		Title: "diamond",
		Nodes: []schema.Node{
			{ID: "s", Kind: schema.KindStart},
			{ID: "a", Kind: schema.KindTopic, Label: "A"},
			{ID: "b", Kind: schema.KindTopic, Label: "B"},
			{ID: "m", Kind: schema.KindTopic, Label: "M"},
			{ID: "e", Kind: schema.KindEnd},
		},
		Edges: []schema.Edge{
			{ID: "1", Source: "s", Target: "a"},
			{ID: "2", Source: "s", Target: "b"},
			{ID: "3", Source: "a", Target: "m"},
			{ID: "4", Source: "b", Target: "m"},
			{ID: "5", Source: "m", Target: "e"},
		},
	}
}

func TestService_PersistsRunAndEvents(t *testing.T) {
	st := newStore(t)
	svc := newService(t, dispatchFunc(echo), st)
	ctx := context.Background()

	res, err := svc.Execute(ctx, diamond(), StartOptions{Trigger: store.TriggerAPI})
	require.NoError(t, err)
	require.Equal(t, schema.RunCompleted, res.Status)

	_, live := svc.Live(res.RunID)
	assert.False(t, live)

	stored, err := svc.Get(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunCompleted, stored.Status)
	assert.Equal(t, store.TriggerAPI, stored.Trigger)
	assert.Equal(t, "barrier", stored.Mode)
	assert.Equal(t, "wf-diamond", stored.WorkflowID)
	require.NotNil(t, stored.Result().Record("m"))
	assert.Equal(t, schema.RecordCompleted, stored.Result().Record("m").Status)

	events, err := svc.Events(ctx, res.RunID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, schema.EventRunStarted, events[0].Type)
	assert.Equal(t, schema.EventRunCompleted, events[len(events)-1].Type)

	records, status, err := store.NewEventLog(st).Replay(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunCompleted, status)
	for _, id := range []string{"s", "a", "b", "m"} {
		require.Contains(t, records, id)
		assert.Equal(t, res.Record(id).Result, records[id].Result)
	}

	list, err := svc.List(ctx, store.RunFilter{WorkflowID: "wf-diamond"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestService_PerPathMode(t *testing.T) {
	svc := newService(t, dispatchFunc(echo), newStore(t))
	res, err := svc.Execute(context.Background(), diamond(), StartOptions{Mode: engine.ModePerPath})
	require.NoError(t, err)
	require.Equal(t, schema.RunCompleted, res.Status)
	assert.Equal(t, 2, res.Record("m").Attempts, "fan-in runs once per inbound path")

	_, err = svc.Start(context.Background(), diamond(), StartOptions{Mode: "sideways"})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestService_CancelLiveRun(t *testing.T) {
	started := make(chan struct{})
	blocking := dispatchFunc(func(ctx context.Context, n *schema.Node, _ string) (string, error) {
		if n.ID == "a" {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	})
	svc := newService(t, blocking, newStore(t))
	ctx := context.Background()

	wf := diamond()
	run, err := svc.Start(ctx, wf, StartOptions{})
	require.NoError(t, err)
	<-started

	view, err := svc.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunRunning, view.Status)

	require.NoError(t, svc.Cancel(ctx, run.ID))
	res := run.Wait()
	assert.Equal(t, schema.RunCancelled, res.Status)

	stored, err := svc.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunCancelled, stored.Status)

	err = svc.Cancel(ctx, run.ID)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
	err = svc.Cancel(ctx, "missing")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestService_StartSaved(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveWorkflow(ctx, diamond()))
	svc := newService(t, dispatchFunc(echo), st)

	run, err := svc.StartSaved(ctx, "wf-diamond", StartOptions{Trigger: store.TriggerSchedule})
	require.NoError(t, err)
	assert.Equal(t, schema.RunCompleted, run.Wait().Status)

	_, err = svc.StartSaved(ctx, "ghost", StartOptions{})
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestService_WithoutStore(t *testing.T) {
	svc := newService(t, dispatchFunc(echo), nil)
	ctx := context.Background()

	res, err := svc.Execute(ctx, diamond(), StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunCompleted, res.Status)

	_, err = svc.Get(ctx, res.RunID)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
	_, err = svc.StartSaved(ctx, "x", StartOptions{})
	assert.Equal(t, schema.ErrCodeStore, schema.CodeOf(err))
}

func TestService_PreconditionFailure(t *testing.T) {
	svc := newService(t, dispatchFunc(echo), newStore(t))
	wf := &schema.Workflow{Nodes: []schema.Node{{ID: "a", Kind: schema.KindTopic}}}
	_, err := svc.Start(context.Background(), wf, StartOptions{})
	assert.Equal(t, schema.ErrCodeNoStartNode, schema.CodeOf(err))
}

func TestService_ShutdownCancelsLiveRuns(t *testing.T) {
	started := make(chan struct{})
	svc := NewService(dispatchFunc(func(ctx context.Context, n *schema.Node, _ string) (string, error) {
		if n.Kind == schema.KindStart {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "", nil
	}), nil, Config{})

	run, err := svc.Start(context.Background(), diamond(), StartOptions{})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
	assert.Equal(t, schema.RunCancelled, run.Wait().Status)
}
