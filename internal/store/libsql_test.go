package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/lessonflow/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	s, err := NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleWorkflow(id string) *schema.Workflow {
	return &schema.Workflow{
		ID:    id,
		Title: "Photosynthesis",
		Nodes: []schema.Node{
			{ID: "s", Kind: schema.KindStart, Label: "Start"},
			{ID: "a", Kind: schema.KindAISummarize, Label: "Summarize", Config: map[string]any{"prompt": "short"}},
			{ID: "e", Kind: schema.KindEnd},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "s", Target: "a"}, {ID: "e2", Source: "a", Target: "e"}},
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version int
	require.NoError(t, s.DB().QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, 1, version)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- a; comment\nCREATE TABLE a (x INT);\n\n-- trailing\nCREATE TABLE b (y INT);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE TABLE b (y INT)"}, stmts)
}

func TestWorkflows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := sampleWorkflow("wf-1")
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Photosynthesis", got.Title)
	require.Len(t, got.Nodes, 3)
	assert.Equal(t, schema.KindAISummarize, got.Nodes[1].Kind)
	assert.Equal(t, "short", got.Nodes[1].Config["prompt"])
	assert.Len(t, got.Edges, 2)

	wf.Title = "Photosynthesis v2"
	require.NoError(t, s.SaveWorkflow(ctx, wf))
	list, err := s.ListWorkflows(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Photosynthesis v2", list[0].Title)

	require.NoError(t, s.DeleteWorkflow(ctx, "wf-1"))
	_, err = s.GetWorkflow(ctx, "wf-1")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(s.DeleteWorkflow(ctx, "wf-1")))
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(s.SaveWorkflow(ctx, &schema.Workflow{})))
}

func TestLessons(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveLesson(ctx, &schema.Lesson{ID: "l1", Title: "Cells", Content: "Cells are..."}))
	require.NoError(t, s.SaveLesson(ctx, &schema.Lesson{ID: "l2", Title: "Atoms", Summary: "tiny", Query: "what is an atom"}))

	got, err := s.GetLesson(ctx, "l2")
	require.NoError(t, err)
	assert.Equal(t, "tiny", got.Summary)
	assert.Equal(t, "what is an atom", got.Query)
	assert.Empty(t, got.Content)

	all, err := s.ListLessons(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.GetLesson(ctx, "nope")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
	require.NoError(t, s.DeleteLesson(ctx, "l1"))
}

func TestProviderMeta(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutProviderMeta(ctx, &schema.ProviderConfig{
		ID: "whatsapp", Enabled: true, BaseURL: "https://graph.example",
		Settings: map[string]any{"phone_number_id": "555"},
	}))
	require.NoError(t, s.PutProviderMeta(ctx, &schema.ProviderConfig{ID: "openai", DefaultModel: "gpt-4o"}))

	got, err := s.GetProviderMeta(ctx, "whatsapp")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, "555", got.Setting("phone_number_id"))
	assert.Empty(t, got.APIKey)

	list, err := s.ListProviderMeta(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "openai", list[0].ID)
	assert.False(t, list[0].Enabled)

	_, err = s.GetProviderMeta(ctx, "groq")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestSecrets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreSecret(ctx, "provider/openai", []byte{1, 2, 3}))
	require.NoError(t, s.StoreSecret(ctx, "provider/openai", []byte{4, 5}))
	v, err := s.GetSecret(ctx, "provider/openai")
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, v)

	keys, err := s.ListSecrets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"provider/openai"}, keys)

	require.NoError(t, s.DeleteSecret(ctx, "provider/openai"))
	_, err = s.GetSecret(ctx, "provider/openai")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	require.NoError(t, s.CreateRun(ctx, &Run{ID: "r1", WorkflowID: "wf-1", Mode: "barrier", StartedAt: started}))
	require.NoError(t, s.CreateRun(ctx, &Run{ID: "r2", Mode: "per-path", Trigger: TriggerSchedule}))

	run, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunRunning, run.Status)
	assert.Equal(t, TriggerManual, run.Trigger)
	assert.Nil(t, run.CompletedAt)

	done := time.Now().UTC()
	require.NoError(t, s.FinishRun(ctx, &schema.RunResult{
		RunID:       "r1",
		Status:      schema.RunFailed,
		Error:       schema.NewError(schema.ErrCodeNodeFailed, "1 node failed").WithDetails(map[string]any{"failed_nodes": []string{"a"}}),
		CompletedAt: done,
		Records: []schema.ExecutionRecord{
			{NodeID: "s", Status: schema.RecordCompleted, Result: "Executed: Start"},
			{NodeID: "a", Status: schema.RecordError, Error: "boom"},
		},
	}))

	run, err = s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, schema.ErrCodeNodeFailed, run.Error.Code)
	require.Len(t, run.Records, 2)
	assert.Equal(t, "boom", run.Result().Record("a").Error)
	require.NotNil(t, run.CompletedAt)

	failed := schema.RunFailed
	list, err := s.ListRuns(ctx, RunFilter{Status: &failed})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].ID)

	list, err = s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r2", list[0].ID, "newest first")

	err = s.FinishRun(ctx, &schema.RunResult{RunID: "missing", Status: schema.RunCompleted})
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestEventLog_AppendAndReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, &Run{ID: "r1", Mode: "barrier"}))

	running := &schema.ExecutionRecord{NodeID: "a", Status: schema.RecordRunning, Attempts: 1}
	done := &schema.ExecutionRecord{NodeID: "a", Status: schema.RecordCompleted, Result: "ok", Attempts: 1}
	events := []*schema.RunEvent{
		{Type: schema.EventRunStarted, RunID: "r1", Status: schema.RunRunning},
		{Type: schema.EventNodeStarted, RunID: "r1", NodeID: "a", Record: running},
		{Type: schema.EventNodeCompleted, RunID: "r1", NodeID: "a", Record: done},
		{Type: schema.EventRunCompleted, RunID: "r1", Status: schema.RunCompleted},
	}
	for i, ev := range events {
		seq, err := s.AppendRunEvent(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), seq)
	}

	stored, err := s.ListRunEvents(ctx, "r1", 2)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, schema.EventNodeCompleted, stored[0].Type)

	records, status, err := NewEventLog(s).Replay(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunCompleted, status)
	require.Contains(t, records, "a")
	assert.Equal(t, schema.RecordCompleted, records["a"].Status)
	assert.Equal(t, "ok", records["a"].Result)
}

func TestEventLog_ConcurrentAppendsStayContiguous(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, &Run{ID: "r1", Mode: "barrier"}))
	el := NewEventLog(s)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := el.Append(ctx, &schema.RunEvent{Type: schema.EventNodeStarted, RunID: "r1", NodeID: uuid.NewString()})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, _, err := el.Replay(ctx, "r1")
	require.NoError(t, err)
	events, err := s.ListRunEvents(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 20)
}

func TestSchedules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveWorkflow(ctx, sampleWorkflow("wf-1")))

	next := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, s.CreateSchedule(ctx, &Schedule{
		ID: "sc-1", WorkflowID: "wf-1", CronExpression: "0 8 * * *", Enabled: true, NextRunAt: &next,
	}))
	require.NoError(t, s.CreateSchedule(ctx, &Schedule{
		ID: "sc-2", WorkflowID: "wf-1", CronExpression: "0 9 * * 1", Mode: "per-path",
	}))

	enabled := true
	list, err := s.ListSchedules(ctx, ScheduleFilter{Enabled: &enabled})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sc-1", list[0].ID)
	require.NotNil(t, list[0].NextRunAt)
	assert.True(t, list[0].NextRunAt.Equal(next))

	ran := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateSchedule(ctx, "sc-1", ScheduleUpdate{
		LastRunAt: &ran, LastRunStatus: "completed", LastRunID: "r9",
	}))
	got, err := s.GetSchedule(ctx, "sc-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.LastRunStatus)
	assert.Equal(t, "r9", got.LastRunID)
	require.NotNil(t, got.LastRunAt)

	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(s.UpdateSchedule(ctx, "nope", ScheduleUpdate{LastRunID: "x"})))
	require.NoError(t, s.DeleteSchedule(ctx, "sc-2"))
	_, err = s.GetSchedule(ctx, "sc-2")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))

	err = s.CreateSchedule(ctx, &Schedule{ID: "sc-3", WorkflowID: "ghost", CronExpression: "* * * * *"})
	assert.Error(t, err)
}
