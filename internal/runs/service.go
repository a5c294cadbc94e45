// Package runs starts workflow runs, tracks the live ones and persists every
// run with its event log.
package runs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/lessonflow/internal/engine"
	"github.com/rendis/lessonflow/internal/store"
	"github.com/rendis/lessonflow/internal/streaming"
	"github.com/rendis/lessonflow/pkg/schema"
)

// Store is the persistence the service needs. Satisfied by store.Store.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	CreateRun(ctx context.Context, run *store.Run) error
	FinishRun(ctx context.Context, res *schema.RunResult) error
	GetRun(ctx context.Context, id string) (*store.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error)
	AppendRunEvent(ctx context.Context, ev *schema.RunEvent) (int64, error)
	ListRunEvents(ctx context.Context, runID string, since int64) ([]*store.StoredEvent, error)
}

type Config struct {
	Mode          engine.Mode
	PoolSize      int
	MaxExecutions int
	Logger        *slog.Logger
	Tracer        trace.Tracer
	// Observers are attached to every run in addition to the service itself.
	Observers []engine.Observer
}

// StartOptions tune a single run.
type StartOptions struct {
	Mode    engine.Mode
	Trigger string
}

// Service owns one executor per walk mode, all sharing a single worker pool.
type Service struct {
	store       Store
	pool        *engine.WorkerPool
	executors   map[engine.Mode]*engine.Executor
	defaultMode engine.Mode
	logger      *slog.Logger

	mu   sync.RWMutex
	live map[string]*engine.Run
}

var _ engine.Observer = (*Service)(nil)

// NewService builds the executors. st may be nil, in which case runs are only
// tracked in memory.
func NewService(d engine.Dispatcher, st Store, cfg Config) *Service {
	if cfg.Mode == "" {
		cfg.Mode = engine.DefaultMode
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = engine.DefaultPoolSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	s := &Service{
		store:       st,
		pool:        engine.NewWorkerPool(cfg.PoolSize),
		executors:   make(map[engine.Mode]*engine.Executor, 2),
		defaultMode: cfg.Mode,
		logger:      cfg.Logger,
		live:        make(map[string]*engine.Run),
	}
	s.pool.OnPanic(func(r any) {
		s.logger.Error("node handler panicked", "panic", r)
	})

	observers := append([]engine.Observer{s}, cfg.Observers...)
	for _, mode := range []engine.Mode{engine.ModeBarrier, engine.ModePerPath} {
		s.executors[mode] = engine.NewExecutor(d, engine.ExecutorConfig{
			Mode:          mode,
			Pool:          s.pool,
			MaxExecutions: cfg.MaxExecutions,
			Logger:        cfg.Logger,
			Tracer:        cfg.Tracer,
			Observers:     observers,
		})
	}
	return s
}

// PoolMetrics exposes the shared pool counters.
func (s *Service) PoolMetrics() engine.PoolMetrics { return s.pool.Metrics() }

type triggerKey struct{}

// Start begins a run. The run lives as long as ctx; callers serving a request
// should detach it with context.WithoutCancel and cancel through Cancel.
func (s *Service) Start(ctx context.Context, wf *schema.Workflow, opts StartOptions) (*engine.Run, error) {
	mode := opts.Mode
	if mode == "" {
		mode = s.defaultMode
	}
	exec, ok := s.executors[mode]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown walk mode %q", mode)
	}
	if opts.Trigger == "" {
		opts.Trigger = store.TriggerManual
	}
	return exec.Start(context.WithValue(ctx, triggerKey{}, opts.Trigger), wf)
}

// Execute runs wf to completion.
func (s *Service) Execute(ctx context.Context, wf *schema.Workflow, opts StartOptions) (*schema.RunResult, error) {
	run, err := s.Start(ctx, wf, opts)
	if err != nil {
		return nil, err
	}
	return run.Wait(), nil
}

// StartSaved loads a stored workflow and starts it.
func (s *Service) StartSaved(ctx context.Context, workflowID string, opts StartOptions) (*engine.Run, error) {
	if s.store == nil {
		return nil, schema.NewError(schema.ErrCodeStore, "no store configured")
	}
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return s.Start(ctx, wf, opts)
}

// Live returns an in-flight run.
func (s *Service) Live(id string) (*engine.Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.live[id]
	return r, ok
}

// Cancel stops an in-flight run. Finished runs yield CONFLICT.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if run, ok := s.Live(id); ok {
		run.Cancel()
		return nil
	}
	if s.store != nil {
		stored, err := s.store.GetRun(ctx, id)
		if err != nil {
			return err
		}
		return schema.NewErrorf(schema.ErrCodeConflict, "run %s already %s", id, stored.Status)
	}
	return schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
}

// Get returns a run, live state first.
func (s *Service) Get(ctx context.Context, id string) (*store.Run, error) {
	if run, ok := s.Live(id); ok {
		return liveView(run), nil
	}
	if s.store == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	return s.store.GetRun(ctx, id)
}

// List returns stored runs, newest first.
func (s *Service) List(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListRuns(ctx, filter)
}

// Events returns the persisted events of a run after sequence since.
func (s *Service) Events(ctx context.Context, id string, since int64) ([]*store.StoredEvent, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListRunEvents(ctx, id, since)
}

// Shutdown cancels live runs and waits for them until ctx ends.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	live := make([]*engine.Run, 0, len(s.live))
	for _, r := range s.live {
		live = append(live, r)
	}
	s.mu.RUnlock()

	for _, r := range live {
		r.Cancel()
	}
	for _, r := range live {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, e := range s.executors {
		e.Close()
	}
	s.pool.Shutdown()
	return nil
}

func liveView(run *engine.Run) *store.Run {
	return &store.Run{
		ID:         run.ID,
		WorkflowID: run.Workflow.ID,
		Mode:       string(run.Mode),
		Status:     schema.RunRunning,
		Records:    run.Snapshot(),
		StartedAt:  run.StartedAt(),
	}
}

func (s *Service) OnRunStart(ctx context.Context, run *engine.Run) {
	s.mu.Lock()
	s.live[run.ID] = run
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	trigger, _ := ctx.Value(triggerKey{}).(string)
	ctx = context.WithoutCancel(ctx)
	if err := s.store.CreateRun(ctx, &store.Run{
		ID:         run.ID,
		WorkflowID: run.Workflow.ID,
		Mode:       string(run.Mode),
		Trigger:    trigger,
		Status:     schema.RunRunning,
		StartedAt:  run.StartedAt(),
	}); err != nil {
		s.logger.WarnContext(ctx, "persist run start", "error", err)
		return
	}
	s.appendEvent(ctx, streaming.StartEvent(run.ID, run.Workflow.ID))
}

func (s *Service) OnRecord(ctx context.Context, run *engine.Run, _ *schema.Node, rec schema.ExecutionRecord) {
	if s.store == nil {
		return
	}
	if ev, ok := streaming.NodeEvent(run.ID, run.Workflow.ID, rec); ok {
		s.appendEvent(context.WithoutCancel(ctx), ev)
	}
}

func (s *Service) OnRunEnd(ctx context.Context, run *engine.Run, res *schema.RunResult) {
	defer func() {
		s.mu.Lock()
		delete(s.live, run.ID)
		s.mu.Unlock()
	}()
	if s.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.appendEvent(ctx, streaming.EndEvent(res))
	if err := s.store.FinishRun(ctx, res); err != nil {
		s.logger.WarnContext(ctx, "persist run result", "error", err, "status", string(res.Status))
	}
}

func (s *Service) appendEvent(ctx context.Context, ev schema.RunEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if _, err := s.store.AppendRunEvent(ctx, &ev); err != nil {
		s.logger.WarnContext(ctx, "persist run event", "type", ev.Type, "error", err)
	}
}
