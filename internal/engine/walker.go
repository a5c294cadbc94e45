package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/lessonflow/internal/logging"
	"github.com/rendis/lessonflow/pkg/schema"
)

// Mode selects how the walker treats nodes with several inbound edges.
type Mode string

const (
	// ModeBarrier runs every reachable node at most once, after all of its
	// reachable predecessors have finished. This is the default.
	ModeBarrier Mode = "barrier"
	// ModePerPath schedules a successor every time one of its predecessors
	// completes, so a fan-in node runs once per inbound path with whatever
	// inputs are available at that moment.
	ModePerPath Mode = "per-path"
)

// ParseMode resolves a mode name; "" yields the default.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return DefaultMode, nil
	case ModeBarrier, ModePerPath:
		return Mode(s), nil
	}
	return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown walk mode %q", s)
}

const (
	DefaultMode          = ModeBarrier
	DefaultPoolSize      = 10
	DefaultMaxExecutions = 1000
)

// Dispatcher executes the action behind a node. Satisfied by *actions.Dispatcher.
type Dispatcher interface {
	Execute(ctx context.Context, node *schema.Node, input string) (string, error)
}

// Observer receives run lifecycle callbacks. Callbacks run on engine
// goroutines and must not block for long.
type Observer interface {
	OnRunStart(ctx context.Context, run *Run)
	OnRecord(ctx context.Context, run *Run, node *schema.Node, rec schema.ExecutionRecord)
	OnRunEnd(ctx context.Context, run *Run, res *schema.RunResult)
}

// ExecutorConfig holds configuration for the executor.
type ExecutorConfig struct {
	Mode          Mode
	PoolSize      int         // used when Pool is nil
	Pool          *WorkerPool // shared pool; nil creates a private one
	MaxExecutions int         // per-path mode only
	Logger        *slog.Logger
	Tracer        trace.Tracer
	Observers     []Observer
}

// Executor walks workflow graphs and dispatches their nodes.
type Executor struct {
	dispatcher Dispatcher
	pool       *WorkerPool
	ownsPool   bool
	cfg        ExecutorConfig
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewExecutor creates an Executor. Zero config values take the defaults.
func NewExecutor(d Dispatcher, cfg ExecutorConfig) *Executor {
	if cfg.Mode == "" {
		cfg.Mode = DefaultMode
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.MaxExecutions <= 0 {
		cfg.MaxExecutions = DefaultMaxExecutions
	}
	e := &Executor{dispatcher: d, cfg: cfg, pool: cfg.Pool, logger: cfg.Logger, tracer: cfg.Tracer}
	if e.pool == nil {
		e.pool = NewWorkerPool(cfg.PoolSize)
		e.ownsPool = true
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/rendis/lessonflow/internal/engine")
	}
	return e
}

// Mode returns the configured walk mode.
func (e *Executor) Mode() Mode { return e.cfg.Mode }

// PoolMetrics exposes the dispatch pool counters.
func (e *Executor) PoolMetrics() PoolMetrics { return e.pool.Metrics() }

// Close shuts down a privately owned pool, waiting for in-flight handlers.
func (e *Executor) Close() {
	if e.ownsPool {
		e.pool.Shutdown()
	}
}

// Run is a single in-flight execution of a workflow.
type Run struct {
	ID       string
	Workflow *schema.Workflow
	Mode     Mode

	idx     *Index
	tracker *Tracker
	cancel  context.CancelFunc
	updates chan schema.ExecutionRecord
	done    chan struct{}
	started time.Time

	nodeLocks map[string]*sync.Mutex // per-path: one execution of a node at a time

	mu     sync.Mutex
	result *schema.RunResult
}

// Updates streams every record change. It is closed when the run ends. The
// buffer holds every change a run can emit, so not draining it never blocks
// the run.
func (r *Run) Updates() <-chan schema.ExecutionRecord { return r.updates }

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel stops scheduling new nodes. Handlers already running see their
// context cancelled.
func (r *Run) Cancel() { r.cancel() }

// Snapshot returns the current records in workflow node order.
func (r *Run) Snapshot() []schema.ExecutionRecord { return r.tracker.Snapshot() }

// Record returns the current record of one node.
func (r *Run) Record(nodeID string) (schema.ExecutionRecord, bool) { return r.tracker.Get(nodeID) }

// StartedAt is when the run began.
func (r *Run) StartedAt() time.Time { return r.started }

// Wait blocks until the run ends and returns its result.
func (r *Run) Wait() *schema.RunResult {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Execute runs a workflow to completion. Precondition failures (no start node,
// cycles, malformed graphs) return a failed result with no records and the error.
func (e *Executor) Execute(ctx context.Context, wf *schema.Workflow) (*schema.RunResult, error) {
	run, err := e.Start(ctx, wf)
	if err != nil {
		now := time.Now().UTC()
		res := &schema.RunResult{Status: schema.RunFailed, StartedAt: now, CompletedAt: now}
		if wf != nil {
			res.WorkflowID = wf.ID
		}
		if fe, ok := err.(*schema.FlowError); ok {
			res.Error = fe
		} else {
			res.Error = schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
		}
		return res, err
	}
	return run.Wait(), nil
}

// Start validates the graph and begins walking it from the start node. The
// returned Run completes asynchronously.
func (e *Executor) Start(ctx context.Context, wf *schema.Workflow) (*Run, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	wf = cloneWorkflow(wf)
	idx, err := BuildIndex(wf)
	if err != nil {
		return nil, err
	}

	capacity := 2*len(idx.Order) + 1
	if e.cfg.Mode == ModePerPath {
		capacity = 2*e.cfg.MaxExecutions + 1
	}

	runCtx, cancel := context.WithCancel(ctx)

	run := &Run{
		ID:       uuid.NewString(),
		Workflow: wf,
		Mode:     e.cfg.Mode,
		idx:      idx,
		tracker:  NewTracker(idx.Order, e.cfg.Mode == ModePerPath),
		cancel:   cancel,
		updates:  make(chan schema.ExecutionRecord, capacity),
		done:     make(chan struct{}),
		started:  time.Now().UTC(),
	}
	if run.Mode == ModePerPath {
		run.nodeLocks = make(map[string]*sync.Mutex, len(idx.Order))
		for _, id := range idx.Order {
			run.nodeLocks[id] = &sync.Mutex{}
		}
	}

	runCtx = logging.WithRunID(runCtx, run.ID)
	runCtx = logging.WithWorkflowID(runCtx, wf.ID)

	run.tracker.Observe(func(rec schema.ExecutionRecord) {
		select {
		case run.updates <- rec:
		default:
			e.logger.WarnContext(runCtx, "update buffer full, dropping record change", "node_id", rec.NodeID)
		}
		node := idx.Nodes[rec.NodeID]
		for _, o := range e.cfg.Observers {
			o.OnRecord(runCtx, run, node, rec)
		}
	})

	for _, o := range e.cfg.Observers {
		o.OnRunStart(runCtx, run)
	}
	e.logger.InfoContext(runCtx, "run started", "nodes", len(idx.Order), "edges", len(wf.Edges), "mode", string(e.cfg.Mode))

	go func() {
		defer cancel()
		e.walk(runCtx, run)
	}()
	return run, nil
}

// completion is sent by a node goroutine back to the coordinator.
type completion struct {
	nodeID   string
	ok       bool
	canceled bool
	err      error
}

// walkState is owned by the coordinator goroutine.
type walkState struct {
	remaining   map[string]int  // barrier: unresolved reachable in-edges
	fired       map[string]bool // barrier: a predecessor completed
	outstanding int
	executions  int
	canceled    bool
	failed      []string
	firstErr    error
	limitErr    *schema.FlowError
}

func (e *Executor) walk(ctx context.Context, run *Run) {
	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("workflow.id", run.Workflow.ID),
		attribute.String("walk.mode", string(run.Mode)),
	))

	idx := run.idx
	done := make(chan completion, len(idx.Order)+1)
	st := &walkState{
		remaining: make(map[string]int, len(idx.Reachable)),
		fired:     make(map[string]bool, len(idx.Reachable)),
	}
	if run.Mode == ModeBarrier {
		for id := range idx.Reachable {
			for _, next := range idx.Forward[id] {
				st.remaining[next]++
			}
		}
	}

	schedule := func(id string) {
		st.outstanding++
		st.executions++
		go func() {
			err := e.pool.Submit(ctx, func(ctx context.Context) error {
				return e.runNode(ctx, run, id, done)
			})
			if err != nil {
				done <- completion{nodeID: id, canceled: ctx.Err() != nil, err: err}
			}
		}()
	}

	var resolve func(id string, ok bool)
	resolve = func(id string, ok bool) {
		if run.Mode == ModePerPath {
			if !ok || st.limitErr != nil {
				return
			}
			for _, next := range idx.Forward[id] {
				if idx.Nodes[next].Kind == schema.KindEnd {
					continue
				}
				if st.executions >= e.cfg.MaxExecutions {
					st.limitErr = schema.NewErrorf(schema.ErrCodeExecutionLimit,
						"run exceeded %d node executions", e.cfg.MaxExecutions)
					return
				}
				schedule(next)
			}
			return
		}

		for _, next := range idx.Forward[id] {
			st.remaining[next]--
			if ok {
				st.fired[next] = true
			}
			if st.remaining[next] > 0 {
				continue
			}
			if st.fired[next] && idx.Nodes[next].Kind != schema.KindEnd && !st.canceled {
				schedule(next)
			} else {
				resolve(next, false)
			}
		}
	}

	if ctx.Err() != nil {
		st.canceled = true
	} else {
		schedule(idx.Start)
	}

	for st.outstanding > 0 {
		c := <-done
		st.outstanding--
		switch {
		case c.canceled:
			st.canceled = true
		case c.err != nil && !c.ok:
			st.failed = append(st.failed, c.nodeID)
			if st.firstErr == nil {
				st.firstErr = c.err
			}
		}
		if c.canceled || ctx.Err() != nil {
			st.canceled = true
		}
		resolve(c.nodeID, c.ok && !st.canceled)
	}

	res := &schema.RunResult{
		RunID:       run.ID,
		WorkflowID:  run.Workflow.ID,
		StartedAt:   run.started,
		CompletedAt: time.Now().UTC(),
		Records:     run.tracker.Snapshot(),
	}
	switch {
	case st.canceled:
		res.Status = schema.RunCancelled
		res.Error = schema.NewError(schema.ErrCodeCancelled, "run cancelled")
		span.SetStatus(codes.Error, "cancelled")
	case st.limitErr != nil:
		res.Status = schema.RunFailed
		res.Error = st.limitErr
		span.SetStatus(codes.Error, st.limitErr.Message)
	case st.firstErr != nil:
		res.Status = schema.RunFailed
		res.Error = nodeFailure(st.failed, st.firstErr)
		span.SetStatus(codes.Error, res.Error.Message)
	default:
		res.Status = schema.RunCompleted
	}

	e.logger.InfoContext(ctx, "run finished",
		"status", string(res.Status),
		"executions", st.executions,
		"failed_nodes", len(st.failed),
		"duration", res.CompletedAt.Sub(res.StartedAt))

	span.End()

	run.mu.Lock()
	run.result = res
	run.mu.Unlock()
	for _, o := range e.cfg.Observers {
		o.OnRunEnd(ctx, run, res)
	}
	close(run.updates)
	close(run.done)
}

// runNode dispatches a single node and always reports back on done.
func (e *Executor) runNode(ctx context.Context, run *Run, id string, done chan<- completion) (err error) {
	c := completion{nodeID: id}
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("handler panic: %v", r)
			_ = run.tracker.Fail(id, msg)
			c.ok = false
			c.err = schema.NewError(schema.ErrCodeExecution, msg).WithNode(id)
			err = c.err
		}
		done <- c
	}()

	if ctxErr := ctx.Err(); ctxErr != nil {
		c.canceled = true
		c.err = ctxErr
		return ctxErr
	}

	if l := run.nodeLocks[id]; l != nil {
		l.Lock()
		defer l.Unlock()
	}

	node := run.idx.Nodes[id]
	ctx = logging.WithNodeID(ctx, id)
	ctx, span := e.tracer.Start(ctx, "node."+string(node.Kind), trace.WithAttributes(
		attribute.String("node.id", id),
		attribute.String("node.kind", string(node.Kind)),
	))
	defer span.End()

	input := CollectInputs(id, run.idx, run.tracker)
	if err := run.tracker.Begin(id); err != nil {
		c.err = err
		return err
	}
	e.logger.DebugContext(ctx, "node started", "kind", string(node.Kind), "input_len", len(input))

	start := time.Now()
	result, dispatchErr := e.dispatcher.Execute(ctx, node, input)
	if dispatchErr != nil {
		msg := schema.MessageOf(dispatchErr)
		if err := run.tracker.Fail(id, msg); err != nil {
			c.err = err
			return err
		}
		span.RecordError(dispatchErr)
		span.SetStatus(codes.Error, msg)
		e.logger.WarnContext(ctx, "node failed", "kind", string(node.Kind), "error", dispatchErr, "duration", time.Since(start))
		c.err = dispatchErr
		return dispatchErr
	}

	if err := run.tracker.Complete(id, result); err != nil {
		c.err = err
		return err
	}
	e.logger.DebugContext(ctx, "node completed", "kind", string(node.Kind), "result_len", len(result), "duration", time.Since(start))
	c.ok = true
	return nil
}

func nodeFailure(failed []string, first error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNodeFailed, "node %s failed: %s", failed[0], schema.MessageOf(first)).
		WithNode(failed[0]).
		WithCause(first).
		WithDetails(map[string]any{"failed_nodes": failed})
}

func cloneWorkflow(wf *schema.Workflow) *schema.Workflow {
	cp := *wf
	cp.Nodes = append([]schema.Node(nil), wf.Nodes...)
	cp.Edges = append([]schema.Edge(nil), wf.Edges...)
	return &cp
}
