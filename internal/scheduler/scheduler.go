// Package scheduler runs saved workflows on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/lessonflow/internal/engine"
	"github.com/rendis/lessonflow/internal/runs"
	"github.com/rendis/lessonflow/internal/store"
	"github.com/rendis/lessonflow/pkg/schema"
)

const DefaultTick = time.Minute

// ScheduleStore is the slice of store.Store the scheduler uses.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, sc *store.Schedule) error
	GetSchedule(ctx context.Context, id string) (*store.Schedule, error)
	UpdateSchedule(ctx context.Context, id string, u store.ScheduleUpdate) error
	ListSchedules(ctx context.Context, filter store.ScheduleFilter) ([]*store.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
}

// Runner starts saved workflows. Satisfied by *runs.Service.
type Runner interface {
	StartSaved(ctx context.Context, workflowID string, opts runs.StartOptions) (*engine.Run, error)
}

// Scheduler polls for due schedules and starts their workflows. A schedule
// whose previous run is still going is skipped until it finishes.
type Scheduler struct {
	store  ScheduleStore
	runner Runner
	parser cron.Parser
	logger *slog.Logger
	tick   time.Duration
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]*engine.Run // nil while the run is starting
	runs       sync.WaitGroup
}

// New creates a Scheduler. A zero tick uses DefaultTick.
func New(s ScheduleStore, runner Runner, tick time.Duration, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		tick:     tick,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]*engine.Run),
	}
}

// NextRun computes the next fire time of a cron expression after from.
func (s *Scheduler) NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q: %s", expr, err.Error()).WithCause(err)
	}
	return sched.Next(from), nil
}

// Add validates and stores a schedule for a saved workflow.
func (s *Scheduler) Add(ctx context.Context, workflowID, expr, mode string) (*store.Schedule, error) {
	if _, err := engine.ParseMode(mode); err != nil {
		return nil, err
	}
	now := s.now()
	next, err := s.NextRun(expr, now)
	if err != nil {
		return nil, err
	}
	sc := &store.Schedule{
		ID:             uuid.NewString(),
		WorkflowID:     workflowID,
		CronExpression: expr,
		Mode:           mode,
		Enabled:        true,
		NextRunAt:      &next,
		CreatedAt:      now,
	}
	if err := s.store.CreateSchedule(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// SetEnabled pauses or resumes a schedule. Resuming recomputes the next run.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) error {
	sc, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	u := store.ScheduleUpdate{Enabled: &enabled}
	if enabled {
		next, err := s.NextRun(sc.CronExpression, s.now())
		if err != nil {
			return err
		}
		u.NextRunAt = &next
	}
	return s.store.UpdateSchedule(ctx, id, u)
}

func (s *Scheduler) Remove(ctx context.Context, id string) error {
	return s.store.DeleteSchedule(ctx, id)
}

// Start launches the polling loop. The first tick runs immediately, which
// also picks up schedules missed while the process was down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)
	s.logger.Info("scheduler started", "tick", s.tick)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick starts every enabled schedule that is due and returns how many runs
// were started.
func (s *Scheduler) Tick(ctx context.Context) int {
	enabled := true
	due, err := s.store.ListSchedules(ctx, store.ScheduleFilter{Enabled: &enabled})
	if err != nil {
		s.logger.ErrorContext(ctx, "list schedules", "error", err)
		return 0
	}

	now := s.now()
	started := 0
	for _, sc := range due {
		if sc.NextRunAt != nil && sc.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(sc.ID) {
			continue
		}
		if s.fire(ctx, sc, now) {
			started++
		} else {
			s.release(sc.ID)
		}
	}
	return started
}

// fire starts one schedule's run and advances its next fire time. The run is
// awaited in the background so one slow lesson does not hold up the others.
func (s *Scheduler) fire(ctx context.Context, sc *store.Schedule, now time.Time) bool {
	next, err := s.NextRun(sc.CronExpression, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "schedule has a bad cron expression, disabling", "schedule_id", sc.ID, "error", err)
		disabled := false
		_ = s.store.UpdateSchedule(ctx, sc.ID, store.ScheduleUpdate{Enabled: &disabled, LastRunStatus: "error"})
		return false
	}

	mode, _ := engine.ParseMode(sc.Mode)
	run, err := s.runner.StartSaved(context.WithoutCancel(ctx), sc.WorkflowID, runs.StartOptions{
		Mode:    mode,
		Trigger: store.TriggerSchedule,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled run failed to start",
			"schedule_id", sc.ID, "workflow_id", sc.WorkflowID, "error", err)
		if uerr := s.store.UpdateSchedule(ctx, sc.ID, store.ScheduleUpdate{
			LastRunAt: &now, NextRunAt: &next, LastRunStatus: "error",
		}); uerr != nil {
			s.logger.ErrorContext(ctx, "update schedule", "schedule_id", sc.ID, "error", uerr)
		}
		return false
	}

	s.track(sc.ID, run)
	s.logger.InfoContext(ctx, "scheduled run started",
		"schedule_id", sc.ID, "workflow_id", sc.WorkflowID, "run_id", run.ID)
	if err := s.store.UpdateSchedule(ctx, sc.ID, store.ScheduleUpdate{
		LastRunAt: &now, NextRunAt: &next, LastRunStatus: string(schema.RunRunning), LastRunID: run.ID,
	}); err != nil {
		s.logger.ErrorContext(ctx, "update schedule", "schedule_id", sc.ID, "error", err)
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer s.release(sc.ID)
		res := run.Wait()
		if err := s.store.UpdateSchedule(context.WithoutCancel(ctx), sc.ID, store.ScheduleUpdate{
			LastRunStatus: string(res.Status),
		}); err != nil {
			s.logger.Error("record scheduled run status", "schedule_id", sc.ID, "error", err)
		}
	}()
	return true
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = nil
	return true
}

func (s *Scheduler) track(id string, run *engine.Run) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	s.inflight[id] = run
}

// cancelInflight cancels every run the scheduler started that is still going.
func (s *Scheduler) cancelInflight() int {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	n := 0
	for _, run := range s.inflight {
		if run != nil {
			run.Cancel()
			n++
		}
	}
	return n
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// Stop ends the loop, cancels the scheduled runs still going and waits for
// their final status to be recorded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if n := s.cancelInflight(); n > 0 {
		s.logger.Info("cancelled scheduled runs", "count", n)
	}
	s.runs.Wait()
	if cancel != nil {
		s.logger.Info("scheduler stopped")
	}
}
