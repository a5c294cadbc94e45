package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/lessonflow/pkg/schema"
)

// LibSQLStore implements Store on an embedded libSQL database.
type LibSQLStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*LibSQLStore)(nil)

// NewLibSQLStore opens the database at dbPath, a file URI such as
// "file:/home/me/.lessonflow/lessonflow.db". Call Migrate before use.
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return a row, so they go through QueryRow.
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		var ignored string
		_ = db.QueryRow(p).Scan(&ignored)
	}
	return &LibSQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// DB exposes the underlying handle for the event log.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

func (s *LibSQLStore) Close() error { return s.db.Close() }

func (s *LibSQLStore) Migrate(ctx context.Context) error { return runMigrations(ctx, s.db) }

func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

// SaveWorkflow inserts or replaces a workflow, keeping its first CreatedAt.
func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *schema.Workflow) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	now := s.now()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	def, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, title, description, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, description=excluded.description,
		   definition=excluded.definition, updated_at=excluded.updated_at`,
		wf.ID, wf.Title, nullStr(wf.Description), string(def), wf.CreatedAt, wf.UpdatedAt,
	)
	return storeErr("save workflow", err)
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	var def string
	var created time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT definition, created_at FROM workflows WHERE id = ?`, id,
	).Scan(&def, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("workflow", id)
	}
	if err != nil {
		return nil, storeErr("get workflow", err)
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal([]byte(def), wf); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "workflow %q: corrupt definition", id).WithCause(err)
	}
	wf.CreatedAt = created
	return wf, nil
}

// ListWorkflows returns workflows, most recently updated first.
func (s *LibSQLStore) ListWorkflows(ctx context.Context, limit int) ([]*schema.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition FROM workflows ORDER BY updated_at DESC LIMIT ?`, limitOrAll(limit))
	if err != nil {
		return nil, storeErr("list workflows", err)
	}
	defer rows.Close()

	var out []*schema.Workflow
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, storeErr("scan workflow", err)
		}
		wf := &schema.Workflow{}
		if err := json.Unmarshal([]byte(def), wf); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "corrupt workflow definition").WithCause(err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete workflow", err)
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Lessons ---

func (s *LibSQLStore) SaveLesson(ctx context.Context, l *schema.Lesson) error {
	if l == nil || l.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "lesson id is required")
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lessons (id, title, content, summary, query, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, content=excluded.content,
		   summary=excluded.summary, query=excluded.query`,
		l.ID, l.Title, l.Content, nullStr(l.Summary), nullStr(l.Query), l.CreatedAt,
	)
	return storeErr("save lesson", err)
}

func (s *LibSQLStore) GetLesson(ctx context.Context, id string) (*schema.Lesson, error) {
	l := &schema.Lesson{}
	var summary, query sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, summary, query, created_at FROM lessons WHERE id = ?`, id,
	).Scan(&l.ID, &l.Title, &l.Content, &summary, &query, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("lesson", id)
	}
	if err != nil {
		return nil, storeErr("get lesson", err)
	}
	l.Summary = summary.String
	l.Query = query.String
	return l, nil
}

func (s *LibSQLStore) ListLessons(ctx context.Context, limit int) ([]*schema.Lesson, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, summary, query, created_at FROM lessons ORDER BY created_at DESC LIMIT ?`,
		limitOrAll(limit))
	if err != nil {
		return nil, storeErr("list lessons", err)
	}
	defer rows.Close()

	var out []*schema.Lesson
	for rows.Next() {
		l := &schema.Lesson{}
		var summary, query sql.NullString
		if err := rows.Scan(&l.ID, &l.Title, &l.Content, &summary, &query, &l.CreatedAt); err != nil {
			return nil, storeErr("scan lesson", err)
		}
		l.Summary = summary.String
		l.Query = query.String
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteLesson(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lessons WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete lesson", err)
	}
	return checkRowsAffected(res, "lesson", id)
}

// --- Provider settings ---

func (s *LibSQLStore) GetProviderMeta(ctx context.Context, id string) (*schema.ProviderConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, enabled, base_url, default_model, settings, updated_at FROM provider_configs WHERE id = ?`, id)
	cfg, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("provider", id)
	}
	return cfg, err
}

func (s *LibSQLStore) PutProviderMeta(ctx context.Context, cfg *schema.ProviderConfig) error {
	settings, err := marshalOrNull(cfg.Settings)
	if err != nil {
		return fmt.Errorf("marshal provider settings: %w", err)
	}
	updated := cfg.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO provider_configs (id, enabled, base_url, default_model, settings, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET enabled=excluded.enabled, base_url=excluded.base_url,
		   default_model=excluded.default_model, settings=excluded.settings, updated_at=excluded.updated_at`,
		cfg.ID, cfg.Enabled, nullStr(cfg.BaseURL), nullStr(cfg.DefaultModel), settings, updated,
	)
	return storeErr("save provider", err)
}

func (s *LibSQLStore) ListProviderMeta(ctx context.Context) ([]*schema.ProviderConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, enabled, base_url, default_model, settings, updated_at FROM provider_configs ORDER BY id`)
	if err != nil {
		return nil, storeErr("list providers", err)
	}
	defer rows.Close()

	var out []*schema.ProviderConfig
	for rows.Next() {
		cfg, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProvider(row scanner) (*schema.ProviderConfig, error) {
	cfg := &schema.ProviderConfig{}
	var baseURL, model, settings sql.NullString
	if err := row.Scan(&cfg.ID, &cfg.Enabled, &baseURL, &model, &settings, &cfg.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, storeErr("scan provider", err)
	}
	cfg.BaseURL = baseURL.String
	cfg.DefaultModel = model.String
	if settings.Valid && settings.String != "" {
		if err := json.Unmarshal([]byte(settings.String), &cfg.Settings); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "provider %q: corrupt settings", cfg.ID).WithCause(err)
		}
	}
	return cfg, nil
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value, s.now(),
	)
	return storeErr("store secret", err)
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("secret", key)
	}
	return value, storeErr("get secret", err)
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return storeErr("delete secret", err)
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, storeErr("list secrets", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, storeErr("scan secret", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run id is required")
	}
	if run.Trigger == "" {
		run.Trigger = TriggerManual
	}
	if run.Status == "" {
		run.Status = schema.RunRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow_id, mode, trigger, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, nullStr(run.WorkflowID), run.Mode, run.Trigger, string(run.Status), run.StartedAt,
	)
	return storeErr("create run", err)
}

// FinishRun stores the final status and records of a run.
func (s *LibSQLStore) FinishRun(ctx context.Context, res *schema.RunResult) error {
	records, err := json.Marshal(res.Records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	var runErr any
	if res.Error != nil {
		b, err := json.Marshal(res.Error)
		if err != nil {
			return fmt.Errorf("marshal run error: %w", err)
		}
		runErr = string(b)
	}
	completed := res.CompletedAt
	if completed.IsZero() {
		completed = s.now()
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, records = ?, completed_at = ? WHERE id = ?`,
		string(res.Status), runErr, string(records), completed, res.RunID,
	)
	if err != nil {
		return storeErr("finish run", err)
	}
	return checkRowsAffected(result, "run", res.RunID)
}

const runColumns = `id, workflow_id, mode, trigger, status, error, records, started_at, completed_at`

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run", id)
	}
	return run, err
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}
	q := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limitOrAll(filter.Limit))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("list runs", err)
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(row scanner) (*Run, error) {
	r := &Run{}
	var workflowID, runErr, records sql.NullString
	var status string
	var completed sql.NullTime
	if err := row.Scan(&r.ID, &workflowID, &r.Mode, &r.Trigger, &status, &runErr, &records, &r.StartedAt, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, storeErr("scan run", err)
	}
	r.WorkflowID = workflowID.String
	r.Status = schema.RunStatus(status)
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	if runErr.Valid && runErr.String != "" {
		r.Error = &schema.FlowError{}
		if err := json.Unmarshal([]byte(runErr.String), r.Error); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "run %q: corrupt error", r.ID).WithCause(err)
		}
	}
	if records.Valid && records.String != "" {
		if err := json.Unmarshal([]byte(records.String), &r.Records); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "run %q: corrupt records", r.ID).WithCause(err)
		}
	}
	return r, nil
}

// --- Run events ---

func (s *LibSQLStore) AppendRunEvent(ctx context.Context, ev *schema.RunEvent) (int64, error) {
	return NewEventLog(s).Append(ctx, ev)
}

func (s *LibSQLStore) ListRunEvents(ctx context.Context, runID string, since int64) ([]*StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, payload FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence`,
		runID, since)
	if err != nil {
		return nil, storeErr("list run events", err)
	}
	defer rows.Close()

	var out []*StoredEvent
	for rows.Next() {
		ev := &StoredEvent{}
		var payload string
		if err := rows.Scan(&ev.Sequence, &payload); err != nil {
			return nil, storeErr("scan run event", err)
		}
		if err := json.Unmarshal([]byte(payload), &ev.RunEvent); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "run %q event %d: corrupt payload", runID, ev.Sequence).WithCause(err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- Schedules ---

func (s *LibSQLStore) CreateSchedule(ctx context.Context, sc *Schedule) error {
	if sc.ID == "" || sc.WorkflowID == "" || sc.CronExpression == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule needs id, workflow_id and cron_expression")
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (id, workflow_id, cron_expression, mode, enabled, next_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.WorkflowID, sc.CronExpression, nullStr(sc.Mode), sc.Enabled, nullTime(sc.NextRunAt), sc.CreatedAt,
	)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "foreign key") {
		return notFound("workflow", sc.WorkflowID)
	}
	return storeErr("create schedule", err)
}

const scheduleColumns = `id, workflow_id, cron_expression, mode, enabled, last_run_at, next_run_at, last_run_status, last_run_id, created_at`

func (s *LibSQLStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	sc, err := scanSchedule(s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("schedule", id)
	}
	return sc, err
}

func (s *LibSQLStore) UpdateSchedule(ctx context.Context, id string, u ScheduleUpdate) error {
	var sets []string
	var args []any
	if u.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *u.Enabled)
	}
	if u.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *u.LastRunAt)
	}
	if u.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *u.NextRunAt)
	}
	if u.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, u.LastRunStatus)
	}
	if u.LastRunID != "" {
		sets = append(sets, "last_run_id = ?")
		args = append(args, u.LastRunID)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return storeErr("update schedule", err)
	}
	return checkRowsAffected(res, "schedule", id)
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	var where []string
	var args []any
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	q := `SELECT ` + scheduleColumns + ` FROM schedules`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at LIMIT ?"
	args = append(args, limitOrAll(filter.Limit))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("list schedules", err)
	}
	defer rows.Close()
	var out []*Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete schedule", err)
	}
	return checkRowsAffected(res, "schedule", id)
}

func scanSchedule(row scanner) (*Schedule, error) {
	sc := &Schedule{}
	var mode, status, runID sql.NullString
	var lastRun, nextRun sql.NullTime
	if err := row.Scan(&sc.ID, &sc.WorkflowID, &sc.CronExpression, &mode, &sc.Enabled,
		&lastRun, &nextRun, &status, &runID, &sc.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, storeErr("scan schedule", err)
	}
	sc.Mode = mode.String
	sc.LastRunStatus = status.String
	sc.LastRunID = runID.String
	if lastRun.Valid {
		t := lastRun.Time
		sc.LastRunAt = &t
	}
	if nextRun.Valid {
		t := nextRun.Time
		sc.NextRunAt = &t
	}
	return sc, nil
}

// --- helpers ---

func notFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

// storeErr wraps driver errors as STORE_ERROR; nil stays nil.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("rows affected", err)
	}
	if n == 0 {
		return notFound(resource, id)
	}
	return nil
}

func limitOrAll(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalOrNull(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
