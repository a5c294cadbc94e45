package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/lessonflow/pkg/schema"
)

// EventLog appends run events with a gap-free per-run sequence and rebuilds
// node records from them.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps s.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// Append stores ev and returns its sequence number within the run.
func (el *EventLog) Append(ctx context.Context, ev *schema.RunEvent) (int64, error) {
	if ev.RunID == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "event run_id is required")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}

	tx, err := el.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin event tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The store holds a single connection, so the read of MAX(sequence) and the
	// insert cannot interleave with another writer.
	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, ev.RunID,
	).Scan(&seq); err != nil {
		return 0, storeErr("next event sequence", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, sequence, event_type, node_id, payload, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.RunID, seq, ev.Type, nullStr(ev.NodeID), string(payload), ev.Timestamp,
	); err != nil {
		return 0, storeErr("insert event", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr("commit event", err)
	}
	return seq, nil
}

// Replay rebuilds the latest record of every node mentioned in a run's
// events. A gap in the sequence is reported as STORE_ERROR.
func (el *EventLog) Replay(ctx context.Context, runID string) (map[string]*schema.ExecutionRecord, schema.RunStatus, error) {
	events, err := el.store.ListRunEvents(ctx, runID, 0)
	if err != nil {
		return nil, "", err
	}

	records := make(map[string]*schema.ExecutionRecord)
	status := schema.RunStatus("")
	for i, ev := range events {
		if want := int64(i + 1); ev.Sequence != want {
			return nil, "", schema.NewErrorf(schema.ErrCodeStore,
				"run %s: event sequence gap, want %d got %d", runID, want, ev.Sequence)
		}

		switch ev.Type {
		case schema.EventRunStarted:
			status = schema.RunRunning
		case schema.EventRunCompleted, schema.EventRunFailed, schema.EventRunCancelled:
			status = ev.Status
		}

		if ev.NodeID == "" || ev.Record == nil {
			continue
		}
		rec := *ev.Record
		records[ev.NodeID] = &rec
	}
	return records, status, nil
}
