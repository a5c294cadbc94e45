package engine

import (
	"sync"
	"time"

	"github.com/rendis/lessonflow/pkg/schema"
)

// RecordObserver is notified with a copy of every record change.
type RecordObserver func(rec schema.ExecutionRecord)

// ValidRecordTransitions defines the allowed node record transitions.
var ValidRecordTransitions = map[schema.RecordStatus][]schema.RecordStatus{
	schema.RecordPending:   {schema.RecordRunning},
	schema.RecordRunning:   {schema.RecordCompleted, schema.RecordError},
	schema.RecordCompleted: {},
	schema.RecordError:     {},
}

// reentryTransitions are added when a node may run once per inbound path.
var reentryTransitions = map[schema.RecordStatus][]schema.RecordStatus{
	schema.RecordCompleted: {schema.RecordRunning},
	schema.RecordError:     {schema.RecordRunning},
}

// Tracker holds the ExecutionRecord of every node for one run.
type Tracker struct {
	mu        sync.RWMutex
	records   map[string]*schema.ExecutionRecord
	order     []string
	reentry   bool
	observers []RecordObserver
	now       func() time.Time
}

// NewTracker creates a pending record for each node id. With reentry enabled a
// terminal record may be begun again; Attempts counts the visits.
func NewTracker(nodeIDs []string, reentry bool) *Tracker {
	t := &Tracker{
		records: make(map[string]*schema.ExecutionRecord, len(nodeIDs)),
		order:   append([]string(nil), nodeIDs...),
		reentry: reentry,
		now:     time.Now,
	}
	for _, id := range nodeIDs {
		t.records[id] = &schema.ExecutionRecord{NodeID: id, Status: schema.RecordPending}
	}
	return t
}

// Observe registers an observer. Observers run synchronously on the writer's
// goroutine and must not call back into the Tracker.
func (t *Tracker) Observe(o RecordObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// Begin moves a node to running.
func (t *Tracker) Begin(nodeID string) error {
	return t.transition(nodeID, schema.RecordRunning, func(r *schema.ExecutionRecord, now time.Time) {
		r.Attempts++
		r.Result = ""
		r.Error = ""
		r.StartedAt = &now
		r.CompletedAt = nil
	})
}

// Complete moves a running node to completed with its result.
func (t *Tracker) Complete(nodeID, result string) error {
	return t.transition(nodeID, schema.RecordCompleted, func(r *schema.ExecutionRecord, now time.Time) {
		r.Result = result
		r.CompletedAt = &now
	})
}

// Fail moves a running node to error with the handler's message.
func (t *Tracker) Fail(nodeID, errMsg string) error {
	return t.transition(nodeID, schema.RecordError, func(r *schema.ExecutionRecord, now time.Time) {
		r.Error = errMsg
		r.CompletedAt = &now
	})
}

// Get returns a copy of the node's record. ok is false for unknown nodes.
func (t *Tracker) Get(nodeID string) (schema.ExecutionRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[nodeID]
	if !ok {
		return schema.ExecutionRecord{}, false
	}
	return *r, true
}

// Result returns the node's result when it completed, or "".
func (t *Tracker) Result(nodeID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if r, ok := t.records[nodeID]; ok && r.Status == schema.RecordCompleted {
		return r.Result
	}
	return ""
}

// Snapshot returns copies of all records in node order.
func (t *Tracker) Snapshot() []schema.ExecutionRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]schema.ExecutionRecord, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.records[id])
	}
	return out
}

func (t *Tracker) transition(nodeID string, to schema.RecordStatus, apply func(*schema.ExecutionRecord, time.Time)) error {
	t.mu.Lock()
	r, ok := t.records[nodeID]
	if !ok {
		t.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "no record for node %s", nodeID).WithNode(nodeID)
	}
	if !t.allowed(r.Status, to) {
		from := r.Status
		t.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid record transition: %s -> %s", from, to).
			WithNode(nodeID).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}
	r.Status = to
	apply(r, t.now())
	snapshot := *r
	observers := t.observers
	t.mu.Unlock()

	for _, o := range observers {
		o(snapshot)
	}
	return nil
}

func (t *Tracker) allowed(from, to schema.RecordStatus) bool {
	for _, a := range ValidRecordTransitions[from] {
		if a == to {
			return true
		}
	}
	if t.reentry {
		for _, a := range reentryTransitions[from] {
			if a == to {
				return true
			}
		}
	}
	return false
}
