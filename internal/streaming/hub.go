// Package streaming fans run progress events out to live subscribers, either
// in process or across instances through Redis pub/sub.
package streaming

import (
	"context"
	"slices"

	"github.com/rendis/lessonflow/pkg/schema"
)

// Filter selects which events a subscriber receives. Empty fields match all.
type Filter struct {
	RunID      string   `json:"run_id,omitempty"`
	WorkflowID string   `json:"workflow_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Match reports whether ev passes f.
func (f Filter) Match(ev schema.RunEvent) bool {
	if f.RunID != "" && f.RunID != ev.RunID {
		return false
	}
	if f.WorkflowID != "" && f.WorkflowID != ev.WorkflowID {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, ev.Type) {
		return false
	}
	return true
}

// Hub is a pub/sub for run events. Publish never blocks on slow subscribers.
type Hub interface {
	Publish(ctx context.Context, ev schema.RunEvent) error
	Subscribe(ctx context.Context, f Filter) (<-chan schema.RunEvent, func(), error)
}
