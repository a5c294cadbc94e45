package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rendis/lessonflow/internal/store"
	"github.com/rendis/lessonflow/internal/streaming"
	"github.com/rendis/lessonflow/pkg/schema"
)

// handleRunEvents streams a run's events as Server-Sent Events. Stored
// events after ?since (or Last-Event-ID) are replayed first; a live run then
// continues from the hub until it ends.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	since := int64(queryInt(r, "since", 0))
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = n
		}
	}

	live, isLive := s.deps.Runs.Live(runID)
	if !isLive {
		if _, err := s.deps.Runs.Get(ctx, runID); err != nil {
			writeFlowError(w, err)
			return
		}
	}

	// Subscribe before replaying so nothing published in between is lost.
	var events <-chan schema.RunEvent
	if isLive && s.deps.Hub != nil {
		ch, cancel, err := s.deps.Hub.Subscribe(ctx, streaming.Filter{RunID: runID})
		if err != nil {
			s.deps.Logger.ErrorContext(ctx, "sse subscribe failed", "run_id", runID, "error", err)
			writeError(w, http.StatusInternalServerError, "subscribe failed")
			return
		}
		defer cancel()
		events = ch
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	st := &sseStream{w: w, flusher: flusher, seen: make(map[string]bool), last: since}
	ended, err := s.replay(r, runID, st)
	if err != nil || ended || !isLive {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if st.duplicate(ev) {
				continue
			}
			st.write(0, ev)
			if terminalEvent(ev.Type) {
				return
			}
		case <-live.Done():
			// The run is persisted before Done closes; the log holds its tail.
			_, _ = s.replay(r, runID, st)
			return
		}
	}
}

// replay writes stored events after st.last and reports whether the run's
// end event was among them.
func (s *Server) replay(r *http.Request, runID string, st *sseStream) (bool, error) {
	stored, err := s.deps.Runs.Events(r.Context(), runID, st.last)
	if err != nil {
		s.deps.Logger.ErrorContext(r.Context(), "sse replay failed", "run_id", runID, "error", err)
		return false, err
	}
	ended := false
	for _, ev := range stored {
		st.last = ev.Sequence
		if st.duplicate(ev.RunEvent) {
			continue
		}
		st.write(ev.Sequence, ev.RunEvent)
		ended = ended || terminalEvent(ev.Type)
	}
	return ended, nil
}

// sseStream writes events once each. Stored and live copies of the same
// event are told apart by type, node and attempt.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	seen    map[string]bool
	last    int64
}

func (st *sseStream) duplicate(ev schema.RunEvent) bool {
	key := ev.Type + "|" + ev.NodeID
	if ev.Record != nil {
		key += "|" + strconv.Itoa(ev.Record.Attempts)
	}
	if st.seen[key] {
		return true
	}
	st.seen[key] = true
	return false
}

func (st *sseStream) write(seq int64, ev schema.RunEvent) {
	var payload any = ev
	if seq > 0 {
		fmt.Fprintf(st.w, "id: %d\n", seq)
		payload = store.StoredEvent{Sequence: seq, RunEvent: ev}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(st.w, "event: %s\ndata: %s\n\n", ev.Type, data)
	st.flusher.Flush()
}

func terminalEvent(t string) bool {
	switch t {
	case schema.EventRunCompleted, schema.EventRunFailed, schema.EventRunCancelled:
		return true
	}
	return false
}
