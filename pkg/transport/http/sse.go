package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/storage"
	"github.com/rhuss/antwort-sandbox/pkg/transport"
)

// eventStream writes history-surface events as SSE frames:
//
//	event: {type}
//	id: {execution_id}
//	data: {json}
type eventStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newEventStream(w http.ResponseWriter) *eventStream {
	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("clearing write deadline", "error", err)
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &eventStream{w: w, rc: rc}
}

func (s *eventStream) send(ev api.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if ev.ExecutionID != "" {
		_, err = fmt.Fprintf(s.w, "event: %s\nid: %s\ndata: %s\n\n", ev.Type, ev.ExecutionID, data)
	} else {
		_, err = fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data)
	}
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return s.rc.Flush()
}

func (s *eventStream) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	return s.rc.Flush()
}

// handleEvents handles GET /v1/sessions/{session_id}/events. The stream
// ends when the client disconnects, the session is deleted, or the broker
// shuts down.
func (a *Adapter) handleEvents(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionID(w, r)
	if !ok {
		return
	}
	if a.events == nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("", "event streaming is not available"),
			http.StatusNotImplemented)
		return
	}

	ch, cancel := a.events.Subscribe(storage.GetTenant(r.Context()), sid)
	defer cancel()

	stream := newEventStream(w)
	if err := stream.comment("subscribed"); err != nil {
		return
	}

	heartbeat := time.NewTicker(a.config.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := stream.comment("keepalive"); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := stream.send(ev); err != nil {
				slog.Debug("event stream closed", "session_id", sid, "error", err)
				return
			}
			if ev.Type == api.EventSessionDeleted {
				return
			}
		}
	}
}
