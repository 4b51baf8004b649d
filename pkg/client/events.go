package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/rhuss/antwort-sandbox/pkg/api"
)

// Events subscribes to a session's history events. The channel closes when
// the stream ends, the session is deleted, or ctx is cancelled.
func (c *Client) Events(ctx context.Context, sessionID string) (<-chan api.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/sessions/"+url.PathEscape(sessionID)+"/events", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	ch := make(chan api.Event)
	go func() {
		defer resp.Body.Close()
		parseEventStream(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// parseEventStream reads SSE frames and sends decoded events to ch. Comment
// lines (heartbeats) are skipped. ch is closed when the stream ends.
func parseEventStream(ctx context.Context, r io.Reader, ch chan<- api.Event) {
	defer close(ch)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"), strings.HasPrefix(line, "event: "), strings.HasPrefix(line, "id: "):
			continue
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
			continue
		case line != "":
			continue
		}

		// Blank line: dispatch the buffered frame.
		if data.Len() == 0 {
			continue
		}
		var ev api.Event
		err := json.Unmarshal([]byte(data.String()), &ev)
		data.Reset()
		if err != nil {
			slog.Debug("skipping malformed event", "error", err)
			continue
		}
		select {
		case ch <- ev:
		case <-ctx.Done():
			return
		}
		if ev.Type == api.EventSessionDeleted {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		slog.Debug("event stream read failed", "error", err)
	}
}
