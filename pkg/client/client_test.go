package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/engine"
	"github.com/rhuss/antwort-sandbox/pkg/events"
	"github.com/rhuss/antwort-sandbox/pkg/storage"
	transporthttp "github.com/rhuss/antwort-sandbox/pkg/transport/http"
)

// fakeService answers the adapter with canned data.
type fakeService struct {
	mu        sync.Mutex
	executed  []*api.ExecutionRequest
	cancelled []string
	deleted   []string
	revoked   []string
	dir       string
}

func (f *fakeService) Execute(_ context.Context, req *api.ExecutionRequest) (*api.ExecutionResult, error) {
	if !req.Runtime.Valid() {
		return nil, api.NewInvalidRequestError("runtime", "unsupported runtime")
	}
	f.mu.Lock()
	f.executed = append(f.executed, req)
	f.mu.Unlock()
	return &api.ExecutionResult{
		ExecutionID: "exec_1",
		SessionID:   req.SessionID,
		Status:      api.StatusSuccess,
		Message:     api.StatusMessage(api.StatusSuccess, nil),
		StdoutLog:   "hello\n",
		Artifacts:   []api.ArtifactRef{},
	}, nil
}

func (f *fakeService) Cancel(_ context.Context, id string) error {
	if id == "missing" {
		return engine.ErrExecutionNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeService) Session(_ context.Context, id string) (*api.SessionInfo, error) {
	if id != "s1" {
		return nil, engine.ErrSessionNotFound
	}
	return &api.SessionInfo{SessionID: "s1", MaxConcurrentExecutions: 2, History: []api.HistoryEntry{}}, nil
}

func (f *fakeService) History(_ context.Context, id string, opts storage.ListOptions) (*storage.HistoryPage, error) {
	entries := []api.HistoryEntry{
		{ExecutionID: "exec_1", SessionID: id, Status: api.StatusSuccess},
		{ExecutionID: "exec_2", SessionID: id, Status: api.StatusRuntimeError},
		{ExecutionID: "exec_3", SessionID: id, Status: api.StatusSuccess},
	}
	if opts.After == "exec_1" {
		entries = entries[1:]
	}
	limit := opts.NormalizedLimit()
	if len(entries) > limit+1 {
		entries = entries[:limit+1]
	}
	return storage.NewHistoryPage(entries, limit), nil
}

func (f *fakeService) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeService) OpenArtifact(_ context.Context, _, artifactID string) (api.ArtifactRef, *os.File, error) {
	if artifactID != "art_1" {
		return api.ArtifactRef{}, nil, storage.ErrNotFound
	}
	fh, err := os.Open(filepath.Join(f.dir, "chart.png"))
	if err != nil {
		return api.ArtifactRef{}, nil, err
	}
	return api.ArtifactRef{
		ID: "art_1", Name: "chart.png", MimeType: "image/png",
		Category: api.CategoryChart, Materialized: true,
	}, fh, nil
}

func (f *fakeService) RevokeArtifact(_ context.Context, _, artifactID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, artifactID)
	return nil
}

func (f *fakeService) RuntimeAvailable(_ context.Context, rt api.Runtime) api.RuntimeStatus {
	if rt == api.RuntimeR {
		return api.RuntimeStatus{Runtime: rt}
	}
	v := "3.12.1"
	return api.RuntimeStatus{Runtime: rt, Installed: true, Version: &v}
}

func setup(t *testing.T, opts ...transporthttp.Option) (*Client, *fakeService) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "chart.png"), []byte("\x89PNG fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := &fakeService{dir: dir}
	adapter := transporthttp.NewAdapter(svc, transporthttp.Config{Heartbeat: 20 * time.Millisecond}, opts...)
	srv := httptest.NewServer(adapter.Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL + "/"), svc
}

func TestExecute(t *testing.T) {
	c, svc := setup(t)

	res, err := c.Execute(context.Background(), &api.ExecutionRequest{
		Runtime: api.RuntimePython, SourceCode: "print('hello')", SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != api.StatusSuccess || res.StdoutLog != "hello\n" || res.SessionID != "s1" {
		t.Errorf("result = %+v", res)
	}
	if len(svc.executed) != 1 || svc.executed[0].SourceCode != "print('hello')" {
		t.Errorf("service saw %+v", svc.executed)
	}
}

func TestExecuteValidationError(t *testing.T) {
	c, _ := setup(t)

	_, err := c.Execute(context.Background(), &api.ExecutionRequest{
		Runtime: "julia", SourceCode: "1", SessionID: "s1",
	})
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if ce.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", ce.StatusCode)
	}
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Param != "runtime" {
		t.Errorf("api error = %+v", apiErr)
	}

	if _, err := c.Execute(context.Background(), &api.ExecutionRequest{Runtime: api.RuntimePython}); err == nil {
		t.Error("missing session id should fail before sending")
	}
}

func TestHistory(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	page, err := c.History(ctx, "s1", storage.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page.Data) != 2 || !page.HasMore || page.LastID != "exec_2" {
		t.Errorf("page = %+v", page)
	}

	page, err = c.History(ctx, "s1", storage.ListOptions{After: "exec_1"})
	if err != nil {
		t.Fatalf("History after: %v", err)
	}
	if len(page.Data) != 2 || page.FirstID != "exec_2" || page.HasMore {
		t.Errorf("page after = %+v", page)
	}
}

func TestSessionLifecycle(t *testing.T) {
	c, svc := setup(t)
	ctx := context.Background()

	info, err := c.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if info.MaxConcurrentExecutions != 2 {
		t.Errorf("info = %+v", info)
	}

	_, err = c.Session(ctx, "nope")
	var ce *Error
	if !errors.As(err, &ce) || ce.StatusCode != http.StatusNotFound {
		t.Errorf("missing session err = %v", err)
	}

	if err := c.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if err := c.Cancel(ctx, "exec_9"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := c.Cancel(ctx, "missing"); !errors.As(err, &ce) || ce.StatusCode != http.StatusNotFound {
		t.Errorf("cancel missing err = %v", err)
	}
	if len(svc.deleted) != 1 || len(svc.cancelled) != 1 {
		t.Errorf("deleted=%v cancelled=%v", svc.deleted, svc.cancelled)
	}
}

func TestArtifact(t *testing.T) {
	c, svc := setup(t)
	ctx := context.Background()

	a, err := c.Artifact(ctx, "s1", "art_1")
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	body, err := io.ReadAll(a.Body)
	a.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "\x89PNG fake" {
		t.Errorf("body = %q", body)
	}
	if a.ContentType != "image/png" || a.Category != api.CategoryChart {
		t.Errorf("artifact = %+v", a)
	}

	if _, err := c.Artifact(ctx, "s1", "art_2"); err == nil {
		t.Error("expected not found")
	}

	if err := c.RevokeArtifact(ctx, "s1", "art_1"); err != nil {
		t.Fatalf("RevokeArtifact: %v", err)
	}
	if len(svc.revoked) != 1 {
		t.Errorf("revoked = %v", svc.revoked)
	}
}

func TestRuntimes(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	st, err := c.Runtime(ctx, api.RuntimePython)
	if err != nil {
		t.Fatalf("Runtime: %v", err)
	}
	if !st.Installed || st.Version == nil {
		t.Errorf("python = %+v", st)
	}

	all, err := c.Runtimes(ctx)
	if err != nil {
		t.Fatalf("Runtimes: %v", err)
	}
	if len(all) != 2 || all[1].Installed {
		t.Errorf("runtimes = %+v", all)
	}
}

func TestAuthHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"runtime":"python","installed":true,"version":null}`)
	}))
	defer srv.Close()
	ctx := context.Background()

	if _, err := New(srv.URL, WithAPIKey("k1")).Runtime(ctx, api.RuntimePython); err != nil {
		t.Fatal(err)
	}
	if got.Get("X-API-Key") != "k1" || got.Get("Authorization") != "" {
		t.Errorf("api key headers = %v", got)
	}

	if _, err := New(srv.URL, WithBearerToken("a.b.c")).Runtime(ctx, api.RuntimePython); err != nil {
		t.Fatal(err)
	}
	if got.Get("Authorization") != "Bearer a.b.c" {
		t.Errorf("bearer headers = %v", got)
	}
}

func TestRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"type":"too_many_requests","message":"rate limit exceeded"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Session(context.Background(), "s1")
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v", err)
	}
	if ce.StatusCode != http.StatusTooManyRequests || ce.RetryAfter != 7*time.Second {
		t.Errorf("error = %+v", ce)
	}
	if !strings.Contains(ce.Error(), "rate limit exceeded") {
		t.Errorf("message = %q", ce.Error())
	}
}

func TestEvents(t *testing.T) {
	broker := events.NewBroker(16)
	defer broker.Close()
	c, _ := setup(t, transporthttp.WithEvents(broker))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := c.Events(ctx, "s1")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}

	// The subscription is registered before the first frame is written, and
	// Events returns only after the response headers arrive.
	broker.Publish(api.Event{Type: api.EventExecutionCompleted, SessionID: "s1", ExecutionID: "exec_1", Status: api.StatusSuccess})
	broker.Publish(api.Event{Type: api.EventExecutionCompleted, SessionID: "other", ExecutionID: "exec_x"})
	broker.Publish(api.Event{Type: api.EventSessionDeleted, SessionID: "s1"})

	var got []api.Event
	for ev := range ch {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("events = %+v", got)
	}
	if got[0].ExecutionID != "exec_1" || got[1].Type != api.EventSessionDeleted {
		t.Errorf("events = %+v", got)
	}
}

func TestParseEventStream(t *testing.T) {
	stream := ": subscribed\n\n" +
		": keepalive\n\n" +
		"event: execution.completed\nid: exec_1\ndata: {\"type\":\"execution.completed\",\"session_id\":\"s1\",\"execution_id\":\"exec_1\"}\n\n" +
		"data: not json\n\n" +
		"event: execution.completed\ndata: {\"type\":\"execution.completed\",\"session_id\":\"s1\",\"execution_id\":\"exec_2\"}\n\n"

	ch := make(chan api.Event, 4)
	parseEventStream(context.Background(), strings.NewReader(stream), ch)

	var ids []string
	for ev := range ch {
		ids = append(ids, ev.ExecutionID)
	}
	if strings.Join(ids, ",") != "exec_1,exec_2" {
		t.Errorf("ids = %v", ids)
	}
}
