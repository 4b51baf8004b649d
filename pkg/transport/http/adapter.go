package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/auth"
	"github.com/rhuss/antwort-sandbox/pkg/debug"
	"github.com/rhuss/antwort-sandbox/pkg/storage"
	"github.com/rhuss/antwort-sandbox/pkg/transport"
)

// Adapter serves the sandbox API over HTTP.
type Adapter struct {
	svc    transport.Service
	events transport.EventSource // nil disables the events endpoint
	health []transport.HealthChecker
	mux    *http.ServeMux
	config Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64
	// Heartbeat is the interval of SSE keepalive comments.
	Heartbeat time.Duration
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 2 << 20,
		Heartbeat:   15 * time.Second,
	}
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithEvents enables GET /v1/sessions/{session_id}/events.
func WithEvents(src transport.EventSource) Option {
	return func(a *Adapter) { a.events = src }
}

// WithHealthCheck adds a dependency checked by /readyz.
func WithHealthCheck(h transport.HealthChecker) Option {
	return func(a *Adapter) { a.health = append(a.health, h) }
}

// NewAdapter creates an HTTP adapter routing to svc.
func NewAdapter(svc transport.Service, cfg Config, opts ...Option) *Adapter {
	def := DefaultConfig()
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = def.Heartbeat
	}
	a := &Adapter{svc: svc, mux: http.NewServeMux(), config: cfg}
	for _, o := range opts {
		o(a)
	}

	a.mux.HandleFunc("POST /v1/sessions/{session_id}/executions", a.handleExecute)
	a.mux.HandleFunc("GET /v1/sessions/{session_id}/executions", a.handleHistory)
	a.mux.HandleFunc("GET /v1/sessions/{session_id}/events", a.handleEvents)
	a.mux.HandleFunc("GET /v1/sessions/{session_id}/artifacts/{artifact_id}", a.handleGetArtifact)
	a.mux.HandleFunc("DELETE /v1/sessions/{session_id}/artifacts/{artifact_id}", a.handleRevokeArtifact)
	a.mux.HandleFunc("GET /v1/sessions/{session_id}", a.handleGetSession)
	a.mux.HandleFunc("DELETE /v1/sessions/{session_id}", a.handleDeleteSession)
	a.mux.HandleFunc("DELETE /v1/executions/{execution_id}", a.handleCancel)
	a.mux.HandleFunc("GET /v1/runtimes", a.handleListRuntimes)
	a.mux.HandleFunc("GET /v1/runtimes/{runtime}", a.handleRuntime)
	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)
	return a
}

// Handler returns the routing handler without middleware.
func (a *Adapter) Handler() http.Handler {
	return a.mux
}

func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("session_id")
	if !api.ValidateSessionID(id) {
		transport.WriteError(w, api.NewInvalidRequestError("session_id", "malformed session ID"))
		return "", false
	}
	return id, true
}

// handleExecute handles POST /v1/sessions/{session_id}/executions. The
// request blocks until the execution reaches a terminal state.
func (a *Adapter) handleExecute(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionID(w, r)
	if !ok {
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
				http.StatusUnsupportedMediaType)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	var req api.ExecutionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge)
			return
		}
		transport.WriteError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return
	}
	if req.SessionID != "" && req.SessionID != sid {
		transport.WriteError(w, api.NewInvalidRequestError("session_id", "session_id in body does not match the path"))
		return
	}
	req.SessionID = sid

	if req.AllowInstall && !auth.CanInstall(r.Context()) {
		debug.Log("http", "allow_install dropped, caller lacks scope", "session_id", sid)
		req.AllowInstall = false
	}

	res, err := a.svc.Execute(r.Context(), &req)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, res)
}

// handleHistory handles GET /v1/sessions/{session_id}/executions.
func (a *Adapter) handleHistory(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionID(w, r)
	if !ok {
		return
	}
	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		transport.WriteError(w, apiErr)
		return
	}
	page, err := a.svc.History(r.Context(), sid, opts)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) && opts.After != "" {
			transport.WriteError(w, api.NewInvalidRequestError("after", "unknown cursor"))
			return
		}
		transport.WriteError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, page)
}

// handleGetSession handles GET /v1/sessions/{session_id}.
func (a *Adapter) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionID(w, r)
	if !ok {
		return
	}
	info, err := a.svc.Session(r.Context(), sid)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, info)
}

// handleDeleteSession handles DELETE /v1/sessions/{session_id}. It returns
// after in-flight executions of the session have stopped.
func (a *Adapter) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := a.svc.DeleteSession(r.Context(), sid); err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCancel handles DELETE /v1/executions/{execution_id}.
func (a *Adapter) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("execution_id")
	if id == "" || len(id) > 128 {
		transport.WriteError(w, api.NewInvalidRequestError("execution_id", "malformed execution ID"))
		return
	}
	if err := a.svc.Cancel(r.Context(), id); err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleGetArtifact handles GET /v1/sessions/{session_id}/artifacts/{artifact_id}.
// Range requests are supported.
func (a *Adapter) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionID(w, r)
	if !ok {
		return
	}
	ref, f, err := a.svc.OpenArtifact(r.Context(), sid, r.PathValue("artifact_id"))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", ref.MimeType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(ref.Name)}))
	w.Header().Set("X-Artifact-Category", string(ref.Category))
	http.ServeContent(w, r, "", st.ModTime(), io.NewSectionReader(f, 0, st.Size()))
}

// handleRevokeArtifact handles DELETE /v1/sessions/{session_id}/artifacts/{artifact_id}.
func (a *Adapter) handleRevokeArtifact(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := a.svc.RevokeArtifact(r.Context(), sid, r.PathValue("artifact_id")); err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRuntime handles GET /v1/runtimes/{runtime}.
func (a *Adapter) handleRuntime(w http.ResponseWriter, r *http.Request) {
	rt := api.Runtime(r.PathValue("runtime"))
	if !rt.Valid() {
		transport.WriteError(w, api.NewNotFoundError(fmt.Sprintf("unknown runtime %q", rt)))
		return
	}
	transport.WriteJSON(w, http.StatusOK, a.svc.RuntimeAvailable(r.Context(), rt))
}

// handleListRuntimes handles GET /v1/runtimes.
func (a *Adapter) handleListRuntimes(w http.ResponseWriter, r *http.Request) {
	var out struct {
		Object string              `json:"object"`
		Data   []api.RuntimeStatus `json:"data"`
	}
	out.Object = "list"
	for _, rt := range api.Runtimes() {
		out.Data = append(out.Data, a.svc.RuntimeAvailable(r.Context(), rt))
	}
	transport.WriteJSON(w, http.StatusOK, out)
}

func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	transport.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz checks every registered dependency.
func (a *Adapter) handleReadyz(w http.ResponseWriter, r *http.Request) {
	for _, h := range a.health {
		if err := h.HealthCheck(r.Context()); err != nil {
			slog.Warn("readiness check failed", "error", err)
			transport.WriteErrorResponse(w, api.NewUnavailableError("not ready"), http.StatusServiceUnavailable)
			return
		}
	}
	transport.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// parseListOptions extracts pagination parameters from query string.
func parseListOptions(r *http.Request) (storage.ListOptions, *api.APIError) {
	q := r.URL.Query()
	opts := storage.ListOptions{After: q.Get("after")}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return opts, api.NewInvalidRequestError("limit", "limit must be a positive integer")
		}
		opts.Limit = n
	}
	return opts, nil
}
