package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rhuss/antwort-sandbox/internal/envutil"
	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/artifacts"
	"github.com/rhuss/antwort-sandbox/pkg/debug"
	"github.com/rhuss/antwort-sandbox/pkg/events"
	"github.com/rhuss/antwort-sandbox/pkg/extract"
	"github.com/rhuss/antwort-sandbox/pkg/observability"
	"github.com/rhuss/antwort-sandbox/pkg/prepare"
	"github.com/rhuss/antwort-sandbox/pkg/protocol"
	"github.com/rhuss/antwort-sandbox/pkg/resolver"
	"github.com/rhuss/antwort-sandbox/pkg/runner"
	"github.com/rhuss/antwort-sandbox/pkg/runtimes"
	"github.com/rhuss/antwort-sandbox/pkg/storage"
)

var (
	// ErrSessionNotFound is returned for sessions that have never run
	// anything or have been deleted.
	ErrSessionNotFound = errors.New("session not found")

	// ErrExecutionNotFound is returned when cancelling an execution that
	// is not in flight.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrNotMaterialized is returned when opening an artifact that was
	// reported as metadata only.
	ErrNotMaterialized = errors.New("artifact exceeds the size ceiling and is not served")
)

// Policy evaluates source before anything runs.
type Policy interface {
	Evaluate(rt api.Runtime, source string) (*api.PolicyDecision, error)
}

// Coordinator accepts execution requests, enforces per-session ordering
// and concurrency, and owns session history.
type Coordinator struct {
	cfg      Config
	policy   Policy
	runner   runner.Runner
	preparer *prepare.Preparer
	defs     map[api.Runtime]runtimes.Definition

	store     storage.HistoryStore
	publisher events.Publisher
	resolver  *resolver.Resolver
	datasets  DatasetSource
	prober    *runtimes.Prober

	collector *artifacts.Collector
	registry  *artifacts.Registry
	inflight  *inflightRegistry
	host      *semaphore.Weighted

	sessions sync.Map // sessionKey -> *session
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStore persists history entries in s.
func WithStore(s storage.HistoryStore) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithPublisher publishes one event per terminal state to p.
func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithResolver enables install-and-retry for requests that allow it.
func WithResolver(r *resolver.Resolver) Option {
	return func(c *Coordinator) { c.resolver = r }
}

// WithDatasets sets where dataset bindings are read from.
func WithDatasets(d DatasetSource) Option {
	return func(c *Coordinator) { c.datasets = d }
}

// WithProber sets the runtime availability prober.
func WithProber(p *runtimes.Prober) Option {
	return func(c *Coordinator) { c.prober = p }
}

// WithRuntimes replaces the default runtime definitions.
func WithRuntimes(defs map[api.Runtime]runtimes.Definition) Option {
	return func(c *Coordinator) { c.defs = defs }
}

// New creates a Coordinator that runs code through r after p allows it.
func New(cfg Config, p Policy, r runner.Runner, opts ...Option) (*Coordinator, error) {
	if p == nil {
		return nil, errors.New("engine: policy is required")
	}
	if r == nil {
		return nil, errors.New("engine: runner is required")
	}
	if cfg.WorkspaceRoot == "" {
		return nil, errors.New("engine: workspace root is required")
	}
	root, err := filepath.Abs(cfg.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("engine: workspace root: %w", err)
	}
	cfg.WorkspaceRoot = root
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("engine: creating workspace root: %w", err)
	}

	c := &Coordinator{
		cfg:       cfg,
		policy:    p,
		runner:    r,
		preparer:  prepare.New(cfg.previewRows()),
		defs:      runtimes.Defaults(),
		collector: artifacts.NewCollector(cfg.ArtifactMaxBytes, prepare.HarnessDir, prepare.DatasetDir),
		registry:  artifacts.NewRegistry(),
		inflight:  newInflightRegistry(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.publisher == nil {
		c.publisher = events.Discard
	}
	if c.prober == nil {
		c.prober = runtimes.NewProber(r, c.defs, runtimes.WithEnv([]string{"PATH=" + cfg.path()}))
	}
	if cfg.MaxConcurrentTotal > 0 {
		c.host = semaphore.NewWeighted(int64(cfg.MaxConcurrentTotal))
	}
	return c, nil
}

// execution is the coordinator's view of one request in flight.
type execution struct {
	id      string
	req     *api.ExecutionRequest
	sess    *session
	script  *prepare.Script
	timeout time.Duration
	start   time.Time
	state   api.ExecutionState
}

func (x *execution) transition(to api.ExecutionState) {
	if err := api.ValidateTransition(x.state, to); err != nil {
		slog.Error("invalid execution state transition", "execution_id", x.id, "from", x.state, "to", to)
	}
	debug.Log("engine", "state", "execution_id", x.id, "from", x.state, "to", to)
	x.state = to
}

// Execute runs req to a terminal state and returns its result. The error is
// non-nil only for requests that fail validation; every execution outcome,
// including policy rejection and cancellation, is a result.
func (c *Coordinator) Execute(ctx context.Context, req *api.ExecutionRequest) (*api.ExecutionResult, error) {
	if apiErr := api.ValidateRequest(req, c.cfg.validation()); apiErr != nil {
		return nil, apiErr
	}
	def, ok := c.defs[req.Runtime]
	if !ok {
		return nil, api.NewInvalidRequestError("runtime", fmt.Sprintf("runtime %q is not configured", req.Runtime))
	}

	x := &execution{
		id:      api.NewExecutionID(),
		req:     req.Clone(),
		sess:    c.session(ctx, req.SessionID),
		timeout: c.timeout(req),
		start:   time.Now(),
	}
	x.transition(api.StateReceived)

	decision, err := c.policy.Evaluate(x.req.Runtime, x.req.SourceCode)
	if err != nil {
		x.transition(api.StateFailed)
		return c.finish(ctx, x, errorResult("malformed_source", err.Error())), nil
	}
	x.transition(api.StatePolicyChecked)
	if !decision.Allowed {
		x.transition(api.StateRejected)
		res := &api.ExecutionResult{Status: api.StatusPolicyRejected, ExitCode: -1, Policy: decision}
		return c.finish(ctx, x, res), nil
	}

	x.script, err = c.preparer.Prepare(x.req, decision, protocol.NewNonce())
	if err != nil {
		x.transition(api.StateFailed)
		return c.finish(ctx, x, errorResult("invalid_binding", err.Error())), nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.inflight.register(x.id, x.sess.tenant, x.sess.id, cancel)
	defer c.inflight.remove(x.id)

	release, err := c.acquire(runCtx, x.sess)
	if err != nil {
		x.transition(api.StateTimedOut)
		res := withError(&api.ExecutionResult{Status: api.StatusTimeout, ExitCode: -1}, &api.ErrorDetail{
			Type:      "cancelled",
			Message:   "execution was cancelled while waiting for a slot",
			ElapsedMs: time.Since(x.start).Milliseconds(),
		})
		return c.finish(ctx, x, res), nil
	}
	defer release()

	x.transition(api.StateRunning)
	return c.finish(ctx, x, c.run(runCtx, x, def)), nil
}

func (c *Coordinator) timeout(req *api.ExecutionRequest) time.Duration {
	if req.TimeoutSeconds > 0 {
		return time.Duration(req.TimeoutSeconds) * time.Second
	}
	return c.cfg.defaultTimeout()
}

// acquire waits for a session slot and then a host slot. The returned
// function releases both.
func (c *Coordinator) acquire(ctx context.Context, s *session) (func(), error) {
	observability.ExecutionsQueued.Inc()
	defer observability.ExecutionsQueued.Dec()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if c.host != nil {
		if err := c.host.Acquire(ctx, 1); err != nil {
			s.sem.Release(1)
			return nil, err
		}
	}
	release := func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
		if c.host != nil {
			c.host.Release(1)
		}
		s.sem.Release(1)
	}

	s.mu.Lock()
	s.active++
	deleted := s.deleted
	s.mu.Unlock()
	if deleted {
		release()
		return nil, ErrSessionNotFound
	}
	return release, nil
}

// workspace is the prepared execution directory.
type workspace struct {
	dir    string
	libDir string
	env    []string
}

// attempt is one run of the harness.
type attempt struct {
	res    *api.ExecutionResult
	stderr []byte
	state  api.ExecutionState
}

func (c *Coordinator) run(ctx context.Context, x *execution, def runtimes.Definition) *api.ExecutionResult {
	ws, err := c.prepareWorkspace(ctx, x, def)
	if ws.dir != "" && !c.cfg.KeepHarness {
		defer c.cleanup(ws.dir)
	}
	if err != nil {
		x.transition(api.StateFailed)
		if errors.Is(err, ErrDatasetNotFound) || errors.Is(err, ErrDatasetTooLarge) {
			return errorResult("dataset_unavailable", err.Error())
		}
		slog.Error("preparing workspace", "execution_id", x.id, "error", err)
		return errorResult("workspace_error", "the execution workspace could not be prepared")
	}

	first := c.attempt(ctx, x, def, ws)
	f := resolver.Failure{Status: first.res.Status, Stderr: first.stderr}
	if _, ok := c.resolver.Eligible(x.req, f); !ok {
		x.transition(first.state)
		return first.res
	}

	x.transition(api.StateRetryingInstall)
	var final attempt
	retried, ok, err := c.resolver.ResolveAndRetry(ctx, x.req, f, resolver.Workspace{Dir: ws.dir, LibDir: ws.libDir, Env: ws.env},
		func(ctx context.Context) (*api.ExecutionResult, error) {
			x.transition(api.StateRunning)
			if err := clearOutputs(ws.dir); err != nil {
				return nil, err
			}
			final = c.attempt(ctx, x, def, ws)
			return final.res, nil
		})
	switch {
	case err != nil:
		slog.Warn("install-and-retry failed", "execution_id", x.id, "error", err)
		x.transition(api.StateFailed)
		return first.res
	case !ok:
		x.transition(api.StateFailed)
		return first.res
	}
	x.transition(final.state)
	return retried
}

// prepareWorkspace creates <root>/<session>/<execution>, writes the harness
// and stages datasets read-only.
func (c *Coordinator) prepareWorkspace(ctx context.Context, x *execution, def runtimes.Definition) (workspace, error) {
	dir := filepath.Join(x.sess.root, x.id)
	ws := workspace{
		dir:    dir,
		libDir: filepath.Join(x.sess.root, ".libs", string(x.req.Runtime)),
	}
	home := filepath.Join(dir, prepare.HarnessDir, "home")
	tmp := filepath.Join(dir, prepare.HarnessDir, "tmp")
	for _, d := range []string{home, tmp, filepath.Join(dir, prepare.DatasetDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return workspace{}, err
		}
	}
	x.req.WorkingDirectory = dir

	if err := os.WriteFile(filepath.Join(dir, filepath.FromSlash(x.script.Path)), []byte(x.script.Source), 0o600); err != nil {
		return ws, err
	}
	if debug.TraceIsEnabled("prepare") {
		debug.Raw("prepare", x.script.Source)
	}
	for _, d := range x.script.Datasets {
		dst := filepath.Join(dir, filepath.FromSlash(d.Path))
		if err := stageDataset(ctx, c.datasets, d.StorageReference, dst, c.cfg.MaxDatasetBytes); err != nil {
			return ws, fmt.Errorf("binding %s: %w", d.LogicalName, err)
		}
	}

	ws.env = c.environment(def, home, tmp, ws.libDir)
	return ws, nil
}

// environment is built from scratch: nothing from the host reaches the
// process unless named in PassEnv and not denied.
func (c *Coordinator) environment(def runtimes.Definition, home, tmp, libDir string) []string {
	env := []string{
		"PATH=" + c.cfg.path(),
		"HOME=" + home,
		"TMPDIR=" + tmp,
		"LANG=C.UTF-8",
		"LC_ALL=C.UTF-8",
		"OMP_NUM_THREADS=1",
		"OPENBLAS_NUM_THREADS=1",
		"MKL_NUM_THREADS=1",
	}
	deny := c.cfg.envDeny()
	for _, name := range c.cfg.PassEnv {
		if envutil.Denied(name, deny) {
			debug.Log("engine", "pass-through variable denied", "name", name)
			continue
		}
		if v, ok := os.LookupEnv(name); ok {
			env = envutil.Set(env, name, v)
		}
	}
	return envutil.Merge(env, def.Environment(libDir))
}

func (c *Coordinator) attempt(ctx context.Context, x *execution, def runtimes.Definition, ws workspace) attempt {
	before, err := c.collector.Snapshot(ws.dir)
	if err != nil {
		return attempt{res: errorResult("workspace_error", err.Error()), state: api.StateFailed}
	}

	limits := c.cfg.Limits
	limits.Timeout = x.timeout
	if fs := limits.Filesystem; fs != nil {
		confined := *fs
		confined.ReadOnly = append(slices.Clone(fs.ReadOnly), ws.libDir)
		limits.Filesystem = &confined
	}
	active := observability.ExecutionsActive.WithLabelValues(string(x.req.Runtime))
	active.Inc()
	out, err := c.runner.Run(ctx, runner.Spec{
		Command: def.Command(filepath.FromSlash(x.script.Path)),
		Dir:     ws.dir,
		Env:     ws.env,
		Stdin:   x.script.Stdin(),
		Limits:  limits,
	})
	active.Dec()
	if err != nil {
		slog.Error("running execution", "execution_id", x.id, "runtime", x.req.Runtime, "error", err)
		return attempt{res: errorResult("runner_error", err.Error()), state: api.StateFailed}
	}

	ex := extract.Extract(extract.Raw{
		Runtime:  x.req.Runtime,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
	}, x.script.Nonce, c.cfg.previewRows())
	res := classify(x.req.Runtime, out, ex, x.timeout, c.cfg.logCap())

	state := api.StateCompleted
	switch res.Status {
	case api.StatusTimeout:
		state = api.StateTimedOut
	case api.StatusResourceExceeded:
	default:
		refs, err := c.collector.Collect(ws.dir, before, x.id)
		if err != nil {
			slog.Warn("collecting artifacts", "execution_id", x.id, "error", err)
		}
		res.Artifacts = refs
	}
	return attempt{res: res, stderr: out.Stderr, state: state}
}

// clearOutputs removes what a failed attempt left in dir so the retry
// starts from the same state.
func clearOutputs(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == prepare.HarnessDir || e.Name() == prepare.DatasetDir {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) cleanup(dir string) {
	for _, d := range []string{prepare.HarnessDir, prepare.DatasetDir} {
		p := filepath.Join(dir, d)
		// Staged datasets are read-only; removal needs a writable parent only.
		if err := os.RemoveAll(p); err != nil {
			debug.Log("engine", "cleanup failed", "path", p, "error", err)
		}
	}
}

// finish records a terminal result: history, durable store, one event,
// metrics. It returns a copy the caller may keep.
func (c *Coordinator) finish(ctx context.Context, x *execution, res *api.ExecutionResult) *api.ExecutionResult {
	s := x.sess
	res.ExecutionID = x.id
	res.SessionID = s.id
	res.DurationMs = time.Since(x.start).Milliseconds()
	res.Message = api.StatusMessage(res.Status, errorDetail(res))
	res.Artifacts = c.registry.Register(s.key(), res.Artifacts)

	entry := api.HistoryEntry{
		ExecutionID: x.id,
		SessionID:   s.id,
		Request:     api.Summarize(x.req),
		Status:      res.Status,
		Artifacts:   slices.Clone(res.Artifacts),
		DurationMs:  res.DurationMs,
		ExitCode:    res.ExitCode,
		Recovered:   res.Recovered,
		CompletedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.history = append(s.history, entry)
	if over := len(s.history) - c.cfg.historyLimit(); over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
	if c.store != nil && !s.deleted {
		if err := c.store.Append(context.WithoutCancel(ctx), &entry); err != nil {
			slog.Error("persisting history entry", "execution_id", x.id, "error", err)
		}
	}
	c.publisher.Publish(api.Event{
		Tenant:         s.tenant,
		Type:           api.EventExecutionCompleted,
		SessionID:      s.id,
		ExecutionID:    x.id,
		RequestSummary: entry.Request,
		Status:         res.Status,
		Artifacts:      entry.Artifacts,
		DurationMs:     res.DurationMs,
		Timestamp:      entry.CompletedAt,
	})
	s.mu.Unlock()

	observability.ExecutionsTotal.WithLabelValues(string(x.req.Runtime), string(res.Status)).Inc()
	observability.ExecutionDuration.WithLabelValues(string(x.req.Runtime), string(res.Status)).
		Observe(float64(res.DurationMs) / 1000)
	slog.Info("execution finished",
		"execution_id", x.id,
		"session_id", s.id,
		"runtime", x.req.Runtime,
		"status", res.Status,
		"state", x.state,
		"duration_ms", res.DurationMs,
		"artifacts", len(res.Artifacts),
		"recovered", res.Recovered,
	)
	return res.Clone()
}

// sessionKey scopes session ids by tenant.
func sessionKey(tenant, id string) string {
	return tenant + "\x00" + id
}

func (s *session) key() string {
	return sessionKey(s.tenant, s.id)
}

// sessionRoot returns the workspace directory of a tenant's session.
// Tenant names are hashed since they come from credentials.
func (c *Coordinator) sessionRoot(tenant, id string) string {
	if tenant == "" {
		return filepath.Join(c.cfg.WorkspaceRoot, id)
	}
	sum := sha256.Sum256([]byte(tenant))
	return filepath.Join(c.cfg.WorkspaceRoot, "t_"+hex.EncodeToString(sum[:8]), id)
}

// session returns the session for id, creating it on first use.
func (c *Coordinator) session(ctx context.Context, id string) *session {
	tenant := storage.GetTenant(ctx)
	key := sessionKey(tenant, id)
	if v, ok := c.sessions.Load(key); ok {
		return v.(*session)
	}
	v, _ := c.sessions.LoadOrStore(key, newSession(tenant, id, c.sessionRoot(tenant, id), c.cfg.maxPerSession()))
	return v.(*session)
}

func (c *Coordinator) lookup(ctx context.Context, id string) (*session, bool) {
	v, ok := c.sessions.Load(sessionKey(storage.GetTenant(ctx), id))
	if !ok {
		return nil, false
	}
	return v.(*session), true
}

// Cancel stops an in-flight execution. The execution finishes with status
// timeout. Cancelling an unknown or finished execution returns
// ErrExecutionNotFound.
func (c *Coordinator) Cancel(ctx context.Context, executionID string) error {
	if !c.inflight.cancel(executionID, storage.GetTenant(ctx)) {
		return ErrExecutionNotFound
	}
	debug.Log("engine", "cancelled", "execution_id", executionID)
	return nil
}

// Session returns a snapshot of a session. In-flight ids include queued
// executions and can be passed to Cancel.
func (c *Coordinator) Session(ctx context.Context, id string) (*api.SessionInfo, error) {
	s, ok := c.lookup(ctx, id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	info := s.snapshot()
	info.InFlightExecutionIDs = c.inflight.list(s.tenant, s.id)
	return info, nil
}

// History returns a page of a session's history in completion order. With
// a store configured the durable history is read, so it survives restarts.
func (c *Coordinator) History(ctx context.Context, id string, opts storage.ListOptions) (*storage.HistoryPage, error) {
	if c.store != nil {
		return c.store.List(ctx, id, opts)
	}
	s, ok := c.lookup(ctx, id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.mu.Lock()
	entries := s.history
	if opts.After != "" {
		i := slices.IndexFunc(entries, func(e api.HistoryEntry) bool { return e.ExecutionID == opts.After })
		if i < 0 {
			s.mu.Unlock()
			return nil, storage.ErrNotFound
		}
		entries = entries[i+1:]
	}
	limit := opts.NormalizedLimit()
	entries = slices.Clone(entries[:min(len(entries), limit+1)])
	s.mu.Unlock()
	return storage.NewHistoryPage(entries, limit), nil
}

// DeleteSession cancels the session's executions, waits for them to
// finish, removes its workspace and drops its history.
func (c *Coordinator) DeleteSession(ctx context.Context, id string) error {
	tenant := storage.GetTenant(ctx)
	key := sessionKey(tenant, id)
	v, loaded := c.sessions.LoadAndDelete(key)

	found := loaded
	if loaded {
		s := v.(*session)
		s.mu.Lock()
		s.deleted = true
		s.mu.Unlock()
		if n := c.inflight.cancelSession(tenant, id); n > 0 {
			debug.Log("engine", "cancelled executions of deleted session", "session_id", id, "count", n)
		}
		if err := s.sem.Acquire(ctx, int64(s.max)); err != nil {
			return err
		}
		s.sem.Release(int64(s.max))
	}

	if c.store != nil {
		err := c.store.DeleteSession(ctx, id)
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("deleting session history: %w", err)
		}
	}
	if !found {
		return ErrSessionNotFound
	}

	c.registry.Purge(key)
	if err := removeWorkspace(c.sessionRoot(tenant, id)); err != nil {
		slog.Warn("removing session workspace", "session_id", id, "error", err)
	}
	c.publisher.Publish(api.Event{
		Tenant:    tenant,
		Type:      api.EventSessionDeleted,
		SessionID: id,
		Timestamp: time.Now().UTC(),
	})
	slog.Info("session deleted", "session_id", id)
	return nil
}

// removeWorkspace deletes dir, making read-only leftovers writable first.
func removeWorkspace(dir string) error {
	err := os.RemoveAll(dir)
	if err == nil {
		return nil
	}
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = os.Chmod(p, 0o755)
		}
		return nil
	})
	return os.RemoveAll(dir)
}

// Artifact resolves an artifact id within a session to its reference and
// host path.
func (c *Coordinator) Artifact(ctx context.Context, sessionID, artifactID string) (api.ArtifactRef, string, error) {
	tenant := storage.GetTenant(ctx)
	ref, err := c.registry.Resolve(sessionKey(tenant, sessionID), artifactID)
	if err != nil {
		return api.ArtifactRef{}, "", err
	}
	p, err := artifacts.Locate(c.sessionRoot(tenant, sessionID), ref)
	if err != nil {
		return api.ArtifactRef{}, "", err
	}
	return ref, p, nil
}

// OpenArtifact opens an artifact's content. Artifacts above the size
// ceiling return ErrNotMaterialized.
func (c *Coordinator) OpenArtifact(ctx context.Context, sessionID, artifactID string) (api.ArtifactRef, *os.File, error) {
	ref, p, err := c.Artifact(ctx, sessionID, artifactID)
	if err != nil {
		return api.ArtifactRef{}, nil, err
	}
	if !ref.Materialized {
		return ref, nil, ErrNotMaterialized
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return api.ArtifactRef{}, nil, artifacts.ErrNotFound
		}
		return api.ArtifactRef{}, nil, err
	}
	return ref, f, nil
}

// RevokeArtifact makes an artifact id unresolvable. The file stays in the
// workspace until the session is deleted.
func (c *Coordinator) RevokeArtifact(ctx context.Context, sessionID, artifactID string) error {
	return c.registry.Revoke(sessionKey(storage.GetTenant(ctx), sessionID), artifactID)
}

// RuntimeAvailable reports whether rt is installed, without running user
// code.
func (c *Coordinator) RuntimeAvailable(ctx context.Context, rt api.Runtime) api.RuntimeStatus {
	return c.prober.Status(ctx, rt)
}
