// Package integration provides end-to-end tests for the sandbox API.
//
// Tests run against the full server stack (auth, tenancy, coordinator,
// HTTP, SSE and MCP surfaces) started in-process with net/http/httptest.
// Interpreter processes are replaced by a scripted runner that reacts to
// trigger words in the submitted source, so no Python or R installation is
// needed.
package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/auth"
	"github.com/rhuss/antwort-sandbox/pkg/auth/apikey"
	"github.com/rhuss/antwort-sandbox/pkg/client"
	"github.com/rhuss/antwort-sandbox/pkg/engine"
	"github.com/rhuss/antwort-sandbox/pkg/events"
	"github.com/rhuss/antwort-sandbox/pkg/mcpserver"
	"github.com/rhuss/antwort-sandbox/pkg/observability"
	"github.com/rhuss/antwort-sandbox/pkg/policy"
	"github.com/rhuss/antwort-sandbox/pkg/protocol"
	"github.com/rhuss/antwort-sandbox/pkg/resolver"
	"github.com/rhuss/antwort-sandbox/pkg/runner"
	"github.com/rhuss/antwort-sandbox/pkg/runtimes"
	"github.com/rhuss/antwort-sandbox/pkg/storage/memory"
	"github.com/rhuss/antwort-sandbox/pkg/transport"
	transporthttp "github.com/rhuss/antwort-sandbox/pkg/transport/http"
)

const (
	// acmeKey belongs to tenant acme and may install packages.
	acmeKey = "acme-key"
	// globexKey belongs to tenant globex and may not install packages.
	globexKey = "globex-key"
)

// testEnv holds the shared server for all integration tests.
var testEnv *TestEnvironment

// TestEnvironment holds the sandbox server and its collaborators.
type TestEnvironment struct {
	Server    *httptest.Server
	Broker    *events.Broker
	Process   *fakeProcess
	Workspace string
}

// TestMain starts the sandbox server before running tests.
func TestMain(m *testing.M) {
	env, err := setupTestEnvironment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up test environment: %v\n", err)
		os.Exit(1)
	}
	testEnv = env
	code := m.Run()
	testEnv.Teardown()
	os.Exit(code)
}

// setupTestEnvironment wires the production stack around a scripted runner.
func setupTestEnvironment() (*TestEnvironment, error) {
	workspace, err := os.MkdirTemp("", "sandbox-integration-*")
	if err != nil {
		return nil, err
	}

	pol, err := policy.NewDefault("")
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}

	proc := newFakeProcess()
	r := runner.Func(proc.run)
	defs := runtimes.Defaults()
	store := memory.New(100)
	broker := events.NewBroker(64)

	coord, err := engine.New(engine.Config{WorkspaceRoot: workspace, MaxConcurrentPerSession: 2}, pol, r,
		engine.WithStore(store),
		engine.WithPublisher(broker),
		engine.WithRuntimes(defs),
		engine.WithResolver(resolver.New(r, defs, pol, resolver.Config{Enabled: true, Timeout: time.Minute})),
	)
	if err != nil {
		return nil, fmt.Errorf("creating coordinator: %w", err)
	}

	chain := &auth.Chain{Authenticators: []auth.Authenticator{apikey.New([]apikey.Key{
		{Key: acmeKey, Identity: auth.Identity{Subject: "alice", Tenant: "acme", Scopes: []string{auth.ScopeInstall}}},
		{Key: globexKey, Identity: auth.Identity{Subject: "bob", Tenant: "globex"}},
	})}}

	adapter := transporthttp.NewAdapter(coord, transporthttp.Config{Heartbeat: 50 * time.Millisecond},
		transporthttp.WithEvents(broker),
		transporthttp.WithHealthCheck(store),
	)

	// Build mux matching production layout.
	mux := http.NewServeMux()
	mux.Handle("/", adapter.Handler())
	mux.Handle("/mcp", mcpserver.New(coord).Handler())
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := transport.Chain(
		transport.Recovery(),
		transport.RequestID(),
		observability.MetricsMiddleware,
		auth.Middleware(chain, nil, auth.DefaultBypassEndpoints),
	)(mux)

	return &TestEnvironment{
		Server:    httptest.NewServer(handler),
		Broker:    broker,
		Process:   proc,
		Workspace: workspace,
	}, nil
}

// Teardown stops the server and removes the workspace root.
func (env *TestEnvironment) Teardown() {
	if env.Server != nil {
		env.Server.Close()
	}
	if env.Broker != nil {
		env.Broker.Close()
	}
	os.RemoveAll(env.Workspace)
}

// BaseURL returns the sandbox server base URL.
func (env *TestEnvironment) BaseURL() string {
	return env.Server.URL
}

// Client returns an API client authenticated with key.
func (env *TestEnvironment) Client(key string) *client.Client {
	return client.New(env.BaseURL(), client.WithAPIKey(key))
}

// sessionName returns a session id unique to the running test.
func sessionName(t *testing.T) string {
	return "it-" + strings.NewReplacer("/", "-", " ", "-").Replace(strings.ToLower(t.Name()))
}

// --- HTTP helpers ---

// getURL sends a GET request with an optional API key.
func getURL(t *testing.T, url, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("creating GET request: %v", err)
	}
	if key != "" {
		req.Header.Set(apikey.HeaderName, key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return string(body)
}

// --- Scripted interpreter ---

var (
	importRE = regexp.MustCompile(`(?m)^import (\w+)`)
)

// notPreinstalled lists packages the fake interpreter reports as missing
// until they are installed.
var notPreinstalled = []string{"polars", "seaborn", "networkx"}

// fakeProcess stands in for interpreter processes. It reacts to trigger
// words in the harness source:
//
//	make_chart        writes chart.png and returns a scalar
//	raise ValueError  fails with a traceback
//	import <pkg>      fails with a missing module for packages in notPreinstalled
//	anything else     prints "hello" and returns 4
type fakeProcess struct {
	mu        sync.Mutex
	installed map[string]bool
	installs  []string
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{installed: map[string]bool{}}
}

// Installs returns the packages installed so far.
func (p *fakeProcess) Installs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.installs)
}

func (p *fakeProcess) run(_ context.Context, spec runner.Spec) (*runner.Output, error) {
	last := spec.Command[len(spec.Command)-1]
	switch {
	case last == "--version":
		return &runner.Output{Stdout: []byte("Python 3.12.1\n")}, nil
	case slices.Contains(spec.Command, "install"):
		p.mu.Lock()
		p.installed[last] = true
		p.installs = append(p.installs, last)
		p.mu.Unlock()
		return &runner.Output{Duration: time.Millisecond}, nil
	}

	src, err := os.ReadFile(filepath.Join(spec.Dir, last))
	if err != nil {
		return nil, err
	}
	nonce, harness := strings.TrimSpace(string(spec.Stdin)), string(src)
	if nonce == "" {
		return nil, errors.New("no nonce on stdin")
	}

	for _, im := range importRE.FindAllStringSubmatch(harness, -1) {
		pkg := im[1]
		p.mu.Lock()
		missing := slices.Contains(notPreinstalled, pkg) && !p.installed[pkg]
		p.mu.Unlock()
		if missing {
			stderr := fmt.Sprintf("Traceback (most recent call last):\n  File \"main.py\", line 1, in <module>\nModuleNotFoundError: No module named '%s'\n", pkg)
			return &runner.Output{Stderr: []byte(stderr), ExitCode: 1, Duration: time.Millisecond}, nil
		}
	}

	switch {
	case strings.Contains(harness, "raise ValueError"):
		stderr := "Traceback (most recent call last):\n  File \"main.py\", line 1, in <module>\nValueError: bad input\n"
		return &runner.Output{Stderr: []byte(stderr), ExitCode: 1, Duration: time.Millisecond}, nil
	case strings.Contains(harness, "make_chart"):
		if err := os.WriteFile(filepath.Join(spec.Dir, "chart.png"), []byte("\x89PNG chart"), 0o644); err != nil {
			return nil, err
		}
		return &runner.Output{Stdout: protocol.Encode(nonce, []byte(`{"kind":"scalar","value":1}`)), Duration: time.Millisecond}, nil
	}
	out := append([]byte("hello\n"), protocol.Encode(nonce, []byte(`{"kind":"scalar","value":4}`))...)
	return &runner.Output{Stdout: out, Duration: time.Millisecond}, nil
}

// pythonRequest builds a request for session.
func pythonRequest(session, source string) *api.ExecutionRequest {
	return &api.ExecutionRequest{Runtime: api.RuntimePython, SessionID: session, SourceCode: source}
}
