package runtimes

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/debug"
	"github.com/rhuss/antwort-sandbox/pkg/observability"
	"github.com/rhuss/antwort-sandbox/pkg/runner"
)

const (
	DefaultProbeTTL     = time.Minute
	DefaultProbeTimeout = 5 * time.Second
)

type probeResult struct {
	status api.RuntimeStatus
	at     time.Time
}

// Prober answers whether a runtime's executable is present. Concurrent
// probes of the same runtime share one process and results are cached.
type Prober struct {
	runner  runner.Runner
	defs    map[api.Runtime]Definition
	env     []string
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[api.Runtime]probeResult
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithTTL sets how long a probe result is reused.
func WithTTL(d time.Duration) ProberOption {
	return func(p *Prober) { p.ttl = d }
}

// WithProbeTimeout bounds a single probe.
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) { p.timeout = d }
}

// WithEnv sets the environment of probe processes.
func WithEnv(env []string) ProberOption {
	return func(p *Prober) { p.env = env }
}

// NewProber returns a Prober running probes through r.
func NewProber(r runner.Runner, defs map[api.Runtime]Definition, opts ...ProberOption) *Prober {
	p := &Prober{
		runner:  r,
		defs:    defs,
		ttl:     DefaultProbeTTL,
		timeout: DefaultProbeTimeout,
		now:     time.Now,
		cache:   make(map[api.Runtime]probeResult),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Available reports whether rt's interpreter is installed.
func (p *Prober) Available(ctx context.Context, rt api.Runtime) bool {
	return p.Status(ctx, rt).Installed
}

// Status probes rt, reusing a cached answer younger than the TTL.
func (p *Prober) Status(ctx context.Context, rt api.Runtime) api.RuntimeStatus {
	def, ok := p.defs[rt]
	if !ok {
		return api.RuntimeStatus{Runtime: rt}
	}

	p.mu.Lock()
	if c, ok := p.cache[rt]; ok && p.now().Sub(c.at) < p.ttl {
		p.mu.Unlock()
		return c.status
	}
	p.mu.Unlock()

	v, _, _ := p.group.Do(string(rt), func() (any, error) {
		st := p.probe(context.WithoutCancel(ctx), def)
		p.mu.Lock()
		p.cache[rt] = probeResult{status: st, at: p.now()}
		p.mu.Unlock()
		return st, nil
	})
	return v.(api.RuntimeStatus)
}

func (p *Prober) probe(ctx context.Context, def Definition) api.RuntimeStatus {
	st := api.RuntimeStatus{Runtime: def.Runtime}
	out, err := p.runner.Run(ctx, runner.Spec{
		Command: def.VersionCommand(),
		Env:     p.env,
		Limits:  runner.Limits{Timeout: p.timeout, MaxOutputBytes: 64 << 10},
	})
	switch {
	case err != nil:
		debug.Log("runtimes", "probe failed to start", "runtime", def.Runtime, "error", err)
	case out.ExitCode != 0 || out.Killed():
		debug.Log("runtimes", "probe failed", "runtime", def.Runtime, "exit_code", out.ExitCode, "timed_out", out.TimedOut)
	default:
		st.Installed = true
		if v := firstLine(out.Stdout); v != "" {
			st.Version = &v
		} else if v := firstLine(out.Stderr); v != "" {
			st.Version = &v
		}
	}
	observability.RuntimeProbesTotal.WithLabelValues(string(def.Runtime), strconv.FormatBool(st.Installed)).Inc()
	return st
}

// Invalidate drops cached results, forcing the next call to probe.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	clear(p.cache)
	p.mu.Unlock()
}

func firstLine(b []byte) string {
	for line := range bytes.Lines(b) {
		if l := bytes.TrimSpace(line); len(l) > 0 {
			return string(l)
		}
	}
	return ""
}
