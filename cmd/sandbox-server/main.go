// Command sandbox-server runs the sandboxed code-execution service.
//
// It executes Python and R snippets in per-session workspaces behind a
// static policy check, and serves the HTTP API, the MCP tool surface and
// Prometheus metrics on one listener.
//
// Configuration is read from a YAML file (-config, SANDBOX_CONFIG,
// ./config.yaml or /etc/antwort-sandbox/config.yaml) with SANDBOX_*
// environment overrides. See pkg/config.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/antwort-sandbox/pkg/auth"
	"github.com/rhuss/antwort-sandbox/pkg/config"
	"github.com/rhuss/antwort-sandbox/pkg/debug"
	"github.com/rhuss/antwort-sandbox/pkg/engine"
	"github.com/rhuss/antwort-sandbox/pkg/events"
	"github.com/rhuss/antwort-sandbox/pkg/mcpserver"
	"github.com/rhuss/antwort-sandbox/pkg/observability"
	"github.com/rhuss/antwort-sandbox/pkg/policy"
	"github.com/rhuss/antwort-sandbox/pkg/resolver"
	"github.com/rhuss/antwort-sandbox/pkg/runner"
	"github.com/rhuss/antwort-sandbox/pkg/runtimes"
	"github.com/rhuss/antwort-sandbox/pkg/transport"
	transporthttp "github.com/rhuss/antwort-sandbox/pkg/transport/http"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	runner.MaybeInit()

	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)

	pol, err := policy.NewDefault(cfg.Policy.RulesFile)
	if err != nil {
		return fmt.Errorf("loading policy rules: %w", err)
	}

	defs, err := runtimeDefinitions(cfg.Runtimes)
	if err != nil {
		return fmt.Errorf("runtime definitions: %w", err)
	}

	ctx := context.Background()
	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	broker := events.NewBroker(64)
	proc := runner.NewProcessRunner()
	engCfg := engineConfig(cfg)

	opts := []engine.Option{
		engine.WithStore(store),
		engine.WithPublisher(broker),
		engine.WithRuntimes(defs),
		engine.WithProber(runtimes.NewProber(proc, defs, runtimes.WithEnv([]string{"PATH=" + pathOf(cfg)}))),
		engine.WithResolver(resolver.New(proc, defs, pol, resolver.Config{
			Enabled: cfg.Install.Enabled,
			Timeout: cfg.Install.Timeout,
			Limits:  engCfg.Limits,
		})),
	}
	if cfg.Sandbox.DatasetRoot != "" {
		opts = append(opts, engine.WithDatasets(engine.NewFileSource(cfg.Sandbox.DatasetRoot)))
	}

	coord, err := engine.New(engCfg, pol, proc, opts...)
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}

	chain, err := authChain(cfg.Auth)
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}
	var limiter auth.RateLimiter
	if cfg.Auth.RateLimit.Enabled {
		limiter = rateLimiter(cfg.Auth.RateLimit)
	}

	adapter := transporthttp.NewAdapter(coord, transporthttp.DefaultConfig(),
		transporthttp.WithEvents(broker),
		transporthttp.WithHealthCheck(store),
	)

	mux := http.NewServeMux()
	mux.Handle("/", adapter.Handler())
	if cfg.MCP.Enabled {
		tools := mcpserver.New(coord, mcpserver.WithImplementation("antwort-sandbox", version))
		mux.Handle(cfg.MCP.Path, tools.Handler())
	}
	bypass := append([]string(nil), auth.DefaultBypassEndpoints...)
	if cfg.Observability.Metrics.Enabled {
		mux.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
		bypass = append(bypass, cfg.Observability.Metrics.Path)
	}

	handler := transport.Chain(
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(slog.Default()),
		observability.MetricsMiddleware,
		auth.Middleware(chain, limiter, bypass),
	)(mux)

	srv := transporthttp.NewServer(handler,
		transporthttp.WithAddr(":"+strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)
	srv.RegisterOnShutdown(broker.Close)

	slog.Info("sandbox configured",
		"version", version,
		"port", cfg.Server.Port,
		"workspace_root", cfg.Sandbox.WorkspaceRoot,
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type,
		"install", cfg.Install.Enabled,
		"isolate_network", cfg.Sandbox.IsolateNetwork,
		"filesystem", cfg.Sandbox.Filesystem,
		"mcp", cfg.MCP.Enabled,
	)
	return srv.ListenAndServe()
}
