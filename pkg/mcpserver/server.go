// Package mcpserver exposes the sandbox as Model Context Protocol tools:
// execute_code runs a snippet in a session, runtime_available reports
// whether an interpreter is installed.
//
// The handler runs in stateless streamable-HTTP mode and builds a server
// per request, so every tool call is bound to the tenant and identity the
// auth middleware put on that request.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/auth"
	"github.com/rhuss/antwort-sandbox/pkg/debug"
	"github.com/rhuss/antwort-sandbox/pkg/storage"
	"github.com/rhuss/antwort-sandbox/pkg/transport"
)

const (
	ToolExecuteCode      = "execute_code"
	ToolRuntimeAvailable = "runtime_available"
)

// Service is the part of the coordinator the tools call.
type Service interface {
	transport.Executor
	transport.Diagnostics
}

// Server builds MCP servers bound to a caller.
type Server struct {
	svc     Service
	name    string
	version string
}

// Option configures a Server.
type Option func(*Server)

// WithImplementation sets the name and version reported on initialize.
func WithImplementation(name, version string) Option {
	return func(s *Server) {
		s.name = name
		s.version = version
	}
}

// New creates a Server backed by svc.
func New(svc Service, opts ...Option) *Server {
	s := &Server{svc: svc, name: "antwort-sandbox", version: "dev"}
	for _, o := range opts {
		o(s)
	}
	return s
}

// caller is what a tool call inherits from its HTTP request.
type caller struct {
	tenant   string
	identity *auth.Identity
}

func callerFrom(ctx context.Context) caller {
	return caller{tenant: storage.GetTenant(ctx), identity: auth.IdentityFromContext(ctx)}
}

func (c caller) context(ctx context.Context) context.Context {
	if c.tenant != "" {
		ctx = storage.SetTenant(ctx, c.tenant)
	}
	if c.identity != nil {
		ctx = auth.SetIdentity(ctx, c.identity)
	}
	return ctx
}

// Handler returns the streamable HTTP handler for the tool surface.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server(callerFrom(r.Context()))
	}, &mcp.StreamableHTTPOptions{Stateless: true})
}

// server registers the tools with every call bound to c.
func (s *Server) server(c caller) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: s.name, Version: s.version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name: ToolExecuteCode,
		Description: "Execute Python or R source code in a sandboxed session. " +
			"The session workspace persists between calls with the same session_id. " +
			"Returns the classified result with logs, a structured value and artifact handles.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ExecuteInput) (*mcp.CallToolResult, any, error) {
		return s.executeCode(c.context(ctx), in)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolRuntimeAvailable,
		Description: "Report whether a runtime (python or r) is installed and its version.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in RuntimeInput) (*mcp.CallToolResult, any, error) {
		return s.runtimeAvailable(c.context(ctx), in)
	})

	return server
}

// ExecuteInput is the argument object of execute_code.
type ExecuteInput struct {
	Runtime         string               `json:"runtime" jsonschema:"the runtime to use: python or r"`
	SourceCode      string               `json:"source_code" jsonschema:"the source code to execute"`
	SessionID       string               `json:"session_id" jsonschema:"the session whose workspace the code runs in"`
	DatasetBindings []api.DatasetBinding `json:"dataset_bindings,omitempty" jsonschema:"datasets to bind to variables before the code runs"`
	AllowInstall    bool                 `json:"allow_install,omitempty" jsonschema:"install a missing package and retry once"`
	TimeoutSeconds  int                  `json:"timeout_seconds,omitempty" jsonschema:"wall-clock limit in seconds"`
}

// RuntimeInput is the argument object of runtime_available.
type RuntimeInput struct {
	Runtime string `json:"runtime" jsonschema:"the runtime to check: python or r"`
}

func (s *Server) executeCode(ctx context.Context, in ExecuteInput) (*mcp.CallToolResult, any, error) {
	req := &api.ExecutionRequest{
		Runtime:         api.Runtime(in.Runtime),
		SourceCode:      in.SourceCode,
		SessionID:       in.SessionID,
		DatasetBindings: in.DatasetBindings,
		AllowInstall:    in.AllowInstall,
		TimeoutSeconds:  in.TimeoutSeconds,
	}
	if req.AllowInstall && !auth.CanInstall(ctx) {
		debug.Log("mcp", "allow_install dropped, caller lacks scope", "session_id", req.SessionID)
		req.AllowInstall = false
	}

	res, err := s.svc.Execute(ctx, req)
	if err != nil {
		return nil, nil, toolError(err)
	}
	out, err := jsonResult(res)
	if err != nil {
		return nil, nil, err
	}
	out.IsError = res.Status != api.StatusSuccess
	return out, nil, nil
}

func (s *Server) runtimeAvailable(ctx context.Context, in RuntimeInput) (*mcp.CallToolResult, any, error) {
	rt := api.Runtime(in.Runtime)
	if !rt.Valid() {
		return nil, nil, fmt.Errorf("unsupported runtime %q", in.Runtime)
	}
	out, err := jsonResult(s.svc.RuntimeAvailable(ctx, rt))
	if err != nil {
		return nil, nil, err
	}
	return out, nil, nil
}

// jsonResult renders v as text content and as structured content.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
		StructuredContent: json.RawMessage(data),
	}, nil
}

// toolError keeps validation messages and hides internal failures.
func toolError(err error) error {
	apiErr := transport.ErrorFrom(err)
	if apiErr.Param != "" {
		return fmt.Errorf("%s: %s", apiErr.Param, apiErr.Message)
	}
	return errors.New(apiErr.Message)
}
