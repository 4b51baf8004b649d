// Package client is a Go client for the sandbox HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/auth/apikey"
	"github.com/rhuss/antwort-sandbox/pkg/storage"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Client calls a sandbox server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	token      string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIKey authenticates with an API key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithBearerToken authenticates with a bearer token (JWT).
func WithBearerToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for the server at baseURL. The default HTTP client
// has no overall timeout: executions block until they finish, and callers
// bound them through the context.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Error is a non-2xx answer from the server.
type Error struct {
	StatusCode int
	// RetryAfter is set on 429 answers that carry the header.
	RetryAfter time.Duration
	API        *api.APIError
}

func (e *Error) Error() string {
	if e.API != nil {
		return fmt.Sprintf("sandbox returned HTTP %d: %s", e.StatusCode, e.API.Error())
	}
	return fmt.Sprintf("sandbox returned HTTP %d", e.StatusCode)
}

// Unwrap exposes the decoded API error to errors.As.
func (e *Error) Unwrap() error {
	if e.API == nil {
		return nil
	}
	return e.API
}

// Execute runs req and blocks until the execution is terminal.
func (c *Client) Execute(ctx context.Context, req *api.ExecutionRequest) (*api.ExecutionResult, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	var res api.ExecutionResult
	p := "/v1/sessions/" + url.PathEscape(req.SessionID) + "/executions"
	if err := c.doJSON(ctx, http.MethodPost, p, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// History lists a session's completed executions.
func (c *Client) History(ctx context.Context, sessionID string, opts storage.ListOptions) (*storage.HistoryPage, error) {
	q := url.Values{}
	if opts.After != "" {
		q.Set("after", opts.After)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	p := "/v1/sessions/" + url.PathEscape(sessionID) + "/executions"
	if len(q) > 0 {
		p += "?" + q.Encode()
	}
	var page storage.HistoryPage
	if err := c.doJSON(ctx, http.MethodGet, p, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Session returns a session snapshot.
func (c *Client) Session(ctx context.Context, sessionID string) (*api.SessionInfo, error) {
	var info api.SessionInfo
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteSession cancels the session's executions and removes its workspace.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// Cancel stops an in-flight execution.
func (c *Client) Cancel(ctx context.Context, executionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/executions/"+url.PathEscape(executionID), nil, nil)
}

// Artifact is downloaded artifact content. The caller closes Body.
type Artifact struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	Category      api.ArtifactCategory
}

// Artifact downloads artifact content.
func (c *Client) Artifact(ctx context.Context, sessionID, artifactID string) (*Artifact, error) {
	resp, err := c.do(ctx, http.MethodGet, artifactPath(sessionID, artifactID), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return &Artifact{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Category:      api.ArtifactCategory(resp.Header.Get("X-Artifact-Category")),
	}, nil
}

// RevokeArtifact removes an artifact from its session.
func (c *Client) RevokeArtifact(ctx context.Context, sessionID, artifactID string) error {
	return c.doJSON(ctx, http.MethodDelete, artifactPath(sessionID, artifactID), nil, nil)
}

// Runtime reports whether rt is installed on the server.
func (c *Client) Runtime(ctx context.Context, rt api.Runtime) (*api.RuntimeStatus, error) {
	var st api.RuntimeStatus
	if err := c.doJSON(ctx, http.MethodGet, "/v1/runtimes/"+url.PathEscape(string(rt)), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Runtimes reports every supported runtime.
func (c *Client) Runtimes(ctx context.Context) ([]api.RuntimeStatus, error) {
	var out struct {
		Data []api.RuntimeStatus `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/runtimes", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func artifactPath(sessionID, artifactID string) string {
	return "/v1/sessions/" + url.PathEscape(sessionID) + "/artifacts/" + url.PathEscape(artifactID)
}

// doJSON sends body as JSON and decodes a 2xx answer into out when out is
// non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	resp, err := c.do(ctx, method, path, rd)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) authorize(req *http.Request) {
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.apiKey != "":
		req.Header.Set(apikey.HeaderName, c.apiKey)
	}
}

func decodeError(resp *http.Response) error {
	e := &Error{StatusCode: resp.StatusCode}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	var body api.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if json.Unmarshal(data, &body) == nil && body.Error != nil {
		e.API = body.Error
	}
	return e
}
