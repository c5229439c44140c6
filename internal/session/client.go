package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// Doer dispatches a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// pendingRequest captures enough of a request to re-issue it after a
// credential refresh. replayed tags the one-time replay: a 401 on a
// replayed request is terminal and never triggers a second refresh.
type pendingRequest struct {
	method   string
	url      string
	header   http.Header
	body     []byte
	replayed bool
}

// Client is the authorized entry point for all task-manager API calls. It
// attaches the current access credential to every request, recovers
// expiry-caused 401s through the refresh coordinator, and replays the
// original request exactly once with the fresh credential. Every other
// response class (403, 404, 5xx, validation errors) passes through
// untouched.
type Client struct {
	baseURL   string
	transport Doer
	store     Store
	coord     *Coordinator
	teardown  *Teardown
	logger    *slog.Logger
}

// ClientConfig wires a Client. BaseURL, Store, Coordinator, and Teardown
// are required; a nil Transport falls back to http.DefaultClient.
type ClientConfig struct {
	BaseURL     string
	Transport   Doer
	Store       Store
	Coordinator *Coordinator
	Teardown    *Teardown
	Logger      *slog.Logger
}

// NewClient creates the authorized API client.
func NewClient(cfg ClientConfig) *Client {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		transport: transport,
		store:     cfg.Store,
		coord:     cfg.Coordinator,
		teardown:  cfg.Teardown,
		logger:    logger,
	}
}

// Do sends an authorized request to the given API path and returns the
// response. The body is buffered up front so the request can be replayed
// after a refresh. Callers own the returned response body.
func (c *Client) Do(ctx context.Context, method, path string, header http.Header, body []byte) (*http.Response, error) {
	pr := &pendingRequest{
		method: method,
		url:    c.baseURL + path,
		header: header,
		body:   body,
	}

	reqID := uuid.NewString()

	token := ""
	if creds, ok := c.store.Get(); ok {
		token = creds.Access
	}

	// An empty token dispatches without an Authorization header: expected
	// for anonymous endpoints and for the first request of a fresh process.
	resp, err := c.dispatch(ctx, pr, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	return c.handleUnauthorized(ctx, pr, resp, reqID)
}

// handleUnauthorized recovers a retry-eligible 401: one refresh (shared
// across concurrent requests) followed by one replay. When the refresh
// fails, the session has been torn down and the caller gets the original
// 401 so every consumer sees a consistent unauthenticated signal.
func (c *Client) handleUnauthorized(ctx context.Context, pr *pendingRequest, resp *http.Response, reqID string) (*http.Response, error) {
	if pr.replayed {
		return resp, nil
	}

	pr.replayed = true

	c.logger.Debug("access credential rejected, requesting refresh",
		slog.String("request_id", reqID),
		slog.String("method", pr.method),
		slog.String("url", pr.url),
	)

	access, err := c.coord.EnsureFresh(ctx)
	if err != nil {
		c.logger.Warn("request failed, session lost",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)

		return resp, nil
	}

	// The original response is superseded by the replay.
	drainAndClose(resp)

	// The replay is detached from the caller's cancellation: a refresh was
	// just spent on it, so let it finish and discard the result if the
	// caller is gone. The transport's own timeout still bounds it.
	replay, err := c.dispatch(context.WithoutCancel(ctx), pr, access)
	if err != nil {
		return nil, fmt.Errorf("replaying request: %w", err)
	}

	if replay.StatusCode == http.StatusUnauthorized {
		// Terminal. The replayed tag guarantees no second refresh, and the
		// server refused a credential that was fresh moments ago, so the
		// session is over.
		c.logger.Warn("replay rejected",
			slog.String("request_id", reqID),
			slog.String("method", pr.method),
			slog.String("url", pr.url),
			slog.String("error", ErrReplayUnauthorized.Error()),
		)
		c.teardown.Invoke()
	}

	return replay, nil
}

// dispatch builds and sends one attempt of the pending request. The
// Authorization header is always re-derived from token, never carried
// over from the captured headers.
func (c *Client) dispatch(ctx context.Context, pr *pendingRequest, token string) (*http.Response, error) {
	var rd io.Reader
	if len(pr.body) > 0 {
		rd = bytes.NewReader(pr.body)
	}

	req, err := http.NewRequestWithContext(ctx, pr.method, pr.url, rd)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, vs := range pr.header {
		for _, v := range vs {
			req.Header[k] = append(req.Header[k], v)
		}
	}

	req.Header.Del("Authorization")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.transport.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to %s: %w", pr.url, err)
	}

	return resp, nil
}

// drainAndClose discards a response that is being superseded, letting the
// transport reuse the connection.
func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
