package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/tidwall/gjson"
)

// defaultExchangeTimeout bounds a single refresh exchange so parked
// requests are failed rather than hung when the token endpoint stalls.
const defaultExchangeTimeout = 10 * time.Second

// Refresher trades a refresh credential for a new credential pair. It is a
// pure exchange: implementations never read or write the Store, which keeps
// them testable with a fake transport.
type Refresher interface {
	Exchange(ctx context.Context, refreshToken string) (Credentials, error)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// HTTPRefresher performs the refresh exchange against the task-manager
// token endpoint. Transport-level failures are retried by the underlying
// retry client; a rejection from the server is not.
type HTTPRefresher struct {
	endpoint string
	client   *retry.Client
	timeout  time.Duration
	logger   *slog.Logger
}

// NewHTTPRefresher creates a refresher for the given token endpoint URL.
// If httpClient is nil, a default client is used. A zero timeout falls
// back to defaultExchangeTimeout.
func NewHTTPRefresher(endpoint string, httpClient *http.Client, timeout time.Duration, logger *slog.Logger) (*HTTPRefresher, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	rc, err := retry.NewBackgroundClient(retry.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating retry client: %w", err)
	}

	return &HTTPRefresher{
		endpoint: endpoint,
		client:   rc,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Exchange posts the refresh credential and returns the new pair. The
// returned Refresh is empty when the server did not rotate it; the caller
// decides whether to preserve the previous one.
func (r *HTTPRefresher) Exchange(ctx context.Context, refreshToken string) (Credentials, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return Credentials{}, fmt.Errorf("marshalling refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Credentials{}, fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.DoWithContext(reqCtx, req)
	if err != nil {
		r.logger.Warn("refresh exchange failed to complete", slog.String("error", err.Error()))
		return Credentials{}, fmt.Errorf("%w: %v", ErrRefreshUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: reading response: %v", ErrRefreshUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := apiErrorMessage(body)
		r.logger.Warn("refresh exchange rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("error", msg),
		)

		if msg != "" {
			return Credentials{}, fmt.Errorf("%w: %s (%d)", ErrRefreshRejected, msg, resp.StatusCode)
		}

		return Credentials{}, fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	}

	var tr refreshResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Credentials{}, fmt.Errorf("%w: decoding response: %v", ErrRefreshRejected, err)
	}

	if tr.AccessToken == "" {
		return Credentials{}, fmt.Errorf("%w: response missing access_token", ErrRefreshRejected)
	}

	return Credentials{Access: tr.AccessToken, Refresh: tr.RefreshToken}, nil
}

// apiErrorMessage extracts the error text from an API error body. The
// server reports errors as {"error": ...} or {"detail": ...}.
func apiErrorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error").Str; msg != "" {
		return msg
	}

	return gjson.GetBytes(body, "detail").Str
}
