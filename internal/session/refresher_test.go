package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRefresher(t *testing.T, srv *httptest.Server, timeout time.Duration) *HTTPRefresher {
	t.Helper()

	r, err := NewHTTPRefresher(srv.URL+"/auth/refresh", srv.Client(), timeout, discardLogger())
	require.NoError(t, err)

	return r
}

func TestExchange_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/refresh", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)

		var req refreshRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "r1", req.RefreshToken)

		w.Write([]byte(`{"access_token":"a2","refresh_token":"r2"}`))
	}))
	defer srv.Close()

	creds, err := newTestRefresher(t, srv, 0).Exchange(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", creds.Access)
	assert.Equal(t, "r2", creds.Refresh)
}

func TestExchange_OmittedRefreshTokenReturnedEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"a2"}`))
	}))
	defer srv.Close()

	creds, err := newTestRefresher(t, srv, 0).Exchange(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", creds.Access)
	assert.Empty(t, creds.Refresh, "rotation decision belongs to the coordinator")
}

func TestExchange_RejectedWithErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"refresh token revoked"}`))
	}))
	defer srv.Close()

	_, err := newTestRefresher(t, srv, 0).Exchange(context.Background(), "r1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshRejected)
	assert.Contains(t, err.Error(), "refresh token revoked")
}

func TestExchange_RejectedWithoutErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestRefresher(t, srv, 0).Exchange(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrRefreshRejected)
}

func TestExchange_MissingAccessTokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"refresh_token":"r2"}`))
	}))
	defer srv.Close()

	_, err := newTestRefresher(t, srv, 0).Exchange(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrRefreshRejected)
}

func TestExchange_ConnectionFailureUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	refresher := newTestRefresher(t, srv, 0)
	srv.Close()

	_, err := refresher.Exchange(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrRefreshUnreachable)
}

func TestExchange_TimeoutUnreachable(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	// Unblock the handler before srv.Close, which waits for active
	// connections to finish.
	defer close(release)

	// A stalled token endpoint must resolve as unreachable, not hang.
	_, err := newTestRefresher(t, srv, 50*time.Millisecond).Exchange(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrRefreshUnreachable)
}
