// Package taskapi talks to the task-manager REST API. All requests go
// through the session client, which handles credential attachment,
// refresh, and replay transparently.
package taskapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/NicolasHurtado/taskctl/internal/session"
	"github.com/tidwall/gjson"
)

// Client exposes the task-manager endpoints.
type Client struct {
	api      *session.Client
	store    session.Store
	teardown *session.Teardown
	logger   *slog.Logger
}

// New creates a task API client on top of the authorized session client.
func New(api *session.Client, store session.Store, teardown *session.Teardown, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		api:      api,
		store:    store,
		teardown: teardown,
		logger:   logger,
	}
}

// doJSON sends a JSON request through the session client and decodes the
// response into result. A nil body sends no payload; a nil result skips
// decoding.
func (c *Client) doJSON(ctx context.Context, method, path string, body, result any) error {
	var payload []byte

	header := http.Header{}

	if body != nil {
		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		header.Set("Content-Type", "application/json")
	}

	resp, err := c.api.Do(ctx, method, path, header, payload)
	if err != nil {
		return fmt.Errorf("sending request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The API reports errors as {"error": ...} or {"detail": ...}.
		if msg := gjson.GetBytes(respBody, "error").Str; msg != "" {
			return fmt.Errorf("API %s (%d): %s", path, resp.StatusCode, msg)
		}

		if msg := gjson.GetBytes(respBody, "detail").Str; msg != "" {
			return fmt.Errorf("API %s (%d): %s", path, resp.StatusCode, msg)
		}

		return fmt.Errorf("API %s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", path, err)
		}
	}

	return nil
}

// Login authenticates with email and password and stores the resulting
// credential pair as the current session.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var tokens tokenPairResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", loginRequest{
		Email:    email,
		Password: password,
	}, &tokens); err != nil {
		return fmt.Errorf("signing in: %w", err)
	}

	if err := c.store.Set(session.Credentials{
		Access:  tokens.AccessToken,
		Refresh: tokens.RefreshToken,
	}); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}

	// A fresh session re-arms the session-lost notification.
	c.teardown.Reset()
	c.logger.Info("signed in", slog.String("email", email))

	return nil
}

// Register creates a new account and signs it in.
func (c *Client) Register(ctx context.Context, name, email, password string) error {
	var tokens tokenPairResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", registerRequest{
		Name:     name,
		Email:    email,
		Password: password,
	}, &tokens); err != nil {
		return fmt.Errorf("registering: %w", err)
	}

	if err := c.store.Set(session.Credentials{
		Access:  tokens.AccessToken,
		Refresh: tokens.RefreshToken,
	}); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}

	c.teardown.Reset()

	return nil
}

// Logout revokes the refresh credential server-side (best effort) and
// clears the local session.
func (c *Client) Logout(ctx context.Context) error {
	creds, ok := c.store.Get()
	if !ok {
		return nil
	}

	if err := c.doJSON(ctx, http.MethodPost, "/auth/logout", logoutRequest{
		RefreshToken: creds.Refresh,
	}, nil); err != nil {
		// Local sign-out proceeds even when revocation fails.
		c.logger.Warn("server-side logout failed", slog.String("error", err.Error()))
	}

	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}

	c.teardown.Reset()
	c.logger.Info("signed out")

	return nil
}

// Tasks returns all tasks for the signed-in user.
func (c *Client) Tasks(ctx context.Context) ([]Task, error) {
	var tasks []Task
	if err := c.doJSON(ctx, http.MethodGet, "/tasks", nil, &tasks); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	return tasks, nil
}

// CreateTask creates a task and returns it as stored by the server.
func (c *Client) CreateTask(ctx context.Context, title, description string) (*Task, error) {
	var task Task
	if err := c.doJSON(ctx, http.MethodPost, "/tasks", createTaskRequest{
		Title:       title,
		Description: description,
	}, &task); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	return &task, nil
}

// UpdateTask applies the given changes to a task.
func (c *Client) UpdateTask(ctx context.Context, id string, update TaskUpdate) (*Task, error) {
	var task Task
	if err := c.doJSON(ctx, http.MethodPut, "/tasks/"+url.PathEscape(id), update, &task); err != nil {
		return nil, fmt.Errorf("updating task %s: %w", id, err)
	}

	return &task, nil
}

// CompleteTask marks a task as done.
func (c *Client) CompleteTask(ctx context.Context, id string) (*Task, error) {
	done := true

	return c.UpdateTask(ctx, id, TaskUpdate{Completed: &done})
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}

	return nil
}

// Profile returns the signed-in user's profile.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := c.doJSON(ctx, http.MethodGet, "/users/me", nil, &profile); err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}

	return &profile, nil
}

// DeleteAccount deletes the account and clears the local session.
func (c *Client) DeleteAccount(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/users/me", nil, nil); err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}

	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}

	c.logger.Info("account deleted")

	return nil
}
