package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// defaultWaitMax bounds how long a request may stay parked on the wait
// list. A refresh that has not settled by then is reported to that waiter
// as unreachable rather than hanging it indefinitely.
const defaultWaitMax = 30 * time.Second

type refreshResult struct {
	access string
	err    error
}

// Coordinator guarantees at most one refresh exchange is outstanding at a
// time. Requests that observe an expired access credential while a refresh
// is already in flight are parked on a wait list and resumed, in enrollment
// order, with the shared outcome.
//
// The Idle/InFlight transition, the wait list, and all Store mutation on
// settlement happen under one mutex, so a caller arriving between
// settlement and the next run either joins the active run or correctly
// observes Idle and starts a new one. No caller is dropped.
type Coordinator struct {
	store     Store
	refresher Refresher
	teardown  *Teardown
	logger    *slog.Logger
	waitMax   time.Duration

	mu       sync.Mutex
	inFlight bool
	waiters  []chan refreshResult
}

// CoordinatorConfig wires a Coordinator. Store, Refresher, and Teardown
// are required. A zero WaitMax falls back to defaultWaitMax.
type CoordinatorConfig struct {
	Store     Store
	Refresher Refresher
	Teardown  *Teardown
	Logger    *slog.Logger
	WaitMax   time.Duration
}

// NewCoordinator creates the single-flight refresh coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	waitMax := cfg.WaitMax
	if waitMax <= 0 {
		waitMax = defaultWaitMax
	}

	return &Coordinator{
		store:     cfg.Store,
		refresher: cfg.Refresher,
		teardown:  cfg.Teardown,
		logger:    logger,
		waitMax:   waitMax,
	}
}

// EnsureFresh returns an access credential that post-dates the call: either
// the result of a refresh this call started, or the result of the run it
// joined. On failure the session has already been torn down and the error
// is one of the taxonomy sentinels (possibly wrapped).
func (c *Coordinator) EnsureFresh(ctx context.Context) (string, error) {
	// Buffered so settlement never blocks on a waiter that gave up.
	ch := make(chan refreshResult, 1)

	c.mu.Lock()

	if c.inFlight {
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		return c.wait(ctx, ch)
	}

	creds, ok := c.store.Get()
	if !ok || creds.Refresh == "" {
		// No session to refresh. Tear down without touching the network.
		c.teardown.Invoke()
		c.mu.Unlock()

		return "", ErrNoRefreshCredential
	}

	c.inFlight = true
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	c.logger.Debug("starting credential refresh")
	go c.run(creds.Refresh)

	return c.wait(ctx, ch)
}

// run performs one refresh exchange and settles every parked waiter.
// It runs on a background context: a caller abandoning its request must
// not cancel a refresh other requests are parked on.
func (c *Coordinator) run(refreshToken string) {
	creds, err := c.refresher.Exchange(context.Background(), refreshToken)

	c.mu.Lock()

	if err == nil {
		if creds.Refresh == "" {
			// Server did not rotate the refresh credential; keep the
			// previous one usable for the next refresh.
			creds.Refresh = refreshToken
		}

		if serr := c.store.Set(creds); serr != nil {
			err = fmt.Errorf("persisting refreshed credentials: %w", serr)
		}
	}

	if err != nil {
		// Store is cleared before the state returns to Idle so a new run
		// cannot start from credentials this failure invalidated.
		c.teardown.Invoke()
	}

	waiters := c.waiters
	c.waiters = nil
	c.inFlight = false
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("credential refresh failed",
			slog.Int("waiters", len(waiters)),
			slog.String("error", err.Error()),
		)
	} else {
		c.logger.Debug("credential refresh settled", slog.Int("waiters", len(waiters)))
	}

	for _, ch := range waiters {
		if err != nil {
			ch <- refreshResult{err: err}
		} else {
			ch <- refreshResult{access: creds.Access}
		}
	}
}

// wait parks the caller until the in-flight run settles, the caller's
// context ends, or the wait bound elapses. Abandoning the wait never
// cancels the shared run.
func (c *Coordinator) wait(ctx context.Context, ch chan refreshResult) (string, error) {
	timer := time.NewTimer(c.waitMax)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.access, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", fmt.Errorf("%w: refresh did not settle within %s", ErrRefreshUnreachable, c.waitMax)
	}
}
