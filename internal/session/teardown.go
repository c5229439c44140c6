package session

import (
	"log/slog"
	"sync"
)

// Teardown ends the session when a refresh fails: it clears the credential
// store and tells the application shell to treat the user as signed out.
// Invoke is idempotent until Reset, so concurrent failures from multiple
// parked requests notify the shell exactly once.
type Teardown struct {
	store  Store
	notify func()
	logger *slog.Logger

	mu   sync.Mutex
	done bool
}

// NewTeardown creates a teardown handler. notify may be nil when the
// embedding application has no shell to inform.
func NewTeardown(store Store, notify func(), logger *slog.Logger) *Teardown {
	if logger == nil {
		logger = slog.Default()
	}

	return &Teardown{
		store:  store,
		notify: notify,
		logger: logger,
	}
}

// Invoke clears stored credentials and fires the session-lost notification.
// Clearing always runs; the notification fires at most once per armed period.
func (t *Teardown) Invoke() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.Clear(); err != nil {
		t.logger.Warn("clearing credential store", slog.String("error", err.Error()))
	}

	if t.done {
		return
	}

	t.done = true
	t.logger.Info("session torn down, user signed out")

	if t.notify != nil {
		t.notify()
	}
}

// Reset re-arms the teardown after a new session is established (login or
// successful refresh following a teardown).
func (t *Teardown) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done = false
}
