// Package session implements the authenticated HTTP client for the
// task-manager API: credential storage, bearer attachment, and the
// single-flight refresh coordination that recovers expired access
// tokens without callers ever seeing an expiry-caused 401.
package session

import "sync"

// Credentials holds the access/refresh token pair for the current session.
// Both tokens are opaque strings; nothing in this package inspects their
// contents.
type Credentials struct {
	Access  string
	Refresh string
}

// Store holds the current credential pair. Implementations must be safe
// for concurrent use. Set replaces both tokens together so a reader never
// observes an access token from one refresh paired with a refresh token
// from another.
type Store interface {
	// Get returns the stored credentials. ok is false when no session exists.
	Get() (creds Credentials, ok bool)
	Set(creds Credentials) error
	Clear() error
}

// MemoryStore is an in-process Store. Used by tests and by runs that
// should not persist a session to disk.
type MemoryStore struct {
	mu    sync.Mutex
	creds Credentials
	ok    bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the stored credentials, if any.
func (s *MemoryStore) Get() (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.creds, s.ok
}

// Set replaces the stored credential pair.
func (s *MemoryStore) Set(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = creds
	s.ok = true

	return nil
}

// Clear removes the stored credentials.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = Credentials{}
	s.ok = false

	return nil
}
