// Package credstore persists session credentials across taskctl runs.
package credstore

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/NicolasHurtado/taskctl/internal/session"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.taskctl/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	// Tokens live in it, so it must not be group or world readable.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	sessionBucket = []byte("session")
	accessKey     = []byte("access_token")
	refreshKey    = []byte("refresh_token")
)

// FileStore is a bbolt-backed session.Store. Both tokens are written in a
// single transaction, so a concurrent reader never sees an access token
// from one refresh paired with a refresh token from another.
type FileStore struct {
	db *bolt.DB
}

// Open opens the store at ~/.taskctl/state.db, creating it if needed.
func Open() (*FileStore, error) {
	path, err := dbPath()
	if err != nil {
		return nil, err
	}

	return OpenAt(path)
}

// OpenAt opens a store at the given path. Useful for tests that need an
// isolated database.
func OpenAt(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &FileStore{db: db}, nil
}

// Close closes the database.
func (s *FileStore) Close() error {
	return s.db.Close()
}

// Get returns the stored credential pair. ok is false when no session has
// been saved.
func (s *FileStore) Get() (session.Credentials, bool) {
	var creds session.Credentials

	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)

		if v := b.Get(accessKey); v != nil {
			creds.Access = string(v)
		}

		if v := b.Get(refreshKey); v != nil {
			creds.Refresh = string(v)
		}

		return nil
	})

	return creds, creds.Access != "" || creds.Refresh != ""
}

// Set persists both tokens atomically.
func (s *FileStore) Set(creds session.Credentials) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)

		if err := b.Put(accessKey, []byte(creds.Access)); err != nil {
			return err
		}

		return b.Put(refreshKey, []byte(creds.Refresh))
	})
}

// Clear removes the stored session.
func (s *FileStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)

		if err := b.Delete(accessKey); err != nil {
			return err
		}

		return b.Delete(refreshKey)
	})
}

func dbPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		// Never fall back to the current directory: the database holds
		// session tokens and could end up inside a source tree.
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".taskctl", "state.db"), nil
}
