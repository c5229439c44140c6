package credstore

import (
	"path/filepath"
	"testing"

	"github.com/NicolasHurtado/taskctl/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "state.db")

	s, err := OpenAt(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s, path
}

func TestFileStore_EmptyByDefault(t *testing.T) {
	s, _ := openTestStore(t)

	_, ok := s.Get()
	assert.False(t, ok)
}

func TestFileStore_SetGetClear(t *testing.T) {
	s, _ := openTestStore(t)

	require.NoError(t, s.Set(session.Credentials{Access: "a1", Refresh: "r1"}))

	creds, ok := s.Get()
	require.True(t, ok)
	assert.Equal(t, "a1", creds.Access)
	assert.Equal(t, "r1", creds.Refresh)

	require.NoError(t, s.Clear())

	_, ok = s.Get()
	assert.False(t, ok)
}

func TestFileStore_SetReplacesBothTokens(t *testing.T) {
	s, _ := openTestStore(t)

	require.NoError(t, s.Set(session.Credentials{Access: "a1", Refresh: "r1"}))
	require.NoError(t, s.Set(session.Credentials{Access: "a2", Refresh: "r2"}))

	creds, ok := s.Get()
	require.True(t, ok)
	assert.Equal(t, "a2", creds.Access)
	assert.Equal(t, "r2", creds.Refresh)
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := OpenAt(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(session.Credentials{Access: "a1", Refresh: "r1"}))
	require.NoError(t, s.Close())

	s, err = OpenAt(path)
	require.NoError(t, err)
	defer s.Close()

	creds, ok := s.Get()
	require.True(t, ok)
	assert.Equal(t, "a1", creds.Access)
	assert.Equal(t, "r1", creds.Refresh)
}

func TestFileStore_ImplementsSessionStore(t *testing.T) {
	s, _ := openTestStore(t)

	var _ session.Store = s
}
