package credstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	newStore := func(t *testing.T) *Store {
		t.Helper()
		store, err := New(t.TempDir())
		require.NoError(t, err)
		return store
	}

	t.Run("Path creates one directory per account", func(t *testing.T) {
		store := newStore(t)

		dir, err := store.Path("6285700000001")
		require.NoError(t, err)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, "6285700000001", filepath.Base(dir))
	})

	t.Run("Exists is false for an empty directory", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Path("628123")
		require.NoError(t, err)
		assert.False(t, store.Exists("628123"))
	})

	t.Run("Exists is true once material is written", func(t *testing.T) {
		store := newStore(t)

		dir, err := store.Path("628123")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "session.db"), []byte("creds"), 0o644))

		assert.True(t, store.Exists("628123"))
	})

	t.Run("Remove deletes the whole directory", func(t *testing.T) {
		store := newStore(t)

		dir, err := store.Path("628123")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "session.db"), []byte("creds"), 0o644))

		require.NoError(t, store.Remove("628123"))
		assert.False(t, store.Exists("628123"))
		_, err = os.Stat(dir)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("rejects non-numeric account ids", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Path("../escape")
		assert.Error(t, err)
		assert.Error(t, store.Remove("../escape"))
		assert.False(t, store.Exists("../escape"))
	})
}
