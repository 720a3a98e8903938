package docstore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemLayout(t *testing.T) {
	assert := assert.New(t)

	root := t.TempDir()
	store, err := NewFilesystem(root)
	require.NoError(t, err)

	assert.Nil(store.Save("token", "abc", map[string]string{"id": "abc"}))
	data, err := os.ReadFile(filepath.Join(root, "token", "abc.json"))
	assert.Nil(err)
	assert.JSONEq(`{"id":"abc"}`, string(data))

	t.Run("Temp files are ignored", func(t *testing.T) {
		assert.Nil(os.WriteFile(filepath.Join(root, "token", ".abc-123"), []byte("{"), 0o600))
		assert.Nil(os.WriteFile(filepath.Join(root, "token", "notes.txt"), []byte("x"), 0o600))
		keys, err := store.Keys("token")
		assert.Nil(err)
		assert.Equal([]string{"abc"}, keys)
	})

	t.Run("No temp files left behind", func(t *testing.T) {
		assert.Nil(store.Insert("token", "def", map[string]string{"id": "def"}))
		assert.ErrorIs(store.Insert("token", "def", map[string]string{"id": "def"}), ErrExists)
		entries, err := os.ReadDir(filepath.Join(root, "token"))
		assert.Nil(err)
		for _, e := range entries {
			assert.NotRegexp(`^\.(abc|def)-\d`, e.Name())
		}
	})
}

func TestFilesystemWatch(t *testing.T) {
	assert := assert.New(t)

	root := t.TempDir()
	store, err := NewFilesystem(root)
	require.NoError(t, err)

	var mu sync.Mutex
	changed := map[string]int{}
	watcher, err := store.Watch("site", func(key string) {
		mu.Lock()
		changed[key]++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer watcher.Close()

	// an operator editing the file by hand
	assert.Nil(os.WriteFile(filepath.Join(root, "site", "settings.json"), []byte(`{"register":false}`), 0o600))

	assert.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return changed["settings"] > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	before := changed["settings"]
	mu.Unlock()
	assert.Nil(store.Delete("site", "settings"))
	assert.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return changed["settings"] > before
	}, 2*time.Second, 10*time.Millisecond)
}
