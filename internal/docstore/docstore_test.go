package docstore

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/nrednav/cuid2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID     string   `json:"id"`
	Handle string   `json:"handle"`
	Count  int      `json:"count"`
	Tags   []string `json:"tags"`
}

func stores(t *testing.T) map[string]Store {
	fsStore, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	sqliteStore, err := NewSQLite("file:" + cuid2.Generate() + "?mode=memory&cache=shared")
	require.NoError(t, err)

	all := map[string]Store{
		"memory":     NewMemory(),
		"filesystem": fsStore,
		"sqlite":     sqliteStore,
	}
	t.Cleanup(func() {
		for _, s := range all {
			s.Close()
		}
	})
	return all
}

func TestStores(t *testing.T) {
	for name, store := range stores(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			testStore(t, store)
		})
	}
}

func testStore(t *testing.T, store Store) {
	assert := assert.New(t)

	t.Run("Missing", func(t *testing.T) {
		ok, err := store.Has("user", "nobody")
		assert.Nil(err)
		assert.False(ok)

		err = store.Load("user", "nobody", &record{})
		assert.ErrorIs(err, ErrNotFound)

		assert.Nil(store.Delete("user", "nobody"))
	})

	t.Run("Save and load", func(t *testing.T) {
		in := &record{ID: "u1", Handle: "alice", Count: 1, Tags: []string{"a"}}
		assert.Nil(store.Save("user", "u1", in))

		ok, err := store.Has("user", "u1")
		assert.Nil(err)
		assert.True(ok)

		out := &record{}
		assert.Nil(store.Load("user", "u1", out))
		assert.Equal(in, out)

		in.Count = 2
		assert.Nil(store.Save("user", "u1", in))
		assert.Nil(store.Load("user", "u1", out))
		assert.Equal(2, out.Count)

		raw := json.RawMessage{}
		assert.Nil(store.Load("user", "u1", &raw))
		assert.Contains(string(raw), `"handle":"alice"`)
	})

	t.Run("Insert", func(t *testing.T) {
		assert.Nil(store.Insert("user", "u2", &record{ID: "u2", Handle: "bob"}))
		err := store.Insert("user", "u2", &record{ID: "u2", Handle: "mallory"})
		assert.ErrorIs(err, ErrExists)

		out := &record{}
		assert.Nil(store.Load("user", "u2", out))
		assert.Equal("bob", out.Handle)
	})

	t.Run("Concurrent insert has one winner", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := store.Insert("token", "race", &record{ID: fmt.Sprint(i)}); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(1, wins)
	})

	t.Run("FindOne", func(t *testing.T) {
		key, err := store.FindOne("user", "handle", "bob")
		assert.Nil(err)
		assert.Equal("u2", key)

		_, err = store.FindOne("user", "handle", "carol")
		assert.ErrorIs(err, ErrNotFound)

		_, err = store.FindOne("user", "count", "1")
		assert.ErrorIs(err, ErrNotFound)

		_, err = store.FindOne("empty", "handle", "bob")
		assert.ErrorIs(err, ErrNotFound)
	})

	t.Run("Keys", func(t *testing.T) {
		keys, err := store.Keys("user")
		assert.Nil(err)
		assert.Equal([]string{"u1", "u2"}, keys)

		keys, err = store.Keys("empty")
		assert.Nil(err)
		assert.Empty(keys)
	})

	t.Run("Collections are separate", func(t *testing.T) {
		ok, err := store.Has("token", "u1")
		assert.Nil(err)
		assert.False(ok)
	})

	t.Run("Delete", func(t *testing.T) {
		assert.Nil(store.Delete("user", "u1"))
		assert.Nil(store.Delete("user", "u1"))
		ok, err := store.Has("user", "u1")
		assert.Nil(err)
		assert.False(ok)
	})

	t.Run("Invalid keys", func(t *testing.T) {
		for _, key := range []string{"", "../etc/passwd", "a/b", "a.b", ".hidden"} {
			ok, err := store.Has("user", key)
			assert.Nil(err)
			assert.False(ok)
			assert.ErrorIs(store.Load("user", key, &record{}), ErrNotFound)
			assert.ErrorIs(store.Save("user", key, &record{}), ErrInvalidKey)
			assert.ErrorIs(store.Insert("user", key, &record{}), ErrInvalidKey)
			assert.Nil(store.Delete("user", key))
		}
		assert.ErrorIs(store.Save("../user", "u1", &record{}), ErrInvalidKey)
		_, err := store.FindOne("user", "handle') or 1=1 --", "x")
		assert.ErrorIs(err, ErrInvalidKey)
	})
}

func TestOpen(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	for _, kind := range []string{KindFile, KindSQLite, KindMemory} {
		store, err := Open(kind, dir)
		assert.Nil(err, kind)
		if assert.NotNil(store, kind) {
			assert.Nil(store.Save("site", "settings", map[string]bool{"register": true}))
			assert.Nil(store.Close())
		}
	}

	_, err := Open("redis", dir)
	assert.Error(err)
}
