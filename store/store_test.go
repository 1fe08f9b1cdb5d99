package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookbot "github.com/opd-ai/bookbot/src"
)

// flakyKV fails writes while failing is set and reads while readFailing
// is set.
type flakyKV struct {
	*MemoryKV
	failing     atomic.Bool
	readFailing atomic.Bool
}

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.readFailing.Load() {
		return nil, errors.New("connection reset by peer")
	}
	return f.MemoryKV.Get(ctx, key)
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	if f.failing.Load() {
		return errors.New("disk full")
	}
	return f.MemoryKV.Set(ctx, key, value)
}

func newBook(id, userID string) *bookbot.BookProject {
	p := bookbot.NewProject(id, userID, bookbot.BookSession{Goal: "Learn " + id}, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	p.Modules = []bookbot.Module{{Title: "One", Status: bookbot.ModulePending}}
	return p
}

func TestKVBackends(t *testing.T) {
	ctx := context.Background()
	fileKV, err := NewFileKV(t.TempDir())
	require.NoError(t, err)
	sqliteKV, err := NewSQLiteKV(filepath.Join(t.TempDir(), "bookbot.db"))
	require.NoError(t, err)
	defer sqliteKV.Close()

	backends := map[string]KV{
		"memory": NewMemoryKV(),
		"file":   fileKV,
		"sqlite": sqliteKV,
	}
	for name, kv := range backends {
		t.Run(name, func(t *testing.T) {
			_, err := kv.Get(ctx, "books:alice")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, kv.Set(ctx, "books:alice", []byte(`[1]`)))
			require.NoError(t, kv.Set(ctx, "books:alice", []byte(`[2]`)))
			require.NoError(t, kv.Set(ctx, "books", []byte(`[]`)))
			require.NoError(t, kv.Set(ctx, "settings", []byte(`{}`)))

			v, err := kv.Get(ctx, "books:alice")
			require.NoError(t, err)
			assert.Equal(t, `[2]`, string(v))

			keys, err := kv.Keys(ctx, "books")
			require.NoError(t, err)
			assert.Equal(t, []string{"books", "books:alice"}, keys)

			require.NoError(t, kv.Delete(ctx, "books:alice"))
			require.NoError(t, kv.Delete(ctx, "books:alice"))
			_, err = kv.Get(ctx, "books:alice")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSaveBookIsIdempotent(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := New(kv, nil)
	p := newBook("b1", "")

	require.NoError(t, s.SaveBook(ctx, p))
	first, err := kv.Get(ctx, "books")
	require.NoError(t, err)
	require.NoError(t, s.SaveBook(ctx, p))
	second, err := kv.Get(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	p.Modules[0].Status = bookbot.ModuleCompleted
	require.NoError(t, s.SaveBook(ctx, p))
	books := s.Books(ctx, "")
	require.Len(t, books, 1)
	assert.Equal(t, bookbot.ModuleCompleted, books[0].Modules[0].Status)
}

func TestBookLookupAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryKV(), nil)
	require.NoError(t, s.SaveBook(ctx, newBook("b1", "")))
	require.NoError(t, s.SaveBook(ctx, newBook("b2", "")))
	require.NoError(t, s.SaveBookmark(ctx, bookbot.ReadingBookmark{BookID: "b1", ModuleIndex: 3}))

	got, err := s.Book(ctx, "", "b1")
	require.NoError(t, err)
	assert.Equal(t, "Learn b1", got.Session.Goal)

	mark, ok := s.Bookmark(ctx, "b1")
	require.True(t, ok)
	assert.Equal(t, 3, mark.ModuleIndex)
	assert.False(t, mark.LastRead.IsZero())

	require.NoError(t, s.DeleteBook(ctx, "", "b1"))
	_, err = s.Book(ctx, "", "b1")
	assert.ErrorIs(t, err, ErrBookNotFound)
	_, ok = s.Bookmark(ctx, "b1")
	assert.False(t, ok)
	assert.ErrorIs(t, s.DeleteBook(ctx, "", "b1"), ErrBookNotFound)
	assert.Len(t, s.Books(ctx, ""), 1)
}

func TestSettingsCoercion(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := New(kv, nil)

	defaults := s.Settings(ctx)
	assert.Equal(t, bookbot.DefaultSettings(), defaults)

	require.NoError(t, kv.Set(ctx, "settings", []byte(`{"selectedProvider":"acme","selectedModel":"x","apiKeys":{"openai":"k"}}`)))
	got := s.Settings(ctx)
	assert.Equal(t, "anthropic", got.SelectedProvider)
	assert.Equal(t, "claude-3-5-sonnet-latest", got.SelectedModel)
	assert.Equal(t, "k", got.APIKeys["openai"])

	require.NoError(t, kv.Set(ctx, "settings", []byte(`not json`)))
	assert.Equal(t, bookbot.DefaultSettings(), s.Settings(ctx))
}

func TestDegradedWriteStaysReadable(t *testing.T) {
	ctx := context.Background()
	kv := &flakyKV{MemoryKV: NewMemoryKV()}
	s := New(kv, nil)

	kv.failing.Store(true)
	err := s.SaveBook(ctx, newBook("b1", ""))
	assert.ErrorIs(t, err, ErrDegraded)
	assert.True(t, s.Degraded())

	books := s.Books(ctx, "")
	require.Len(t, books, 1)
	assert.Equal(t, "b1", books[0].ID)

	kv.failing.Store(false)
	require.NoError(t, s.SaveBook(ctx, newBook("b2", "")))
	assert.False(t, s.Degraded())
	assert.Len(t, s.Books(ctx, ""), 2)
}

func TestAnonymousBooksMigrateOnce(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := New(kv, nil)
	require.NoError(t, s.SaveBook(ctx, newBook("anon-1", "")))

	books := s.Books(ctx, "alice")
	require.Len(t, books, 1)
	assert.Equal(t, "alice", books[0].UserID)
	assert.Empty(t, s.Books(ctx, ""))

	// anonymous books created after the migration stay anonymous
	require.NoError(t, s.SaveBook(ctx, newBook("anon-2", "")))
	assert.Len(t, s.Books(ctx, "alice"), 1)
	assert.Len(t, s.Books(ctx, ""), 1)

	assert.Len(t, s.Books(ctx, "bob"), 1, "bob migrates the remaining anonymous book")
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := New(kv, nil)
	require.NoError(t, s.SaveBook(ctx, newBook("b1", "")))
	require.NoError(t, s.SaveSettings(ctx, bookbot.DefaultSettings()))
	require.NoError(t, s.ClearAll(ctx))

	keys, err := kv.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Empty(t, s.Books(ctx, ""))
}

func bookIDs(books []bookbot.BookProject) []string {
	ids := make([]string, len(books))
	for i, b := range books {
		ids[i] = b.ID
	}
	return ids
}

func TestUnreadablePartitionIsNeverOverwritten(t *testing.T) {
	ctx := context.Background()
	kv := &flakyKV{MemoryKV: NewMemoryKV()}
	s := New(kv, nil)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveBook(ctx, newBook(id, "")))
	}
	require.NoError(t, s.SaveBookmark(ctx, bookbot.ReadingBookmark{BookID: "a", ModuleIndex: 2}))
	stored, err := kv.MemoryKV.Get(ctx, "books")
	require.NoError(t, err)

	kv.readFailing.Store(true)
	err = s.SaveBook(ctx, newBook("d", ""))
	assert.ErrorIs(t, err, ErrDegraded)
	assert.True(t, s.Degraded())
	assert.Equal(t, []string{"d"}, bookIDs(s.Books(ctx, "")))

	assert.ErrorIs(t, s.DeleteBook(ctx, "", "a"), ErrUnavailable)
	assert.ErrorIs(t, s.SaveBookmark(ctx, bookbot.ReadingBookmark{BookID: "b"}), ErrUnavailable)

	_, err = s.Import(ctx, "", []byte(`{"version":2,"books":[]}`), ImportMerge)
	assert.ErrorIs(t, err, ErrUnavailable)

	after, err := kv.MemoryKV.Get(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, stored, after)

	kv.readFailing.Store(false)
	assert.Equal(t, []string{"d", "c", "b", "a"}, bookIDs(s.Books(ctx, "")))
	_, ok := s.Bookmark(ctx, "a")
	assert.True(t, ok)

	require.NoError(t, s.SaveBook(ctx, newBook("e", "")))
	assert.False(t, s.Degraded())
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, bookIDs(s.Books(ctx, "")))
}

func TestMigrationWaitsForReadableStorage(t *testing.T) {
	ctx := context.Background()
	kv := &flakyKV{MemoryKV: NewMemoryKV()}
	s := New(kv, nil)
	require.NoError(t, s.SaveBook(ctx, newBook("anon-1", "")))

	kv.readFailing.Store(true)
	assert.Empty(t, s.Books(ctx, "alice"))
	_, err := kv.MemoryKV.Get(ctx, "migrated:alice")
	assert.ErrorIs(t, err, ErrNotFound)

	kv.readFailing.Store(false)
	books := s.Books(ctx, "alice")
	require.Len(t, books, 1)
	assert.Equal(t, "anon-1", books[0].ID)
}
