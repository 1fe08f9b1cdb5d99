package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	bookbot "github.com/opd-ai/bookbot/src"
	"github.com/opd-ai/bookbot/metrics"
)

var (
	// ErrDegraded marks a write the backend rejected; the value is kept in
	// memory and stays readable until the process exits.
	ErrDegraded = errors.New("storage degraded")
	// ErrBookNotFound is returned when no book has the requested id.
	ErrBookNotFound = errors.New("book not found")
	// ErrUnavailable is returned when a stored value cannot be read, so
	// changing it would overwrite data the store cannot see.
	ErrUnavailable = errors.New("storage unavailable")
)

const (
	keySettings  = "settings"
	keyBooks     = "books"
	keyBookmarks = "bookmarks"
	keyMigrated  = "migrated:"
)

func booksKey(userID string) string {
	if userID == "" {
		return keyBooks
	}
	return keyBooks + ":" + userID
}

// Store reads and writes application state through a KV backend.
type Store struct {
	kv  KV
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	overlay map[string][]byte // nil value: deleted
	pending map[string][]bookbot.BookProject

	booksMu sync.Mutex
}

// New wraps kv. A nil logger discards log output.
func New(kv KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		kv:      kv,
		log:     logger.With(slog.String("component", "store")),
		now:     time.Now,
		overlay: make(map[string][]byte),
		pending: make(map[string][]bookbot.BookProject),
	}
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.kv.Close()
}

// Degraded reports whether any write is held only in memory.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.overlay) > 0 || len(s.pending) > 0
}

func (s *Store) reportDegradedLocked() {
	if len(s.overlay) > 0 || len(s.pending) > 0 {
		metrics.StoreDegraded.Set(1)
		return
	}
	metrics.StoreDegraded.Set(0)
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	v, ok := s.overlay[key]
	s.mu.Unlock()
	if ok {
		if v == nil {
			return nil, ErrNotFound
		}
		return v, nil
	}
	return s.kv.Get(ctx, key)
}

func (s *Store) write(ctx context.Context, key string, value []byte) error {
	err := s.kv.Set(ctx, key, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.overlay[key] = value
		s.reportDegradedLocked()
		s.log.Error("write failed, keeping value in memory", slog.String("key", key), slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrDegraded, err)
	}
	delete(s.overlay, key)
	s.reportDegradedLocked()
	return nil
}

func (s *Store) remove(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.overlay[key] = nil
		s.reportDegradedLocked()
		s.log.Error("delete failed, hiding key in memory", slog.String("key", key), slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrDegraded, err)
	}
	delete(s.overlay, key)
	s.reportDegradedLocked()
	return nil
}

// decode reads key into out. A missing key yields ErrNotFound; a backend
// failure or a corrupt value is logged and yields ErrUnavailable.
func (s *Store) decode(ctx context.Context, key string, out any) error {
	data, err := s.read(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		s.log.Warn("read failed", slog.String("key", key), slog.Any("error", err))
		return fmt.Errorf("%w: read %s: %v", ErrUnavailable, key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.log.Warn("stored value is corrupt", slog.String("key", key), slog.Any("error", err))
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *Store) writeJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.write(ctx, key, data)
}

// Settings returns the stored settings merged over the defaults.
func (s *Store) Settings(ctx context.Context) bookbot.APISettings {
	settings, _ := s.loadSettings(ctx)
	return settings
}

func (s *Store) loadSettings(ctx context.Context) (bookbot.APISettings, error) {
	settings := bookbot.DefaultSettings()
	err := s.decode(ctx, keySettings, &settings)
	if err != nil {
		settings = bookbot.DefaultSettings()
	}
	settings.Normalize()
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	return settings, err
}

// SaveSettings normalizes and stores settings.
func (s *Store) SaveSettings(ctx context.Context, settings bookbot.APISettings) error {
	settings.Normalize()
	return s.writeJSON(ctx, keySettings, settings)
}

// Books returns the books of a user partition; "" is the anonymous one.
// The first access of a named partition moves anonymous books into it.
// An unreadable partition shows only the books held in memory.
func (s *Store) Books(ctx context.Context, userID string) []bookbot.BookProject {
	s.booksMu.Lock()
	defer s.booksMu.Unlock()
	if userID != "" {
		s.migrateAnonymous(ctx, userID)
	}
	books, err := s.loadBooks(ctx, userID)
	if err != nil {
		books = []bookbot.BookProject{}
	}
	return s.withPending(booksKey(userID), books)
}

// loadBooks reads a partition. A missing key is an empty partition; any
// other failure is returned so no caller writes over books it never saw.
func (s *Store) loadBooks(ctx context.Context, userID string) ([]bookbot.BookProject, error) {
	var books []bookbot.BookProject
	err := s.decode(ctx, booksKey(userID), &books)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if books == nil {
		books = []bookbot.BookProject{}
	}
	return books, nil
}

// upsert replaces the book with p's id or puts p first.
func upsert(books []bookbot.BookProject, p bookbot.BookProject) []bookbot.BookProject {
	for i := range books {
		if books[i].ID == p.ID {
			books[i] = p
			return books
		}
	}
	return append([]bookbot.BookProject{p}, books...)
}

// stash holds p in memory while its partition cannot be read.
func (s *Store) stash(key string, p bookbot.BookProject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[key] = upsert(s.pending[key], p)
	s.reportDegradedLocked()
}

// withPending lays the stashed books of key over books.
func (s *Store) withPending(key string, books []bookbot.BookProject) []bookbot.BookProject {
	s.mu.Lock()
	pending := append([]bookbot.BookProject(nil), s.pending[key]...)
	s.mu.Unlock()
	for i := len(pending) - 1; i >= 0; i-- {
		books = upsert(books, pending[i])
	}
	return books
}

// writeBooks stores a whole partition. Once the list is written or held in
// the overlay, the stashed books it absorbed are dropped.
func (s *Store) writeBooks(ctx context.Context, key string, books []bookbot.BookProject) error {
	err := s.writeJSON(ctx, key, books)
	if err == nil || errors.Is(err, ErrDegraded) {
		s.mu.Lock()
		delete(s.pending, key)
		s.reportDegradedLocked()
		s.mu.Unlock()
	}
	return err
}

func (s *Store) migrateAnonymous(ctx context.Context, userID string) {
	marker := keyMigrated + userID
	if _, err := s.read(ctx, marker); !errors.Is(err, ErrNotFound) {
		return
	}
	anonymous, err := s.loadBooks(ctx, "")
	if err != nil {
		s.log.Warn("anonymous books unreadable, migration postponed", slog.String("user", userID))
		return
	}
	if len(anonymous) > 0 {
		books, err := s.loadBooks(ctx, userID)
		if err != nil {
			s.log.Warn("user books unreadable, migration postponed", slog.String("user", userID))
			return
		}
		books = s.withPending(booksKey(userID), books)
		seen := make(map[string]bool, len(books))
		for _, b := range books {
			seen[b.ID] = true
		}
		moved := 0
		for _, b := range anonymous {
			if seen[b.ID] {
				continue
			}
			b.UserID = userID
			books = append(books, b)
			moved++
		}
		if err := s.writeBooks(ctx, booksKey(userID), books); err != nil {
			s.log.Error("migrating anonymous books failed", slog.String("user", userID), slog.Any("error", err))
			return
		}
		s.log.Info("migrated anonymous books", slog.String("user", userID), slog.Int("count", moved))
	}
	if err := s.write(ctx, marker, []byte(`true`)); err != nil {
		return
	}
	if len(anonymous) > 0 {
		if err := s.remove(ctx, keyBooks); err != nil {
			s.log.Warn("removing anonymous books failed", slog.Any("error", err))
		}
	}
}

// SaveBooks replaces the whole book list of a partition.
func (s *Store) SaveBooks(ctx context.Context, userID string, books []bookbot.BookProject) error {
	s.booksMu.Lock()
	defer s.booksMu.Unlock()
	if books == nil {
		books = []bookbot.BookProject{}
	}
	return s.writeBooks(ctx, booksKey(userID), books)
}

// Book returns one book of a partition.
func (s *Store) Book(ctx context.Context, userID, id string) (*bookbot.BookProject, error) {
	for _, b := range s.Books(ctx, userID) {
		if b.ID == id {
			book := b
			return &book, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrBookNotFound, id)
}

// SaveBook inserts or replaces p in its owner's partition. It does not touch
// p.UpdatedAt, so saving an unchanged project rewrites identical bytes.
// When the partition cannot be read, p is held in memory and written with
// the next save that can read it.
func (s *Store) SaveBook(ctx context.Context, p *bookbot.BookProject) error {
	s.booksMu.Lock()
	defer s.booksMu.Unlock()
	key := booksKey(p.UserID)
	books, err := s.loadBooks(ctx, p.UserID)
	if err != nil {
		s.stash(key, *p)
		s.log.Error("partition unreadable, keeping book in memory",
			slog.String("key", key), slog.String("book", p.ID), slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrDegraded, err)
	}
	books = upsert(s.withPending(key, books), *p)
	return s.writeBooks(ctx, key, books)
}

// DeleteBook removes a book and its bookmark.
func (s *Store) DeleteBook(ctx context.Context, userID, id string) error {
	s.booksMu.Lock()
	key := booksKey(userID)
	books, err := s.loadBooks(ctx, userID)
	if err != nil {
		s.booksMu.Unlock()
		return err
	}
	books = s.withPending(key, books)
	kept := books[:0]
	found := false
	for _, b := range books {
		if b.ID == id {
			found = true
			continue
		}
		kept = append(kept, b)
	}
	if !found {
		s.booksMu.Unlock()
		return fmt.Errorf("%w: %s", ErrBookNotFound, id)
	}
	err = s.writeBooks(ctx, key, kept)
	s.booksMu.Unlock()
	if err != nil {
		return err
	}
	return s.DeleteBookmark(ctx, id)
}

// mergeBooks appends the books whose ids the partition lacks and reports
// the ids it skipped.
func (s *Store) mergeBooks(ctx context.Context, userID string, in []bookbot.BookProject) (int, []string, error) {
	s.booksMu.Lock()
	defer s.booksMu.Unlock()
	if userID != "" {
		s.migrateAnonymous(ctx, userID)
	}
	key := booksKey(userID)
	books, err := s.loadBooks(ctx, userID)
	if err != nil {
		return 0, nil, err
	}
	books = s.withPending(key, books)
	existing := make(map[string]bool, len(books))
	for _, b := range books {
		existing[b.ID] = true
	}
	added := 0
	var collisions []string
	for _, b := range in {
		if existing[b.ID] {
			collisions = append(collisions, b.ID)
			continue
		}
		existing[b.ID] = true
		books = append(books, b)
		added++
	}
	return added, collisions, s.writeBooks(ctx, key, books)
}

func (s *Store) bookmarks(ctx context.Context) (map[string]bookbot.ReadingBookmark, error) {
	marks := map[string]bookbot.ReadingBookmark{}
	err := s.decode(ctx, keyBookmarks, &marks)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return map[string]bookbot.ReadingBookmark{}, err
	}
	if marks == nil {
		marks = map[string]bookbot.ReadingBookmark{}
	}
	return marks, nil
}

// Bookmark returns the reading position for a book.
func (s *Store) Bookmark(ctx context.Context, bookID string) (bookbot.ReadingBookmark, bool) {
	marks, _ := s.bookmarks(ctx)
	b, ok := marks[bookID]
	return b, ok
}

// SaveBookmark stores a reading position, stamping LastRead when unset.
func (s *Store) SaveBookmark(ctx context.Context, b bookbot.ReadingBookmark) error {
	if b.BookID == "" {
		return fmt.Errorf("bookmark without book id")
	}
	if b.LastRead.IsZero() {
		b.LastRead = s.now().UTC()
	}
	s.booksMu.Lock()
	defer s.booksMu.Unlock()
	marks, err := s.bookmarks(ctx)
	if err != nil {
		return err
	}
	marks[b.BookID] = b
	return s.writeJSON(ctx, keyBookmarks, marks)
}

// DeleteBookmark forgets the reading position for a book.
func (s *Store) DeleteBookmark(ctx context.Context, bookID string) error {
	s.booksMu.Lock()
	defer s.booksMu.Unlock()
	marks, err := s.bookmarks(ctx)
	if err != nil {
		return err
	}
	if _, ok := marks[bookID]; !ok {
		return nil
	}
	delete(marks, bookID)
	return s.writeJSON(ctx, keyBookmarks, marks)
}

// ClearAll deletes every stored key.
func (s *Store) ClearAll(ctx context.Context) error {
	s.booksMu.Lock()
	defer s.booksMu.Unlock()
	keys, err := s.kv.Keys(ctx, "")
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	var errs []error
	for _, k := range keys {
		if err := s.kv.Delete(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	s.mu.Lock()
	s.overlay = make(map[string][]byte)
	s.pending = make(map[string][]bookbot.BookProject)
	metrics.StoreDegraded.Set(0)
	s.mu.Unlock()
	return errors.Join(errs...)
}
