package dedupe

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bakkerme/listing-notifier/internal/core"
)

func TestSetWithDoesNotModifyReceiver(t *testing.T) {
	base := NewSet("a", "b")
	grown := base.With("c", "a", "")

	if base.Len() != 2 || base.Has("c") {
		t.Fatalf("expected base set to be unchanged, got %v", base.IDs())
	}
	if got := strings.Join(grown.IDs(), ","); got != "a,b,c" {
		t.Fatalf("unexpected ids %q", got)
	}
	if !grown.Equal(NewSet("c", "b", "a")) {
		t.Fatalf("expected equal sets")
	}
}

func TestNilSetIsEmpty(t *testing.T) {
	var s *Set
	if s.Has("x") || s.Len() != 0 {
		t.Fatalf("expected nil set to be empty")
	}
	if !s.Equal(NewSet()) {
		t.Fatalf("expected nil set to equal empty set")
	}
	if got := s.With("x"); !got.Has("x") {
		t.Fatalf("expected With on nil set to work")
	}
}

func TestValidateQueryID(t *testing.T) {
	for _, id := range []string{"bikes", "q-1", "job_2.old"} {
		if err := ValidateQueryID(id); err != nil {
			t.Fatalf("expected %q to be valid: %v", id, err)
		}
	}
	for _, id := range []string{"", "../etc", "a/b", ".hidden"} {
		if err := ValidateQueryID(id); err == nil {
			t.Fatalf("expected %q to be rejected", id)
		}
	}
}

func newFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "data")
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("failed to init file store: %v", err)
	}
	return store, dir
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, _ := newFileStore(t)
	ctx := context.Background()

	empty, err := store.Load(ctx, "bikes")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if empty.Len() != 0 {
		t.Fatalf("expected empty set for a new query")
	}

	if err := store.Save(ctx, "bikes", NewSet("abc123", "def456")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := store.Load(ctx, "bikes")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !loaded.Equal(NewSet("abc123", "def456")) {
		t.Fatalf("unexpected ids %v", loaded.IDs())
	}
}

func TestFileStoreReadsLegacyDocument(t *testing.T) {
	store, dir := newFileStore(t)
	legacy := `{"ads": ["111", "222"], "extra": {"ignored": true}}`
	if err := os.WriteFile(filepath.Join(dir, "sofa.json"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	loaded, err := store.Load(context.Background(), "sofa")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !loaded.Equal(NewSet("111", "222")) {
		t.Fatalf("unexpected ids %v", loaded.IDs())
	}
}

func TestFileStoreReportsCorruptDocument(t *testing.T) {
	store, dir := newFileStore(t)
	if err := os.WriteFile(filepath.Join(dir, "bikes.json"), []byte(`{"ads": [`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	_, err := store.Load(context.Background(), "bikes")
	if !core.IsStoreCorrupt(err) {
		t.Fatalf("expected store corrupt error, got %v", err)
	}
	var corrupt *core.StoreCorruptError
	if !errors.As(err, &corrupt) || corrupt.QueryID != "bikes" {
		t.Fatalf("expected query id on corrupt error, got %v", err)
	}
}

func TestFileStoreIgnoresLeftoverTempFiles(t *testing.T) {
	store, dir := newFileStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, "bikes", NewSet("abc123")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	partial := filepath.Join(dir, ".bikes.json.tmp-123")
	if err := os.WriteFile(partial, []byte(`{"ads": ["abc1`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	loaded, err := store.Load(ctx, "bikes")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !loaded.Equal(NewSet("abc123")) {
		t.Fatalf("expected previous state, got %v", loaded.IDs())
	}
}

func TestFileStoreKeepsPreviousStateWhenSaveIsInterrupted(t *testing.T) {
	store, dir := newFileStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, "bikes", NewSet("abc123")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	renameFile = func(string, string) error { return errors.New("simulated crash") }
	t.Cleanup(func() { renameFile = os.Rename })

	if err := store.Save(ctx, "bikes", NewSet("abc123", "def456")); err == nil {
		t.Fatalf("expected interrupted save to fail")
	}
	loaded, err := store.Load(ctx, "bikes")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !loaded.Equal(NewSet("abc123")) {
		t.Fatalf("expected previous state, got %v", loaded.IDs())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp-") {
			t.Fatalf("expected temp file to be removed, found %s", entry.Name())
		}
	}
}

func TestFileStoreRejectsUnsafeQueryIDs(t *testing.T) {
	store, _ := newFileStore(t)
	if err := store.Save(context.Background(), "../escape", NewSet("x")); err == nil {
		t.Fatalf("expected unsafe query id to be rejected")
	}
}

func TestSQLiteStoreRoundTripPerQuery(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "seen.db")
	store, err := NewSQLiteStore(dbPath, "", 0)
	if err != nil {
		t.Fatalf("failed to init sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	if err := store.Save(ctx, "bikes", NewSet("a", "b")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Save(ctx, "sofas", NewSet("c")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Save(ctx, "bikes", NewSet("a", "b", "d")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	bikes, err := store.Load(ctx, "bikes")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !bikes.Equal(NewSet("a", "b", "d")) {
		t.Fatalf("unexpected bikes ids %v", bikes.IDs())
	}
	sofas, err := store.Load(ctx, "sofas")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !sofas.Equal(NewSet("c")) {
		t.Fatalf("unexpected sofas ids %v", sofas.IDs())
	}
}

func TestSQLiteStoreHonorsTTL(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "seen.db")
	store, err := NewSQLiteStore(dbPath, "", time.Hour)
	if err != nil {
		t.Fatalf("failed to init sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	clock := time.Date(2024, 7, 18, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	ctx := context.Background()

	if err := store.Save(ctx, "bikes", NewSet("ttl-id")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	clock = clock.Add(30 * time.Minute)
	if err := store.Save(ctx, "bikes", NewSet("ttl-id", "fresh-id")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	clock = clock.Add(45 * time.Minute)
	loaded, err := store.Load(ctx, "bikes")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Has("ttl-id") {
		t.Fatalf("expected id to expire from its first seen_at")
	}
	if !loaded.Has("fresh-id") {
		t.Fatalf("expected fresh id to survive, got %v", loaded.IDs())
	}
}

func TestSQLiteStoreResavesExpiredIDs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "seen.db")
	store, err := NewSQLiteStore(dbPath, "", time.Hour)
	if err != nil {
		t.Fatalf("failed to init sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	clock := time.Date(2024, 7, 18, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	ctx := context.Background()

	if err := store.Save(ctx, "bikes", NewSet("x")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	clock = clock.Add(2 * time.Hour)
	loaded, err := store.Load(ctx, "bikes")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Len() != 0 {
		t.Fatalf("expected expired set, got %v", loaded.IDs())
	}

	if err := store.Save(ctx, "bikes", loaded.With("x")); err != nil {
		t.Fatalf("re-save failed: %v", err)
	}
	loaded, err = store.Load(ctx, "bikes")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !loaded.Equal(NewSet("x")) {
		t.Fatalf("expected re-saved id x, got %v", loaded.IDs())
	}

	// A fresh Save with the same id keeps the re-saved seen_at.
	clock = clock.Add(30 * time.Minute)
	if err := store.Save(ctx, "bikes", loaded); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	clock = clock.Add(45 * time.Minute)
	loaded, err = store.Load(ctx, "bikes")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Len() != 0 {
		t.Fatalf("expected id to expire an hour after re-save, got %v", loaded.IDs())
	}
}

func writeGarbage(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, bytes.Repeat([]byte("garbage!"), 128), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func TestSQLiteStoreRecoversCorruptFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "seen.db")
	writeGarbage(t, dbPath)

	store, err := NewSQLiteStore(dbPath, "", 0)
	if err != nil {
		t.Fatalf("expected corrupt file to be recovered, got %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	aside := store.Recovered()
	if !strings.HasPrefix(aside, dbPath+".corrupt-") {
		t.Fatalf("unexpected recovery path %q", aside)
	}
	if _, err := os.Stat(aside); err != nil {
		t.Fatalf("expected damaged file to be kept: %v", err)
	}

	ctx := context.Background()
	loaded, err := store.Load(ctx, "bikes")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Len() != 0 {
		t.Fatalf("expected empty set, got %v", loaded.IDs())
	}
	if err := store.Save(ctx, "bikes", NewSet("a")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
}

func TestSQLiteStoreHealthyFileIsNotRecovered(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "seen.db"), "", 0)
	if err != nil {
		t.Fatalf("failed to init sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if store.Recovered() != "" {
		t.Fatalf("expected no recovery, got %q", store.Recovered())
	}
}

func TestSQLiteStoreLoadReportsCorruptDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "seen.db")
	writeGarbage(t, dbPath)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store := &SQLiteStore{db: db, dsn: dbPath, table: defaultSQLiteTable, tableIdent: `"seen_listings"`, now: time.Now}
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Load(context.Background(), "bikes")
	if !core.IsStoreCorrupt(err) {
		t.Fatalf("expected store corrupt error, got %v", err)
	}
}

func TestSQLiteClassify(t *testing.T) {
	store := &SQLiteStore{dsn: "seen.db"}
	if err := store.classify("bikes", errors.New("database disk image is malformed (11)")); !core.IsStoreCorrupt(err) {
		t.Fatalf("expected malformed image to be corrupt, got %v", err)
	}
	if err := store.classify("bikes", errors.New("database is locked (5)")); core.IsStoreCorrupt(err) {
		t.Fatalf("expected locked database to stay a plain error")
	}
}

func TestSQLiteStoreRejectsBadTableName(t *testing.T) {
	if _, err := NewSQLiteStore(filepath.Join(t.TempDir(), "seen.db"), "drop table;", 0); err == nil {
		t.Fatalf("expected invalid table name to be rejected")
	}
}

func TestBadgerStoreRoundTripPerQuery(t *testing.T) {
	store, err := NewBadgerStore(filepath.Join(t.TempDir(), "badger"), 0)
	if err != nil {
		t.Fatalf("failed to init badger store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	if err := store.Save(ctx, "bikes", NewSet("abc123", "def456")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Save(ctx, "bikes2", NewSet("zzz")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "bikes")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !loaded.Equal(NewSet("abc123", "def456")) {
		t.Fatalf("unexpected ids %v", loaded.IDs())
	}
	empty, err := store.Load(ctx, "unknown")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if empty.Len() != 0 {
		t.Fatalf("expected empty set, got %v", empty.IDs())
	}
}

func TestBadgerStoreExpiresAndResaves(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for badger expiry")
	}
	store, err := NewBadgerStore(filepath.Join(t.TempDir(), "badger"), time.Second)
	if err != nil {
		t.Fatalf("failed to init badger store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	if err := store.Save(ctx, "bikes", NewSet("x")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := store.Load(ctx, "bikes")
	if err != nil || !loaded.Has("x") {
		t.Fatalf("expected x before expiry, got %v (%v)", loaded.IDs(), err)
	}

	// Badger expiry has one-second resolution.
	time.Sleep(2500 * time.Millisecond)
	loaded, err = store.Load(ctx, "bikes")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Len() != 0 {
		t.Fatalf("expected x to expire, got %v", loaded.IDs())
	}

	if err := store.Save(ctx, "bikes", loaded.With("x")); err != nil {
		t.Fatalf("re-save failed: %v", err)
	}
	loaded, err = store.Load(ctx, "bikes")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !loaded.Equal(NewSet("x")) {
		t.Fatalf("expected re-saved id x, got %v", loaded.IDs())
	}
}
