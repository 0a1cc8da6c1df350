package dedupe

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bakkerme/listing-notifier/internal/core"

	_ "modernc.org/sqlite"
)

const (
	defaultSQLiteTable = "seen_listings"
)

// SQLiteStore keeps every query's seen set in one table keyed by
// (query_id, listing_id). seen_at holds unix nanoseconds. A positive ttl
// drops identifiers older than ttl.
type SQLiteStore struct {
	db         *sql.DB
	dsn        string
	table      string
	tableIdent string
	ttl        time.Duration
	now        func() time.Time
	recovered  string
}

func NewSQLiteStore(dsn string, table string, ttl time.Duration) (*SQLiteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	if ttl < 0 {
		return nil, fmt.Errorf("sqlite ttl must be >= 0")
	}
	if table == "" {
		table = defaultSQLiteTable
	}
	tableIdent, err := quoteSQLiteIdentifier(table)
	if err != nil {
		return nil, err
	}
	if err := ensureSQLiteDir(dsn); err != nil {
		return nil, err
	}
	store := &SQLiteStore{
		dsn:        dsn,
		table:      table,
		tableIdent: tableIdent,
		ttl:        ttl,
		now:        time.Now,
	}
	err = store.open()
	if err != nil && isSQLiteCorrupt(err) {
		// Move the damaged file aside and start over with an empty database.
		path := sqliteFilePath(dsn)
		if path == "" {
			return nil, err
		}
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if rerr := os.Rename(path, aside); rerr != nil {
			return nil, fmt.Errorf("%w (move aside: %v)", err, rerr)
		}
		for _, suffix := range []string{"-wal", "-shm", "-journal"} {
			_ = os.Remove(path + suffix)
		}
		store.recovered = aside
		err = store.open()
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) open() error {
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db = db
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Recovered returns where a damaged database file was moved to when the store
// was opened, or "" when the file was healthy.
func (s *SQLiteStore) Recovered() string {
	return s.recovered
}

func (s *SQLiteStore) Load(ctx context.Context, queryID string) (*Set, error) {
	if err := ValidateQueryID(queryID); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT listing_id FROM %s WHERE query_id = ?", s.tableIdent)
	args := []any{queryID}
	if s.ttl > 0 {
		query += " AND seen_at >= ?"
		args = append(args, s.now().Add(-s.ttl).UnixNano())
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify(queryID, fmt.Errorf("query seen listings: %w", err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.classify(queryID, fmt.Errorf("scan seen listing: %w", err))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(queryID, err)
	}
	return NewSet(ids...), nil
}

// Save prunes expired rows and then inserts identifiers that are not stored
// yet, in one transaction. Rows that survive the prune keep their original
// seen_at; expired identifiers present in set are stored again with a fresh one.
func (s *SQLiteStore) Save(ctx context.Context, queryID string, set *Set) error {
	if err := ValidateQueryID(queryID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := s.now()
	if s.ttl > 0 {
		prune := fmt.Sprintf("DELETE FROM %s WHERE query_id = ? AND seen_at < ?", s.tableIdent)
		if _, err := tx.ExecContext(ctx, prune, queryID, now.Add(-s.ttl).UnixNano()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("prune seen listings: %w", err)
		}
	}
	stmt, err := tx.PrepareContext(
		ctx,
		fmt.Sprintf("INSERT INTO %s (query_id, listing_id, seen_at) VALUES (?, ?, ?) ON CONFLICT(query_id, listing_id) DO NOTHING", s.tableIdent),
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, id := range set.IDs() {
		if _, err := stmt.ExecContext(ctx, queryID, id, now.UnixNano()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert seen listing: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	if s.table == "" {
		return fmt.Errorf("sqlite table name is required")
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		query_id TEXT NOT NULL,
		listing_id TEXT NOT NULL,
		seen_at INTEGER NOT NULL,
		PRIMARY KEY (query_id, listing_id)
	)`, s.tableIdent)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create sqlite table: %w", err)
	}
	index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_seen_at_idx ON %s (query_id, seen_at)", s.table, s.tableIdent)
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create sqlite index: %w", err)
	}
	return nil
}

// classify reports damaged database files as *core.StoreCorruptError so the
// caller can fall back to an empty set.
func (s *SQLiteStore) classify(queryID string, err error) error {
	if isSQLiteCorrupt(err) {
		return &core.StoreCorruptError{QueryID: queryID, Path: s.dsn, Err: err}
	}
	return err
}

func isSQLiteCorrupt(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database")
}

// sqliteFilePath returns the file behind dsn, or "" for in-memory databases.
func sqliteFilePath(dsn string) string {
	if strings.HasPrefix(dsn, "file:") {
		dsn = strings.TrimPrefix(dsn, "file:")
		if idx := strings.IndexRune(dsn, '?'); idx >= 0 {
			dsn = dsn[:idx]
		}
	}
	if dsn == ":memory:" {
		return ""
	}
	return dsn
}

func ensureSQLiteDir(dsn string) error {
	dsn = sqliteFilePath(dsn)
	if dsn == "" {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

var sqliteIdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteSQLiteIdentifier(identifier string) (string, error) {
	if identifier == "" {
		return "", fmt.Errorf("sqlite table name is required")
	}
	if !sqliteIdentifierPattern.MatchString(identifier) {
		return "", fmt.Errorf("sqlite table name %q must match %s", identifier, sqliteIdentifierPattern.String())
	}
	return `"` + identifier + `"`, nil
}
