package dedupe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/bakkerme/listing-notifier/internal/core"
)

const badgerKeyPrefix = "seen/"

// BadgerStore keeps seen identifiers as keys of the form seen/<query>/<listing>.
// Each Save runs in a single badger transaction.
type BadgerStore struct {
	db   *badger.DB
	path string
	ttl  time.Duration
}

func NewBadgerStore(path string, ttl time.Duration) (*BadgerStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("badger path is required")
	}
	if ttl < 0 {
		return nil, fmt.Errorf("badger ttl must be >= 0")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &BadgerStore{db: db, path: path, ttl: ttl}, nil
}

func (b *BadgerStore) Load(ctx context.Context, queryID string) (*Set, error) {
	if err := ValidateQueryID(queryID); err != nil {
		return nil, err
	}
	prefix := []byte(badgerKeyPrefix + queryID + "/")
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			if id == "" {
				return fmt.Errorf("empty listing id under %s", prefix)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &core.StoreCorruptError{QueryID: queryID, Path: b.path, Err: err}
	}
	return NewSet(ids...), nil
}

// Save writes identifiers missing from the database. Existing keys keep their
// original expiry.
func (b *BadgerStore) Save(ctx context.Context, queryID string, set *Set) error {
	if err := ValidateQueryID(queryID); err != nil {
		return err
	}
	now := []byte(time.Now().UTC().Format(time.RFC3339))
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, id := range set.IDs() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := []byte(badgerKeyPrefix + queryID + "/" + id)
			if _, err := txn.Get(key); err == nil {
				continue
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			entry := badger.NewEntry(key, now)
			if b.ttl > 0 {
				entry = entry.WithTTL(b.ttl)
			}
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save seen set: %w", err)
	}
	return nil
}

func (b *BadgerStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
