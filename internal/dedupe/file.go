package dedupe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bakkerme/listing-notifier/internal/core"
)

// fileDocument is the on-disk layout of one query's seen set. The "ads" key
// matches the layout used by earlier versions of the tool; unknown fields are
// ignored on load.
type fileDocument struct {
	Ads       []string  `json:"ads"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// FileStore keeps one JSON document per query under dir.
type FileStore struct {
	dir string
}

// renameFile is swapped in tests to simulate a crash before the final rename.
var renameFile = os.Rename

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	probe, err := os.CreateTemp(dir, ".write-probe-*")
	if err != nil {
		return nil, fmt.Errorf("data directory %s is not writable: %w", dir, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Path(queryID string) string {
	return filepath.Join(s.dir, queryID+".json")
}

func (s *FileStore) Load(ctx context.Context, queryID string) (*Set, error) {
	_ = ctx
	if err := ValidateQueryID(queryID); err != nil {
		return nil, err
	}
	path := s.Path(queryID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewSet(), nil
		}
		return nil, fmt.Errorf("read seen set: %w", err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &core.StoreCorruptError{QueryID: queryID, Path: path, Err: err}
	}
	return NewSet(doc.Ads...), nil
}

// Save writes the set to a temporary file in the same directory, syncs it and
// renames it over the previous document.
func (s *FileStore) Save(ctx context.Context, queryID string, set *Set) error {
	_ = ctx
	if err := ValidateQueryID(queryID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(fileDocument{Ads: set.IDs(), UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal seen set: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+queryID+".json.tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := renameFile(tmpName, s.Path(queryID)); err != nil {
		return fmt.Errorf("replace seen set: %w", err)
	}
	committed = true
	syncDir(s.dir)
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

// syncDir persists the rename on filesystems that need it. Errors are ignored
// since some platforms cannot fsync directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
