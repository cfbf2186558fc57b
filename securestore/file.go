package securestore

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// document is the on-disk layout of a FileStore. []byte values are
// base64-encoded by encoding/json.
type document struct {
	Items map[string][]byte `json:"items"`
}

// FileStore keeps all values in a single JSON file. Writes hold a
// cross-process lock and replace the file atomically, so several processes
// can share one file without losing each other's keys.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex // serializes writers inside this process
}

// NewFileStore returns a store backed by the file at path. The file is
// created on first Put.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "read store file")
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "parse %s: %v", s.path, err)
	}

	v, ok := doc.Items[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *FileStore) Put(key string, value []byte) error {
	return s.update(func(items map[string][]byte) bool {
		delete(items, key)
		items[key] = value
		return true
	})
}

func (s *FileStore) Delete(key string) error {
	return s.update(func(items map[string][]byte) bool {
		if _, ok := items[key]; !ok {
			return false
		}
		delete(items, key)
		return true
	})
}

// update runs fn over the current items under both locks and writes the
// result back if fn reports a change. An empty store removes the file.
func (s *FileStore) update(fn func(items map[string][]byte) bool) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := lockFile(s.path)
	if err != nil {
		return errors.Wrap(err, "acquire store lock")
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			s.logger.Warn("failed to release store lock", "path", s.path, "error", releaseErr)
		}
	}()

	items := s.readItems()
	if !fn(items) {
		return nil
	}

	if len(items) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "remove empty store file")
		}
		return nil
	}

	return s.writeAtomic(document{Items: items})
}

// readItems loads the current document; a missing or unreadable file yields
// an empty map so that a corrupt file is replaced on the next write.
func (s *FileStore) readItems() map[string][]byte {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return make(map[string][]byte)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("store file is corrupt, starting empty", "path", s.path, "error", err)
		return make(map[string][]byte)
	}
	if doc.Items == nil {
		doc.Items = make(map[string][]byte)
	}
	return doc.Items
}

func (s *FileStore) writeAtomic(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode store file")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		if removeErr := os.Remove(tmp); removeErr != nil {
			return errors.Wrapf(err, "rename temp file (cleanup also failed: %v)", removeErr)
		}
		return errors.Wrap(err, "rename temp file")
	}
	return nil
}
