// Package credentials persists the key/value state the push endpoint is built
// from (auth token, selected project) in a JSON file.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/phlexileads/pushchannel/debug"
)

// Store is a JSON object file of string values. Every read goes to disk, so
// values written by another process are seen on the next Lookup.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open returns a store backed by path. The file is created on first write.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("credentials: path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: resolve %q: %w", path, err)
	}
	return &Store{path: filepath.Clean(abs)}, nil
}

func (s *Store) Path() string {
	return s.path
}

// Lookup implements socket.Credentials. Read errors are logged and reported
// as a missing key.
func (s *Store) Lookup(key string) (string, bool) {
	values, err := s.All()
	if err != nil {
		debug.Logger().Warn("credentials: read failed", "path", s.path, "err", err)
		return "", false
	}
	v, ok := values[key]
	return v, ok
}

// All returns every stored value. A missing file is empty.
func (s *Store) All() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.readLocked()
	if err != nil {
		return err
	}
	values[key] = value
	return s.writeLocked(values)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.readLocked()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.writeLocked(values)
}

func (s *Store) readLocked() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: read %q: %w", s.path, err)
	}

	values := map[string]string{}
	if len(raw) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("credentials: decode %q: %w", s.path, err)
	}
	return values, nil
}

// writeLocked atomically replaces the file contents.
func (s *Store) writeLocked(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: encode: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %q: %w", s.path, err)
	}
	tempPath := tempFile.Name()
	defer func() {
		os.Remove(tempPath)
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write temp file for %q: %w", s.path, err)
	}
	// Holds a bearer token.
	if err := tempFile.Chmod(0o600); err != nil {
		tempFile.Close()
		return fmt.Errorf("chmod temp file for %q: %w", s.path, err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file for %q: %w", s.path, err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("replace file %q: %w", s.path, err)
	}
	return nil
}
