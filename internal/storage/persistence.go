// Package storage provides durable, machine-local state persistence under
// the Quill home directory.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is a file-backed key-value store. Each key maps to a JSON document
// under <home>/state/<key>.json.
//
// This data never leaves the machine; it can contain state the server has
// not yet been told about (e.g. optimistic read markers).
type Store struct {
	dir string
}

// New creates a Store rooted at home, creating the state directory if
// needed.
func New(home string) (*Store, error) {
	if strings.TrimSpace(home) == "" {
		return nil, fmt.Errorf("missing home directory")
	}
	dir := filepath.Join(home, "state")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save marshals value and writes it under key. The write is atomic: a
// temporary file is written first and then renamed over the target.
func (s *Store) Save(key string, value any) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads the value stored under key into out.
//
// ok is false when no entry exists.
func (s *Store) Load(key string, out any) (ok bool, err error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Delete removes the entry stored under key. Deleting a missing key is not
// an error.
func (s *Store) Delete(key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// path returns the absolute file path for a key.
func (s *Store) path(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("missing key")
	}
	// Defensively prevent path traversal if keys ever become untrusted.
	key = strings.ReplaceAll(key, string(os.PathSeparator), "_")
	return filepath.Join(s.dir, key+".json"), nil
}
