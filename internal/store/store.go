// Package store persists attachment bytes under a working directory, keyed
// either by content digest (written once) or by the attachment's filename
// (always overwritten).
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mail-chat-bridge-go/internal/config"
	"mail-chat-bridge-go/internal/models"
)

// Store is a local, single-writer content store
type Store struct {
	dir  string
	mode string
}

// New creates the store directory if needed
func New(dir, mode string) (*Store, error) {
	if mode != config.StoreModeDigest && mode != config.StoreModeFilename {
		return nil, fmt.Errorf("unknown store mode %q", mode)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{dir: dir, mode: mode}, nil
}

// Dir returns the store root
func (s *Store) Dir() string {
	return s.dir
}

// ContentAddressed reports whether keys are digests
func (s *Store) ContentAddressed() bool {
	return s.mode == config.StoreModeDigest
}

// Key returns the file name an attachment is stored under
func (s *Store) Key(filename string, digest models.ContentDigest) string {
	if s.ContentAddressed() {
		return digest.String()
	}
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == ".." || base == "" {
		return digest.String()
	}
	return base
}

// Path returns the absolute location for key
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key)
}

// Put persists the content read from r. In digest mode an existing file is
// left untouched and written is false; in filename mode the file is replaced.
func (s *Store) Put(r io.Reader, filename string, digest models.ContentDigest) (path string, written bool, err error) {
	path = s.Path(s.Key(filename, digest))

	if s.ContentAddressed() {
		if _, statErr := os.Stat(path); statErr == nil {
			return path, false, nil
		} else if !errors.Is(statErr, os.ErrNotExist) {
			return path, false, fmt.Errorf("failed to stat %s: %w", path, statErr)
		}
	}

	tmp, err := os.CreateTemp(s.dir, ".incoming-*")
	if err != nil {
		return path, false, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return path, false, fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return path, false, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return path, false, fmt.Errorf("failed to move attachment into place: %w", err)
	}

	return path, true, nil
}

// Remove deletes a stored file. A missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Digest re-reads a stored file and hashes it
func (s *Store) Digest(path string) (models.ContentDigest, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.ContentDigest{}, err
	}
	defer f.Close()
	return models.DigestOf(f)
}
