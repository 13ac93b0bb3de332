// Package file provides a replica.Store that keeps each durable record in
// its own file under a directory.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/zoobzio/replica"
)

// ErrInvalidKey is returned for keys that do not name a plain file.
var ErrInvalidKey = errors.New("file: invalid key")

// Store maps key to the file dir/key.
type Store struct {
	dir  string
	perm fs.FileMode
}

// Option configures a Store.
type Option func(*Store)

// WithPerm sets the mode of written files. Defaults to 0600.
func WithPerm(perm fs.FileMode) Option {
	return func(s *Store) {
		s.perm = perm
	}
}

// New creates a Store rooted at dir. The directory is created on first write.
func New(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, perm: 0o600}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key), nil
}

// Get implements replica.Store.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, replica.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("file get %s: %w", path, err)
	}
	return data, nil
}

// Set implements replica.Store. The file is replaced atomically so watchers
// never read a partial record.
func (s *Store) Set(_ context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("file set %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".*")
	if err != nil {
		return fmt.Errorf("file set %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("file set %s: %w", path, err)
	}
	if err := tmp.Chmod(s.perm); err != nil {
		tmp.Close()
		return fmt.Errorf("file set %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file set %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("file set %s: %w", path, err)
	}
	return nil
}

// Watch implements replica.Store. The directory is watched rather than the
// file so records created or replaced later are observed. The current
// contents are emitted immediately when the file exists.
func (s *Store) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("file watch %s: %w", s.dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", s.dir, err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer watcher.Close()

		var last []byte
		emit := func() bool {
			data, err := os.ReadFile(path)
			if err != nil || len(data) == 0 || (last != nil && bytes.Equal(last, data)) {
				return true
			}
			last = data
			select {
			case out <- data:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				// Only emit on write or create events
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if !emit() {
					return
				}

			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				// Continue watching despite errors
			}
		}
	}()

	return out, nil
}

// Ensure Store implements replica.Store.
var _ replica.Store = (*Store)(nil)
