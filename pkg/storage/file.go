package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend implements Backend using one JSON file per record.
// Storage layout:
//
//	~/.snowcode/storage/
//	  └── session/<project-id>/<session-id>.json
//	  └── message/<session-id>/<message-id>.json
//	  └── part/<message-id>/<part-id>.json
//	  └── share/<session-id>.json
type FileBackend struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileBackend creates a new file-based storage backend.
// If baseDir is empty, uses ~/.snowcode/storage.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".snowcode", "storage")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileBackend{baseDir: baseDir}, nil
}

// filePath maps a key path to a file under the base directory. The last
// segment becomes the file name; path segments are validated by the caller.
func (f *FileBackend) filePath(path []string) string {
	parts := append([]string{f.baseDir}, path...)
	return filepath.Join(parts...) + ".json"
}

// Read retrieves the raw record at path.
func (f *FileBackend) Read(ctx context.Context, path []string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrClosed
	}
	if err := validatePath(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.filePath(path)) // #nosec G304 - segments validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	return data, nil
}

// Write creates or replaces the record at path.
func (f *FileBackend) Write(ctx context.Context, path []string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := validatePath(path); err != nil {
		return err
	}
	return f.writeLocked(path, data)
}

func (f *FileBackend) writeLocked(path []string, data []byte) error {
	target := f.filePath(path)
	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return fmt.Errorf("create record directory: %w", err)
	}

	// Write-then-rename so a crash mid-write never leaves a truncated
	// record behind.
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil { // #nosec G304 - segments validated to prevent traversal
		return fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

// Remove deletes the record at path.
func (f *FileBackend) Remove(ctx context.Context, path []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := validatePath(path); err != nil {
		return err
	}

	if err := os.Remove(f.filePath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove record: %w", err)
	}
	return nil
}

// List returns the key paths of all records under prefix.
func (f *FileBackend) List(ctx context.Context, prefix []string) ([][]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrClosed
	}
	if err := validatePath(prefix); err != nil {
		return nil, err
	}

	parts := append([]string{f.baseDir}, prefix...)
	root := filepath.Join(parts...)

	var paths [][]string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".json") {
			return nil
		}
		rel, err := filepath.Rel(f.baseDir, p)
		if err != nil {
			return err
		}
		rel = strings.TrimSuffix(rel, ".json")
		paths = append(paths, strings.Split(filepath.ToSlash(rel), "/"))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return paths, nil
}

// Update applies fn to the record at path under the backend's write lock,
// so concurrent Update calls on the same key serialize within the process.
func (f *FileBackend) Update(ctx context.Context, path []string, fn func(data []byte) ([]byte, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := validatePath(path); err != nil {
		return err
	}

	data, err := os.ReadFile(f.filePath(path)) // #nosec G304 - segments validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read record: %w", err)
	}

	updated, err := fn(data)
	if err != nil {
		return err
	}
	return f.writeLocked(path, updated)
}

// Close releases resources held by the backend.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}
