// Package storage provides path-addressed key-value persistence for the
// snowcode session engine. Records are addressed by hierarchical key paths
// (e.g. ["session", projectID, sessionID]) and stored as JSON. Backends
// implement the same contract over local files, Redis, or Firestore.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Common errors for storage operations.
var (
	// ErrNotFound is returned when no record exists at the given path.
	ErrNotFound = errors.New("record not found")
	// ErrClosed is returned when operating on a closed backend.
	ErrClosed = errors.New("storage backend is closed")
	// ErrInvalidPath is returned when a key path is empty or a segment
	// contains unsafe characters.
	ErrInvalidPath = errors.New("invalid key path")
)

// Backend abstracts record persistence.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Read retrieves the raw record at path.
	// Returns ErrNotFound if no record exists.
	Read(ctx context.Context, path []string) ([]byte, error)

	// Write creates or replaces the record at path.
	Write(ctx context.Context, path []string, data []byte) error

	// Remove deletes the record at path. Removing a missing record is not
	// an error.
	Remove(ctx context.Context, path []string) error

	// List returns the full key paths of all records under prefix.
	List(ctx context.Context, prefix []string) ([][]string, error)

	// Update applies fn to the record at path as a single
	// read-modify-write. fn receives the current raw record and returns
	// the replacement. Returns ErrNotFound if no record exists.
	Update(ctx context.Context, path []string, fn func(data []byte) ([]byte, error)) error

	// Close releases any resources held by the backend.
	Close() error
}

// validatePath checks that every segment is safe to use as a key component.
// Segments must not be empty and must not contain separators or traversal
// sequences, since file and Redis backends join them into flat keys.
func validatePath(path []string) error {
	if len(path) == 0 {
		return ErrInvalidPath
	}
	for _, seg := range path {
		if seg == "" {
			return fmt.Errorf("%w: empty segment", ErrInvalidPath)
		}
		if strings.ContainsAny(seg, `/\|`) || strings.Contains(seg, "..") {
			return fmt.Errorf("%w: segment %q", ErrInvalidPath, seg)
		}
	}
	return nil
}

// ReadJSON reads the record at path and unmarshals it into a value of type T.
func ReadJSON[T any](ctx context.Context, b Backend, path []string) (*T, error) {
	data, err := b.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", strings.Join(path, "/"), err)
	}
	return &v, nil
}

// WriteJSON marshals v and writes it at path.
func WriteJSON(ctx context.Context, b Backend, path []string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", strings.Join(path, "/"), err)
	}
	return b.Write(ctx, path, data)
}

// UpdateJSON applies a typed mutator to the record at path under the
// backend's read-modify-write primitive and returns the updated value.
func UpdateJSON[T any](ctx context.Context, b Backend, path []string, fn func(v *T) error) (*T, error) {
	var out *T
	err := b.Update(ctx, path, func(data []byte) ([]byte, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", strings.Join(path, "/"), err)
		}
		if err := fn(&v); err != nil {
			return nil, err
		}
		out = &v
		return json.Marshal(&v)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
