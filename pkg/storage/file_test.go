package storage

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
)

func newTestFileBackend(t *testing.T) *FileBackend {
	t.Helper()
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestFileBackendReadWrite(t *testing.T) {
	b := newTestFileBackend(t)
	ctx := context.Background()

	path := []string{"session", "prj", "ses_abc"}
	if err := b.Write(ctx, path, []byte(`{"id":"ses_abc"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := b.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != `{"id":"ses_abc"}` {
		t.Errorf("Read = %s", data)
	}

	// Overwrite replaces.
	if err := b.Write(ctx, path, []byte(`{"id":"v2"}`)); err != nil {
		t.Fatalf("Write v2: %v", err)
	}
	data, _ = b.Read(ctx, path)
	if string(data) != `{"id":"v2"}` {
		t.Errorf("after overwrite Read = %s", data)
	}
}

func TestFileBackendReadMissing(t *testing.T) {
	b := newTestFileBackend(t)

	_, err := b.Read(context.Background(), []string{"session", "prj", "nope"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Read missing = %v, want ErrNotFound", err)
	}
}

func TestFileBackendRemove(t *testing.T) {
	b := newTestFileBackend(t)
	ctx := context.Background()
	path := []string{"share", "ses_abc"}

	if err := b.Write(ctx, path, []byte(`{}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Remove(ctx, path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := b.Read(ctx, path); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read after Remove = %v, want ErrNotFound", err)
	}

	// Removing a missing record is not an error.
	if err := b.Remove(ctx, path); err != nil {
		t.Errorf("Remove missing = %v", err)
	}
}

func TestFileBackendList(t *testing.T) {
	b := newTestFileBackend(t)
	ctx := context.Background()

	records := [][]string{
		{"message", "ses_a", "msg_1"},
		{"message", "ses_a", "msg_2"},
		{"message", "ses_b", "msg_3"},
		{"session", "prj", "ses_a"},
	}
	for _, p := range records {
		if err := b.Write(ctx, p, []byte(`{}`)); err != nil {
			t.Fatalf("Write %v: %v", p, err)
		}
	}

	paths, err := b.List(ctx, []string{"message", "ses_a"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i][2] < paths[j][2] })

	want := [][]string{
		{"message", "ses_a", "msg_1"},
		{"message", "ses_a", "msg_2"},
	}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("List = %v, want %v", paths, want)
	}

	// Empty prefix result is not an error.
	paths, err = b.List(ctx, []string{"message", "ses_missing"})
	if err != nil {
		t.Fatalf("List missing prefix: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("List missing prefix = %v, want empty", paths)
	}
}

func TestFileBackendUpdate(t *testing.T) {
	b := newTestFileBackend(t)
	ctx := context.Background()
	path := []string{"session", "prj", "ses_a"}

	if err := b.Update(ctx, path, func(data []byte) ([]byte, error) {
		return data, nil
	}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update missing = %v, want ErrNotFound", err)
	}

	if err := b.Write(ctx, path, []byte(`1`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Update(ctx, path, func(data []byte) ([]byte, error) {
		return append(data, '2'), nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	data, _ := b.Read(ctx, path)
	if string(data) != "12" {
		t.Errorf("after Update = %s, want 12", data)
	}

	// A failing mutator leaves the record untouched.
	boom := errors.New("boom")
	if err := b.Update(ctx, path, func([]byte) ([]byte, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("Update error = %v, want boom", err)
	}
	data, _ = b.Read(ctx, path)
	if string(data) != "12" {
		t.Errorf("after failed Update = %s, want 12", data)
	}
}

func TestFileBackendInvalidPath(t *testing.T) {
	b := newTestFileBackend(t)
	ctx := context.Background()

	tests := []struct {
		name string
		path []string
	}{
		{"empty", nil},
		{"empty segment", []string{"session", ""}},
		{"slash", []string{"session", "a/b"}},
		{"backslash", []string{"session", `a\b`}},
		{"pipe", []string{"session", "a|b"}},
		{"traversal", []string{"session", ".."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := b.Write(ctx, tt.path, []byte(`{}`)); !errors.Is(err, ErrInvalidPath) {
				t.Errorf("Write(%v) = %v, want ErrInvalidPath", tt.path, err)
			}
		})
	}
}

func TestFileBackendClosed(t *testing.T) {
	b := newTestFileBackend(t)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx := context.Background()
	path := []string{"session", "prj", "ses_a"}
	if _, err := b.Read(ctx, path); !errors.Is(err, ErrClosed) {
		t.Errorf("Read after close = %v, want ErrClosed", err)
	}
	if err := b.Write(ctx, path, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after close = %v, want ErrClosed", err)
	}
}

func TestJSONHelpers(t *testing.T) {
	b := newTestFileBackend(t)
	ctx := context.Background()
	path := []string{"session", "prj", "ses_a"}

	type record struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}

	if err := WriteJSON(ctx, b, path, &record{ID: "ses_a"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	got, err := ReadJSON[record](ctx, b, path)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.ID != "ses_a" || got.Count != 0 {
		t.Errorf("ReadJSON = %+v", got)
	}

	updated, err := UpdateJSON(ctx, b, path, func(v *record) error {
		v.Count++
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateJSON: %v", err)
	}
	if updated.Count != 1 {
		t.Errorf("UpdateJSON returned count %d, want 1", updated.Count)
	}

	got, _ = ReadJSON[record](ctx, b, path)
	if got.Count != 1 {
		t.Errorf("stored count %d, want 1", got.Count)
	}
}
