package storage

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisBackend(t *testing.T) *RedisBackend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBackendFromClient(client, "test:", 0)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBackendReadWrite(t *testing.T) {
	b := newTestRedisBackend(t)
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
}

func TestRedisBackendReadMissing(t *testing.T) {
	b := newTestRedisBackend(t)

	_, err := b.Read(context.Background(), []string{"session", "prj", "nope"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Read missing = %v, want ErrNotFound", err)
	}
}

func TestRedisBackendRemove(t *testing.T) {
	b := newTestRedisBackend(t)
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
	if err := b.Remove(ctx, path); err != nil {
		t.Errorf("Remove missing = %v", err)
	}
}

func TestRedisBackendList(t *testing.T) {
	b := newTestRedisBackend(t)
	ctx := context.Background()

	records := [][]string{
		{"message", "ses_a", "msg_1"},
		{"message", "ses_a", "msg_2"},
		{"message", "ses_b", "msg_3"},
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
	if len(paths) != 2 {
		t.Fatalf("List returned %d paths, want 2", len(paths))
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i][2] < paths[j][2] })
	if paths[0][2] != "msg_1" || paths[1][2] != "msg_2" {
		t.Errorf("List = %v", paths)
	}
}

func TestRedisBackendUpdate(t *testing.T) {
	b := newTestRedisBackend(t)
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
}

func TestRedisBackendClosed(t *testing.T) {
	b := newTestRedisBackend(t)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := b.Read(context.Background(), []string{"a", "b"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Read after close = %v, want ErrClosed", err)
	}
}

func TestRedisBackendPing(t *testing.T) {
	b := newTestRedisBackend(t)
	if err := b.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
