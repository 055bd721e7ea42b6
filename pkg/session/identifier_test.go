package session

import (
	"sort"
	"strings"
	"testing"
	"time"
)

func TestIDFormat(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		prefix string
	}{
		{"session", NewSessionID(), "ses_"},
		{"message", NewMessageID(), "msg_"},
		{"part", NewPartID(), "prt_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasPrefix(tt.id, tt.prefix) {
				t.Errorf("id %q missing prefix %q", tt.id, tt.prefix)
			}
			body := strings.TrimPrefix(tt.id, tt.prefix)
			if len(body) != 24 {
				t.Errorf("id body %q has length %d, want 24", body, len(body))
			}
			for _, c := range body {
				if !strings.ContainsRune("0123456789abcdef", c) {
					t.Errorf("id body %q contains non-hex %q", body, c)
				}
			}
		})
	}
}

func TestSessionIDsSortDescending(t *testing.T) {
	first := NewSessionID()
	time.Sleep(2 * time.Millisecond)
	second := NewSessionID()

	// Newer session ids sort before older ones.
	if !(second < first) {
		t.Errorf("newer id %q should sort before older %q", second, first)
	}
}

func TestMessageIDsSortAscending(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = NewMessageID()
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for i := range ids {
		if ids[i] != sorted[i] {
			t.Fatalf("allocation order differs from sort order at %d: %v", i, ids)
		}
	}
}

func TestComponentSurvivesCounterWrap(t *testing.T) {
	// Park the allocator on a fixed millisecond just below counter overflow
	// so the next allocations walk through the wrap.
	idState.mu.Lock()
	idState.lastMS = time.Now().UnixMilli() + 1000
	idState.counter = 0xfffd
	idState.mu.Unlock()

	prev := sortableComponent()
	for i := 0; i < 5; i++ {
		cur := sortableComponent()
		if cur <= prev {
			t.Fatalf("component went backwards at %d: %#x after %#x", i, cur, prev)
		}
		prev = cur
	}
}

func TestIDsUniqueWithinMillisecond(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewPartID()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
