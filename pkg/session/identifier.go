package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Identifier scheme: <prefix>_<16 hex time+counter><8 hex random>.
//
// The sortable component is a 48-bit Unix-millisecond timestamp packed with a
// 16-bit monotonic counter, hex encoded so lexicographic order equals numeric
// order. Session ids store the bitwise complement of that component, which
// makes newer sessions sort first under a naive prefix scan; message and part
// ids store it directly and sort ascending (chronological).
const (
	prefixSession = "ses"
	prefixMessage = "msg"
	prefixPart    = "prt"
)

var idState struct {
	mu      sync.Mutex
	lastMS  int64
	counter uint16
}

func sortableComponent() uint64 {
	idState.mu.Lock()
	defer idState.mu.Unlock()

	ms := time.Now().UnixMilli()
	if ms > idState.lastMS {
		idState.lastMS = ms
		idState.counter = 0
	} else {
		idState.counter++
		if idState.counter == 0 {
			// Counter exhausted within this millisecond; borrow the next one
			// so the component never repeats or goes backwards.
			idState.lastMS++
		}
	}
	return uint64(idState.lastMS)<<16 | uint64(idState.counter)
}

func newID(prefix string, descending bool) string {
	component := sortableComponent()
	if descending {
		component = ^component
	}

	tail := make([]byte, 4)
	if _, err := rand.Read(tail); err != nil {
		// crypto/rand failure means the platform RNG is broken; there is
		// no reasonable recovery.
		panic(fmt.Sprintf("session: read random bytes: %v", err))
	}

	return fmt.Sprintf("%s_%016x%s", prefix, component, hex.EncodeToString(tail))
}

// NewSessionID allocates a session id. Session ids sort descending by
// creation time: newest first.
func NewSessionID() string {
	return newID(prefixSession, true)
}

// NewMessageID allocates a message id. Message ids sort ascending by
// creation time within a session.
func NewMessageID() string {
	return newID(prefixMessage, false)
}

// NewPartID allocates a part id, ascending like message ids.
func NewPartID() string {
	return newID(prefixPart, false)
}
