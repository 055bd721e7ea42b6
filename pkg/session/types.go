// Package session implements the snowcode conversation store: a persistent,
// branchable history of user/assistant exchanges. Each conversation is an
// append-only log of messages and parts; conversations form a tree through
// forking, linked only by forward parent pointers over the storage layer.
package session

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType identifies the kind of content a part carries.
type PartType string

const (
	PartTypeText      PartType = "text"
	PartTypeReasoning PartType = "reasoning"
	PartTypeTool      PartType = "tool"
	PartTypeFile      PartType = "file"
)

// ToolStatus is the lifecycle state of a tool invocation part.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// Session is a conversation thread, root or forked.
// ParentID is the only structural link between sessions: no child list is
// maintained on the record itself.
type Session struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"projectID"`
	Directory string        `json:"directory"`
	ParentID  string        `json:"parentID,omitempty"`
	Title     string        `json:"title"`
	Version   string        `json:"version"`
	Time      SessionTime   `json:"time"`
	Share     *SessionShare `json:"share,omitempty"`
	Revert    *Revert       `json:"revert,omitempty"`
	Summary   string        `json:"summary,omitempty"`
}

// SessionTime holds session lifecycle timestamps in Unix milliseconds.
type SessionTime struct {
	Created    int64 `json:"created"`
	Updated    int64 `json:"updated"`
	Compacting int64 `json:"compacting,omitempty"`
}

// SessionShare is the share marker kept on the session record. The secret
// lives only in the share namespace.
type SessionShare struct {
	URL string `json:"url"`
}

// ShareInfo is the full share record, stored under ["share", sessionID] so a
// remote service can resolve it without project context.
type ShareInfo struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// Revert marks a rollback point inside the session history.
type Revert struct {
	MessageID string `json:"messageID"`
	PartID    string `json:"partID,omitempty"`
	Snapshot  string `json:"snapshot,omitempty"`
	Diff      string `json:"diff,omitempty"`
}

// Message is one conversation turn. IDs sort ascending within a session so
// listing plus sort yields chronological order.
type Message struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"sessionID"`
	Role       Role          `json:"role"`
	Time       MessageTime   `json:"time"`
	ModelID    string        `json:"modelID,omitempty"`
	ProviderID string        `json:"providerID,omitempty"`
	Mode       string        `json:"mode,omitempty"`
	Cost       float64       `json:"cost,omitempty"`
	Tokens     *TokenUsage   `json:"tokens,omitempty"`
	Error      *MessageError `json:"error,omitempty"`
	Summary    bool          `json:"summary,omitempty"`
}

// MessageTime holds message lifecycle timestamps in Unix milliseconds.
type MessageTime struct {
	Created   int64 `json:"created"`
	Completed int64 `json:"completed,omitempty"`
}

// MessageError is the terminal error envelope of a failed assistant turn.
type MessageError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// TokenUsage is the normalized token accounting of an assistant message.
// Invariant: Input + Cache.Read equals the true total input token count
// regardless of how the provider reported it.
type TokenUsage struct {
	Input     int64      `json:"input"`
	Output    int64      `json:"output"`
	Reasoning int64      `json:"reasoning"`
	Cache     CacheUsage `json:"cache"`
}

// CacheUsage counts prompt-cache tokens.
type CacheUsage struct {
	Read  int64 `json:"read"`
	Write int64 `json:"write"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.Reasoning += other.Reasoning
	u.Cache.Read += other.Cache.Read
	u.Cache.Write += other.Cache.Write
}

// Part is the atomic content unit of a message: a text fragment, a reasoning
// fragment, a tool invocation, or a file reference. A part is exclusively
// owned by its message.
type Part struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      PartType `json:"type"`

	// text / reasoning
	Text      string `json:"text,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`

	// tool
	CallID string     `json:"callID,omitempty"`
	Tool   string     `json:"tool,omitempty"`
	State  *ToolState `json:"state,omitempty"`

	// file
	MIME     string `json:"mime,omitempty"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
}

// ToolState tracks a tool invocation through pending, running and a terminal
// completed or error state.
type ToolState struct {
	Status ToolStatus     `json:"status"`
	Input  map[string]any `json:"input,omitempty"`
	Output string         `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
	Time   *ToolStateTime `json:"time,omitempty"`
}

// ToolStateTime records tool execution timestamps in Unix milliseconds.
type ToolStateTime struct {
	Start int64 `json:"start"`
	End   int64 `json:"end,omitempty"`
}

// Duration returns the wall time of a finished tool invocation.
func (t *ToolState) Duration() (time.Duration, bool) {
	if t == nil || t.Time == nil || t.Time.End == 0 {
		return 0, false
	}
	return time.Duration(t.Time.End-t.Time.Start) * time.Millisecond, true
}

// MessageWithParts bundles a message with its ordered parts.
type MessageWithParts struct {
	Info  *Message `json:"info"`
	Parts []*Part  `json:"parts"`
}

// now returns the current time in Unix milliseconds.
func now() int64 {
	return time.Now().UnixMilli()
}
