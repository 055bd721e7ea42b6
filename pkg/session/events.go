package session

// Event names published on the bus. Delivery is fire-and-forget: the core
// never waits for subscribers.
const (
	EventSessionStarted = "session.started"
	EventSessionUpdated = "session.updated"
	EventSessionDeleted = "session.deleted"
	EventSessionRenamed = "session.renamed"
	EventMessageUpdated = "message.updated"
	EventMessageRemoved = "message.removed"
	EventPartUpdated    = "part.updated"
)

// SessionStarted is published once when a session is created.
type SessionStarted struct {
	Info *Session `json:"info"`
}

func (SessionStarted) Type() string { return EventSessionStarted }

// SessionUpdated is published after every session record mutation.
type SessionUpdated struct {
	Info *Session `json:"info"`
}

func (SessionUpdated) Type() string { return EventSessionUpdated }

// SessionDeleted is published after a session record is removed.
type SessionDeleted struct {
	Info *Session `json:"info"`
}

func (SessionDeleted) Type() string { return EventSessionDeleted }

// SessionRenamed is published by Rename in addition to SessionUpdated, so
// listeners can distinguish an intentional title change from other edits.
type SessionRenamed struct {
	SessionID string `json:"sessionID"`
	ProjectID string `json:"projectID"`
	OldTitle  string `json:"oldTitle"`
	NewTitle  string `json:"newTitle"`
}

func (SessionRenamed) Type() string { return EventSessionRenamed }

// MessageUpdated is published after a message record write.
type MessageUpdated struct {
	Info *Message `json:"info"`
}

func (MessageUpdated) Type() string { return EventMessageUpdated }

// MessageRemoved is published after a message and its parts are deleted.
type MessageRemoved struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}

func (MessageRemoved) Type() string { return EventMessageRemoved }

// PartUpdated carries the full part state and, for streaming text or
// reasoning content, the increment since the previous update. Subscribers
// choose between full-state and delta consumption.
type PartUpdated struct {
	Part  *Part  `json:"part"`
	Delta string `json:"delta,omitempty"`
}

func (PartUpdated) Type() string { return EventPartUpdated }
