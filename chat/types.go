// ABOUTME: Core domain types for the chat state engine.
// ABOUTME: Conversation keys, messages, tool calls, typing rosters, and auto-drive run state.

package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389-research/parley/wire"
)

// ConvKind distinguishes direct chats from group chats.
type ConvKind int

const (
	// KindFriend is a 1:1 conversation with a single persona.
	KindFriend ConvKind = iota
	// KindGroup is a multi-persona group conversation.
	KindGroup
)

// ConvKey identifies one conversation.
type ConvKey struct {
	Kind ConvKind
	ID   int64
}

// FriendKey returns the key for a direct conversation with the given friend.
func FriendKey(id int64) ConvKey { return ConvKey{Kind: KindFriend, ID: id} }

// GroupKey returns the key for a group conversation.
func GroupKey(id int64) ConvKey { return ConvKey{Kind: KindGroup, ID: id} }

// String renders the key in its compact form, "f<id>" or "g<id>".
func (k ConvKey) String() string {
	if k.Kind == KindGroup {
		return fmt.Sprintf("g%d", k.ID)
	}
	return fmt.Sprintf("f%d", k.ID)
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ToolStatus tracks a tool invocation through its lifecycle.
type ToolStatus string

const (
	// ToolCalling means the call was announced but no result has arrived.
	ToolCalling ToolStatus = "calling"
	// ToolCompleted means a result was matched to the call.
	ToolCompleted ToolStatus = "completed"
)

// ToolCall is one tool invocation attached to an assistant message.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
	Result    json.RawMessage
	Status    ToolStatus
}

// Message is one conversation entry. Messages created locally before the
// server has acknowledged them carry a zero ID and a nonempty LocalID.
type Message struct {
	ID             int64
	LocalID        string
	Role           string
	Content        string
	Thinking       string
	RecallThinking string
	SenderID       string
	SenderType     string
	SessionID      int64
	SessionType    string
	DebateSide     string
	CreatedAt      time.Time
	ToolCalls      []ToolCall
	Voice          *wire.VoicePayload
	VoiceUnread    []int
}

// IsLocal reports whether the message has not yet been assigned a server ID.
func (m *Message) IsLocal() bool { return m.ID == 0 }

// TypingUser is one participant currently generating a reply.
type TypingUser struct {
	ID   string
	Name string
}

// Preview is the last-message summary shown in the contact list.
type Preview struct {
	Text string
	At   time.Time
}

// AutoDriveState is the client's view of a group's auto-drive run: the
// latest server snapshot plus whether the event stream is still attached.
type AutoDriveState struct {
	wire.AutoDriveStateRead
	Disconnected bool
}

// Auto-drive run statuses as reported by the server.
const (
	DriveRunning   = "running"
	DrivePausing   = "pausing"
	DrivePaused    = "paused"
	DriveFinished  = "finished"
	DriveCancelled = "cancelled"
)

// Active reports whether the run still warrants an open event subscription.
// A pausing run is still emitting frames for its in-flight turn.
func (s *AutoDriveState) Active() bool {
	return s != nil && (s.Status == DriveRunning || s.Status == DrivePausing || s.Status == DrivePaused)
}

// timeLayouts are the timestamp formats the backend is known to emit.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseTime converts a backend timestamp string to a time.Time. Unparseable
// or empty values yield the zero time.
func ParseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FromMessageRead converts a persisted direct-chat row to a Message.
func FromMessageRead(r wire.MessageRead) Message {
	return Message{
		ID:        r.ID,
		Role:      r.Role,
		Content:   r.Content,
		SessionID: r.SessionID,
		CreatedAt: ParseTime(r.CreateTime),
	}
}

// FromGroupMessageRead converts a persisted group-chat row to a Message.
// The sender type determines the role: the host is "user", everyone else
// speaks as "assistant".
func FromGroupMessageRead(r wire.GroupMessageRead) Message {
	role := RoleAssistant
	if r.SenderType == "user" {
		role = RoleUser
	}
	return Message{
		ID:          r.ID,
		Role:        role,
		Content:     r.Content,
		SenderID:    r.SenderID,
		SenderType:  r.SenderType,
		SessionID:   r.SessionID,
		SessionType: r.SessionType,
		DebateSide:  r.DebateSide,
		CreatedAt:   ParseTime(r.CreateTime),
	}
}
