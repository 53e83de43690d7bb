// ABOUTME: Wire-level DTOs shared between the HTTP client and the chat state engine.
// ABOUTME: Mirrors the backend's snake_case JSON schema for messages, sessions, voice, and auto-drive state.

package wire

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexID is an identifier the backend emits sometimes as a JSON string and
// sometimes as a number (participant rosters do both). It always unmarshals
// to its string form.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f FlexID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(f))
}

// String returns the identifier as a string.
func (f FlexID) String() string { return string(f) }

// Int64 returns the numeric value of the identifier, or 0 if it is not numeric.
func (f FlexID) Int64() int64 {
	n, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// MessageRead is a persisted direct-chat message row.
type MessageRead struct {
	ID         int64  `json:"id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	SessionID  int64  `json:"session_id"`
	CreateTime string `json:"create_time"`
	UpdateTime string `json:"update_time,omitempty"`
	Deleted    bool   `json:"deleted,omitempty"`
}

// GroupMessageRead is a persisted group-chat message row.
type GroupMessageRead struct {
	ID          int64  `json:"id"`
	Content     string `json:"content"`
	SenderID    string `json:"sender_id"`
	SenderType  string `json:"sender_type"` // "user" or "friend"
	SessionID   int64  `json:"session_id"`
	CreateTime  string `json:"create_time"`
	SessionType string `json:"session_type,omitempty"` // "normal", "brainstorm", "decision", "debate"
	DebateSide  string `json:"debate_side,omitempty"`  // "affirmative" or "negative"
}

// ChatSession is a conversation session row.
type ChatSession struct {
	ID         int64   `json:"id"`
	Title      *string `json:"title"`
	FriendID   int64   `json:"friend_id,omitempty"`
	GroupID    int64   `json:"group_id,omitempty"`
	CreateTime string  `json:"create_time"`
	UpdateTime string  `json:"update_time"`
	Deleted    bool    `json:"deleted,omitempty"`
}

// VoiceSegment is one synthesized audio span of a message.
type VoiceSegment struct {
	SegmentIndex int     `json:"segment_index"`
	Text         string  `json:"text"`
	AudioURL     string  `json:"audio_url"`
	DurationSec  float64 `json:"duration_sec"`
}

// VoicePayload is the full voice attachment for a message.
type VoicePayload struct {
	VoiceID     string         `json:"voice_id"`
	Segments    []VoiceSegment `json:"segments"`
	GeneratedAt string         `json:"generated_at,omitempty"`
}

// AutoDriveStateRead is the server-owned snapshot of an auto-drive run.
type AutoDriveStateRead struct {
	RunID         int64          `json:"run_id"`
	GroupID       int64          `json:"group_id"`
	SessionID     int64          `json:"session_id"`
	Mode          string         `json:"mode"` // "brainstorm", "decision", "debate"
	Status        string         `json:"status"`
	Phase         string         `json:"phase,omitempty"`
	CurrentRound  int            `json:"current_round"`
	CurrentTurn   int            `json:"current_turn"`
	NextSpeakerID string         `json:"next_speaker_id,omitempty"`
	PauseReason   string         `json:"pause_reason,omitempty"`
	StartedAt     string         `json:"started_at"`
	EndedAt       string         `json:"ended_at,omitempty"`
	Topic         map[string]any `json:"topic"`
	Roles         map[string]any `json:"roles"`
	TurnLimit     int            `json:"turn_limit"`
	EndAction     string         `json:"end_action"` // "summary", "judge", "both"
	JudgeID       string         `json:"judge_id,omitempty"`
	SummaryBy     string         `json:"summary_by,omitempty"`
}

// SendMessageRequest is the body of a direct send or session send.
type SendMessageRequest struct {
	Content         string `json:"content"`
	EnableThinking  bool   `json:"enable_thinking,omitempty"`
	ClientRequestID string `json:"client_request_id,omitempty"`
}

// GroupSendRequest is the body of a group send.
type GroupSendRequest struct {
	Content         string   `json:"content"`
	Mentions        []string `json:"mentions,omitempty"`
	EnableThinking  bool     `json:"enable_thinking,omitempty"`
	NewSession      bool     `json:"new_session,omitempty"`
	ClientRequestID string   `json:"client_request_id,omitempty"`
}

// AutoDriveConfig is the run configuration submitted on start.
type AutoDriveConfig struct {
	Mode      string         `json:"mode"`
	Topic     map[string]any `json:"topic"`
	Roles     map[string]any `json:"roles"`
	TurnLimit int            `json:"turn_limit"`
	EndAction string         `json:"end_action"`
	JudgeID   string         `json:"judge_id,omitempty"`
	SummaryBy string         `json:"summary_by,omitempty"`
}

// AutoDriveStartRequest starts a run.
type AutoDriveStartRequest struct {
	GroupID        int64           `json:"group_id"`
	Config         AutoDriveConfig `json:"config"`
	EnableThinking bool            `json:"enable_thinking,omitempty"`
}

// AutoDriveActionRequest addresses a lifecycle action (pause/resume/stop) at a group's run.
type AutoDriveActionRequest struct {
	GroupID int64 `json:"group_id"`
}

// AutoDriveInterjectRequest injects a host message into a running discussion.
type AutoDriveInterjectRequest struct {
	GroupID         int64    `json:"group_id"`
	Content         string   `json:"content"`
	Mentions        []string `json:"mentions,omitempty"`
	ClientRequestID string   `json:"client_request_id,omitempty"`
}

// Participant is one entry of a meta_participants roster.
type Participant struct {
	ID   FlexID `json:"id"`
	Name string `json:"name"`
}
