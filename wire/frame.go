// ABOUTME: Typed view over raw SSE frames from the chat streaming endpoints.
// ABOUTME: ParseFrame switches on the event name and decodes the payload fields that event carries.

package wire

import (
	"encoding/json"
	"fmt"

	"github.com/2389-research/parley/sse"
)

// Stream event names emitted by the chat endpoints.
const (
	EventStart            = "start"
	EventMessage          = "message"
	EventThinking         = "thinking"
	EventModelThinking    = "model_thinking"
	EventRecallThinking   = "recall_thinking"
	EventToolCall         = "tool_call"
	EventToolResult       = "tool_result"
	EventMetaParticipants = "meta_participants"
	EventVoiceSegment     = "voice_segment"
	EventVoicePayload     = "voice_payload"
	EventAutoDriveState   = "auto_drive_state"
	EventAutoDriveError   = "auto_drive_error"
	EventAutoDriveDone    = "auto_drive_done"
	EventError            = "error"
	EventTaskError        = "task_error"
	EventDone             = "done"
)

// FrameData holds the union of payload fields a stream frame may carry.
// Which fields are meaningful depends on the frame's event name.
type FrameData struct {
	Delta         string          `json:"delta,omitempty"`
	SessionID     int64           `json:"session_id,omitempty"`
	MessageID     int64           `json:"message_id,omitempty"`
	UserMessageID int64           `json:"user_message_id,omitempty"`
	SenderID      string          `json:"sender_id,omitempty"`
	Content       string          `json:"content,omitempty"`
	ToolName      string          `json:"tool_name,omitempty"`
	Arguments     json.RawMessage `json:"arguments,omitempty"`
	CallID        string          `json:"call_id,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Detail        string          `json:"detail,omitempty"`
	Message       string          `json:"message,omitempty"`
	GroupID       int64           `json:"group_id,omitempty"`
	Participants  []Participant   `json:"participants,omitempty"`
	Segment       *VoiceSegment   `json:"segment,omitempty"`
	Payload       *VoicePayload   `json:"voice_payload,omitempty"`
}

// ErrorDetail returns the most specific error text the frame carries.
func (d *FrameData) ErrorDetail() string {
	if d.Detail != "" {
		return d.Detail
	}
	if d.Message != "" {
		return d.Message
	}
	return "unknown error"
}

// StreamFrame is a decoded chat stream event.
type StreamFrame struct {
	Event string
	Data  FrameData
	// State is set only for auto_drive_state frames, whose payload is the
	// full run snapshot rather than a FrameData envelope.
	State *AutoDriveStateRead
	// Raw holds the payload text when it was not a JSON object.
	Raw string
}

// ParseFrame decodes a raw SSE frame into a StreamFrame.
func ParseFrame(f sse.Frame) (StreamFrame, error) {
	out := StreamFrame{Event: f.Event}
	if !f.IsJSON() {
		out.Raw = f.Raw
		return out, nil
	}
	if f.Event == EventAutoDriveState {
		var st AutoDriveStateRead
		if err := json.Unmarshal(f.Data, &st); err != nil {
			return out, fmt.Errorf("decoding %s frame: %w", f.Event, err)
		}
		out.State = &st
		return out, nil
	}
	if err := json.Unmarshal(f.Data, &out.Data); err != nil {
		return out, fmt.Errorf("decoding %s frame: %w", f.Event, err)
	}
	return out, nil
}
