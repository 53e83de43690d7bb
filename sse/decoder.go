// ABOUTME: Frame decoder layering JSON payload handling over the raw SSE parser.
// ABOUTME: Yields typed frames, passes non-JSON payloads through raw, and honors the legacy [DONE] marker.

package sse

import (
	"encoding/json"
	"io"
)

// doneMarker is the terminal payload used by an older revision of the chat
// protocol. Recognized for backward compatibility only; current servers close
// the response body instead.
const doneMarker = "[DONE]"

// Frame is one decoded event from a chat stream. When the data payload is
// valid JSON it is carried in Data; otherwise Data is nil and the payload is
// preserved verbatim in Raw so the caller can log it. A decode miss is
// degraded, not fatal: the stream keeps going.
type Frame struct {
	Event string
	Data  json.RawMessage
	Raw   string
}

// IsJSON reports whether the frame carried a JSON payload.
func (f Frame) IsJSON() bool { return f.Data != nil }

// Unmarshal decodes the frame's JSON payload into v.
func (f Frame) Unmarshal(v any) error {
	return json.Unmarshal(f.Data, v)
}

// Decoder turns an SSE byte stream into a sequence of Frames.
type Decoder struct {
	parser *Parser
}

// NewDecoder creates a Decoder reading from r, typically an HTTP response body.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{parser: NewParser(r)}
}

// Next returns the next frame. It returns io.EOF when the stream ends,
// either because the transport closed or because a [DONE] marker arrived.
func (d *Decoder) Next() (Frame, error) {
	evt, err := d.parser.Next()
	if err != nil {
		return Frame{}, err
	}

	if evt.Data == doneMarker {
		return Frame{}, io.EOF
	}

	frame := Frame{Event: evt.Type}
	if json.Valid([]byte(evt.Data)) {
		frame.Data = json.RawMessage(evt.Data)
	} else {
		frame.Raw = evt.Data
	}
	return frame, nil
}
