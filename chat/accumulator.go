// ABOUTME: Streaming reply accumulator that gathers frame deltas into a complete Message.
// ABOUTME: Buffers text, thinking, and tool call state per sender until the stream finishes the message.

package chat

import (
	"encoding/json"
	"time"
)

// accumulator gathers incremental stream data for one in-flight assistant
// reply so it can be assembled into a complete Message once the stream
// finishes it.
type accumulator struct {
	senderID   string
	messageID  int64
	content    string
	thinking   string
	recall     string
	toolCalls  []ToolCall
	startedAt  time.Time
	sessionID  int64
	debateSide string
}

// newAccumulator starts an empty accumulator for a sender's reply.
func newAccumulator(senderID string, messageID int64, now time.Time) *accumulator {
	return &accumulator{
		senderID:  senderID,
		messageID: messageID,
		startedAt: now,
	}
}

// appendContent adds a visible-text delta.
func (a *accumulator) appendContent(delta string) { a.content += delta }

// appendThinking adds a reasoning delta.
func (a *accumulator) appendThinking(delta string) { a.thinking += delta }

// appendRecall adds a memory-recall reasoning delta.
func (a *accumulator) appendRecall(delta string) { a.recall += delta }

// toolCall records the start of a tool invocation.
func (a *accumulator) toolCall(callID, name string, args json.RawMessage) {
	a.toolCalls = append(a.toolCalls, ToolCall{
		CallID:    callID,
		Name:      name,
		Arguments: args,
		Status:    ToolCalling,
	})
}

// toolResult completes a tool invocation. It matches by call ID when one is
// present, otherwise it completes the most recent still-running call with
// the same name. Unmatched results are dropped.
func (a *accumulator) toolResult(callID, name string, result json.RawMessage) bool {
	if callID != "" {
		for i := range a.toolCalls {
			if a.toolCalls[i].CallID == callID {
				a.toolCalls[i].Result = result
				a.toolCalls[i].Status = ToolCompleted
				return true
			}
		}
	}
	for i := len(a.toolCalls) - 1; i >= 0; i-- {
		if a.toolCalls[i].Name == name && a.toolCalls[i].Status == ToolCalling {
			a.toolCalls[i].Result = result
			a.toolCalls[i].Status = ToolCompleted
			return true
		}
	}
	return false
}

// build assembles the accumulated state into a finished assistant Message.
// The content override, when nonempty, replaces the accumulated text; done
// frames may carry the authoritative full content.
func (a *accumulator) build(contentOverride string) Message {
	content := a.content
	if contentOverride != "" {
		content = contentOverride
	}
	return Message{
		ID:             a.messageID,
		Role:           RoleAssistant,
		Content:        content,
		Thinking:       a.thinking,
		RecallThinking: a.recall,
		SenderID:       a.senderID,
		SenderType:     "friend",
		SessionID:      a.sessionID,
		DebateSide:     a.debateSide,
		CreatedAt:      a.startedAt,
		ToolCalls:      a.toolCalls,
	}
}

// accumKey identifies one in-flight reply inside a demuxed stream. Direct
// chats use a zero key; group streams demux by sender, and auto-drive
// streams demux by sender and message so consecutive turns from the same
// speaker stay separate.
type accumKey struct {
	SenderID  string
	MessageID int64
}

// accumSet manages the accumulators of one stream.
type accumSet struct {
	byKey map[accumKey]*accumulator
	now   func() time.Time
}

func newAccumSet(now func() time.Time) *accumSet {
	if now == nil {
		now = time.Now
	}
	return &accumSet{byKey: make(map[accumKey]*accumulator), now: now}
}

// get returns the accumulator for the key, creating it on first use.
func (s *accumSet) get(key accumKey) *accumulator {
	if a, ok := s.byKey[key]; ok {
		return a
	}
	a := newAccumulator(key.SenderID, key.MessageID, s.now())
	s.byKey[key] = a
	return a
}

// lookup returns the accumulator for the key without creating one.
func (s *accumSet) lookup(key accumKey) (*accumulator, bool) {
	a, ok := s.byKey[key]
	return a, ok
}

// remove drops a finished accumulator.
func (s *accumSet) remove(key accumKey) {
	delete(s.byKey, key)
}
