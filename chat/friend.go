// ABOUTME: Stream controller for 1:1 friend conversations.
// ABOUTME: Optimistic send, buffered reply accumulation, finalize/recover, regenerate, and recall.

package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/2389-research/parley/segment"
	"github.com/2389-research/parley/wire"
)

// recallNotice replaces the content of a recalled message.
const recallNotice = "You recalled a message"

// FriendController drives request/response SSE exchanges for direct chats.
// One stream may be in flight per friend at a time; concurrent sends to the
// same friend are rejected with ErrBusy.
type FriendController struct {
	backend Backend
	store   *Store
	opts    Options

	// SessionsRefreshed, when set, receives the refreshed session list after
	// each completed exchange. The refresh itself is fire-and-forget.
	SessionsRefreshed func(friendID int64, sessions []wire.ChatSession)

	mu       sync.Mutex
	inflight map[ConvKey]bool
}

// NewFriendController creates a controller over the given backend and store.
func NewFriendController(backend Backend, store *Store, opts Options) *FriendController {
	opts.fill()
	return &FriendController{
		backend:  backend,
		store:    store,
		opts:     opts,
		inflight: make(map[ConvKey]bool),
	}
}

func (c *FriendController) acquire(key ConvKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[key] {
		return false
	}
	c.inflight[key] = true
	return true
}

func (c *FriendController) release(key ConvKey) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
}

// Send submits a user message to a friend and consumes the streamed reply
// before returning. Empty input is ignored. Once the stream is open,
// failures are absorbed into the conversation as degraded messages rather
// than returned; errors come only from the in-flight guard and from a
// request that never reached the server.
func (c *FriendController) Send(ctx context.Context, friendID int64, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	key := FriendKey(friendID)
	if !c.acquire(key) {
		return fmt.Errorf("friend %d: %w", friendID, ErrBusy)
	}
	defer c.release(key)

	localID := ulid.Make().String()
	userMsg := Message{
		LocalID:   localID,
		Role:      RoleUser,
		Content:   content,
		CreatedAt: c.opts.Now(),
	}
	prevPreview := c.store.Preview(key)
	c.store.Upsert(key, userMsg)
	c.store.UpdatePreview(key, Preview{Text: content, At: userMsg.CreatedAt})
	c.store.SetStreaming(key, true)

	stream, err := c.backend.SendFriendMessage(ctx, friendID, wire.SendMessageRequest{
		Content:         content,
		EnableThinking:  c.opts.EnableThinking,
		ClientRequestID: uuid.NewString(),
	})
	if err != nil {
		// The send never reached the server; withdraw the optimistic
		// message rather than fabricating a failed reply.
		c.opts.Logger.Printf("friend %d: send failed: %v", friendID, err)
		c.store.RemoveLocal(key, localID)
		c.store.UpdatePreview(key, prevPreview)
		c.store.SetStreaming(key, false)
		return fmt.Errorf("sending to friend %d: %w", friendID, err)
	}
	defer stream.Close()

	c.consume(key, stream, localID)
	return nil
}

// consume runs the frame loop for one exchange and commits the outcome.
// userLocalID, when nonempty, is the optimistic user message awaiting its
// server id from the start frame.
func (c *FriendController) consume(key ConvKey, stream Stream, userLocalID string) {
	acc := newAccumulator("", 0, c.opts.Now())
	for {
		frame, err := stream.Next()
		if err != nil {
			if !isStreamEnd(err) {
				c.opts.Logger.Printf("%s: stream failed: %v", key, err)
			}
			// A clean exchange always ends with a done frame; reaching end
			// of stream without one means the reply was cut off.
			c.finishDegraded(key, acc, interruptNotice)
			return
		}

		switch frame.Event {
		case wire.EventStart:
			acc.messageID = frame.Data.MessageID
			acc.sessionID = frame.Data.SessionID
			if userLocalID != "" && frame.Data.UserMessageID != 0 {
				promoted := Message{
					ID:        frame.Data.UserMessageID,
					LocalID:   userLocalID,
					Role:      RoleUser,
					SessionID: frame.Data.SessionID,
				}
				// Carry the optimistic content and timestamp forward.
				for _, m := range c.store.Messages(key) {
					if m.LocalID == userLocalID {
						promoted.Content = m.Content
						promoted.CreatedAt = m.CreatedAt
						break
					}
				}
				c.store.Upsert(key, promoted)
			}

		case wire.EventThinking, wire.EventModelThinking:
			acc.appendThinking(frame.Data.Delta)

		case wire.EventRecallThinking:
			acc.appendRecall(frame.Data.Delta)

		case wire.EventMessage:
			acc.appendContent(frame.Data.Delta)
			c.store.UpdatePreview(key, Preview{Text: acc.content, At: c.opts.Now()})

		case wire.EventToolCall:
			acc.toolCall(frame.Data.CallID, frame.Data.ToolName, frame.Data.Arguments)

		case wire.EventToolResult:
			acc.toolResult(frame.Data.CallID, frame.Data.ToolName, frame.Data.Result)

		case wire.EventError, wire.EventTaskError:
			c.finishDegraded(key, acc, errorNotice(frame.Data.ErrorDetail()))
			return

		case wire.EventDone:
			if frame.Data.MessageID != 0 {
				acc.messageID = frame.Data.MessageID
			}
			if frame.Data.SessionID != 0 {
				acc.sessionID = frame.Data.SessionID
			}
			c.finishDone(key, acc, frame.Data.Content)
			return
		}
	}
}

// finishDone commits a completed reply and runs the post-exchange hooks.
func (c *FriendController) finishDone(key ConvKey, acc *accumulator, contentOverride string) {
	msg := acc.build(contentOverride)
	msg.SenderType = ""
	if msg.ID == 0 {
		msg.LocalID = ulid.Make().String()
	}
	c.store.Upsert(key, msg)
	c.store.SetStreaming(key, false)
	c.store.UpdatePreview(key, Preview{Text: msg.Content, At: c.opts.Now()})
	c.store.MarkUnreadIfAway(key, segment.Count(msg.Content))
	if !c.opts.Focused() {
		c.opts.Attention(key)
	}
	c.refreshSessions(key.ID)
}

// finishDegraded commits whatever buffered content exists plus a failure
// annotation, so the failure is visible instead of silently lost.
func (c *FriendController) finishDegraded(key ConvKey, acc *accumulator, notice string) {
	msg := acc.build("")
	msg.SenderType = ""
	if strings.TrimSpace(msg.Content) == "" {
		msg.Content = notice
	} else {
		msg.Content += "\n\n" + notice
	}
	if msg.ID == 0 {
		msg.LocalID = ulid.Make().String()
	}
	c.store.Upsert(key, msg)
	c.store.SetStreaming(key, false)
	c.store.UpdatePreview(key, Preview{Text: msg.Content, At: c.opts.Now()})
}

// refreshSessions reloads the friend's session list in the background.
func (c *FriendController) refreshSessions(friendID int64) {
	if c.SessionsRefreshed == nil {
		return
	}
	go func() {
		sessions, err := c.backend.ListSessions(context.Background(), friendID)
		if err != nil {
			c.opts.Logger.Printf("friend %d: session refresh failed: %v", friendID, err)
			return
		}
		c.SessionsRefreshed(friendID, sessions)
	}()
}

// Regenerate replaces an assistant message in place by re-running its turn.
// On any failure the conversation is restored to its exact prior state and
// the error is returned, so regeneration is loss-free.
func (c *FriendController) Regenerate(ctx context.Context, friendID, messageID int64) error {
	key := FriendKey(friendID)
	if !c.acquire(key) {
		return fmt.Errorf("friend %d: %w", friendID, ErrBusy)
	}
	defer c.release(key)

	backup := c.store.Messages(key)
	var target *Message
	kept := make([]Message, 0, len(backup))
	for i := range backup {
		if backup[i].ID == messageID {
			target = &backup[i]
			continue
		}
		kept = append(kept, backup[i])
	}
	if target == nil || target.Role != RoleAssistant {
		return fmt.Errorf("friend %d: message %d is not a regenerable assistant message", friendID, messageID)
	}
	c.store.SetMessages(key, kept)
	c.store.SetStreaming(key, true)

	restore := func(err error) error {
		c.store.SetMessages(key, backup)
		c.store.SetStreaming(key, false)
		return fmt.Errorf("regenerating message %d: %w", messageID, err)
	}

	stream, err := c.backend.RegenerateMessage(ctx, friendID, messageID, c.opts.EnableThinking)
	if err != nil {
		return restore(err)
	}
	defer stream.Close()

	acc := newAccumulator("", 0, c.opts.Now())
	acc.sessionID = target.SessionID
	for {
		frame, err := stream.Next()
		if err != nil {
			if isStreamEnd(err) {
				err = fmt.Errorf("stream ended before done")
			}
			return restore(err)
		}
		switch frame.Event {
		case wire.EventStart:
			acc.messageID = frame.Data.MessageID
			if frame.Data.SessionID != 0 {
				acc.sessionID = frame.Data.SessionID
			}
		case wire.EventThinking, wire.EventModelThinking:
			acc.appendThinking(frame.Data.Delta)
		case wire.EventRecallThinking:
			acc.appendRecall(frame.Data.Delta)
		case wire.EventMessage:
			acc.appendContent(frame.Data.Delta)
		case wire.EventToolCall:
			acc.toolCall(frame.Data.CallID, frame.Data.ToolName, frame.Data.Arguments)
		case wire.EventToolResult:
			acc.toolResult(frame.Data.CallID, frame.Data.ToolName, frame.Data.Result)
		case wire.EventError, wire.EventTaskError:
			return restore(fmt.Errorf("server error: %s", frame.Data.ErrorDetail()))
		case wire.EventDone:
			if frame.Data.MessageID != 0 {
				acc.messageID = frame.Data.MessageID
			}
			if acc.messageID == 0 {
				acc.messageID = messageID
			}
			msg := acc.build(frame.Data.Content)
			msg.CreatedAt = target.CreatedAt
			c.store.Upsert(key, msg)
			c.store.SetStreaming(key, false)
			c.store.UpdatePreview(key, Preview{Text: msg.Content, At: c.opts.Now()})
			return nil
		}
	}
}

// Recall withdraws a user message. On success the message is rewritten as a
// system notice, and the assistant reply immediately following it is removed
// to mirror the server's cascade delete. Failures are returned to the caller
// with local state untouched.
func (c *FriendController) Recall(ctx context.Context, friendID, messageID int64) error {
	key := FriendKey(friendID)
	if _, err := c.backend.RecallMessage(ctx, friendID, messageID); err != nil {
		return fmt.Errorf("recalling message %d: %w", messageID, err)
	}

	msgs := c.store.Messages(key)
	for i := range msgs {
		if msgs[i].ID != messageID {
			continue
		}
		msgs[i].Role = RoleSystem
		msgs[i].Content = recallNotice
		msgs[i].Thinking = ""
		msgs[i].RecallThinking = ""
		msgs[i].ToolCalls = nil
		if i+1 < len(msgs) && msgs[i+1].Role == RoleAssistant {
			msgs = append(msgs[:i+1], msgs[i+2:]...)
		}
		break
	}
	c.store.SetMessages(key, msgs)
	return nil
}

// StartNewSession opens a fresh server-side session for the friend and
// clears the locally cached history so the next send lands in it.
func (c *FriendController) StartNewSession(ctx context.Context, friendID int64) (wire.ChatSession, error) {
	sess, err := c.backend.StartNewSession(ctx, friendID)
	if err != nil {
		return wire.ChatSession{}, fmt.Errorf("starting session for friend %d: %w", friendID, err)
	}
	key := FriendKey(friendID)
	c.store.Clear(key)
	c.store.ResetUnread(key)
	return sess, nil
}
