// ABOUTME: Stream controller for group conversations with multiple AI participants.
// ABOUTME: Demultiplexes one SSE response by sender_id so concurrent members stream without cross-contamination.

package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/2389-research/parley/segment"
	"github.com/2389-research/parley/wire"
)

// GroupController drives group send exchanges. A single HTTP response may
// carry interleaved frames from several group members; each sender gets its
// own live message in the store, updated independently.
type GroupController struct {
	backend Backend
	store   *Store
	opts    Options

	mu       sync.Mutex
	inflight map[ConvKey]bool
	forceNew map[int64]bool
}

// NewGroupController creates a controller over the given backend and store.
func NewGroupController(backend Backend, store *Store, opts Options) *GroupController {
	opts.fill()
	return &GroupController{
		backend:  backend,
		store:    store,
		opts:     opts,
		inflight: make(map[ConvKey]bool),
		forceNew: make(map[int64]bool),
	}
}

// ForceNewSession routes the group's next send to a fresh server-side
// session. The flag is consumed by exactly one send.
func (c *GroupController) ForceNewSession(groupID int64) {
	c.mu.Lock()
	c.forceNew[groupID] = true
	c.mu.Unlock()
}

func (c *GroupController) takeForceNew(groupID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forceNew[groupID] {
		delete(c.forceNew, groupID)
		return true
	}
	return false
}

func (c *GroupController) acquire(key ConvKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[key] {
		return false
	}
	c.inflight[key] = true
	return true
}

func (c *GroupController) release(key ConvKey) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
}

// senderSlot tracks one member's in-flight reply: its accumulator plus the
// local id of the live store message mirroring it.
type senderSlot struct {
	acc     *accumulator
	localID string
	done    bool
}

// Send submits a host message to the group and consumes the streamed replies
// of every responding member before returning. Once the stream is open,
// failures are absorbed into the conversation; errors come only from the
// in-flight guard and from a request that never reached the server.
func (c *GroupController) Send(ctx context.Context, groupID int64, content string, mentions []string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	key := GroupKey(groupID)
	if !c.acquire(key) {
		return fmt.Errorf("group %d: %w", groupID, ErrBusy)
	}
	defer c.release(key)

	localID := ulid.Make().String()
	userMsg := Message{
		LocalID:    localID,
		Role:       RoleUser,
		Content:    content,
		SenderID:   "user",
		SenderType: "user",
		CreatedAt:  c.opts.Now(),
	}
	prevPreview := c.store.Preview(key)
	c.store.Upsert(key, userMsg)
	c.store.UpdatePreview(key, Preview{Text: content, At: userMsg.CreatedAt})
	c.store.SetStreaming(key, true)

	stream, err := c.backend.SendGroupMessage(ctx, groupID, wire.GroupSendRequest{
		Content:         content,
		Mentions:        mentions,
		EnableThinking:  c.opts.EnableThinking,
		NewSession:      c.takeForceNew(groupID),
		ClientRequestID: uuid.NewString(),
	})
	if err != nil {
		// The send never reached the server; withdraw the optimistic
		// message rather than fabricating a failed reply.
		c.opts.Logger.Printf("group %d: send failed: %v", groupID, err)
		c.store.RemoveLocal(key, localID)
		c.store.UpdatePreview(key, prevPreview)
		c.store.SetStreaming(key, false)
		return fmt.Errorf("sending to group %d: %w", groupID, err)
	}
	defer stream.Close()

	c.consume(key, groupID, stream, localID)
	return nil
}

// consume runs the demuxed frame loop for one group exchange.
func (c *GroupController) consume(key ConvKey, groupID int64, stream Stream, userLocalID string) {
	slots := make(map[string]*senderSlot)

	slot := func(senderID string) *senderSlot {
		s, ok := slots[senderID]
		if !ok {
			s = &senderSlot{
				acc:     newAccumulator(senderID, 0, c.opts.Now()),
				localID: ulid.Make().String(),
			}
			slots[senderID] = s
			live := s.acc.build("")
			live.ID = 0
			live.LocalID = s.localID
			c.store.Upsert(key, live)
			c.store.AddTyping(key, TypingUser{ID: senderID, Name: senderName(senderID)})
		}
		return s
	}

	// mirror pushes a slot's accumulated state into its live store message.
	mirror := func(s *senderSlot) {
		live := s.acc.build("")
		live.ID = 0
		live.LocalID = s.localID
		c.store.Upsert(key, live)
	}

	for {
		frame, err := stream.Next()
		if err != nil {
			if !isStreamEnd(err) {
				c.opts.Logger.Printf("%s: stream failed: %v", key, err)
			}
			c.abortRemaining(key, slots)
			return
		}

		data := frame.Data
		switch frame.Event {
		case wire.EventStart:
			// The opening start frame carries the user row's id in
			// message_id and names no sender; per-speaker starts name one.
			if userLocalID != "" {
				id := data.UserMessageID
				if id == 0 && data.SenderID == "" {
					id = data.MessageID
				}
				if id != 0 {
					c.promoteUser(key, userLocalID, id, data.SessionID)
					userLocalID = ""
				}
			}
			if data.SenderID != "" {
				s := slot(data.SenderID)
				s.acc.messageID = data.MessageID
				if data.SessionID != 0 {
					s.acc.sessionID = data.SessionID
				}
			}

		case wire.EventMetaParticipants:
			// A stale roster for another group or session is ignored.
			if data.GroupID != 0 && data.GroupID != groupID {
				continue
			}
			users := make([]TypingUser, 0, len(data.Participants))
			for _, p := range data.Participants {
				users = append(users, TypingUser{ID: p.ID.String(), Name: p.Name})
			}
			c.store.SetTyping(key, users)

		case wire.EventThinking, wire.EventModelThinking:
			s := slot(data.SenderID)
			s.acc.appendThinking(data.Delta)
			mirror(s)

		case wire.EventRecallThinking:
			s := slot(data.SenderID)
			s.acc.appendRecall(data.Delta)
			mirror(s)

		case wire.EventMessage:
			s := slot(data.SenderID)
			s.acc.appendContent(data.Delta)
			mirror(s)
			c.store.UpdatePreview(key, Preview{Text: s.acc.content, At: c.opts.Now()})

		case wire.EventToolCall:
			s := slot(data.SenderID)
			s.acc.toolCall(data.CallID, data.ToolName, data.Arguments)
			mirror(s)

		case wire.EventToolResult:
			s := slot(data.SenderID)
			s.acc.toolResult(data.CallID, data.ToolName, data.Result)
			mirror(s)

		case wire.EventError, wire.EventTaskError:
			if data.SenderID == "" {
				c.abortRemaining(key, slots)
				return
			}
			// One member failed; the rest keep streaming.
			if s, ok := slots[data.SenderID]; ok && !s.done {
				s.done = true
				c.degradeSender(key, s, errorNotice(data.ErrorDetail()))
			}
			c.store.RemoveTyping(key, data.SenderID)

		case wire.EventDone:
			s, ok := slots[data.SenderID]
			if !ok || s.done {
				continue
			}
			s.done = true
			if data.MessageID != 0 {
				s.acc.messageID = data.MessageID
			}
			if data.SessionID != 0 {
				s.acc.sessionID = data.SessionID
			}
			c.finalizeSender(key, s, data.Content)
			c.store.RemoveTyping(key, data.SenderID)
		}
	}
}

func (c *GroupController) promoteUser(key ConvKey, localID string, id, sessionID int64) {
	promoted := Message{
		ID:         id,
		LocalID:    localID,
		Role:       RoleUser,
		SenderID:   "user",
		SenderType: "user",
		SessionID:  sessionID,
	}
	for _, m := range c.store.Messages(key) {
		if m.LocalID == localID {
			promoted.Content = m.Content
			promoted.CreatedAt = m.CreatedAt
			break
		}
	}
	c.store.Upsert(key, promoted)
}

// finalizeSender commits one member's completed reply.
func (c *GroupController) finalizeSender(key ConvKey, s *senderSlot, contentOverride string) {
	msg := s.acc.build(contentOverride)
	msg.LocalID = s.localID
	c.store.Upsert(key, msg)
	c.store.UpdatePreview(key, Preview{Text: msg.Content, At: c.opts.Now()})
	c.store.MarkUnreadIfAway(key, segment.Count(msg.Content))
	if !c.opts.Focused() {
		c.opts.Attention(key)
	}
}

// degradeSender commits one member's partial reply with a failure notice.
func (c *GroupController) degradeSender(key ConvKey, s *senderSlot, notice string) {
	msg := s.acc.build("")
	msg.LocalID = s.localID
	if strings.TrimSpace(msg.Content) == "" {
		msg.Content = notice
	} else {
		msg.Content += "\n\n" + notice
	}
	c.store.Upsert(key, msg)
}

// abortRemaining degrades every unfinished sender and ends the exchange.
func (c *GroupController) abortRemaining(key ConvKey, slots map[string]*senderSlot) {
	for senderID, s := range slots {
		if s.done {
			continue
		}
		s.done = true
		c.degradeSender(key, s, interruptNotice)
		c.store.RemoveTyping(key, senderID)
	}
	c.finishExchange(key)
}

func (c *GroupController) finishExchange(key ConvKey) {
	c.store.ClearTyping(key)
	c.store.SetStreaming(key, false)
}

// StartNewSession marks the group so its next send opens a fresh session
// and clears the locally cached history.
func (c *GroupController) StartNewSession(groupID int64) {
	c.ForceNewSession(groupID)
	key := GroupKey(groupID)
	c.store.Clear(key)
	c.store.ResetUnread(key)
}

// senderName gives a stable display fallback for numeric sender ids.
func senderName(id string) string {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return "member " + id
	}
	return id
}
