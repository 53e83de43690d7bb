// ABOUTME: Controller for server-run auto-drive group discussions.
// ABOUTME: Lifecycle control, a long-lived demuxed SSE subscription, voice attachment, and host interjection hydration.

package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/2389-research/parley/segment"
	"github.com/2389-research/parley/wire"
)

// Interjection hydration retry schedule. The persisted host row may lag the
// start frame that announces it.
const (
	hydrateAttempts = 3
	hydrateInterval = 200 * time.Millisecond
)

// driveSub is one group's open subscription.
type driveSub struct {
	cancel context.CancelFunc
}

// AutoDriveController manages autonomous multi-turn group discussions whose
// lifecycle is independent of any single HTTP request. One long-lived SSE
// subscription per group carries the discussion; lifecycle calls are plain
// request/response and each replaces the cached run snapshot wholesale.
type AutoDriveController struct {
	backend Backend
	store   *Store
	opts    Options

	// pollInterval overrides the hydration retry spacing; tests shorten it.
	pollInterval time.Duration

	mu        sync.Mutex
	subs      map[int64]*driveSub
	lastError map[int64]string
	// pendingVoice holds voice data that arrived before its owning message
	// existed in the store, keyed by message id.
	pendingVoice map[int64]*pendingVoice
}

type pendingVoice struct {
	payload  *wire.VoicePayload
	segments []wire.VoiceSegment
}

// NewAutoDriveController creates a controller over the given backend and store.
func NewAutoDriveController(backend Backend, store *Store, opts Options) *AutoDriveController {
	opts.fill()
	return &AutoDriveController{
		backend:      backend,
		store:        store,
		opts:         opts,
		pollInterval: hydrateInterval,
		subs:         make(map[int64]*driveSub),
		lastError:    make(map[int64]string),
		pendingVoice: make(map[int64]*pendingVoice),
	}
}

// LastError returns the group's retained run error string, if any.
func (c *AutoDriveController) LastError(groupID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError[groupID]
}

func (c *AutoDriveController) setError(groupID int64, msg string) {
	c.mu.Lock()
	c.lastError[groupID] = msg
	c.mu.Unlock()
	c.store.emit(EventDriveChanged, GroupKey(groupID))
}

// Start launches a run for the group and attaches the event subscription.
func (c *AutoDriveController) Start(ctx context.Context, groupID int64, cfg wire.AutoDriveConfig) (*AutoDriveState, error) {
	st, err := c.backend.AutoDriveStart(ctx, wire.AutoDriveStartRequest{
		GroupID:        groupID,
		Config:         cfg,
		EnableThinking: c.opts.EnableThinking,
	})
	if err != nil {
		return nil, fmt.Errorf("starting auto-drive for group %d: %w", groupID, err)
	}
	c.setError(groupID, "")
	state := c.replaceState(groupID, &st)
	c.EnsureStream(groupID)
	return state, nil
}

// Pause suspends the run after the current turn.
func (c *AutoDriveController) Pause(ctx context.Context, groupID int64) (*AutoDriveState, error) {
	return c.lifecycle(ctx, groupID, "pausing", c.backend.AutoDrivePause)
}

// Resume continues a paused run.
func (c *AutoDriveController) Resume(ctx context.Context, groupID int64) (*AutoDriveState, error) {
	st, err := c.lifecycle(ctx, groupID, "resuming", c.backend.AutoDriveResume)
	if err == nil {
		c.EnsureStream(groupID)
	}
	return st, err
}

// Stop ends the run.
func (c *AutoDriveController) Stop(ctx context.Context, groupID int64) (*AutoDriveState, error) {
	return c.lifecycle(ctx, groupID, "stopping", c.backend.AutoDriveStop)
}

func (c *AutoDriveController) lifecycle(ctx context.Context, groupID int64, verb string, call func(context.Context, int64) (wire.AutoDriveStateRead, error)) (*AutoDriveState, error) {
	st, err := call(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("%s auto-drive for group %d: %w", verb, groupID, err)
	}
	return c.replaceState(groupID, &st), nil
}

// FetchState pulls a fresh snapshot from the server, replaces the cached
// one, and re-derives whether the subscription should be open.
func (c *AutoDriveController) FetchState(ctx context.Context, groupID int64) (*AutoDriveState, error) {
	st, err := c.backend.AutoDriveState(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("fetching auto-drive state for group %d: %w", groupID, err)
	}
	if st == nil {
		c.store.SetDrive(GroupKey(groupID), nil)
		return nil, nil
	}
	state := c.replaceState(groupID, st)
	if state.Active() {
		c.EnsureStream(groupID)
	}
	return state, nil
}

// replaceState swaps the group's cached snapshot wholesale.
func (c *AutoDriveController) replaceState(groupID int64, st *wire.AutoDriveStateRead) *AutoDriveState {
	state := &AutoDriveState{AutoDriveStateRead: *st}
	c.store.SetDrive(GroupKey(groupID), state)
	return state
}

// EnsureStream opens the group's event subscription if one is not already
// open. Idempotent: a second call while a subscription is open is a no-op.
func (c *AutoDriveController) EnsureStream(groupID int64) {
	c.mu.Lock()
	if _, open := c.subs[groupID]; open {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.subs[groupID] = &driveSub{cancel: cancel}
	c.mu.Unlock()

	go c.run(ctx, groupID)
}

// Disconnect aborts the group's subscription, if open.
func (c *AutoDriveController) Disconnect(groupID int64) {
	c.mu.Lock()
	sub, open := c.subs[groupID]
	delete(c.subs, groupID)
	c.mu.Unlock()
	if open {
		sub.cancel()
	}
}

func (c *AutoDriveController) dropSub(groupID int64) {
	c.mu.Lock()
	delete(c.subs, groupID)
	c.mu.Unlock()
}

// run owns one subscription from open to close.
func (c *AutoDriveController) run(ctx context.Context, groupID int64) {
	key := GroupKey(groupID)
	defer c.dropSub(groupID)

	stream, err := c.backend.AutoDriveStream(ctx, groupID)
	if err != nil {
		c.opts.Logger.Printf("%s: auto-drive subscribe failed: %v", key, err)
		c.setError(groupID, err.Error())
		c.store.MarkDriveDisconnected(key)
		c.store.SetStreaming(key, false)
		return
	}
	defer stream.Close()
	c.store.SetStreaming(key, true)

	c.consume(ctx, key, groupID, stream)
}

// consume runs the subscription frame loop, demuxed by (sender, message) so
// consecutive turns from the same speaker stay separate.
func (c *AutoDriveController) consume(ctx context.Context, key ConvKey, groupID int64, stream Stream) {
	accs := newAccumSet(c.opts.Now)
	locals := make(map[accumKey]string)

	slot := func(senderID string, messageID int64) (*accumulator, string) {
		k := accumKey{SenderID: senderID, MessageID: messageID}
		if _, ok := accs.lookup(k); !ok {
			a := accs.get(k)
			locals[k] = ulid.Make().String()
			live := a.build("")
			live.ID = 0
			live.LocalID = locals[k]
			c.store.Upsert(key, live)
			c.store.AddTyping(key, TypingUser{ID: senderID, Name: senderName(senderID)})
			return a, locals[k]
		}
		return accs.get(k), locals[k]
	}

	mirror := func(a *accumulator, localID string) {
		live := a.build("")
		live.ID = 0
		live.LocalID = localID
		c.store.Upsert(key, live)
	}

	for {
		frame, err := stream.Next()
		if err != nil {
			c.store.ClearTyping(key)
			c.store.SetStreaming(key, false)
			if isStreamEnd(err) || ctx.Err() != nil {
				return
			}
			c.opts.Logger.Printf("%s: auto-drive stream failed: %v", key, err)
			c.setError(groupID, err.Error())
			c.store.MarkDriveDisconnected(key)
			return
		}

		data := frame.Data
		switch frame.Event {
		case wire.EventAutoDriveState:
			if frame.State != nil {
				c.replaceState(groupID, frame.State)
			}

		case wire.EventAutoDriveError:
			// Non-fatal for the subscription; record and keep reading.
			c.setError(groupID, data.ErrorDetail())

		case wire.EventAutoDriveDone:
			c.store.SetDrive(key, nil)
			c.store.ClearTyping(key)

		case wire.EventStart:
			// Every start frame on this subscription announces the persisted
			// host row that opens the turn; it names no speaker. Speaker
			// output is keyed by the message frames that follow.
			id := data.UserMessageID
			if id == 0 {
				id = data.MessageID
			}
			if id != 0 {
				go c.hydrateInterjection(key, groupID, id)
			}

		case wire.EventThinking, wire.EventModelThinking:
			a, localID := slot(data.SenderID, data.MessageID)
			a.appendThinking(data.Delta)
			mirror(a, localID)

		case wire.EventRecallThinking:
			a, localID := slot(data.SenderID, data.MessageID)
			a.appendRecall(data.Delta)
			mirror(a, localID)

		case wire.EventMessage:
			a, localID := slot(data.SenderID, data.MessageID)
			a.appendContent(data.Delta)
			mirror(a, localID)
			c.store.UpdatePreview(key, Preview{Text: a.content, At: c.opts.Now()})

		case wire.EventToolCall:
			a, localID := slot(data.SenderID, data.MessageID)
			a.toolCall(data.CallID, data.ToolName, data.Arguments)
			mirror(a, localID)

		case wire.EventToolResult:
			a, localID := slot(data.SenderID, data.MessageID)
			a.toolResult(data.CallID, data.ToolName, data.Result)
			mirror(a, localID)

		case wire.EventVoiceSegment:
			if data.Segment != nil {
				c.attachSegment(key, data.MessageID, *data.Segment)
			}

		case wire.EventVoicePayload:
			if data.Payload != nil {
				c.attachPayload(key, data.MessageID, data.Payload)
			}

		case wire.EventError, wire.EventTaskError:
			k := accumKey{SenderID: data.SenderID, MessageID: data.MessageID}
			if a, ok := accs.lookup(k); ok {
				msg := a.build("")
				msg.LocalID = locals[k]
				if strings.TrimSpace(msg.Content) == "" {
					msg.Content = errorNotice(data.ErrorDetail())
				} else {
					msg.Content += "\n\n" + errorNotice(data.ErrorDetail())
				}
				c.store.Upsert(key, msg)
				accs.remove(k)
				delete(locals, k)
			} else {
				c.setError(groupID, data.ErrorDetail())
			}
			c.store.RemoveTyping(key, data.SenderID)

		case wire.EventDone:
			k := accumKey{SenderID: data.SenderID, MessageID: data.MessageID}
			a, ok := accs.lookup(k)
			if !ok {
				continue
			}
			if data.MessageID != 0 {
				a.messageID = data.MessageID
			}
			if data.SessionID != 0 {
				a.sessionID = data.SessionID
			}
			msg := a.build(data.Content)
			msg.LocalID = locals[k]
			c.store.Upsert(key, msg)
			c.applyPendingVoice(key, msg.ID)
			c.store.UpdatePreview(key, Preview{Text: msg.Content, At: c.opts.Now()})
			c.store.MarkUnreadIfAway(key, segment.Count(msg.Content))
			if !c.opts.Focused() {
				c.opts.Attention(key)
			}
			c.store.RemoveTyping(key, data.SenderID)
			accs.remove(k)
			delete(locals, k)
		}
	}
}

// attachSegment applies a voice segment now, or parks it until the owning
// message exists.
func (c *AutoDriveController) attachSegment(key ConvKey, messageID int64, seg wire.VoiceSegment) {
	if c.store.MergeVoiceSegment(key, messageID, seg) {
		return
	}
	c.mu.Lock()
	p := c.pendingVoice[messageID]
	if p == nil {
		p = &pendingVoice{}
		c.pendingVoice[messageID] = p
	}
	p.segments = append(p.segments, seg)
	c.mu.Unlock()
}

// attachPayload applies a full voice payload now, or parks it.
func (c *AutoDriveController) attachPayload(key ConvKey, messageID int64, payload *wire.VoicePayload) {
	if c.store.AttachVoice(key, messageID, payload) {
		return
	}
	c.mu.Lock()
	p := c.pendingVoice[messageID]
	if p == nil {
		p = &pendingVoice{}
		c.pendingVoice[messageID] = p
	}
	p.payload = payload
	c.mu.Unlock()
}

// applyPendingVoice drains parked voice data for a freshly created message.
func (c *AutoDriveController) applyPendingVoice(key ConvKey, messageID int64) {
	if messageID == 0 {
		return
	}
	c.mu.Lock()
	p, ok := c.pendingVoice[messageID]
	delete(c.pendingVoice, messageID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if p.payload != nil {
		c.store.AttachVoice(key, messageID, p.payload)
	}
	for _, seg := range p.segments {
		c.store.MergeVoiceSegment(key, messageID, seg)
	}
}

// hydrateInterjection short-polls the recent-messages endpoint for the
// persisted host row announced by a start frame, since its authoritative
// content is only known once stored server-side.
func (c *AutoDriveController) hydrateInterjection(key ConvKey, groupID, messageID int64) {
	if messageID == 0 {
		return
	}
	for attempt := 0; attempt < hydrateAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(c.pollInterval)
		}
		row, err := c.backend.GetGroupMessage(context.Background(), groupID, messageID)
		if err != nil {
			continue
		}
		c.store.Upsert(key, FromGroupMessageRead(row))
		return
	}
	c.opts.Logger.Printf("%s: interjection %d not yet persisted after %d attempts", key, messageID, hydrateAttempts)
}

// Interject injects a host message into the running discussion. Failures
// are returned to the caller; on success the persisted row is hydrated by
// short-poll in the background.
func (c *AutoDriveController) Interject(ctx context.Context, groupID int64, content string, mentions []string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	key := GroupKey(groupID)
	id, err := c.backend.AutoDriveInterject(ctx, wire.AutoDriveInterjectRequest{
		GroupID:         groupID,
		Content:         content,
		Mentions:        mentions,
		ClientRequestID: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("interjecting in group %d: %w", groupID, err)
	}
	c.store.UpdatePreview(key, Preview{Text: content, At: c.opts.Now()})
	go c.hydrateInterjection(key, groupID, id)
	return nil
}
