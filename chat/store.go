// ABOUTME: In-memory conversation state store guarded by a single mutex.
// ABOUTME: Holds messages, typing rosters, unread counts, previews, and auto-drive snapshots per conversation.

package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/2389-research/parley/wire"
)

// convState is the per-conversation slice of the store.
type convState struct {
	messages  []Message
	streaming bool
	typing    []TypingUser
	unread    int
	preview   Preview
	drive     *AutoDriveState
}

// Store is the client-side source of truth for all conversation state.
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	convs   map[ConvKey]*convState
	viewing ConvKey
	hasView bool

	notifier *Notifier
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		convs:    make(map[ConvKey]*convState),
		notifier: NewNotifier(),
	}
}

// Notifier returns the store's change notifier.
func (s *Store) Notifier() *Notifier { return s.notifier }

// Close shuts down the notifier.
func (s *Store) Close() { s.notifier.Close() }

func (s *Store) conv(key ConvKey) *convState {
	c, ok := s.convs[key]
	if !ok {
		c = &convState{}
		s.convs[key] = c
	}
	return c
}

func (s *Store) emit(kind EventKind, key ConvKey) {
	s.notifier.Emit(StoreEvent{Kind: kind, Key: key, Timestamp: time.Now()})
}

// SetViewing records which conversation the user is currently looking at.
func (s *Store) SetViewing(key ConvKey) {
	s.mu.Lock()
	s.viewing = key
	s.hasView = true
	s.mu.Unlock()
}

// ClearViewing records that no conversation is open.
func (s *Store) ClearViewing() {
	s.mu.Lock()
	s.hasView = false
	s.mu.Unlock()
}

// Viewing returns the open conversation, if any.
func (s *Store) Viewing() (ConvKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewing, s.hasView
}

// Messages returns a copy of the conversation's message list.
func (s *Store) Messages(key ConvKey) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key]
	if !ok {
		return nil
	}
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// SetMessages replaces the conversation's message list.
func (s *Store) SetMessages(key ConvKey, msgs []Message) {
	s.mu.Lock()
	c := s.conv(key)
	c.messages = append([]Message(nil), msgs...)
	s.mu.Unlock()
	s.emit(EventMessagesChanged, key)
}

// Upsert inserts or updates one message. A message with a server ID replaces
// an existing entry with the same ID, or promotes a local entry sharing its
// LocalID. Otherwise it is inserted in creation-time order. Voice attachments
// already present on the stored entry survive a replacement that carries none.
func (s *Store) Upsert(key ConvKey, msg Message) {
	s.mu.Lock()
	c := s.conv(key)

	replaced := false
	if msg.ID != 0 {
		for i := range c.messages {
			if c.messages[i].ID == msg.ID {
				mergeVoice(&msg, &c.messages[i])
				c.messages[i] = msg
				replaced = true
				break
			}
		}
		if !replaced && msg.LocalID != "" {
			for i := range c.messages {
				if c.messages[i].IsLocal() && c.messages[i].LocalID == msg.LocalID {
					mergeVoice(&msg, &c.messages[i])
					c.messages[i] = msg
					replaced = true
					break
				}
			}
		}
	} else if msg.LocalID != "" {
		for i := range c.messages {
			if c.messages[i].LocalID == msg.LocalID {
				c.messages[i] = msg
				replaced = true
				break
			}
		}
	}

	if !replaced {
		c.messages = append(c.messages, msg)
		// Keep creation-time order; appends in order are the common case, so
		// only sort when the new tail is out of place.
		n := len(c.messages)
		if n > 1 && c.messages[n-1].CreatedAt.Before(c.messages[n-2].CreatedAt) {
			sort.SliceStable(c.messages, func(i, j int) bool {
				return c.messages[i].CreatedAt.Before(c.messages[j].CreatedAt)
			})
		}
	}
	s.mu.Unlock()
	s.emit(EventMessagesChanged, key)
}

func mergeVoice(incoming, existing *Message) {
	if incoming.Voice == nil {
		incoming.Voice = existing.Voice
		incoming.VoiceUnread = existing.VoiceUnread
	}
}

// Prepend inserts older history before the current list, skipping any
// message whose server ID is already present.
func (s *Store) Prepend(key ConvKey, older []Message) int {
	s.mu.Lock()
	c := s.conv(key)
	seen := make(map[int64]bool, len(c.messages))
	for _, m := range c.messages {
		if m.ID != 0 {
			seen[m.ID] = true
		}
	}
	fresh := make([]Message, 0, len(older))
	for _, m := range older {
		if m.ID != 0 && seen[m.ID] {
			continue
		}
		fresh = append(fresh, m)
	}
	c.messages = append(fresh, c.messages...)
	added := len(fresh)
	s.mu.Unlock()
	if added > 0 {
		s.emit(EventMessagesChanged, key)
	}
	return added
}

// RemoveLocal deletes a not-yet-acknowledged message by its local ID.
func (s *Store) RemoveLocal(key ConvKey, localID string) bool {
	s.mu.Lock()
	c := s.conv(key)
	removed := false
	for i := range c.messages {
		if c.messages[i].IsLocal() && c.messages[i].LocalID == localID {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()
	if removed {
		s.emit(EventMessagesChanged, key)
	}
	return removed
}

// Mutate applies fn to the message with the given server ID, if present.
func (s *Store) Mutate(key ConvKey, id int64, fn func(*Message)) bool {
	s.mu.Lock()
	c := s.conv(key)
	found := false
	for i := range c.messages {
		if c.messages[i].ID == id {
			fn(&c.messages[i])
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.emit(EventMessagesChanged, key)
	}
	return found
}

// AppendDelta appends streamed text to a message identified by local ID.
// Unknown targets are ignored; a delta for a message that was already
// finalized or withdrawn must not resurrect it.
func (s *Store) AppendDelta(key ConvKey, localID string, delta string) {
	s.mu.Lock()
	c := s.conv(key)
	found := false
	for i := range c.messages {
		if c.messages[i].LocalID == localID {
			c.messages[i].Content += delta
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.emit(EventMessagesChanged, key)
	}
}

// Clear drops every message in the conversation.
func (s *Store) Clear(key ConvKey) {
	s.mu.Lock()
	c := s.conv(key)
	c.messages = nil
	s.mu.Unlock()
	s.emit(EventMessagesChanged, key)
}

// SetStreaming flips the conversation's streaming flag.
func (s *Store) SetStreaming(key ConvKey, on bool) {
	s.mu.Lock()
	c := s.conv(key)
	changed := c.streaming != on
	c.streaming = on
	s.mu.Unlock()
	if changed {
		s.emit(EventStreamingChanged, key)
	}
}

// Streaming reports whether the conversation has a stream in flight.
func (s *Store) Streaming(key ConvKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key]
	return ok && c.streaming
}

// SetTyping replaces the conversation's typing roster.
func (s *Store) SetTyping(key ConvKey, users []TypingUser) {
	s.mu.Lock()
	c := s.conv(key)
	c.typing = append([]TypingUser(nil), users...)
	s.mu.Unlock()
	s.emit(EventTypingChanged, key)
}

// AddTyping adds one user to the typing roster if not already present.
func (s *Store) AddTyping(key ConvKey, u TypingUser) {
	s.mu.Lock()
	c := s.conv(key)
	for _, t := range c.typing {
		if t.ID == u.ID {
			s.mu.Unlock()
			return
		}
	}
	c.typing = append(c.typing, u)
	s.mu.Unlock()
	s.emit(EventTypingChanged, key)
}

// RemoveTyping removes one user from the typing roster.
func (s *Store) RemoveTyping(key ConvKey, id string) {
	s.mu.Lock()
	c := s.conv(key)
	removed := false
	for i, t := range c.typing {
		if t.ID == id {
			c.typing = append(c.typing[:i], c.typing[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()
	if removed {
		s.emit(EventTypingChanged, key)
	}
}

// Typing returns a copy of the conversation's typing roster.
func (s *Store) Typing(key ConvKey) []TypingUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key]
	if !ok || len(c.typing) == 0 {
		return nil
	}
	out := make([]TypingUser, len(c.typing))
	copy(out, c.typing)
	return out
}

// ClearTyping empties the typing roster.
func (s *Store) ClearTyping(key ConvKey) {
	s.mu.Lock()
	c := s.conv(key)
	had := len(c.typing) > 0
	c.typing = nil
	s.mu.Unlock()
	if had {
		s.emit(EventTypingChanged, key)
	}
}

// MarkUnreadIfAway adds count to the conversation's unread total unless the
// user is currently viewing it. Returns the new total.
func (s *Store) MarkUnreadIfAway(key ConvKey, count int) int {
	s.mu.Lock()
	c := s.conv(key)
	if !(s.hasView && s.viewing == key) {
		c.unread += count
	}
	total := c.unread
	s.mu.Unlock()
	s.emit(EventUnreadChanged, key)
	return total
}

// ResetUnread zeroes the conversation's unread count.
func (s *Store) ResetUnread(key ConvKey) {
	s.mu.Lock()
	c := s.conv(key)
	changed := c.unread != 0
	c.unread = 0
	s.mu.Unlock()
	if changed {
		s.emit(EventUnreadChanged, key)
	}
}

// Unread returns the conversation's unread count.
func (s *Store) Unread(key ConvKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key]
	if !ok {
		return 0
	}
	return c.unread
}

// UpdatePreview sets the conversation's contact-list preview.
func (s *Store) UpdatePreview(key ConvKey, p Preview) {
	s.mu.Lock()
	c := s.conv(key)
	c.preview = p
	s.mu.Unlock()
	s.emit(EventPreviewChanged, key)
}

// Preview returns the conversation's contact-list preview.
func (s *Store) Preview(key ConvKey) Preview {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key]
	if !ok {
		return Preview{}
	}
	return c.preview
}

// SetDrive replaces the group's auto-drive snapshot wholesale.
func (s *Store) SetDrive(key ConvKey, st *AutoDriveState) {
	s.mu.Lock()
	c := s.conv(key)
	c.drive = st
	s.mu.Unlock()
	s.emit(EventDriveChanged, key)
}

// Drive returns the group's auto-drive snapshot, or nil.
func (s *Store) Drive(key ConvKey) *AutoDriveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key]
	if !ok || c.drive == nil {
		return nil
	}
	st := *c.drive
	return &st
}

// MarkDriveDisconnected flags the run's stream as detached without touching
// the last server snapshot.
func (s *Store) MarkDriveDisconnected(key ConvKey) {
	s.mu.Lock()
	c := s.conv(key)
	changed := false
	if c.drive != nil && !c.drive.Disconnected {
		c.drive.Disconnected = true
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.emit(EventDriveChanged, key)
	}
}

// AttachVoice adds a voice payload to the message with the given server ID
// and records all of its segments as unheard.
func (s *Store) AttachVoice(key ConvKey, messageID int64, payload *wire.VoicePayload) bool {
	if payload == nil {
		return false
	}
	s.mu.Lock()
	c := s.conv(key)
	found := false
	for i := range c.messages {
		if c.messages[i].ID == messageID {
			c.messages[i].Voice = payload
			unread := make([]int, len(payload.Segments))
			for j := range payload.Segments {
				unread[j] = j
			}
			c.messages[i].VoiceUnread = unread
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.emit(EventVoiceArrived, key)
	}
	return found
}

// MergeVoiceSegment inserts one voice segment into the message's payload,
// keyed by segment index. Inserts are idempotent and keep segments sorted
// ascending; a repeated index replaces the stored segment.
func (s *Store) MergeVoiceSegment(key ConvKey, messageID int64, seg wire.VoiceSegment) bool {
	s.mu.Lock()
	c := s.conv(key)
	found := false
	for i := range c.messages {
		if c.messages[i].ID != messageID {
			continue
		}
		m := &c.messages[i]
		if m.Voice == nil {
			m.Voice = &wire.VoicePayload{}
		}
		mergeSegment(m, seg)
		found = true
		break
	}
	s.mu.Unlock()
	if found {
		s.emit(EventVoiceArrived, key)
	}
	return found
}

func mergeSegment(m *Message, seg wire.VoiceSegment) {
	segs := m.Voice.Segments
	pos := len(segs)
	for i := range segs {
		if segs[i].SegmentIndex == seg.SegmentIndex {
			segs[i] = seg
			return
		}
		if segs[i].SegmentIndex > seg.SegmentIndex {
			pos = i
			break
		}
	}
	segs = append(segs, wire.VoiceSegment{})
	copy(segs[pos+1:], segs[pos:])
	segs[pos] = seg
	m.Voice.Segments = segs
	m.VoiceUnread = append(m.VoiceUnread, seg.SegmentIndex)
}

// MarkVoiceHeard removes one segment index from a message's unheard list.
func (s *Store) MarkVoiceHeard(key ConvKey, messageID int64, segment int) {
	s.mu.Lock()
	c := s.conv(key)
	changed := false
	for i := range c.messages {
		if c.messages[i].ID != messageID {
			continue
		}
		for j, idx := range c.messages[i].VoiceUnread {
			if idx == segment {
				c.messages[i].VoiceUnread = append(c.messages[i].VoiceUnread[:j], c.messages[i].VoiceUnread[j+1:]...)
				changed = true
				break
			}
		}
		break
	}
	s.mu.Unlock()
	if changed {
		s.emit(EventMessagesChanged, key)
	}
}
