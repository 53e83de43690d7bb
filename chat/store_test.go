// ABOUTME: Tests for the conversation store.
// ABOUTME: Covers upsert merging, ordering, unread accounting, typing rosters, and voice segment merging.

package chat

import (
	"testing"
	"time"

	"github.com/2389-research/parley/wire"
)

func TestConvKeyString(t *testing.T) {
	if got := FriendKey(7).String(); got != "f7" {
		t.Errorf("FriendKey(7) = %q, want %q", got, "f7")
	}
	if got := GroupKey(7).String(); got != "g7" {
		t.Errorf("GroupKey(7) = %q, want %q", got, "g7")
	}
	if FriendKey(7) == GroupKey(7) {
		t.Error("friend and group keys with the same id must differ")
	}
}

func TestUpsertIdempotent(t *testing.T) {
	s := NewStore()
	key := FriendKey(1)
	s.Upsert(key, Message{ID: 10, Role: RoleAssistant, Content: "first"})
	s.Upsert(key, Message{ID: 10, Role: RoleAssistant, Content: "second"})

	msgs := s.Messages(key)
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	if msgs[0].Content != "second" {
		t.Errorf("content = %q, want %q", msgs[0].Content, "second")
	}
}

func TestUpsertPromotesLocal(t *testing.T) {
	s := NewStore()
	key := FriendKey(1)
	s.Upsert(key, Message{LocalID: "abc", Role: RoleUser, Content: "hi"})
	s.Upsert(key, Message{ID: 50, LocalID: "abc", Role: RoleUser, Content: "hi", SessionID: 10})

	msgs := s.Messages(key)
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	if msgs[0].ID != 50 || msgs[0].SessionID != 10 {
		t.Errorf("got id=%d session=%d, want 50/10", msgs[0].ID, msgs[0].SessionID)
	}
}

func TestUpsertSortsLateArrival(t *testing.T) {
	s := NewStore()
	key := GroupKey(2)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Upsert(key, Message{ID: 2, Content: "later", CreatedAt: base.Add(time.Minute)})
	s.Upsert(key, Message{ID: 1, Content: "earlier", CreatedAt: base})

	msgs := s.Messages(key)
	if msgs[0].ID != 1 || msgs[1].ID != 2 {
		t.Errorf("order = [%d %d], want [1 2]", msgs[0].ID, msgs[1].ID)
	}
}

func TestUpsertPreservesVoiceOnReplace(t *testing.T) {
	s := NewStore()
	key := GroupKey(2)
	s.Upsert(key, Message{ID: 5, Content: "draft"})
	s.AttachVoice(key, 5, &wire.VoicePayload{VoiceID: "v1", Segments: []wire.VoiceSegment{{SegmentIndex: 0}}})
	s.Upsert(key, Message{ID: 5, Content: "final"})

	msgs := s.Messages(key)
	if msgs[0].Voice == nil || msgs[0].Voice.VoiceID != "v1" {
		t.Fatal("voice payload lost on replacement")
	}
	if msgs[0].Content != "final" {
		t.Errorf("content = %q, want %q", msgs[0].Content, "final")
	}
}

func TestPrependSkipsDuplicates(t *testing.T) {
	s := NewStore()
	key := FriendKey(3)
	s.SetMessages(key, []Message{{ID: 20, Content: "kept"}})

	added := s.Prepend(key, []Message{{ID: 19, Content: "old"}, {ID: 20, Content: "dup"}})
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}
	msgs := s.Messages(key)
	if len(msgs) != 2 || msgs[0].ID != 19 || msgs[1].Content != "kept" {
		t.Errorf("unexpected list: %+v", msgs)
	}
}

func TestMarkUnreadIfAway(t *testing.T) {
	s := NewStore()
	s.SetViewing(FriendKey(1))

	if got := s.MarkUnreadIfAway(FriendKey(2), 3); got != 3 {
		t.Errorf("away unread = %d, want 3", got)
	}
	if got := s.MarkUnreadIfAway(FriendKey(1), 3); got != 0 {
		t.Errorf("viewing unread = %d, want 0", got)
	}

	s.ResetUnread(FriendKey(2))
	if got := s.Unread(FriendKey(2)); got != 0 {
		t.Errorf("after reset = %d, want 0", got)
	}
}

func TestTypingRoster(t *testing.T) {
	s := NewStore()
	key := GroupKey(9)
	s.AddTyping(key, TypingUser{ID: "a", Name: "Ada"})
	s.AddTyping(key, TypingUser{ID: "a", Name: "Ada"})
	s.AddTyping(key, TypingUser{ID: "b", Name: "Bo"})

	if got := len(s.Typing(key)); got != 2 {
		t.Fatalf("roster size = %d, want 2", got)
	}
	s.RemoveTyping(key, "a")
	if got := s.Typing(key); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("roster = %+v, want [b]", got)
	}
	s.ClearTyping(key)
	if s.Typing(key) != nil {
		t.Error("roster not cleared")
	}
}

func TestAppendDeltaNoOpOnMiss(t *testing.T) {
	s := NewStore()
	key := FriendKey(1)
	s.AppendDelta(key, "missing", "x")
	if got := s.Messages(key); len(got) != 0 {
		t.Errorf("delta for unknown message created %d entries", len(got))
	}
}

func TestMergeVoiceSegment(t *testing.T) {
	s := NewStore()
	key := GroupKey(4)
	s.Upsert(key, Message{ID: 7, Content: "spoken"})

	if !s.MergeVoiceSegment(key, 7, wire.VoiceSegment{SegmentIndex: 1, Text: "b"}) {
		t.Fatal("merge reported miss")
	}
	s.MergeVoiceSegment(key, 7, wire.VoiceSegment{SegmentIndex: 0, Text: "a"})
	// Repeat of an index replaces, never duplicates.
	s.MergeVoiceSegment(key, 7, wire.VoiceSegment{SegmentIndex: 1, Text: "b2"})

	msg := s.Messages(key)[0]
	segs := msg.Voice.Segments
	if len(segs) != 2 || segs[0].SegmentIndex != 0 || segs[1].Text != "b2" {
		t.Errorf("segments = %+v", segs)
	}
	if len(msg.VoiceUnread) != 2 {
		t.Errorf("unread = %v, want two entries", msg.VoiceUnread)
	}

	if s.MergeVoiceSegment(key, 999, wire.VoiceSegment{}) {
		t.Error("merge against unknown message reported success")
	}
}

func TestMarkVoiceHeard(t *testing.T) {
	s := NewStore()
	key := GroupKey(4)
	s.Upsert(key, Message{ID: 7})
	s.AttachVoice(key, 7, &wire.VoicePayload{Segments: []wire.VoiceSegment{{SegmentIndex: 0}, {SegmentIndex: 1}}})

	s.MarkVoiceHeard(key, 7, 0)
	msg := s.Messages(key)[0]
	if len(msg.VoiceUnread) != 1 || msg.VoiceUnread[0] != 1 {
		t.Errorf("unread = %v, want [1]", msg.VoiceUnread)
	}
}

func TestNotifierDeliversStoreEvents(t *testing.T) {
	s := NewStore()
	defer s.Close()
	ch := s.Notifier().Subscribe()

	key := FriendKey(6)
	s.Upsert(key, Message{ID: 1, Content: "x"})

	select {
	case ev := <-ch:
		if ev.Kind != EventMessagesChanged || ev.Key != key {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestClearDropsMessages(t *testing.T) {
	s := NewStore()
	key := FriendKey(8)
	s.Upsert(key, Message{ID: 1})
	s.Clear(key)
	if got := s.Messages(key); len(got) != 0 {
		t.Errorf("messages after clear = %d", len(got))
	}
}
