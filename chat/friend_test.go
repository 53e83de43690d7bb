// ABOUTME: Tests for the 1:1 stream controller.
// ABOUTME: Covers optimistic send, finalization, failure annotation, regenerate rollback, and recall cascade.

package chat

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/2389-research/parley/wire"
)

func friendFixture(stream Stream) (*FriendController, *Store) {
	store := NewStore()
	backend := &fakeBackend{
		sendFriend: func(ctx context.Context, friendID int64, req wire.SendMessageRequest) (Stream, error) {
			return stream, nil
		},
	}
	return NewFriendController(backend, store, Options{}), store
}

func TestSendEndToEnd(t *testing.T) {
	stream := newFrameStream(
		wire.StreamFrame{Event: wire.EventStart, Data: wire.FrameData{SessionID: 10, MessageID: 100, UserMessageID: 50}},
		wire.StreamFrame{Event: wire.EventMessage, Data: wire.FrameData{Delta: "Hi "}},
		wire.StreamFrame{Event: wire.EventMessage, Data: wire.FrameData{Delta: "there"}},
		wire.StreamFrame{Event: wire.EventDone, Data: wire.FrameData{MessageID: 100, Content: "Hi there"}},
	)
	c, store := friendFixture(stream)
	key := FriendKey(5)
	store.SetViewing(key)

	if err := c.Send(context.Background(), 5, "Hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs := store.Messages(key)
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(msgs), msgs)
	}
	if msgs[0].ID != 50 || msgs[0].Role != RoleUser || msgs[0].Content != "Hello" || msgs[0].SessionID != 10 {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].ID != 100 || msgs[1].Role != RoleAssistant || msgs[1].Content != "Hi there" || msgs[1].SessionID != 10 {
		t.Errorf("assistant message = %+v", msgs[1])
	}
	if store.Streaming(key) {
		t.Error("streaming flag still set")
	}
	if store.Unread(key) != 0 {
		t.Error("unread incremented while viewing")
	}
	if !stream.closed {
		t.Error("stream not closed")
	}
}

func TestSendUnreadWhileAway(t *testing.T) {
	stream := newFrameStream(
		wire.StreamFrame{Event: wire.EventStart, Data: wire.FrameData{SessionID: 1, MessageID: 2, UserMessageID: 3}},
		wire.StreamFrame{Event: wire.EventDone, Data: wire.FrameData{MessageID: 2,
			Content: "<message>a</message><message>b</message><message>c</message>"}},
	)
	c, store := friendFixture(stream)
	store.SetViewing(FriendKey(1))

	if err := c.Send(context.Background(), 2, "hey"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := store.Unread(FriendKey(2)); got != 3 {
		t.Errorf("unread = %d, want 3", got)
	}
}

func TestSendErrorFrame(t *testing.T) {
	stream := newFrameStream(
		wire.StreamFrame{Event: wire.EventStart, Data: wire.FrameData{SessionID: 1, MessageID: 2, UserMessageID: 3}},
		wire.StreamFrame{Event: wire.EventMessage, Data: wire.FrameData{Delta: "part"}},
		wire.StreamFrame{Event: wire.EventError, Data: wire.FrameData{Detail: "quota exceeded"}},
	)
	c, store := friendFixture(stream)
	key := FriendKey(5)

	if err := c.Send(context.Background(), 5, "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := store.Messages(key)
	last := msgs[len(msgs)-1]
	if last.Content != "part\n\n[error: quota exceeded]" {
		t.Errorf("content = %q", last.Content)
	}
	if store.Streaming(key) {
		t.Error("streaming flag still set")
	}
}

func TestSendTransportDrop(t *testing.T) {
	stream := newFrameStream(
		wire.StreamFrame{Event: wire.EventMessage, Data: wire.FrameData{Delta: "half"}},
	)
	stream.finErr = errors.New("connection reset")
	c, store := friendFixture(stream)
	key := FriendKey(5)

	if err := c.Send(context.Background(), 5, "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := store.Messages(key)
	last := msgs[len(msgs)-1]
	if last.Content != "half\n\n[connection interrupted]" {
		t.Errorf("content = %q", last.Content)
	}
}

func TestSendRequestFailureRollsBack(t *testing.T) {
	store := NewStore()
	key := FriendKey(5)
	store.UpdatePreview(key, Preview{Text: "earlier"})
	backend := &fakeBackend{
		sendFriend: func(ctx context.Context, friendID int64, req wire.SendMessageRequest) (Stream, error) {
			return nil, errors.New("dial tcp: refused")
		},
	}
	c := NewFriendController(backend, store, Options{})

	if err := c.Send(context.Background(), 5, "hello"); err == nil {
		t.Fatal("expected error")
	}
	if got := store.Messages(key); len(got) != 0 {
		t.Errorf("optimistic message not withdrawn: %+v", got)
	}
	if got := store.Preview(key); got.Text != "earlier" {
		t.Errorf("preview = %q, want rollback", got.Text)
	}
	if store.Streaming(key) {
		t.Error("streaming flag still set")
	}
}

func TestSendEmptyIgnored(t *testing.T) {
	c, store := friendFixture(nil)
	if err := c.Send(context.Background(), 5, "   "); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := store.Messages(FriendKey(5)); len(got) != 0 {
		t.Errorf("messages = %d, want 0", len(got))
	}
}

func TestSendBusy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	live := newChanStream(ctx)
	c, store := friendFixture(live)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Send(ctx, 5, "first")
	}()
	waitFor(t, func() bool { return store.Streaming(FriendKey(5)) })

	if err := c.Send(ctx, 5, "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	close(live.ch)
	<-done

	// The closed stream ends immediately, so a follow-up send proves the
	// guard was released.
	if err := c.Send(context.Background(), 5, "third"); err != nil {
		t.Errorf("guard not released: %v", err)
	}
}

func TestSessionsRefreshedAfterDone(t *testing.T) {
	stream := newFrameStream(
		wire.StreamFrame{Event: wire.EventDone, Data: wire.FrameData{MessageID: 2, Content: "ok"}},
	)
	store := NewStore()
	title := "t"
	backend := &fakeBackend{
		sendFriend: func(ctx context.Context, friendID int64, req wire.SendMessageRequest) (Stream, error) {
			return stream, nil
		},
		listSessions: func(ctx context.Context, friendID int64) ([]wire.ChatSession, error) {
			return []wire.ChatSession{{ID: 9, Title: &title}}, nil
		},
	}
	c := NewFriendController(backend, store, Options{})
	got := make(chan []wire.ChatSession, 1)
	c.SessionsRefreshed = func(friendID int64, sessions []wire.ChatSession) {
		got <- sessions
	}

	if err := c.Send(context.Background(), 5, "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, func() bool { return len(got) == 1 })
	if sessions := <-got; len(sessions) != 1 || sessions[0].ID != 9 {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestRegenerateRollbackOnError(t *testing.T) {
	store := NewStore()
	key := FriendKey(5)
	store.SetMessages(key, []Message{
		{ID: 50, Role: RoleUser, Content: "q"},
		{ID: 100, Role: RoleAssistant, Content: "old answer", SessionID: 10},
	})
	before := store.Messages(key)

	backend := &fakeBackend{
		regenerate: func(ctx context.Context, friendID, messageID int64, thinking bool) (Stream, error) {
			return newFrameStream(
				wire.StreamFrame{Event: wire.EventMessage, Data: wire.FrameData{Delta: "new "}},
				wire.StreamFrame{Event: wire.EventError, Data: wire.FrameData{Detail: "boom"}},
			), nil
		},
	}
	c := NewFriendController(backend, store, Options{})

	err := c.Regenerate(context.Background(), 5, 100)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v, want server error", err)
	}
	after := store.Messages(key)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("list changed:\nbefore %+v\nafter  %+v", before, after)
	}
	if store.Streaming(key) {
		t.Error("streaming flag still set")
	}
}

func TestRegenerateSuccess(t *testing.T) {
	store := NewStore()
	key := FriendKey(5)
	store.SetMessages(key, []Message{
		{ID: 50, Role: RoleUser, Content: "q"},
		{ID: 100, Role: RoleAssistant, Content: "old answer", SessionID: 10},
	})

	backend := &fakeBackend{
		regenerate: func(ctx context.Context, friendID, messageID int64, thinking bool) (Stream, error) {
			return newFrameStream(
				wire.StreamFrame{Event: wire.EventStart, Data: wire.FrameData{SessionID: 10, MessageID: 100}},
				wire.StreamFrame{Event: wire.EventMessage, Data: wire.FrameData{Delta: "better"}},
				wire.StreamFrame{Event: wire.EventDone, Data: wire.FrameData{MessageID: 100, Content: "better"}},
			), nil
		},
	}
	c := NewFriendController(backend, store, Options{})

	if err := c.Regenerate(context.Background(), 5, 100); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	msgs := store.Messages(key)
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[1].ID != 100 || msgs[1].Content != "better" {
		t.Errorf("regenerated = %+v", msgs[1])
	}
}

func TestRegenerateRejectsNonAssistant(t *testing.T) {
	store := NewStore()
	store.SetMessages(FriendKey(5), []Message{{ID: 50, Role: RoleUser, Content: "q"}})
	c := NewFriendController(&fakeBackend{}, store, Options{})

	if err := c.Regenerate(context.Background(), 5, 50); err == nil {
		t.Error("expected error for user message")
	}
}

func TestRecallCascade(t *testing.T) {
	store := NewStore()
	key := FriendKey(5)
	store.SetMessages(key, []Message{
		{ID: 50, Role: RoleUser, Content: "oops"},
		{ID: 100, Role: RoleAssistant, Content: "reply"},
		{ID: 51, Role: RoleUser, Content: "later"},
	})
	backend := &fakeBackend{
		recall: func(ctx context.Context, friendID, messageID int64) (wire.MessageRead, error) {
			return wire.MessageRead{ID: messageID, Role: RoleSystem}, nil
		},
	}
	c := NewFriendController(backend, store, Options{})

	if err := c.Recall(context.Background(), 5, 50); err != nil {
		t.Fatalf("Recall: %v", err)
	}
	msgs := store.Messages(key)
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != RoleSystem || msgs[0].Content != recallNotice {
		t.Errorf("recalled = %+v", msgs[0])
	}
	if msgs[1].ID != 51 {
		t.Errorf("survivor = %+v", msgs[1])
	}
}

func TestRecallFailurePropagates(t *testing.T) {
	store := NewStore()
	key := FriendKey(5)
	store.SetMessages(key, []Message{{ID: 50, Role: RoleUser, Content: "oops"}})
	backend := &fakeBackend{
		recall: func(ctx context.Context, friendID, messageID int64) (wire.MessageRead, error) {
			return wire.MessageRead{}, errors.New("not allowed")
		},
	}
	c := NewFriendController(backend, store, Options{})

	if err := c.Recall(context.Background(), 5, 50); err == nil {
		t.Fatal("expected error")
	}
	if msgs := store.Messages(key); msgs[0].Role != RoleUser {
		t.Error("local state touched on failure")
	}
}

func TestStartNewSessionClearsHistory(t *testing.T) {
	store := NewStore()
	key := FriendKey(5)
	store.SetMessages(key, []Message{{ID: 1, Content: "old"}})
	backend := &fakeBackend{
		newSession: func(ctx context.Context, friendID int64) (wire.ChatSession, error) {
			return wire.ChatSession{ID: 77}, nil
		},
	}
	c := NewFriendController(backend, store, Options{})

	sess, err := c.StartNewSession(context.Background(), 5)
	if err != nil {
		t.Fatalf("StartNewSession: %v", err)
	}
	if sess.ID != 77 {
		t.Errorf("session = %+v", sess)
	}
	if got := store.Messages(key); len(got) != 0 {
		t.Errorf("history not cleared: %d", len(got))
	}
}
