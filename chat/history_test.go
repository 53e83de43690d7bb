// ABOUTME: Tests for paginated history loading.
// ABOUTME: Covers older-page prepending with de-duplication and full refresh for both conversation kinds.

package chat

import (
	"context"
	"testing"

	"github.com/2389-research/parley/wire"
)

func TestLoadOlderPrepends(t *testing.T) {
	store := NewStore()
	key := FriendKey(5)
	// Two persisted rows plus one optimistic row still awaiting its server
	// id. Only persisted rows advance the pagination offset.
	store.SetMessages(key, []Message{
		{ID: 19, Role: RoleAssistant, Content: "reply"},
		{ID: 20, Role: RoleUser, Content: "newest"},
		{LocalID: "pending", Role: RoleUser, Content: "unacked"},
	})

	gotSkip := -1
	backend := &fakeBackend{
		listMessages: func(ctx context.Context, friendID int64, skip, limit int) ([]wire.MessageRead, error) {
			gotSkip = skip
			return []wire.MessageRead{
				{ID: 17, Role: "user", Content: "older", CreateTime: "2026-02-01T10:00:00Z"},
				{ID: 18, Role: "assistant", Content: "older reply", CreateTime: "2026-02-01T10:00:05Z"},
				{ID: 20, Role: "user", Content: "dup", CreateTime: "2026-02-01T10:01:00Z"},
			}, nil
		},
	}
	l := NewHistoryLoader(backend, store)

	added, err := l.LoadOlder(context.Background(), key)
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}
	if gotSkip != 2 {
		t.Errorf("skip = %d, want 2", gotSkip)
	}
	msgs := store.Messages(key)
	if len(msgs) != 5 || msgs[0].ID != 17 || msgs[2].Content != "reply" {
		t.Errorf("list = %+v", msgs)
	}
}

func TestLoadOlderGroupMapsRoles(t *testing.T) {
	store := NewStore()
	key := GroupKey(7)
	backend := &fakeBackend{
		listGroupMsgs: func(ctx context.Context, groupID int64, skip, limit int) ([]wire.GroupMessageRead, error) {
			return []wire.GroupMessageRead{
				{ID: 1, Content: "hi", SenderID: "user", SenderType: "user"},
				{ID: 2, Content: "hey", SenderID: "3", SenderType: "friend"},
			}, nil
		},
	}
	l := NewHistoryLoader(backend, store)

	if _, err := l.LoadOlder(context.Background(), key); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	msgs := store.Messages(key)
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("roles = %q/%q", msgs[0].Role, msgs[1].Role)
	}
}

func TestRefreshReplaces(t *testing.T) {
	store := NewStore()
	key := FriendKey(5)
	store.SetMessages(key, []Message{{ID: 99, Content: "stale"}})
	backend := &fakeBackend{
		listMessages: func(ctx context.Context, friendID int64, skip, limit int) ([]wire.MessageRead, error) {
			if skip != 0 {
				t.Errorf("skip = %d, want 0", skip)
			}
			return []wire.MessageRead{{ID: 1, Role: "user", Content: "fresh"}}, nil
		},
	}
	l := NewHistoryLoader(backend, store)

	if err := l.Refresh(context.Background(), key); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	msgs := store.Messages(key)
	if len(msgs) != 1 || msgs[0].Content != "fresh" {
		t.Errorf("list = %+v", msgs)
	}
}

func TestLoadOlderStopsWhenExhausted(t *testing.T) {
	store := NewStore()
	key := FriendKey(5)
	calls := 0
	backend := &fakeBackend{
		listMessages: func(ctx context.Context, friendID int64, skip, limit int) ([]wire.MessageRead, error) {
			calls++
			return []wire.MessageRead{{ID: 1, Role: "user", Content: "the very first"}}, nil
		},
	}
	l := NewHistoryLoader(backend, store)

	if !l.HasMore(key) {
		t.Fatal("HasMore should default to true before any fetch")
	}
	if _, err := l.LoadOlder(context.Background(), key); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if l.HasMore(key) {
		t.Error("short page should mark history exhausted")
	}

	// A second load must short-circuit without touching the backend.
	added, err := l.LoadOlder(context.Background(), key)
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if added != 0 {
		t.Errorf("added = %d, want 0", added)
	}
	if calls != 1 {
		t.Errorf("backend calls = %d, want 1", calls)
	}
}

func TestRefreshFullPageKeepsHasMore(t *testing.T) {
	store := NewStore()
	key := FriendKey(5)
	backend := &fakeBackend{
		listMessages: func(ctx context.Context, friendID int64, skip, limit int) ([]wire.MessageRead, error) {
			rows := make([]wire.MessageRead, limit)
			for i := range rows {
				rows[i] = wire.MessageRead{ID: int64(i + 1), Role: "user", Content: "row"}
			}
			return rows, nil
		},
	}
	l := NewHistoryLoader(backend, store)
	l.PageSize = 3

	if err := l.Refresh(context.Background(), key); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !l.HasMore(key) {
		t.Error("full page should leave HasMore true")
	}
}

func TestCollapseSessionMarkers(t *testing.T) {
	msgs := []Message{
		{ID: 1, Role: RoleSystem, Content: "New session started"},
		{ID: 2, Role: RoleSystem, Content: "New session started"},
		{ID: 3, Role: RoleUser, Content: "hi"},
		{ID: 4, Role: RoleSystem, Content: "New session started"},
	}

	out := collapseSessionMarkers(msgs)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	if out[0].ID != 1 || out[1].ID != 3 || out[2].ID != 4 {
		t.Errorf("ids = %d/%d/%d, want 1/3/4", out[0].ID, out[1].ID, out[2].ID)
	}
}
