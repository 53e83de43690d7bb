// ABOUTME: Paginated history loading for friend and group conversations.
// ABOUTME: Fetches older pages by skip/limit offset and prepends them without duplicates.

package chat

import (
	"context"
	"fmt"
	"sync"
)

// DefaultPageSize is the history page size when none is configured.
const DefaultPageSize = 50

// HistoryLoader pulls persisted messages into the store, page by page.
type HistoryLoader struct {
	backend Backend
	store   *Store
	// PageSize bounds each fetch. Zero means DefaultPageSize.
	PageSize int

	mu       sync.Mutex
	inflight map[ConvKey]bool
	hasMore  map[ConvKey]bool
}

// NewHistoryLoader creates a loader over the given backend and store.
func NewHistoryLoader(backend Backend, store *Store) *HistoryLoader {
	return &HistoryLoader{
		backend:  backend,
		store:    store,
		inflight: make(map[ConvKey]bool),
		hasMore:  make(map[ConvKey]bool),
	}
}

func (l *HistoryLoader) pageSize() int {
	if l.PageSize > 0 {
		return l.PageSize
	}
	return DefaultPageSize
}

// HasMore reports whether the last fetch for the key returned a full page,
// meaning older history may still exist. Defaults to true before any fetch.
func (l *HistoryLoader) HasMore(key ConvKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	more, known := l.hasMore[key]
	return !known || more
}

// acquire marks a fetch in flight for the key, or reports that one already is.
func (l *HistoryLoader) acquire(key ConvKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight[key] {
		return false
	}
	l.inflight[key] = true
	return true
}

func (l *HistoryLoader) release(key ConvKey, fetched int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, key)
	l.hasMore[key] = fetched >= l.pageSize()
}

// serverCount returns how many server-backed rows are currently held for
// the key. Rows pending acknowledgement have no server id and do not
// advance the pagination offset.
func (l *HistoryLoader) serverCount(key ConvKey) int {
	n := 0
	for _, m := range l.store.Messages(key) {
		if m.ID != 0 {
			n++
		}
	}
	return n
}

// LoadOlder fetches the page past the rows already held and prepends it.
// It returns the number of messages added; zero means the history is
// exhausted. A fetch already in flight for the key, or an exhausted
// history, returns zero without touching the backend.
func (l *HistoryLoader) LoadOlder(ctx context.Context, key ConvKey) (int, error) {
	if !l.HasMore(key) {
		return 0, nil
	}
	if !l.acquire(key) {
		return 0, nil
	}

	skip := l.serverCount(key)
	msgs, err := l.fetch(ctx, key, skip)
	if err != nil {
		l.mu.Lock()
		delete(l.inflight, key)
		l.mu.Unlock()
		return 0, err
	}
	l.release(key, len(msgs))
	return l.store.Prepend(key, msgs), nil
}

// Refresh replaces the conversation with its most recent page. Used on
// first open and after a reconnect where cached state may be stale.
func (l *HistoryLoader) Refresh(ctx context.Context, key ConvKey) error {
	msgs, err := l.fetch(ctx, key, 0)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.hasMore[key] = len(msgs) >= l.pageSize()
	l.mu.Unlock()
	l.store.SetMessages(key, msgs)
	return nil
}

func (l *HistoryLoader) fetch(ctx context.Context, key ConvKey, skip int) ([]Message, error) {
	switch key.Kind {
	case KindGroup:
		rows, err := l.backend.ListGroupMessages(ctx, key.ID, skip, l.pageSize())
		if err != nil {
			return nil, fmt.Errorf("loading history for %s: %w", key, err)
		}
		msgs := make([]Message, 0, len(rows))
		for _, r := range rows {
			msgs = append(msgs, FromGroupMessageRead(r))
		}
		return collapseSessionMarkers(msgs), nil
	default:
		rows, err := l.backend.ListMessages(ctx, key.ID, skip, l.pageSize())
		if err != nil {
			return nil, fmt.Errorf("loading history for %s: %w", key, err)
		}
		msgs := make([]Message, 0, len(rows))
		for _, r := range rows {
			msgs = append(msgs, FromMessageRead(r))
		}
		return collapseSessionMarkers(msgs), nil
	}
}

// collapseSessionMarkers drops a system row when it repeats the content of the
// system row immediately before it. Session boundaries sometimes persist twice
// (once per adjacent session); showing both dividers is noise.
func collapseSessionMarkers(msgs []Message) []Message {
	out := msgs[:0]
	for i, m := range msgs {
		if i > 0 && m.Role == RoleSystem && msgs[i-1].Role == RoleSystem &&
			m.Content == msgs[i-1].Content {
			continue
		}
		out = append(out, m)
	}
	return out
}
