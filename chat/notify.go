// ABOUTME: Change notification for the chat store, enabling real-time observation of conversation state.
// ABOUTME: Provides Notifier with subscribe/emit/unsubscribe pattern and typed StoreEvent delivery.

package chat

import (
	"sync"
	"time"
)

// EventKind discriminates the type of store event.
type EventKind string

const (
	EventMessagesChanged  EventKind = "messages_changed"
	EventStreamingChanged EventKind = "streaming_changed"
	EventTypingChanged    EventKind = "typing_changed"
	EventUnreadChanged    EventKind = "unread_changed"
	EventPreviewChanged   EventKind = "preview_changed"
	EventDriveChanged     EventKind = "drive_changed"
	EventVoiceArrived     EventKind = "voice_arrived"
	EventAttention        EventKind = "attention"
)

// StoreEvent represents a typed change notification from the chat store.
type StoreEvent struct {
	Kind      EventKind
	Key       ConvKey
	Timestamp time.Time
}

// Notifier delivers store events to subscribed channels.
type Notifier struct {
	mu          sync.RWMutex
	subscribers []chan StoreEvent
	closed      bool
}

// NewNotifier creates a new Notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		subscribers: make([]chan StoreEvent, 0),
	}
}

// Subscribe registers a new subscriber channel and returns it.
// The channel has a buffer of 64 to reduce the likelihood of blocking.
func (n *Notifier) Subscribe() <-chan StoreEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan StoreEvent, 64)
	n.subscribers = append(n.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (n *Notifier) Unsubscribe(ch <-chan StoreEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, sub := range n.subscribers {
		// Cast the bidirectional channel to receive-only for comparison
		if (<-chan StoreEvent)(sub) == ch {
			close(sub)
			n.subscribers = append(n.subscribers[:i], n.subscribers[i+1:]...)
			return
		}
	}
}

// Emit sends an event to all subscribers. Non-blocking: if a subscriber's
// channel buffer is full, the event is dropped for that subscriber.
func (n *Notifier) Emit(event StoreEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return
	}

	for _, ch := range n.subscribers {
		select {
		case ch <- event:
		default:
			// Drop event for slow subscribers rather than blocking
		}
	}
}

// Close closes the notifier and all subscriber channels.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true

	for _, ch := range n.subscribers {
		close(ch)
	}
	n.subscribers = nil
}
