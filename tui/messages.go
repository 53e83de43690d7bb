// ABOUTME: Bubble Tea message types used in the chat TUI message loop.
// ABOUTME: Each type wraps a domain event or command result for the tea.Msg interface.
package tui

import (
	"time"

	"github.com/2389-research/parley/chat"
)

// StoreEventMsg wraps a chat.StoreEvent for the Bubble Tea message loop.
type StoreEventMsg struct {
	Event chat.StoreEvent
}

// StoreClosedMsg signals that the store's notifier channel was closed and no
// further store events will arrive.
type StoreClosedMsg struct{}

// SendResultMsg signals that a send (or other controller call) finished.
type SendResultMsg struct {
	Err error
}

// HistoryLoadedMsg signals that an older history page finished loading.
type HistoryLoadedMsg struct {
	Added int
	Err   error
}

// TickMsg is sent periodically to animate the streaming spinner.
type TickMsg struct {
	Time time.Time
}
