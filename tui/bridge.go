// ABOUTME: Bridge connecting the chat store and controllers to the Bubble Tea message loop.
// ABOUTME: Provides tea.Cmd factories for store event subscription, sends, history loads, and ticks.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/parley/chat"
)

// SendFunc submits one user message to a conversation. The ChatModel is
// conversation-agnostic; the caller binds the conversation key by closure
// (e.g. wrapping FriendController.Send or GroupController.Send).
type SendFunc func(ctx context.Context, content string) error

// LoadOlderFunc fetches one older history page and reports how many rows were
// added. Usually a closure over HistoryLoader.LoadOlder.
type LoadOlderFunc func(ctx context.Context) (int, error)

// WaitForStoreEventCmd returns a tea.Cmd that blocks on the store's event
// channel and injects the next event into the message loop. The returned
// command must be re-issued after each StoreEventMsg to keep listening.
func WaitForStoreEventCmd(ch <-chan chat.StoreEvent) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return StoreClosedMsg{}
		}
		return StoreEventMsg{Event: evt}
	}
}

// SendCmd returns a tea.Cmd that runs the send in its own goroutine and
// reports the outcome. Streamed frames arrive separately via store events.
func SendCmd(ctx context.Context, send SendFunc, content string) tea.Cmd {
	return func() tea.Msg {
		return SendResultMsg{Err: send(ctx, content)}
	}
}

// LoadOlderCmd returns a tea.Cmd that loads one older history page.
func LoadOlderCmd(ctx context.Context, load LoadOlderFunc) tea.Cmd {
	return func() tea.Msg {
		added, err := load(ctx)
		return HistoryLoadedMsg{Added: added, Err: err}
	}
}

// TickCmd returns a tea.Cmd that sends a TickMsg after the given interval.
// Used for spinner animation while a reply is streaming.
func TickCmd(interval time.Duration) tea.Cmd {
	return func() tea.Msg {
		time.Sleep(interval)
		return TickMsg{Time: time.Now()}
	}
}
