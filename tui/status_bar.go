// ABOUTME: Implements a single-line status bar for the bottom of the chat TUI.
// ABOUTME: Displays conversation name, streaming/typing state, unread count, and auto-drive status.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/parley/chat"
)

// StatusBarModel displays conversation status in a single line.
type StatusBarModel struct {
	title      string
	streaming  bool
	typing     []chat.TypingUser
	unread     int
	drive      *chat.AutoDriveState
	spinnerIdx int
	width      int
}

// NewStatusBarModel creates a StatusBarModel titled with the conversation name.
func NewStatusBarModel(title string) StatusBarModel {
	return StatusBarModel{title: title}
}

// SetStreaming updates the streaming flag.
func (m *StatusBarModel) SetStreaming(on bool) {
	m.streaming = on
}

// SetTyping replaces the typing roster.
func (m *StatusBarModel) SetTyping(users []chat.TypingUser) {
	m.typing = users
}

// SetUnread updates the unread count.
func (m *StatusBarModel) SetUnread(n int) {
	m.unread = n
}

// SetDrive updates the auto-drive snapshot shown in the bar. Nil clears it.
func (m *StatusBarModel) SetDrive(st *chat.AutoDriveState) {
	m.drive = st
}

// AdvanceSpinner steps the spinner animation by one frame.
func (m *StatusBarModel) AdvanceSpinner() {
	m.spinnerIdx++
}

// SetWidth sets the bar width for rendering.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// driveSummary renders the auto-drive portion of the bar, or "" when idle.
func (m StatusBarModel) driveSummary() string {
	if m.drive == nil {
		return ""
	}
	label := fmt.Sprintf("drive %s r%d", m.drive.Status, m.drive.CurrentRound)
	if m.drive.Disconnected {
		label += " (disconnected)"
	}
	return label
}

// View renders the status bar as a single styled line.
func (m StatusBarModel) View() string {
	parts := []string{m.title}

	if m.streaming {
		frame := SpinnerFrames[m.spinnerIdx%len(SpinnerFrames)]
		parts = append(parts, frame+" streaming")
	}
	if len(m.typing) > 0 {
		names := make([]string, 0, len(m.typing))
		for _, u := range m.typing {
			names = append(names, u.Name)
		}
		parts = append(parts, strings.Join(names, ", ")+" typing")
	}
	if m.unread > 0 {
		parts = append(parts, fmt.Sprintf("%d unread", m.unread))
	}
	if d := m.driveSummary(); d != "" {
		parts = append(parts, d)
	}

	content := strings.Join(parts, " | ")
	style := StatusBarStyle.Width(m.width)
	return lipgloss.PlaceHorizontal(m.width, lipgloss.Left, style.Render(content))
}
