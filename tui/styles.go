// ABOUTME: Defines lipgloss style constants for the chat TUI transcript, status bar, and composer.
// ABOUTME: Provides styleForRole to map message roles to their corresponding display styles.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/parley/chat"
)

var (
	// Sender name labels
	UserLabelStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	AssistantLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	SystemLabelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)

	// Message bodies
	BodyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	ThinkingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	ErrorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	// Transcript decorations
	TimestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	ToolCallStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	VoiceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	// Typing / streaming indicators
	TypingStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	StreamingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)

	// Status bar
	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)
	UnreadStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	DriveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)

	// Composer
	ComposerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

// SpinnerFrames contains the Braille-dot animation frames shown while a
// reply is streaming.
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// styleForRole returns the label style for a message role.
func styleForRole(role string) lipgloss.Style {
	switch role {
	case chat.RoleUser:
		return UserLabelStyle
	case chat.RoleAssistant:
		return AssistantLabelStyle
	case chat.RoleSystem:
		return SystemLabelStyle
	default:
		return BodyStyle
	}
}
