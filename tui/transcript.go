// ABOUTME: Renders a conversation's message list into styled transcript text for the viewport.
// ABOUTME: Handles sender labels, thinking blocks, tool call lines, voice markers, and segment splitting.
package tui

import (
	"fmt"
	"strings"

	"github.com/2389-research/parley/chat"
	"github.com/2389-research/parley/segment"
)

// senderLabel returns the display name prefix for a message.
func senderLabel(m chat.Message, names map[string]string) string {
	switch m.Role {
	case chat.RoleUser:
		return "you"
	case chat.RoleSystem:
		return "system"
	default:
		if name, ok := names[m.SenderID]; ok && name != "" {
			return name
		}
		if m.SenderID != "" {
			return m.SenderID
		}
		return "assistant"
	}
}

// renderMessage renders one message as styled transcript lines.
// The names map resolves sender IDs to display names for group conversations.
func renderMessage(m chat.Message, names map[string]string, showThinking bool) string {
	var b strings.Builder

	label := styleForRole(m.Role).Render(senderLabel(m, names))
	if !m.CreatedAt.IsZero() {
		label += " " + TimestampStyle.Render(m.CreatedAt.Format("15:04"))
	}
	if m.IsLocal() {
		label += " " + TimestampStyle.Render("(sending)")
	}
	b.WriteString(label)
	b.WriteString("\n")

	if showThinking && m.Thinking != "" {
		for _, line := range strings.Split(strings.TrimRight(m.Thinking, "\n"), "\n") {
			b.WriteString(ThinkingStyle.Render("  ∙ " + line))
			b.WriteString("\n")
		}
	}

	for _, tc := range m.ToolCalls {
		line := fmt.Sprintf("  [%s %s]", tc.Name, tc.Status)
		b.WriteString(ToolCallStyle.Render(line))
		b.WriteString("\n")
	}

	for _, seg := range segment.Parse(m.Content) {
		body := seg
		if strings.HasPrefix(seg, "[error:") || seg == "[connection interrupted]" {
			b.WriteString("  " + ErrorStyle.Render(body))
		} else {
			b.WriteString("  " + BodyStyle.Render(body))
		}
		b.WriteString("\n")
	}

	if m.Voice != nil && len(m.Voice.Segments) > 0 {
		marker := fmt.Sprintf("  ♪ voice (%d segments", len(m.Voice.Segments))
		if n := len(m.VoiceUnread); n > 0 {
			marker += fmt.Sprintf(", %d unheard", n)
		}
		marker += ")"
		b.WriteString(VoiceStyle.Render(marker))
		b.WriteString("\n")
	}

	return b.String()
}

// renderTranscript renders the full message list, newest last.
func renderTranscript(msgs []chat.Message, names map[string]string, showThinking bool) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderMessage(m, names, showThinking))
	}
	return b.String()
}
