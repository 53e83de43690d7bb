// ABOUTME: Tests for StatusBarModel which renders a single-line conversation status bar.
// ABOUTME: Covers construction, state mutations, drive summary, and View() rendering.
package tui

import (
	"strings"
	"testing"

	"github.com/2389-research/parley/chat"
	"github.com/2389-research/parley/wire"
)

func TestStatusBarNewStatusBarModel(t *testing.T) {
	m := NewStatusBarModel("Ada")
	if m.title != "Ada" {
		t.Errorf("title = %q, want %q", m.title, "Ada")
	}
	if m.streaming {
		t.Error("streaming should start false")
	}
	if m.unread != 0 {
		t.Errorf("unread = %d, want 0", m.unread)
	}
}

func TestStatusBarViewTitleOnly(t *testing.T) {
	m := NewStatusBarModel("Ada")
	m.SetWidth(60)

	out := m.View()
	if !strings.Contains(out, "Ada") {
		t.Error("view missing title")
	}
	if strings.Contains(out, "streaming") {
		t.Error("idle bar should not show streaming")
	}
}

func TestStatusBarViewStreaming(t *testing.T) {
	m := NewStatusBarModel("Ada")
	m.SetWidth(60)
	m.SetStreaming(true)

	if out := m.View(); !strings.Contains(out, "streaming") {
		t.Error("view missing streaming indicator")
	}

	m.SetStreaming(false)
	if out := m.View(); strings.Contains(out, "streaming") {
		t.Error("streaming indicator not cleared")
	}
}

func TestStatusBarViewTyping(t *testing.T) {
	m := NewStatusBarModel("book club")
	m.SetWidth(80)
	m.SetTyping([]chat.TypingUser{
		{ID: "3", Name: "Ada"},
		{ID: "4", Name: "Basho"},
	})

	out := m.View()
	if !strings.Contains(out, "Ada, Basho typing") {
		t.Errorf("view missing typing roster: %q", out)
	}
}

func TestStatusBarViewUnread(t *testing.T) {
	m := NewStatusBarModel("Ada")
	m.SetWidth(60)
	m.SetUnread(3)

	if out := m.View(); !strings.Contains(out, "3 unread") {
		t.Error("view missing unread count")
	}
}

func TestStatusBarDriveSummary(t *testing.T) {
	m := NewStatusBarModel("book club")
	m.SetWidth(80)

	if m.driveSummary() != "" {
		t.Error("nil drive should produce empty summary")
	}

	m.SetDrive(&chat.AutoDriveState{
		AutoDriveStateRead: wire.AutoDriveStateRead{Status: chat.DriveRunning, CurrentRound: 2},
	})
	out := m.View()
	if !strings.Contains(out, "drive running r2") {
		t.Errorf("view missing drive summary: %q", out)
	}
	if strings.Contains(out, "disconnected") {
		t.Error("connected drive should not show disconnected")
	}

	m.SetDrive(&chat.AutoDriveState{
		AutoDriveStateRead: wire.AutoDriveStateRead{Status: chat.DrivePaused, CurrentRound: 3},
		Disconnected:       true,
	})
	if out := m.View(); !strings.Contains(out, "(disconnected)") {
		t.Error("view missing disconnected marker")
	}
}

func TestStatusBarAdvanceSpinner(t *testing.T) {
	m := NewStatusBarModel("Ada")
	m.SetWidth(60)
	m.SetStreaming(true)

	first := m.View()
	m.AdvanceSpinner()
	second := m.View()

	if first == second {
		t.Error("spinner frame did not advance")
	}
}
