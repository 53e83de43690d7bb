// ABOUTME: Top-level Bubble Tea ChatModel for a single conversation view.
// ABOUTME: Implements tea.Model (Init, Update, View) over the chat store, with a viewport transcript, composer input, and status bar.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/parley/chat"
)

// tickInterval is the spinner animation cadence while a reply streams.
const tickInterval = 100 * time.Millisecond

// ChatModel is the Bubble Tea model for one open conversation. It reads all
// conversation state from the store and re-renders whenever a store event for
// its conversation arrives, so controller goroutines never touch the UI
// directly.
type ChatModel struct {
	store *chat.Store
	key   chat.ConvKey
	send  SendFunc
	load  LoadOlderFunc

	events <-chan chat.StoreEvent
	ctx    context.Context

	transcript viewport.Model
	composer   textinput.Model
	statusBar  StatusBarModel

	// names resolves sender IDs to display names, fed by meta_participants.
	names        map[string]string
	showThinking bool
	streaming    bool
	sendErr      error
	loadingOlder bool
	ticking      bool

	width  int
	height int
	ready  bool
}

// NewChatModel creates a ChatModel bound to one conversation. The send and
// load funcs close over the conversation key; title is the display name shown
// in the status bar.
func NewChatModel(ctx context.Context, store *chat.Store, key chat.ConvKey, title string, send SendFunc, load LoadOlderFunc) ChatModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type a message..."
	ti.Focus()

	return ChatModel{
		store:        store,
		key:          key,
		send:         send,
		load:         load,
		events:       store.Notifier().Subscribe(),
		ctx:          ctx,
		composer:     ti,
		statusBar:    NewStatusBarModel(title),
		names:        make(map[string]string),
		showThinking: true,
	}
}

// SetNames seeds the sender ID to display name map (e.g. the contact roster).
func (m *ChatModel) SetNames(names map[string]string) {
	for id, name := range names {
		m.names[id] = name
	}
}

// Init implements tea.Model. Marks the conversation as viewed and starts the
// store event listener.
func (m ChatModel) Init() tea.Cmd {
	m.store.SetViewing(m.key)
	m.store.ResetUnread(m.key)
	return tea.Batch(
		WaitForStoreEventCmd(m.events),
		textinput.Blink,
	)
}

// Update implements tea.Model.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleWindowSize(msg)

	case StoreEventMsg:
		return m.handleStoreEvent(msg)

	case StoreClosedMsg:
		return m, tea.Quit

	case SendResultMsg:
		m.sendErr = msg.Err
		return m, nil

	case HistoryLoadedMsg:
		m.loadingOlder = false
		if msg.Err == nil && msg.Added > 0 {
			m.refresh()
		}
		return m, nil

	case TickMsg:
		return m.handleTick()

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m ChatModel) View() string {
	if !m.ready {
		return "Connecting..."
	}

	var b strings.Builder
	b.WriteString(m.transcript.View())
	b.WriteString("\n")
	if m.sendErr != nil {
		b.WriteString(ErrorStyle.Render("send failed: " + m.sendErr.Error()))
		b.WriteString("\n")
	}
	b.WriteString(ComposerStyle.Width(m.width - 2).Render(m.composer.View()))
	b.WriteString("\n")
	b.WriteString(m.statusBar.View())
	return b.String()
}

func (m ChatModel) handleWindowSize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	composerHeight := 3
	statusHeight := 1
	errLine := 0
	if m.sendErr != nil {
		errLine = 1
	}
	vpHeight := msg.Height - composerHeight - statusHeight - errLine
	if vpHeight < 3 {
		vpHeight = 3
	}

	if !m.ready {
		m.transcript = viewport.New(msg.Width, vpHeight)
		m.ready = true
	} else {
		m.transcript.Width = msg.Width
		m.transcript.Height = vpHeight
	}
	m.statusBar.SetWidth(msg.Width)
	m.composer.Width = msg.Width - 6
	m.refresh()
	return m, nil
}

// handleStoreEvent refreshes the view from the store and re-arms the listener.
// Events for other conversations still update the unread badge via refresh.
func (m ChatModel) handleStoreEvent(msg StoreEventMsg) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{WaitForStoreEventCmd(m.events)}

	if msg.Event.Key == m.key {
		m.refresh()
		if msg.Event.Kind == chat.EventMessagesChanged {
			m.transcript.GotoBottom()
		}
		if m.streaming && !m.ticking {
			m.ticking = true
			cmds = append(cmds, TickCmd(tickInterval))
		}
	}

	return m, tea.Batch(cmds...)
}

func (m ChatModel) handleTick() (tea.Model, tea.Cmd) {
	if !m.streaming {
		m.ticking = false
		return m, nil
	}
	m.statusBar.AdvanceSpinner()
	return m, TickCmd(tickInterval)
}

func (m ChatModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.store.ClearViewing()
		return m, tea.Quit

	case "enter":
		content := strings.TrimSpace(m.composer.Value())
		if content == "" {
			return m, nil
		}
		m.composer.Reset()
		m.sendErr = nil
		return m, SendCmd(m.ctx, m.send, content)

	case "ctrl+t":
		m.showThinking = !m.showThinking
		m.refresh()
		return m, nil

	case "pgup":
		if m.transcript.AtTop() && m.load != nil && !m.loadingOlder {
			m.loadingOlder = true
			return m, LoadOlderCmd(m.ctx, m.load)
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.transcript, cmd = m.transcript.Update(msg)
	cmds = append(cmds, cmd)
	m.composer, cmd = m.composer.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// refresh re-reads conversation state from the store and re-renders the
// transcript and status bar.
func (m *ChatModel) refresh() {
	msgs := m.store.Messages(m.key)
	m.streaming = m.store.Streaming(m.key)

	m.statusBar.SetStreaming(m.streaming)
	m.statusBar.SetTyping(m.store.Typing(m.key))
	m.statusBar.SetUnread(m.store.Unread(m.key))
	m.statusBar.SetDrive(m.store.Drive(m.key))

	for _, u := range m.store.Typing(m.key) {
		if u.Name != "" {
			m.names[u.ID] = u.Name
		}
	}

	if m.ready {
		atBottom := m.transcript.AtBottom()
		m.transcript.SetContent(renderTranscript(msgs, m.names, m.showThinking))
		if atBottom {
			m.transcript.GotoBottom()
		}
	}
}
