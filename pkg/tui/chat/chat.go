// Package chat implements the assistant chat TUI.
package chat

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
)

const replyTimeout = 2 * time.Minute

// Sender delivers a user message and returns the assistant's reply.
type Sender interface {
	Chat(ctx context.Context, message string) (string, error)
}

// Message is one entry of the conversation.
type Message struct {
	ID        string
	Text      string
	IsUser    bool
	Timestamp time.Time
}

func newMessage(text string, isUser bool) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		IsUser:    isUser,
		Timestamp: time.Now(),
	}
}

// replyMsg carries the outcome of a send. It is delivered on success and
// failure alike, so loading always ends.
type replyMsg struct {
	text string
	err  error
}

// Model is the chat Bubble Tea model.
type Model struct {
	sender Sender
	logger *slog.Logger

	messages []Message
	loading  bool
	status   string

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	width    int
	height   int
}

// New creates a chat model that sends through sender.
func New(sender Sender, logger *slog.Logger) Model {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ti := textinput.New()
	ti.Placeholder = "Digite sua mensagem..."
	ti.Prompt = "> "
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		sender:   sender,
		logger:   logger,
		input:    ti,
		viewport: viewport.New(80, 20),
		spinner:  sp,
	}
}

// Run starts the chat TUI and blocks until the user quits.
func Run(sender Sender, logger *slog.Logger) error {
	_, err := tea.NewProgram(New(sender, logger), tea.WithAltScreen()).Run()
	return err
}

// Messages returns the conversation so far.
func (m Model) Messages() []Message {
	return m.messages
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tea.SetWindowTitle("Nexus IA"))
}

func sendCmd(sender Sender, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		defer cancel()

		reply, err := sender.Chat(ctx, text)
		return replyMsg{text: reply, err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-4, 10)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-headerH-footerH, 1)
		m.renderer = newRenderer(msg.Width - 4)
		m.refresh()
		return m, nil

	case replyMsg:
		m.loading = false
		if msg.err != nil {
			m.logger.Error("send chat message", "err", msg.err)
			m.status = "Erro ao enviar mensagem: " + msg.err.Error()
			return m, nil
		}
		m.status = ""
		m.messages = append(m.messages, newMessage(msg.text, false))
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case "enter":
			return m.send()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// send submits the input unless it is blank or a reply is pending.
func (m Model) send() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.loading {
		return m, nil
	}
	m.input.SetValue("")
	m.messages = append(m.messages, newMessage(text, true))
	m.loading = true
	m.status = ""
	m.refresh()
	return m, tea.Batch(sendCmd(m.sender, text), m.spinner.Tick)
}

// refresh re-renders the conversation and scrolls to the newest message.
func (m *Model) refresh() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func newRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(max(width, 20)),
	)
	if err != nil {
		return nil
	}
	return r
}

// markdown renders text with the current renderer, falling back to the
// raw text.
func (m Model) markdown(text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
