package chat

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	reply string
	err   error
	got   []string
}

func (f *fakeSender) Chat(_ context.Context, message string) (string, error) {
	f.got = append(f.got, message)
	return f.reply, f.err
}

func update(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func typeText(m Model, text string) Model {
	for _, r := range text {
		m, _ = update(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

func sized(sender Sender) Model {
	m, _ := update(New(sender, nil), tea.WindowSizeMsg{Width: 80, Height: 24})
	return m
}

func TestWelcomeWhenEmpty(t *testing.T) {
	m := sized(&fakeSender{})
	require.Contains(t, m.View(), welcomeTitle)
	require.Contains(t, m.View(), welcomeText)
}

func TestSendAndReply(t *testing.T) {
	sender := &fakeSender{reply: "Olá!"}
	m := typeText(sized(sender), "oi")

	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyEnter})
	require.True(t, m.loading)
	require.Empty(t, m.input.Value())
	require.Len(t, m.Messages(), 1)
	require.True(t, m.Messages()[0].IsUser)
	require.NotEmpty(t, m.Messages()[0].ID)
	require.NotNil(t, cmd)

	m, _ = update(m, sendCmd(sender, "oi")())
	require.False(t, m.loading)
	require.Equal(t, []string{"oi"}, sender.got)
	require.Len(t, m.Messages(), 2)
	require.False(t, m.Messages()[1].IsUser)
	require.Equal(t, "Olá!", m.Messages()[1].Text)
	require.NotEqual(t, m.Messages()[0].ID, m.Messages()[1].ID)
	require.NotContains(t, m.View(), welcomeTitle)
}

func TestReplyErrorClearsLoading(t *testing.T) {
	sender := &fakeSender{err: errors.New("daemon unreachable")}
	m := typeText(sized(sender), "oi")

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyEnter})
	require.True(t, m.loading)

	m, _ = update(m, sendCmd(sender, "oi")())
	require.False(t, m.loading)
	require.Len(t, m.Messages(), 1)
	require.Contains(t, m.status, "daemon unreachable")
	require.Contains(t, m.View(), "daemon unreachable")
}

func TestBlankInputIsIgnored(t *testing.T) {
	m := typeText(sized(&fakeSender{}), "   ")

	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Nil(t, cmd)
	require.False(t, m.loading)
	require.Empty(t, m.Messages())
}

func TestNoSendWhileLoading(t *testing.T) {
	m := typeText(sized(&fakeSender{}), "um")
	m, _ = update(m, tea.KeyMsg{Type: tea.KeyEnter})

	m = typeText(m, "dois")
	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Nil(t, cmd)
	require.Len(t, m.Messages(), 1)
	require.Equal(t, "dois", m.input.Value())
}
