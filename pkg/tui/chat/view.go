package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	headerH = 2
	footerH = 3
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))
	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	welcomeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const (
	welcomeTitle = "Bem-vindo ao Nexus IA"
	welcomeText  = "Comece uma conversa enviando uma mensagem."
)

func (m Model) renderMessages() string {
	if len(m.messages) == 0 {
		return welcomeStyle.Render(welcomeTitle + "\n\n" + welcomeText)
	}

	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		who := assistantStyle.Render("Nexus IA")
		body := m.markdown(msg.Text)
		if msg.IsUser {
			who = userStyle.Render("Você")
			body = msg.Text
		}
		b.WriteString(who + " " + timeStyle.Render(msg.Timestamp.Format("15:04:05")) + "\n")
		b.WriteString(body)
	}
	return b.String()
}

// View renders the chat.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Nexus IA") + "\n\n")
	b.WriteString(m.viewport.View() + "\n")

	switch {
	case m.loading:
		b.WriteString(m.spinner.View() + " aguardando resposta...")
	case m.status != "":
		b.WriteString(errorStyle.Render(m.status))
	}
	b.WriteString("\n" + m.input.View() + "\n")
	b.WriteString(helpStyle.Render("enter: enviar  pgup/pgdown: rolar  esc: sair"))
	return b.String()
}
