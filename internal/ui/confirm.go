package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"github.com/sttts/kw/internal/app"
)

// confirmResultMsg closes the confirmation dialog. Signal is only set when
// the user accepted.
type confirmResultMsg struct {
	Signal app.Signal
}

// ConfirmModel is a Yes/No prompt guarding a signal.
type ConfirmModel struct {
	width  int
	prompt string
	signal app.Signal
	focus  int // 0=yes, 1=no
}

// NewConfirmModel asks prompt and emits sig on Yes. Focus starts on No.
func NewConfirmModel(prompt string, sig app.Signal) *ConfirmModel {
	return &ConfirmModel{prompt: prompt, signal: sig, focus: 1}
}

func (m *ConfirmModel) SetWidth(w int) { m.width = w }

func (m *ConfirmModel) answer(yes bool) tea.Cmd {
	if !yes {
		return func() tea.Msg { return confirmResultMsg{} }
	}
	sig := m.signal
	return func() tea.Msg { return confirmResultMsg{Signal: sig} }
}

func (m *ConfirmModel) Update(msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyPressMsg)
	if !ok {
		return nil
	}
	switch strings.ToLower(key.String()) {
	case "esc", "ctrl+c", "ctrl+g", "n":
		return m.answer(false)
	case "y":
		return m.answer(true)
	case "enter":
		return m.answer(m.focus == 0)
	case "left", "right", "tab", "shift+tab":
		m.focus = (m.focus + 1) % 2
	}
	return nil
}

func (m *ConfirmModel) View() string {
	innerWidth := max(30, m.width-4)
	bg := lipgloss.NewStyle().
		Background(lipgloss.Color("250")).
		Foreground(lipgloss.Black).
		Width(innerWidth)
	title := bg.Bold(true).Align(lipgloss.Center).Render(m.prompt)
	help := bg.Faint(true).Align(lipgloss.Center).Render("←/→ Switch • Enter: Confirm • Esc: Cancel")
	separator := lipgloss.NewStyle().Background(lipgloss.Color("250")).Render(" ")
	buttons := lipgloss.JoinHorizontal(lipgloss.Center,
		renderButton("Yes", m.focus == 0), separator, renderButton("No", m.focus != 0))
	spacer := bg.Render("")
	return lipgloss.JoinVertical(lipgloss.Left, title, spacer, bg.Align(lipgloss.Center).Render(buttons), spacer, help)
}

func renderButton(label string, focused bool) string {
	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorBlack)).
		Background(lipgloss.Color("240")).
		Width(8).
		Align(lipgloss.Center)
	if focused {
		style = style.Background(lipgloss.Color("203")).Bold(true)
	}
	return style.Render(label)
}
