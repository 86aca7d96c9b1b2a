package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/ansi"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/sttts/kw/internal/evaluator"
)

const defaultColumnWidth = 20

// kindLabel renders a kind the way kubectl abbreviates resources: core kinds
// bare, others with their group.
func kindLabel(k schema.GroupVersionKind) string {
	if k.Group == "" {
		return k.Kind
	}
	return k.Kind + "." + k.Group
}

// layout returns the heights of the table and the log pane.
func (m *Model) layout() (body, logs int) {
	// header, status and function key bar
	body = max(1, m.height-3)
	if m.logKey != nil {
		logs = body / 2
		body -= logs
	}
	return body, logs
}

func (m *Model) pageSize() int {
	body, _ := m.layout()
	return max(1, body-2)
}

func (m *Model) kindsWidth() int {
	return min(32, max(16, m.width/4))
}

func (m *Model) View() (string, *tea.Cursor) {
	if m.width == 0 {
		return "", nil
	}
	if m.confirm != nil {
		box := lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.confirm.View())
		return box, nil
	}
	body, logs := m.layout()
	kw := m.kindsWidth()
	parts := []string{
		m.renderHeader(),
		lipgloss.JoinHorizontal(lipgloss.Top,
			m.renderKinds(kw, body),
			m.renderRows(m.width-kw, body)),
	}
	if logs > 0 {
		parts = append(parts, m.renderLogs(m.width, logs))
	}
	parts = append(parts, m.renderStatus(), m.renderFunctionKeys())
	return lipgloss.JoinVertical(lipgloss.Left, parts...), nil
}

func (m *Model) renderHeader() string {
	title := "kw"
	if !m.kind.Empty() {
		title = fmt.Sprintf("kw  %s (%d)", kindLabel(m.kind), len(m.rows))
		if !m.structured {
			title += "  [unstructured]"
		}
	}
	if m.forward != nil {
		title += fmt.Sprintf("  ⇄ %s:%d", m.forward.Pod, m.forward.Remote)
	}
	return HeaderStyle.Width(m.width).Render(ansi.Truncate(title, m.width, "…"))
}

// window keeps cursor visible in a viewport of height lines.
func window(cursor, offset, height, n int) int {
	if cursor < offset {
		offset = cursor
	}
	if cursor >= offset+height {
		offset = cursor - height + 1
	}
	return max(0, min(offset, n-height))
}

func (m *Model) renderKinds(width, height int) string {
	m.kindOffset = window(m.kindCursor, m.kindOffset, height, len(m.kinds))
	lines := make([]string, 0, height)
	for i := m.kindOffset; i < len(m.kinds) && len(lines) < height; i++ {
		style := PaneStyle
		if i == m.kindCursor {
			style = SelectedBlurredStyle
			if m.focus == kindsPane {
				style = SelectedStyle
			}
		}
		lines = append(lines, style.Width(width).Render(ansi.Truncate(" "+kindLabel(m.kinds[i]), width, "…")))
	}
	return PaneStyle.Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

func (m *Model) columnWidths(total int) []int {
	widths := make([]int, len(m.cols))
	used := 0
	for i, c := range m.cols {
		widths[i] = c.Width
		if widths[i] <= 0 {
			widths[i] = defaultColumnWidth
		}
		used += widths[i] + 1
	}
	// last column takes what is left
	if n := len(widths); n > 0 && used < total {
		widths[n-1] += total - used
	}
	return widths
}

func (m *Model) renderRows(width, height int) string {
	if m.kind.Empty() {
		return PaneStyle.Width(width).Height(height).Render(" select a kind and press enter")
	}
	widths := m.columnWidths(width)
	header := make([]string, len(m.cols))
	for i, c := range m.cols {
		header[i] = pad(c.Title(), widths[i])
	}
	lines := []string{TableHeaderStyle.Width(width).Render(ansi.Truncate(strings.Join(header, " "), width, ""))}

	visible := max(1, height-1)
	m.rowOffset = window(m.rowCursor, m.rowOffset, visible, len(m.rows))
	for i := m.rowOffset; i < len(m.rows) && len(lines) < height; i++ {
		lines = append(lines, m.renderRow(m.rows[i], widths, width, i == m.rowCursor))
	}
	return PaneStyle.Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

func (m *Model) renderRow(e *evaluator.Evaluated, widths []int, width int, selected bool) string {
	base := PaneStyle
	if e.Resource.DeletionTimestamp() != nil {
		base = TombstoneStyle
	}
	if selected {
		base = SelectedBlurredStyle
		if m.focus == rowsPane {
			base = SelectedStyle
		}
	}
	cells := make([]string, len(widths))
	for i := range widths {
		text := ""
		style := base
		if i < len(e.Cells) {
			text = e.Cells[i].String()
			if e.Cells[i].Failed() && !selected {
				style = CellErrorStyle
			}
		}
		cells[i] = style.Render(pad(text, widths[i]))
	}
	return base.Width(width).Render(ansi.Truncate(strings.Join(cells, base.Render(" ")), width, ""))
}

func pad(s string, width int) string {
	s = ansi.Truncate(s, width, "…")
	if w := ansi.StringWidth(s); w < width {
		s += strings.Repeat(" ", width-w)
	}
	return s
}

func (m *Model) renderLogs(width, height int) string {
	title := fmt.Sprintf(" logs %s/%s", m.logKey.Namespace, m.logKey.Pod)
	if m.logKey.Container != "" {
		title += " [" + m.logKey.Container + "]"
	}
	lines := []string{TableHeaderStyle.Width(width).Render(ansi.Truncate(title, width, "…"))}
	from := max(0, len(m.logs)-(height-1))
	for _, l := range m.logs[from:] {
		lines = append(lines, ansi.Truncate(l, width, "…"))
	}
	return LogStyle.Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

func (m *Model) renderStatus() string {
	style := StatusStyle
	switch m.statusStyle {
	case 1:
		style = StatusWarningStyle
	case 2:
		style = StatusErrorStyle
	}
	return style.Width(m.width).Render(ansi.Truncate(m.status, m.width, "…"))
}

func (m *Model) renderFunctionKeys() string {
	keys := [][2]string{
		{"Enter", "Select"},
		{"Tab", "Pane"},
		{"d", "Delete"},
		{"l", "Logs"},
		{"p", "Forward"},
		{"u", "Decoder"},
		{"r", "Refresh"},
		{"q", "Quit"},
	}
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(FunctionKeyStyle.Render(k[0]))
		b.WriteString(FunctionKeyDescriptionStyle.Render(k[1]))
	}
	return FunctionKeyBarStyle.Width(m.width).Render(ansi.Truncate(b.String(), m.width, ""))
}
