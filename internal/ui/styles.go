package ui

import "github.com/charmbracelet/lipgloss/v2"

// Color constants
const (
	ColorBlack      = "0"
	ColorRed        = "1"
	ColorYellow     = "3"
	ColorDarkerBlue = "4"
	ColorCyan       = "6"
	ColorGrey       = "7"
	ColorDimGrey    = "8"
	ColorWhite      = "15"
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Background(lipgloss.Color(ColorDarkerBlue)).
			Foreground(lipgloss.Color(ColorWhite)).
			Bold(true)

	PaneStyle = lipgloss.NewStyle().
			Background(lipgloss.Color(ColorDarkerBlue)).
			Foreground(lipgloss.Color(ColorGrey))

	SelectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color(ColorCyan)).
			Foreground(lipgloss.Color(ColorBlack))

	// SelectedBlurredStyle marks the cursor of the pane without focus.
	SelectedBlurredStyle = lipgloss.NewStyle().
				Background(lipgloss.Color(ColorGrey)).
				Foreground(lipgloss.Color(ColorBlack))

	TableHeaderStyle = lipgloss.NewStyle().
				Background(lipgloss.Color(ColorDarkerBlue)).
				Foreground(lipgloss.Color(ColorYellow)).
				Bold(true)

	TombstoneStyle = lipgloss.NewStyle().
			Background(lipgloss.Color(ColorDarkerBlue)).
			Foreground(lipgloss.Color(ColorDimGrey))

	CellErrorStyle = lipgloss.NewStyle().
			Background(lipgloss.Color(ColorDarkerBlue)).
			Foreground(lipgloss.Color(ColorRed))

	LogStyle = lipgloss.NewStyle().
			Background(lipgloss.Color(ColorBlack)).
			Foreground(lipgloss.Color(ColorGrey))

	StatusStyle = lipgloss.NewStyle().
			Background(lipgloss.Color(ColorBlack)).
			Foreground(lipgloss.Color(ColorWhite))

	StatusWarningStyle = StatusStyle.Foreground(lipgloss.Color(ColorYellow))
	StatusErrorStyle   = StatusStyle.Foreground(lipgloss.Color(ColorRed))

	// Function key styles
	FunctionKeyStyle = lipgloss.NewStyle().
				Background(lipgloss.Color(ColorBlack)).
				Foreground(lipgloss.Color(ColorWhite)).
				Padding(0, 0, 0, 1)

	FunctionKeyDescriptionStyle = lipgloss.NewStyle().
					Background(lipgloss.Color(ColorCyan)).
					Foreground(lipgloss.Color(ColorBlack)).
					Padding(0, 1, 0, 0)

	FunctionKeyBarStyle = lipgloss.NewStyle().
				Background(lipgloss.Color(ColorBlack)).
				Foreground(lipgloss.Color(ColorGrey))
)
