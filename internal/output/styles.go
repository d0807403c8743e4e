package output

import "github.com/charmbracelet/lipgloss"

// Palette used by every Printer.
var (
	colorStep    = lipgloss.Color("#888888")
	colorAccent  = lipgloss.Color("#d946ef")
	colorSuccess = lipgloss.Color("#22c55e")
	colorWarning = lipgloss.Color("#eab308")
	colorError   = lipgloss.Color("#ef4444")
	colorInfo    = lipgloss.Color("#06b6d4")
)

// styles are bound to the Printer's renderer so color is only emitted when
// the destination is a terminal.
type styles struct {
	step    lipgloss.Style
	accent  lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	info    lipgloss.Style
	dim     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		step:    r.NewStyle().Foreground(colorStep),
		accent:  r.NewStyle().Foreground(colorAccent),
		success: r.NewStyle().Foreground(colorSuccess).Bold(true),
		warning: r.NewStyle().Foreground(colorWarning).Bold(true),
		err:     r.NewStyle().Foreground(colorError).Bold(true),
		info:    r.NewStyle().Foreground(colorInfo),
		dim:     r.NewStyle().Faint(true),
	}
}
