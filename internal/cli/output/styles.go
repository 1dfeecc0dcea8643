package output

import "github.com/charmbracelet/lipgloss"

// Status icons.
const (
	IconSuccess = "✓"
	IconFailure = "✗"
	IconWarning = "!"
	IconPending = "•"
)

// Styles holds the lipgloss styles used by commands.
type Styles struct {
	Header1       lipgloss.Style
	Header2       lipgloss.Style
	Bold          lipgloss.Style
	Muted         lipgloss.Style
	Info          lipgloss.Style
	Success       lipgloss.Style
	Warning       lipgloss.Style
	Error         lipgloss.Style
	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
	ID            lipgloss.Style
}

func newStyles(lg *lipgloss.Renderer) *Styles {
	return &Styles{
		Header1:       lg.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Header2:       lg.NewStyle().Bold(true),
		Bold:          lg.NewStyle().Bold(true),
		Muted:         lg.NewStyle().Foreground(lipgloss.Color("8")),
		Info:          lg.NewStyle().Foreground(lipgloss.Color("14")),
		Success:       lg.NewStyle().Foreground(lipgloss.Color("10")),
		Warning:       lg.NewStyle().Foreground(lipgloss.Color("11")),
		Error:         lg.NewStyle().Foreground(lipgloss.Color("9")),
		StatusSuccess: lg.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		StatusFailed:  lg.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		ID:            lg.NewStyle().Foreground(lipgloss.Color("13")),
	}
}
