package tui

import "github.com/charmbracelet/lipgloss"

// Shared colors.
var (
	AccentColor = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	DimColor    = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
	WarnColor   = lipgloss.AdaptiveColor{Light: "#F25D94", Dark: "#F25D94"}
	GreenColor  = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	AmberColor  = lipgloss.AdaptiveColor{Light: "#D4A017", Dark: "#FFD866"}
)

// Shared styles.
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(AccentColor).
			Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(DimColor).
			Width(18)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(WarnColor).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(DimColor)

	TimeStyle = lipgloss.NewStyle().
			Foreground(DimColor)
)

// StateStyle colors a connection state name.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "connected":
		return lipgloss.NewStyle().Foreground(GreenColor).Bold(true)
	case "connecting", "disconnecting":
		return lipgloss.NewStyle().Foreground(AmberColor).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(WarnColor)
	}
}
