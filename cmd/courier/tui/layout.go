package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Pulse colors cycle through green brightness levels.
var pulseColors = []lipgloss.Color{
	"#73F59F",
	"#5FE08B",
	"#4BCC77",
	"#3FB86A",
	"#4BCC77",
	"#5FE08B",
}

// Layout is the shared frame: header, body, footer.
type Layout struct {
	AppName   string
	Account   string // user@server shown on the right of the header
	Connected bool
	Latency   time.Duration
	Width     int
	Height    int
	Frame     int // incremented on each spinner tick for pulse animation
}

// BodySize returns the available (width, height) for app content.
// Reserves top pad, header, blank, footer and bottom pad, plus two columns
// of padding on each side.
func (l Layout) BodySize() (int, int) {
	return max(l.Width-4, 10), max(l.Height-6, 3)
}

// Render composes header, body and footer into a full frame.
func (l Layout) Render(body string, helpText string) string {
	contentWidth, bodyHeight := l.BodySize()
	dim := lipgloss.NewStyle().Foreground(DimColor)

	var frame strings.Builder
	frame.WriteString("\n")

	// Header: "courier · {app}" left, "{account} {latency} ●" right.
	left := TitleStyle.Render("courier") + dim.Render(" · ") + dim.Render(l.AppName)

	var right string
	if l.Account != "" {
		dot := dim.Render("●")
		if l.Connected {
			c := pulseColors[l.Frame%len(pulseColors)]
			dot = lipgloss.NewStyle().Foreground(c).Bold(true).Render("●")
		}
		right = dim.Render(l.Account)
		if l.Latency > 0 {
			right += " " + dim.Render(l.Latency.Round(time.Millisecond/10).String())
		}
		right += " " + dot
	}

	gap := max(contentWidth-lipgloss.Width(left)-lipgloss.Width(right)-1, 1)
	frame.WriteString("  " + left + strings.Repeat(" ", gap) + right + " ")
	frame.WriteString("\n\n")

	lines := strings.Split(body, "\n")
	for _, line := range lines {
		frame.WriteString("  " + line + "\n")
	}
	frame.WriteString(strings.Repeat("\n", max(bodyHeight-len(lines), 0)))

	frame.WriteString(HelpStyle.Render("  " + helpText))
	frame.WriteString("\n")

	return frame.String()
}
