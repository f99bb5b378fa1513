package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/example/tomato-check/internal/detection"
)

var (
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			MarginRight(1)

	titleStyle       = lipgloss.NewStyle().Bold(true)
	mutedStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	placeholderStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#6b7280"))
)

// Text renders the result for a terminal: one bordered card per detection coloured by label, or
// the placeholder.
func Text(result *detection.Result) string {
	if Empty(result) {
		return placeholderStyle.Render(Placeholder)
	}

	cards := Cards(result)
	rendered := make([]string, 0, len(cards))
	for _, c := range cards {
		body := strings.Join([]string{
			titleStyle.Render("🍅 " + c.Title),
			"Status: " + lipgloss.NewStyle().Foreground(lipgloss.Color(c.Color)).Render(c.Label),
			"Confidence: " + c.Confidence,
			mutedStyle.Render("Position: " + c.Position),
		}, "\n")
		rendered = append(rendered, cardStyle.BorderForeground(lipgloss.Color(c.Color)).Render(body))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rendered...)
}

// Plain renders the result as unstyled lines, one per detection.
func Plain(result *detection.Result) string {
	if Empty(result) {
		return Placeholder
	}
	var b strings.Builder
	for _, c := range Cards(result) {
		b.WriteString(c.Title)
		b.WriteString(": ")
		b.WriteString(c.Label)
		b.WriteString(" ")
		b.WriteString(c.Confidence)
		b.WriteString(" at ")
		b.WriteString(c.Position)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
