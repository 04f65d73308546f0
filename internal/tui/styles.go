package tui

import "github.com/charmbracelet/lipgloss"

var (
	baseFg    = lipgloss.Color("#E6E6E6")
	baseDimFg = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#6B7280"}
	accentFg  = lipgloss.Color("#7C3AED")
	poiFg     = lipgloss.Color("#73D216")
	boxFg     = lipgloss.Color("#204A87")
	errFg     = lipgloss.Color("#EF2929")

	appStyle    = lipgloss.NewStyle().Foreground(baseFg)
	titleStyle  = lipgloss.NewStyle().Foreground(accentFg).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(accentFg)
	dimStyle    = lipgloss.NewStyle().Foreground(baseDimFg)
	poiStyle    = lipgloss.NewStyle().Foreground(poiFg)
	boxStyle    = lipgloss.NewStyle().Foreground(boxFg)
	errStyle    = lipgloss.NewStyle().Foreground(errFg)
	popupStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
