package ui

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	colorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	colorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	colorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	colorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	colorSubtle = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorWhite).
	Background(colorBlue).
	Padding(0, 1)

var statusBarStyle = lipgloss.NewStyle().
	Foreground(colorWhite).
	Background(colorSubtle).
	Padding(0, 1)

var sectionStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorBlue)

var activityTimeStyle = lipgloss.NewStyle().
	Foreground(colorGray)

var errorStyle = lipgloss.NewStyle().
	Foreground(colorRed).
	Bold(true)
