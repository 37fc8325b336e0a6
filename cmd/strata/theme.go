package main

import "github.com/charmbracelet/lipgloss"

// Theme defines the visual styling for strata status output.
type Theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

// DefaultTheme returns the default theme for strata status.
func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("12"),  // Blue
		Success: lipgloss.Color("10"),  // Green
		Warning: lipgloss.Color("11"),  // Yellow
		Error:   lipgloss.Color("9"),   // Red
		Muted:   lipgloss.Color("240"), // Gray
	}
}

// styles derived from the theme, built once per render.
type statusStyles struct {
	header lipgloss.Style
	frame  lipgloss.Style
	muted  lipgloss.Style
	warn   lipgloss.Style
}

func newStatusStyles(t Theme) statusStyles {
	return statusStyles{
		header: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		frame:  lipgloss.NewStyle().Foreground(t.Success),
		muted:  lipgloss.NewStyle().Foreground(t.Muted),
		warn:   lipgloss.NewStyle().Foreground(t.Warning),
	}
}
