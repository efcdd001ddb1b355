// Package ui provides styled CLI output using lipgloss
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	colorPrimary = lipgloss.Color("#56C3F4") // Cyan
	colorSuccess = lipgloss.Color("#5AF78E") // Green
	colorWarning = lipgloss.Color("#F7DC6F") // Yellow
	colorError   = lipgloss.Color("#FF6B9D") // Pink/Red
	colorMuted   = lipgloss.Color("#6C7086") // Gray
	colorText    = lipgloss.Color("#CDD6F4") // Light text
	colorBorder  = lipgloss.Color("#45475A") // Border
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	pathStyle = lipgloss.NewStyle().
			Foreground(colorText)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

// PrintSuccess prints a green success line
func PrintSuccess(format string, args ...interface{}) {
	fmt.Println(successStyle.Render("✓ ") + fmt.Sprintf(format, args...))
}

// PrintError prints a red error line
func PrintError(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("✗ ") + fmt.Sprintf(format, args...))
}

// PrintWarning prints a yellow warning line
func PrintWarning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("! ") + fmt.Sprintf(format, args...))
}

// PrintFilePair prints an original → instrumented path line
func PrintFilePair(original, instrumented string) {
	fmt.Printf("  %s %s %s\n",
		pathStyle.Render(original),
		mutedStyle.Render("→"),
		mutedStyle.Render(instrumented))
}

// PrintSummary prints the run summary box
func PrintSummary(instrumented, failed int, tempRoot string) {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Instrumentation summary"))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%s %d file(s) instrumented\n", successStyle.Render("✓"), instrumented))
	if failed > 0 {
		sb.WriteString(fmt.Sprintf("%s %d file(s) failed\n", errorStyle.Render("✗"), failed))
	}
	if tempRoot != "" {
		sb.WriteString(mutedStyle.Render("root: " + tempRoot))
	}
	fmt.Println(boxStyle.Render(sb.String()))
}

// PrintHelp prints the styled help screen
func PrintHelp(version string) {
	title := titleStyle.Render("luacov-instrument") + mutedStyle.Render(" v"+version)
	desc := pathStyle.Render("Source-to-source coverage instrumentation for Lua")

	var sb strings.Builder
	sb.WriteString(title + "\n")
	sb.WriteString(desc + "\n\n")
	sb.WriteString(titleStyle.Render("Commands") + "\n")
	for _, row := range [][2]string{
		{"instrument <path>...", "instrument files or directories"},
		{"validate <file.map>", "check a serialized source map"},
		{"watch <dir>", "re-instrument files as they change"},
		{"version", "print the version"},
	} {
		sb.WriteString(fmt.Sprintf("  %s  %s\n",
			successStyle.Render(fmt.Sprintf("%-22s", row[0])),
			mutedStyle.Render(row[1])))
	}
	fmt.Println(boxStyle.Render(sb.String()))
}
