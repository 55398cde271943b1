package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsAgentMode reports whether output is being consumed by an agent rather
// than a person. Agents get plain text.
func IsAgentMode() bool {
	if os.Getenv("REDLINE_AGENT_MODE") == "1" {
		return true
	}
	return os.Getenv("CLAUDECODE") != "" || os.Getenv("CODEX_SANDBOX") != ""
}

// ShouldUseColor follows the NO_COLOR and CLICOLOR conventions, then falls
// back to whether stdout is a terminal.
func ShouldUseColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if v := os.Getenv("CLICOLOR_FORCE"); v != "" && v != "0" {
		return true
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ConfigureColor sets the lipgloss profile once at startup.
func ConfigureColor() {
	if !ShouldUseColor() || IsAgentMode() {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	out := termenv.NewOutput(os.Stdout)
	lipgloss.SetColorProfile(out.EnvColorProfile())
	lipgloss.SetHasDarkBackground(out.HasDarkBackground())
}

// TerminalWidth returns the stdout width, or fallback when unknown.
func TerminalWidth(fallback int) int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return fallback
}
