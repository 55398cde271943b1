// Package ui provides terminal styling for rl output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/steveyegge/redline/internal/types"
)

// Ayu theme color palette
// Dark: https://terminalcolors.com/themes/ayu/dark/
// Light: https://terminalcolors.com/themes/ayu/light/
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)

	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	DeletedStyle  = lipgloss.NewStyle().Foreground(ColorFail).Strikethrough(true)
)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconInfo = "ℹ"
)

// Gutter markers for pending blocks.
const (
	MarkInsert  = "+"
	MarkRewrite = "~"
	MarkDelete  = "-"
	MarkNone    = " "
)

const SeparatorLight = "──────────────────────────────────────────"

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderCategory renders a section header in uppercase with accent color.
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

// RenderSeparator renders the light separator line in muted color.
func RenderSeparator() string {
	return MutedStyle.Render(SeparatorLight)
}

func RenderPassIcon() string { return PassStyle.Render(IconPass) }
func RenderWarnIcon() string { return WarnStyle.Render(IconWarn) }
func RenderFailIcon() string { return FailStyle.Render(IconFail) }
func RenderInfoIcon() string { return AccentStyle.Render(IconInfo) }

// StatusStyle returns the style used for a pending status.
func StatusStyle(s types.PendingStatus) lipgloss.Style {
	switch s {
	case types.StatusInsert:
		return PassStyle
	case types.StatusRewrite:
		return WarnStyle
	case types.StatusDelete:
		return DeletedStyle
	}
	return lipgloss.NewStyle()
}

// StatusMark returns the gutter marker for a pending status.
func StatusMark(s types.PendingStatus) string {
	switch s {
	case types.StatusInsert:
		return MarkInsert
	case types.StatusRewrite:
		return MarkRewrite
	case types.StatusDelete:
		return MarkDelete
	}
	return MarkNone
}

// RenderStatus renders a status name ("insert") in its color.
func RenderStatus(s types.PendingStatus) string {
	if s == types.StatusNone {
		return RenderMuted("none")
	}
	style := StatusStyle(s)
	if s == types.StatusDelete {
		style = FailStyle
	}
	return style.Render(string(s))
}
