package ui

import (
	"github.com/charmbracelet/glamour"
)

// RenderMarkdown renders markdown text for the terminal. Returns the input
// unchanged when colors are off, in agent mode, or when rendering fails.
func RenderMarkdown(markdown string) string {
	if IsAgentMode() || !ShouldUseColor() {
		return markdown
	}

	// wider lines hurt readability
	const maxReadableWidth = 100
	wrapWidth := TerminalWidth(80)
	if wrapWidth > maxReadableWidth {
		wrapWidth = maxReadableWidth
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrapWidth),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}
