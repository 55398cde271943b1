package ui

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultContextChars is how much of each end TruncateChars keeps by default.
const DefaultContextChars = 200

// TruncateChars truncates text to maxChars, keeping context from both ends and
// cutting at word boundaries where possible.
func TruncateChars(text string, maxChars, contextChars int) string {
	runeCount := utf8.RuneCountInString(text)
	if runeCount <= maxChars {
		return text
	}
	if contextChars < 50 {
		contextChars = DefaultContextChars
	}
	const markerLen = 50
	if maxChars < contextChars*2+markerLen {
		return truncateAtWordBoundary(text, maxChars-3) + "..."
	}

	runes := []rune(text)
	begin := truncateAtWordBoundary(string(runes[:contextChars]), contextChars)
	end := truncateFromWordBoundary(string(runes[runeCount-contextChars:]), contextChars)
	hidden := runeCount - utf8.RuneCountInString(begin) - utf8.RuneCountInString(end)

	return begin + "\n" + RenderMuted("... ["+strconv.Itoa(hidden)+" chars hidden] ...") + "\n" + end
}

// TruncateSimple performs end truncation with a "..." suffix. UTF-8 safe.
func TruncateSimple(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return "..."
	}
	return string([]rune(text)[:maxLen-3]) + "..."
}

// FirstLine returns text up to its first newline.
func FirstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return line
}

// WrapText wraps text at word boundaries to fit within maxWidth, keeping
// existing line breaks.
func WrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		maxWidth = 80
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = wrapLine(line, maxWidth)
	}
	return strings.Join(lines, "\n")
}

func wrapLine(line string, maxWidth int) string {
	if utf8.RuneCountInString(line) <= maxWidth {
		return line
	}

	var result strings.Builder
	currentLen := 0
	for _, word := range strings.Fields(line) {
		wordLen := utf8.RuneCountInString(word)
		switch {
		case currentLen == 0:
		case currentLen+1+wordLen <= maxWidth:
			result.WriteString(" ")
			currentLen++
		default:
			result.WriteString("\n")
			currentLen = 0
		}
		result.WriteString(word)
		currentLen += wordLen
	}
	return result.String()
}

// truncateAtWordBoundary cuts text to about maxLen runes, preferring the last
// whitespace within 50 runes of the limit.
func truncateAtWordBoundary(text string, maxLen int) string {
	runes := []rune(text)
	if maxLen < 0 {
		maxLen = 0
	}
	if len(runes) <= maxLen {
		return text
	}
	for i := maxLen - 1; i >= maxLen-50 && i > 0; i-- {
		if runes[i] == ' ' || runes[i] == '\n' || runes[i] == '\t' {
			return strings.TrimRight(string(runes[:i]), " \t")
		}
	}
	return string(runes[:maxLen])
}

// truncateFromWordBoundary drops leading text so about maxLen runes remain,
// preferring to start after whitespace.
func truncateFromWordBoundary(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	start := len(runes) - maxLen
	for i := start; i < start+50 && i < len(runes); i++ {
		if runes[i] == ' ' || runes[i] == '\n' || runes[i] == '\t' {
			return strings.TrimLeft(string(runes[i+1:]), " \t")
		}
	}
	return string(runes[start:])
}
