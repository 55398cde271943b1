package idgen

import (
	"regexp"
	"strings"
	"unicode"
)

// StopWords are common words removed from titles when deriving file names.
var StopWords = map[string]bool{
	// Articles
	"a": true, "an": true, "the": true,
	// Prepositions
	"in": true, "on": true, "at": true, "to": true, "for": true,
	"of": true, "with": true, "by": true, "from": true, "as": true,
	// Conjunctions
	"and": true, "or": true, "but": true, "nor": true,
	// Other common words
	"this": true, "that": true, "these": true, "those": true,
	"it": true, "its": true,
}

var nonAlphanumericRegex = regexp.MustCompile(`[^a-z0-9]+`)

var multipleDashRegex = regexp.MustCompile(`-+`)

// maxSlugLength bounds generated file-name slugs.
const maxSlugLength = 48

// Slug converts a document title into a lowercase, dash-separated file name stem
// with stop words removed.
func Slug(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	if slug == "" {
		return "untitled"
	}

	slug = nonAlphanumericRegex.ReplaceAllString(slug, " ")
	words := strings.Fields(slug)

	filtered := make([]string, 0, len(words))
	for _, word := range words {
		if !StopWords[word] {
			filtered = append(filtered, word)
		}
	}

	// If all words were filtered, use the first word from original
	if len(filtered) == 0 && len(words) > 0 {
		filtered = []string{words[0]}
	}
	if len(filtered) == 0 {
		return "untitled"
	}

	slug = strings.Join(filtered, "-")

	if !unicode.IsLetter(rune(slug[0])) {
		slug = "d" + slug
	}

	if len(slug) > maxSlugLength {
		// Try to truncate at word boundary
		truncated := slug[:maxSlugLength]
		if lastDash := strings.LastIndex(truncated, "-"); lastDash > maxSlugLength/2 {
			truncated = truncated[:lastDash]
		}
		slug = truncated
	}

	slug = strings.Trim(slug, "-")
	return multipleDashRegex.ReplaceAllString(slug, "-")
}

// UniqueSlug returns Slug(title), suffixed with -2, -3, ... until exists reports false.
func UniqueSlug(title string, exists func(slug string) bool) string {
	base := Slug(title)
	slug := base
	for suffix := 2; exists(slug) && suffix < 100; suffix++ {
		slug = base + "-" + itoa(suffix)
	}
	return slug
}

// itoa converts an int to a string without importing strconv.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := make([]byte, 0, 10)
	for n > 0 {
		digits = append(digits, byte('0'+n%10))
		n /= 10
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
