package notify

import "strings"

// DefaultStripGlyphs is the assistant persona's decorative glyph set,
// removed before synthesis so the voice does not read out emoji. Includes
// the emoji variation selector so "✔️" strips fully.
const DefaultStripGlyphs = "🦞✓✔🎉️"

// Sanitize strips the default glyph set and surrounding whitespace.
func Sanitize(text string) string {
	return SanitizeWith(text, DefaultStripGlyphs)
}

// SanitizeWith strips every rune of glyphs from text and trims whitespace.
// An empty result means there is nothing worth speaking.
func SanitizeWith(text, glyphs string) string {
	out := strings.Map(func(r rune) rune {
		if strings.ContainsRune(glyphs, r) {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(out)
}
