package asset

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
)

// MaxPromptRunes bounds the sanitized prompt length.
const MaxPromptRunes = 200

// GenericPrompt replaces empty or non-visual prompts.
const GenericPrompt = "soft abstract gradient backdrop, cinematic lighting"

var (
	labelPrefix = regexp.MustCompile(`(?i)^\s*visuals?\s*:\s*`)
	whitespace  = regexp.MustCompile(`\s+`)
	// Cues that describe sound rather than a picture.
	nonVisual = regexp.MustCompile(`(?i)\b(music|audio|sound|sounds|upbeat|soundtrack|voiceover|voice-over|sfx|narration|jingle)\b`)
	slugStrip = regexp.MustCompile(`[^a-z0-9]+`)
)

// Sanitize normalizes a visual description into a generation prompt. The
// second return reports whether GenericPrompt was substituted.
// Sanitize is idempotent.
func Sanitize(prompt string) (string, bool) {
	p := labelPrefix.ReplaceAllString(prompt, "")
	p = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case r == ',' || r == '.' || r == '-' || r == '\'':
			return r
		default:
			return ' '
		}
	}, p)
	p = strings.TrimSpace(whitespace.ReplaceAllString(p, " "))

	if runes := []rune(p); len(runes) > MaxPromptRunes {
		p = strings.TrimSpace(string(runes[:MaxPromptRunes]))
	}

	if p == "" || nonVisual.MatchString(p) {
		return GenericPrompt, true
	}
	return p, false
}

// IsNonVisual reports whether prompt reads as an audio cue.
func IsNonVisual(prompt string) bool {
	return nonVisual.MatchString(prompt)
}

// CacheKey returns the deterministic, filesystem-safe cache name for a
// prompt/backend pair.
func CacheKey(prompt string, backend Backend) string {
	sum := sha256.Sum256([]byte(string(backend) + "\x00" + prompt))

	slug := strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(prompt), "-"), "-")
	if len(slug) > 48 {
		slug = strings.TrimRight(slug[:48], "-")
	}
	if slug == "" {
		slug = "prompt"
	}
	return string(backend) + "-" + slug + "-" + hex.EncodeToString(sum[:8])
}
