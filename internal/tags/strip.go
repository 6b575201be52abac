// Package tags strips the XML-like wrappers codexmem recognises in stored
// text: the injected context block (canonical and legacy spellings) and the
// <private> wrapper. Stripping is bounded per payload so a pathological input
// cannot turn regex rewriting into a hot loop.
package tags

import (
	"regexp"
	"strings"
)

const (
	// ContextTag wraps assembled context injected into new sessions.
	ContextTag = "codexmem-context"
	// LegacyContextTag is the pre-rename spelling, still stripped on read.
	LegacyContextTag = "codex-mem-context"
	// PrivateTag marks prompt text the user does not want persisted.
	PrivateTag = "private"

	// maxStripsPerPayload bounds how many wrapper pairs one payload may carry.
	maxStripsPerPayload = 64
)

var (
	contextBlockRe = regexp.MustCompile(`(?s)<(` + ContextTag + `|` + LegacyContextTag + `)>.*?</(` + ContextTag + `|` + LegacyContextTag + `)>`)
	privateBlockRe = regexp.MustCompile(`(?s)<` + PrivateTag + `>.*?</` + PrivateTag + `>`)
	privateOnlyRe  = regexp.MustCompile(`(?s)\A\s*<` + PrivateTag + `>.*?</` + PrivateTag + `>\s*\z`)
)

// StripContextBlocks removes injected context wrappers and their contents.
// The wrapper content is machine-assembled from records that are already
// persisted, so dropping it loses nothing.
func StripContextBlocks(text string) string {
	return stripBounded(text, contextBlockRe)
}

// StripPrivateBlocks removes <private> wrappers and their contents.
func StripPrivateBlocks(text string) string {
	return stripBounded(text, privateBlockRe)
}

// StripAll removes context and private wrappers. Idempotent.
func StripAll(text string) string {
	return strings.TrimSpace(StripPrivateBlocks(StripContextBlocks(text)))
}

// IsWhollyPrivate reports whether text is nothing but a single <private>
// block (possibly surrounded by whitespace), or is empty after stripping.
// Such prompts are acknowledged but never persisted.
func IsWhollyPrivate(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if privateOnlyRe.MatchString(text) {
		return true
	}
	return StripAll(text) == ""
}

// WrapContext wraps assembled context in the canonical tag for injection.
func WrapContext(text string) string {
	return "<" + ContextTag + ">\n" + text + "\n</" + ContextTag + ">"
}

func stripBounded(text string, re *regexp.Regexp) string {
	for i := 0; i < maxStripsPerPayload; i++ {
		replaced := re.ReplaceAllString(text, "")
		if replaced == text {
			return replaced
		}
		text = replaced
	}
	return text
}
