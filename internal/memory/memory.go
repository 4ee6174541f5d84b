// Package memory maintains the agent's single persistent free-text document:
// a bounded free-form prefix plus a protected trailing section recording the
// last ambient post. The ambient section survives unrelated rewrites of the
// prefix and is bounded independently.
package memory

import "strings"

const (
	// MaxChars bounds the whole document.
	MaxChars = 5000

	// MaxAmbientChars bounds the ambient section body on its own. It is
	// never truncated to make room for the prefix.
	MaxAmbientChars = 600

	// AmbientHeader is the distinguished header that opens the ambient
	// section. Everything after it belongs to the section.
	AmbientHeader = "\n\n## Last ambient post\n"
)

// Split separates a document into its free-form prefix and ambient section
// body. The body is "" when no section is present.
func Split(doc string) (prefix, ambient string) {
	idx := strings.LastIndex(doc, AmbientHeader)
	if idx < 0 {
		return doc, ""
	}
	return doc[:idx], doc[idx+len(AmbientHeader):]
}

// Merge accepts a candidate full replacement produced by a collaborator that
// is unaware of any ambient section in current, and re-injects the current
// section verbatim so a reply-triggered update never drops the last ambient
// post. The result never exceeds MaxChars; the prefix is truncated first.
func Merge(current, candidate string) string {
	_, ambient := Split(current)
	candidatePrefix, _ := Split(candidate)
	if ambient == "" {
		return clampRunes(candidatePrefix, MaxChars)
	}
	return assemble(candidatePrefix, ambient)
}

// UpsertAmbient replaces the ambient section of doc with ambientText,
// trimmed to MaxAmbientChars. Re-upserting identical text yields an
// identical document.
func UpsertAmbient(doc, ambientText string) string {
	prefix, _ := Split(doc)
	return assemble(prefix, clampRunes(ambientText, MaxAmbientChars))
}

// assemble joins prefix + header + ambient under the total bound, truncating
// the prefix as needed. The ambient body is assumed already within its own
// bound; it is never cut to favor the prefix.
func assemble(prefix, ambient string) string {
	ambient = clampRunes(ambient, MaxAmbientChars)
	if ambient == "" {
		return clampRunes(prefix, MaxChars)
	}
	block := AmbientHeader + ambient
	budget := MaxChars - len([]rune(block))
	if budget < 0 {
		budget = 0
	}
	return clampRunes(prefix, budget) + block
}

// clampRunes truncates s to at most max runes.
func clampRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
