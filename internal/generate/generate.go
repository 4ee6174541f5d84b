// Package generate produces chat text through an external model provider.
//
// Callers receive a Result rather than a bare string: an empty Text with a
// Reason is a soft failure the engine absorbs (skip, retry next cycle), while
// a returned error is a transport fault for the caller's backoff to handle.
package generate

import (
	"context"
	"fmt"
	"strings"
)

const (
	// Context clamps applied to user-supplied text before it enters a prompt.
	MaxMentionContextChars = 1000
	MaxReplyContextChars   = 500

	// Output budgets per call kind. Replies get room for a couple of
	// sentences; ambient posts are a single short line.
	ReplyMaxTokens   = 140
	AmbientMaxTokens = 60
)

// ReasonTruncated marks output that hit the token budget before completing.
// It is the only soft-failure reason that earns a retry.
const ReasonTruncated = "truncated output"

// Result is the outcome of a generation call. Text is empty on soft failure,
// in which case Reason carries a short diagnostic for the log line.
type Result struct {
	Text   string
	Reason string
}

// OK reports whether the call produced usable text.
func (r Result) OK() bool { return r.Text != "" }

// ReplyInput carries everything a mention/reply response needs.
type ReplyInput struct {
	Style       string
	MentionText string
	ReplyText   string
}

// AmbientInput carries the activity metrics an ambient post is allowed to
// see. Ambient prompts never include chat content.
type AmbientInput struct {
	Style      string
	Count      int
	MsgsPerMin float64
}

// Generator is the content collaborator the engine talks to.
type Generator interface {
	Reply(ctx context.Context, in ReplyInput) (Result, error)
	Ambient(ctx context.Context, in AmbientInput) (Result, error)
}

func clampText(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func orPlaceholder(s, placeholder string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}

func buildReplyPrompt(in ReplyInput) string {
	mention := clampText(in.MentionText, MaxMentionContextChars)
	replied := clampText(in.ReplyText, MaxReplyContextChars)

	var b strings.Builder
	b.WriteString("You are a concise Telegram group assistant. ")
	b.WriteString("Follow the style notes exactly. ")
	b.WriteString("Keep output short and safe.")
	b.WriteString("\n\nStyle notes:\n")
	b.WriteString(orPlaceholder(in.Style, "(none)"))
	b.WriteString("\n\nTask: Reply to the user message.")
	b.WriteString("\nUser message:\n")
	b.WriteString(orPlaceholder(mention, "(empty)"))
	if replied != "" {
		b.WriteString("\n\nReplied-to message:\n")
		b.WriteString(replied)
	}
	return b.String()
}

func buildAmbientPrompt(in AmbientInput) string {
	var b strings.Builder
	b.WriteString("You are a concise Telegram group assistant. ")
	b.WriteString("Generate exactly one harmless sentence with no assumptions about specific chat content.")
	b.WriteString("\n\nStyle notes:\n")
	b.WriteString(orPlaceholder(in.Style, "(none)"))
	b.WriteString("\n\nActivity metrics only:")
	fmt.Fprintf(&b, "\ncount_in_window=%d", in.Count)
	fmt.Fprintf(&b, "\nmsgs_per_min=%.2f", in.MsgsPerMin)
	b.WriteString("\n\nTask: Produce one short ambient comment.")
	return b.String()
}
