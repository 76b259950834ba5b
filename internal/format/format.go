// Package format serializes channel history into LLM prompts and parses
// completions back into structured turns.
//
// Two prompt shapes are supported: role-tagged messages for instruct-tuned
// models, and a flat IRC-style transcript for raw completion models. The
// transcript separates entries with TranscriptSeparator, which is wider
// than anything allowed inside a single message, so a completion can be
// cut at the first separator without ambiguity.
package format

import (
	"context"
	"time"
)

// Chat roles for instruct-style completion APIs.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TranscriptSeparator delimits entries in a simulator transcript. Message
// bodies are limited to at most two consecutive newlines, so the separator
// never occurs inside one.
const TranscriptSeparator = "\n\n\n"

// MetadataBeginMarker is the sentinel some instruct providers append before
// trailing metadata; everything from the marker on is discarded.
const MetadataBeginMarker = "<|begin_metadata|>"

// ChannelMessage is one historical message, read-only to this package.
// Exactly one of AuthorID or WebhookID is set: WebhookID for messages sent
// through a webhook (PersonaID additionally set when the webhook is one of
// ours), AuthorID for human messages.
type ChannelMessage struct {
	ID        string
	Content   string
	AuthorID  string
	WebhookID string
	PersonaID int64
	// AuthorDisplay is the display name captured when the message was
	// fetched, the fallback when no fresher name can be resolved.
	AuthorDisplay string
	CreatedAt     time.Time
}

// Message is one role-tagged entry passed to an instruct completion call.
type Message struct {
	Role    string
	Content string
}

// ParsedTurn is the structured form of a raw completion.
type ParsedTurn struct {
	// Message is the cleaned full body, leading speaker tags stripped.
	Message string
	// Chunks are the send-ready fragments of Message.
	Chunks []string
	// Username is the speaker the completion declared, or "" when no line
	// carried a speaker tag.
	Username string
}

// AuthorNamer resolves the display name of a message's author, covering
// humans, managed personas and foreign webhooks uniformly. Implementations
// fall back to a stored or generic name rather than failing, so a webhook
// deleted between fetch and format never aborts a turn.
type AuthorNamer interface {
	AuthorName(ctx context.Context, msg ChannelMessage) string
}

// UserNamer resolves a raw user id to a display name. A "" result means the
// id is unknown and the caller leaves the mention token as-is.
type UserNamer interface {
	UserName(ctx context.Context, userID string) string
}
