package format

import (
	"regexp"
	"strings"

	"github.com/mwhitfield/choir/internal/chunk"
)

var (
	// One or more leading <username> tags followed by the line's content.
	taggedLinePattern = regexp.MustCompile(`^(?:<[^>]+>\s*)+(.*)$`)
	usernamePattern   = regexp.MustCompile(`<([^>]+)>`)
	leadingTagPattern = regexp.MustCompile(`(?m)^<([^>]+)>`)
)

// ParseMessages extracts the speaker, cleaned body and send-ready chunks
// from a raw completion.
//
// The first line carrying a speaker tag establishes the active speaker;
// a later line tagged with a different name ends the parse there, so a
// hallucinated continuation by another speaker is never attributed to this
// one. Untagged lines pass through as continuation content. Username stays
// "" when no line ever matched, in which case the caller attributes the
// turn to the persona that generated it.
func ParseMessages(raw string) ParsedTurn {
	var processed []string
	activeUsername := ""

	for _, line := range strings.Split(raw, "\n") {
		match := taggedLinePattern.FindStringSubmatch(line)
		if match == nil {
			processed = append(processed, line)
			continue
		}

		username := usernamePattern.FindStringSubmatch(line)[1]
		if activeUsername == "" {
			activeUsername = username
		}
		if username != activeUsername {
			break
		}
		processed = append(processed, match[1])
	}

	message := strings.Join(processed, "\n")
	return ParsedTurn{
		Message:  message,
		Chunks:   chunk.Split(message),
		Username: activeUsername,
	}
}

// ParseNextUser scans leading speaker tags in order of appearance and
// returns the first username different from lastSpeaker, or "" when every
// tag (or no tag) names lastSpeaker. Simulator mode uses this to pick who
// is invited to speak next.
func ParseNextUser(raw, lastSpeaker string) string {
	for _, match := range leadingTagPattern.FindAllStringSubmatch(raw, -1) {
		if match[1] != lastSpeaker {
			return match[1]
		}
	}
	return ""
}

// StripMetadata removes a trailing metadata section from a completion, when
// present, before any further parsing.
func StripMetadata(raw string) string {
	if i := strings.Index(raw, MetadataBeginMarker); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw)
}
