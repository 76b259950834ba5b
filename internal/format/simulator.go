package format

import (
	"context"
	"fmt"
	"strings"
)

// Simulator flattens channel history into a single IRC-style transcript for
// a raw completion model.
//
// The transcript opens with the system prompt (when set), a synthetic
// channel-join line and one join line per participant, followed by one
// "<author> content" entry per non-empty message, all joined by
// TranscriptSeparator. When forceNextSpeaker is non-empty the transcript
// ends with an open "<name> " tag so the model continues as that speaker.
func Simulator(ctx context.Context, history []ChannelMessage, systemPrompt, channelName string, participants []string, forceNextSpeaker string, authors AuthorNamer, users UserNamer) string {
	var entries []string
	if systemPrompt != "" {
		entries = append(entries, systemPrompt)
	}
	if channelName != "" {
		entries = append(entries, fmt.Sprintf("* Joined channel #%s", channelName))
	}
	for _, name := range participants {
		entries = append(entries, fmt.Sprintf("* %s joined", name))
	}

	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		name := authors.AuthorName(ctx, msg)
		content := ReplaceMentions(ctx, msg.Content, users)
		entries = append(entries, fmt.Sprintf("<%s> %s", name, content))
	}

	prompt := strings.Join(entries, TranscriptSeparator) + TranscriptSeparator
	if forceNextSpeaker != "" {
		prompt += fmt.Sprintf("<%s> ", forceNextSpeaker)
	}
	return prompt
}
