package format

import (
	"context"
	"fmt"
	"strings"
)

// Instruct turns channel history into role-tagged messages for an
// instruct-style completion call.
//
// Consecutive messages from the same author collapse into one formatted
// message, bodies joined by a blank line, which saves repeating the author
// tag. Messages with empty content are skipped. A message is "assistant"
// only when it was sent through the webhook persona identified by
// respondingAs; everything else, foreign webhooks included, is "user".
func Instruct(ctx context.Context, history []ChannelMessage, systemPrompt string, respondingAs int64, authors AuthorNamer, users UserNamer) []Message {
	var formatted []Message
	if systemPrompt != "" {
		formatted = append(formatted, Message{Role: RoleSystem, Content: systemPrompt})
	}

	for _, group := range groupByAuthor(history) {
		first := group[0]

		var bodies []string
		for _, msg := range group {
			bodies = append(bodies, ReplaceMentions(ctx, msg.Content, users))
		}

		role := RoleUser
		if first.PersonaID != 0 && first.PersonaID == respondingAs {
			role = RoleAssistant
		}

		name := authors.AuthorName(ctx, first)
		content := fmt.Sprintf("<%s> %s", name, strings.Join(bodies, "\n\n"))
		formatted = append(formatted, Message{Role: role, Content: content})
	}

	return formatted
}

// groupByAuthor batches consecutive non-empty messages sharing an author
// identity, preserving order.
func groupByAuthor(history []ChannelMessage) [][]ChannelMessage {
	var groups [][]ChannelMessage
	lastKey := ""
	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		key := authorKey(msg)
		if len(groups) > 0 && key == lastKey {
			groups[len(groups)-1] = append(groups[len(groups)-1], msg)
		} else {
			groups = append(groups, []ChannelMessage{msg})
		}
		lastKey = key
	}
	return groups
}

func authorKey(msg ChannelMessage) string {
	if msg.WebhookID != "" {
		return "webhook:" + msg.WebhookID
	}
	return "user:" + msg.AuthorID
}
