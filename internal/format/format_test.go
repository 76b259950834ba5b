package format

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDirectory backs both resolver interfaces in tests.
type fakeDirectory struct {
	users   map[string]string // user id -> display name
	authors map[string]string // author key -> display name
}

func (d *fakeDirectory) AuthorName(_ context.Context, msg ChannelMessage) string {
	if name, ok := d.authors[authorKey(msg)]; ok {
		return name
	}
	return "unknown"
}

func (d *fakeDirectory) UserName(_ context.Context, userID string) string {
	return d.users[userID]
}

func humanMsg(userID, content string) ChannelMessage {
	return ChannelMessage{ID: "m", Content: content, AuthorID: userID, CreatedAt: time.Now()}
}

func personaMsg(webhookID string, personaID int64, content string) ChannelMessage {
	return ChannelMessage{ID: "m", Content: content, WebhookID: webhookID, PersonaID: personaID, CreatedAt: time.Now()}
}

func TestInstruct(t *testing.T) {
	dir := &fakeDirectory{
		authors: map[string]string{
			"user:1":       "Alice",
			"user:2":       "Bob",
			"webhook:w9":   "Sage",
			"webhook:w404": "Stray",
		},
	}
	ctx := context.Background()

	history := []ChannelMessage{
		humanMsg("1", "hi there"),
		humanMsg("1", "anyone around?"),
		personaMsg("w9", 9, "always"),
		humanMsg("2", ""),
		humanMsg("2", "second human"),
		personaMsg("w404", 0, "foreign webhook talking"),
	}

	messages := Instruct(ctx, history, "be helpful", 9, dir, dir)
	require.Len(t, messages, 5)

	assert.Equal(t, Message{Role: RoleSystem, Content: "be helpful"}, messages[0])
	assert.Equal(t, Message{Role: RoleUser, Content: "<Alice> hi there\n\nanyone around?"}, messages[1])
	assert.Equal(t, Message{Role: RoleAssistant, Content: "<Sage> always"}, messages[2])
	assert.Equal(t, Message{Role: RoleUser, Content: "<Bob> second human"}, messages[3])
	// Foreign webhook: ordinary user message, never assistant.
	assert.Equal(t, Message{Role: RoleUser, Content: "<Stray> foreign webhook talking"}, messages[4])
}

func TestInstructNoSystemPrompt(t *testing.T) {
	dir := &fakeDirectory{authors: map[string]string{"user:1": "Alice"}}

	messages := Instruct(context.Background(), []ChannelMessage{humanMsg("1", "hi")}, "", 9, dir, dir)
	require.Len(t, messages, 1)
	assert.Equal(t, RoleUser, messages[0].Role)
}

func TestInstructSamePersonaDifferentTurnNotGrouped(t *testing.T) {
	dir := &fakeDirectory{authors: map[string]string{"user:1": "Alice", "webhook:w9": "Sage"}}

	history := []ChannelMessage{
		personaMsg("w9", 9, "one"),
		humanMsg("1", "interjection"),
		personaMsg("w9", 9, "two"),
	}

	messages := Instruct(context.Background(), history, "", 9, dir, dir)
	require.Len(t, messages, 3)
	assert.Equal(t, "<Sage> one", messages[0].Content)
	assert.Equal(t, "<Sage> two", messages[2].Content)
}

func TestReplaceMentions(t *testing.T) {
	dir := &fakeDirectory{users: map[string]string{"42": "alice"}}
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "known id", content: "hey <@42>, you up?", want: "hey @alice, you up?"},
		{name: "unknown id left alone", content: "ping <@77>", want: "ping <@77>"},
		{name: "mixed", content: "<@42> and <@77>", want: "@alice and <@77>"},
		{name: "no mentions", content: "plain text", want: "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReplaceMentions(ctx, tt.content, dir))
		})
	}
}

func TestSimulator(t *testing.T) {
	dir := &fakeDirectory{authors: map[string]string{"user:1": "Alice", "webhook:w9": "Sage"}}

	history := []ChannelMessage{
		humanMsg("1", "hello"),
		personaMsg("w9", 9, "greetings"),
	}

	prompt := Simulator(context.Background(), history, "the stage is set", "general",
		[]string{"Sage", "Oracle"}, "", dir, dir)

	want := "the stage is set" + TranscriptSeparator +
		"* Joined channel #general" + TranscriptSeparator +
		"* Sage joined" + TranscriptSeparator +
		"* Oracle joined" + TranscriptSeparator +
		"<Alice> hello" + TranscriptSeparator +
		"<Sage> greetings" + TranscriptSeparator
	assert.Equal(t, want, prompt)
}

func TestSimulatorForcedSpeaker(t *testing.T) {
	dir := &fakeDirectory{}

	prompt := Simulator(context.Background(), nil, "", "general", nil, "Sage", dir, dir)
	assert.Equal(t, "* Joined channel #general"+TranscriptSeparator+"<Sage> ", prompt)
}
