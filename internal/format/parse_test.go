package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMessages(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantUsername string
		wantMessage  string
	}{
		{
			name:         "single tagged line",
			raw:          "<Alice> hello",
			wantUsername: "Alice",
			wantMessage:  "hello",
		},
		{
			name:         "speaker change discards remainder",
			raw:          "<Alice> hello\n<Bob> hi",
			wantUsername: "Alice",
			wantMessage:  "hello",
		},
		{
			name:         "untagged continuation kept",
			raw:          "<Alice> hello\nstill me talking",
			wantUsername: "Alice",
			wantMessage:  "hello\nstill me talking",
		},
		{
			name:         "no tag at all",
			raw:          "just some text\nacross two lines",
			wantUsername: "",
			wantMessage:  "just some text\nacross two lines",
		},
		{
			name:         "repeated same-speaker tags stripped",
			raw:          "<Alice> one\n<Alice> two",
			wantUsername: "Alice",
			wantMessage:  "one\ntwo",
		},
		{
			name:         "stacked tags on one line use the first",
			raw:          "<Alice> <Bob> hello",
			wantUsername: "Alice",
			wantMessage:  "hello",
		},
		{
			name:         "tag mid-line is plain content",
			raw:          "talking about <Bob> here",
			wantUsername: "",
			wantMessage:  "talking about <Bob> here",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turn := ParseMessages(tt.raw)
			assert.Equal(t, tt.wantUsername, turn.Username)
			assert.Equal(t, tt.wantMessage, turn.Message)
		})
	}
}

func TestParseMessagesChunks(t *testing.T) {
	turn := ParseMessages("<Alice> first paragraph\n\nsecond paragraph")
	assert.Equal(t, []string{"first paragraph", "second paragraph"}, turn.Chunks)
}

func TestParseMessagesEmpty(t *testing.T) {
	turn := ParseMessages("")
	assert.Empty(t, turn.Username)
	assert.Empty(t, turn.Chunks)
}

func TestParseNextUser(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		lastSpeaker string
		want        string
	}{
		{
			name:        "first distinct speaker",
			raw:         "<Alice> hi\n<Bob> yo",
			lastSpeaker: "Alice",
			want:        "Bob",
		},
		{
			name:        "skips repeats of last speaker",
			raw:         "<Alice> hi\n<Alice> again\n<Carol> hey",
			lastSpeaker: "Alice",
			want:        "Carol",
		},
		{
			name:        "only last speaker present",
			raw:         "<Alice> hi",
			lastSpeaker: "Alice",
			want:        "",
		},
		{
			name:        "no tags",
			raw:         "nothing structured here",
			lastSpeaker: "Alice",
			want:        "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseNextUser(tt.raw, tt.lastSpeaker))
		})
	}
}

func TestStripMetadata(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "marker present",
			raw:  "the answer\n<|begin_metadata|>\nAuthor: Sage\n",
			want: "the answer",
		},
		{
			name: "no marker",
			raw:  "  the answer  ",
			want: "the answer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripMetadata(tt.raw))
		})
	}
}
