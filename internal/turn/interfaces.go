package turn

import (
	"context"

	"github.com/mwhitfield/choir/internal/format"
	"github.com/mwhitfield/choir/internal/persona"
)

// Channel identifies where a turn happens. ID is always the webhook-bearing
// text channel; ThreadID is set when the conversation lives in a sub-thread
// of it, in which case sends are directed into the thread.
type Channel struct {
	ID        string
	ThreadID  string
	GuildID   string
	GuildName string
	Name      string
}

// TargetID is the channel messages are read from and delivered to.
func (c Channel) TargetID() string {
	if c.ThreadID != "" {
		return c.ThreadID
	}
	return c.ID
}

// HistorySource supplies bounded channel history, most recent last.
type HistorySource interface {
	History(ctx context.Context, channelID string, limit int) ([]format.ChannelMessage, error)
}

// PersonaStore is the durable persona registry. Lookups that find nothing
// return (nil, nil); reads reflect current state, not a turn-start snapshot.
type PersonaStore interface {
	GetByName(ctx context.Context, guildID, name string) (*persona.Persona, error)
	GetAllEnabled(ctx context.Context, guildID string) ([]*persona.Persona, error)
	Simulator(ctx context.Context, guildID string) (*persona.Persona, error)
	SimulatorChannelID(ctx context.Context, guildID string) (string, error)
}

// Webhook is a persona's posting identity in one channel. ChannelID and
// PersonaID let the sender recreate the webhook if Discord reports it gone
// mid-turn.
type Webhook struct {
	ID        string
	Token     string
	Name      string
	ChannelID string
	PersonaID int64
}

// WebhookSender obtains and drives persona webhooks.
type WebhookSender interface {
	GetOrCreate(ctx context.Context, p *persona.Persona, channel Channel) (Webhook, error)
	// Send delivers one chunk through the webhook, into threadID when set.
	Send(ctx context.Context, wh Webhook, content, threadID string) error
}

// MemberResolver finds a human guild member by display name. A "" id means
// no such member.
type MemberResolver interface {
	MemberByName(ctx context.Context, guildID, name string) (string, error)
}

// Notifier posts out-of-band bot messages: bracketed error diagnostics and
// simulator transcript mirrors. Delivery failures are its own problem; it
// never fails the turn.
type Notifier interface {
	Announce(ctx context.Context, channelID, content string)
}
