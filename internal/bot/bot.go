// Package bot wires gateway events to persona turns: it watches guild
// messages, decides which personas were pinged, and otherwise hands the
// channel to the simulator scheduler.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mwhitfield/choir/internal/discord"
	"github.com/mwhitfield/choir/internal/persona"
	"github.com/mwhitfield/choir/internal/store"
	"github.com/mwhitfield/choir/internal/turn"
)

// Router runs a persona's turn in a channel.
type Router interface {
	Respond(ctx context.Context, p *persona.Persona, channel turn.Channel)
	NextParticipant(ctx context.Context, channel turn.Channel) (*persona.Persona, error)
}

// GuildStore is the slice of the persistent store the event layer needs.
type GuildStore interface {
	EnsureGuild(ctx context.Context, guildID, name string) error
	GetAllEnabled(ctx context.Context, guildID string) ([]*persona.Persona, error)
	GetPersona(ctx context.Context, id int64) (*persona.Persona, error)
	GetWebhookByID(ctx context.Context, webhookID string) (*store.WebhookRecord, error)
	SimulatorChannelID(ctx context.Context, guildID string) (string, error)
}

// Bot represents the Discord bot
type Bot struct {
	session discord.Session
	store   GuildStore
	router  Router
	logger  *slog.Logger

	// One simulator turn may be in flight per channel; pings bypass the gate.
	mu      sync.Mutex
	busy    map[string]bool
	turnsWG sync.WaitGroup
}

// NewBot creates a new bot instance and registers its event handlers.
func NewBot(session discord.Session, guildStore GuildStore, router Router, logger *slog.Logger) *Bot {
	b := &Bot{
		session: session,
		store:   guildStore,
		router:  router,
		logger:  logger,
		busy:    make(map[string]bool),
	}
	session.AddHandler(b.messageHandler)
	return b
}

// Start opens the gateway connection.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}

	user, err := b.session.User("@me")
	if err != nil {
		return fmt.Errorf("error obtaining account details: %w", err)
	}

	b.logger.InfoContext(ctx, "bot started",
		"username", user.Username,
		"user_id", user.ID)

	return nil
}

// Close waits for in-flight turns and closes the session.
func (b *Bot) Close(ctx context.Context) error {
	b.logger.InfoContext(ctx, "closing bot session")
	b.turnsWG.Wait()
	return b.session.Close()
}

// resolveChannel maps a gateway channel id to the routing target. For a
// thread the webhook lives on the parent channel and the thread id rides
// along separately.
func (b *Bot) resolveChannel(channelID, guildID string) (turn.Channel, error) {
	ch, err := b.session.Channel(channelID)
	if err != nil {
		return turn.Channel{}, fmt.Errorf("failed to fetch channel %s: %w", channelID, err)
	}

	out := turn.Channel{
		ID:      ch.ID,
		GuildID: guildID,
		Name:    ch.Name,
	}
	if ch.IsThread() {
		out.ID = ch.ParentID
		out.ThreadID = ch.ID
		if parent, err := b.session.Channel(ch.ParentID); err == nil {
			out.Name = parent.Name
		}
	}

	if guild, err := b.session.GetState().Guild(guildID); err == nil {
		out.GuildName = guild.Name
	} else if guild, err := b.session.Guild(guildID); err == nil {
		out.GuildName = guild.Name
	}

	return out, nil
}

// tryAcquire reserves the channel's simulator slot, false when a turn is
// already running there.
func (b *Bot) tryAcquire(target string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.busy[target] {
		return false
	}
	b.busy[target] = true
	return true
}

func (b *Bot) release(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.busy, target)
}
