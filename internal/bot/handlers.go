package bot

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/mwhitfield/choir/internal/persona"
	"github.com/mwhitfield/choir/internal/turn"
)

// messageHandler handles incoming messages
func (b *Bot) messageHandler(s *discordgo.Session, m *discordgo.MessageCreate) {
	ctx := context.Background()

	if m.Author == nil || m.GuildID == "" {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	// Messages posted through our own webhooks never trigger turns; persona
	// to persona hops happen inside the router's relay loop.
	if m.WebhookID != "" {
		record, err := b.store.GetWebhookByID(ctx, m.WebhookID)
		if err != nil {
			b.logger.ErrorContext(ctx, "failed to resolve webhook author",
				"webhook_id", m.WebhookID,
				"error", err)
			return
		}
		if record != nil {
			return
		}
	}

	channel, err := b.resolveChannel(m.ChannelID, m.GuildID)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to resolve channel",
			"channel_id", m.ChannelID,
			"error", err)
		return
	}

	if err := b.store.EnsureGuild(ctx, m.GuildID, channel.GuildName); err != nil {
		b.logger.ErrorContext(ctx, "failed to record guild", "guild_id", m.GuildID, "error", err)
		return
	}

	// The simulator dump channel is a diagnostics mirror, never an input.
	if dumpID, err := b.store.SimulatorChannelID(ctx, m.GuildID); err == nil && dumpID != "" {
		if dumpID == m.ChannelID || dumpID == channel.ID {
			return
		}
	}

	pinged, err := b.pingedPersonas(ctx, m)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to detect pinged personas",
			"channel_id", m.ChannelID,
			"error", err)
		return
	}

	if len(pinged) > 0 {
		b.runPingedTurns(ctx, pinged, channel, m.ChannelID)
		return
	}

	b.runSimulatorTurn(ctx, channel)
}

// pingedPersonas collects the enabled personas this message addresses,
// either by replying to one of their webhook messages or by writing
// @<persona name> in the body.
func (b *Bot) pingedPersonas(ctx context.Context, m *discordgo.MessageCreate) ([]*persona.Persona, error) {
	personas, err := b.store.GetAllEnabled(ctx, m.GuildID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var pinged []*persona.Persona

	if replied := b.repliedPersona(ctx, m); replied != nil && replied.Enabled {
		seen[replied.ID] = true
		pinged = append(pinged, replied)
	}

	content := strings.ToLower(m.Content)
	for _, p := range personas {
		if seen[p.ID] {
			continue
		}
		if strings.Contains(content, "@"+strings.ToLower(p.Name)) {
			seen[p.ID] = true
			pinged = append(pinged, p)
		}
	}

	return pinged, nil
}

// repliedPersona resolves the persona behind the message this one replies
// to, nil when it is not a reply or not one of ours.
func (b *Bot) repliedPersona(ctx context.Context, m *discordgo.MessageCreate) *persona.Persona {
	if m.MessageReference == nil || m.MessageReference.MessageID == "" {
		return nil
	}

	ref := m.ReferencedMessage
	if ref == nil {
		var err error
		ref, err = b.session.ChannelMessage(m.ChannelID, m.MessageReference.MessageID)
		if err != nil {
			b.logger.WarnContext(ctx, "failed to fetch replied message",
				"message_id", m.MessageReference.MessageID,
				"error", err)
			return nil
		}
	}
	if ref.WebhookID == "" {
		return nil
	}

	record, err := b.store.GetWebhookByID(ctx, ref.WebhookID)
	if err != nil || record == nil {
		return nil
	}
	p, err := b.store.GetPersona(ctx, record.PersonaID)
	if err != nil {
		return nil
	}
	return p
}

// runPingedTurns gives each pinged persona one router turn, in order.
func (b *Bot) runPingedTurns(ctx context.Context, pinged []*persona.Persona, channel turn.Channel, typingChannelID string) {
	b.turnsWG.Add(1)
	go func() {
		defer b.turnsWG.Done()
		for _, p := range pinged {
			if err := b.session.ChannelTyping(typingChannelID); err != nil {
				b.logger.WarnContext(ctx, "failed to send typing indicator",
					"channel_id", typingChannelID,
					"error", err)
			}
			b.router.Respond(ctx, p, channel)
		}
	}()
}

// runSimulatorTurn asks the simulator who speaks next and runs that turn,
// unless one is already in flight for the channel.
func (b *Bot) runSimulatorTurn(ctx context.Context, channel turn.Channel) {
	target := channel.TargetID()
	if !b.tryAcquire(target) {
		b.logger.InfoContext(ctx, "simulator turn already in flight, dropping trigger",
			"channel_id", channel.ID)
		return
	}

	b.turnsWG.Add(1)
	go func() {
		defer b.turnsWG.Done()
		defer b.release(target)

		next, err := b.router.NextParticipant(ctx, channel)
		if err != nil {
			b.logger.ErrorContext(ctx, "simulator turn selection failed",
				"channel_id", channel.ID,
				"error", err)
			return
		}
		if next == nil {
			return
		}
		b.router.Respond(ctx, next, channel)
	}()
}
