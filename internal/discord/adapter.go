package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/mwhitfield/choir/internal/chunk"
	"github.com/mwhitfield/choir/internal/format"
	"github.com/mwhitfield/choir/internal/persona"
	"github.com/mwhitfield/choir/internal/store"
	"github.com/mwhitfield/choir/internal/turn"
)

const (
	memberSearchLimit = 25

	// historyPageSize is Discord's per-call ceiling on channel message
	// fetches; larger limits need pagination.
	historyPageSize = 100
)

// Registry is the slice of the persistent store the adapter needs to map
// webhook ids to personas and remember created webhooks.
type Registry interface {
	GetPersona(ctx context.Context, id int64) (*persona.Persona, error)
	GetWebhook(ctx context.Context, channelID string, personaID int64) (*store.WebhookRecord, error)
	GetWebhookByID(ctx context.Context, webhookID string) (*store.WebhookRecord, error)
	SaveWebhook(ctx context.Context, w store.WebhookRecord) error
	DeleteWebhook(ctx context.Context, webhookID string) error
}

// Adapter implements the turn router's collaborator interfaces on top of a
// live Discord session and the webhook registry.
type Adapter struct {
	session  Session
	registry Registry
	logger   *slog.Logger
}

// NewAdapter creates an adapter over the given session and registry.
func NewAdapter(session Session, registry Registry, logger *slog.Logger) *Adapter {
	return &Adapter{
		session:  session,
		registry: registry,
		logger:   logger,
	}
}

// History fetches up to limit messages from a channel, most recent last.
func (a *Adapter) History(ctx context.Context, channelID string, limit int) ([]format.ChannelMessage, error) {
	var messages []*discordgo.Message
	beforeID := ""
	for len(messages) < limit {
		pageSize := limit - len(messages)
		if pageSize > historyPageSize {
			pageSize = historyPageSize
		}
		page, err := a.session.ChannelMessages(channelID, pageSize, beforeID, "", "")
		if err != nil {
			return nil, fmt.Errorf("failed to fetch channel messages: %w", err)
		}
		if len(page) == 0 {
			break
		}
		messages = append(messages, page...)
		// Pages arrive newest first; the next page continues before the
		// oldest message seen so far.
		beforeID = page[len(page)-1].ID
		if len(page) < pageSize {
			break
		}
	}

	// Discord returns newest first; the formatters want oldest first.
	history := make([]format.ChannelMessage, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		cm := format.ChannelMessage{
			ID:            msg.ID,
			Content:       msg.Content,
			WebhookID:     msg.WebhookID,
			AuthorDisplay: displayName(msg),
			CreatedAt:     msg.Timestamp,
		}
		if msg.WebhookID == "" && msg.Author != nil {
			cm.AuthorID = msg.Author.ID
		}
		if msg.WebhookID != "" {
			record, err := a.registry.GetWebhookByID(ctx, msg.WebhookID)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve webhook %s: %w", msg.WebhookID, err)
			}
			if record != nil {
				cm.PersonaID = record.PersonaID
			}
			// A nil record is a foreign webhook; it stays an ordinary
			// message with its captured display name.
		}
		history = append(history, cm)
	}
	return history, nil
}

func displayName(msg *discordgo.Message) string {
	if msg.Member != nil && msg.Member.Nick != "" {
		return msg.Member.Nick
	}
	if msg.Author == nil {
		return "unknown"
	}
	if msg.Author.GlobalName != "" && msg.WebhookID == "" {
		return msg.Author.GlobalName
	}
	return msg.Author.Username
}

// AuthorName resolves who a message should be attributed to in a prompt.
// Managed webhook messages use the persona's current name so renames take
// effect immediately; everyone else keeps the display name captured at
// fetch time.
func (a *Adapter) AuthorName(ctx context.Context, msg format.ChannelMessage) string {
	if msg.PersonaID != 0 {
		p, err := a.registry.GetPersona(ctx, msg.PersonaID)
		if err == nil && p != nil {
			return p.Name
		}
	}
	if msg.AuthorDisplay != "" {
		return msg.AuthorDisplay
	}
	return "unknown"
}

// UserName resolves a raw user id for mention replacement, "" when Discord
// does not know the id.
func (a *Adapter) UserName(ctx context.Context, userID string) string {
	user, err := a.session.User(userID)
	if err != nil {
		return ""
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}

// MemberByName finds a guild member whose nickname or username matches name
// exactly, returning their id or "".
func (a *Adapter) MemberByName(ctx context.Context, guildID, name string) (string, error) {
	members, err := a.session.GuildMembersSearch(guildID, name, memberSearchLimit)
	if err != nil {
		return "", fmt.Errorf("failed to search guild members: %w", err)
	}
	for _, member := range members {
		if member.User == nil {
			continue
		}
		if strings.EqualFold(member.Nick, name) ||
			strings.EqualFold(member.User.Username, name) ||
			strings.EqualFold(member.User.GlobalName, name) {
			return member.User.ID, nil
		}
	}
	return "", nil
}

// GetOrCreate returns the persona's webhook for the channel, creating and
// recording one on first use.
func (a *Adapter) GetOrCreate(ctx context.Context, p *persona.Persona, channel turn.Channel) (turn.Webhook, error) {
	record, err := a.registry.GetWebhook(ctx, channel.ID, p.ID)
	if err != nil {
		return turn.Webhook{}, err
	}
	if record == nil {
		created, err := a.session.WebhookCreate(channel.ID, p.Name, "")
		if err != nil {
			return turn.Webhook{}, fmt.Errorf("failed to create webhook for %s: %w", p.Name, err)
		}
		record = &store.WebhookRecord{
			ID:        created.ID,
			Token:     created.Token,
			ChannelID: channel.ID,
			PersonaID: p.ID,
		}
		if err := a.registry.SaveWebhook(ctx, *record); err != nil {
			return turn.Webhook{}, err
		}
		a.logger.InfoContext(ctx, "created webhook",
			"persona", p.Name,
			"channel_id", channel.ID,
			"webhook_id", created.ID)
	}

	return turn.Webhook{
		ID:        record.ID,
		Token:     record.Token,
		Name:      p.Name,
		ChannelID: channel.ID,
		PersonaID: p.ID,
	}, nil
}

// Send delivers one chunk through the webhook, into threadID when set. A
// webhook deleted out from under us is recreated once and the send retried;
// that path is a normal branch, not a turn-ending failure.
func (a *Adapter) Send(ctx context.Context, wh turn.Webhook, content, threadID string) error {
	err := a.execute(wh, content, threadID)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to execute webhook %s: %w", wh.ID, err)
	}

	a.logger.WarnContext(ctx, "webhook vanished, recreating",
		"webhook_id", wh.ID,
		"channel_id", wh.ChannelID)

	if err := a.registry.DeleteWebhook(ctx, wh.ID); err != nil {
		return err
	}
	created, err := a.session.WebhookCreate(wh.ChannelID, wh.Name, "")
	if err != nil {
		return fmt.Errorf("failed to recreate webhook for %s: %w", wh.Name, err)
	}
	if err := a.registry.SaveWebhook(ctx, store.WebhookRecord{
		ID:        created.ID,
		Token:     created.Token,
		ChannelID: wh.ChannelID,
		PersonaID: wh.PersonaID,
	}); err != nil {
		return err
	}

	wh.ID, wh.Token = created.ID, created.Token
	if err := a.execute(wh, content, threadID); err != nil {
		return fmt.Errorf("failed to execute recreated webhook %s: %w", wh.ID, err)
	}
	return nil
}

func (a *Adapter) execute(wh turn.Webhook, content, threadID string) error {
	params := &discordgo.WebhookParams{Content: content}
	var err error
	if threadID != "" {
		_, err = a.session.WebhookThreadExecute(wh.ID, wh.Token, false, threadID, params)
	} else {
		_, err = a.session.WebhookExecute(wh.ID, wh.Token, false, params)
	}
	return err
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) &&
		restErr.Response != nil &&
		restErr.Response.StatusCode == http.StatusNotFound
}

// Announce posts a plain bot message, truncated to the platform limit.
// Used for error diagnostics and simulator mirrors; failures are logged
// and swallowed.
func (a *Adapter) Announce(ctx context.Context, channelID, content string) {
	if len(content) > chunk.MaxMessageLength {
		cut := chunk.MaxMessageLength
		// Back off to a rune boundary so the cut never splits a
		// multi-byte character.
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}
	if _, err := a.session.ChannelMessageSend(channelID, content); err != nil {
		a.logger.ErrorContext(ctx, "failed to send announcement",
			"channel_id", channelID,
			"error", err)
	}
}
