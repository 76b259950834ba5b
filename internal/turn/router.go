// Package turn orchestrates one conversational turn: fetch history, format
// a prompt, call the model, parse the completion and decide whether to
// send, relay to another persona, mention a human or abort.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mwhitfield/choir/internal/format"
	"github.com/mwhitfield/choir/internal/llm"
	"github.com/mwhitfield/choir/internal/persona"
)

// MaxRelayDepth bounds persona-to-persona relay chains. The relay loop has
// no natural cycle breaker (A names B, B names A, ...), so hops beyond this
// ceiling abort quietly instead of consuming completions forever.
const MaxRelayDepth = 8

// Router runs turns. All collaborators are injected; Router itself holds no
// cross-turn state.
type Router struct {
	history     HistorySource
	store       PersonaStore
	webhooks    WebhookSender
	completions llm.Client
	members     MemberResolver
	authors     format.AuthorNamer
	users       format.UserNamer
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewRouter creates a turn router over the given collaborators.
func NewRouter(history HistorySource, store PersonaStore, webhooks WebhookSender, completions llm.Client, members MemberResolver, authors format.AuthorNamer, users format.UserNamer, notifier Notifier, logger *slog.Logger) *Router {
	return &Router{
		history:     history,
		store:       store,
		webhooks:    webhooks,
		completions: completions,
		members:     members,
		authors:     authors,
		users:       users,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// Respond runs one full turn as persona p in the given channel. Failures
// never propagate past this boundary: they are logged and surfaced as a
// single bracketed diagnostic in the originating channel, so a broken turn
// can't take down the event loop or other concurrent turns.
func (r *Router) Respond(ctx context.Context, p *persona.Persona, channel Channel) {
	turnID := uuid.NewString()
	logger := r.logger.With("turn_id", turnID, "channel_id", channel.TargetID())

	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorContext(ctx, "panic during turn", "persona", p.Name, "panic", rec)
			r.notifier.Announce(ctx, channel.TargetID(), fmt.Sprintf("[%s turn failed unexpectedly]", p.Name))
		}
	}()

	if err := r.respond(ctx, logger, p, channel, 0); err != nil {
		logger.ErrorContext(ctx, "turn failed", "persona", p.Name, "error", err)
		r.notifier.Announce(ctx, channel.TargetID(), fmt.Sprintf("[%s failed to respond: %v]", p.Name, err))
	}
}

func (r *Router) respond(ctx context.Context, logger *slog.Logger, p *persona.Persona, channel Channel, depth int) error {
	if depth > MaxRelayDepth {
		logger.WarnContext(ctx, "relay depth ceiling reached, aborting hop",
			"persona", p.Name,
			"depth", depth)
		return nil
	}

	history, err := r.history.History(ctx, channel.TargetID(), p.MessageLimit)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}

	webhook, err := r.webhooks.GetOrCreate(ctx, p, channel)
	if err != nil {
		return fmt.Errorf("obtaining webhook: %w", err)
	}

	raw, err := r.complete(ctx, p, channel, history)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "received completion",
		"persona", p.Name,
		"response_length", len(raw))

	parsed := format.ParseMessages(raw)
	if len(parsed.Chunks) == 0 {
		logger.InfoContext(ctx, "persona declined to respond", "persona", p.Name)
		return nil
	}

	username := parsed.Username
	if username == "" {
		// No speaker tag anywhere: the reply belongs to the persona that
		// generated it.
		username = p.Name
	}

	if username == p.Name {
		return r.send(ctx, webhook, channel, parsed.Chunks)
	}

	// Enabled/name state is read at relay time, never cached from turn start.
	other, err := r.store.GetByName(ctx, channel.GuildID, username)
	if err != nil {
		return fmt.Errorf("looking up persona %q: %w", username, err)
	}
	if other != nil {
		if !other.Enabled {
			logger.InfoContext(ctx, "relay target disabled, aborting relay",
				"persona", p.Name,
				"target", other.Name)
			return nil
		}
		logger.InfoContext(ctx, "relaying turn",
			"persona", p.Name,
			"target", other.Name,
			"depth", depth+1)
		return r.respond(ctx, logger, other, channel, depth+1)
	}

	memberID, err := r.members.MemberByName(ctx, channel.GuildID, username)
	if err != nil {
		return fmt.Errorf("resolving member %q: %w", username, err)
	}
	if memberID != "" {
		logger.InfoContext(ctx, "mentioning member",
			"persona", p.Name,
			"member", username)
		return r.webhooks.Send(ctx, webhook, fmt.Sprintf("<@%s>", memberID), channel.ThreadID)
	}

	logger.WarnContext(ctx, "completion spoke as unknown username, sending anyway",
		"persona", p.Name,
		"username", username)
	return r.send(ctx, webhook, channel, parsed.Chunks)
}

// complete formats the prompt for the persona's mode and runs the matching
// completion call.
func (r *Router) complete(ctx context.Context, p *persona.Persona, channel Channel, history []format.ChannelMessage) (string, error) {
	prompt := r.systemPrompt(p, channel)

	if p.InstructTuned {
		messages := format.Instruct(ctx, history, prompt, p.ID, r.authors, r.users)
		raw, err := r.completions.CompleteInstruct(ctx, p, messages)
		if err != nil {
			return "", fmt.Errorf("instruct completion: %w", err)
		}
		return format.StripMetadata(raw), nil
	}

	participants, err := r.participantNames(ctx, channel.GuildID)
	if err != nil {
		return "", err
	}
	transcript := format.Simulator(ctx, history, prompt, channel.Name, participants, p.Name, r.authors, r.users)
	raw, err := r.completions.CompleteRaw(ctx, p, transcript, []string{format.TranscriptSeparator})
	if err != nil {
		return "", fmt.Errorf("simulator completion: %w", err)
	}
	return raw, nil
}

// systemPrompt extends the persona's prompt with its identity and the
// current setting. An unset prompt stays unset.
func (r *Router) systemPrompt(p *persona.Persona, channel Channel) string {
	if p.SystemPrompt == "" {
		return ""
	}
	return fmt.Sprintf("%s\n\nYou are: %s\nCurrent Time: %s\nCurrent Discord Guild: %s\nCurrent Discord Channel: %s",
		p.SystemPrompt, p.Name, r.now().Format(time.RFC3339), channel.GuildName, channel.Name)
}

func (r *Router) participantNames(ctx context.Context, guildID string) ([]string, error) {
	personas, err := r.store.GetAllEnabled(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("listing enabled personas: %w", err)
	}
	names := make([]string, 0, len(personas))
	for _, p := range personas {
		names = append(names, p.Name)
	}
	return names, nil
}

// send delivers chunks strictly in order; the first failure stops the
// sequence.
func (r *Router) send(ctx context.Context, webhook Webhook, channel Channel, chunks []string) error {
	for i, chunk := range chunks {
		if err := r.webhooks.Send(ctx, webhook, chunk, channel.ThreadID); err != nil {
			return fmt.Errorf("sending chunk %d of %d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

// NextParticipant asks the guild's simulator persona who should speak next
// in the channel. It returns (nil, nil) when the guild has no simulator,
// the completion names nobody new, or the named speaker is not a persona.
// The caller decides whether and when to actually run that persona's turn.
func (r *Router) NextParticipant(ctx context.Context, channel Channel) (*persona.Persona, error) {
	sim, err := r.store.Simulator(ctx, channel.GuildID)
	if err != nil {
		return nil, fmt.Errorf("looking up simulator persona: %w", err)
	}
	if sim == nil {
		return nil, nil
	}

	history, err := r.history.History(ctx, channel.TargetID(), sim.MessageLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}

	lastSpeaker := ""
	if len(history) > 0 {
		lastSpeaker = r.authors.AuthorName(ctx, history[len(history)-1])
	}

	participants, err := r.participantNames(ctx, channel.GuildID)
	if err != nil {
		return nil, err
	}

	transcript := format.Simulator(ctx, history, r.systemPrompt(sim, channel), channel.Name, participants, "", r.authors, r.users)

	r.logger.InfoContext(ctx, "simulating conversation",
		"channel_id", channel.TargetID(),
		"simulator", sim.Name)

	raw, err := r.completions.CompleteRaw(ctx, sim, transcript, nil)
	if err != nil {
		return nil, fmt.Errorf("simulator completion: %w", err)
	}

	r.mirrorSimulatorOutput(ctx, channel, raw)

	next := format.ParseNextUser(raw, lastSpeaker)
	if next == "" {
		r.logger.InfoContext(ctx, "no new speaker in simulator response", "channel_id", channel.TargetID())
		return nil, nil
	}

	return r.store.GetByName(ctx, channel.GuildID, next)
}

// mirrorSimulatorOutput posts the raw simulator completion to the guild's
// dump channel when one is configured.
func (r *Router) mirrorSimulatorOutput(ctx context.Context, channel Channel, raw string) {
	dumpChannelID, err := r.store.SimulatorChannelID(ctx, channel.GuildID)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to look up simulator channel", "error", err)
		return
	}
	if dumpChannelID == "" {
		return
	}
	content := fmt.Sprintf("#%s:\n```\n%s\n```", channel.Name, strings.ReplaceAll(raw, "```", "`\u200b``"))
	r.notifier.Announce(ctx, dumpChannelID, content)
}
