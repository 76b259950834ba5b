package turn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhitfield/choir/internal/format"
	"github.com/mwhitfield/choir/internal/persona"
)

type mockHistory struct {
	messages []format.ChannelMessage
}

func (m *mockHistory) History(_ context.Context, _ string, _ int) ([]format.ChannelMessage, error) {
	return m.messages, nil
}

type mockStore struct {
	personas    []*persona.Persona
	simulator   *persona.Persona
	dumpChannel string
}

func (m *mockStore) GetByName(_ context.Context, guildID, name string) (*persona.Persona, error) {
	for _, p := range m.personas {
		if p.GuildID == guildID && p.Name == name {
			return p, nil
		}
	}
	return nil, nil
}

func (m *mockStore) GetAllEnabled(_ context.Context, guildID string) ([]*persona.Persona, error) {
	var out []*persona.Persona
	for _, p := range m.personas {
		if p.GuildID == guildID && p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockStore) Simulator(_ context.Context, _ string) (*persona.Persona, error) {
	return m.simulator, nil
}

func (m *mockStore) SimulatorChannelID(_ context.Context, _ string) (string, error) {
	return m.dumpChannel, nil
}

type sentMessage struct {
	webhook  string
	content  string
	threadID string
}

type mockWebhooks struct {
	sent       []sentMessage
	sendErr    error
	getOrCreat int
}

func (m *mockWebhooks) GetOrCreate(_ context.Context, p *persona.Persona, _ Channel) (Webhook, error) {
	m.getOrCreat++
	return Webhook{ID: "wh-" + p.Name, Name: p.Name}, nil
}

func (m *mockWebhooks) Send(_ context.Context, wh Webhook, content, threadID string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentMessage{webhook: wh.ID, content: content, threadID: threadID})
	return nil
}

// mockCompletions returns canned responses per persona name, in order.
type mockCompletions struct {
	responses map[string][]string
	calls     []string
}

func (m *mockCompletions) next(p *persona.Persona) (string, error) {
	m.calls = append(m.calls, p.Name)
	queue := m.responses[p.Name]
	if len(queue) == 0 {
		return "", fmt.Errorf("no canned response for %s", p.Name)
	}
	resp := queue[0]
	m.responses[p.Name] = queue[1:]
	return resp, nil
}

func (m *mockCompletions) CompleteInstruct(_ context.Context, p *persona.Persona, _ []format.Message) (string, error) {
	return m.next(p)
}

func (m *mockCompletions) CompleteRaw(_ context.Context, p *persona.Persona, _ string, _ []string) (string, error) {
	return m.next(p)
}

type mockMembers struct {
	byName map[string]string
}

func (m *mockMembers) MemberByName(_ context.Context, _, name string) (string, error) {
	return m.byName[name], nil
}

type mockDirectory struct{}

func (mockDirectory) AuthorName(_ context.Context, msg format.ChannelMessage) string {
	return "author-" + msg.AuthorID
}

func (mockDirectory) UserName(_ context.Context, _ string) string { return "" }

type mockNotifier struct {
	announced []string
}

func (m *mockNotifier) Announce(_ context.Context, channelID, content string) {
	m.announced = append(m.announced, channelID+": "+content)
}

type fixture struct {
	router      *Router
	history     *mockHistory
	store       *mockStore
	webhooks    *mockWebhooks
	completions *mockCompletions
	members     *mockMembers
	notifier    *mockNotifier
}

func newFixture(personas []*persona.Persona, responses map[string][]string) *fixture {
	f := &fixture{
		history:     &mockHistory{},
		store:       &mockStore{personas: personas},
		webhooks:    &mockWebhooks{},
		completions: &mockCompletions{responses: responses},
		members:     &mockMembers{byName: map[string]string{}},
		notifier:    &mockNotifier{},
	}
	f.router = NewRouter(
		f.history,
		f.store,
		f.webhooks,
		f.completions,
		f.members,
		mockDirectory{},
		mockDirectory{},
		f.notifier,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return f
}

func instructPersona(id int64, name string, enabled bool) *persona.Persona {
	return &persona.Persona{
		ID:             id,
		GuildID:        "g1",
		Name:           name,
		ModelName:      "example-70b",
		MaxTokens:      128,
		MessageLimit:   50,
		InstructTuned:  true,
		Enabled:        enabled,
		SamplingParams: persona.DefaultSamplingParams(),
	}
}

func testChannel() Channel {
	return Channel{ID: "c1", GuildID: "g1", GuildName: "Guild", Name: "general"}
}

func TestRespondEmptyCompletionAbortsSilently(t *testing.T) {
	sage := instructPersona(1, "Sage", true)
	f := newFixture([]*persona.Persona{sage}, map[string][]string{"Sage": {""}})

	f.router.Respond(context.Background(), sage, testChannel())

	assert.Empty(t, f.webhooks.sent, "declined turn must not send")
	assert.Empty(t, f.notifier.announced, "declined turn is not an error")
}

func TestRespondNoUsernameSendsAsSelf(t *testing.T) {
	sage := instructPersona(1, "Sage", true)
	f := newFixture([]*persona.Persona{sage}, map[string][]string{"Sage": {"plain reply, no tags"}})

	f.router.Respond(context.Background(), sage, testChannel())

	require.Len(t, f.webhooks.sent, 1)
	assert.Equal(t, sentMessage{webhook: "wh-Sage", content: "plain reply, no tags"}, f.webhooks.sent[0])
}

func TestRespondOwnUsernameSends(t *testing.T) {
	sage := instructPersona(1, "Sage", true)
	f := newFixture([]*persona.Persona{sage}, map[string][]string{"Sage": {"<Sage> hello\n\nworld"}})

	f.router.Respond(context.Background(), sage, testChannel())

	require.Len(t, f.webhooks.sent, 2)
	assert.Equal(t, "hello", f.webhooks.sent[0].content)
	assert.Equal(t, "world", f.webhooks.sent[1].content)
}

func TestRespondRelaysToEnabledPersona(t *testing.T) {
	sage := instructPersona(1, "Sage", true)
	oracle := instructPersona(2, "Oracle", true)
	f := newFixture([]*persona.Persona{sage, oracle}, map[string][]string{
		"Sage":   {"<Oracle> your turn"},
		"Oracle": {"<Oracle> thanks, I got this"},
	})

	f.router.Respond(context.Background(), sage, testChannel())

	// One completion per hop: the relay re-enters formatting as Oracle.
	assert.Equal(t, []string{"Sage", "Oracle"}, f.completions.calls)
	require.Len(t, f.webhooks.sent, 1)
	assert.Equal(t, "wh-Oracle", f.webhooks.sent[0].webhook)
	assert.Equal(t, "thanks, I got this", f.webhooks.sent[0].content)
}

func TestRespondDisabledRelayTargetAborts(t *testing.T) {
	sage := instructPersona(1, "Sage", true)
	oracle := instructPersona(2, "Oracle", false)
	f := newFixture([]*persona.Persona{sage, oracle}, map[string][]string{
		"Sage": {"<Oracle> your turn"},
	})

	f.router.Respond(context.Background(), sage, testChannel())

	assert.Equal(t, []string{"Sage"}, f.completions.calls, "disabled target must not get a completion")
	assert.Empty(t, f.webhooks.sent)
	assert.Empty(t, f.notifier.announced)
}

func TestRespondMentionsHumanMember(t *testing.T) {
	sage := instructPersona(1, "Sage", true)
	f := newFixture([]*persona.Persona{sage}, map[string][]string{"Sage": {"<alice> you around?"}})
	f.members.byName["alice"] = "4242"

	f.router.Respond(context.Background(), sage, testChannel())

	require.Len(t, f.webhooks.sent, 1)
	assert.Equal(t, "<@4242>", f.webhooks.sent[0].content)
	assert.Equal(t, []string{"Sage"}, f.completions.calls, "mention ends the turn")
}

func TestRespondUnknownUsernameSendsAnyway(t *testing.T) {
	sage := instructPersona(1, "Sage", true)
	f := newFixture([]*persona.Persona{sage}, map[string][]string{"Sage": {"<Nobody> mystery words"}})

	f.router.Respond(context.Background(), sage, testChannel())

	require.Len(t, f.webhooks.sent, 1)
	assert.Equal(t, "wh-Sage", f.webhooks.sent[0].webhook)
	assert.Equal(t, "mystery words", f.webhooks.sent[0].content)
}

func TestRespondRelayDepthBounded(t *testing.T) {
	sage := instructPersona(1, "Sage", true)
	oracle := instructPersona(2, "Oracle", true)

	// Each persona forever hands control to the other.
	responses := map[string][]string{}
	for i := 0; i <= MaxRelayDepth+2; i++ {
		responses["Sage"] = append(responses["Sage"], "<Oracle> go")
		responses["Oracle"] = append(responses["Oracle"], "<Sage> no you")
	}
	f := newFixture([]*persona.Persona{sage, oracle}, responses)

	f.router.Respond(context.Background(), sage, testChannel())

	assert.Len(t, f.completions.calls, MaxRelayDepth+1)
	assert.Empty(t, f.webhooks.sent)
	assert.Empty(t, f.notifier.announced, "hitting the ceiling is not a user-visible error")
}

func TestRespondThreadAwareSend(t *testing.T) {
	sage := instructPersona(1, "Sage", true)
	f := newFixture([]*persona.Persona{sage}, map[string][]string{"Sage": {"<Sage> in the thread"}})

	channel := testChannel()
	channel.ThreadID = "t9"
	f.router.Respond(context.Background(), sage, channel)

	require.Len(t, f.webhooks.sent, 1)
	assert.Equal(t, "t9", f.webhooks.sent[0].threadID)
}

func TestRespondHardFailureAnnouncesDiagnostic(t *testing.T) {
	sage := instructPersona(1, "Sage", true)
	// No canned response: the completion client errors out.
	f := newFixture([]*persona.Persona{sage}, map[string][]string{})

	f.router.Respond(context.Background(), sage, testChannel())

	assert.Empty(t, f.webhooks.sent)
	require.Len(t, f.notifier.announced, 1)
	assert.True(t, strings.HasPrefix(f.notifier.announced[0], "c1: [Sage failed to respond:"))
}

func TestRespondStripsInstructMetadata(t *testing.T) {
	sage := instructPersona(1, "Sage", true)
	f := newFixture([]*persona.Persona{sage}, map[string][]string{
		"Sage": {"<Sage> the answer\n<|begin_metadata|>\nAuthor: Sage"},
	})

	f.router.Respond(context.Background(), sage, testChannel())

	require.Len(t, f.webhooks.sent, 1)
	assert.Equal(t, "the answer", f.webhooks.sent[0].content)
}

func TestNextParticipant(t *testing.T) {
	oracle := instructPersona(2, "Oracle", true)
	sim := instructPersona(9, "simulator", true)
	sim.InstructTuned = false

	f := newFixture([]*persona.Persona{oracle}, map[string][]string{
		"simulator": {"<author-7> still me\n<Oracle> I can take this"},
	})
	f.store.simulator = sim
	// The last speaker in history is skipped when picking who goes next.
	f.history.messages = []format.ChannelMessage{{ID: "m1", Content: "hmm", AuthorID: "7"}}

	next, err := f.router.NextParticipant(context.Background(), testChannel())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "Oracle", next.Name)
}

func TestNextParticipantNoSimulator(t *testing.T) {
	f := newFixture(nil, map[string][]string{})

	next, err := f.router.NextParticipant(context.Background(), testChannel())
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Empty(t, f.completions.calls)
}

func TestNextParticipantNoNewSpeaker(t *testing.T) {
	sim := instructPersona(9, "simulator", true)
	sim.InstructTuned = false

	f := newFixture(nil, map[string][]string{"simulator": {"no tags at all"}})
	f.store.simulator = sim

	next, err := f.router.NextParticipant(context.Background(), testChannel())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestNextParticipantMirrorsToDumpChannel(t *testing.T) {
	sim := instructPersona(9, "simulator", true)
	sim.InstructTuned = false

	f := newFixture(nil, map[string][]string{"simulator": {"<Alice> raw output"}})
	f.store.simulator = sim
	f.store.dumpChannel = "dump-1"

	_, err := f.router.NextParticipant(context.Background(), testChannel())
	require.NoError(t, err)
	require.Len(t, f.notifier.announced, 1)
	assert.Contains(t, f.notifier.announced[0], "dump-1: ")
	assert.Contains(t, f.notifier.announced[0], "raw output")
}
