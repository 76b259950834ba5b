// Package store persists personas, guild settings and webhook identities in
// a local sqlite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/mwhitfield/choir/internal/persona"
)

// Store wraps the sqlite database. All methods are safe for concurrent use;
// database/sql serializes access.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS guild (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		simulator_id INTEGER,
		simulator_channel_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS persona (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id TEXT NOT NULL,
		name TEXT NOT NULL,
		api_base TEXT NOT NULL DEFAULT '',
		model_name TEXT NOT NULL,
		api_key TEXT NOT NULL DEFAULT '',
		max_tokens INTEGER NOT NULL,
		system_prompt TEXT NOT NULL DEFAULT '',
		context_length INTEGER NOT NULL DEFAULT 0,
		message_limit INTEGER NOT NULL,
		instruct_tuned INTEGER NOT NULL DEFAULT 1,
		enabled INTEGER NOT NULL DEFAULT 1,
		avatar TEXT NOT NULL DEFAULT '',
		temperature REAL NOT NULL DEFAULT 1.0,
		top_p REAL,
		top_k INTEGER,
		frequency_penalty REAL,
		presence_penalty REAL,
		repetition_penalty REAL,
		min_p REAL,
		top_a REAL,
		UNIQUE (guild_id, name)
	);

	CREATE INDEX IF NOT EXISTS idx_persona_guild ON persona (guild_id);

	CREATE TABLE IF NOT EXISTS webhook (
		id TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		persona_id INTEGER NOT NULL REFERENCES persona (id) ON DELETE CASCADE,
		UNIQUE (channel_id, persona_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const personaColumns = `id, guild_id, name, api_base, model_name, api_key, max_tokens,
	system_prompt, context_length, message_limit, instruct_tuned, enabled, avatar,
	temperature, top_p, top_k, frequency_penalty, presence_penalty, repetition_penalty, min_p, top_a`

func scanPersona(row interface{ Scan(...any) error }) (*persona.Persona, error) {
	var p persona.Persona
	err := row.Scan(
		&p.ID, &p.GuildID, &p.Name, &p.APIBase, &p.ModelName, &p.APIKey, &p.MaxTokens,
		&p.SystemPrompt, &p.ContextLength, &p.MessageLimit, &p.InstructTuned, &p.Enabled, &p.Avatar,
		&p.Temperature, &p.TopP, &p.TopK, &p.FrequencyPenalty, &p.PresencePenalty,
		&p.RepetitionPenalty, &p.MinP, &p.TopA,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePersona validates and inserts a persona, returning it with its
// assigned id. A name collision within the guild is an error.
func (s *Store) CreatePersona(ctx context.Context, p *persona.Persona) error {
	if err := p.Validate(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO persona (guild_id, name, api_base, model_name, api_key, max_tokens,
			system_prompt, context_length, message_limit, instruct_tuned, enabled, avatar,
			temperature, top_p, top_k, frequency_penalty, presence_penalty, repetition_penalty, min_p, top_a)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.GuildID, p.Name, p.APIBase, p.ModelName, p.APIKey, p.MaxTokens,
		p.SystemPrompt, p.ContextLength, p.MessageLimit, p.InstructTuned, p.Enabled, p.Avatar,
		p.Temperature, p.TopP, p.TopK, p.FrequencyPenalty, p.PresencePenalty,
		p.RepetitionPenalty, p.MinP, p.TopA,
	)
	if err != nil {
		return fmt.Errorf("failed to create persona %q: %w", p.Name, err)
	}

	p.ID, err = res.LastInsertId()
	return err
}

// UpdatePersona validates and saves all fields of an existing persona.
func (s *Store) UpdatePersona(ctx context.Context, p *persona.Persona) error {
	if err := p.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE persona SET guild_id = ?, name = ?, api_base = ?, model_name = ?, api_key = ?,
			max_tokens = ?, system_prompt = ?, context_length = ?, message_limit = ?,
			instruct_tuned = ?, enabled = ?, avatar = ?, temperature = ?, top_p = ?, top_k = ?,
			frequency_penalty = ?, presence_penalty = ?, repetition_penalty = ?, min_p = ?, top_a = ?
		WHERE id = ?`,
		p.GuildID, p.Name, p.APIBase, p.ModelName, p.APIKey,
		p.MaxTokens, p.SystemPrompt, p.ContextLength, p.MessageLimit,
		p.InstructTuned, p.Enabled, p.Avatar, p.Temperature, p.TopP, p.TopK,
		p.FrequencyPenalty, p.PresencePenalty, p.RepetitionPenalty, p.MinP, p.TopA,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update persona %q: %w", p.Name, err)
	}
	return nil
}

// DeletePersona removes a persona and, via cascade, its webhook records.
func (s *Store) DeletePersona(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM persona WHERE id = ?`, id)
	return err
}

// CopyPersona clones a persona under a new name in the same guild.
func (s *Store) CopyPersona(ctx context.Context, source *persona.Persona, newName string) (*persona.Persona, error) {
	clone := *source
	clone.ID = 0
	clone.Name = newName
	if err := s.CreatePersona(ctx, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

// GetPersona fetches a persona by id, (nil, nil) when absent.
func (s *Store) GetPersona(ctx context.Context, id int64) (*persona.Persona, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personaColumns+` FROM persona WHERE id = ?`, id)
	p, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetByName fetches a persona by guild-unique name, (nil, nil) when absent.
func (s *Store) GetByName(ctx context.Context, guildID, name string) (*persona.Persona, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+personaColumns+` FROM persona WHERE guild_id = ? AND name = ?`, guildID, name)
	p, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetAllEnabled lists a guild's enabled personas in name order.
func (s *Store) GetAllEnabled(ctx context.Context, guildID string) ([]*persona.Persona, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+personaColumns+` FROM persona WHERE guild_id = ? AND enabled = 1 ORDER BY name`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var personas []*persona.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		personas = append(personas, p)
	}
	return personas, rows.Err()
}

// EnsureGuild records a guild the bot has seen; existing rows keep their
// simulator settings but pick up name changes.
func (s *Store) EnsureGuild(ctx context.Context, guildID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`, guildID, name)
	return err
}

// SetSimulator designates the persona that drives round-robin turn-taking
// for the guild.
func (s *Store) SetSimulator(ctx context.Context, guildID string, personaID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE guild SET simulator_id = ? WHERE id = ?`, personaID, guildID)
	return err
}

// Simulator returns the guild's designated simulator persona, (nil, nil)
// when none is configured.
func (s *Store) Simulator(ctx context.Context, guildID string) (*persona.Persona, error) {
	var simulatorID sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT simulator_id FROM guild WHERE id = ?`, guildID).Scan(&simulatorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !simulatorID.Valid {
		return nil, nil
	}
	return s.GetPersona(ctx, simulatorID.Int64)
}

// SetSimulatorChannel sets the channel raw simulator output is mirrored to.
func (s *Store) SetSimulatorChannel(ctx context.Context, guildID, channelID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE guild SET simulator_channel_id = ? WHERE id = ?`, channelID, guildID)
	return err
}

// SimulatorChannelID returns the guild's simulator dump channel, "" when
// unset.
func (s *Store) SimulatorChannelID(ctx context.Context, guildID string) (string, error) {
	var channelID string
	err := s.db.QueryRowContext(ctx,
		`SELECT simulator_channel_id FROM guild WHERE id = ?`, guildID).Scan(&channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return channelID, err
}

// WebhookRecord maps one (channel, persona) pair to its Discord webhook.
type WebhookRecord struct {
	ID        string
	Token     string
	ChannelID string
	PersonaID int64
}

// GetWebhook looks up the stored webhook for a channel and persona,
// (nil, nil) when none exists yet.
func (s *Store) GetWebhook(ctx context.Context, channelID string, personaID int64) (*WebhookRecord, error) {
	var w WebhookRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, token, channel_id, persona_id FROM webhook WHERE channel_id = ? AND persona_id = ?`,
		channelID, personaID).Scan(&w.ID, &w.Token, &w.ChannelID, &w.PersonaID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWebhookByID looks up a stored webhook by its Discord id, used to tell
// managed persona messages apart from foreign webhooks.
func (s *Store) GetWebhookByID(ctx context.Context, webhookID string) (*WebhookRecord, error) {
	var w WebhookRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, token, channel_id, persona_id FROM webhook WHERE id = ?`,
		webhookID).Scan(&w.ID, &w.Token, &w.ChannelID, &w.PersonaID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// SaveWebhook records a newly created Discord webhook.
func (s *Store) SaveWebhook(ctx context.Context, w WebhookRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook (id, token, channel_id, persona_id) VALUES (?, ?, ?, ?)`,
		w.ID, w.Token, w.ChannelID, w.PersonaID)
	if err != nil {
		return fmt.Errorf("failed to save webhook %s: %w", w.ID, err)
	}
	return nil
}

// DeleteWebhook drops a stored webhook record, used when Discord reports
// the webhook gone.
func (s *Store) DeleteWebhook(ctx context.Context, webhookID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhook WHERE id = ?`, webhookID)
	return err
}
