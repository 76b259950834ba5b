// Package persona defines the configured LLM identities a guild can
// register and the validation rules on their sampling parameters.
package persona

// Persona is one LLM-backed conversational identity, bound per channel to
// a Discord webhook. Name is unique within a guild.
type Persona struct {
	ID      int64
	GuildID string
	Name    string

	APIBase   string
	ModelName string
	APIKey    string

	MaxTokens     int
	SystemPrompt  string
	ContextLength int
	MessageLimit  int

	// InstructTuned selects role-tagged chat completions; false means the
	// raw-completion simulator path.
	InstructTuned bool
	Enabled       bool
	Avatar        string

	SamplingParams
}

// SamplingParams are the model sampling knobs. Temperature always has a
// value; the rest are forwarded only when set.
type SamplingParams struct {
	Temperature       float64
	TopP              *float64
	TopK              *int
	FrequencyPenalty  *float64
	PresencePenalty   *float64
	RepetitionPenalty *float64
	MinP              *float64
	TopA              *float64
}

// DefaultSamplingParams returns the neutral sampling configuration.
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{Temperature: 1.0}
}

// Validate range-checks every sampling parameter. Out-of-range values are
// rejected, never clamped.
func (p SamplingParams) Validate() error {
	if p.Temperature < 0.0 || p.Temperature > 2.0 {
		return NewValidationError("temperature", "must be between 0.0 and 2.0 inclusive")
	}
	if p.TopP != nil && (*p.TopP < 0.0 || *p.TopP > 1.0) {
		return NewValidationError("top_p", "must be between 0.0 and 1.0 inclusive")
	}
	if p.TopK != nil && *p.TopK < 0 {
		return NewValidationError("top_k", "must be non-negative")
	}
	if p.FrequencyPenalty != nil && (*p.FrequencyPenalty < -2.0 || *p.FrequencyPenalty > 2.0) {
		return NewValidationError("frequency_penalty", "must be between -2.0 and 2.0 inclusive")
	}
	if p.PresencePenalty != nil && (*p.PresencePenalty < -2.0 || *p.PresencePenalty > 2.0) {
		return NewValidationError("presence_penalty", "must be between -2.0 and 2.0 inclusive")
	}
	if p.RepetitionPenalty != nil && *p.RepetitionPenalty < 0.0 {
		return NewValidationError("repetition_penalty", "must be non-negative")
	}
	if p.MinP != nil && (*p.MinP < 0.0 || *p.MinP > 1.0) {
		return NewValidationError("min_p", "must be between 0.0 and 1.0 inclusive")
	}
	if p.TopA != nil && *p.TopA < 0.0 {
		return NewValidationError("top_a", "must be non-negative")
	}
	return nil
}

// Validate checks the persona's configuration. Called at create and update
// time so an invalid persona never reaches the turn-execution path.
func (p *Persona) Validate() error {
	if p.Name == "" {
		return NewValidationError("name", "cannot be empty")
	}
	if p.GuildID == "" {
		return NewValidationError("guild_id", "cannot be empty")
	}
	if p.ModelName == "" {
		return NewValidationError("model_name", "cannot be empty")
	}
	if p.MaxTokens <= 0 {
		return NewValidationError("max_tokens", "must be positive")
	}
	if p.MessageLimit <= 0 {
		return NewValidationError("message_limit", "must be positive")
	}
	return p.SamplingParams.Validate()
}
