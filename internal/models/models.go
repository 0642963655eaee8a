package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/teamgate-io/teamgate/internal/prompt"
)

// Team is the tenant of the gateway. PublicKey is the PEM-encoded half of
// the team's vault keypair.
type Team struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	APIKey           string    `json:"api_key"`
	PublicKey        string    `json:"-"`
	RateLimitPerHour int       `json:"rate_limit_per_hour"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ProviderRecord stores a team's enabled provider with its encrypted
// credential blob.
type ProviderRecord struct {
	ID              int64      `json:"id"`
	TeamID          string     `json:"team_id"`
	ProviderID      string     `json:"provider_id"`
	EncryptedConfig string     `json:"-"`
	Valid           bool       `json:"valid"`
	LastUsed        *time.Time `json:"last_used,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// SessionType selects between bare-model sessions and template sessions.
type SessionType string

const (
	SessionLLM    SessionType = "llm"
	SessionPrompt SessionType = "prompt"
)

// Session is a generation scope bound to a team.
type Session struct {
	ID     string      `json:"id"`
	TeamID string      `json:"team_id"`
	Name   string      `json:"name"`
	Mode   string      `json:"mode"`
	Type   SessionType `json:"type"`

	// Set when Type is llm.
	ProviderID string         `json:"provider_id,omitempty"`
	ModelID    string         `json:"model_id,omitempty"`
	Config     map[string]any `json:"config,omitempty"`

	// Set when Type is prompt.
	PromptTemplateID *int64 `json:"prompt_template_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PromptTemplate is a stored template owned by a team.
type PromptTemplate struct {
	ID                 int64               `json:"id"`
	TeamID             string              `json:"team_id"`
	Name               string              `json:"name"`
	Description        string              `json:"description,omitempty"`
	PrePrompt          string              `json:"pre_prompt"`
	SuggestedQuestions []string            `json:"suggested_questions,omitempty"`
	Type               prompt.TemplateType `json:"type"`
	CreatedAt          time.Time           `json:"created_at"`
}

// Template converts the stored record to the transformer's shape.
func (t *PromptTemplate) Template() prompt.Template {
	return prompt.Template{
		Name:               t.Name,
		Description:        t.Description,
		PrePrompt:          t.PrePrompt,
		SuggestedQuestions: t.SuggestedQuestions,
		Type:               t.Type,
	}
}

// UsageLog records priced usage of one generation.
type UsageLog struct {
	ID           int64           `json:"id"`
	TeamID       string          `json:"team_id"`
	SessionID    string          `json:"session_id"`
	ProviderID   string          `json:"provider_id"`
	ModelID      string          `json:"model_id"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	TotalTokens  int             `json:"total_tokens"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	Currency     string          `json:"currency"`
	Latency      float64         `json:"latency"`
	CreatedAt    time.Time       `json:"created_at"`
}
