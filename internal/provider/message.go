package provider

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Role identifies the sender of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPart is one element of a list-typed message content. Only text
// parts are currently defined.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Message is a single chat turn. Content and Parts are mutually exclusive;
// when Parts is set it is the authoritative content.
type Message struct {
	Role    Role          `json:"role"`
	Content string        `json:"content"`
	Parts   []ContentPart `json:"parts,omitempty"`
	Name    string        `json:"name,omitempty"`
}

// PlainContent returns the message content as a single string, folding list
// parts with newlines.
func (m Message) PlainContent() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	texts := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, "\n")
}

// SystemMessage builds a system turn.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant turn.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Usage accounts tokens and prices for one generation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`

	InputUnitPrice  decimal.Decimal `json:"input_unit_price"`
	InputPriceUnit  decimal.Decimal `json:"input_price_unit"`
	InputPrice      decimal.Decimal `json:"input_price"`
	OutputUnitPrice decimal.Decimal `json:"output_unit_price"`
	OutputPriceUnit decimal.Decimal `json:"output_price_unit"`
	OutputPrice     decimal.Decimal `json:"output_price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Currency        string          `json:"currency"`

	// Latency is wall time in fractional seconds, measured monotonically.
	Latency float64 `json:"latency"`
}

// EmptyUsage returns a zero-valued usage record in USD.
func EmptyUsage() Usage {
	return Usage{Currency: "USD"}
}

// Result is the uniform outcome of a generation.
type Result struct {
	Model             string    `json:"model"`
	Messages          []Message `json:"messages"`
	Message           Message   `json:"message"`
	Usage             Usage     `json:"usage"`
	SystemFingerprint string    `json:"system_fingerprint,omitempty"`
}

// Delta is the incremental payload of one streamed chunk.
type Delta struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	Usage        *Usage  `json:"usage,omitempty"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Chunk is one element of a streamed generation. A non-nil Err terminates
// the stream.
type Chunk struct {
	Model             string `json:"model"`
	SystemFingerprint string `json:"system_fingerprint,omitempty"`
	Delta             Delta  `json:"delta"`
	Err               error  `json:"-"`
}
