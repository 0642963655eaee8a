// Package prompt builds the ordered message sequence a session sends to a
// model: stored template, user query, optional context and chat history.
package prompt

import (
	"errors"
	"strings"

	"github.com/teamgate-io/teamgate/internal/provider"
)

// ErrNotImplemented indicates the advanced template mode was requested.
var ErrNotImplemented = errors.New("advanced prompt templates are not implemented")

// TemplateType distinguishes simple pre-prompt templates from advanced ones.
type TemplateType string

const (
	TemplateSimple   TemplateType = "simple"
	TemplateAdvanced TemplateType = "advanced"
)

// Template is a stored prompt template.
type Template struct {
	Name               string       `json:"name"`
	Description        string       `json:"description,omitempty"`
	PrePrompt          string       `json:"pre_prompt"`
	SuggestedQuestions []string     `json:"suggested_questions,omitempty"`
	Type               TemplateType `json:"type"`
}

// Options carries the per-request inputs of the transformation.
type Options struct {
	// Query is the user's question; may be empty for a bare template run.
	Query string

	// Files is pre-extracted file content appended to the user turn.
	Files string

	// Context is retrieved context; list parts are joined with single
	// spaces before use.
	Context []provider.ContentPart

	// Memory appends History to the message list when true.
	Memory  bool
	History []provider.Message
}

// GetPrompt produces the message list and an optional stop-token list for a
// template. Only the simple mode is implemented.
func GetPrompt(tmpl Template, opts Options) ([]provider.Message, []string, error) {
	if tmpl.Type == TemplateAdvanced {
		return nil, nil, ErrNotImplemented
	}
	return simplePrompt(tmpl, opts)
}

func simplePrompt(tmpl Template, opts Options) ([]provider.Message, []string, error) {
	prePrompt := tmpl.PrePrompt
	if ctx := joinContext(opts.Context); ctx != "" {
		prePrompt += "\nCONTEXT:" + ctx + "\n"
	}

	var messages []provider.Message
	if prePrompt != "" && opts.Query != "" {
		messages = append(messages, provider.SystemMessage(prePrompt))
	}

	if opts.Memory {
		messages = append(messages, opts.History...)
	}

	// A lone pre-prompt without a query is still sent as a user turn.
	content := prePrompt
	if opts.Query != "" {
		content = opts.Query
	}
	if opts.Files != "" {
		content += "\n" + opts.Files
	}
	messages = append(messages, provider.UserMessage(content))

	return messages, nil, nil
}

// joinContext folds context parts into a single space-joined string.
func joinContext(parts []provider.ContentPart) string {
	if len(parts) == 0 {
		return ""
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, " ")
}
