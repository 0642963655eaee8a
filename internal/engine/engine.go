// Package engine binds a session to a resolved model bundle and drives
// generation: token budget enforcement, model invocation and streaming
// reduction to a uniform result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/teamgate-io/teamgate/internal/history"
	"github.com/teamgate-io/teamgate/internal/models"
	"github.com/teamgate-io/teamgate/internal/prompt"
	"github.com/teamgate-io/teamgate/internal/provider"
	"github.com/teamgate-io/teamgate/internal/schema"
	"github.com/teamgate-io/teamgate/internal/vault"
)

// ErrContextOverflow indicates the prompt exceeds the model window given the
// current max_tokens.
var ErrContextOverflow = errors.New("prompt exceeds the model context window")

// maxTokensFloor is the smallest value dynamic reshaping will assign.
const maxTokensFloor = 16

// maxTokensName is the reserved parameter template the budget rules key on.
const maxTokensName = "max_tokens"

type Engine struct {
	registry *provider.Registry
	vault    *vault.Vault
	history  *history.Store
}

func New(registry *provider.Registry, v *vault.Vault, hist *history.Store) *Engine {
	return &Engine{
		registry: registry,
		vault:    v,
		history:  hist,
	}
}

// Bundle is the ephemeral resolution of one generation: provider handle,
// llm collection, model descriptor, merged parameters and decrypted
// credentials. Its lifetime is confined to a single generation.
type Bundle struct {
	Provider    *provider.Provider
	Collection  *provider.LLMCollection
	Model       *schema.ModelDescriptor
	Parameters  map[string]any
	Credentials map[string]string
}

// ResolveBundle looks up the provider, decrypts the stored credentials and
// merges requested parameters over the persisted session config.
func (e *Engine) ResolveBundle(team *models.Team, session *models.Session, record *models.ProviderRecord, overrides map[string]any) (*Bundle, error) {
	p, err := e.registry.Provider(session.ProviderID)
	if err != nil {
		return nil, err
	}

	credentials, err := e.vault.DecryptCredentials(team.ID, record.EncryptedConfig)
	if err != nil {
		return nil, err
	}

	collection, err := p.LLMCollection()
	if err != nil {
		return nil, err
	}

	model, err := collection.Model(session.ModelID)
	if err != nil {
		return nil, err
	}

	parameters := make(map[string]any, len(session.Config)+len(overrides))
	for k, v := range session.Config {
		parameters[k] = v
	}
	for k, v := range overrides {
		parameters[k] = v
	}

	return &Bundle{
		Provider:    p,
		Collection:  collection,
		Model:       model,
		Parameters:  parameters,
		Credentials: credentials,
	}, nil
}

// maxTokensField finds the parameter whose name or template is max_tokens.
func maxTokensField(model *schema.ModelDescriptor) string {
	for _, f := range model.ParameterConfigs {
		if f.Name == maxTokensName || f.UseTemplate == maxTokensName {
			return f.Name
		}
	}
	return ""
}

func (b *Bundle) maxTokens() int {
	name := maxTokensField(b.Model)
	if name == "" {
		return 0
	}
	switch v := b.Parameters[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// PrecalculateRestTokens reports how many tokens remain in the model window
// after the template prompt and the requested max_tokens. A model without a
// context size yields -1, meaning unbounded. A negative remainder fails with
// ErrContextOverflow.
func (e *Engine) PrecalculateRestTokens(b *Bundle, tmpl prompt.Template, files, query string) (int, error) {
	contextSize := b.Model.Properties.ContextSize
	if contextSize == 0 {
		return -1, nil
	}

	messages, _, err := prompt.GetPrompt(tmpl, prompt.Options{Query: query, Files: files})
	if err != nil {
		return 0, err
	}

	promptTokens := b.Collection.CountTokens(b.Model, messages)
	rest := contextSize - b.maxTokens() - promptTokens
	if rest < 0 {
		return 0, fmt.Errorf("%w: reduce the prefix prompt or max_tokens, or switch to a model with a larger context window", ErrContextOverflow)
	}
	return rest, nil
}

// RecalculateMaxTokens shrinks the bundle's max_tokens so that prompt plus
// completion fit the context window, never below the floor.
func (e *Engine) RecalculateMaxTokens(b *Bundle, messages []provider.Message) {
	contextSize := b.Model.Properties.ContextSize
	if contextSize == 0 {
		return
	}

	promptTokens := b.Collection.CountTokens(b.Model, messages)
	maxTokens := b.maxTokens()
	if promptTokens+maxTokens <= contextSize {
		return
	}

	name := maxTokensField(b.Model)
	if name == "" {
		return
	}
	reshaped := contextSize - promptTokens
	if reshaped < maxTokensFloor {
		reshaped = maxTokensFloor
	}
	b.Parameters[name] = reshaped
}

// GenerateRequest carries one generation's inputs.
type GenerateRequest struct {
	Team    *models.Team
	Session *models.Session
	Record  *models.ProviderRecord

	Template prompt.Template
	Query    string
	Files    string
	Context  []provider.ContentPart

	Overrides map[string]any
	User      string

	Stream bool
	// OnChunk receives each incremental content fragment, in upstream
	// order, when Stream is set.
	OnChunk func(content string)
}

// Generate resolves the bundle, builds the input messages with memory,
// reshapes max_tokens and invokes the model. Streaming calls are reduced to
// a final result; the callback observes every non-empty incremental
// fragment before Generate returns.
func (e *Engine) Generate(ctx context.Context, req GenerateRequest) (*provider.Result, error) {
	bundle, err := e.ResolveBundle(req.Team, req.Session, req.Record, req.Overrides)
	if err != nil {
		return nil, err
	}

	if _, err := e.PrecalculateRestTokens(bundle, req.Template, req.Files, req.Query); err != nil {
		return nil, err
	}

	var chatHistory []provider.Message
	if e.history != nil {
		chatHistory, err = e.history.Load(ctx, req.Team.ID, req.Session.ID)
		if err != nil {
			log.Printf("load history for session %s: %v", req.Session.ID, err)
			chatHistory = nil
		}
	}

	messages, stop, err := prompt.GetPrompt(req.Template, prompt.Options{
		Query:   req.Query,
		Files:   req.Files,
		Context: req.Context,
		Memory:  true,
		History: chatHistory,
	})
	if err != nil {
		return nil, err
	}

	e.RecalculateMaxTokens(bundle, messages)

	callReq := provider.CallRequest{
		Model:       bundle.Model,
		Credentials: bundle.Credentials,
		Messages:    messages,
		Parameters:  bundle.Parameters,
		Stop:        stop,
		User:        req.User,
	}

	var result *provider.Result
	if req.Stream {
		result, err = e.generateStreamed(ctx, bundle, callReq, req.OnChunk)
	} else {
		result, err = bundle.Collection.Call(ctx, callReq)
	}
	if err != nil {
		return nil, err
	}

	e.remember(ctx, req, result)
	return result, nil
}

// generateStreamed reduces the chunk sequence to a final result: text is
// accumulated, the model id and usage are captured from the chunks, and the
// callback fires per fragment. A cancelled context abandons the generation
// without a result.
func (e *Engine) generateStreamed(ctx context.Context, bundle *Bundle, callReq provider.CallRequest, onChunk func(string)) (*provider.Result, error) {
	chunks, err := bundle.Collection.CallStream(ctx, callReq)
	if err != nil {
		return nil, err
	}

	var (
		text              string
		model             = bundle.Model.ID
		systemFingerprint string
		usage             *provider.Usage
	)

	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.SystemFingerprint != "" {
			systemFingerprint = chunk.SystemFingerprint
		}
		if chunk.Delta.Usage != nil {
			usage = chunk.Delta.Usage
		}

		content := chunk.Delta.Message.Content
		text += content
		if onChunk != nil && content != "" {
			onChunk(content)
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	finalUsage := provider.EmptyUsage()
	if usage != nil {
		finalUsage = *usage
	}
	return &provider.Result{
		Model:             model,
		Messages:          callReq.Messages,
		Message:           provider.AssistantMessage(text),
		Usage:             finalUsage,
		SystemFingerprint: systemFingerprint,
	}, nil
}

// remember appends the exchanged turns to the session history.
func (e *Engine) remember(ctx context.Context, req GenerateRequest, result *provider.Result) {
	if e.history == nil || req.Query == "" {
		return
	}
	err := e.history.Append(ctx, req.Team.ID, req.Session.ID,
		provider.UserMessage(req.Query),
		result.Message,
	)
	if err != nil {
		log.Printf("append history for session %s: %v", req.Session.ID, err)
	}
}
