package provider

import (
	"context"
	"strings"
	"time"

	"github.com/teamgate-io/teamgate/internal/forms"
	"github.com/teamgate-io/teamgate/internal/schema"
	"github.com/teamgate-io/teamgate/internal/tokenizer"
	"github.com/teamgate-io/teamgate/internal/upstream"
)

// Mode distinguishes chat models from completion models.
type Mode string

const (
	ModeChat       Mode = "chat"
	ModeCompletion Mode = "completion"
)

// replyPrimerTokens accounts for the assistant reply priming every chat
// request carries.
const replyPrimerTokens = 3

// ChatClient is the upstream surface an llm collection drives. Satisfied by
// *upstream.Client.
type ChatClient interface {
	CreateChat(ctx context.Context, payload map[string]any) (*upstream.Completion, error)
	CreateCompletion(ctx context.Context, payload map[string]any) (*upstream.Completion, error)
	StreamChat(ctx context.Context, payload map[string]any) (<-chan upstream.Event, error)
	StreamCompletion(ctx context.Context, payload map[string]any) (<-chan upstream.Event, error)
}

// ClientFactory builds an upstream client from decrypted credentials.
type ClientFactory func(credentials map[string]string) ChatClient

// TokenOverhead holds the per-message and per-name token constants of a
// model family.
type TokenOverhead struct {
	PerMessage int
	PerName    int
}

// LLMOptions configures an llm collection.
type LLMOptions struct {
	Encoder tokenizer.Encoder
	Clients ClientFactory

	// Overhead is the default token overhead; FamilyOverheads overrides it
	// for model-id prefixes (legacy families use different constants).
	Overhead        TokenOverhead
	FamilyOverheads map[string]TokenOverhead
}

// LLMCollection specialises ModelCollection for language models: tokenise,
// dispatch by mode, call with batched and streaming variants.
type LLMCollection struct {
	*ModelCollection

	encoder         tokenizer.Encoder
	clients         ClientFactory
	overhead        TokenOverhead
	familyOverheads map[string]TokenOverhead
}

// NewLLMCollection constructs the llm collection for a provider.
func NewLLMCollection(loader *schema.Loader, providerID string, opts LLMOptions) *LLMCollection {
	overhead := opts.Overhead
	if overhead.PerMessage == 0 {
		overhead = TokenOverhead{PerMessage: 3, PerName: 1}
	}
	return &LLMCollection{
		ModelCollection: NewModelCollection(loader, providerID, schema.ModelTypeLLM),
		encoder:         opts.Encoder,
		clients:         opts.Clients,
		overhead:        overhead,
		familyOverheads: opts.FamilyOverheads,
	}
}

// Mode returns the model's generation mode, defaulting to chat.
func (c *LLMCollection) Mode(model *schema.ModelDescriptor) Mode {
	if model.Properties.Mode == string(ModeCompletion) {
		return ModeCompletion
	}
	return ModeChat
}

func (c *LLMCollection) overheadFor(modelID string) TokenOverhead {
	for prefix, o := range c.familyOverheads {
		if strings.HasPrefix(modelID, prefix) {
			return o
		}
	}
	return c.overhead
}

// CountTokens deterministically counts the prompt tokens of messages for a
// model. Chat mode adds the family's per-message overhead and a per-name
// token when a name is present; completion mode tokenises only the first
// message content.
func (c *LLMCollection) CountTokens(model *schema.ModelDescriptor, messages []Message) int {
	if len(messages) == 0 {
		return 0
	}
	if c.Mode(model) == ModeCompletion {
		return c.encoder.Count(model.ID, messages[0].PlainContent())
	}

	overhead := c.overheadFor(model.ID)
	total := 0
	for _, m := range messages {
		total += overhead.PerMessage
		total += c.encoder.Count(model.ID, string(m.Role))
		total += c.encoder.Count(model.ID, m.PlainContent())
		if m.Name != "" {
			total += overhead.PerName
			total += c.encoder.Count(model.ID, m.Name)
		}
	}
	return total + replyPrimerTokens
}

// CallRequest carries everything one call needs; its lifetime is a single
// generation.
type CallRequest struct {
	Model       *schema.ModelDescriptor
	Credentials map[string]string
	Messages    []Message
	Parameters  map[string]any
	Stop        []string
	User        string
}

// ResolveParameters validates a raw parameter map against the model's
// parameter configs, substituting defaults and following use_template
// references.
func (c *LLMCollection) ResolveParameters(model *schema.ModelDescriptor, parameters map[string]any) (map[string]any, error) {
	return forms.Resolve(model.ParameterConfigs, parameters)
}

// Call performs a batched generation.
func (c *LLMCollection) Call(ctx context.Context, req CallRequest) (*Result, error) {
	start := time.Now()
	prepared, err := c.prepare(req, false)
	if err != nil {
		return nil, err
	}
	return c.callBatched(ctx, req, prepared, start)
}

// CallStream performs a streaming generation, returning a lazy finite chunk
// sequence. The final chunk always carries usage and is emitted last. Models
// that refuse streaming are called batched and wrapped in a one-element
// stream with stop-sequence truncation applied.
func (c *LLMCollection) CallStream(ctx context.Context, req CallRequest) (<-chan Chunk, error) {
	start := time.Now()

	if !supportsStreaming(req.Model) {
		return c.blockAsStream(ctx, req, start)
	}

	prepared, err := c.prepare(req, true)
	if err != nil {
		return nil, err
	}

	client := c.clients(req.Credentials)
	var events <-chan upstream.Event
	if prepared.mode == ModeChat {
		events, err = client.StreamChat(ctx, prepared.payload)
	} else {
		events, err = client.StreamCompletion(ctx, prepared.payload)
	}
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk)
	go c.reduce(ctx, req, prepared, events, chunks, start)
	return chunks, nil
}

// preparedCall is the outcome of parameter processing and message fixups.
type preparedCall struct {
	mode     Mode
	payload  map[string]any
	messages []Message
}

// prepare resolves parameters, applies model-family message fixups and
// assembles the wire payload.
func (c *LLMCollection) prepare(req CallRequest, stream bool) (*preparedCall, error) {
	params, err := c.ResolveParameters(req.Model, req.Parameters)
	if err != nil {
		return nil, err
	}

	messages := fixMessages(req.Model, req.Messages)
	mode := c.Mode(req.Model)

	payload := make(map[string]any, len(params)+6)
	for k, v := range params {
		payload[k] = v
	}
	payload["model"] = req.Model.ID
	if stream {
		payload["stream"] = true
	}
	if len(req.Stop) > 0 {
		payload["stop"] = req.Stop
	}
	if req.User != "" {
		payload["user"] = req.User
	}

	if mode == ModeChat {
		payload["messages"] = wireMessages(messages)
	} else {
		prompt := ""
		if len(messages) > 0 {
			prompt = messages[0].PlainContent()
		}
		payload["prompt"] = prompt
	}

	return &preparedCall{mode: mode, payload: payload, messages: messages}, nil
}

func (c *LLMCollection) callBatched(ctx context.Context, req CallRequest, prepared *preparedCall, start time.Time) (*Result, error) {
	client := c.clients(req.Credentials)

	var completion *upstream.Completion
	var err error
	if prepared.mode == ModeChat {
		completion, err = client.CreateChat(ctx, prepared.payload)
	} else {
		completion, err = client.CreateCompletion(ctx, prepared.payload)
	}
	if err != nil {
		return nil, err
	}

	assistant := AssistantMessage("")
	if len(completion.Choices) > 0 {
		choice := completion.Choices[0]
		if choice.Message != nil {
			assistant = AssistantMessage(contentText(choice.Message.Content))
		} else {
			assistant = AssistantMessage(choice.Text)
		}
	}

	inputTokens, outputTokens := -1, -1
	if completion.Usage != nil {
		inputTokens = completion.Usage.PromptTokens
		outputTokens = completion.Usage.CompletionTokens
	}
	if inputTokens < 0 {
		inputTokens = c.CountTokens(req.Model, prepared.messages)
	}
	if outputTokens < 0 {
		outputTokens = c.encoder.Count(req.Model.ID, assistant.Content)
	}

	usage, err := c.usage(req.Model, inputTokens, outputTokens, start)
	if err != nil {
		return nil, err
	}

	model := completion.Model
	if model == "" {
		model = req.Model.ID
	}
	return &Result{
		Model:             model,
		Messages:          prepared.messages,
		Message:           assistant,
		Usage:             usage,
		SystemFingerprint: completion.SystemFingerprint,
	}, nil
}

// reduce performs the single-pass streaming reduction: content deltas are
// forwarded in upstream order, a finish-reason delta is held back, usage is
// captured from any delta that carries it, and the held chunk is emitted
// last with usage attached.
func (c *LLMCollection) reduce(ctx context.Context, req CallRequest, prepared *preparedCall, events <-chan upstream.Event, chunks chan<- Chunk, start time.Time) {
	defer close(chunks)

	var (
		final        *Chunk
		text         strings.Builder
		inputTokens  = -1
		outputTokens = -1
	)

	emit := func(ch Chunk) bool {
		select {
		case chunks <- ch:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for ev := range events {
		if ev.Err != nil {
			emit(Chunk{Model: req.Model.ID, Err: ev.Err})
			return
		}
		delta := ev.Completion

		if len(delta.Choices) == 0 {
			if delta.Usage != nil {
				inputTokens = delta.Usage.PromptTokens
				outputTokens = delta.Usage.CompletionTokens
			}
			continue
		}

		choice := delta.Choices[0]
		if delta.Usage != nil {
			inputTokens = delta.Usage.PromptTokens
			outputTokens = delta.Usage.CompletionTokens
		}

		content := ""
		if choice.Delta != nil {
			content = contentText(choice.Delta.Content)
		} else {
			content = choice.Text
		}

		if choice.FinishReason != "" {
			text.WriteString(content)
			final = &Chunk{
				Model:             delta.Model,
				SystemFingerprint: delta.SystemFingerprint,
				Delta: Delta{
					Index:        choice.Index,
					Message:      AssistantMessage(content),
					FinishReason: choice.FinishReason,
				},
			}
			continue
		}

		text.WriteString(content)
		if !emit(Chunk{
			Model:             delta.Model,
			SystemFingerprint: delta.SystemFingerprint,
			Delta: Delta{
				Index:   choice.Index,
				Message: AssistantMessage(content),
			},
		}) {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}

	if inputTokens < 0 {
		inputTokens = c.CountTokens(req.Model, prepared.messages)
	}
	if outputTokens < 0 {
		outputTokens = c.encoder.Count(req.Model.ID, text.String())
	}
	usage, err := c.usage(req.Model, inputTokens, outputTokens, start)
	if err != nil {
		emit(Chunk{Model: req.Model.ID, Err: err})
		return
	}

	if final == nil {
		final = &Chunk{
			Model: req.Model.ID,
			Delta: Delta{Message: AssistantMessage("")},
		}
	}
	final.Delta.Usage = &usage
	emit(*final)
}

// blockAsStream performs a batched call for models that refuse streaming and
// wraps the result in a one-element stream, truncating at the first stop
// sequence.
func (c *LLMCollection) blockAsStream(ctx context.Context, req CallRequest, start time.Time) (<-chan Chunk, error) {
	stops := req.Stop
	batched := req
	batched.Stop = nil

	prepared, err := c.prepare(batched, false)
	if err != nil {
		return nil, err
	}
	result, err := c.callBatched(ctx, batched, prepared, start)
	if err != nil {
		return nil, err
	}

	content := truncateAtStop(result.Message.Content, stops)

	chunks := make(chan Chunk, 1)
	chunks <- Chunk{
		Model:             result.Model,
		SystemFingerprint: result.SystemFingerprint,
		Delta: Delta{
			Message:      AssistantMessage(content),
			Usage:        &result.Usage,
			FinishReason: "stop",
		},
	}
	close(chunks)
	return chunks, nil
}

// usage prices both directions and assembles the usage record.
func (c *LLMCollection) usage(model *schema.ModelDescriptor, inputTokens, outputTokens int, start time.Time) (Usage, error) {
	input, err := c.Price(model.ID, PriceInput, inputTokens)
	if err != nil {
		return Usage{}, err
	}
	output, err := c.Price(model.ID, PriceOutput, outputTokens)
	if err != nil {
		return Usage{}, err
	}

	return Usage{
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		TotalTokens:     inputTokens + outputTokens,
		InputUnitPrice:  input.UnitPrice,
		InputPriceUnit:  input.Unit,
		InputPrice:      input.TotalAmount,
		OutputUnitPrice: output.UnitPrice,
		OutputPriceUnit: output.Unit,
		OutputPrice:     output.TotalAmount,
		TotalPrice:      input.TotalAmount.Add(output.TotalAmount),
		Currency:        input.Currency,
		Latency:         time.Since(start).Seconds(),
	}, nil
}

// truncateAtStop keeps the prefix before the earliest stop sequence.
func truncateAtStop(content string, stops []string) string {
	cut := len(content)
	for _, stop := range stops {
		if stop == "" {
			continue
		}
		if idx := strings.Index(content, stop); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return content[:cut]
}

// supportsStreaming consults the model property, defaulting to refusing for
// the o1 family.
func supportsStreaming(model *schema.ModelDescriptor) bool {
	if model.Properties.SupportsStreaming != nil {
		return *model.Properties.SupportsStreaming
	}
	return !strings.HasPrefix(model.ID, "o1")
}

func supportsSystemRole(model *schema.ModelDescriptor) bool {
	if model.Properties.SupportsSystemRole != nil {
		return *model.Properties.SupportsSystemRole
	}
	return !strings.HasPrefix(model.ID, "o1")
}

func supportsListContent(model *schema.ModelDescriptor) bool {
	if model.Properties.SupportsListContent != nil {
		return *model.Properties.SupportsListContent
	}
	return !strings.HasPrefix(model.ID, "o1")
}

// fixMessages applies model-family rewrites before a call: list content is
// folded into a newline-joined string for models that reject it, and system
// messages become user messages for models that reject the system role.
func fixMessages(model *schema.ModelDescriptor, messages []Message) []Message {
	foldParts := !supportsListContent(model)
	rewriteSystem := !supportsSystemRole(model)

	out := make([]Message, len(messages))
	for i, m := range messages {
		fixed := m
		if foldParts && len(m.Parts) > 0 {
			fixed.Content = m.PlainContent()
			fixed.Parts = nil
		}
		if rewriteSystem && m.Role == RoleSystem {
			fixed.Role = RoleUser
		}
		out[i] = fixed
	}
	return out
}

// wireMessages converts messages to the upstream shape; list content becomes
// typed text parts.
func wireMessages(messages []Message) []upstream.Message {
	wire := make([]upstream.Message, len(messages))
	for i, m := range messages {
		var content any = m.Content
		if len(m.Parts) > 0 {
			parts := make([]map[string]any, len(m.Parts))
			for j, p := range m.Parts {
				parts[j] = map[string]any{"type": p.Type, "text": p.Text}
			}
			content = parts
		}
		wire[i] = upstream.Message{Role: string(m.Role), Content: content, Name: m.Name}
	}
	return wire
}

// contentText normalises upstream content, which may arrive as a string or a
// list of typed parts.
func contentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, part := range v {
			if m, ok := part.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					sb.WriteString(text)
				}
			}
		}
		return sb.String()
	case nil:
		return ""
	default:
		return ""
	}
}
