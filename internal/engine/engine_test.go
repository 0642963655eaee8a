package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/teamgate-io/teamgate/internal/models"
	"github.com/teamgate-io/teamgate/internal/prompt"
	"github.com/teamgate-io/teamgate/internal/provider"
	"github.com/teamgate-io/teamgate/internal/schema"
	"github.com/teamgate-io/teamgate/internal/upstream"
	"github.com/teamgate-io/teamgate/internal/vault"
)

type wordEncoder struct{}

func (wordEncoder) Count(model, text string) int {
	return len(strings.Fields(text))
}

type scriptedClient struct {
	completion *upstream.Completion
	events     []upstream.Event

	lastPayload map[string]any
}

func (c *scriptedClient) CreateChat(ctx context.Context, payload map[string]any) (*upstream.Completion, error) {
	c.lastPayload = payload
	return c.completion, nil
}

func (c *scriptedClient) CreateCompletion(ctx context.Context, payload map[string]any) (*upstream.Completion, error) {
	return c.CreateChat(ctx, payload)
}

func (c *scriptedClient) StreamChat(ctx context.Context, payload map[string]any) (<-chan upstream.Event, error) {
	c.lastPayload = payload
	out := make(chan upstream.Event, len(c.events))
	for _, ev := range c.events {
		out <- ev
	}
	close(out)
	return out, nil
}

func (c *scriptedClient) StreamCompletion(ctx context.Context, payload map[string]any) (<-chan upstream.Event, error) {
	return c.StreamChat(ctx, payload)
}

// testEnv wires a registry over testdata, a vault in a temp dir and a team
// with sealed credentials.
type testEnv struct {
	engine  *Engine
	client  *scriptedClient
	team    *models.Team
	session *models.Session
	record  *models.ProviderRecord
}

func newTestEnv(t *testing.T, modelID string) *testEnv {
	t.Helper()

	client := &scriptedClient{}
	loader := schema.NewLoader("testdata")
	registry := provider.NewRegistry(loader)
	if _, err := registry.RegisterProvider("acme", nil); err != nil {
		t.Fatalf("RegisterProvider() error = %v", err)
	}
	collection := provider.NewLLMCollection(loader, "acme", provider.LLMOptions{
		Encoder: wordEncoder{},
		Clients: func(map[string]string) provider.ChatClient { return client },
	})
	if err := registry.RegisterModelCollection("acme", schema.ModelTypeLLM, collection); err != nil {
		t.Fatalf("RegisterModelCollection() error = %v", err)
	}

	v := vault.New(t.TempDir())
	publicKey, err := v.GenerateKeyPair("team-1")
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	sealed, err := v.EncryptCredentials(publicKey, map[string]string{"api_key": "sk-test"})
	if err != nil {
		t.Fatalf("EncryptCredentials() error = %v", err)
	}

	return &testEnv{
		engine: New(registry, v, nil),
		client: client,
		team:   &models.Team{ID: "team-1", PublicKey: publicKey},
		session: &models.Session{
			ID:         "session-1",
			TeamID:     "team-1",
			Type:       models.SessionLLM,
			ProviderID: "acme",
			ModelID:    modelID,
		},
		record: &models.ProviderRecord{
			TeamID:          "team-1",
			ProviderID:      "acme",
			EncryptedConfig: sealed,
			Valid:           true,
		},
	}
}

func TestResolveBundle(t *testing.T) {
	env := newTestEnv(t, "small")
	env.session.Config = map[string]any{"max_tokens": 30}

	bundle, err := env.engine.ResolveBundle(env.team, env.session, env.record, map[string]any{"max_tokens": 20})
	if err != nil {
		t.Fatalf("ResolveBundle() error = %v", err)
	}

	if bundle.Model.ID != "small" {
		t.Errorf("Model.ID = %q, want small", bundle.Model.ID)
	}
	if bundle.Credentials["api_key"] != "sk-test" {
		t.Errorf("credentials not decrypted: %v", bundle.Credentials)
	}
	// Request overrides win over the session config.
	if bundle.Parameters["max_tokens"] != 20 {
		t.Errorf("max_tokens = %v, want override 20", bundle.Parameters["max_tokens"])
	}
}

func TestResolveBundle_UnknownProvider(t *testing.T) {
	env := newTestEnv(t, "small")
	env.session.ProviderID = "ghost"

	if _, err := env.engine.ResolveBundle(env.team, env.session, env.record, nil); !errors.Is(err, provider.ErrUnknownProvider) {
		t.Errorf("ResolveBundle() error = %v, want %v", err, provider.ErrUnknownProvider)
	}
}

func TestPrecalculateRestTokens(t *testing.T) {
	env := newTestEnv(t, "small")

	bundle, err := env.engine.ResolveBundle(env.team, env.session, env.record, map[string]any{"max_tokens": 30})
	if err != nil {
		t.Fatalf("ResolveBundle() error = %v", err)
	}

	// "hello world" is one user turn: 3 + 1 (role) + 2 + 3 (primer) = 9.
	rest, err := env.engine.PrecalculateRestTokens(bundle, prompt.Template{}, "", "hello world")
	if err != nil {
		t.Fatalf("PrecalculateRestTokens() error = %v", err)
	}
	if rest != 11 {
		t.Errorf("rest = %d, want 50 - 30 - 9 = 11", rest)
	}
}

func TestPrecalculateRestTokens_Overflow(t *testing.T) {
	env := newTestEnv(t, "small")

	bundle, err := env.engine.ResolveBundle(env.team, env.session, env.record, map[string]any{"max_tokens": 45})
	if err != nil {
		t.Fatalf("ResolveBundle() error = %v", err)
	}

	_, err = env.engine.PrecalculateRestTokens(bundle, prompt.Template{}, "", "hello world")
	if !errors.Is(err, ErrContextOverflow) {
		t.Fatalf("PrecalculateRestTokens() error = %v, want %v", err, ErrContextOverflow)
	}
	if !strings.Contains(err.Error(), "max_tokens") {
		t.Errorf("overflow error carries no remediation hint: %v", err)
	}
}

func TestPrecalculateRestTokens_Unbounded(t *testing.T) {
	env := newTestEnv(t, "unbounded")

	bundle, err := env.engine.ResolveBundle(env.team, env.session, env.record, nil)
	if err != nil {
		t.Fatalf("ResolveBundle() error = %v", err)
	}

	rest, err := env.engine.PrecalculateRestTokens(bundle, prompt.Template{}, "", strings.Repeat("word ", 10000))
	if err != nil {
		t.Fatalf("PrecalculateRestTokens() error = %v", err)
	}
	if rest != -1 {
		t.Errorf("rest = %d, want -1 for a model without a context size", rest)
	}
}

func TestRecalculateMaxTokens(t *testing.T) {
	env := newTestEnv(t, "small")

	tests := []struct {
		name      string
		maxTokens int
		messages  []provider.Message
		want      int
	}{
		{
			name:      "fits untouched",
			maxTokens: 30,
			messages:  []provider.Message{provider.UserMessage("hello world")}, // 9 tokens
			want:      30,
		},
		{
			name:      "shrinks to the remainder",
			maxTokens: 45,
			messages:  []provider.Message{provider.UserMessage("hello world")}, // 9 tokens
			want:      41,
		},
		{
			name:      "never below the floor",
			maxTokens: 45,
			messages:  []provider.Message{provider.UserMessage(strings.Repeat("w ", 40))}, // 47 tokens
			want:      16,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle, err := env.engine.ResolveBundle(env.team, env.session, env.record, map[string]any{"max_tokens": tt.maxTokens})
			if err != nil {
				t.Fatalf("ResolveBundle() error = %v", err)
			}
			env.engine.RecalculateMaxTokens(bundle, tt.messages)
			if bundle.Parameters["max_tokens"] != tt.want {
				t.Errorf("max_tokens = %v, want %d", bundle.Parameters["max_tokens"], tt.want)
			}
		})
	}
}

func TestGenerate_Batched(t *testing.T) {
	env := newTestEnv(t, "small")
	env.client.completion = &upstream.Completion{
		Model: "small",
		Choices: []upstream.Choice{{
			Message: &upstream.Message{Role: "assistant", Content: "the answer"},
		}},
		Usage: &upstream.Usage{PromptTokens: 9, CompletionTokens: 2},
	}

	result, err := env.engine.Generate(context.Background(), GenerateRequest{
		Team:    env.team,
		Session: env.session,
		Record:  env.record,
		Query:   "hello world",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if result.Message.Content != "the answer" {
		t.Errorf("Message.Content = %q, want the answer", result.Message.Content)
	}
	if result.Usage.InputTokens != 9 || result.Usage.OutputTokens != 2 {
		t.Errorf("usage = %d/%d, want 9/2", result.Usage.InputTokens, result.Usage.OutputTokens)
	}
	if env.client.lastPayload["max_tokens"] != 30 {
		t.Errorf("payload max_tokens = %v, want session default 30", env.client.lastPayload["max_tokens"])
	}
}

func TestGenerate_StreamedCallback(t *testing.T) {
	env := newTestEnv(t, "small")
	env.client.events = []upstream.Event{
		{Completion: &upstream.Completion{
			Model:   "small",
			Choices: []upstream.Choice{{Delta: &upstream.Message{Content: "the "}}},
		}},
		{Completion: &upstream.Completion{
			Model:   "small",
			Choices: []upstream.Choice{{Delta: &upstream.Message{Content: "answer"}}},
		}},
		{Completion: &upstream.Completion{
			Model:   "small",
			Choices: []upstream.Choice{{Delta: &upstream.Message{Content: ""}, FinishReason: "stop"}},
		}},
	}

	var fragments []string
	result, err := env.engine.Generate(context.Background(), GenerateRequest{
		Team:    env.team,
		Session: env.session,
		Record:  env.record,
		Query:   "hello world",
		Stream:  true,
		OnChunk: func(content string) { fragments = append(fragments, content) },
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if result.Message.Content != "the answer" {
		t.Errorf("accumulated content = %q, want the answer", result.Message.Content)
	}
	if len(fragments) != 2 || fragments[0] != "the " || fragments[1] != "answer" {
		t.Errorf("fragments = %v, want [the , answer]", fragments)
	}
	if result.Usage.OutputTokens != 2 {
		t.Errorf("OutputTokens = %d, want locally counted 2", result.Usage.OutputTokens)
	}
}

func TestGenerate_ContextOverflowBeforeCall(t *testing.T) {
	env := newTestEnv(t, "small")
	env.session.Config = map[string]any{"max_tokens": 30}

	// 20 content words + message overhead exceed the 20 tokens the 50-token
	// window leaves after the 30-token completion budget.
	_, err := env.engine.Generate(context.Background(), GenerateRequest{
		Team:    env.team,
		Session: env.session,
		Record:  env.record,
		Query:   strings.TrimSpace(strings.Repeat("word ", 20)),
	})
	if !errors.Is(err, ErrContextOverflow) {
		t.Fatalf("Generate() error = %v, want %v", err, ErrContextOverflow)
	}
	if env.client.lastPayload != nil {
		t.Error("upstream was called despite the overflow")
	}
}
