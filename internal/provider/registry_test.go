package provider

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/teamgate-io/teamgate/internal/schema"
)

func testRegistry(t *testing.T, hook CredentialHook) *Registry {
	t.Helper()
	loader := schema.NewLoader("testdata")
	r := NewRegistry(loader)
	if _, err := r.RegisterProvider("acme", hook); err != nil {
		t.Fatalf("RegisterProvider() error = %v", err)
	}
	c := NewLLMCollection(loader, "acme", LLMOptions{Encoder: wordEncoder{}})
	if err := r.RegisterModelCollection("acme", schema.ModelTypeLLM, c); err != nil {
		t.Fatalf("RegisterModelCollection() error = %v", err)
	}
	return r
}

func TestRegistry_UnknownProvider(t *testing.T) {
	r := NewRegistry(schema.NewLoader("testdata"))

	if _, err := r.Provider("acme"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Provider() error = %v, want %v", err, ErrUnknownProvider)
	}
}

func TestRegistry_RegisterProvider_MissingDescriptor(t *testing.T) {
	r := NewRegistry(schema.NewLoader("testdata"))

	if _, err := r.RegisterProvider("ghost", nil); !errors.Is(err, schema.ErrConfigMissing) {
		t.Errorf("RegisterProvider() error = %v, want %v", err, schema.ErrConfigMissing)
	}
}

func TestRegistry_RegisterProvider_Duplicate(t *testing.T) {
	r := testRegistry(t, nil)

	if _, err := r.RegisterProvider("acme", nil); !errors.Is(err, ErrDuplicateProvider) {
		t.Errorf("RegisterProvider() error = %v, want %v", err, ErrDuplicateProvider)
	}
}

func TestRegistry_Schemas_PopulatesModels(t *testing.T) {
	r := testRegistry(t, nil)

	schemas, err := r.Schemas()
	if err != nil {
		t.Fatalf("Schemas() error = %v", err)
	}
	if len(schemas) != 1 {
		t.Fatalf("Schemas() returned %d providers, want 1", len(schemas))
	}
	models := schemas[0].Models[schema.ModelTypeLLM]
	if len(models) == 0 {
		t.Fatal("llm models not populated")
	}
}

func TestRegistry_LLMCollection(t *testing.T) {
	r := testRegistry(t, nil)

	p, err := r.Provider("acme")
	if err != nil {
		t.Fatalf("Provider() error = %v", err)
	}
	llm, err := p.LLMCollection()
	if err != nil {
		t.Fatalf("LLMCollection() error = %v", err)
	}
	if _, err := llm.Model("chat-basic"); err != nil {
		t.Errorf("Model() error = %v", err)
	}

	if _, err := p.Collection(schema.ModelTypeSpeechToText); !errors.Is(err, ErrUnsupportedModelType) {
		t.Errorf("Collection() error = %v, want %v", err, ErrUnsupportedModelType)
	}
}

func TestRegistry_ValidateCredentials(t *testing.T) {
	hookCalls := 0
	r := testRegistry(t, func(ctx context.Context, credentials map[string]string) error {
		hookCalls++
		if credentials["api_key"] != "sk-good" {
			return errors.New("rejected")
		}
		return nil
	})

	filtered, err := r.ValidateCredentials(context.Background(), "acme", map[string]string{
		"api_key": "sk-good",
	})
	if err != nil {
		t.Fatalf("ValidateCredentials() error = %v", err)
	}
	if filtered["api_key"] != "sk-good" {
		t.Errorf("filtered api_key = %q", filtered["api_key"])
	}
	if hookCalls != 1 {
		t.Errorf("hook called %d times, want 1", hookCalls)
	}

	if _, err := r.ValidateCredentials(context.Background(), "acme", map[string]string{}); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("error = %v, want %v", err, ErrMissingCredential)
	}

	_, err = r.ValidateCredentials(context.Background(), "acme", map[string]string{"api_key": "sk-bad"})
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("error = %v, want %v", err, ErrInvalidCredential)
	}
	if err != nil && strings.Contains(err.Error(), "sk-bad") {
		t.Errorf("credential value leaked into error: %v", err)
	}
}
