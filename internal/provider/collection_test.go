package provider

import (
	"errors"
	"testing"

	"github.com/teamgate-io/teamgate/internal/schema"
)

func testCollection(t *testing.T) *ModelCollection {
	t.Helper()
	loader := schema.NewLoader("testdata")
	return NewModelCollection(loader, "acme", schema.ModelTypeLLM)
}

func TestModelCollection_Model(t *testing.T) {
	c := testCollection(t)

	model, err := c.Model("chat-basic")
	if err != nil {
		t.Fatalf("Model() error = %v", err)
	}
	if model.Properties.ContextSize != 16000 {
		t.Errorf("ContextSize = %d, want 16000", model.Properties.ContextSize)
	}

	if _, err := c.Model("nope"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Model() error = %v, want %v", err, ErrUnknownModel)
	}
}

func TestModelCollection_Price(t *testing.T) {
	c := testCollection(t)

	tests := []struct {
		name      string
		model     string
		direction PriceDirection
		tokens    int
		want      string
		currency  string
	}{
		{"input is exact", "chat-basic", PriceInput, 123, "0.000123", "USD"},
		{"output is exact", "chat-basic", PriceOutput, 50, "0.0001", "USD"},
		{"zero tokens", "chat-basic", PriceInput, 0, "0", "USD"},
		{"unpriced model", "completion-basic", PriceInput, 1000, "0", "USD"},
		{"half rounds up at scale seven", "rounding", PriceInput, 1, "0.0000001", "EUR"},
		{"missing output pricing is zero", "rounding", PriceOutput, 1000, "0", "EUR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := c.Price(tt.model, tt.direction, tt.tokens)
			if err != nil {
				t.Fatalf("Price() error = %v", err)
			}
			if info.TotalAmount.String() != tt.want {
				t.Errorf("TotalAmount = %s, want %s", info.TotalAmount, tt.want)
			}
			if info.Currency != tt.currency {
				t.Errorf("Currency = %q, want %q", info.Currency, tt.currency)
			}
		})
	}
}

func TestModelCollection_Price_UnknownModel(t *testing.T) {
	c := testCollection(t)

	if _, err := c.Price("nope", PriceInput, 1); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Price() error = %v, want %v", err, ErrUnknownModel)
	}
}
