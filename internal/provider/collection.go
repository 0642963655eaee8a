package provider

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/teamgate-io/teamgate/internal/schema"
)

// PriceDirection selects which side of a call is being priced.
type PriceDirection string

const (
	PriceInput  PriceDirection = "input"
	PriceOutput PriceDirection = "output"
)

// priceScale is the number of decimal places total amounts are rounded to,
// half-up.
const priceScale = 7

// PriceInfo is the priced outcome for one direction of one call.
type PriceInfo struct {
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Unit        decimal.Decimal `json:"unit"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
}

// zeroPrice is returned for unpriced models and directions.
func zeroPrice(currency string) PriceInfo {
	if currency == "" {
		currency = "USD"
	}
	return PriceInfo{Currency: currency}
}

// ModelCollection is the loader-backed bundle for one (provider, model type)
// pair: enumerated models in listing order, defaults table and pricing.
type ModelCollection struct {
	providerID string
	modelType  schema.ModelType
	loader     *schema.Loader
}

// NewModelCollection constructs a collection over the schema loader.
func NewModelCollection(loader *schema.Loader, providerID string, mt schema.ModelType) *ModelCollection {
	return &ModelCollection{
		providerID: providerID,
		modelType:  mt,
		loader:     loader,
	}
}

// ProviderID returns the owning provider id.
func (c *ModelCollection) ProviderID() string {
	return c.providerID
}

// Type returns the collection's model type.
func (c *ModelCollection) Type() schema.ModelType {
	return c.modelType
}

// Models returns the descriptors in listing order, loading on first use.
func (c *ModelCollection) Models() ([]schema.ModelDescriptor, error) {
	return c.loader.LoadModels(c.providerID, c.modelType)
}

// Model returns the descriptor for id.
func (c *ModelCollection) Model(id string) (*schema.ModelDescriptor, error) {
	models, err := c.Models()
	if err != nil {
		return nil, err
	}
	for i := range models {
		if models[i].ID == id {
			return &models[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s/%s", ErrUnknownModel, c.providerID, c.modelType, id)
}

// Defaults returns the parameter template table for this collection.
func (c *ModelCollection) Defaults() (map[string]schema.FormField, error) {
	return c.loader.LoadDefaults(c.providerID, c.modelType)
}

// Price computes tokens × unit price × unit for one direction, rounded
// half-up at 7 decimal places. Unpriced models and missing output pricing
// yield zero-valued details.
func (c *ModelCollection) Price(modelID string, direction PriceDirection, tokens int) (PriceInfo, error) {
	model, err := c.Model(modelID)
	if err != nil {
		return PriceInfo{}, err
	}

	pricing := model.Pricing
	if pricing == nil {
		return zeroPrice(""), nil
	}

	var unitPrice decimal.Decimal
	switch direction {
	case PriceInput:
		unitPrice = pricing.Input
	case PriceOutput:
		if pricing.Output == nil {
			return zeroPrice(pricing.Currency), nil
		}
		unitPrice = *pricing.Output
	default:
		return PriceInfo{}, fmt.Errorf("unknown price direction %q", direction)
	}

	total := decimal.NewFromInt(int64(tokens)).Mul(unitPrice).Mul(pricing.Unit).Round(priceScale)
	return PriceInfo{
		UnitPrice:   unitPrice,
		Unit:        pricing.Unit,
		TotalAmount: total,
		Currency:    pricing.Currency,
	}, nil
}
