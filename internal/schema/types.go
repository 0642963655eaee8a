package schema

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/teamgate-io/teamgate/internal/i18n"
)

// ModelType enumerates the kinds of model collections a provider may expose.
type ModelType string

const (
	ModelTypeLLM           ModelType = "llm"
	ModelTypeTextEmbedding ModelType = "text-embedding"
	ModelTypeSpeechToText  ModelType = "speech2text"
)

// FieldType enumerates the value types a form field may declare.
type FieldType string

const (
	FieldFloat   FieldType = "float"
	FieldInt     FieldType = "int"
	FieldString  FieldType = "string"
	FieldBoolean FieldType = "boolean"
	FieldText    FieldType = "text"
	FieldObject  FieldType = "object"
	FieldSecret  FieldType = "secret"
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldFloat, FieldInt, FieldString, FieldBoolean, FieldText, FieldObject, FieldSecret:
		return true
	}
	return false
}

// FormOption is a select entry of a composite form field. Options may carry
// nested parameters that become active when the option is chosen.
type FormOption struct {
	Name       string           `yaml:"name" json:"name"`
	Label      i18n.Translation `yaml:"label,omitempty" json:"label,omitempty"`
	Parameters []FormField      `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// FormField is the universal typed descriptor for credential and parameter
// inputs.
type FormField struct {
	Name        string           `yaml:"name" json:"name"`
	Label       i18n.Translation `yaml:"label,omitempty" json:"label,omitempty"`
	Type        FieldType        `yaml:"type" json:"type"`
	Required    bool             `yaml:"required" json:"required"`
	Disabled    bool             `yaml:"disabled" json:"disabled"`
	Advanced    bool             `yaml:"advanced" json:"advanced"`
	Default     any              `yaml:"default,omitempty" json:"default,omitempty"`
	Min         *float64         `yaml:"min,omitempty" json:"min,omitempty"`
	Max         *float64         `yaml:"max,omitempty" json:"max,omitempty"`
	Precision   *int             `yaml:"precision,omitempty" json:"precision,omitempty"`
	UseTemplate string           `yaml:"use_template,omitempty" json:"use_template,omitempty"`
	Help        i18n.Translation `yaml:"help,omitempty" json:"help,omitempty"`
	Placeholder i18n.Translation `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	Options     []FormOption     `yaml:"options,omitempty" json:"options,omitempty"`
	Parameters  []FormField      `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Validate checks the field's own invariants. Nested options and object
// parameters are checked recursively.
func (f FormField) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("form field has no name")
	}
	if !f.Type.Valid() {
		return fmt.Errorf("form field %q has unknown type %q", f.Name, f.Type)
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("form field %q: min %v exceeds max %v", f.Name, *f.Min, *f.Max)
	}
	if f.Precision != nil && *f.Precision < 0 {
		return fmt.Errorf("form field %q: negative precision %d", f.Name, *f.Precision)
	}
	for _, opt := range f.Options {
		if opt.Name == "" {
			return fmt.Errorf("form field %q has an unnamed option", f.Name)
		}
		if err := validateFieldNames(opt.Parameters); err != nil {
			return fmt.Errorf("form field %q option %q: %w", f.Name, opt.Name, err)
		}
	}
	if len(f.Parameters) > 0 {
		if f.Type != FieldObject {
			return fmt.Errorf("form field %q declares parameters but is not object-typed", f.Name)
		}
		if err := validateFieldNames(f.Parameters); err != nil {
			return fmt.Errorf("form field %q: %w", f.Name, err)
		}
	}
	return nil
}

// validateFieldNames checks each field and ensures names are unique within
// the list.
func validateFieldNames(fields []FormField) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if err := f.Validate(); err != nil {
			return err
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate form field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// checkTemplateCycles rejects use_template chains that loop between fields
// of the same form. References that leave the form (reserved default names)
// terminate the walk.
func checkTemplateCycles(fields []FormField) error {
	byName := make(map[string]FormField, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}
	for _, f := range fields {
		seen := map[string]struct{}{f.Name: {}}
		cur := f
		for cur.UseTemplate != "" && cur.UseTemplate != cur.Name {
			next, ok := byName[cur.UseTemplate]
			if !ok {
				break
			}
			if _, looped := seen[next.Name]; looped {
				return fmt.Errorf("use_template cycle through field %q", f.Name)
			}
			seen[next.Name] = struct{}{}
			cur = next
		}
	}
	return nil
}

// ProviderDescriptor declares a provider: identity, display metadata, the
// model types it supports and its credential form.
type ProviderDescriptor struct {
	ID                  string           `yaml:"id" json:"id"`
	Label               i18n.Translation `yaml:"label" json:"label"`
	Description         i18n.Translation `yaml:"description,omitempty" json:"description,omitempty"`
	IconSmall           string           `yaml:"icon_small,omitempty" json:"icon_small,omitempty"`
	IconLarge           string           `yaml:"icon_large,omitempty" json:"icon_large,omitempty"`
	SupportedModelTypes []ModelType      `yaml:"supported_model_types" json:"supported_model_types"`
	Background          string           `yaml:"background,omitempty" json:"background,omitempty"`
	Help                i18n.Translation `yaml:"help,omitempty" json:"help,omitempty"`
	CredentialForm      []FormField      `yaml:"credential_form" json:"credential_form"`

	// Models is populated by the registry when listing schemas; it is not
	// part of the on-disk document.
	Models map[ModelType][]ModelDescriptor `yaml:"-" json:"models,omitempty"`
}

// Supports reports whether the provider declares the given model type.
func (d *ProviderDescriptor) Supports(mt ModelType) bool {
	for _, t := range d.SupportedModelTypes {
		if t == mt {
			return true
		}
	}
	return false
}

// Validate checks the descriptor invariants after parsing.
func (d *ProviderDescriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("provider descriptor has no id")
	}
	for _, r := range d.ID {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return fmt.Errorf("provider id %q is not alphanumeric", d.ID)
		}
	}
	if err := d.Label.Validate(); err != nil {
		return fmt.Errorf("provider %q label: %w", d.ID, err)
	}
	if len(d.SupportedModelTypes) == 0 {
		return fmt.Errorf("provider %q supports no model types", d.ID)
	}
	if err := validateFieldNames(d.CredentialForm); err != nil {
		return fmt.Errorf("provider %q credential form: %w", d.ID, err)
	}
	return nil
}

// ModelProperties carries the behavioural knobs of a model.
type ModelProperties struct {
	Mode        string `yaml:"mode,omitempty" json:"mode,omitempty"`
	ContextSize int    `yaml:"context_size,omitempty" json:"context_size,omitempty"`

	// Capability overrides; nil means the default for the model family.
	SupportsSystemRole  *bool `yaml:"supports_system_role,omitempty" json:"supports_system_role,omitempty"`
	SupportsListContent *bool `yaml:"supports_list_content,omitempty" json:"supports_list_content,omitempty"`
	SupportsStreaming   *bool `yaml:"supports_streaming,omitempty" json:"supports_streaming,omitempty"`
}

// Pricing declares per-token unit prices under exact decimal semantics.
// Output pricing is optional; a missing direction prices at zero.
type Pricing struct {
	Input    decimal.Decimal
	Output   *decimal.Decimal
	Unit     decimal.Decimal
	Currency string
}

// pricingDoc is the YAML shape of Pricing; scalars are read as strings so
// that values never pass through binary floating point.
type pricingDoc struct {
	Input    string `yaml:"input"`
	Output   string `yaml:"output"`
	Unit     string `yaml:"unit"`
	Currency string `yaml:"currency"`
}

// UnmarshalYAML decodes pricing scalars via decimal.NewFromString.
func (p *Pricing) UnmarshalYAML(value *yaml.Node) error {
	var doc pricingDoc
	if err := value.Decode(&doc); err != nil {
		return err
	}
	var err error
	if p.Input, err = decimal.NewFromString(doc.Input); err != nil {
		return fmt.Errorf("pricing input %q: %w", doc.Input, err)
	}
	if doc.Output != "" {
		out, err := decimal.NewFromString(doc.Output)
		if err != nil {
			return fmt.Errorf("pricing output %q: %w", doc.Output, err)
		}
		p.Output = &out
	}
	if p.Unit, err = decimal.NewFromString(doc.Unit); err != nil {
		return fmt.Errorf("pricing unit %q: %w", doc.Unit, err)
	}
	p.Currency = doc.Currency
	if p.Currency == "" {
		p.Currency = "USD"
	}
	return nil
}

// ModelDescriptor declares a single model within a collection.
type ModelDescriptor struct {
	ID               string           `yaml:"id" json:"id"`
	Label            i18n.Translation `yaml:"label,omitempty" json:"label,omitempty"`
	Type             ModelType        `yaml:"type" json:"type"`
	Features         []string         `yaml:"features,omitempty" json:"features,omitempty"`
	Properties       ModelProperties  `yaml:"properties" json:"properties"`
	Deprecated       bool             `yaml:"deprecated" json:"deprecated"`
	ParameterConfigs []FormField      `yaml:"parameter_configs" json:"parameter_configs"`
	Pricing          *Pricing         `yaml:"pricing,omitempty" json:"-"`
}

// Validate checks the descriptor invariants for the collection it belongs to.
func (m *ModelDescriptor) Validate(collectionType ModelType) error {
	if m.ID == "" {
		return fmt.Errorf("model descriptor has no id")
	}
	if m.Type != collectionType {
		return fmt.Errorf("model %q has type %q, collection expects %q", m.ID, m.Type, collectionType)
	}
	if m.Properties.ContextSize < 0 {
		return fmt.Errorf("model %q: negative context_size %d", m.ID, m.Properties.ContextSize)
	}
	if err := validateFieldNames(m.ParameterConfigs); err != nil {
		return fmt.Errorf("model %q parameter configs: %w", m.ID, err)
	}
	if err := checkTemplateCycles(m.ParameterConfigs); err != nil {
		return fmt.Errorf("model %q parameter configs: %w", m.ID, err)
	}
	return nil
}
