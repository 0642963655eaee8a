// Package forms implements the validation kernel for the universal form
// descriptor used by credential forms and model parameter configs.
package forms

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/teamgate-io/teamgate/internal/schema"
)

var (
	// ErrMissing indicates a required field had no value and no default.
	ErrMissing = errors.New("missing required field")

	// ErrInvalid indicates a value violated the field's type, range or
	// enum constraints.
	ErrInvalid = errors.New("invalid field value")
)

// FieldError carries the offending field name and the violated rule.
type FieldError struct {
	Field  string
	Reason string
	kind   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return e.kind
}

func missing(field string) error {
	return &FieldError{Field: field, Reason: "required but not provided", kind: ErrMissing}
}

func invalid(field, reason string) error {
	return &FieldError{Field: field, Reason: reason, kind: ErrInvalid}
}

// Resolve validates a candidate value map against an ordered field list and
// returns the canonical map. Rules, in order: absence handling with default
// substitution, type checking, precision rounding then range checks, enum
// membership. Absent values whose field declares use_template adopt the value
// supplied for the referenced field, transitively.
func Resolve(fields []schema.FormField, values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	byName := make(map[string]schema.FormField, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}

	for _, f := range fields {
		value, present := lookup(f, values, byName, nil)
		if !present {
			if f.Default != nil {
				value = f.Default
			} else if f.Required {
				return nil, missing(f.Name)
			} else {
				continue
			}
		}

		canonical, err := Validate(f, value)
		if err != nil {
			return nil, err
		}
		out[f.Name] = canonical
	}
	return out, nil
}

// lookup finds a value for the field, following use_template references to
// sibling parameters when the field itself has no value. The seen list
// guards against reference loops that survive descriptor validation.
func lookup(f schema.FormField, values map[string]any, byName map[string]schema.FormField, seen []string) (any, bool) {
	if v, ok := values[f.Name]; ok {
		return v, true
	}
	if f.UseTemplate == "" || f.UseTemplate == f.Name {
		return nil, false
	}
	for _, s := range seen {
		if s == f.Name {
			return nil, false
		}
	}
	if v, ok := values[f.UseTemplate]; ok {
		return v, true
	}
	ref, ok := byName[f.UseTemplate]
	if !ok {
		return nil, false
	}
	return lookup(ref, values, byName, append(seen, f.Name))
}

// Validate checks a single present value against the field descriptor and
// returns its canonical form.
func Validate(f schema.FormField, value any) (any, error) {
	switch f.Type {
	case schema.FieldFloat:
		n, ok := toFloat(value)
		if !ok {
			return nil, invalid(f.Name, "expected a number")
		}
		n = round(f, n)
		if err := checkRange(f, n); err != nil {
			return nil, err
		}
		return n, checkOptions(f, value)

	case schema.FieldInt:
		n, ok := toInt(value)
		if !ok {
			return nil, invalid(f.Name, "expected an integer")
		}
		if err := checkRange(f, float64(n)); err != nil {
			return nil, err
		}
		return n, checkOptions(f, value)

	case schema.FieldBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, invalid(f.Name, "expected true or false")
		}
		return b, nil

	case schema.FieldString, schema.FieldText, schema.FieldSecret:
		s, ok := value.(string)
		if !ok {
			return nil, invalid(f.Name, "expected a string")
		}
		if err := checkOptions(f, s); err != nil {
			return nil, err
		}
		return s, nil

	case schema.FieldObject:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, invalid(f.Name, "expected an object")
		}
		if len(f.Parameters) == 0 {
			return m, nil
		}
		sub, err := Resolve(f.Parameters, m)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		return sub, nil
	}
	return nil, invalid(f.Name, fmt.Sprintf("unknown field type %q", f.Type))
}

// round applies the precision rule: half-to-even at the declared number of
// decimal places, before any range check.
func round(f schema.FormField, n float64) float64 {
	if f.Precision == nil {
		return n
	}
	return decimal.NewFromFloat(n).RoundBank(int32(*f.Precision)).InexactFloat64()
}

func checkRange(f schema.FormField, n float64) error {
	if f.Min != nil && n < *f.Min {
		return invalid(f.Name, fmt.Sprintf("value %v is below minimum %v", n, *f.Min))
	}
	if f.Max != nil && n > *f.Max {
		return invalid(f.Name, fmt.Sprintf("value %v exceeds maximum %v", n, *f.Max))
	}
	return nil
}

// checkOptions enforces enum membership when the field declares options.
func checkOptions(f schema.FormField, value any) error {
	if len(f.Options) == 0 {
		return nil
	}
	name := fmt.Sprintf("%v", value)
	for _, opt := range f.Options {
		if opt.Name == name {
			return nil
		}
	}
	return invalid(f.Name, fmt.Sprintf("%v is not one of the allowed options", value))
}

// toFloat accepts the numeric representations that JSON decoding and YAML
// defaults produce.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// toInt rejects fractional floats rather than truncating them.
func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	}
	return 0, false
}

// MergeDefault overlays an override field onto a defaults-table entry,
// override winning field by field. Used by callers that assemble forms
// outside the schema loader.
func MergeDefault(def, override schema.FormField) schema.FormField {
	merged := def
	merged.Name = override.Name
	if merged.Name == "" {
		merged.Name = def.Name
	}
	if override.Type != "" {
		merged.Type = override.Type
	}
	if override.Label != nil {
		merged.Label = override.Label
	}
	if override.Help != nil {
		merged.Help = override.Help
	}
	if override.Default != nil {
		merged.Default = override.Default
	}
	if override.Min != nil {
		merged.Min = override.Min
	}
	if override.Max != nil {
		merged.Max = override.Max
	}
	if override.Precision != nil {
		merged.Precision = override.Precision
	}
	if len(override.Options) > 0 {
		merged.Options = override.Options
	}
	merged.UseTemplate = override.UseTemplate
	return merged
}
