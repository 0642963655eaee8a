package forms

import (
	"errors"
	"reflect"
	"testing"

	"github.com/teamgate-io/teamgate/internal/schema"
)

func ptrFloat(f float64) *float64 { return &f }
func ptrInt(i int) *int           { return &i }

func TestResolve_Rules(t *testing.T) {
	fields := []schema.FormField{
		{Name: "temperature", Type: schema.FieldFloat, Min: ptrFloat(0), Max: ptrFloat(2), Precision: ptrInt(2), Default: 1.0},
		{Name: "max_tokens", Type: schema.FieldInt, Required: true, Min: ptrFloat(1), Max: ptrFloat(4096)},
		{Name: "echo", Type: schema.FieldBoolean},
	}

	tests := []struct {
		name    string
		values  map[string]any
		want    map[string]any
		wantErr error
	}{
		{
			name:   "defaults substitute absent values",
			values: map[string]any{"max_tokens": 256},
			want:   map[string]any{"temperature": 1.0, "max_tokens": 256},
		},
		{
			name:    "required field missing",
			values:  map[string]any{"temperature": 0.5},
			wantErr: ErrMissing,
		},
		{
			name:    "float out of range",
			values:  map[string]any{"temperature": 2.5, "max_tokens": 256},
			wantErr: ErrInvalid,
		},
		{
			name:    "int rejects fractional float",
			values:  map[string]any{"max_tokens": 2.5},
			wantErr: ErrInvalid,
		},
		{
			name:   "int accepts whole float",
			values: map[string]any{"max_tokens": float64(64)},
			want:   map[string]any{"temperature": 1.0, "max_tokens": 64},
		},
		{
			name:    "boolean rejects string",
			values:  map[string]any{"max_tokens": 256, "echo": "yes"},
			wantErr: ErrInvalid,
		},
		{
			name:   "optional absent field is omitted",
			values: map[string]any{"max_tokens": 256, "echo": true},
			want:   map[string]any{"temperature": 1.0, "max_tokens": 256, "echo": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(fields, tt.values)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolve_PrecisionRoundsBeforeRange(t *testing.T) {
	fields := []schema.FormField{
		{Name: "top_p", Type: schema.FieldFloat, Min: ptrFloat(0), Max: ptrFloat(1), Precision: ptrInt(2)},
	}

	// 1.0049 rounds to 1.00 and passes the max check it would otherwise fail.
	got, err := Resolve(fields, map[string]any{"top_p": 1.0049})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got["top_p"] != 1.0 {
		t.Errorf("top_p = %v, want 1.0", got["top_p"])
	}
}

func TestResolve_HalfToEvenRounding(t *testing.T) {
	fields := []schema.FormField{
		{Name: "v", Type: schema.FieldFloat, Precision: ptrInt(1)},
	}

	tests := []struct {
		in   float64
		want float64
	}{
		{0.25, 0.2},
		{0.35, 0.4},
		{0.351, 0.4},
	}
	for _, tt := range tests {
		got, err := Resolve(fields, map[string]any{"v": tt.in})
		if err != nil {
			t.Fatalf("Resolve(%v) error = %v", tt.in, err)
		}
		if got["v"] != tt.want {
			t.Errorf("round(%v) = %v, want %v", tt.in, got["v"], tt.want)
		}
	}
}

func TestResolve_Options(t *testing.T) {
	fields := []schema.FormField{
		{Name: "format", Type: schema.FieldString, Options: []schema.FormOption{
			{Name: "json"}, {Name: "text"},
		}},
	}

	if _, err := Resolve(fields, map[string]any{"format": "json"}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, err := Resolve(fields, map[string]any{"format": "xml"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("Resolve() error = %v, want %v", err, ErrInvalid)
	}
}

func TestResolve_ObjectRecursion(t *testing.T) {
	fields := []schema.FormField{
		{Name: "response_format", Type: schema.FieldObject, Parameters: []schema.FormField{
			{Name: "type", Type: schema.FieldString, Required: true},
		}},
	}

	got, err := Resolve(fields, map[string]any{
		"response_format": map[string]any{"type": "json_object"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	sub, ok := got["response_format"].(map[string]any)
	if !ok || sub["type"] != "json_object" {
		t.Errorf("response_format = %v, want nested type json_object", got["response_format"])
	}

	if _, err := Resolve(fields, map[string]any{
		"response_format": map[string]any{},
	}); !errors.Is(err, ErrMissing) {
		t.Errorf("Resolve() error = %v, want %v", err, ErrMissing)
	}
}

func TestResolve_UseTemplateAdoption(t *testing.T) {
	fields := []schema.FormField{
		{Name: "max_tokens", Type: schema.FieldInt},
		{Name: "max_completion_tokens", Type: schema.FieldInt, UseTemplate: "max_tokens"},
	}

	got, err := Resolve(fields, map[string]any{"max_tokens": 512})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got["max_completion_tokens"] != 512 {
		t.Errorf("max_completion_tokens = %v, want adopted 512", got["max_completion_tokens"])
	}

	// An own value beats the referenced one.
	got, err = Resolve(fields, map[string]any{"max_tokens": 512, "max_completion_tokens": 64})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got["max_completion_tokens"] != 64 {
		t.Errorf("max_completion_tokens = %v, want own 64", got["max_completion_tokens"])
	}
}

func TestResolve_Idempotent(t *testing.T) {
	fields := []schema.FormField{
		{Name: "temperature", Type: schema.FieldFloat, Precision: ptrInt(1), Default: 0.7},
		{Name: "max_tokens", Type: schema.FieldInt, Default: 512},
	}

	first, err := Resolve(fields, map[string]any{"temperature": 0.25})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	second, err := Resolve(fields, first)
	if err != nil {
		t.Fatalf("Resolve() second pass error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("second Resolve() = %v, want unchanged %v", second, first)
	}
}

func TestFieldError_CarriesField(t *testing.T) {
	fields := []schema.FormField{{Name: "api_key", Type: schema.FieldSecret, Required: true}}

	_, err := Resolve(fields, nil)
	var fe *FieldError
	if !errors.As(err, &fe) {
		t.Fatalf("Resolve() error = %T, want *FieldError", err)
	}
	if fe.Field != "api_key" {
		t.Errorf("FieldError.Field = %q, want api_key", fe.Field)
	}
}
