package variables

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/flowkeeper/internal/types"
)

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     types.Variables
		want     string
	}{
		{
			name:     "simple placeholder",
			template: "Hello {{user_name}}",
			vars:     types.Variables{"user_name": "Ana"},
			want:     "Hello Ana",
		},
		{
			name:     "unknown placeholder preserved verbatim",
			template: "Hi {{Unknown Var}}",
			vars:     types.Variables{},
			want:     "Hi {{Unknown Var}}",
		},
		{
			name:     "placeholder name normalized",
			template: "Olá {{Nome Completo}}!",
			vars:     types.Variables{"nome_completo": "Ana Souza"},
			want:     "Olá Ana Souza!",
		},
		{
			name:     "map key normalized",
			template: "CPF: {{cpf}}",
			vars:     types.Variables{"CPF": "123"},
			want:     "CPF: 123",
		},
		{
			name:     "padding inside braces",
			template: "{{ protocolo }}",
			vars:     types.Variables{"protocolo": "T-1"},
			want:     "T-1",
		},
		{
			name:     "multiple placeholders mixed",
			template: "{{a}}-{{missing}}-{{b}}",
			vars:     types.Variables{"a": "1", "b": "2"},
			want:     "1-{{missing}}-2",
		},
		{
			name:     "no placeholders",
			template: "plain text",
			vars:     types.Variables{"a": "1"},
			want:     "plain text",
		},
		{
			name:     "nil map",
			template: "{{a}}",
			vars:     nil,
			want:     "{{a}}",
		},
		{
			name:     "not a word placeholder",
			template: "{{a-b}}",
			vars:     types.Variables{"a-b": "x"},
			want:     "{{a-b}}",
		},
		{
			name:     "value containing braces is not re-expanded",
			template: "{{a}}",
			vars:     types.Variables{"a": "{{b}}", "b": "no"},
			want:     "{{b}}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Substitute(tt.template, tt.vars); got != tt.want {
				t.Errorf("Substitute(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"user_name":        "user_name",
		"Nome Completo":    "nome_completo",
		"  Data   de  Nasc": "data_de_nasc",
		"CPF":              "cpf",
		"":                 "",
	}
	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSubstituteValue_Recursive(t *testing.T) {
	vars := types.Variables{"id": "42", "name": "Ana"}
	body := map[string]any{
		"customer": map[string]any{
			"id":   "{{id}}",
			"tags": []any{"{{name}}", 7, "{{missing}}"},
		},
		"count": 3,
	}

	got := SubstituteValue(body, vars).(map[string]any)
	customer := got["customer"].(map[string]any)
	if customer["id"] != "42" {
		t.Errorf("customer.id = %v, want 42", customer["id"])
	}
	tags := customer["tags"].([]any)
	if tags[0] != "Ana" || tags[1] != 7 || tags[2] != "{{missing}}" {
		t.Errorf("tags = %v, want [Ana 7 {{missing}}]", tags)
	}
	if got["count"] != 3 {
		t.Errorf("count = %v, want 3", got["count"])
	}

	// The input must not be mutated.
	if body["customer"].(map[string]any)["id"] != "{{id}}" {
		t.Errorf("input body was mutated")
	}
}

// Property: a template without placeholders is returned unchanged.
func TestSubstitute_PropertyIdentityWithoutBraces(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("templates without {{ are untouched", prop.ForAll(
		func(s string) bool {
			return Substitute(s, types.Variables{"a": "b"}) == s
		},
		gen.AnyString().SuchThat(func(s string) bool {
			for i := 0; i+1 < len(s); i++ {
				if s[i] == '{' && s[i+1] == '{' {
					return false
				}
			}
			return true
		}),
	))

	properties.TestingRun(t)
}

// Property: a resolvable identifier placeholder is always replaced.
func TestSubstitute_PropertyKnownKeyReplaced(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("{{key}} resolves to its value", prop.ForAll(
		func(key, value string) bool {
			vars := types.Variables{key: value}
			return Substitute("<{{"+key+"}}>", vars) == "<"+value+">"
		},
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
