// internal/variables/substitute.go
package variables

import (
	"regexp"
	"strings"

	"github.com/solatis/flowkeeper/internal/types"
)

/*
 * Placeholder substitution.
 *
 * Replaces {{name}} placeholders in message templates and API step
 * configuration using a per-conversation variable map.
 *
 * Name normalization: placeholder names and map keys are compared after
 * lower-casing and collapsing internal whitespace runs to a single
 * underscore, so {{Nome Completo}} resolves the key "nome_completo".
 *
 * Missing keys: the placeholder is left exactly as written, including its
 * original casing and spacing. Substitution never fails.
 */

// placeholderPattern matches double-brace-wrapped word characters, allowing
// single spaces between words and padding inside the braces.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([\p{L}\p{N}_]+(?:\s+[\p{L}\p{N}_]+)*)\s*\}\}`)

// NormalizeName lower-cases name and collapses whitespace runs to "_".
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}

// Substitute replaces every resolvable placeholder in template with its value
// from vars. Unresolved placeholders are preserved verbatim.
func Substitute(template string, vars types.Variables) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	lookup := normalizedLookup(vars)

	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		if val, ok := lookup[NormalizeName(sub[1])]; ok {
			return val
		}
		return match
	})
}

// SubstituteValue applies Substitute to every string reachable from v:
// nested maps and slices are copied, other values are returned unchanged.
func SubstituteValue(v any, vars types.Variables) any {
	switch val := v.(type) {
	case string:
		return Substitute(val, vars)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = SubstituteValue(elem, vars)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, elem := range val {
			out[k] = Substitute(elem, vars)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = SubstituteValue(elem, vars)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, elem := range val {
			out[i] = Substitute(elem, vars)
		}
		return out
	default:
		return v
	}
}

// normalizedLookup indexes vars by normalized key. On collisions the key that
// is already normalized wins.
func normalizedLookup(vars types.Variables) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		n := NormalizeName(k)
		if _, exists := out[n]; exists && n != k {
			continue
		}
		out[n] = v
	}
	return out
}
