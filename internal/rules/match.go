// internal/rules/match.go
package rules

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/solatis/flowkeeper/internal/types"
)

/*
 * Message matching.
 *
 * Both the inbound message and every trigger string are folded the same way
 * before comparison: surrounding whitespace trimmed, NFC-normalized and
 * lower-cased. NFC keeps "não" typed with a combining tilde equal to the
 * precomposed form; the language-neutral caser handles non-ASCII letters
 * without locale surprises.
 *
 * Match policy:
 *   - exact:    folded message == any folded candidate
 *   - contains: folded message contains any folded candidate
 *
 * A rule whose trigger set folds to nothing has no candidates and never
 * matches through this path.
 */

// foldText trims, NFC-normalizes and lower-cases s.
// A Caser is not safe for concurrent use, so one is built per call.
func foldText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return cases.Lower(language.Und).String(norm.NFC.String(s))
}

// candidates folds inputs into a duplicate-free candidate list, dropping
// blank entries. Order follows the first occurrence.
func candidates(inputs []string) []string {
	if len(inputs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(inputs))
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		f := foldText(in)
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// hasCandidates reports whether the rule's trigger set is non-empty after
// folding.
func hasCandidates(r *types.Rule) bool {
	for _, in := range r.Inputs {
		if foldText(in) != "" {
			return true
		}
	}
	return false
}

// matchMessage applies the rule's match policy to an already folded message.
func matchMessage(r *types.Rule, folded string) bool {
	for _, c := range candidates(r.Inputs) {
		if r.Exact {
			if folded == c {
				return true
			}
			continue
		}
		if strings.Contains(folded, c) {
			return true
		}
	}
	return false
}
