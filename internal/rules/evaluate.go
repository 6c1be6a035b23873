// internal/rules/evaluate.go
package rules

import (
	"sort"

	"github.com/solatis/flowkeeper/internal/types"
)

/*
 * Primary-mode evaluation.
 *
 * "First valid rule wins, first rule set wins". Rule sets are visited in
 * load order, rules in ascending priority:
 *
 *   1. SET_VARIABLE matches unconditionally (it collects whatever the user
 *      typed)
 *   2. A rule with no candidates after folding is skipped
 *   3. exact / contains policy against the folded message
 *
 * The first hit ends evaluation. No fallback to empty-input rules happens
 * here; that belongs to secondary mode.
 */

// match pairs a selected rule with the rule set it came from.
type match struct {
	rule  *types.Rule
	setID types.RuleSetID
}

// evaluatePrimary returns the first matching rule, or ok=false.
func evaluatePrimary(sets []types.RuleSet, message string) (match, bool) {
	folded := foldText(message)
	for i := range sets {
		set := &sets[i]
		for j := range set.Rules {
			rule := &set.Rules[j]
			if rule.Kind() == types.ActionSetVariable {
				return match{rule: rule, setID: set.ID}, true
			}
			if !hasCandidates(rule) {
				continue
			}
			if matchMessage(rule, folded) {
				return match{rule: rule, setID: set.ID}, true
			}
		}
	}
	return match{}, false
}

// orderedRuleSets returns copies of sets whose rules are stable-sorted by
// priority. Loaders already order rules; sorting again keeps resolution
// correct for any RuleSetLoader and never mutates the caller's slices.
func orderedRuleSets(sets []types.RuleSet) []types.RuleSet {
	out := make([]types.RuleSet, len(sets))
	for i, set := range sets {
		rules := make([]types.Rule, len(set.Rules))
		copy(rules, set.Rules)
		sort.SliceStable(rules, func(a, b int) bool {
			return rules[a].Priority < rules[b].Priority
		})
		set.Rules = rules
		out[i] = set
	}
	return out
}
