// internal/rules/strategies.go
package rules

import (
	"github.com/solatis/flowkeeper/internal/types"
)

/*
 * Secondary-mode fallback chain.
 *
 * Used after a value was collected at the current step, to find where the
 * flow goes next. Each rule set is run through an ordered list of
 * strategies; the first strategy that produces a verdict ends resolution.
 *
 *   navigation_match    a navigation rule matches the message
 *   invalid_option      navigation rules offered a menu, nothing matched
 *   no_menu_default     first navigation rule with no trigger set
 *   second_by_priority  no navigation rule at all: second rule of the full
 *                       list (sequential variable collection)
 *
 * Navigation kinds are ADVANCE_STEP, ADVANCE_FLOW, ROUTE_QUEUE, ROUTE_USER.
 * Strategies are pure functions over one rule set.
 */

// verdict is what a strategy decided for one rule set.
type verdict struct {
	rule    *types.Rule
	invalid bool
}

// ruleView is the per-rule-set input shared by all strategies.
type ruleView struct {
	all        []*types.Rule // full list, ascending priority
	navigation []*types.Rule // navigation kinds only, ascending priority
	folded     string        // folded inbound message
}

type strategy struct {
	name  string
	apply func(v ruleView) (verdict, bool)
}

// secondaryChain is evaluated in order with early return.
var secondaryChain = []strategy{
	{name: "navigation_match", apply: navigationMatch},
	{name: "invalid_option", apply: invalidOption},
	{name: "no_menu_default", apply: noMenuDefault},
	{name: "second_by_priority", apply: secondByPriority},
}

func newRuleView(set *types.RuleSet, message string) ruleView {
	v := ruleView{
		all:    make([]*types.Rule, 0, len(set.Rules)),
		folded: foldText(message),
	}
	for i := range set.Rules {
		r := &set.Rules[i]
		v.all = append(v.all, r)
		if r.Kind().IsNavigation() {
			v.navigation = append(v.navigation, r)
		}
	}
	return v
}

func navigationMatch(v ruleView) (verdict, bool) {
	for _, r := range v.navigation {
		if hasCandidates(r) && matchMessage(r, v.folded) {
			return verdict{rule: r}, true
		}
	}
	return verdict{}, false
}

func invalidOption(v ruleView) (verdict, bool) {
	for _, r := range v.navigation {
		if hasCandidates(r) {
			return verdict{invalid: true}, true
		}
	}
	return verdict{}, false
}

func noMenuDefault(v ruleView) (verdict, bool) {
	for _, r := range v.navigation {
		if !hasCandidates(r) {
			return verdict{rule: r}, true
		}
	}
	return verdict{}, false
}

func secondByPriority(v ruleView) (verdict, bool) {
	if len(v.navigation) != 0 || len(v.all) < 2 {
		return verdict{}, false
	}
	return verdict{rule: v.all[1]}, true
}

// secondaryResult is the outcome of the whole chain across rule sets.
type secondaryResult struct {
	match    match
	invalid  bool
	strategy string
}

// evaluateSecondary runs the chain over every rule set in load order.
// ok=false means no rule set produced any verdict.
func evaluateSecondary(sets []types.RuleSet, message string) (secondaryResult, bool) {
	for i := range sets {
		set := &sets[i]
		view := newRuleView(set, message)
		for _, s := range secondaryChain {
			v, ok := s.apply(view)
			if !ok {
				continue
			}
			if v.invalid {
				return secondaryResult{invalid: true, strategy: s.name, match: match{setID: set.ID}}, true
			}
			return secondaryResult{match: match{rule: v.rule, setID: set.ID}, strategy: s.name}, true
		}
	}
	return secondaryResult{}, false
}
