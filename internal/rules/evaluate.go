package rules

import (
	"errors"

	"github.com/tabpal/tabpal/internal/state"
)

// Evaluate reports whether the tab satisfies the ordered condition list
// under the combination operator. AND short-circuits on the first failed
// condition, OR on the first match. An empty condition list evaluates
// true; it cannot be saved but may exist as legacy data and must not
// fault.
//
// The returned error aggregates per-condition diagnostics (malformed
// patterns, unknown operators). Those conditions count as non-matches
// regardless.
func Evaluate(tab state.Tab, conditions []Condition, op CombineOperator) (bool, error) {
	if op == "" {
		op = CombineAND
	}
	var diags []error
	result := op == CombineAND
	for _, c := range conditions {
		matched, err := Match(conditionText(tab, c), c.Operator, c.Pattern, c.CaseSensitive)
		if err != nil {
			diags = append(diags, err)
		}
		switch op {
		case CombineOR:
			if matched {
				return true, errors.Join(diags...)
			}
			result = false
		default:
			if !matched {
				return false, errors.Join(diags...)
			}
			result = true
		}
	}
	return result, errors.Join(diags...)
}

// conditionText extracts the tab property a condition inspects. Absent
// properties compare as the empty string.
func conditionText(tab state.Tab, c Condition) string {
	switch c.Type {
	case ConditionURL:
		return tab.URL
	case ConditionTitle:
		return tab.Title
	case ConditionDomain:
		return tab.Domain()
	default:
		return ""
	}
}
