package rules

import (
	"fmt"
	"time"
)

// ConditionType selects which tab property a condition inspects.
type ConditionType string

const (
	ConditionURL    ConditionType = "url"
	ConditionTitle  ConditionType = "title"
	ConditionDomain ConditionType = "domain"
)

// Operator is a text match operator.
type Operator string

const (
	OpContains   Operator = "contains"
	OpEquals     Operator = "equals"
	OpMatches    Operator = "matches"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
)

// CombineOperator joins the results of a rule's conditions.
type CombineOperator string

const (
	CombineAND CombineOperator = "AND"
	CombineOR  CombineOperator = "OR"
)

// Condition is one predicate against a tab property.
type Condition struct {
	Type          ConditionType `json:"type"`
	Operator      Operator      `json:"operator"`
	Pattern       string        `json:"pattern"`
	CaseSensitive bool          `json:"caseSensitive,omitempty"`
}

// ActionType selects what an action does to a matching tab.
type ActionType string

const (
	ActionGroup   ActionType = "group"
	ActionClose   ActionType = "close"
	ActionArchive ActionType = "archive"
	ActionPin     ActionType = "pin"
)

// Action is one mutation applied to a matching tab. Value carries the
// group name and is meaningful only for ActionGroup.
type Action struct {
	Type  ActionType `json:"type"`
	Value string     `json:"value,omitempty"`
}

// TabRule is a persisted user rule. Operator defaults to AND when empty,
// for rules saved before the field existed. While BlockedReason is set the
// enabled flag is frozen and toggle requests are refused.
type TabRule struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Enabled       bool            `json:"enabled"`
	Conditions    []Condition     `json:"conditions"`
	Operator      CombineOperator `json:"operator,omitempty"`
	Actions       []Action        `json:"actions"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	BlockedReason string          `json:"blockedReason,omitempty"`
}

// CombineOp returns the rule's combination operator, applying the AND
// default for legacy rules.
func (r TabRule) CombineOp() CombineOperator {
	if r.Operator == "" {
		return CombineAND
	}
	return r.Operator
}

// Validate reports why the rule cannot be saved, or nil.
func (r TabRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule must define at least one condition")
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule must define at least one action")
	}
	switch r.CombineOp() {
	case CombineAND, CombineOR:
	default:
		return fmt.Errorf("operator must be AND or OR")
	}
	for _, c := range r.Conditions {
		switch c.Type {
		case ConditionURL, ConditionTitle, ConditionDomain:
		default:
			return fmt.Errorf("unknown condition type %q", string(c.Type))
		}
		switch c.Operator {
		case OpContains, OpEquals, OpMatches, OpStartsWith, OpEndsWith:
		default:
			return fmt.Errorf("unknown match operator %q", string(c.Operator))
		}
	}
	for _, a := range r.Actions {
		switch a.Type {
		case ActionGroup:
			if a.Value == "" {
				return fmt.Errorf("group action requires a group name")
			}
		case ActionClose, ActionArchive, ActionPin:
		default:
			return fmt.Errorf("unknown action type %q", string(a.Type))
		}
	}
	return nil
}
