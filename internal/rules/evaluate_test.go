package rules

import (
	"testing"

	"github.com/tabpal/tabpal/internal/state"
)

func cond(typ ConditionType, op Operator, pattern string) Condition {
	return Condition{Type: typ, Operator: op, Pattern: pattern}
}

func TestEvaluateAND(t *testing.T) {
	tab := state.Tab{URL: "https://github.com/pulls", Title: "Pull Requests"}
	conditions := []Condition{
		cond(ConditionDomain, OpEquals, "github.com"),
		cond(ConditionTitle, OpContains, "pull"),
	}
	got, err := Evaluate(tab, conditions, CombineAND)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Fatal("expected both conditions to match")
	}

	conditions = append(conditions, cond(ConditionURL, OpContains, "gitlab"))
	got, _ = Evaluate(tab, conditions, CombineAND)
	if got {
		t.Fatal("one failed condition must fail AND")
	}
}

func TestEvaluateOR(t *testing.T) {
	tab := state.Tab{URL: "https://news.ycombinator.com"}
	conditions := []Condition{
		cond(ConditionDomain, OpEquals, "github.com"),
		cond(ConditionDomain, OpEquals, "news.ycombinator.com"),
	}
	got, err := Evaluate(tab, conditions, CombineOR)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Fatal("one matching condition must satisfy OR")
	}

	got, _ = Evaluate(tab, []Condition{cond(ConditionDomain, OpEquals, "example.com")}, CombineOR)
	if got {
		t.Fatal("no matching condition must fail OR")
	}
}

func TestEvaluateEmptyConditionsVacuouslyTrue(t *testing.T) {
	got, err := Evaluate(state.Tab{}, nil, CombineAND)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Fatal("empty condition list must evaluate true")
	}
}

func TestEvaluateDefaultsToAND(t *testing.T) {
	tab := state.Tab{URL: "https://example.com", Title: "Example"}
	conditions := []Condition{
		cond(ConditionDomain, OpEquals, "example.com"),
		cond(ConditionTitle, OpEquals, "other"),
	}
	got, _ := Evaluate(tab, conditions, "")
	if got {
		t.Fatal("missing operator must behave as AND")
	}
}

func TestEvaluateAbsentPropertiesCompareEmpty(t *testing.T) {
	got, err := Evaluate(state.Tab{}, []Condition{cond(ConditionTitle, OpStartsWith, "")}, CombineAND)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Fatal("empty title must match empty prefix")
	}

	got, _ = Evaluate(state.Tab{}, []Condition{cond(ConditionDomain, OpEquals, "example.com")}, CombineAND)
	if got {
		t.Fatal("absent URL must yield empty domain")
	}
}

func TestEvaluateMalformedPatternIsNonMatch(t *testing.T) {
	tab := state.Tab{URL: "https://example.com"}
	conditions := []Condition{cond(ConditionURL, OpMatches, "([")}
	got, err := Evaluate(tab, conditions, CombineAND)
	if got {
		t.Fatal("malformed pattern must count as a non-match")
	}
	if err == nil {
		t.Fatal("expected a diagnostic error")
	}
}
