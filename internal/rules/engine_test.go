package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/tabpal/tabpal/internal/logger"
	"github.com/tabpal/tabpal/internal/metrics"
	"github.com/tabpal/tabpal/internal/state"
	"github.com/tabpal/tabpal/internal/state/statetest"
)

type fakeSource struct {
	rules []TabRule
	err   error
}

func (f *fakeSource) Rules(ctx context.Context) ([]TabRule, error) {
	return f.rules, f.err
}

func newEngine(source Source, backend *statetest.Backend, archiver *fakeArchiver) *Engine {
	exec := NewExecutor(backend, archiver, logger.NewNop(), metrics.NewCollector())
	return NewEngine(source, exec, logger.NewNop(), metrics.NewCollector())
}

func TestApplyRulesSkipsDisabled(t *testing.T) {
	subject := state.Tab{ID: 1, URL: "https://example.com"}
	backend := statetest.New([]state.Tab{subject}, nil)
	source := &fakeSource{rules: []TabRule{
		{
			ID: "a", Name: "closer", Enabled: false,
			Conditions: []Condition{cond(ConditionDomain, OpEquals, "example.com")},
			Actions:    []Action{{Type: ActionClose}},
		},
	}}
	eng := newEngine(source, backend, &fakeArchiver{})

	eng.ApplyRules(context.Background(), subject)
	if len(backend.Removed()) != 0 {
		t.Fatal("disabled rule must not act")
	}
}

func TestApplyRulesIndependence(t *testing.T) {
	subject := state.Tab{ID: 1, URL: "https://example.com"}
	backend := statetest.New([]state.Tab{subject}, nil)
	archiver := &fakeArchiver{}
	source := &fakeSource{rules: []TabRule{
		{
			ID: "a", Name: "closer", Enabled: true,
			Conditions: []Condition{cond(ConditionDomain, OpEquals, "example.com")},
			Actions:    []Action{{Type: ActionClose}},
		},
		{
			ID: "b", Name: "pinner", Enabled: true,
			Conditions: []Condition{cond(ConditionURL, OpContains, "example")},
			Actions:    []Action{{Type: ActionPin}},
		},
	}}
	eng := newEngine(source, backend, archiver)

	// The first rule closes the tab; the second still runs and fails soft.
	eng.ApplyRules(context.Background(), subject)
	if removed := backend.Removed(); len(removed) != 1 {
		t.Fatalf("first rule should close the tab, removed %v", removed)
	}
}

func TestApplyRulesDegradesOnStorageError(t *testing.T) {
	subject := state.Tab{ID: 1, URL: "https://example.com"}
	backend := statetest.New([]state.Tab{subject}, nil)
	source := &fakeSource{err: errors.New("disk gone")}
	eng := newEngine(source, backend, &fakeArchiver{})

	eng.ApplyRules(context.Background(), subject)
	if len(backend.Removed()) != 0 {
		t.Fatal("storage failure must degrade to no rules")
	}
}

func TestMatchingRulesIsDryRun(t *testing.T) {
	subject := state.Tab{ID: 1, URL: "https://example.com"}
	backend := statetest.New([]state.Tab{subject}, nil)
	source := &fakeSource{rules: []TabRule{
		{
			ID: "a", Name: "closer", Enabled: true,
			Conditions: []Condition{cond(ConditionDomain, OpEquals, "example.com")},
			Actions:    []Action{{Type: ActionClose}},
		},
		{
			ID: "b", Name: "misser", Enabled: true,
			Conditions: []Condition{cond(ConditionDomain, OpEquals, "other.com")},
			Actions:    []Action{{Type: ActionClose}},
		},
	}}
	eng := newEngine(source, backend, &fakeArchiver{})

	matched, err := eng.MatchingRules(context.Background(), subject)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "a" {
		t.Fatalf("want rule a only, got %v", matched)
	}
	if len(backend.Removed()) != 0 {
		t.Fatal("dry run must not execute actions")
	}
}
