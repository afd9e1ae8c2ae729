package rules

import (
	"context"

	"github.com/tabpal/tabpal/internal/logger"
	"github.com/tabpal/tabpal/internal/metrics"
	"github.com/tabpal/tabpal/internal/state"
)

// Source loads the persisted rule list in user order. Satisfied by the
// store.
type Source interface {
	Rules(ctx context.Context) ([]TabRule, error)
}

// Engine evaluates persisted rules against tab snapshots and executes the
// actions of every matching enabled rule.
type Engine struct {
	source  Source
	exec    *Executor
	log     logger.Logger
	metrics *metrics.Collector
}

// NewEngine wires a rule engine.
func NewEngine(source Source, exec *Executor, log logger.Logger, collector *metrics.Collector) *Engine {
	return &Engine{source: source, exec: exec, log: log, metrics: collector}
}

// ApplyRules runs every enabled rule against the tab, in persisted order.
// Rules are independent: an earlier rule closing the tab does not stop a
// later rule from attempting to act; those attempts fail soft inside the
// executor. A storage failure degrades to an empty rule list.
func (e *Engine) ApplyRules(ctx context.Context, tab state.Tab) {
	list, err := e.source.Rules(ctx)
	if err != nil {
		e.log.Errorf("load rules: %v", err)
		return
	}
	for _, rule := range list {
		if !rule.Enabled {
			continue
		}
		matched, evalErr := Evaluate(tab, rule.Conditions, rule.CombineOp())
		if evalErr != nil {
			e.log.Debugf("rule %s: %v", rule.Name, evalErr)
		}
		if !matched {
			continue
		}
		e.metrics.RuleMatched(rule.Name)
		e.log.Infof("rule %s matched tab %d (%s)", rule.Name, tab.ID, tab.URL)
		e.exec.Execute(ctx, tab, rule.Actions)
		e.metrics.RuleApplied(rule.Name)
	}
}

// MatchingRules evaluates all enabled rules against the tab without
// executing anything. Used by the control surface for dry-run previews.
func (e *Engine) MatchingRules(ctx context.Context, tab state.Tab) ([]TabRule, error) {
	list, err := e.source.Rules(ctx)
	if err != nil {
		return nil, err
	}
	var matched []TabRule
	for _, rule := range list {
		if !rule.Enabled {
			continue
		}
		ok, _ := Evaluate(tab, rule.Conditions, rule.CombineOp())
		if ok {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}
