package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/tabpal/tabpal/internal/bridge"
	"github.com/tabpal/tabpal/internal/logger"
	"github.com/tabpal/tabpal/internal/metrics"
	"github.com/tabpal/tabpal/internal/state"
)

// Archiver persists a tab's metadata and closes it. Satisfied by
// policy.ArchiveManager.
type Archiver interface {
	ArchiveTab(ctx context.Context, tab state.Tab) error
}

// Executor applies rule actions to tabs through the backend.
type Executor struct {
	backend  state.Backend
	archiver Archiver
	log      logger.Logger
	metrics  *metrics.Collector
}

// NewExecutor wires an action executor.
func NewExecutor(backend state.Backend, archiver Archiver, log logger.Logger, collector *metrics.Collector) *Executor {
	return &Executor{backend: backend, archiver: archiver, log: log, metrics: collector}
}

// Execute applies actions in list order. Earlier actions may invalidate the
// tab (close, archive); later actions targeting the gone tab fail soft.
// Unknown action types are ignored.
func (x *Executor) Execute(ctx context.Context, tab state.Tab, actions []Action) {
	for _, a := range actions {
		if err := x.apply(ctx, tab, a); err != nil {
			if errors.Is(err, bridge.ErrNotFound) {
				x.log.Debugf("action %s: tab %d already gone", a.Type, tab.ID)
				continue
			}
			x.log.Errorf("action %s on tab %d: %v", a.Type, tab.ID, err)
		}
	}
}

func (x *Executor) apply(ctx context.Context, tab state.Tab, a Action) error {
	switch a.Type {
	case ActionGroup:
		return x.groupTab(ctx, tab, a.Value)
	case ActionClose:
		if err := x.backend.RemoveTab(ctx, tab.ID); err != nil {
			return err
		}
		x.metrics.TabClosed()
		return nil
	case ActionArchive:
		return x.archiver.ArchiveTab(ctx, tab)
	case ActionPin:
		pinned := true
		return x.backend.UpdateTab(ctx, tab.ID, state.TabUpdate{Pinned: &pinned})
	default:
		return nil
	}
}

// groupTab adds the tab to the group named name within the tab's window,
// creating and naming a new group when no exact match exists.
func (x *Executor) groupTab(ctx context.Context, tab state.Tab, name string) error {
	groups, err := x.backend.QueryGroups(ctx, state.GroupQuery{WindowID: &tab.WindowID})
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	for _, g := range groups {
		if g.Title == name {
			_, err := x.backend.GroupTabs(ctx, g.ID, []int{tab.ID})
			return err
		}
	}
	groupID, err := x.backend.GroupTabs(ctx, state.GroupNone, []int{tab.ID})
	if err != nil {
		return err
	}
	title := name
	return x.backend.UpdateGroup(ctx, groupID, state.GroupUpdate{Title: &title})
}
