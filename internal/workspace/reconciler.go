// Package workspace keeps durable workspace snapshots in step with live
// tab groups, and restores them into fresh groups on demand.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tabpal/tabpal/internal/bridge"
	"github.com/tabpal/tabpal/internal/logger"
	"github.com/tabpal/tabpal/internal/metrics"
	"github.com/tabpal/tabpal/internal/state"
	"github.com/tabpal/tabpal/internal/store"
)

// untitledName names snapshots of groups the user never titled.
const untitledName = "Untitled group"

// Reconciler mirrors live tab groups into saved workspaces. Snapshots
// are keyed by group title because live group ids are recycled across
// browser sessions.
type Reconciler struct {
	backend state.Backend
	store   store.Store
	log     logger.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewReconciler wires a reconciler.
func NewReconciler(backend state.Backend, st store.Store, log logger.Logger, collector *metrics.Collector) *Reconciler {
	return &Reconciler{backend: backend, store: st, log: log, metrics: collector, now: time.Now}
}

// SaveGroup snapshots one live group and its member tabs as a workspace.
// An existing workspace with the same name is updated in place.
func (r *Reconciler) SaveGroup(ctx context.Context, groupID int) (store.Workspace, error) {
	group, err := r.backend.GetGroup(ctx, groupID)
	if err != nil {
		return store.Workspace{}, fmt.Errorf("load group %d: %w", groupID, err)
	}
	return r.snapshot(ctx, group)
}

func (r *Reconciler) snapshot(ctx context.Context, group state.TabGroup) (store.Workspace, error) {
	tabs, err := r.backend.QueryTabs(ctx, state.TabQuery{GroupID: &group.ID})
	if err != nil {
		return store.Workspace{}, fmt.Errorf("load tabs of group %d: %w", group.ID, err)
	}
	name := group.Title
	if name == "" {
		name = untitledName
	}
	now := r.now()
	tabIDs := make([]int, 0, len(tabs))
	for _, t := range tabs {
		tabIDs = append(tabIDs, t.ID)
	}
	ws := store.Workspace{
		Name: name,
		Groups: []store.TabGroupRecord{{
			ID:        store.GroupRecordID(group.ID),
			Name:      name,
			Color:     group.Color,
			Collapsed: group.Collapsed,
			TabIDs:    tabIDs,
			CreatedAt: now,
			UpdatedAt: now,
		}},
		Tabs: tabs,
	}
	saved, err := r.store.SaveWorkspaceByName(ctx, ws)
	if err != nil {
		return store.Workspace{}, err
	}
	r.metrics.WorkspaceSynced()
	r.log.Debugf("synced workspace %q (%d tabs)", saved.Name, len(tabs))
	return saved, nil
}

// Reconcile refreshes every saved workspace whose name matches a live
// group's title. Workspaces without a live counterpart are left alone;
// they are the ones worth restoring later.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	saved, err := r.store.Workspaces(ctx)
	if err != nil {
		return fmt.Errorf("load workspaces: %w", err)
	}
	if len(saved) == 0 {
		return nil
	}
	groups, err := r.backend.QueryGroups(ctx, state.GroupQuery{})
	if err != nil {
		return fmt.Errorf("query groups: %w", err)
	}
	byName := make(map[string]state.TabGroup, len(groups))
	for _, g := range groups {
		title := g.Title
		if title == "" {
			title = untitledName
		}
		byName[title] = g
	}
	for _, ws := range saved {
		group, ok := byName[ws.Name]
		if !ok {
			continue
		}
		if _, err := r.snapshot(ctx, group); err != nil {
			r.log.Errorf("reconcile workspace %q: %v", ws.Name, err)
		}
	}
	return nil
}

// Restore reopens a saved workspace: its tabs are recreated in the
// focused window and gathered into a fresh group carrying the saved
// title and color. Returns store.ErrNotFound for an unknown id.
func (r *Reconciler) Restore(ctx context.Context, workspaceID string) error {
	saved, err := r.store.Workspaces(ctx)
	if err != nil {
		return fmt.Errorf("load workspaces: %w", err)
	}
	var ws *store.Workspace
	for i := range saved {
		if saved[i].ID == workspaceID {
			ws = &saved[i]
			break
		}
	}
	if ws == nil {
		return store.ErrNotFound
	}

	var created []int
	for _, tab := range ws.Tabs {
		if tab.URL == "" {
			continue
		}
		opened, err := r.backend.CreateTab(ctx, state.CreateTab{URL: tab.URL, Pinned: tab.Pinned})
		if err != nil {
			r.log.Errorf("restore tab %s: %v", tab.URL, err)
			continue
		}
		created = append(created, opened.ID)
	}
	if len(created) == 0 {
		return fmt.Errorf("workspace %q has no restorable tabs", ws.Name)
	}
	groupID, err := r.backend.GroupTabs(ctx, state.GroupNone, created)
	if err != nil {
		return fmt.Errorf("group restored tabs: %w", err)
	}
	title, color := ws.Name, ""
	if len(ws.Groups) > 0 {
		color = ws.Groups[0].Color
	}
	update := state.GroupUpdate{Title: &title}
	if state.ValidGroupColor(color) {
		update.Color = &color
	}
	if err := r.backend.UpdateGroup(ctx, groupID, update); err != nil && !errors.Is(err, bridge.ErrNotFound) {
		r.log.Warnf("title restored group %d: %v", groupID, err)
	}
	r.log.Infof("restored workspace %q as group %d (%d tabs)", ws.Name, groupID, len(created))
	return nil
}
