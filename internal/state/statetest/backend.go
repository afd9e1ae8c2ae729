// Package statetest provides an in-memory Backend for tests.
package statetest

import (
	"context"
	"sync"

	"github.com/tabpal/tabpal/internal/bridge"
	"github.com/tabpal/tabpal/internal/state"
)

// Backend is a mutex-guarded in-memory state.Backend. Mutations record
// what happened so tests can assert on removal and discard order.
type Backend struct {
	mu        sync.Mutex
	tabs      []state.Tab
	groups    []state.TabGroup
	nextTab   int
	nextGroup int
	removed   []int
	discarded []int
}

// New seeds a backend with tabs and groups.
func New(tabs []state.Tab, groups []state.TabGroup) *Backend {
	return &Backend{
		tabs:      append([]state.Tab(nil), tabs...),
		groups:    append([]state.TabGroup(nil), groups...),
		nextTab:   1000,
		nextGroup: 100,
	}
}

func (b *Backend) findTabLocked(id int) *state.Tab {
	for i := range b.tabs {
		if b.tabs[i].ID == id {
			return &b.tabs[i]
		}
	}
	return nil
}

func (b *Backend) findGroupLocked(id int) *state.TabGroup {
	for i := range b.groups {
		if b.groups[i].ID == id {
			return &b.groups[i]
		}
	}
	return nil
}

// Tab returns a snapshot of the tab, if present.
func (b *Backend) Tab(id int) (state.Tab, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t := b.findTabLocked(id); t != nil {
		return *t, true
	}
	return state.Tab{}, false
}

// Group returns a snapshot of the group, if present.
func (b *Backend) Group(id int) (state.TabGroup, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g := b.findGroupLocked(id); g != nil {
		return *g, true
	}
	return state.TabGroup{}, false
}

// Removed returns the ids removed so far, in order.
func (b *Backend) Removed() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.removed...)
}

// Discarded returns the ids discarded so far, in order.
func (b *Backend) Discarded() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.discarded...)
}

// GroupCount reports how many groups exist.
func (b *Backend) GroupCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.groups)
}

// SetTabGroup moves a tab between groups behind the backend's back,
// simulating user interaction.
func (b *Backend) SetTabGroup(tabID, groupID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t := b.findTabLocked(tabID); t != nil {
		t.GroupID = groupID
	}
}

func (b *Backend) QueryTabs(ctx context.Context, q state.TabQuery) ([]state.Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []state.Tab
	for _, t := range b.tabs {
		if q.WindowID != nil && t.WindowID != *q.WindowID {
			continue
		}
		if q.GroupID != nil && t.GroupID != *q.GroupID {
			continue
		}
		if q.Active != nil && t.Active != *q.Active {
			continue
		}
		if q.Pinned != nil && t.Pinned != *q.Pinned {
			continue
		}
		if q.Discarded != nil && t.Discarded != *q.Discarded {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (b *Backend) GetTab(ctx context.Context, id int) (state.Tab, error) {
	if t, ok := b.Tab(id); ok {
		return t, nil
	}
	return state.Tab{}, bridge.ErrNotFound
}

func (b *Backend) CreateTab(ctx context.Context, req state.CreateTab) (state.Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextTab++
	tab := state.Tab{
		ID:       b.nextTab,
		WindowID: req.WindowID,
		URL:      req.URL,
		Pinned:   req.Pinned,
		Active:   req.Active,
		GroupID:  state.GroupNone,
	}
	b.tabs = append(b.tabs, tab)
	return tab, nil
}

func (b *Backend) UpdateTab(ctx context.Context, id int, u state.TabUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.findTabLocked(id)
	if t == nil {
		return bridge.ErrNotFound
	}
	if u.URL != nil {
		t.URL = *u.URL
	}
	if u.Pinned != nil {
		t.Pinned = *u.Pinned
	}
	if u.Active != nil {
		t.Active = *u.Active
	}
	return nil
}

func (b *Backend) RemoveTab(ctx context.Context, id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.tabs {
		if b.tabs[i].ID == id {
			b.tabs = append(b.tabs[:i], b.tabs[i+1:]...)
			b.removed = append(b.removed, id)
			return nil
		}
	}
	return bridge.ErrNotFound
}

func (b *Backend) DiscardTab(ctx context.Context, id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.findTabLocked(id)
	if t == nil {
		return bridge.ErrNotFound
	}
	t.Discarded = true
	b.discarded = append(b.discarded, id)
	return nil
}

func (b *Backend) GroupTabs(ctx context.Context, groupID int, tabIDs []int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if groupID == state.GroupNone {
		b.nextGroup++
		groupID = b.nextGroup
		windowID := 0
		if len(tabIDs) > 0 {
			if t := b.findTabLocked(tabIDs[0]); t != nil {
				windowID = t.WindowID
			}
		}
		b.groups = append(b.groups, state.TabGroup{ID: groupID, WindowID: windowID})
	} else if b.findGroupLocked(groupID) == nil {
		return 0, bridge.ErrNotFound
	}
	for _, id := range tabIDs {
		if t := b.findTabLocked(id); t != nil {
			t.GroupID = groupID
		}
	}
	return groupID, nil
}

func (b *Backend) UngroupTabs(ctx context.Context, tabIDs []int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range tabIDs {
		if t := b.findTabLocked(id); t != nil {
			t.GroupID = state.GroupNone
		}
	}
	return nil
}

func (b *Backend) QueryGroups(ctx context.Context, q state.GroupQuery) ([]state.TabGroup, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []state.TabGroup
	for _, g := range b.groups {
		if q.WindowID != nil && g.WindowID != *q.WindowID {
			continue
		}
		if q.Title != "" && g.Title != q.Title {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (b *Backend) GetGroup(ctx context.Context, id int) (state.TabGroup, error) {
	if g, ok := b.Group(id); ok {
		return g, nil
	}
	return state.TabGroup{}, bridge.ErrNotFound
}

func (b *Backend) UpdateGroup(ctx context.Context, id int, u state.GroupUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := b.findGroupLocked(id)
	if g == nil {
		return bridge.ErrNotFound
	}
	if u.Title != nil {
		g.Title = *u.Title
	}
	if u.Color != nil {
		g.Color = *u.Color
	}
	if u.Collapsed != nil {
		g.Collapsed = *u.Collapsed
	}
	return nil
}
