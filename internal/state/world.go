package state

import (
	"context"
	"net/url"
)

// GroupNone marks a tab that is not a member of any tab group.
const GroupNone = -1

// Tab describes one browser tab at a point in time. Identifiers are
// browser-assigned and may be reused after a tab closes, so they must be
// treated as ephemeral.
type Tab struct {
	ID         int    `json:"id"`
	WindowID   int    `json:"windowId"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	Pinned     bool   `json:"pinned"`
	Active     bool   `json:"active"`
	GroupID    int    `json:"groupId"`
	Discarded  bool   `json:"discarded"`
	FavIconURL string `json:"favIconUrl,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Domain returns the host component of the tab's URL, or "" when the URL
// is absent or unparseable.
func (t Tab) Domain() string {
	if t.URL == "" {
		return ""
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// TabGroup describes a named, colored, collapsible cluster of tabs within
// one window.
type TabGroup struct {
	ID        int    `json:"id"`
	WindowID  int    `json:"windowId"`
	Title     string `json:"title"`
	Color     string `json:"color"`
	Collapsed bool   `json:"collapsed"`
}

// GroupColors is the fixed palette the browser accepts for tab groups.
var GroupColors = []string{
	"grey", "blue", "red", "yellow", "green", "pink", "purple", "cyan", "orange",
}

// ValidGroupColor reports whether color is part of the fixed palette.
func ValidGroupColor(color string) bool {
	for _, c := range GroupColors {
		if c == color {
			return true
		}
	}
	return false
}

// TabQuery narrows a tab listing. Nil pointer fields are not constrained.
type TabQuery struct {
	WindowID  *int   `json:"windowId,omitempty"`
	GroupID   *int   `json:"groupId,omitempty"`
	Active    *bool  `json:"active,omitempty"`
	Pinned    *bool  `json:"pinned,omitempty"`
	Discarded *bool  `json:"discarded,omitempty"`
	URL       string `json:"url,omitempty"`
}

// GroupQuery narrows a group listing.
type GroupQuery struct {
	WindowID *int   `json:"windowId,omitempty"`
	Title    string `json:"title,omitempty"`
}

// TabUpdate carries a partial tab mutation. Nil fields are left untouched.
type TabUpdate struct {
	URL    *string `json:"url,omitempty"`
	Pinned *bool   `json:"pinned,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

// GroupUpdate carries a partial tab-group mutation.
type GroupUpdate struct {
	Title     *string `json:"title,omitempty"`
	Color     *string `json:"color,omitempty"`
	Collapsed *bool   `json:"collapsed,omitempty"`
}

// CreateTab describes a tab creation request.
type CreateTab struct {
	URL      string `json:"url,omitempty"`
	WindowID int    `json:"windowId,omitempty"`
	Pinned   bool   `json:"pinned,omitempty"`
	Active   bool   `json:"active,omitempty"`
}

// Backend abstracts the browser's tab and tab-group primitives. Any call
// may fail because the target no longer exists; callers treat that as a
// soft failure (see bridge.ErrNotFound).
type Backend interface {
	QueryTabs(ctx context.Context, q TabQuery) ([]Tab, error)
	GetTab(ctx context.Context, id int) (Tab, error)
	CreateTab(ctx context.Context, req CreateTab) (Tab, error)
	UpdateTab(ctx context.Context, id int, u TabUpdate) error
	RemoveTab(ctx context.Context, id int) error
	DiscardTab(ctx context.Context, id int) error

	// GroupTabs adds tabs to groupID, or creates a fresh group when
	// groupID is GroupNone, returning the resulting group id.
	GroupTabs(ctx context.Context, groupID int, tabIDs []int) (int, error)
	UngroupTabs(ctx context.Context, tabIDs []int) error
	QueryGroups(ctx context.Context, q GroupQuery) ([]TabGroup, error)
	GetGroup(ctx context.Context, id int) (TabGroup, error)
	UpdateGroup(ctx context.Context, id int, u GroupUpdate) error
}

// World represents a snapshot of all open tabs and groups.
type World struct {
	Tabs   []Tab
	Groups []TabGroup
}

// NewWorld builds a world snapshot from the backend.
func NewWorld(ctx context.Context, backend Backend) (*World, error) {
	tabs, err := backend.QueryTabs(ctx, TabQuery{})
	if err != nil {
		return nil, err
	}
	groups, err := backend.QueryGroups(ctx, GroupQuery{})
	if err != nil {
		return nil, err
	}
	return &World{Tabs: tabs, Groups: groups}, nil
}

// TabByID returns the tab with id, or nil.
func (w *World) TabByID(id int) *Tab {
	for i := range w.Tabs {
		if w.Tabs[i].ID == id {
			return &w.Tabs[i]
		}
	}
	return nil
}

// GroupByID finds a group by id.
func (w *World) GroupByID(id int) *TabGroup {
	for i := range w.Groups {
		if w.Groups[i].ID == id {
			return &w.Groups[i]
		}
	}
	return nil
}

// ActiveTab returns the active tab in the window, or nil.
func (w *World) ActiveTab(windowID int) *Tab {
	for i := range w.Tabs {
		if w.Tabs[i].WindowID == windowID && w.Tabs[i].Active {
			return &w.Tabs[i]
		}
	}
	return nil
}

// GroupsInWindow returns the groups belonging to the window.
func (w *World) GroupsInWindow(windowID int) []TabGroup {
	var groups []TabGroup
	for _, g := range w.Groups {
		if g.WindowID == windowID {
			groups = append(groups, g)
		}
	}
	return groups
}

// TabsInGroup returns the member tabs of a group in tab-strip order.
func (w *World) TabsInGroup(groupID int) []Tab {
	var tabs []Tab
	for _, t := range w.Tabs {
		if t.GroupID == groupID {
			tabs = append(tabs, t)
		}
	}
	return tabs
}
