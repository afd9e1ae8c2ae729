package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tabpal/tabpal/internal/bridge"
	"github.com/tabpal/tabpal/internal/logger"
	"github.com/tabpal/tabpal/internal/metrics"
	"github.com/tabpal/tabpal/internal/state"
	"github.com/tabpal/tabpal/internal/store"
)

// minCollapseDelay is the floor applied when the configured collapse
// delay is zero, so a collapse never races the focus change that armed
// it.
const minCollapseDelay = 50 * time.Millisecond

// Collapser collapses tab groups a configurable delay after focus leaves
// them. One pending timer exists per group; arming a group that already
// has a timer restarts the countdown.
type Collapser struct {
	backend  state.Backend
	settings *store.SettingsCache
	log      logger.Logger
	metrics  *metrics.Collector

	mu     sync.Mutex
	timers map[int]*time.Timer
}

// NewCollapser wires a collapser.
func NewCollapser(backend state.Backend, settings *store.SettingsCache, log logger.Logger, collector *metrics.Collector) *Collapser {
	return &Collapser{
		backend:  backend,
		settings: settings,
		log:      log,
		metrics:  collector,
		timers:   make(map[int]*time.Timer),
	}
}

// HandleActiveGroup reacts to focus settling on activeGroupID within a
// window: the active group's pending collapse is cancelled, and every
// other expanded group in the window is (re)armed. Pass state.GroupNone
// when the active tab is ungrouped.
func (c *Collapser) HandleActiveGroup(ctx context.Context, windowID, activeGroupID int) error {
	if activeGroupID != state.GroupNone {
		c.CancelGroup(activeGroupID)
	}
	settings, err := c.settings.Get(ctx)
	if err != nil {
		c.log.Errorf("load settings: %v", err)
		return nil
	}
	if !settings.AutoCollapseEnabled {
		return nil
	}
	delay := time.Duration(settings.CollapseDelaySeconds) * time.Second
	if delay <= 0 {
		delay = minCollapseDelay
	}

	groups, err := c.backend.QueryGroups(ctx, state.GroupQuery{WindowID: &windowID})
	if err != nil {
		return err
	}
	for _, g := range groups {
		if g.ID == activeGroupID || g.Collapsed {
			continue
		}
		c.arm(g.ID, delay)
	}
	return nil
}

// Recompute re-derives the active group for a window and re-arms timers
// accordingly. Used after bulk mutations where the focus did not move but
// group membership may have.
func (c *Collapser) Recompute(ctx context.Context, windowID int) error {
	active := true
	tabs, err := c.backend.QueryTabs(ctx, state.TabQuery{WindowID: &windowID, Active: &active})
	if err != nil {
		return err
	}
	activeGroup := state.GroupNone
	if len(tabs) > 0 {
		activeGroup = tabs[0].GroupID
	}
	return c.HandleActiveGroup(ctx, windowID, activeGroup)
}

// CancelGroup drops any pending collapse for the group. Called when the
// group regains focus or ceases to exist.
func (c *Collapser) CancelGroup(groupID int) {
	c.mu.Lock()
	if t, ok := c.timers[groupID]; ok {
		t.Stop()
		delete(c.timers, groupID)
	}
	c.mu.Unlock()
}

// Shutdown cancels every pending collapse.
func (c *Collapser) Shutdown() {
	c.mu.Lock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.mu.Unlock()
}

// Pending reports whether a collapse is armed for the group.
func (c *Collapser) Pending(groupID int) bool {
	c.mu.Lock()
	_, ok := c.timers[groupID]
	c.mu.Unlock()
	return ok
}

func (c *Collapser) arm(groupID int, delay time.Duration) {
	c.mu.Lock()
	if t, ok := c.timers[groupID]; ok {
		t.Stop()
	}
	c.timers[groupID] = time.AfterFunc(delay, func() { c.fire(groupID) })
	c.mu.Unlock()
}

// fire revalidates before collapsing: the group must still exist and
// must not have reacquired the active tab while the timer ran.
func (c *Collapser) fire(groupID int) {
	c.mu.Lock()
	delete(c.timers, groupID)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	group, err := c.backend.GetGroup(ctx, groupID)
	if err != nil {
		if !errors.Is(err, bridge.ErrNotFound) {
			c.log.Errorf("collapse group %d: %v", groupID, err)
		}
		return
	}
	active := true
	tabs, err := c.backend.QueryTabs(ctx, state.TabQuery{WindowID: &group.WindowID, Active: &active})
	if err != nil {
		c.log.Errorf("collapse group %d: %v", groupID, err)
		return
	}
	if len(tabs) > 0 && tabs[0].GroupID == groupID {
		return
	}
	collapsed := true
	if err := c.backend.UpdateGroup(ctx, groupID, state.GroupUpdate{Collapsed: &collapsed}); err != nil {
		if !errors.Is(err, bridge.ErrNotFound) {
			c.log.Errorf("collapse group %d: %v", groupID, err)
		}
		return
	}
	c.metrics.GroupCollapsed()
	c.log.Debugf("collapsed group %d (%s)", groupID, group.Title)
}
