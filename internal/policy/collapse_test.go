package policy

import (
	"context"
	"testing"
	"time"

	"github.com/tabpal/tabpal/internal/logger"
	"github.com/tabpal/tabpal/internal/metrics"
	"github.com/tabpal/tabpal/internal/state"
	"github.com/tabpal/tabpal/internal/state/statetest"
	"github.com/tabpal/tabpal/internal/store"
)

func collapseFixture(t *testing.T) (*Collapser, *statetest.Backend) {
	t.Helper()
	settings, _ := testSettings(t, func(s *store.Settings) {
		s.AutoCollapseEnabled = true
		s.CollapseDelaySeconds = 0 // falls back to the minimal delay
	})
	backend := statetest.New([]state.Tab{
		{ID: 1, WindowID: 1, Active: true, GroupID: 2},
		{ID: 2, WindowID: 1, GroupID: 1},
	}, []state.TabGroup{
		{ID: 1, WindowID: 1, Title: "G1"},
		{ID: 2, WindowID: 1, Title: "G2"},
	})
	c := NewCollapser(backend, settings, logger.NewNop(), metrics.NewCollector())
	t.Cleanup(c.Shutdown)
	return c, backend
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCollapseInactiveGroupAfterDelay(t *testing.T) {
	c, backend := collapseFixture(t)

	if err := c.HandleActiveGroup(context.Background(), 1, 2); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if c.Pending(2) {
		t.Fatal("the active group must not be armed")
	}
	if !c.Pending(1) {
		t.Fatal("the inactive group must be armed")
	}
	waitFor(t, 2*time.Second, "group 1 to collapse", func() bool {
		g, _ := backend.Group(1)
		return g.Collapsed
	})
	if c.Pending(1) {
		t.Fatal("fired timer must leave the arena")
	}
}

func TestCollapseAbortedWhenGroupBecomesActive(t *testing.T) {
	c, backend := collapseFixture(t)

	if err := c.HandleActiveGroup(context.Background(), 1, 2); err != nil {
		t.Fatalf("handle: %v", err)
	}
	// Focus moves into group 1 before the timer fires.
	backend.SetTabGroup(1, 1)
	waitFor(t, 2*time.Second, "timer to fire and clear", func() bool {
		return !c.Pending(1)
	})
	time.Sleep(50 * time.Millisecond)
	if g, _ := backend.Group(1); g.Collapsed {
		t.Fatal("collapse must be aborted when the group holds the active tab")
	}
}

func TestCancelGroupDropsPendingTimer(t *testing.T) {
	c, backend := collapseFixture(t)

	if err := c.HandleActiveGroup(context.Background(), 1, 2); err != nil {
		t.Fatalf("handle: %v", err)
	}
	c.CancelGroup(1)
	if c.Pending(1) {
		t.Fatal("cancel must drop the timer")
	}
	time.Sleep(150 * time.Millisecond)
	if g, _ := backend.Group(1); g.Collapsed {
		t.Fatal("cancelled timer must never collapse")
	}
}

func TestHandleActiveGroupCancelsOwnTimer(t *testing.T) {
	c, _ := collapseFixture(t)

	if err := c.HandleActiveGroup(context.Background(), 1, 2); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !c.Pending(1) {
		t.Fatal("group 1 should be armed")
	}
	// Focus settles on group 1: its pending collapse is cancelled and
	// group 2 is armed instead.
	if err := c.HandleActiveGroup(context.Background(), 1, 1); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if c.Pending(1) {
		t.Fatal("newly active group must have its timer cancelled")
	}
	if !c.Pending(2) {
		t.Fatal("the other group must now be armed")
	}
}

func TestCollapseDisabledIsNoop(t *testing.T) {
	settings, _ := testSettings(t, func(s *store.Settings) { s.AutoCollapseEnabled = false })
	backend := statetest.New(nil, []state.TabGroup{{ID: 1, WindowID: 1}})
	c := NewCollapser(backend, settings, logger.NewNop(), metrics.NewCollector())
	t.Cleanup(c.Shutdown)

	if err := c.HandleActiveGroup(context.Background(), 1, state.GroupNone); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if c.Pending(1) {
		t.Fatal("disabled policy must not arm timers")
	}
}
