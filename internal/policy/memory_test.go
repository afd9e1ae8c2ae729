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
	"github.com/tabpal/tabpal/internal/track"
)

func TestSuspendMemoryHeavyTabs(t *testing.T) {
	settings, _ := testSettings(t, func(s *store.Settings) {
		s.MemorySaverEnabled = true
		s.MemoryThresholdMB = 500
	})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// 12 non-active non-pinned tabs estimate to 600MB against a 500MB
	// threshold; ceil(100/50) = 2 suspensions from the long-idle set.
	var tabs []state.Tab
	tabs = append(tabs, state.Tab{ID: 100, Active: true})
	for i := 1; i <= 12; i++ {
		tabs = append(tabs, state.Tab{ID: i, URL: "https://t.test"})
	}
	backend := statetest.New(tabs, nil)
	tracker := track.New()
	// Tabs 1-4 idle over 15 minutes, oldest first 2, then 4.
	tracker.Touch(1, now.Add(-30*time.Minute))
	tracker.Touch(2, now.Add(-50*time.Minute))
	tracker.Touch(3, now.Add(-20*time.Minute))
	tracker.Touch(4, now.Add(-40*time.Minute))
	for i := 5; i <= 12; i++ {
		tracker.Touch(i, now.Add(-time.Minute))
	}

	saver := NewMemorySaver(backend, settings, tracker, logger.NewNop(), metrics.NewCollector())
	saver.now = func() time.Time { return now }

	if err := saver.SuspendMemoryHeavyTabs(context.Background()); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	discarded := backend.Discarded()
	if len(discarded) != 2 || discarded[0] != 2 || discarded[1] != 4 {
		t.Fatalf("discarded = %v, want [2 4] oldest idle first", discarded)
	}
	if len(backend.Removed()) != 0 {
		t.Fatal("memory policy must never close tabs")
	}
}

func TestSuspendUnderThresholdIsNoop(t *testing.T) {
	settings, _ := testSettings(t, func(s *store.Settings) {
		s.MemorySaverEnabled = true
		s.MemoryThresholdMB = 1000
	})
	now := time.Now()
	backend := statetest.New([]state.Tab{{ID: 1}, {ID: 2}}, nil)
	tracker := track.New()
	saver := NewMemorySaver(backend, settings, tracker, logger.NewNop(), metrics.NewCollector())
	saver.now = func() time.Time { return now }

	if err := saver.SuspendMemoryHeavyTabs(context.Background()); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if len(backend.Discarded()) != 0 {
		t.Fatal("estimate under threshold must not suspend")
	}
}

func TestSuspendSkipsAlreadyDiscarded(t *testing.T) {
	settings, _ := testSettings(t, func(s *store.Settings) {
		s.MemorySaverEnabled = true
		s.MemoryThresholdMB = 50
	})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	backend := statetest.New([]state.Tab{
		{ID: 1, Discarded: true},
		{ID: 2},
	}, nil)
	tracker := track.New()
	tracker.Touch(1, now.Add(-time.Hour))
	tracker.Touch(2, now.Add(-time.Hour))

	saver := NewMemorySaver(backend, settings, tracker, logger.NewNop(), metrics.NewCollector())
	saver.now = func() time.Time { return now }

	if err := saver.SuspendMemoryHeavyTabs(context.Background()); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	discarded := backend.Discarded()
	if len(discarded) != 1 || discarded[0] != 2 {
		t.Fatalf("discarded = %v, want only tab 2", discarded)
	}
}
