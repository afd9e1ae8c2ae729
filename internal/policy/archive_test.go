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

func testSettings(t *testing.T, mutate func(*store.Settings)) (*store.SettingsCache, store.Store) {
	t.Helper()
	st := store.NewMemory()
	s := store.DefaultSettings()
	if mutate != nil {
		mutate(&s)
	}
	if err := st.SaveSettings(context.Background(), s); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	return store.NewSettingsCache(st), st
}

func TestArchiveTabPersistsThenRemoves(t *testing.T) {
	settings, st := testSettings(t, nil)
	backend := statetest.New([]state.Tab{{ID: 1, URL: "https://example.com", Title: "Example"}}, nil)
	tracker := track.New()
	mgr := NewArchiveManager(backend, st, settings, tracker, logger.NewNop(), metrics.NewCollector())

	if err := mgr.ArchiveTab(context.Background(), state.Tab{ID: 1, URL: "https://example.com", Title: "Example"}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	recs, err := st.ArchivedTabs(context.Background())
	if err != nil {
		t.Fatalf("list archive: %v", err)
	}
	if len(recs) != 1 || recs[0].URL != "https://example.com" {
		t.Fatalf("archive records = %v", recs)
	}
	if removed := backend.Removed(); len(removed) != 1 || removed[0] != 1 {
		t.Fatalf("removed = %v, want [1]", removed)
	}
}

func TestArchiveTabSkipsTabWithoutURL(t *testing.T) {
	settings, st := testSettings(t, nil)
	backend := statetest.New([]state.Tab{{ID: 1}}, nil)
	mgr := NewArchiveManager(backend, st, settings, track.New(), logger.NewNop(), metrics.NewCollector())

	if err := mgr.ArchiveTab(context.Background(), state.Tab{ID: 1}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	recs, _ := st.ArchivedTabs(context.Background())
	if len(recs) != 0 || len(backend.Removed()) != 0 {
		t.Fatal("URL-less tab must be left alone")
	}
}

func TestAutoArchiveInactiveTabs(t *testing.T) {
	settings, st := testSettings(t, func(s *store.Settings) {
		s.AutoArchiveEnabled = true
		s.AutoArchiveMinutes = 60
	})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	backend := statetest.New([]state.Tab{
		{ID: 1, URL: "https://a.test", Pinned: true},
		{ID: 2, URL: "https://b.test", Active: true},
		{ID: 3, URL: "https://c.test"}, // idle 2h
		{ID: 4, URL: "https://d.test"}, // fresh
		{ID: 5, URL: "https://e.test"}, // untracked, immediately eligible
	}, nil)
	tracker := track.New()
	tracker.Touch(3, now.Add(-2*time.Hour))
	tracker.Touch(4, now.Add(-10*time.Minute))

	mgr := NewArchiveManager(backend, st, settings, tracker, logger.NewNop(), metrics.NewCollector())
	mgr.now = func() time.Time { return now }

	if err := mgr.AutoArchiveInactiveTabs(context.Background()); err != nil {
		t.Fatalf("auto-archive: %v", err)
	}
	removed := backend.Removed()
	if len(removed) != 2 {
		t.Fatalf("removed = %v, want tabs 3 and 5", removed)
	}
	for _, id := range removed {
		if id != 3 && id != 5 {
			t.Fatalf("unexpected removal of tab %d", id)
		}
	}
}

func TestAutoArchiveDisabledIsNoop(t *testing.T) {
	settings, st := testSettings(t, func(s *store.Settings) { s.AutoArchiveEnabled = false })
	backend := statetest.New([]state.Tab{{ID: 1, URL: "https://a.test"}}, nil)
	mgr := NewArchiveManager(backend, st, settings, track.New(), logger.NewNop(), metrics.NewCollector())

	if err := mgr.AutoArchiveInactiveTabs(context.Background()); err != nil {
		t.Fatalf("auto-archive: %v", err)
	}
	if len(backend.Removed()) != 0 {
		t.Fatal("disabled policy must not act")
	}
}

func TestPerformDailyCleanupRetention(t *testing.T) {
	settings, st := testSettings(t, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	st.AppendArchivedTab(ctx, store.ArchivedTab{URL: "https://old.test", ArchivedAt: now.AddDate(0, 0, -31)})
	st.AppendArchivedTab(ctx, store.ArchivedTab{URL: "https://young.test", ArchivedAt: now.AddDate(0, 0, -29)})

	mgr := NewArchiveManager(statetest.New(nil, nil), st, settings, track.New(), logger.NewNop(), metrics.NewCollector())
	mgr.now = func() time.Time { return now }

	if err := mgr.PerformDailyCleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	recs, _ := st.ArchivedTabs(ctx)
	if len(recs) != 1 || recs[0].URL != "https://young.test" {
		t.Fatalf("retained records = %v, want only the 29-day-old one", recs)
	}
	stats, _ := st.DailyStats(ctx)
	if stats.Date != store.StatsDate(now) || stats.TabsOpened != 0 || stats.TabsClosed != 0 {
		t.Fatalf("stats = %+v, want fresh zeroed counters", stats)
	}
}
