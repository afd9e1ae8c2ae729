package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tabpal/tabpal/internal/bridge"
	"github.com/tabpal/tabpal/internal/logger"
	"github.com/tabpal/tabpal/internal/metrics"
	"github.com/tabpal/tabpal/internal/policy"
	"github.com/tabpal/tabpal/internal/rules"
	"github.com/tabpal/tabpal/internal/sched"
	"github.com/tabpal/tabpal/internal/state"
	"github.com/tabpal/tabpal/internal/state/statetest"
	"github.com/tabpal/tabpal/internal/store"
	"github.com/tabpal/tabpal/internal/track"
	"github.com/tabpal/tabpal/internal/workspace"
)

type fixture struct {
	orc     *Orchestrator
	backend *statetest.Backend
	store   store.Store
	tracker *track.Tracker
	sched   *sched.Scheduler
	events  chan bridge.Event
	cancel  context.CancelFunc
	done    chan error
	once    sync.Once
}

func newFixture(t *testing.T, tabs []state.Tab, mutate func(*store.Settings)) *fixture {
	t.Helper()
	backend := statetest.New(tabs, nil)
	st := store.NewMemory()
	s := store.DefaultSettings()
	if mutate != nil {
		mutate(&s)
	}
	if err := st.SaveSettings(context.Background(), s); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	log := logger.NewNop()
	collector := metrics.NewCollector()
	settings := store.NewSettingsCache(st)
	tracker := track.New()
	archiver := policy.NewArchiveManager(backend, st, settings, tracker, log, collector)
	exec := rules.NewExecutor(backend, archiver, log, collector)
	engine := rules.NewEngine(st, exec, log, collector)
	scheduler := sched.New(log)

	events := make(chan bridge.Event)
	orc := New(Deps{
		Backend:    backend,
		Store:      st,
		Settings:   settings,
		Tracker:    tracker,
		Engine:     engine,
		Duplicates: policy.NewDuplicateDetector(backend, settings, tracker, log, collector),
		Archiver:   archiver,
		Memory:     policy.NewMemorySaver(backend, settings, tracker, log, collector),
		Limiter:    policy.NewTabLimiter(backend, settings, tracker, archiver, log),
		Collapser:  policy.NewCollapser(backend, settings, log, collector),
		Reconciler: workspace.NewReconciler(backend, st, log, collector),
		Scheduler:  scheduler,
		Subscribe: func(ctx context.Context) (<-chan bridge.Event, error) {
			return events, nil
		},
		Log: log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orc.Run(ctx) }()

	f := &fixture{
		orc: orc, backend: backend, store: st, tracker: tracker,
		sched: scheduler, events: events, cancel: cancel, done: done,
	}
	t.Cleanup(f.stop)
	f.waitFor(t, "orchestrator to come up", f.orc.Running)
	// The cleanup timer is always scheduled, so its presence marks the
	// end of startup timer arming.
	f.waitFor(t, "startup timers", func() bool { return scheduler.Armed("dailyCleanup") })
	return f
}

func (f *fixture) stop() {
	f.once.Do(func() {
		f.cancel()
		select {
		case <-f.done:
		case <-time.After(2 * time.Second):
		}
	})
}

func (f *fixture) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fixture) send(t *testing.T, ev bridge.Event) {
	t.Helper()
	select {
	case f.events <- ev:
	case <-time.After(2 * time.Second):
		t.Fatal("event loop is not consuming")
	}
}

func TestTabCreatedAppliesRulesAndCountsOpen(t *testing.T) {
	f := newFixture(t, []state.Tab{{ID: 1, URL: "https://docs.test/guide"}}, nil)
	_, err := f.store.SaveRule(context.Background(), rules.TabRule{
		Name:    "pin docs",
		Enabled: true,
		Conditions: []rules.Condition{
			{Type: rules.ConditionDomain, Operator: rules.OpEquals, Pattern: "docs.test"},
		},
		Actions: []rules.Action{{Type: rules.ActionPin}},
	})
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}

	tab, _ := f.backend.Tab(1)
	f.send(t, bridge.Event{Kind: bridge.EventTabCreated, Tab: &tab})

	f.waitFor(t, "rule to pin the tab", func() bool {
		got, _ := f.backend.Tab(1)
		return got.Pinned
	})
	f.waitFor(t, "open to be counted", func() bool {
		stats, _ := f.store.DailyStats(context.Background())
		return stats.TabsOpened == 1
	})
}

func TestTabRemovedForgetsAndCountsClose(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.tracker.Touch(9, time.Now())

	f.send(t, bridge.Event{Kind: bridge.EventTabRemoved, TabID: 9})

	f.waitFor(t, "close to be counted", func() bool {
		stats, _ := f.store.DailyStats(context.Background())
		return stats.TabsClosed == 1
	})
	if !f.tracker.LastAccess(9).IsZero() {
		t.Fatal("removed tab must leave the tracker")
	}
}

func TestTabActivatedPersistsPreviousTab(t *testing.T) {
	f := newFixture(t, []state.Tab{
		{ID: 1, WindowID: 1, URL: "https://a.test"},
		{ID: 2, WindowID: 1, URL: "https://b.test"},
	}, nil)

	f.send(t, bridge.Event{Kind: bridge.EventTabActivated, TabID: 1, WindowID: 1})
	f.send(t, bridge.Event{Kind: bridge.EventTabActivated, TabID: 2, WindowID: 1})

	f.waitFor(t, "previous tab to persist", func() bool {
		id, known, err := f.store.PreviousTabID(context.Background())
		return err == nil && known && id == 1
	})

	id, known, err := f.orc.PreviousTab(context.Background())
	if err != nil || !known || id != 1 {
		t.Fatalf("PreviousTab = %d %v %v, want 1 true nil", id, known, err)
	}
}

func TestSettingsChangeRearmsTimers(t *testing.T) {
	f := newFixture(t, nil, func(s *store.Settings) { s.AutoArchiveEnabled = false })

	f.waitFor(t, "cleanup timer", func() bool { return f.sched.Armed("dailyCleanup") })
	if f.sched.Armed("autoArchive") {
		t.Fatal("disabled policy must not be scheduled")
	}

	s := store.DefaultSettings()
	s.AutoArchiveEnabled = true
	if err := f.store.SaveSettings(context.Background(), s); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	f.waitFor(t, "archive timer after enable", func() bool { return f.sched.Armed("autoArchive") })
}

func TestAlarmFiringRunsPolicy(t *testing.T) {
	f := newFixture(t, []state.Tab{
		{ID: 1, URL: "https://stale.test"}, // never tracked, immediately idle
	}, func(s *store.Settings) {
		s.AutoArchiveEnabled = true
		s.AutoArchiveMinutes = 60
	})

	// One-shot under the same name stands in for the periodic schedule.
	f.sched.Once("autoArchive", 5*time.Millisecond)

	f.waitFor(t, "idle tab to be archived", func() bool {
		removed := f.backend.Removed()
		return len(removed) == 1 && removed[0] == 1
	})
	recs, _ := f.store.ArchivedTabs(context.Background())
	if len(recs) != 1 || recs[0].URL != "https://stale.test" {
		t.Fatalf("archive records = %+v", recs)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, nil)

	// A second Run on a live orchestrator returns immediately.
	err := f.orc.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !f.orc.Running() {
		t.Fatal("first run must still be live")
	}
	if f.orc.StartedAt().IsZero() {
		t.Fatal("start time should be recorded")
	}

	f.stop()
	if f.orc.Running() {
		t.Fatal("cancelled orchestrator must report not running")
	}
}
