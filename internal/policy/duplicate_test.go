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

func TestCheckDuplicatesClosesOldestFirst(t *testing.T) {
	settings, _ := testSettings(t, nil) // duplicate detection defaults on
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	const url = "https://example.com/doc"
	backend := statetest.New([]state.Tab{
		{ID: 1, URL: url}, // subject
		{ID: 2, URL: url},
		{ID: 3, URL: url},
		{ID: 4, URL: "https://other.test"},
	}, nil)
	tracker := track.New()
	tracker.Touch(1, base.Add(100*time.Second))
	tracker.Touch(2, base.Add(50*time.Second))
	tracker.Touch(3, base.Add(75*time.Second))

	det := NewDuplicateDetector(backend, settings, tracker, logger.NewNop(), metrics.NewCollector())
	if err := det.CheckDuplicates(context.Background(), state.Tab{ID: 1, URL: url}); err != nil {
		t.Fatalf("check duplicates: %v", err)
	}

	removed := backend.Removed()
	if len(removed) != 2 || removed[0] != 2 || removed[1] != 3 {
		t.Fatalf("removed = %v, want [2 3] oldest first", removed)
	}
	if _, err := backend.GetTab(context.Background(), 1); err != nil {
		t.Fatal("subject tab must survive")
	}
}

func TestCheckDuplicatesSkipsSpecialURLs(t *testing.T) {
	settings, _ := testSettings(t, nil)
	backend := statetest.New([]state.Tab{
		{ID: 1, URL: "chrome://newtab/"},
		{ID: 2, URL: "chrome://newtab/"},
	}, nil)
	det := NewDuplicateDetector(backend, settings, track.New(), logger.NewNop(), metrics.NewCollector())

	if err := det.CheckDuplicates(context.Background(), state.Tab{ID: 1, URL: "chrome://newtab/"}); err != nil {
		t.Fatalf("check duplicates: %v", err)
	}
	if len(backend.Removed()) != 0 {
		t.Fatal("new-tab pages are never deduplicated")
	}
}

func TestCheckDuplicatesDisabledIsNoop(t *testing.T) {
	settings, _ := testSettings(t, func(s *store.Settings) { s.DuplicateDetection = false })
	const url = "https://example.com"
	backend := statetest.New([]state.Tab{{ID: 1, URL: url}, {ID: 2, URL: url}}, nil)
	det := NewDuplicateDetector(backend, settings, track.New(), logger.NewNop(), metrics.NewCollector())

	if err := det.CheckDuplicates(context.Background(), state.Tab{ID: 1, URL: url}); err != nil {
		t.Fatalf("check duplicates: %v", err)
	}
	if len(backend.Removed()) != 0 {
		t.Fatal("disabled policy must not act")
	}
}
