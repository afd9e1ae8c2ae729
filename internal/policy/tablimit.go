package policy

import (
	"context"

	"github.com/tabpal/tabpal/internal/logger"
	"github.com/tabpal/tabpal/internal/state"
	"github.com/tabpal/tabpal/internal/store"
	"github.com/tabpal/tabpal/internal/track"
)

// TabLimiter archives the oldest tabs once the open count exceeds the
// configured cap.
type TabLimiter struct {
	backend  state.Backend
	settings *store.SettingsCache
	tracker  *track.Tracker
	archiver *ArchiveManager
	log      logger.Logger
}

// NewTabLimiter wires a tab limiter.
func NewTabLimiter(backend state.Backend, settings *store.SettingsCache, tracker *track.Tracker, archiver *ArchiveManager, log logger.Logger) *TabLimiter {
	return &TabLimiter{backend: backend, settings: settings, tracker: tracker, archiver: archiver, log: log}
}

// EnforceTabLimits counts all open tabs and archives the excess beyond
// the configured maximum, oldest recorded access first. Pinned and active
// tabs are never taken, so the count can remain over the cap when too few
// tabs are eligible.
func (l *TabLimiter) EnforceTabLimits(ctx context.Context) error {
	settings, err := l.settings.Get(ctx)
	if err != nil {
		l.log.Errorf("load settings: %v", err)
		return nil
	}
	if !settings.TabLimitEnabled {
		return nil
	}

	tabs, err := l.backend.QueryTabs(ctx, state.TabQuery{})
	if err != nil {
		return err
	}
	excess := len(tabs) - settings.MaxOpenTabs
	if excess <= 0 {
		return nil
	}

	byID := make(map[int]state.Tab, len(tabs))
	var eligible []int
	for _, tab := range tabs {
		if tab.Pinned || tab.Active {
			continue
		}
		byID[tab.ID] = tab
		eligible = append(eligible, tab.ID)
	}
	l.tracker.SortOldestFirst(eligible)
	if excess > len(eligible) {
		excess = len(eligible)
	}
	for _, id := range eligible[:excess] {
		if err := l.archiver.ArchiveTab(ctx, byID[id]); err != nil {
			l.log.Errorf("archive over-limit tab %d: %v", id, err)
		}
	}
	return nil
}
