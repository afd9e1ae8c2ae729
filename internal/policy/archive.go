package policy

import (
	"context"
	"errors"
	"time"

	"github.com/tabpal/tabpal/internal/bridge"
	"github.com/tabpal/tabpal/internal/logger"
	"github.com/tabpal/tabpal/internal/metrics"
	"github.com/tabpal/tabpal/internal/state"
	"github.com/tabpal/tabpal/internal/store"
	"github.com/tabpal/tabpal/internal/track"
)

// archiveRetention is how long archived records are kept before the daily
// cleanup prunes them. Deliberately not configurable.
const archiveRetention = 30 * 24 * time.Hour

// ArchiveManager moves tab metadata into the durable archive list before
// closing tabs, and prunes the list on a daily schedule.
type ArchiveManager struct {
	backend  state.Backend
	store    store.Store
	settings *store.SettingsCache
	tracker  *track.Tracker
	log      logger.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

// NewArchiveManager wires an archive manager.
func NewArchiveManager(backend state.Backend, st store.Store, settings *store.SettingsCache, tracker *track.Tracker, log logger.Logger, collector *metrics.Collector) *ArchiveManager {
	return &ArchiveManager{
		backend:  backend,
		store:    st,
		settings: settings,
		tracker:  tracker,
		log:      log,
		metrics:  collector,
		now:      time.Now,
	}
}

// ArchiveTab appends the tab's metadata to the archive and then removes
// the tab. Persist happens before removal so a crash between the two
// steps loses at most the close, never the record. Tabs without an id or
// URL are skipped.
func (a *ArchiveManager) ArchiveTab(ctx context.Context, tab state.Tab) error {
	if tab.ID <= 0 || tab.URL == "" {
		return nil
	}
	now := a.now()
	rec := store.ArchivedTab{
		URL:         tab.URL,
		Title:       tab.Title,
		FavIconURL:  tab.FavIconURL,
		ArchivedAt:  now,
		TimeSpentMs: a.tracker.TimeSpent(tab.ID, now).Milliseconds(),
	}
	if err := a.store.AppendArchivedTab(ctx, rec); err != nil {
		return err
	}
	if err := a.backend.RemoveTab(ctx, tab.ID); err != nil && !errors.Is(err, bridge.ErrNotFound) {
		a.log.Warnf("remove archived tab %d: %v", tab.ID, err)
	}
	a.metrics.TabArchived()
	a.log.Infof("archived tab %d (%s)", tab.ID, tab.URL)
	return nil
}

// AutoArchiveInactiveTabs archives every open tab that is neither pinned
// nor active and has been idle longer than the configured threshold.
// Tabs with no recorded access count as idle forever, so a fresh process
// treats them as immediately eligible.
func (a *ArchiveManager) AutoArchiveInactiveTabs(ctx context.Context) error {
	settings, err := a.settings.Get(ctx)
	if err != nil {
		a.log.Errorf("load settings: %v", err)
		return nil
	}
	if !settings.AutoArchiveEnabled {
		return nil
	}
	threshold := time.Duration(settings.AutoArchiveMinutes) * time.Minute

	tabs, err := a.backend.QueryTabs(ctx, state.TabQuery{})
	if err != nil {
		return err
	}
	now := a.now()
	for _, tab := range tabs {
		if tab.Pinned || tab.Active {
			continue
		}
		if now.Sub(a.tracker.LastAccess(tab.ID)) <= threshold {
			continue
		}
		if err := a.ArchiveTab(ctx, tab); err != nil {
			a.log.Errorf("auto-archive tab %d: %v", tab.ID, err)
		}
	}
	return nil
}

// PerformDailyCleanup prunes archive records older than the retention
// window and resets the daily counters under a fresh date stamp.
func (a *ArchiveManager) PerformDailyCleanup(ctx context.Context) error {
	now := a.now()
	recs, err := a.store.ArchivedTabs(ctx)
	if err != nil {
		a.log.Errorf("load archive: %v", err)
		recs = nil
	}
	cutoff := now.Add(-archiveRetention)
	kept := recs[:0]
	for _, rec := range recs {
		if rec.ArchivedAt.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	if pruned := len(recs) - len(kept); pruned > 0 {
		if err := a.store.ReplaceArchivedTabs(ctx, kept); err != nil {
			a.log.Errorf("prune archive: %v", err)
		} else {
			a.metrics.ArchiveEntriesPruned(pruned)
			a.log.Infof("pruned %d archived tabs past retention", pruned)
		}
	}
	if err := a.store.SaveDailyStats(ctx, store.DailyStats{Date: store.StatsDate(now)}); err != nil {
		a.log.Errorf("reset daily stats: %v", err)
	}
	return nil
}
