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

const (
	// memoryPerTabMB is the flat memory estimate for one open tab. Real
	// usage is unknowable from outside the browser, so a fixed heuristic
	// stands in.
	memoryPerTabMB = 50
	// memoryIdleFloor is the minimum idle time before a tab may be
	// suspended, independent of the configured threshold.
	memoryIdleFloor = 15 * time.Minute
)

// MemorySaver discards idle tabs when the estimated memory footprint of
// open tabs exceeds the configured threshold.
type MemorySaver struct {
	backend  state.Backend
	settings *store.SettingsCache
	tracker  *track.Tracker
	log      logger.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

// NewMemorySaver wires a memory saver.
func NewMemorySaver(backend state.Backend, settings *store.SettingsCache, tracker *track.Tracker, log logger.Logger, collector *metrics.Collector) *MemorySaver {
	return &MemorySaver{
		backend:  backend,
		settings: settings,
		tracker:  tracker,
		log:      log,
		metrics:  collector,
		now:      time.Now,
	}
}

// SuspendMemoryHeavyTabs estimates memory as a flat per-tab cost over all
// non-active, non-pinned tabs. If the estimate exceeds the threshold it
// discards just enough long-idle tabs, oldest access first, to bring the
// estimate back under. Already-discarded tabs still count toward the
// estimate but are never re-suspended.
func (m *MemorySaver) SuspendMemoryHeavyTabs(ctx context.Context) error {
	settings, err := m.settings.Get(ctx)
	if err != nil {
		m.log.Errorf("load settings: %v", err)
		return nil
	}
	if !settings.MemorySaverEnabled {
		return nil
	}

	tabs, err := m.backend.QueryTabs(ctx, state.TabQuery{})
	if err != nil {
		return err
	}
	now := m.now()
	var estimateMB int
	var candidates []int
	for _, tab := range tabs {
		if tab.Active || tab.Pinned {
			continue
		}
		estimateMB += memoryPerTabMB
		if tab.Discarded {
			continue
		}
		if now.Sub(m.tracker.LastAccess(tab.ID)) > memoryIdleFloor {
			candidates = append(candidates, tab.ID)
		}
	}
	if estimateMB <= settings.MemoryThresholdMB {
		return nil
	}
	need := (estimateMB - settings.MemoryThresholdMB + memoryPerTabMB - 1) / memoryPerTabMB
	m.tracker.SortOldestFirst(candidates)
	if need > len(candidates) {
		need = len(candidates)
	}
	for _, id := range candidates[:need] {
		if err := m.backend.DiscardTab(ctx, id); err != nil {
			if errors.Is(err, bridge.ErrNotFound) {
				continue
			}
			m.log.Errorf("discard tab %d: %v", id, err)
			continue
		}
		m.metrics.TabSuspended()
		m.log.Infof("suspended idle tab %d", id)
	}
	return nil
}
