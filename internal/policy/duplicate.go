package policy

import (
	"context"
	"errors"
	"strings"

	"github.com/tabpal/tabpal/internal/bridge"
	"github.com/tabpal/tabpal/internal/logger"
	"github.com/tabpal/tabpal/internal/metrics"
	"github.com/tabpal/tabpal/internal/state"
	"github.com/tabpal/tabpal/internal/store"
	"github.com/tabpal/tabpal/internal/track"
)

// Internal browser surfaces are never deduplicated.
var (
	skipSchemePrefixes = []string{
		"chrome://", "chrome-extension://", "edge://", "brave://",
		"about:", "devtools://", "view-source:",
	}
	skipExactURLs = map[string]struct{}{
		"chrome://newtab/": {},
		"about:blank":      {},
		"about:newtab":     {},
	}
)

func deduplicatable(url string) bool {
	if _, ok := skipExactURLs[url]; ok {
		return false
	}
	for _, prefix := range skipSchemePrefixes {
		if strings.HasPrefix(url, prefix) {
			return false
		}
	}
	return true
}

// DuplicateDetector closes older tabs that share a newly-settled tab's
// exact URL.
type DuplicateDetector struct {
	backend  state.Backend
	settings *store.SettingsCache
	tracker  *track.Tracker
	log      logger.Logger
	metrics  *metrics.Collector
}

// NewDuplicateDetector wires a duplicate detector.
func NewDuplicateDetector(backend state.Backend, settings *store.SettingsCache, tracker *track.Tracker, log logger.Logger, collector *metrics.Collector) *DuplicateDetector {
	return &DuplicateDetector{backend: backend, settings: settings, tracker: tracker, log: log, metrics: collector}
}

// CheckDuplicates finds all other open tabs whose URL exactly equals the
// subject tab's URL and closes them, oldest recorded access first. The
// subject tab always survives.
func (d *DuplicateDetector) CheckDuplicates(ctx context.Context, tab state.Tab) error {
	settings, err := d.settings.Get(ctx)
	if err != nil {
		d.log.Errorf("load settings: %v", err)
		return nil
	}
	if !settings.DuplicateDetection {
		return nil
	}
	if tab.ID <= 0 || tab.URL == "" || !deduplicatable(tab.URL) {
		return nil
	}

	tabs, err := d.backend.QueryTabs(ctx, state.TabQuery{})
	if err != nil {
		return err
	}
	var dupes []int
	for _, t := range tabs {
		if t.ID != tab.ID && t.URL == tab.URL {
			dupes = append(dupes, t.ID)
		}
	}
	if len(dupes) == 0 {
		return nil
	}
	d.tracker.SortOldestFirst(dupes)
	for _, id := range dupes {
		if err := d.backend.RemoveTab(ctx, id); err != nil {
			if errors.Is(err, bridge.ErrNotFound) {
				continue
			}
			d.log.Errorf("close duplicate tab %d: %v", id, err)
			continue
		}
		d.metrics.DuplicateClosed()
		d.log.Infof("closed duplicate tab %d (%s)", id, tab.URL)
	}
	return nil
}
