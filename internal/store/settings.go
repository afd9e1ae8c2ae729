package store

import (
	"context"
	"encoding/json"
	"sync"
)

// Settings is the flat configuration record the policies consult. Stored
// values may be partial; defaults are merged underneath on every read so
// newly introduced fields always carry a value.
type Settings struct {
	Theme       string `json:"theme"`
	AccentColor string `json:"accentColor"`

	DuplicateDetection bool `json:"duplicateDetection"`

	AutoArchiveEnabled bool `json:"autoArchiveEnabled"`
	AutoArchiveMinutes int  `json:"autoArchiveMinutes"`

	MemorySaverEnabled bool `json:"memorySaverEnabled"`
	MemoryThresholdMB  int  `json:"memoryThresholdMB"`

	TabLimitEnabled bool `json:"tabLimitEnabled"`
	MaxOpenTabs     int  `json:"maxOpenTabs"`

	AutoCollapseEnabled  bool `json:"autoCollapseEnabled"`
	CollapseDelaySeconds int  `json:"collapseDelaySeconds"`
}

// DefaultSettings returns the schema defaults.
func DefaultSettings() Settings {
	return Settings{
		Theme:                "system",
		AccentColor:          "blue",
		DuplicateDetection:   true,
		AutoArchiveEnabled:   false,
		AutoArchiveMinutes:   60,
		MemorySaverEnabled:   false,
		MemoryThresholdMB:    1000,
		TabLimitEnabled:      false,
		MaxOpenTabs:          25,
		AutoCollapseEnabled:  true,
		CollapseDelaySeconds: 5,
	}
}

// mergeSettings decodes a stored JSON document over a copy of the
// defaults, so absent fields keep their default value.
func mergeSettings(raw []byte) (Settings, error) {
	merged := DefaultSettings()
	if len(raw) == 0 {
		return merged, nil
	}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return DefaultSettings(), err
	}
	return merged, nil
}

// SettingsSource is the read half the cache needs.
type SettingsSource interface {
	Settings(ctx context.Context) (Settings, error)
}

// SettingsCache memoizes the merged settings until invalidated. The
// orchestrator invalidates it from storage-change notifications, keeping
// the caching strategy an explicit component instead of incidental
// module state.
type SettingsCache struct {
	source SettingsSource

	mu     sync.Mutex
	cached *Settings
}

// NewSettingsCache wraps a settings source.
func NewSettingsCache(source SettingsSource) *SettingsCache {
	return &SettingsCache{source: source}
}

// Get returns the cached settings, loading them on a miss. A load failure
// degrades to defaults without populating the cache.
func (c *SettingsCache) Get(ctx context.Context) (Settings, error) {
	c.mu.Lock()
	if c.cached != nil {
		s := *c.cached
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	s, err := c.source.Settings(ctx)
	if err != nil {
		return DefaultSettings(), err
	}
	c.mu.Lock()
	c.cached = &s
	c.mu.Unlock()
	return s, nil
}

// Invalidate drops the cached value.
func (c *SettingsCache) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}
