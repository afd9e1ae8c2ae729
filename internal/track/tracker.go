package track

import (
	"sort"
	"sync"
	"time"
)

// Tracker owns the in-memory per-tab bookkeeping the policies consume:
// last-access timestamps, accumulated active time, and the previously
// active tab. It is initialized empty at process start and is a best-effort
// cache, not a source of truth; after a restart every tab reads as never
// accessed.
type Tracker struct {
	mu          sync.Mutex
	access      map[int]time.Time
	spent       map[int]time.Duration
	activeTab   int
	activeSince time.Time
	prevTab     int
	hasActive   bool
	hasPrev     bool
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{
		access: make(map[int]time.Time),
		spent:  make(map[int]time.Duration),
	}
}

// Touch records an access to the tab at now.
func (t *Tracker) Touch(id int, now time.Time) {
	t.mu.Lock()
	t.access[id] = now
	t.mu.Unlock()
}

// Activate records that the tab became active at now. The previously
// active tab's running span is folded into its accumulated time and it
// becomes the "previous tab".
func (t *Tracker) Activate(id int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasActive && t.activeTab != id {
		t.spent[t.activeTab] += now.Sub(t.activeSince)
		t.prevTab = t.activeTab
		t.hasPrev = true
	}
	t.activeTab = id
	t.activeSince = now
	t.hasActive = true
	t.access[id] = now
}

// Remove drops all state for a closed tab.
func (t *Tracker) Remove(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.access, id)
	delete(t.spent, id)
	if t.hasActive && t.activeTab == id {
		t.hasActive = false
	}
	if t.hasPrev && t.prevTab == id {
		t.hasPrev = false
	}
}

// LastAccess returns the tab's last recorded access time. Untracked tabs
// report the zero time, which sorts as oldest.
func (t *Tracker) LastAccess(id int) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.access[id]
}

// TimeSpent returns the tab's accumulated active duration, including the
// running span when the tab is currently active.
func (t *Tracker) TimeSpent(id int, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.spent[id]
	if t.hasActive && t.activeTab == id {
		total += now.Sub(t.activeSince)
	}
	return total
}

// PreviousTab returns the tab that was active before the current one.
func (t *Tracker) PreviousTab() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prevTab, t.hasPrev
}

// SortOldestFirst orders tab ids by ascending last access. Untracked tabs
// sort first, making closure and suspension order deterministic.
func (t *Tracker) SortOldestFirst(ids []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sort.SliceStable(ids, func(i, j int) bool {
		return t.access[ids[i]].Before(t.access[ids[j]])
	})
}
