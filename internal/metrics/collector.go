package metrics

import (
	"sort"
	"sync"
	"time"
)

// Collector aggregates counters for rule execution and policy activity.
type Collector struct {
	mu      sync.RWMutex
	started time.Time
	rules   map[string]*RuleMetrics
	policy  PolicyTotals
}

// RuleMetrics captures per-rule counters tracked by the collector.
type RuleMetrics struct {
	Rule        string    `json:"rule"`
	Matched     uint64    `json:"matched"`
	Applied     uint64    `json:"applied"`
	LastMatched time.Time `json:"lastMatched,omitempty"`
	LastApplied time.Time `json:"lastApplied,omitempty"`
}

// PolicyTotals aggregates daemon-wide policy counters.
type PolicyTotals struct {
	TabsArchived      uint64 `json:"tabsArchived"`
	TabsClosed        uint64 `json:"tabsClosed"`
	TabsSuspended     uint64 `json:"tabsSuspended"`
	DuplicatesClosed  uint64 `json:"duplicatesClosed"`
	GroupsCollapsed   uint64 `json:"groupsCollapsed"`
	WorkspacesSynced  uint64 `json:"workspacesSynced"`
	ArchiveEntriesCut uint64 `json:"archiveEntriesPruned"`
}

// Snapshot is the serializable view of the current metrics state.
type Snapshot struct {
	Started time.Time     `json:"started"`
	Policy  PolicyTotals  `json:"policy"`
	Rules   []RuleMetrics `json:"rules,omitempty"`
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		started: time.Now(),
		rules:   make(map[string]*RuleMetrics),
	}
}

func (c *Collector) rule(name string) *RuleMetrics {
	rm, ok := c.rules[name]
	if !ok {
		rm = &RuleMetrics{Rule: name}
		c.rules[name] = rm
	}
	return rm
}

// RuleMatched records a successful predicate match for the rule.
func (c *Collector) RuleMatched(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	rm := c.rule(name)
	rm.Matched++
	rm.LastMatched = time.Now()
	c.mu.Unlock()
}

// RuleApplied records that the rule's actions were executed.
func (c *Collector) RuleApplied(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	rm := c.rule(name)
	rm.Applied++
	rm.LastApplied = time.Now()
	c.mu.Unlock()
}

func (c *Collector) bump(f func(*PolicyTotals)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	f(&c.policy)
	c.mu.Unlock()
}

// TabArchived counts one archived tab.
func (c *Collector) TabArchived() { c.bump(func(p *PolicyTotals) { p.TabsArchived++ }) }

// TabClosed counts one closed tab.
func (c *Collector) TabClosed() { c.bump(func(p *PolicyTotals) { p.TabsClosed++ }) }

// TabSuspended counts one discarded tab.
func (c *Collector) TabSuspended() { c.bump(func(p *PolicyTotals) { p.TabsSuspended++ }) }

// DuplicateClosed counts one duplicate tab closure.
func (c *Collector) DuplicateClosed() { c.bump(func(p *PolicyTotals) { p.DuplicatesClosed++ }) }

// GroupCollapsed counts one auto-collapsed group.
func (c *Collector) GroupCollapsed() { c.bump(func(p *PolicyTotals) { p.GroupsCollapsed++ }) }

// WorkspaceSynced counts one workspace reconciliation write.
func (c *Collector) WorkspaceSynced() { c.bump(func(p *PolicyTotals) { p.WorkspacesSynced++ }) }

// ArchiveEntriesPruned counts records removed by retention cleanup.
func (c *Collector) ArchiveEntriesPruned(n int) {
	c.bump(func(p *PolicyTotals) { p.ArchiveEntriesCut += uint64(n) })
}

// Snapshot returns a copy of the current counters with rules sorted by name.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{Started: c.started, Policy: c.policy}
	for _, rm := range c.rules {
		snap.Rules = append(snap.Rules, *rm)
	}
	sort.Slice(snap.Rules, func(i, j int) bool { return snap.Rules[i].Rule < snap.Rules[j].Rule })
	return snap
}
