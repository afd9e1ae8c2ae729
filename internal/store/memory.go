package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabpal/tabpal/internal/rules"
)

// Memory is an in-memory Store used by tests and ephemeral runs. It
// mirrors the SQLite implementation's semantics, including upsert keys
// and blocked-rule refusal.
type Memory struct {
	mu         sync.Mutex
	settings   []byte
	rules      []rules.TabRule
	workspaces []Workspace
	archived   []ArchivedTab
	nextArchID int64
	stats      DailyStats
	hasStats   bool
	prevTab    int
	hasPrev    bool
	subs       []func(Change)
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{nextArchID: 1}
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

// Subscribe registers a change callback.
func (m *Memory) Subscribe(fn func(Change)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

func (m *Memory) notify(ns, key string) {
	m.mu.Lock()
	subs := append(([]func(Change))(nil), m.subs...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(Change{Namespace: ns, Key: key})
	}
}

// Settings returns stored settings merged over defaults.
func (m *Memory) Settings(ctx context.Context) (Settings, error) {
	m.mu.Lock()
	raw := m.settings
	m.mu.Unlock()
	return mergeSettings(raw)
}

// SaveSettings persists the settings document.
func (m *Memory) SaveSettings(ctx context.Context, s Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.settings = raw
	m.mu.Unlock()
	m.notify(NamespaceSync, KeySettings)
	return nil
}

// Rules returns the rule list in user order.
func (m *Memory) Rules(ctx context.Context) ([]rules.TabRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rules.TabRule(nil), m.rules...), nil
}

// SaveRule validates and upserts a rule.
func (m *Memory) SaveRule(ctx context.Context, r rules.TabRule) (rules.TabRule, error) {
	if err := r.Validate(); err != nil {
		return rules.TabRule{}, err
	}
	now := time.Now()
	if r.ID == "" {
		r.ID = uuid.NewString()
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	m.mu.Lock()
	replaced := false
	for i := range m.rules {
		if m.rules[i].ID == r.ID {
			m.rules[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		m.rules = append(m.rules, r)
	}
	m.mu.Unlock()
	m.notify(NamespaceSync, KeyRules)
	return r, nil
}

// DeleteRule removes a rule by id.
func (m *Memory) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	found := false
	kept := m.rules[:0]
	for _, r := range m.rules {
		if r.ID == id {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	m.rules = kept
	m.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	m.notify(NamespaceSync, KeyRules)
	return nil
}

// SetRuleEnabled toggles a rule's enabled flag, refusing blocked rules.
func (m *Memory) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	var target *rules.TabRule
	for i := range m.rules {
		if m.rules[i].ID == id {
			target = &m.rules[i]
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return ErrNotFound
	}
	if target.BlockedReason != "" {
		m.mu.Unlock()
		return ErrRuleBlocked
	}
	changed := target.Enabled != enabled
	target.Enabled = enabled
	if changed {
		target.UpdatedAt = time.Now()
	}
	m.mu.Unlock()
	if changed {
		m.notify(NamespaceSync, KeyRules)
	}
	return nil
}

// Workspaces returns all saved workspaces.
func (m *Memory) Workspaces(ctx context.Context) ([]Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Workspace(nil), m.workspaces...), nil
}

// SaveWorkspaceByName upserts keyed by name, preserving id/createdAt.
func (m *Memory) SaveWorkspaceByName(ctx context.Context, ws Workspace) (Workspace, error) {
	if ws.Name == "" {
		return Workspace{}, errEmptyWorkspaceName
	}
	now := time.Now()
	m.mu.Lock()
	replaced := false
	for i := range m.workspaces {
		if m.workspaces[i].Name == ws.Name {
			ws.ID = m.workspaces[i].ID
			ws.CreatedAt = m.workspaces[i].CreatedAt
			ws.UpdatedAt = now
			m.workspaces[i] = ws
			replaced = true
			break
		}
	}
	if !replaced {
		if ws.ID == "" {
			ws.ID = uuid.NewString()
		}
		if ws.CreatedAt.IsZero() {
			ws.CreatedAt = now
		}
		ws.UpdatedAt = now
		m.workspaces = append(m.workspaces, ws)
	}
	m.mu.Unlock()
	m.notify(NamespaceLocal, KeyWorkspaces)
	return ws, nil
}

// DeleteWorkspace removes a workspace by id.
func (m *Memory) DeleteWorkspace(ctx context.Context, id string) error {
	m.mu.Lock()
	found := false
	kept := m.workspaces[:0]
	for _, ws := range m.workspaces {
		if ws.ID == id {
			found = true
			continue
		}
		kept = append(kept, ws)
	}
	m.workspaces = kept
	m.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	m.notify(NamespaceLocal, KeyWorkspaces)
	return nil
}

// ArchivedTabs returns the archive list, oldest first.
func (m *Memory) ArchivedTabs(ctx context.Context) ([]ArchivedTab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ArchivedTab(nil), m.archived...), nil
}

// AppendArchivedTab adds one record.
func (m *Memory) AppendArchivedTab(ctx context.Context, rec ArchivedTab) error {
	m.mu.Lock()
	rec.ID = m.nextArchID
	m.nextArchID++
	m.archived = append(m.archived, rec)
	m.mu.Unlock()
	m.notify(NamespaceLocal, KeyArchivedTabs)
	return nil
}

// ReplaceArchivedTabs swaps the archive list.
func (m *Memory) ReplaceArchivedTabs(ctx context.Context, recs []ArchivedTab) error {
	m.mu.Lock()
	m.archived = append([]ArchivedTab(nil), recs...)
	m.mu.Unlock()
	m.notify(NamespaceLocal, KeyArchivedTabs)
	return nil
}

// DeleteArchivedTab removes one record by id.
func (m *Memory) DeleteArchivedTab(ctx context.Context, id int64) error {
	m.mu.Lock()
	found := false
	kept := m.archived[:0]
	for _, rec := range m.archived {
		if rec.ID == id {
			found = true
			continue
		}
		kept = append(kept, rec)
	}
	m.archived = kept
	m.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	m.notify(NamespaceLocal, KeyArchivedTabs)
	return nil
}

// DailyStats returns the stored counters.
func (m *Memory) DailyStats(ctx context.Context) (DailyStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasStats {
		return DailyStats{}, nil
	}
	return m.stats, nil
}

// SaveDailyStats persists the counters.
func (m *Memory) SaveDailyStats(ctx context.Context, stats DailyStats) error {
	m.mu.Lock()
	m.stats = stats
	m.hasStats = true
	m.mu.Unlock()
	m.notify(NamespaceLocal, KeyDailyStats)
	return nil
}

// PreviousTabID returns the persisted previously-active tab id.
func (m *Memory) PreviousTabID(ctx context.Context) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prevTab, m.hasPrev, nil
}

// SetPreviousTabID persists the previously-active tab id.
func (m *Memory) SetPreviousTabID(ctx context.Context, id int) error {
	m.mu.Lock()
	m.prevTab = id
	m.hasPrev = true
	m.mu.Unlock()
	m.notify(NamespaceLocal, KeyPreviousTabID)
	return nil
}
