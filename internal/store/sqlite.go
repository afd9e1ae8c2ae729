package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tabpal/tabpal/internal/rules"
)

//go:embed schema.sql
var schema string

// SQLite is the durable Store implementation backing the daemon.
type SQLite struct {
	db *sql.DB

	mu   sync.Mutex
	subs []func(Change)
}

// OpenSQLite opens (and initializes) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Subscribe registers a change callback.
func (s *SQLite) Subscribe(fn func(Change)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func (s *SQLite) notify(ns, key string) {
	s.mu.Lock()
	subs := append(([]func(Change))(nil), s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(Change{Namespace: ns, Key: key})
	}
}

func (s *SQLite) kvGet(ctx context.Context, ns, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv WHERE ns = ? AND key = ?", ns, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", ns, key, err)
	}
	return []byte(value), true, nil
}

func (s *SQLite) kvSet(ctx context.Context, ns, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO kv (ns, key, value) VALUES (?, ?, ?)",
		ns, key, string(value),
	)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", ns, key, err)
	}
	s.notify(ns, key)
	return nil
}

// Settings returns the stored settings merged over schema defaults.
func (s *SQLite) Settings(ctx context.Context) (Settings, error) {
	raw, _, err := s.kvGet(ctx, NamespaceSync, KeySettings)
	if err != nil {
		return DefaultSettings(), err
	}
	return mergeSettings(raw)
}

// SaveSettings persists the full settings document.
func (s *SQLite) SaveSettings(ctx context.Context, settings Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return s.kvSet(ctx, NamespaceSync, KeySettings, raw)
}

// Rules returns all rules in user order. Rows that no longer decode are
// skipped so one corrupt record cannot take the whole list down.
func (s *SQLite) Rules(ctx context.Context) ([]rules.TabRule, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM rules ORDER BY position",
	)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var list []rules.TabRule
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		var r rules.TabRule
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			continue
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// SaveRule validates and upserts a rule, assigning identity and creation
// time to new rules and appending them at the end of the user order.
func (s *SQLite) SaveRule(ctx context.Context, r rules.TabRule) (rules.TabRule, error) {
	if err := r.Validate(); err != nil {
		return rules.TabRule{}, err
	}
	now := time.Now()
	if r.ID == "" {
		r.ID = uuid.NewString()
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	data, err := json.Marshal(r)
	if err != nil {
		return rules.TabRule{}, fmt.Errorf("encode rule: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, position, data)
		VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM rules), ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`, r.ID, string(data))
	if err != nil {
		return rules.TabRule{}, fmt.Errorf("save rule: %w", err)
	}
	s.notify(NamespaceSync, KeyRules)
	return r, nil
}

// DeleteRule removes a rule by id.
func (s *SQLite) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notify(NamespaceSync, KeyRules)
	return nil
}

// SetRuleEnabled toggles a rule's enabled flag, refusing while the rule
// carries a blockedReason lock.
func (s *SQLite) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM rules WHERE id = ?", id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get rule: %w", err)
	}
	var r rules.TabRule
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return fmt.Errorf("decode rule: %w", err)
	}
	if r.BlockedReason != "" {
		return ErrRuleBlocked
	}
	if r.Enabled == enabled {
		return nil
	}
	r.Enabled = enabled
	r.UpdatedAt = time.Now()
	updated, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode rule: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE rules SET data = ? WHERE id = ?", string(updated), id,
	); err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	s.notify(NamespaceSync, KeyRules)
	return nil
}

// Workspaces returns all saved workspaces.
func (s *SQLite) Workspaces(ctx context.Context) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM workspaces ORDER BY name",
	)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var list []Workspace
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		var ws Workspace
		if err := json.Unmarshal([]byte(data), &ws); err != nil {
			continue
		}
		list = append(list, ws)
	}
	return list, rows.Err()
}

// SaveWorkspaceByName upserts keyed by workspace name, preserving the
// original id and creation time on update.
func (s *SQLite) SaveWorkspaceByName(ctx context.Context, ws Workspace) (Workspace, error) {
	if ws.Name == "" {
		return Workspace{}, errEmptyWorkspaceName
	}
	now := time.Now()

	var existing string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM workspaces WHERE name = ?", ws.Name,
	).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		if ws.ID == "" {
			ws.ID = uuid.NewString()
		}
		if ws.CreatedAt.IsZero() {
			ws.CreatedAt = now
		}
	case err != nil:
		return Workspace{}, fmt.Errorf("find workspace: %w", err)
	default:
		var prev Workspace
		if jsonErr := json.Unmarshal([]byte(existing), &prev); jsonErr == nil {
			ws.ID = prev.ID
			ws.CreatedAt = prev.CreatedAt
		}
	}
	ws.UpdatedAt = now

	data, err := json.Marshal(ws)
	if err != nil {
		return Workspace{}, fmt.Errorf("encode workspace: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, data) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data
	`, ws.ID, ws.Name, string(data))
	if err != nil {
		return Workspace{}, fmt.Errorf("save workspace: %w", err)
	}
	s.notify(NamespaceLocal, KeyWorkspaces)
	return ws, nil
}

// DeleteWorkspace removes a workspace by id.
func (s *SQLite) DeleteWorkspace(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM workspaces WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notify(NamespaceLocal, KeyWorkspaces)
	return nil
}

// ArchivedTabs returns the archive list, oldest first.
func (s *SQLite) ArchivedTabs(ctx context.Context) ([]ArchivedTab, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, title, fav_icon_url, archived_at, time_spent_ms
		FROM archived_tabs ORDER BY archived_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list archived tabs: %w", err)
	}
	defer rows.Close()

	var list []ArchivedTab
	for rows.Next() {
		var rec ArchivedTab
		var archivedAt int64
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Title, &rec.FavIconURL, &archivedAt, &rec.TimeSpentMs); err != nil {
			return nil, fmt.Errorf("scan archived tab: %w", err)
		}
		rec.ArchivedAt = time.UnixMilli(archivedAt)
		list = append(list, rec)
	}
	return list, rows.Err()
}

// AppendArchivedTab adds one record to the archive.
func (s *SQLite) AppendArchivedTab(ctx context.Context, rec ArchivedTab) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO archived_tabs (url, title, fav_icon_url, archived_at, time_spent_ms)
		VALUES (?, ?, ?, ?, ?)
	`, rec.URL, rec.Title, rec.FavIconURL, rec.ArchivedAt.UnixMilli(), rec.TimeSpentMs)
	if err != nil {
		return fmt.Errorf("append archived tab: %w", err)
	}
	s.notify(NamespaceLocal, KeyArchivedTabs)
	return nil
}

// ReplaceArchivedTabs swaps the whole archive list, used by retention
// pruning.
func (s *SQLite) ReplaceArchivedTabs(ctx context.Context, recs []ArchivedTab) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM archived_tabs"); err != nil {
		return fmt.Errorf("clear archived tabs: %w", err)
	}
	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO archived_tabs (id, url, title, fav_icon_url, archived_at, time_spent_ms)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.URL, rec.Title, rec.FavIconURL, rec.ArchivedAt.UnixMilli(), rec.TimeSpentMs); err != nil {
			return fmt.Errorf("insert archived tab: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	s.notify(NamespaceLocal, KeyArchivedTabs)
	return nil
}

// DeleteArchivedTab removes one record, used by archive restore.
func (s *SQLite) DeleteArchivedTab(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM archived_tabs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete archived tab: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notify(NamespaceLocal, KeyArchivedTabs)
	return nil
}

// DailyStats returns the stored counters; a missing record decodes as the
// zero value, which callers roll over to the current date.
func (s *SQLite) DailyStats(ctx context.Context) (DailyStats, error) {
	raw, ok, err := s.kvGet(ctx, NamespaceLocal, KeyDailyStats)
	if err != nil || !ok {
		return DailyStats{}, err
	}
	var stats DailyStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return DailyStats{}, nil
	}
	return stats, nil
}

// SaveDailyStats persists the counters.
func (s *SQLite) SaveDailyStats(ctx context.Context, stats DailyStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode daily stats: %w", err)
	}
	return s.kvSet(ctx, NamespaceLocal, KeyDailyStats, raw)
}

// PreviousTabID returns the persisted previously-active tab id.
func (s *SQLite) PreviousTabID(ctx context.Context) (int, bool, error) {
	raw, ok, err := s.kvGet(ctx, NamespaceLocal, KeyPreviousTabID)
	if err != nil || !ok {
		return 0, false, err
	}
	id, convErr := strconv.Atoi(string(raw))
	if convErr != nil {
		return 0, false, nil
	}
	return id, true, nil
}

// SetPreviousTabID persists the previously-active tab id.
func (s *SQLite) SetPreviousTabID(ctx context.Context, id int) error {
	return s.kvSet(ctx, NamespaceLocal, KeyPreviousTabID, []byte(strconv.Itoa(id)))
}
