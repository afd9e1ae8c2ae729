package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tabpal/tabpal/internal/rules"
	"github.com/tabpal/tabpal/internal/state"
)

// Namespaces mirror the two persistence scopes: Sync is the small
// cross-device scope holding settings and rules, Local is the larger
// device-only scope holding everything else.
const (
	NamespaceSync  = "sync"
	NamespaceLocal = "local"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrRuleBlocked is returned when a toggle is refused because the
	// rule carries a blockedReason lock.
	ErrRuleBlocked = errors.New("store: rule is blocked and cannot be toggled")

	errEmptyWorkspaceName = errors.New("workspace name cannot be empty")
)

// Change describes a completed write, delivered to subscribers.
type Change struct {
	Namespace string
	Key       string
}

// Well-known change keys.
const (
	KeySettings      = "settings"
	KeyRules         = "rules"
	KeyWorkspaces    = "workspaces"
	KeyArchivedTabs  = "archivedTabs"
	KeyDailyStats    = "dailyStats"
	KeyPreviousTabID = "previousTabId"
)

// TabGroupRecord is the durable mirror of one live tab group.
type TabGroupRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	Collapsed bool      `json:"collapsed"`
	TabIDs    []int     `json:"tabIds"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GroupRecordID derives the stored identifier for a live group id. The
// stored id is only valid while that live group exists.
func GroupRecordID(liveID int) string {
	return fmt.Sprintf("g_%d", liveID)
}

// Workspace is the durable snapshot of one tab group plus its member
// tabs. Its natural key for reconciliation is Name, not ID, because live
// group identifiers are recycled across browser sessions while names
// persist.
type Workspace struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Groups    []TabGroupRecord `json:"groups"`
	Tabs      []state.Tab      `json:"tabs"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// ArchivedTab records a closed tab's metadata. Records are append-only
// and pruned by retention cleanup, never updated in place.
type ArchivedTab struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	FavIconURL  string    `json:"favIconUrl,omitempty"`
	ArchivedAt  time.Time `json:"archivedAt"`
	TimeSpentMs int64     `json:"timeSpentMs"`
}

// DailyStats counts tab churn for one calendar date.
type DailyStats struct {
	Date       string `json:"date"`
	TabsOpened int    `json:"tabsOpened"`
	TabsClosed int    `json:"tabsClosed"`
}

// StatsDate formats a timestamp as the date key used by DailyStats.
func StatsDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// Store is the persistence capability consumed by the policies. Reads
// that fail should be degraded by callers to empty collections; the store
// itself never papers over errors.
type Store interface {
	Settings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error

	Rules(ctx context.Context) ([]rules.TabRule, error)
	SaveRule(ctx context.Context, r rules.TabRule) (rules.TabRule, error)
	DeleteRule(ctx context.Context, id string) error
	// SetRuleEnabled toggles a rule's enabled flag. It fails with
	// ErrRuleBlocked while the rule carries a blockedReason.
	SetRuleEnabled(ctx context.Context, id string, enabled bool) error

	Workspaces(ctx context.Context) ([]Workspace, error)
	// SaveWorkspaceByName upserts keyed by Name: a name match updates in
	// place preserving ID and CreatedAt, otherwise the workspace is
	// appended with a fresh identity.
	SaveWorkspaceByName(ctx context.Context, ws Workspace) (Workspace, error)
	DeleteWorkspace(ctx context.Context, id string) error

	ArchivedTabs(ctx context.Context) ([]ArchivedTab, error)
	AppendArchivedTab(ctx context.Context, rec ArchivedTab) error
	ReplaceArchivedTabs(ctx context.Context, recs []ArchivedTab) error
	DeleteArchivedTab(ctx context.Context, id int64) error

	DailyStats(ctx context.Context) (DailyStats, error)
	SaveDailyStats(ctx context.Context, stats DailyStats) error

	PreviousTabID(ctx context.Context) (int, bool, error)
	SetPreviousTabID(ctx context.Context, id int) error

	// Subscribe registers a change callback invoked after every write.
	// Callbacks run synchronously on the writer's goroutine and may read
	// from the store, but must not write to it.
	Subscribe(fn func(Change))

	Close() error
}
