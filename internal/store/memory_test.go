package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabpal/tabpal/internal/rules"
)

func validRule(name string) rules.TabRule {
	return rules.TabRule{
		Name:    name,
		Enabled: true,
		Conditions: []rules.Condition{
			{Type: rules.ConditionDomain, Operator: rules.OpEquals, Pattern: "example.com"},
		},
		Actions: []rules.Action{{Type: rules.ActionPin}},
	}
}

func TestSettingsMergeOverDefaults(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	s, err := m.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s, "empty store yields defaults")

	s.MaxOpenTabs = 10
	require.NoError(t, m.SaveSettings(ctx, s))
	got, err := m.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, got.MaxOpenTabs)
	assert.Equal(t, DefaultSettings().AutoArchiveMinutes, got.AutoArchiveMinutes)
}

func TestMergeSettingsPartialDocument(t *testing.T) {
	got, err := mergeSettings([]byte(`{"maxOpenTabs": 7}`))
	require.NoError(t, err)
	assert.Equal(t, 7, got.MaxOpenTabs)
	assert.Equal(t, "system", got.Theme, "absent fields keep defaults")
}

func TestSaveRuleAssignsIdentity(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	saved, err := m.SaveRule(ctx, validRule("pin example"))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())

	saved.Name = "renamed"
	updated, err := m.SaveRule(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID)

	list, err := m.Rules(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "renamed", list[0].Name)
}

func TestSaveRuleRejectsInvalid(t *testing.T) {
	m := NewMemory()
	bad := validRule("no conditions")
	bad.Conditions = nil
	_, err := m.SaveRule(context.Background(), bad)
	assert.Error(t, err)
}

func TestSetRuleEnabledRefusesBlockedRule(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	r := validRule("locked")
	r.BlockedReason = "managed by policy"
	saved, err := m.SaveRule(ctx, r)
	require.NoError(t, err)

	err = m.SetRuleEnabled(ctx, saved.ID, false)
	assert.ErrorIs(t, err, ErrRuleBlocked)

	list, _ := m.Rules(ctx)
	assert.True(t, list[0].Enabled, "blocked rule keeps its enabled value")

	assert.ErrorIs(t, m.SetRuleEnabled(ctx, "missing", true), ErrNotFound)
}

func TestWorkspaceUpsertByNameIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.SaveWorkspaceByName(ctx, Workspace{Name: "Research"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := m.SaveWorkspaceByName(ctx, Workspace{Name: "Research"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same name updates in place")
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	list, err := m.Workspaces(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = m.SaveWorkspaceByName(ctx, Workspace{Name: "Other"})
	require.NoError(t, err)
	list, _ = m.Workspaces(ctx)
	assert.Len(t, list, 2, "new name appends")

	_, err = m.SaveWorkspaceByName(ctx, Workspace{})
	assert.Error(t, err, "empty name refused")
}

func TestArchivedTabLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.AppendArchivedTab(ctx, ArchivedTab{URL: "https://a.test"}))
	require.NoError(t, m.AppendArchivedTab(ctx, ArchivedTab{URL: "https://b.test"}))

	recs, err := m.ArchivedTabs(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)

	require.NoError(t, m.DeleteArchivedTab(ctx, recs[0].ID))
	recs, _ = m.ArchivedTabs(ctx)
	require.Len(t, recs, 1)
	assert.Equal(t, "https://b.test", recs[0].URL)

	require.NoError(t, m.ReplaceArchivedTabs(ctx, nil))
	recs, _ = m.ArchivedTabs(ctx)
	assert.Empty(t, recs)

	assert.ErrorIs(t, m.DeleteArchivedTab(ctx, 42), ErrNotFound)
}

func TestPreviousTabRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, known, err := m.PreviousTabID(ctx)
	require.NoError(t, err)
	assert.False(t, known)

	require.NoError(t, m.SetPreviousTabID(ctx, 17))
	id, known, err := m.PreviousTabID(ctx)
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, 17, id)
}

func TestSubscribeDeliversChanges(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var changes []Change
	m.Subscribe(func(ch Change) { changes = append(changes, ch) })

	require.NoError(t, m.SaveSettings(ctx, DefaultSettings()))
	_, err := m.SaveRule(ctx, validRule("r"))
	require.NoError(t, err)

	require.Len(t, changes, 2)
	assert.Equal(t, Change{Namespace: NamespaceSync, Key: KeySettings}, changes[0])
	assert.Equal(t, Change{Namespace: NamespaceSync, Key: KeyRules}, changes[1])
}
