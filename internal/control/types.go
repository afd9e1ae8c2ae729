package control

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/tabpal/tabpal/internal/store"
)

const (
	// SocketFileName is the filename of the control socket within the runtime dir.
	SocketFileName = "control.sock"

	// Action names supported by the control protocol.
	ActionStatusGet        = "status.get"
	ActionRulesList        = "rules.list"
	ActionRuleEnable       = "rule.enable"
	ActionRuleDisable      = "rule.disable"
	ActionRulesApply       = "rules.apply"
	ActionPreviousTabGet   = "previoustab.get"
	ActionWorkspacesList   = "workspaces.list"
	ActionWorkspaceSave    = "workspace.save"
	ActionWorkspaceUnsave  = "workspace.unsave"
	ActionWorkspaceRestore = "workspace.restore"
	ActionArchiveList      = "archive.list"
	ActionArchiveRestore   = "archive.restore"
	ActionMetricsGet       = "metrics.get"
	ActionReload           = "reload"
	ActionWatch            = "watch"

	// Response statuses.
	StatusOK    = "ok"
	StatusError = "error"
)

// Request represents a control API request.
type Request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Response represents a control API response.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Notification is one line of the watch stream.
type Notification struct {
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}

// Watch stream event names.
const (
	EventRulesUpdated      = "rulesUpdated"
	EventSettingsUpdated   = "settingsUpdated"
	EventWorkspacesUpdated = "workspacesUpdated"
)

// StatusInfo summarizes the daemon for status.get.
type StatusInfo struct {
	Running bool             `json:"running"`
	Since   time.Time        `json:"since,omitempty"`
	Tabs    int              `json:"tabs"`
	Groups  int              `json:"groups"`
	Stats   store.DailyStats `json:"stats"`
}

// PreviousTab is the previoustab.get payload.
type PreviousTab struct {
	TabID int  `json:"tabId"`
	Known bool `json:"known"`
}

// DefaultSocketPath returns the expected location of the tabpal control socket.
func DefaultSocketPath() (string, error) {
	if env := os.Getenv("TABPAL_CONTROL_SOCKET"); env != "" {
		return env, nil
	}
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		base = os.TempDir()
		if base == "" {
			return "", errors.New("no runtime directory available")
		}
	}
	return filepath.Join(base, "tabpal", SocketFileName), nil
}
