// Package client talks to a running tabpal daemon over its control
// socket.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/tabpal/tabpal/internal/control"
	"github.com/tabpal/tabpal/internal/metrics"
	"github.com/tabpal/tabpal/internal/rules"
	"github.com/tabpal/tabpal/internal/state"
	"github.com/tabpal/tabpal/internal/store"
)

// defaultTimeout is used when the caller does not provide a context deadline.
const defaultTimeout = 3 * time.Second

// Client issues control requests to the daemon.
type Client struct {
	socketPath string
}

// New creates a client for the provided socket path. When path is empty
// the default runtime path is used.
func New(path string) (*Client, error) {
	if path == "" {
		var err error
		path, err = control.DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	return &Client{socketPath: path}, nil
}

// Status retrieves the daemon summary.
func (c *Client) Status(ctx context.Context) (control.StatusInfo, error) {
	var info control.StatusInfo
	if err := c.do(ctx, control.Request{Action: control.ActionStatusGet}, &info); err != nil {
		return control.StatusInfo{}, err
	}
	return info, nil
}

// Rules lists all stored rules in user order.
func (c *Client) Rules(ctx context.Context) ([]rules.TabRule, error) {
	var list []rules.TabRule
	if err := c.do(ctx, control.Request{Action: control.ActionRulesList}, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// EnableRule turns a rule on.
func (c *Client) EnableRule(ctx context.Context, id string) error {
	return c.toggleRule(ctx, control.ActionRuleEnable, id)
}

// DisableRule turns a rule off.
func (c *Client) DisableRule(ctx context.Context, id string) error {
	return c.toggleRule(ctx, control.ActionRuleDisable, id)
}

func (c *Client) toggleRule(ctx context.Context, action, id string) error {
	if id == "" {
		return errors.New("rule id cannot be empty")
	}
	return c.do(ctx, control.Request{Action: action, Params: map[string]any{"id": id}}, nil)
}

// ApplyRules previews the rules that would fire for a tab without
// executing anything.
func (c *Client) ApplyRules(ctx context.Context, tabID int) ([]rules.TabRule, error) {
	var matched []rules.TabRule
	req := control.Request{Action: control.ActionRulesApply, Params: map[string]any{"tabId": tabID}}
	if err := c.do(ctx, req, &matched); err != nil {
		return nil, err
	}
	return matched, nil
}

// PreviousTab retrieves the previously active tab id.
func (c *Client) PreviousTab(ctx context.Context) (control.PreviousTab, error) {
	var prev control.PreviousTab
	if err := c.do(ctx, control.Request{Action: control.ActionPreviousTabGet}, &prev); err != nil {
		return control.PreviousTab{}, err
	}
	return prev, nil
}

// Workspaces lists the saved workspaces.
func (c *Client) Workspaces(ctx context.Context) ([]store.Workspace, error) {
	var list []store.Workspace
	if err := c.do(ctx, control.Request{Action: control.ActionWorkspacesList}, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SaveWorkspace snapshots a live group as a workspace.
func (c *Client) SaveWorkspace(ctx context.Context, groupID int) (store.Workspace, error) {
	var ws store.Workspace
	req := control.Request{Action: control.ActionWorkspaceSave, Params: map[string]any{"groupId": groupID}}
	if err := c.do(ctx, req, &ws); err != nil {
		return store.Workspace{}, err
	}
	return ws, nil
}

// UnsaveWorkspace deletes a saved workspace.
func (c *Client) UnsaveWorkspace(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("workspace id cannot be empty")
	}
	return c.do(ctx, control.Request{Action: control.ActionWorkspaceUnsave, Params: map[string]any{"id": id}}, nil)
}

// RestoreWorkspace reopens a saved workspace as a fresh group.
func (c *Client) RestoreWorkspace(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("workspace id cannot be empty")
	}
	return c.do(ctx, control.Request{Action: control.ActionWorkspaceRestore, Params: map[string]any{"id": id}}, nil)
}

// Archive lists the archived tab records.
func (c *Client) Archive(ctx context.Context) ([]store.ArchivedTab, error) {
	var recs []store.ArchivedTab
	if err := c.do(ctx, control.Request{Action: control.ActionArchiveList}, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// RestoreArchived reopens one archived record as a tab.
func (c *Client) RestoreArchived(ctx context.Context, id int64) (state.Tab, error) {
	var tab state.Tab
	req := control.Request{Action: control.ActionArchiveRestore, Params: map[string]any{"id": id}}
	if err := c.do(ctx, req, &tab); err != nil {
		return state.Tab{}, err
	}
	return tab, nil
}

// Metrics retrieves the daemon's counters.
func (c *Client) Metrics(ctx context.Context) (metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, control.Request{Action: control.ActionMetricsGet}, &snap); err != nil {
		return metrics.Snapshot{}, err
	}
	return snap, nil
}

// Reload asks the daemon to reload its configuration.
func (c *Client) Reload(ctx context.Context) error {
	return c.do(ctx, control.Request{Action: control.ActionReload}, nil)
}

// Watch streams change notifications, invoking fn for each one until the
// context is cancelled or the connection drops.
func (c *Client) Watch(ctx context.Context, fn func(control.Notification)) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial control socket: %w", err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := json.NewEncoder(conn).Encode(control.Request{Action: control.ActionWatch}); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("watch stream closed before acknowledgement")
	}
	var resp control.Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("decode acknowledgement: %w", err)
	}
	if resp.Status != control.StatusOK {
		return errors.New(resp.Error)
	}
	for scanner.Scan() {
		var n control.Notification
		if err := json.Unmarshal(scanner.Bytes(), &n); err != nil {
			return fmt.Errorf("decode notification: %w", err)
		}
		fn(n)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return scanner.Err()
}

func (c *Client) do(ctx context.Context, req control.Request, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial control socket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var resp control.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != control.StatusOK {
		if resp.Error == "" {
			resp.Error = "unknown control error"
		}
		return errors.New(resp.Error)
	}
	if out == nil || resp.Data == nil {
		return nil
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
