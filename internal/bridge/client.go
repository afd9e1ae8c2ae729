package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/tabpal/tabpal/internal/state"
)

// ErrNotFound is returned when the bridge reports that the addressed tab or
// group no longer exists. Callers treat it as a soft failure.
var ErrNotFound = errors.New("bridge: target not found")

const defaultTimeout = 3 * time.Second

// Client talks to the browser-extension bridge over its command socket.
// Each request opens a fresh connection and exchanges a single JSON
// document per direction.
type Client struct {
	socketPath string
}

type request struct {
	Op     string `json:"op"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	Status string          `json:"status"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewClient creates a bridge client. With path empty the default runtime
// socket location is used.
func NewClient(path string) (*Client, error) {
	if path == "" {
		var err error
		path, err = CommandSocketPath()
		if err != nil {
			return nil, err
		}
	}
	return &Client{socketPath: path}, nil
}

// CommandSocketPath returns the expected location of the bridge command socket.
func CommandSocketPath() (string, error) {
	if env := os.Getenv("TABPAL_BRIDGE_SOCKET"); env != "" {
		return env, nil
	}
	return runtimePath("bridge.sock")
}

// EventSocketPath returns the expected location of the bridge event socket.
func EventSocketPath() (string, error) {
	if env := os.Getenv("TABPAL_EVENT_SOCKET"); env != "" {
		return env, nil
	}
	return runtimePath("events.sock")
}

func runtimePath(name string) (string, error) {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return "", fmt.Errorf("XDG_RUNTIME_DIR not set")
	}
	return filepath.Join(runtimeDir, "tabpal", name), nil
}

func (c *Client) do(ctx context.Context, op string, params any, out any) error {
	dialer := net.Dialer{}
	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	conn, err := dialer.DialContext(dialCtx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("connect bridge socket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(request{Op: op, Params: params}); err != nil {
		return fmt.Errorf("send %s: %w", op, err)
	}
	var resp response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	if resp.Status != "ok" {
		if resp.Code == "not_found" {
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return fmt.Errorf("%s: %s", op, resp.Error)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode %s data: %w", op, err)
		}
	}
	return nil
}

// QueryTabs lists open tabs matching the query.
func (c *Client) QueryTabs(ctx context.Context, q state.TabQuery) ([]state.Tab, error) {
	var tabs []state.Tab
	if err := c.do(ctx, "tabs.query", q, &tabs); err != nil {
		return nil, err
	}
	return tabs, nil
}

// GetTab fetches a single tab by id.
func (c *Client) GetTab(ctx context.Context, id int) (state.Tab, error) {
	var tab state.Tab
	if err := c.do(ctx, "tabs.get", map[string]any{"id": id}, &tab); err != nil {
		return state.Tab{}, err
	}
	return tab, nil
}

// CreateTab opens a new tab.
func (c *Client) CreateTab(ctx context.Context, req state.CreateTab) (state.Tab, error) {
	var tab state.Tab
	if err := c.do(ctx, "tabs.create", req, &tab); err != nil {
		return state.Tab{}, err
	}
	return tab, nil
}

// UpdateTab applies a partial mutation to a tab.
func (c *Client) UpdateTab(ctx context.Context, id int, u state.TabUpdate) error {
	return c.do(ctx, "tabs.update", map[string]any{"id": id, "update": u}, nil)
}

// RemoveTab closes a tab.
func (c *Client) RemoveTab(ctx context.Context, id int) error {
	return c.do(ctx, "tabs.remove", map[string]any{"id": id}, nil)
}

// DiscardTab unloads a tab from memory, keeping its tab-strip entry.
func (c *Client) DiscardTab(ctx context.Context, id int) error {
	return c.do(ctx, "tabs.discard", map[string]any{"id": id}, nil)
}

// GroupTabs adds tabs to a group, creating one when groupID is
// state.GroupNone, and returns the resulting group id.
func (c *Client) GroupTabs(ctx context.Context, groupID int, tabIDs []int) (int, error) {
	params := map[string]any{"tabIds": tabIDs}
	if groupID != state.GroupNone {
		params["groupId"] = groupID
	}
	var result struct {
		GroupID int `json:"groupId"`
	}
	if err := c.do(ctx, "tabs.group", params, &result); err != nil {
		return state.GroupNone, err
	}
	return result.GroupID, nil
}

// UngroupTabs removes tabs from their groups.
func (c *Client) UngroupTabs(ctx context.Context, tabIDs []int) error {
	return c.do(ctx, "tabs.ungroup", map[string]any{"tabIds": tabIDs}, nil)
}

// QueryGroups lists tab groups matching the query.
func (c *Client) QueryGroups(ctx context.Context, q state.GroupQuery) ([]state.TabGroup, error) {
	var groups []state.TabGroup
	if err := c.do(ctx, "groups.query", q, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// GetGroup fetches a single group by id.
func (c *Client) GetGroup(ctx context.Context, id int) (state.TabGroup, error) {
	var group state.TabGroup
	if err := c.do(ctx, "groups.get", map[string]any{"id": id}, &group); err != nil {
		return state.TabGroup{}, err
	}
	return group, nil
}

// UpdateGroup applies a partial mutation to a group.
func (c *Client) UpdateGroup(ctx context.Context, id int, u state.GroupUpdate) error {
	return c.do(ctx, "groups.update", map[string]any{"id": id, "update": u}, nil)
}
