package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/tabpal/tabpal/internal/logger"
	"github.com/tabpal/tabpal/internal/state"
)

// Event kinds delivered by the bridge event stream.
const (
	EventTabCreated     = "tab.created"
	EventTabUpdated     = "tab.updated"
	EventTabRemoved     = "tab.removed"
	EventTabActivated   = "tab.activated"
	EventTabHighlighted = "tab.highlighted"
	EventTabAttached    = "tab.attached"
	EventTabDetached    = "tab.detached"
	EventWindowFocus    = "window.focus"
	EventGroupUpdated   = "group.updated"
	EventGroupRemoved   = "group.removed"
)

// Event is one browser notification from the bridge. Which fields are set
// depends on the kind: tab.* events carry Tab (except tab.removed, which
// carries only TabID/WindowID), group.* events carry Group or GroupID.
type Event struct {
	Kind     string          `json:"kind"`
	Tab      *state.Tab      `json:"tab,omitempty"`
	Group    *state.TabGroup `json:"group,omitempty"`
	TabID    int             `json:"tabId,omitempty"`
	GroupID  int             `json:"groupId,omitempty"`
	WindowID int             `json:"windowId,omitempty"`
	Changed  []string        `json:"changed,omitempty"`
}

// HasChanged reports whether the event's change set names the given property.
func (e Event) HasChanged(property string) bool {
	for _, c := range e.Changed {
		if c == property {
			return true
		}
	}
	return false
}

// Subscribe connects to the bridge event socket and streams events until
// context cancellation. Each line on the socket is one JSON event.
func Subscribe(ctx context.Context, log logger.Logger) (<-chan Event, error) {
	socket, err := EventSocketPath()
	if err != nil {
		return nil, err
	}
	return SubscribePath(ctx, log, socket)
}

// SubscribePath is Subscribe with an explicit socket path.
func SubscribePath(ctx context.Context, log logger.Logger, socket string) (<-chan Event, error) {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("connect event socket: %w", err)
	}
	events := make(chan Event)
	go func() {
		defer close(events)
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				log.Warnf("malformed bridge event: %v", err)
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warnf("event stream error: %v", err)
		}
	}()
	return events, nil
}
