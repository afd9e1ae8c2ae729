// Package control hosts the daemon's unix control socket, the surface
// tpctl talks to.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tabpal/tabpal/internal/logger"
	"github.com/tabpal/tabpal/internal/metrics"
	"github.com/tabpal/tabpal/internal/rules"
	"github.com/tabpal/tabpal/internal/state"
	"github.com/tabpal/tabpal/internal/store"
	"github.com/tabpal/tabpal/internal/workspace"
)

// Runtime is the slice of the orchestrator the control surface needs.
type Runtime interface {
	Running() bool
	StartedAt() time.Time
	PreviousTab(ctx context.Context) (int, bool, error)
}

// Server hosts the tabpal control socket and serves requests.
type Server struct {
	runtime    Runtime
	backend    state.Backend
	store      store.Store
	engine     *rules.Engine
	reconciler *workspace.Reconciler
	metrics    *metrics.Collector
	reload     func(reason string) error
	log        logger.Logger
	socketPath string

	mu       sync.Mutex
	listener net.Listener
	watchers map[chan Notification]struct{}
}

// NewServer creates a control server. When socketPath is empty the
// default runtime path is used.
func NewServer(runtime Runtime, backend state.Backend, st store.Store, engine *rules.Engine, reconciler *workspace.Reconciler, collector *metrics.Collector, reload func(reason string) error, log logger.Logger, socketPath string) (*Server, error) {
	if socketPath == "" {
		var err error
		socketPath, err = DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	s := &Server{
		runtime:    runtime,
		backend:    backend,
		store:      st,
		engine:     engine,
		reconciler: reconciler,
		metrics:    collector,
		reload:     reload,
		log:        log,
		socketPath: socketPath,
		watchers:   make(map[chan Notification]struct{}),
	}
	st.Subscribe(s.onStoreChange)
	return s, nil
}

func (s *Server) onStoreChange(ch store.Change) {
	var event string
	switch ch.Key {
	case store.KeyRules:
		event = EventRulesUpdated
	case store.KeySettings:
		event = EventSettingsUpdated
	case store.KeyWorkspaces:
		event = EventWorkspacesUpdated
	default:
		return
	}
	s.broadcast(Notification{Event: event, At: time.Now()})
}

func (s *Server) broadcast(n Notification) {
	s.mu.Lock()
	for ch := range s.watchers {
		select {
		case ch <- n:
		default:
		}
	}
	s.mu.Unlock()
}

// Serve listens on the control socket until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.prepareSocket(); err != nil {
		return err
	}
	s.log.Infof("control server listening on %s", s.socketPath)
	defer s.cleanup()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := s.accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			s.log.Errorf("control accept error: %v", err)
			continue
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) accept(ctx context.Context) (net.Conn, error) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return nil, context.Canceled
	}
	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

func (s *Server) prepareSocket() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

func (s *Server) cleanup() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warnf("remove control socket: %v", err)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.writeError(conn, fmt.Errorf("decode request: %w", err))
		return
	}
	switch req.Action {
	case ActionStatusGet:
		s.handleStatus(ctx, conn)
	case ActionRulesList:
		s.handleRulesList(ctx, conn)
	case ActionRuleEnable:
		s.handleRuleToggle(ctx, conn, req.Params, true)
	case ActionRuleDisable:
		s.handleRuleToggle(ctx, conn, req.Params, false)
	case ActionRulesApply:
		s.handleRulesApply(ctx, conn, req.Params)
	case ActionPreviousTabGet:
		s.handlePreviousTab(ctx, conn)
	case ActionWorkspacesList:
		s.handleWorkspacesList(ctx, conn)
	case ActionWorkspaceSave:
		s.handleWorkspaceSave(ctx, conn, req.Params)
	case ActionWorkspaceUnsave:
		s.handleWorkspaceUnsave(ctx, conn, req.Params)
	case ActionWorkspaceRestore:
		s.handleWorkspaceRestore(ctx, conn, req.Params)
	case ActionArchiveList:
		s.handleArchiveList(ctx, conn)
	case ActionArchiveRestore:
		s.handleArchiveRestore(ctx, conn, req.Params)
	case ActionMetricsGet:
		s.writeOK(conn, s.metrics.Snapshot())
	case ActionReload:
		s.handleReload(conn)
	case ActionWatch:
		s.handleWatch(ctx, conn)
	default:
		s.writeError(conn, fmt.Errorf("unknown action %q", req.Action))
	}
}

func (s *Server) handleStatus(ctx context.Context, conn net.Conn) {
	info := StatusInfo{Running: s.runtime.Running()}
	if info.Running {
		info.Since = s.runtime.StartedAt()
	}
	world, err := state.NewWorld(ctx, s.backend)
	if err != nil {
		s.log.Warnf("status snapshot: %v", err)
	} else {
		info.Tabs = len(world.Tabs)
		info.Groups = len(world.Groups)
	}
	stats, err := s.store.DailyStats(ctx)
	if err != nil {
		s.log.Warnf("status stats: %v", err)
	} else {
		info.Stats = stats
	}
	s.writeOK(conn, info)
}

func (s *Server) handleRulesList(ctx context.Context, conn net.Conn) {
	list, err := s.store.Rules(ctx)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, list)
}

func (s *Server) handleRuleToggle(ctx context.Context, conn net.Conn, params map[string]any, enabled bool) {
	id, _ := params["id"].(string)
	if id == "" {
		s.writeError(conn, errors.New("missing rule id"))
		return
	}
	if err := s.store.SetRuleEnabled(ctx, id, enabled); err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, nil)
}

// handleRulesApply previews the rules that would fire for a tab without
// executing any action.
func (s *Server) handleRulesApply(ctx context.Context, conn net.Conn, params map[string]any) {
	tabID, ok := intParam(params, "tabId")
	if !ok {
		s.writeError(conn, errors.New("missing tabId"))
		return
	}
	tab, err := s.backend.GetTab(ctx, tabID)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	matched, err := s.engine.MatchingRules(ctx, tab)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, matched)
}

func (s *Server) handlePreviousTab(ctx context.Context, conn net.Conn) {
	id, known, err := s.runtime.PreviousTab(ctx)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, PreviousTab{TabID: id, Known: known})
}

func (s *Server) handleWorkspacesList(ctx context.Context, conn net.Conn) {
	list, err := s.store.Workspaces(ctx)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, list)
}

func (s *Server) handleWorkspaceSave(ctx context.Context, conn net.Conn, params map[string]any) {
	groupID, ok := intParam(params, "groupId")
	if !ok {
		s.writeError(conn, errors.New("missing groupId"))
		return
	}
	ws, err := s.reconciler.SaveGroup(ctx, groupID)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, ws)
}

func (s *Server) handleWorkspaceUnsave(ctx context.Context, conn net.Conn, params map[string]any) {
	id, _ := params["id"].(string)
	if id == "" {
		s.writeError(conn, errors.New("missing workspace id"))
		return
	}
	if err := s.store.DeleteWorkspace(ctx, id); err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, nil)
}

func (s *Server) handleWorkspaceRestore(ctx context.Context, conn net.Conn, params map[string]any) {
	id, _ := params["id"].(string)
	if id == "" {
		s.writeError(conn, errors.New("missing workspace id"))
		return
	}
	if err := s.reconciler.Restore(ctx, id); err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, nil)
}

func (s *Server) handleArchiveList(ctx context.Context, conn net.Conn) {
	recs, err := s.store.ArchivedTabs(ctx)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, recs)
}

// handleArchiveRestore reopens one archived record as a tab and drops it
// from the archive.
func (s *Server) handleArchiveRestore(ctx context.Context, conn net.Conn, params map[string]any) {
	id, ok := intParam(params, "id")
	if !ok {
		s.writeError(conn, errors.New("missing archive id"))
		return
	}
	recs, err := s.store.ArchivedTabs(ctx)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	var rec *store.ArchivedTab
	for i := range recs {
		if recs[i].ID == int64(id) {
			rec = &recs[i]
			break
		}
	}
	if rec == nil {
		s.writeError(conn, store.ErrNotFound)
		return
	}
	tab, err := s.backend.CreateTab(ctx, state.CreateTab{URL: rec.URL, Active: true})
	if err != nil {
		s.writeError(conn, err)
		return
	}
	if err := s.store.DeleteArchivedTab(ctx, rec.ID); err != nil {
		s.log.Warnf("drop restored archive record %d: %v", rec.ID, err)
	}
	s.writeOK(conn, tab)
}

func (s *Server) handleReload(conn net.Conn) {
	if s.reload == nil {
		s.writeError(conn, errors.New("reload not supported"))
		return
	}
	if err := s.reload("control request"); err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, nil)
}

// handleWatch streams store-change notifications as NDJSON until the
// client disconnects.
func (s *Server) handleWatch(ctx context.Context, conn net.Conn) {
	ch := make(chan Notification, 16)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.watchers, ch)
		s.mu.Unlock()
	}()

	enc := json.NewEncoder(conn)
	if err := enc.Encode(Response{Status: StatusOK}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ch:
			if err := enc.Encode(n); err != nil {
				return
			}
		}
	}
}

func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func (s *Server) writeOK(conn net.Conn, data any) {
	resp := Response{Status: StatusOK}
	if data != nil {
		resp.Data = data
	}
	_ = json.NewEncoder(conn).Encode(resp)
}

func (s *Server) writeError(conn net.Conn, err error) {
	resp := Response{Status: StatusError}
	if err != nil {
		resp.Error = err.Error()
	}
	_ = json.NewEncoder(conn).Encode(resp)
}
