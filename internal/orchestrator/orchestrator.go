// Package orchestrator wires the event stream, the scheduler, and the
// policies into the running daemon.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tabpal/tabpal/internal/bridge"
	"github.com/tabpal/tabpal/internal/logger"
	"github.com/tabpal/tabpal/internal/policy"
	"github.com/tabpal/tabpal/internal/rules"
	"github.com/tabpal/tabpal/internal/sched"
	"github.com/tabpal/tabpal/internal/state"
	"github.com/tabpal/tabpal/internal/store"
	"github.com/tabpal/tabpal/internal/track"
	"github.com/tabpal/tabpal/internal/workspace"
)

// Timer names dispatched back to policies.
const (
	alarmAutoArchive  = "autoArchive"
	alarmMemoryCheck  = "memoryCheck"
	alarmDailyCleanup = "dailyCleanup"
)

const (
	// policyPeriod paces the periodic policies.
	policyPeriod = 5 * time.Minute
	// cleanupPeriod paces archive retention and stats reset.
	cleanupPeriod = 24 * time.Hour
	// attachSettleDelay lets the browser finish moving a tab between
	// windows before group timers are recomputed.
	attachSettleDelay = 150 * time.Millisecond
	// focusDebounce absorbs rapid window refocus storms.
	focusDebounce = 100 * time.Millisecond
	// reconnectDelay paces event stream reconnect attempts.
	reconnectDelay = 2 * time.Second
)

// Deps bundles everything the orchestrator drives.
type Deps struct {
	Backend    state.Backend
	Store      store.Store
	Settings   *store.SettingsCache
	Tracker    *track.Tracker
	Engine     *rules.Engine
	Duplicates *policy.DuplicateDetector
	Archiver   *policy.ArchiveManager
	Memory     *policy.MemorySaver
	Limiter    *policy.TabLimiter
	Collapser  *policy.Collapser
	Reconciler *workspace.Reconciler
	Scheduler  *sched.Scheduler
	// Subscribe opens the bridge event stream. Called again after the
	// stream drops so the daemon survives bridge restarts.
	Subscribe func(ctx context.Context) (<-chan bridge.Event, error)
	Log       logger.Logger
}

// Orchestrator is the daemon's top-level event loop. Each event or timer
// firing is dispatched through a lookup table to exactly one handler;
// handlers run to completion before the next is taken.
type Orchestrator struct {
	deps Deps
	log  logger.Logger

	handlers map[string]func(context.Context, bridge.Event)
	alarms   map[string]func(context.Context) error

	mu         sync.Mutex
	running    bool
	startedAt  time.Time
	focusTimer *time.Timer
}

// New builds an orchestrator. Run starts it.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{deps: deps, log: deps.Log}
	o.handlers = map[string]func(context.Context, bridge.Event){
		bridge.EventTabCreated:     o.onTabCreated,
		bridge.EventTabUpdated:     o.onTabUpdated,
		bridge.EventTabRemoved:     o.onTabRemoved,
		bridge.EventTabActivated:   o.onTabActivated,
		bridge.EventTabHighlighted: o.onTabHighlighted,
		bridge.EventTabAttached:    o.onTabAttached,
		bridge.EventTabDetached:    o.onTabDetached,
		bridge.EventWindowFocus:    o.onWindowFocus,
		bridge.EventGroupUpdated:   o.onGroupUpdated,
		bridge.EventGroupRemoved:   o.onGroupRemoved,
	}
	o.alarms = map[string]func(context.Context) error{
		alarmAutoArchive:  deps.Archiver.AutoArchiveInactiveTabs,
		alarmMemoryCheck:  deps.Memory.SuspendMemoryHeavyTabs,
		alarmDailyCleanup: deps.Archiver.PerformDailyCleanup,
	}
	return o
}

// Running reports whether the event loop is live.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// StartedAt returns when the event loop came up.
func (o *Orchestrator) StartedAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.startedAt
}

// PreviousTab returns the previously active tab, preferring the live
// tracker and falling back to the persisted id from an earlier run.
func (o *Orchestrator) PreviousTab(ctx context.Context) (int, bool, error) {
	if id, ok := o.deps.Tracker.PreviousTab(); ok {
		return id, true, nil
	}
	return o.deps.Store.PreviousTabID(ctx)
}

// Run starts the orchestrator and blocks until the context is cancelled.
// Startup is idempotent: a second Run on an already-running orchestrator
// returns immediately.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = true
	o.startedAt = time.Now()
	o.mu.Unlock()
	defer func() {
		o.deps.Scheduler.Clear()
		o.deps.Collapser.Shutdown()
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	o.deps.Store.Subscribe(func(ch store.Change) { o.onStoreChange(ctx, ch) })
	if err := o.deps.Reconciler.Reconcile(ctx); err != nil {
		o.log.Errorf("startup reconcile: %v", err)
	}
	o.armTimers(ctx)

	for {
		events, err := o.deps.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.log.Errorf("subscribe to event stream: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(reconnectDelay):
				continue
			}
		}
		o.log.Infof("event stream connected")
		o.pump(ctx, events)
		if ctx.Err() != nil {
			return nil
		}
		o.log.Warnf("event stream closed, reconnecting")
	}
}

func (o *Orchestrator) pump(ctx context.Context, events <-chan bridge.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.dispatchEvent(ctx, ev)
		case firing := <-o.deps.Scheduler.Firings():
			o.dispatchAlarm(ctx, firing.Name)
		}
	}
}

func (o *Orchestrator) dispatchEvent(ctx context.Context, ev bridge.Event) {
	handler, ok := o.handlers[ev.Kind]
	if !ok {
		o.log.Debugf("ignoring event %q", ev.Kind)
		return
	}
	handler(ctx, ev)
}

func (o *Orchestrator) dispatchAlarm(ctx context.Context, name string) {
	run, ok := o.alarms[name]
	if !ok {
		o.log.Warnf("no policy registered for timer %q", name)
		return
	}
	if err := run(ctx); err != nil {
		o.log.Errorf("timer %s: %v", name, err)
	}
}

// armTimers clears and recreates the periodic timers so a settings
// change never leaves a stale or duplicate schedule behind. The policies
// re-check their own enabled flags at fire time, so timers for disabled
// policies are simply not armed.
func (o *Orchestrator) armTimers(ctx context.Context) {
	o.deps.Scheduler.Clear()
	settings, err := o.deps.Settings.Get(ctx)
	if err != nil {
		o.log.Errorf("load settings: %v", err)
		settings = store.DefaultSettings()
	}
	if settings.AutoArchiveEnabled {
		o.deps.Scheduler.Every(alarmAutoArchive, policyPeriod)
	}
	if settings.MemorySaverEnabled {
		o.deps.Scheduler.Every(alarmMemoryCheck, policyPeriod)
	}
	o.deps.Scheduler.Every(alarmDailyCleanup, cleanupPeriod)
}

func (o *Orchestrator) onStoreChange(ctx context.Context, ch store.Change) {
	if ch.Key != store.KeySettings {
		return
	}
	o.deps.Settings.Invalidate()
	o.armTimers(ctx)
}

func (o *Orchestrator) onTabCreated(ctx context.Context, ev bridge.Event) {
	if ev.Tab == nil {
		return
	}
	o.deps.Tracker.Touch(ev.Tab.ID, time.Now())
	o.bumpStats(ctx, 1, 0)
	o.deps.Engine.ApplyRules(ctx, *ev.Tab)
	if err := o.deps.Limiter.EnforceTabLimits(ctx); err != nil {
		o.log.Errorf("enforce tab limits: %v", err)
	}
}

// onTabUpdated reacts only to loads reaching "complete", so rules do not
// fire on every intermediate navigation event. Group membership changes
// additionally refresh matching workspaces.
func (o *Orchestrator) onTabUpdated(ctx context.Context, ev bridge.Event) {
	if ev.Tab == nil {
		return
	}
	if ev.HasChanged("status") && ev.Tab.Status == "complete" {
		o.deps.Tracker.Touch(ev.Tab.ID, time.Now())
		o.deps.Engine.ApplyRules(ctx, *ev.Tab)
		if err := o.deps.Duplicates.CheckDuplicates(ctx, *ev.Tab); err != nil {
			o.log.Errorf("check duplicates: %v", err)
		}
	}
	if ev.HasChanged("groupId") {
		if err := o.deps.Reconciler.Reconcile(ctx); err != nil {
			o.log.Errorf("reconcile after regroup: %v", err)
		}
	}
}

func (o *Orchestrator) onTabRemoved(ctx context.Context, ev bridge.Event) {
	o.deps.Tracker.Remove(ev.TabID)
	o.bumpStats(ctx, 0, 1)
}

func (o *Orchestrator) onTabActivated(ctx context.Context, ev bridge.Event) {
	o.deps.Tracker.Activate(ev.TabID, time.Now())
	if prev, ok := o.deps.Tracker.PreviousTab(); ok {
		if err := o.deps.Store.SetPreviousTabID(ctx, prev); err != nil {
			o.log.Warnf("persist previous tab: %v", err)
		}
	}
	tab, err := o.deps.Backend.GetTab(ctx, ev.TabID)
	if err != nil {
		if !errors.Is(err, bridge.ErrNotFound) {
			o.log.Errorf("load activated tab %d: %v", ev.TabID, err)
		}
		return
	}
	if err := o.deps.Collapser.HandleActiveGroup(ctx, tab.WindowID, tab.GroupID); err != nil {
		o.log.Errorf("collapse bookkeeping: %v", err)
	}
}

// onTabHighlighted covers same-tab reactivation, which is not reported
// as an activation.
func (o *Orchestrator) onTabHighlighted(ctx context.Context, ev bridge.Event) {
	o.deps.Tracker.Touch(ev.TabID, time.Now())
	if err := o.deps.Collapser.Recompute(ctx, ev.WindowID); err != nil {
		o.log.Errorf("collapse bookkeeping: %v", err)
	}
}

func (o *Orchestrator) onTabAttached(ctx context.Context, ev bridge.Event) {
	windowID := ev.WindowID
	time.AfterFunc(attachSettleDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := o.deps.Collapser.Recompute(ctx, windowID); err != nil {
			o.log.Errorf("collapse bookkeeping: %v", err)
		}
	})
}

// onTabDetached recomputes for the window the tab left, whose active tab
// and group layout just changed.
func (o *Orchestrator) onTabDetached(ctx context.Context, ev bridge.Event) {
	if err := o.deps.Collapser.Recompute(ctx, ev.WindowID); err != nil {
		o.log.Errorf("collapse bookkeeping: %v", err)
	}
}

func (o *Orchestrator) onWindowFocus(ctx context.Context, ev bridge.Event) {
	if ev.WindowID < 0 {
		return
	}
	windowID := ev.WindowID
	o.mu.Lock()
	if o.focusTimer != nil {
		o.focusTimer.Stop()
	}
	o.focusTimer = time.AfterFunc(focusDebounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := o.deps.Collapser.Recompute(ctx, windowID); err != nil {
			o.log.Errorf("collapse bookkeeping: %v", err)
		}
	})
	o.mu.Unlock()
}

func (o *Orchestrator) onGroupUpdated(ctx context.Context, ev bridge.Event) {
	if err := o.deps.Reconciler.Reconcile(ctx); err != nil {
		o.log.Errorf("reconcile after group update: %v", err)
	}
}

func (o *Orchestrator) onGroupRemoved(ctx context.Context, ev bridge.Event) {
	o.deps.Collapser.CancelGroup(ev.GroupID)
}

// bumpStats applies the lazy day rollover before counting: a stored date
// that is not today starts the counters over.
func (o *Orchestrator) bumpStats(ctx context.Context, opened, closed int) {
	stats, err := o.deps.Store.DailyStats(ctx)
	if err != nil {
		o.log.Warnf("load daily stats: %v", err)
		return
	}
	today := store.StatsDate(time.Now())
	if stats.Date != today {
		stats = store.DailyStats{Date: today}
	}
	stats.TabsOpened += opened
	stats.TabsClosed += closed
	if err := o.deps.Store.SaveDailyStats(ctx, stats); err != nil {
		o.log.Warnf("save daily stats: %v", err)
	}
}
