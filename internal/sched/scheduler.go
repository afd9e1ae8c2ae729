// Package sched provides named software timers with a single delivery
// channel, standing in for the browser's alarm facility.
package sched

import (
	"sync"
	"time"

	"github.com/tabpal/tabpal/internal/logger"
)

// MinPeriod is the floor for periodic timers. Finer periods add churn
// without improving any policy's behavior.
const MinPeriod = time.Minute

// Firing reports that a named timer elapsed.
type Firing struct {
	Name string
	At   time.Time
}

type entry struct {
	timer  *time.Timer
	period time.Duration // zero for one-shots
}

// Scheduler owns a set of named timers. At most one timer exists per
// name; arming a name again replaces the previous timer.
type Scheduler struct {
	log logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
	firings chan Firing
}

// New returns an empty scheduler.
func New(log logger.Logger) *Scheduler {
	return &Scheduler{
		log:     log,
		entries: make(map[string]*entry),
		firings: make(chan Firing, 16),
	}
}

// Firings is the delivery channel for every timer the scheduler owns.
func (s *Scheduler) Firings() <-chan Firing {
	return s.firings
}

// Every arms a periodic timer. Periods below MinPeriod are clamped.
func (s *Scheduler) Every(name string, period time.Duration) {
	if period < MinPeriod {
		period = MinPeriod
	}
	s.arm(name, period, period)
}

// Once arms a one-shot timer. The delay is not clamped.
func (s *Scheduler) Once(name string, delay time.Duration) {
	s.arm(name, delay, 0)
}

func (s *Scheduler) arm(name string, delay, period time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[name]; ok {
		prev.timer.Stop()
	}
	e := &entry{period: period}
	e.timer = time.AfterFunc(delay, func() { s.fire(name) })
	s.entries[name] = e
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	if e.period > 0 {
		e.timer.Reset(e.period)
	} else {
		delete(s.entries, name)
	}
	s.mu.Unlock()

	select {
	case s.firings <- Firing{Name: name, At: time.Now()}:
	default:
		s.log.Warnf("dropping firing of %q: consumer is behind", name)
	}
}

// Cancel stops the named timer if armed.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	if e, ok := s.entries[name]; ok {
		e.timer.Stop()
		delete(s.entries, name)
	}
	s.mu.Unlock()
}

// Clear stops every timer. Used before re-arming after a settings
// change so stale periods never fire.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	for name, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, name)
	}
	s.mu.Unlock()
}

// Armed reports whether a timer exists under the name.
func (s *Scheduler) Armed(name string) bool {
	s.mu.Lock()
	_, ok := s.entries[name]
	s.mu.Unlock()
	return ok
}
