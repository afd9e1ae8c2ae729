package sched

import (
	"testing"
	"time"

	"github.com/tabpal/tabpal/internal/logger"
)

func TestOnceFiresAndDisarms(t *testing.T) {
	s := New(logger.NewNop())
	defer s.Clear()

	s.Once("cleanup", 10*time.Millisecond)
	if !s.Armed("cleanup") {
		t.Fatal("timer should be armed after Once")
	}

	select {
	case f := <-s.Firings():
		if f.Name != "cleanup" {
			t.Fatalf("fired %q, want cleanup", f.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot never fired")
	}
	if s.Armed("cleanup") {
		t.Fatal("one-shot must disarm after firing")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	s := New(logger.NewNop())
	defer s.Clear()

	s.Once("cleanup", 50*time.Millisecond)
	s.Cancel("cleanup")
	if s.Armed("cleanup") {
		t.Fatal("cancel should disarm")
	}

	select {
	case f := <-s.Firings():
		t.Fatalf("cancelled timer fired: %v", f)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRearmReplacesTimer(t *testing.T) {
	s := New(logger.NewNop())
	defer s.Clear()

	// The first arming would fire almost immediately; re-arming pushes
	// the deadline out, so nothing may arrive in the near term.
	s.Once("cleanup", 5*time.Millisecond)
	s.Once("cleanup", time.Hour)

	select {
	case f := <-s.Firings():
		t.Fatalf("replaced timer fired: %v", f)
	case <-time.After(100 * time.Millisecond):
	}
	if !s.Armed("cleanup") {
		t.Fatal("replacement timer should still be armed")
	}
}

func TestClearDisarmsEverything(t *testing.T) {
	s := New(logger.NewNop())

	s.Once("a", time.Hour)
	s.Every("b", time.Hour)
	s.Clear()

	if s.Armed("a") || s.Armed("b") {
		t.Fatal("clear should disarm every timer")
	}
}

func TestEveryClampsPeriod(t *testing.T) {
	s := New(logger.NewNop())
	defer s.Clear()

	// A sub-minimum period is clamped, so nothing fires quickly.
	s.Every("poll", time.Millisecond)

	select {
	case f := <-s.Firings():
		t.Fatalf("clamped timer fired early: %v", f)
	case <-time.After(100 * time.Millisecond):
	}
	if !s.Armed("poll") {
		t.Fatal("periodic timer stays armed")
	}
}
