package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marksync/marksync/internal/browser"
)

// countSyncStarts wires an event hook counting sync_started emissions.
func countSyncStarts(eng *Engine) *atomic.Int32 {
	var n atomic.Int32
	eng.SetEventHook(func(ev Event) {
		if ev.Kind == "sync_started" {
			n.Add(1)
		}
	})
	return &n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// TestRunDebouncesEventBurst verifies a burst of local events coalesces
// into a single sync after the debounce delay.
func TestRunDebouncesEventBurst(t *testing.T) {
	eng, _, local, _ := syncedFixture(t, sampleTree())
	eng.cfg.SyncOnStartup = false
	eng.cfg.DebounceDelay = 30 * time.Millisecond
	eng.cfg.PollInterval = time.Hour

	starts := countSyncStarts(eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()

	for i := 0; i < 3; i++ {
		local.events <- browser.Event{Op: browser.OpChange}
		time.Sleep(5 * time.Millisecond)
	}

	if !waitFor(t, time.Second, func() bool { return starts.Load() == 1 }) {
		t.Errorf("got %d syncs after an event burst, want 1", starts.Load())
	}

	// No further syncs without further events.
	time.Sleep(3 * eng.cfg.DebounceDelay)
	if starts.Load() != 1 {
		t.Errorf("got %d syncs total, want 1", starts.Load())
	}

	cancel()
	<-done
}

// TestRunIgnoresEventsWhileSuppressed verifies self-inflicted mutation
// events do not schedule a sync.
func TestRunIgnoresEventsWhileSuppressed(t *testing.T) {
	eng, _, local, _ := syncedFixture(t, sampleTree())
	eng.cfg.SyncOnStartup = false
	eng.cfg.DebounceDelay = 20 * time.Millisecond
	eng.cfg.PollInterval = time.Hour

	starts := countSyncStarts(eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()

	eng.suppress.Store(true)
	local.events <- browser.Event{Op: browser.OpChange}
	time.Sleep(4 * eng.cfg.DebounceDelay)
	eng.suppress.Store(false)

	if starts.Load() != 0 {
		t.Errorf("suppressed event triggered %d syncs", starts.Load())
	}

	cancel()
	<-done
}

// TestRunStartupSync verifies the sync-on-startup trigger.
func TestRunStartupSync(t *testing.T) {
	eng, _, _, _ := syncedFixture(t, sampleTree())
	eng.cfg.SyncOnStartup = true
	eng.cfg.PollInterval = time.Hour

	starts := countSyncStarts(eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()

	if !waitFor(t, time.Second, func() bool { return starts.Load() == 1 }) {
		t.Errorf("got %d startup syncs, want 1", starts.Load())
	}

	cancel()
	<-done
}

// TestAutoSyncSkipsWhileConflicted verifies the sticky conflict flag
// blocks trigger-initiated syncs until an explicit resolution.
func TestAutoSyncSkipsWhileConflicted(t *testing.T) {
	eng, _, _, db := syncedFixture(t, sampleTree())

	st, err := db.Load(context.Background(), "test")
	if err != nil || st == nil {
		t.Fatalf("Load() failed: %v", err)
	}
	st.Conflicted = true
	st.ConflictDetail = "local removed / remote renamed"
	if err := db.Save(context.Background(), st); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	starts := countSyncStarts(eng)
	eng.autoSync(context.Background(), "test")
	if starts.Load() != 0 {
		t.Error("auto-sync ran despite the sticky conflict flag")
	}

	// An explicit operation still goes through.
	if err := eng.Pull(context.Background()); err != nil {
		t.Fatalf("Pull() during conflict failed: %v", err)
	}
}

// TestOnFocusCooldown verifies focus triggers at most once per window.
func TestOnFocusCooldown(t *testing.T) {
	eng, _, _, _ := syncedFixture(t, sampleTree())
	eng.cfg.FocusCooldown = time.Hour

	starts := countSyncStarts(eng)
	eng.OnFocus(context.Background())
	eng.OnFocus(context.Background())

	if starts.Load() != 1 {
		t.Errorf("two focus triggers inside one cooldown ran %d syncs, want 1", starts.Load())
	}
}

// TestOnFocusDisabled verifies the focus trigger is inert when the
// profile turns it off.
func TestOnFocusDisabled(t *testing.T) {
	eng, _, _, _ := syncedFixture(t, sampleTree())
	eng.cfg.SyncOnFocus = false

	starts := countSyncStarts(eng)
	eng.OnFocus(context.Background())

	if starts.Load() != 0 {
		t.Errorf("disabled focus trigger ran %d syncs", starts.Load())
	}
}
