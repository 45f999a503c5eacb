package engine

import (
	"context"
	"errors"
	"time"
)

// Run drives the auto-sync triggers until ctx is cancelled:
//
//  1. local mutation events schedule a debounced sync, each new event
//     resetting the delay so edit bursts coalesce into one run;
//  2. a periodic alarm syncs on a fixed interval to catch remote-only
//     changes;
//  3. OnFocus (driven by the control server's /focus endpoint) syncs on
//     regained focus, behind a cooldown.
//
// Events arriving while the suppression flag is raised are our own
// change application echoing back and are ignored. While the sticky
// conflict flag is set, triggers skip silently; only an explicit user
// action resolves a conflict.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Printf("Coordinator running for %q (auto-sync: %v)", e.cfg.Profile, e.cfg.AutoSync)

	if e.cfg.SyncOnStartup {
		e.autoSync(ctx, "startup")
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	debounce := time.NewTimer(e.cfg.DebounceDelay)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			e.logger.Printf("Coordinator stopping for %q", e.cfg.Profile)
			return nil

		case ev, ok := <-e.local.Events():
			if !ok {
				e.logger.Printf("Local event stream closed for %q", e.cfg.Profile)
				return nil
			}
			if !e.cfg.AutoSync {
				continue
			}
			if e.suppress.Load() {
				continue
			}
			e.logger.Printf("Local %s event, scheduling sync in %v", ev.Op, e.cfg.DebounceDelay)
			if pending && !debounce.Stop() {
				<-debounce.C
			}
			debounce.Reset(e.cfg.DebounceDelay)
			pending = true

		case <-debounce.C:
			pending = false
			e.autoSync(ctx, "debounce")

		case <-ticker.C:
			if !e.cfg.AutoSync {
				continue
			}
			e.autoSync(ctx, "alarm")
		}
	}
}

// OnFocus triggers a sync when the application regains foreground
// focus, at most once per cooldown window. A no-op unless both
// auto-sync and the focus trigger are enabled.
func (e *Engine) OnFocus(ctx context.Context) {
	if !e.cfg.AutoSync || !e.cfg.SyncOnFocus {
		return
	}
	e.focusMu.Lock()
	if time.Since(e.lastFocus) < e.cfg.FocusCooldown {
		e.focusMu.Unlock()
		return
	}
	e.lastFocus = time.Now()
	e.focusMu.Unlock()

	e.autoSync(ctx, "focus")
}

// autoSync runs one trigger-initiated sync, honoring the sticky
// conflict flag and treating a busy or retryable failure as routine:
// the next trigger is the retry policy.
func (e *Engine) autoSync(ctx context.Context, trigger string) {
	st, err := e.loadState(ctx)
	if err != nil {
		e.logger.Printf("Auto-sync (%s) skipped: %v", trigger, err)
		return
	}
	if st.Conflicted {
		e.logger.Printf("Auto-sync (%s) suppressed: unresolved conflict for %q", trigger, e.cfg.Profile)
		return
	}

	if err := e.Sync(ctx); err != nil {
		switch {
		case errors.Is(err, ErrBusy):
			e.logger.Printf("Auto-sync (%s) rejected: operation in flight", trigger)
		case errors.Is(err, context.Canceled):
		default:
			e.logger.Printf("Auto-sync (%s) failed: %v", trigger, err)
		}
	}
}
