// Package engine implements the sync coordinator: the push/pull/sync
// state machine reconciling the local bookmark replica with the remote
// per-file store.
//
// The coordinator owns one profile's single-flight guard, suppression
// flag, and persisted sync state. Exactly one mutating operation runs
// at a time; a second call observing the guard set returns ErrBusy
// immediately instead of blocking or queuing, and relies on the caller's
// natural retrigger cadence (debounce or alarm tick) to try again.
//
// The base snapshot only advances after every write of an operation
// succeeds, so a partial failure retries the same delta next time
// rather than losing updates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marksync/marksync/internal/bookmarks"
	"github.com/marksync/marksync/internal/browser"
	"github.com/marksync/marksync/internal/merge"
	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/state"
)

// ErrBusy is returned when another push/pull/sync is in flight for the
// same profile. The request is rejected, never queued.
var ErrBusy = errors.New("another sync operation is in flight")

// Config tunes one profile's coordinator.
type Config struct {
	// Profile names the configuration this engine serves.
	Profile string

	// AutoSync enables the debounce/alarm/focus triggers in Run.
	AutoSync bool

	// DebounceDelay is how long after the last local mutation event a
	// sync fires. Each new event resets the delay, coalescing bursts.
	DebounceDelay time.Duration

	// PollInterval triggers a periodic sync to catch remote-only
	// changes when no local edit has occurred.
	PollInterval time.Duration

	// FocusCooldown rate-limits the sync-on-focus trigger.
	FocusCooldown time.Duration

	// SyncOnStartup runs one sync when Run starts.
	SyncOnStartup bool

	// SyncOnFocus enables the focus trigger: OnFocus is a no-op while
	// this is off.
	SyncOnFocus bool

	// Logger for coordinator activity. Nil means stderr.
	Logger *log.Logger
}

// DefaultConfig returns the stock trigger tuning.
func DefaultConfig(profile string) Config {
	return Config{
		Profile:       profile,
		AutoSync:      true,
		DebounceDelay: 5 * time.Second,
		PollInterval:  15 * time.Minute,
		FocusCooldown: 60 * time.Second,
		SyncOnStartup: true,
		SyncOnFocus:   true,
	}
}

// Event is a coordinator lifecycle notification for observers (the
// control server broadcasts these to its clients).
type Event struct {
	Kind   string    `json:"kind"` // sync_started, sync_complete, conflict, error
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

// Status is the exposed status query result. Synced reports whether a
// persisted sync state exists, that is, the profile has completed at
// least one operation.
type Status struct {
	Profile        string    `json:"profile"`
	Synced         bool      `json:"synced"`
	LastSync       time.Time `json:"last_sync,omitzero"`
	LastCommit     string    `json:"last_commit,omitempty"`
	Conflicted     bool      `json:"conflicted"`
	ConflictDetail string    `json:"conflict_detail,omitempty"`
	AutoSync       bool      `json:"auto_sync"`
	InFlight       bool      `json:"in_flight"`
}

// Engine coordinates one profile's replicas.
type Engine struct {
	cfg    Config
	store  remote.Store
	local  browser.Browser
	states *state.DB
	logger *log.Logger

	inFlight atomic.Bool // single-flight guard
	suppress atomic.Bool // raised while applying our own local changes

	focusMu   sync.Mutex
	lastFocus time.Time

	hookMu sync.Mutex
	hook   func(Event)
}

// New creates a coordinator. The state database must have its schema
// initialized.
func New(cfg Config, store remote.Store, local browser.Browser, states *state.DB) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		cfg:    cfg,
		store:  store,
		local:  local,
		states: states,
		logger: logger,
	}
}

// SetEventHook registers an observer for lifecycle events. One observer
// is enough for the control server; replacing it is allowed.
func (e *Engine) SetEventHook(fn func(Event)) {
	e.hookMu.Lock()
	e.hook = fn
	e.hookMu.Unlock()
}

func (e *Engine) emit(kind, detail string) {
	e.hookMu.Lock()
	fn := e.hook
	e.hookMu.Unlock()
	if fn != nil {
		fn(Event{Kind: kind, Detail: detail, Time: time.Now()})
	}
}

// begin acquires the single-flight guard.
func (e *Engine) begin() error {
	if !e.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (e *Engine) end() {
	e.inFlight.Store(false)
}

// loadState reads the profile's persisted state, synthesizing an empty
// one for a never-synced profile.
func (e *Engine) loadState(ctx context.Context) (*state.SyncState, error) {
	st, err := e.states.Load(ctx, e.cfg.Profile)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = &state.SyncState{
			Profile:  e.cfg.Profile,
			Base:     bookmarks.NewRoot(),
			FileSHAs: map[string]string{},
		}
	}
	if st.Base == nil {
		st.Base = bookmarks.NewRoot()
	}
	return st, nil
}

// Status implements the exposed status query.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	st, err := e.states.Load(ctx, e.cfg.Profile)
	if err != nil {
		return nil, err
	}
	out := &Status{
		Profile:  e.cfg.Profile,
		AutoSync: e.cfg.AutoSync,
		InFlight: e.inFlight.Load(),
	}
	if st == nil {
		return out, nil
	}
	out.Synced = true
	out.LastSync = st.LastSync
	out.LastCommit = st.LastCommit
	out.Conflicted = st.Conflicted
	out.ConflictDetail = st.ConflictDetail
	return out, nil
}

// Push writes local-only changes to the remote store: diff base vs
// local, write changed files guarded by last-seen shas, regenerate the
// index, then advance base to the local tree.
//
// Push is pure local to remote. It does not reconcile divergent remote
// edits; a file whose remote sha moved since the last sync fails the
// whole push with remote.ErrRemoteConflict before anything is written,
// and the user is directed to run a full sync instead. As a user-forced
// override it clears the sticky conflict flag on success.
func (e *Engine) Push(ctx context.Context) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	st, err := e.loadState(ctx)
	if err != nil {
		return err
	}
	local, err := e.local.GetTree(ctx)
	if err != nil {
		return fmt.Errorf("reading local tree: %w", err)
	}
	listing, err := e.store.ListTree(ctx)
	if err != nil {
		return fmt.Errorf("listing remote tree: %w", err)
	}
	snap, err := remote.BuildSnapshot(listing)
	if err != nil {
		return fmt.Errorf("assembling remote tree: %w", err)
	}

	desired, err := bookmarks.Files(local)
	if err != nil {
		return fmt.Errorf("flattening local tree: %w", err)
	}
	baseFiles, err := bookmarks.Files(st.Base)
	if err != nil {
		return fmt.Errorf("flattening base snapshot: %w", err)
	}

	// Preflight every file this push would touch: if its remote sha
	// moved since we last saw it, someone else wrote it, and pushing
	// would silently overwrite them. Fail hard before writing anything.
	for _, p := range changedPaths(baseFiles, desired) {
		if snap.SHAs[p] != st.FileSHAs[p] {
			return fmt.Errorf("%w: %s changed remotely since last sync; run a full sync instead", remote.ErrRemoteConflict, p)
		}
	}

	// Unchanged paths adopt the freshly listed shas; divergent remote
	// edits to files this push does not touch are left alone.
	shas := make(map[string]string, len(snap.SHAs))
	for p, sha := range snap.SHAs {
		shas[p] = sha
	}
	newSHAs, lastCommit, err := e.writeRemote(ctx, desired, baseFiles, shas)
	if err != nil {
		return err
	}
	if lastCommit == "" {
		lastCommit = listing.CommitSHA
	}
	if err := e.writeIndex(ctx, local); err != nil {
		return err
	}

	st.Base = normalized(local)
	st.FileSHAs = newSHAs
	st.LastCommit = lastCommit
	st.LastSync = time.Now()
	st.Conflicted = false
	st.ConflictDetail = ""
	if err := e.states.Save(ctx, st); err != nil {
		return fmt.Errorf("persisting sync state: %w", err)
	}
	e.logger.Printf("Push complete for %q (%d entries)", e.cfg.Profile, bookmarks.Count(local))
	return nil
}

// Pull replaces the local tree wholesale with the remote one and resets
// base to it. Destructive by design: this is the explicit "discard
// local-only changes" escape hatch, and the path used when adopting an
// existing profile. Local replacement runs under suppression so the
// resulting mutation events do not masquerade as new local edits.
func (e *Engine) Pull(ctx context.Context) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	st, err := e.loadState(ctx)
	if err != nil {
		return err
	}
	listing, err := e.store.ListTree(ctx)
	if err != nil {
		return fmt.Errorf("listing remote tree: %w", err)
	}
	snap, err := remote.BuildSnapshot(listing)
	if err != nil {
		return fmt.Errorf("assembling remote tree: %w", err)
	}

	e.suppress.Store(true)
	err = e.local.ReplaceAll(ctx, snap.Tree)
	e.suppress.Store(false)
	if err != nil {
		return fmt.Errorf("replacing local tree: %w", err)
	}

	st.Base = normalized(snap.Tree)
	st.FileSHAs = snap.SHAs
	st.LastCommit = snap.CommitSHA
	st.LastSync = time.Now()
	st.Conflicted = false
	st.ConflictDetail = ""
	if err := e.states.Save(ctx, st); err != nil {
		return fmt.Errorf("persisting sync state: %w", err)
	}
	e.logger.Printf("Pull complete for %q (%d entries)", e.cfg.Profile, bookmarks.Count(snap.Tree))
	return nil
}

// Sync runs the three-way merge and applies the result in both
// directions. On a clean merge the base advances to the merged tree and
// the sticky conflict flag clears; on conflict the flag is set with a
// human-readable summary and both replicas stay untouched.
func (e *Engine) Sync(ctx context.Context) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	return e.syncLocked(ctx)
}

func (e *Engine) syncLocked(ctx context.Context) error {
	e.emit("sync_started", "")

	st, err := e.loadState(ctx)
	if err != nil {
		return err
	}
	local, err := e.local.GetTree(ctx)
	if err != nil {
		return fmt.Errorf("reading local tree: %w", err)
	}
	listing, err := e.store.ListTree(ctx)
	if err != nil {
		e.emit("error", err.Error())
		return fmt.Errorf("listing remote tree: %w", err)
	}
	snap, err := remote.BuildSnapshot(listing)
	if err != nil {
		e.emit("error", err.Error())
		return fmt.Errorf("assembling remote tree: %w", err)
	}

	result, err := merge.Merge(st.Base, local, snap.Tree)
	if err != nil {
		var conflict *merge.ConflictError
		if errors.As(err, &conflict) {
			st.Conflicted = true
			st.ConflictDetail = conflict.Details()
			if saveErr := e.states.Save(ctx, st); saveErr != nil {
				return fmt.Errorf("persisting conflict state: %w", saveErr)
			}
			e.logger.Printf("Sync conflict for %q: %s", e.cfg.Profile, conflict.Details())
			e.emit("conflict", conflict.Details())
			return err
		}
		return err
	}

	if !result.ToLocal.Empty() {
		e.suppress.Store(true)
		err = e.local.ApplyChanges(ctx, result.ToLocal)
		e.suppress.Store(false)
		if err != nil {
			return fmt.Errorf("applying changes to local tree: %w", err)
		}
	}

	newSHAs := snap.SHAs
	lastCommit := snap.CommitSHA
	if !result.ToRemote.Empty() {
		desired, err := bookmarks.Files(result.Tree)
		if err != nil {
			return fmt.Errorf("flattening merged tree: %w", err)
		}
		current := make(map[string][]byte, len(listing.Files))
		for _, f := range listing.Files {
			current[f.Path] = f.Content
		}
		newSHAs, lastCommit, err = e.writeRemote(ctx, desired, current, snap.SHAs)
		if err != nil {
			return err
		}
		if lastCommit == "" {
			lastCommit = snap.CommitSHA
		}
		if err := e.writeIndex(ctx, result.Tree); err != nil {
			return err
		}
	}

	st.Base = result.Tree
	st.FileSHAs = newSHAs
	st.LastCommit = lastCommit
	st.LastSync = time.Now()
	st.Conflicted = false
	st.ConflictDetail = ""
	if err := e.states.Save(ctx, st); err != nil {
		return fmt.Errorf("persisting sync state: %w", err)
	}

	if result.NoWrites() {
		e.logger.Printf("Sync complete for %q: already convergent", e.cfg.Profile)
	} else {
		e.logger.Printf("Sync complete for %q: %d applied locally, %d pushed",
			e.cfg.Profile, len(result.ToLocal), len(result.ToRemote))
	}
	e.emit("sync_complete", fmt.Sprintf("%d applied locally, %d pushed", len(result.ToLocal), len(result.ToRemote)))
	return nil
}

// writeRemote reconciles the remote file layout from current to
// desired, every write guarded by the expected sha. Returns the updated
// sha map and the last commit written.
func (e *Engine) writeRemote(ctx context.Context, desired, current map[string][]byte, shas map[string]string) (map[string]string, string, error) {
	newSHAs := make(map[string]string, len(desired))
	for p, sha := range shas {
		if _, keep := desired[p]; keep {
			newSHAs[p] = sha
		}
	}
	lastCommit := ""

	for _, p := range sortedPaths(desired) {
		content := desired[p]
		if cur, exists := current[p]; exists && string(cur) == string(content) {
			continue
		}
		written, err := e.store.PutFile(ctx, p, content, commitMessage("update", p), shas[p])
		if err != nil {
			return nil, "", fmt.Errorf("writing %s: %w", p, err)
		}
		newSHAs[p] = written.SHA
		if written.CommitSHA != "" {
			lastCommit = written.CommitSHA
		}
	}

	for _, p := range sortedPaths(current) {
		if _, keep := desired[p]; keep {
			continue
		}
		if err := e.store.DeleteFile(ctx, p, commitMessage("remove", p), shas[p]); err != nil {
			return nil, "", fmt.Errorf("deleting %s: %w", p, err)
		}
		delete(newSHAs, p)
	}

	return newSHAs, lastCommit, nil
}

// writeIndex regenerates the derived index document. The current
// revision is fetched fresh: the index is never a merge input, so
// overwriting it is always safe.
func (e *Engine) writeIndex(ctx context.Context, tree *bookmarks.Entry) error {
	sha := ""
	existing, err := e.store.GetFile(ctx, bookmarks.IndexFileName)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return fmt.Errorf("reading index document: %w", err)
	}
	if existing != nil {
		sha = existing.SHA
	}
	content := bookmarks.RenderIndex(tree, time.Now())
	if existing != nil && string(existing.Content) == string(content) {
		return nil
	}
	if _, err := e.store.PutFile(ctx, bookmarks.IndexFileName, content, "marksync: regenerate index", sha); err != nil {
		return fmt.Errorf("writing index document: %w", err)
	}
	return nil
}

func commitMessage(verb, p string) string {
	return fmt.Sprintf("marksync: %s %s", verb, p)
}

// changedPaths returns every path push would create, update, or delete.
func changedPaths(baseFiles, desired map[string][]byte) []string {
	touched := map[string]bool{}
	for p, content := range desired {
		if cur, ok := baseFiles[p]; !ok || string(cur) != string(content) {
			touched[p] = true
		}
	}
	for p := range baseFiles {
		if _, keep := desired[p]; !keep {
			touched[p] = true
		}
	}
	paths := make([]string, 0, len(touched))
	for p := range touched {
		paths = append(paths, p)
	}
	return paths
}

func sortedPaths(files map[string][]byte) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func normalized(tree *bookmarks.Entry) *bookmarks.Entry {
	c := tree.Clone()
	bookmarks.Normalize(c)
	return c
}
