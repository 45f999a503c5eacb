// Package merge implements the three-way merge at the heart of the
// reconciliation engine.
//
// Given the last agreed base snapshot and fresh local and remote trees,
// Merge either produces a merged tree plus the two change sets that
// still need materializing (one per replica), or reports every conflict
// it found. The gate is all-or-nothing: a single conflict aborts the
// whole merge with both replicas untouched, because partially applying
// a bookmark merge risks silently dropping the surviving half of an
// edit-delete pair.
package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marksync/marksync/internal/bookmarks"
	"github.com/marksync/marksync/internal/diff"
)

// Result is a clean merge outcome.
type Result struct {
	// Tree is the merged tree: base plus both change sets, applied in
	// identity-stable order so the result is deterministic.
	Tree *bookmarks.Entry
	// ToLocal holds the remote-side changes the browser replica still
	// needs applied.
	ToLocal diff.ChangeSet
	// ToRemote holds the local-side changes the remote store still
	// needs written.
	ToRemote diff.ChangeSet
}

// NoWrites reports whether the merge found both replicas already
// convergent, so neither side needs touching.
func (r *Result) NoWrites() bool {
	return r.ToLocal.Empty() && r.ToRemote.Empty()
}

// Conflict describes one identity both replicas changed with differing
// outcomes.
type Conflict struct {
	Key    bookmarks.Key
	Local  diff.Change
	Remote diff.Change
}

// String renders the conflict for the user-facing summary.
func (c Conflict) String() string {
	return fmt.Sprintf("local %s / remote %s", c.Local, c.Remote)
}

// ConflictError aborts a merge. It carries every detected conflict so
// the user sees the full picture at once, not one conflict per attempt.
type ConflictError struct {
	Conflicts []Conflict
}

// Error implements error with a short count; Details has the full list.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict: %d entries changed on both sides with different outcomes", len(e.Conflicts))
}

// Details renders one line per conflict, sorted by identity.
func (e *ConflictError) Details() string {
	lines := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		lines = append(lines, c.String())
	}
	return strings.Join(lines, "\n")
}

// Merge runs the three-way merge. It returns a *ConflictError when any
// identity was changed incompatibly on both sides; any other error is
// an internal invariant failure. Inputs are never mutated.
func Merge(base, local, remote *bookmarks.Entry) (*Result, error) {
	// Content-equality short circuit: if both replicas already agree,
	// there is nothing to write anywhere.
	if bookmarks.Equal(local, remote) {
		tree := local.Clone()
		bookmarks.Normalize(tree)
		return &Result{Tree: tree, ToLocal: diff.ChangeSet{}, ToRemote: diff.ChangeSet{}}, nil
	}

	localChanges := diff.Diff(base, local)
	remoteChanges := diff.Diff(base, remote)

	toLocal := make(diff.ChangeSet)
	toRemote := make(diff.ChangeSet)
	var conflicts []Conflict

	for key, lc := range localChanges {
		rc, both := remoteChanges[key]
		if !both {
			toRemote[key] = lc
			continue
		}
		if convergent(lc, rc) {
			continue
		}
		conflicts = append(conflicts, Conflict{Key: key, Local: lc, Remote: rc})
	}
	for key, rc := range remoteChanges {
		if _, both := localChanges[key]; !both {
			toLocal[key] = rc
		}
	}

	if len(conflicts) > 0 {
		sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Key < conflicts[j].Key })
		return nil, &ConflictError{Conflicts: conflicts}
	}

	merged := base.Clone()
	diff.Apply(merged, toRemote) // local-side changes
	diff.Apply(merged, toLocal)  // remote-side changes
	// Convergent changes landed on both replicas already but not on
	// base; replay one copy so the merged tree reflects them.
	convergentSet := make(diff.ChangeSet)
	for key, lc := range localChanges {
		if _, both := remoteChanges[key]; both {
			convergentSet[key] = lc
		}
	}
	diff.Apply(merged, convergentSet)
	bookmarks.Normalize(merged)

	return &Result{Tree: merged, ToLocal: toLocal, ToRemote: toRemote}, nil
}

// convergent reports whether two changes to the same identity land on
// the same outcome, making the pair a no-op.
func convergent(a, b diff.Change) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type == diff.Removed {
		return true
	}
	return a.Entry.Title == b.Entry.Title && a.Parent == b.Parent
}
