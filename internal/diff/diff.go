// Package diff computes structural deltas between two bookmark trees.
//
// The delta is keyed by cross-replica entry identity, not by local ID
// or by position: an entry that moved folders but kept its identity is
// a move, never a remove + add. A link whose URL changed has, by the
// identity rules, become a different entry and therefore shows up as a
// remove of the old key plus an add of the new one.
//
// Diff is pure: it never touches a store and never mutates its inputs.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marksync/marksync/internal/bookmarks"
)

// Type classifies what happened to one identity between two snapshots.
type Type int

const (
	// Added means the identity exists only in the current snapshot.
	Added Type = iota
	// Removed means the identity exists only in the base snapshot.
	Removed
	// Modified means the identity exists in both snapshots but its
	// title or parent path differs (a rename, a move, or both).
	Modified
)

// String returns a human-readable name for the change type.
func (t Type) String() string {
	switch t {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// Change records what happened to a single identity.
//
// Entry is the resulting state for Added and Modified, and the base
// state for Removed. Parent is the resulting parent path; PriorParent
// and PriorTitle describe the base side for Removed and Modified.
type Change struct {
	Key         bookmarks.Key
	Type        Type
	Entry       *bookmarks.Entry
	Parent      string
	PriorParent string
	PriorTitle  string
}

// Moved reports whether a Modified change relocated the entry.
func (c Change) Moved() bool {
	return c.Type == Modified && c.Parent != c.PriorParent
}

// Renamed reports whether a Modified change retitled the entry.
func (c Change) Renamed() bool {
	return c.Type == Modified && c.Entry.Title != c.PriorTitle
}

// String renders the change for logs and conflict summaries.
func (c Change) String() string {
	name := c.Entry.Title
	if name == "" {
		name = string(c.Key)
	}
	switch c.Type {
	case Added:
		return fmt.Sprintf("added %q under %q", name, displayPath(c.Parent))
	case Removed:
		return fmt.Sprintf("removed %q from %q", name, displayPath(c.PriorParent))
	default:
		parts := []string{}
		if c.Renamed() {
			parts = append(parts, fmt.Sprintf("renamed %q to %q", c.PriorTitle, c.Entry.Title))
		}
		if c.Moved() {
			parts = append(parts, fmt.Sprintf("moved %q from %q to %q",
				name, displayPath(c.PriorParent), displayPath(c.Parent)))
		}
		if len(parts) == 0 {
			return fmt.Sprintf("modified %q", name)
		}
		return strings.Join(parts, ", ")
	}
}

func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return "/" + p
}

// ChangeSet maps touched identities to their changes. Identities that
// are unchanged between the two snapshots are simply absent.
type ChangeSet map[bookmarks.Key]Change

// Empty reports whether no identity was touched.
func (cs ChangeSet) Empty() bool { return len(cs) == 0 }

// Keys returns the touched identities in sorted order, for
// deterministic iteration.
func (cs ChangeSet) Keys() []bookmarks.Key {
	keys := make([]bookmarks.Key, 0, len(cs))
	for k := range cs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Summary renders the whole change set for logs, sorted by key.
func (cs ChangeSet) Summary() string {
	lines := make([]string, 0, len(cs))
	for _, k := range cs.Keys() {
		lines = append(lines, cs[k].String())
	}
	return strings.Join(lines, "; ")
}

// Diff computes the delta from base to current.
func Diff(base, current *bookmarks.Entry) ChangeSet {
	baseIdx := bookmarks.Index(base)
	curIdx := bookmarks.Index(current)
	cs := make(ChangeSet)

	for key, cur := range curIdx {
		prior, existed := baseIdx[key]
		if !existed {
			cs[key] = Change{
				Key:    key,
				Type:   Added,
				Entry:  snapshot(cur.Entry),
				Parent: cur.ParentPath,
			}
			continue
		}
		if cur.Entry.Title != prior.Entry.Title || cur.ParentPath != prior.ParentPath {
			cs[key] = Change{
				Key:         key,
				Type:        Modified,
				Entry:       snapshot(cur.Entry),
				Parent:      cur.ParentPath,
				PriorParent: prior.ParentPath,
				PriorTitle:  prior.Entry.Title,
			}
		}
	}

	for key, prior := range baseIdx {
		if _, exists := curIdx[key]; !exists {
			cs[key] = Change{
				Key:         key,
				Type:        Removed,
				Entry:       snapshot(prior.Entry),
				PriorParent: prior.ParentPath,
				PriorTitle:  prior.Entry.Title,
			}
		}
	}

	return cs
}

// snapshot copies an entry without its children. A folder's children
// carry their own identities and appear as separate changes; embedding
// them here would double-apply subtrees.
func snapshot(e *bookmarks.Entry) *bookmarks.Entry {
	return &bookmarks.Entry{
		ID:        e.ID,
		Kind:      e.Kind,
		Title:     e.Title,
		URL:       e.URL,
		CreatedAt: e.CreatedAt,
	}
}
