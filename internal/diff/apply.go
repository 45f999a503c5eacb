package diff

import (
	"sort"
	"strings"

	"github.com/marksync/marksync/internal/bookmarks"
)

// Apply materializes a change set onto a tree in place, in
// identity-stable order: removals first, then moves shallow-target
// first (so a moved folder is in place before its descendants' own
// relocations path through it), then additions shallow-first. Every
// step is idempotent, so replaying an already-applied change is
// harmless. The same code path serves the merge engine and the local
// replica's change application.
func Apply(tree *bookmarks.Entry, cs ChangeSet) {
	keys := cs.Keys()

	for _, key := range keys {
		if cs[key].Type == Removed {
			detachByKey(tree, key)
		}
	}

	moves := changesOfType(cs, keys, Modified)
	sortShallowFirst(moves)
	for _, c := range moves {
		entry := detachByKey(tree, c.Key)
		if entry == nil {
			continue
		}
		entry.Title = c.Entry.Title
		parent := bookmarks.EnsureFolder(tree, c.Parent)
		parent.Children = append(parent.Children, entry)
	}

	adds := changesOfType(cs, keys, Added)
	sortShallowFirst(adds)
	for _, c := range adds {
		addEntry(tree, c)
	}
}

func changesOfType(cs ChangeSet, keys []bookmarks.Key, t Type) []Change {
	out := make([]Change, 0, len(keys))
	for _, key := range keys {
		if cs[key].Type == t {
			out = append(out, cs[key])
		}
	}
	return out
}

func sortShallowFirst(changes []Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		di, dj := pathDepth(changes[i].Parent), pathDepth(changes[j].Parent)
		if di != dj {
			return di < dj
		}
		return changes[i].Key < changes[j].Key
	})
}

func pathDepth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// detachByKey removes the entry with the given identity from its parent
// and returns it with its subtree, or nil if absent.
func detachByKey(tree *bookmarks.Entry, key bookmarks.Key) *bookmarks.Entry {
	idx := bookmarks.Index(tree)
	loc, ok := idx[key]
	if !ok {
		return nil
	}
	parent := bookmarks.FindFolder(tree, loc.ParentPath)
	if parent == nil {
		return nil
	}
	for i, child := range parent.Children {
		if child == loc.Entry {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return child
		}
	}
	return nil
}

// addEntry inserts an added entry, creating missing parent folders. A
// folder already materialized by EnsureFolder as an intermediate path
// segment is adopted rather than duplicated; an existing link with the
// same URL makes the add a no-op.
func addEntry(tree *bookmarks.Entry, c Change) {
	parent := bookmarks.EnsureFolder(tree, c.Parent)
	if c.Entry.IsFolder() {
		for _, child := range parent.Children {
			if child.IsFolder() && child.Title == c.Entry.Title {
				if child.CreatedAt.IsZero() {
					child.CreatedAt = c.Entry.CreatedAt
				}
				return
			}
		}
	} else {
		if _, exists := bookmarks.Index(tree)[c.Key]; exists {
			return
		}
	}
	added := c.Entry.Clone()
	added.Children = nil
	parent.Children = append(parent.Children, added)
}
