package bookmarks

import "fmt"

// Key is the cross-replica identity of an entry. Local IDs are not
// portable between replicas, so identity is derived from content:
//
//   - links: kind + URL. A link keeps its identity through title edits
//     and moves; changing the URL makes it a different entry
//     (delete + create). That asymmetry is a deliberate policy, not an
//     accident - see the merge package.
//   - folders: kind + title + duplicate ordinal. The ordinal counts
//     same-titled folders in depth-first preorder, so two "Archive"
//     folders in different branches stay distinguishable. Renaming a
//     folder therefore changes its identity, mirroring the link URL
//     policy; its children keep their own identities and show up as
//     moves.
type Key string

// LinkKey derives the identity of a link with the given URL.
func LinkKey(url string) Key {
	return Key("link\x00" + url)
}

// FolderKey derives the identity of the nth folder (0-based) with the
// given title, in depth-first preorder.
func FolderKey(title string, ordinal int) Key {
	return Key(fmt.Sprintf("folder\x00%s\x00%d", title, ordinal))
}

// Located is an entry together with where it sits in its tree.
type Located struct {
	Entry      *Entry
	ParentPath string
}

// Index flattens a tree into identity key -> located entry. Links with
// duplicate URLs collapse onto one key; the first occurrence wins,
// which keeps the mapping deterministic.
func Index(root *Entry) map[Key]Located {
	idx := make(map[Key]Located)
	ordinals := make(map[string]int)
	Walk(root, func(parentPath string, e *Entry) bool {
		var key Key
		if e.IsFolder() {
			key = FolderKey(e.Title, ordinals[e.Title])
			ordinals[e.Title]++
		} else {
			key = LinkKey(e.URL)
		}
		if _, seen := idx[key]; !seen {
			idx[key] = Located{Entry: e, ParentPath: parentPath}
		}
		return true
	})
	return idx
}
