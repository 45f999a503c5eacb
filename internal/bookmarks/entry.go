// Package bookmarks provides the in-memory bookmark tree model shared by
// the local and remote replicas.
//
// A tree is a forest of entries under an implicit root folder. Folders
// carry ordered children; links carry a URL. Entries are addressed two
// ways: by parent path (slash-joined folder titles, "" = root) when a
// location is needed, and by identity key (see identity.go) when the
// "same" entry must be recognized across independently taken snapshots.
package bookmarks

import (
	"sort"
	"strings"
	"time"
)

// Kind distinguishes folders from leaf links.
type Kind string

const (
	// KindFolder is a container entry with ordered children.
	KindFolder Kind = "folder"
	// KindLink is a leaf entry with a URL.
	KindLink Kind = "link"
)

// Entry is one node in a bookmark tree.
//
// ID is the host-assigned local identifier. It is meaningless on the
// remote side and never participates in diffing or merging.
// CreatedAt is informational only and never used for conflict resolution.
type Entry struct {
	ID        string    `json:"id,omitempty"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	Children  []*Entry  `json:"children,omitempty"`
}

// NewFolder creates a folder entry.
func NewFolder(title string, children ...*Entry) *Entry {
	return &Entry{Kind: KindFolder, Title: title, Children: children}
}

// NewLink creates a link entry.
func NewLink(title, url string) *Entry {
	return &Entry{Kind: KindLink, Title: title, URL: url}
}

// NewRoot creates the implicit root folder holding a forest.
func NewRoot(children ...*Entry) *Entry {
	return &Entry{Kind: KindFolder, Title: "", Children: children}
}

// IsFolder reports whether the entry is a folder.
func (e *Entry) IsFolder() bool { return e.Kind == KindFolder }

// Clone returns a deep copy of the entry and its children.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := &Entry{
		ID:        e.ID,
		Kind:      e.Kind,
		Title:     e.Title,
		URL:       e.URL,
		CreatedAt: e.CreatedAt,
	}
	if e.Children != nil {
		c.Children = make([]*Entry, 0, len(e.Children))
		for _, child := range e.Children {
			c.Children = append(c.Children, child.Clone())
		}
	}
	return c
}

// Walk visits every entry below root in depth-first preorder.
// parentPath is the slash-joined folder path of the visited entry's
// parent ("" for top-level entries). Returning false stops the walk.
func Walk(root *Entry, fn func(parentPath string, e *Entry) bool) {
	if root == nil {
		return
	}
	walk(root, "", fn)
}

func walk(folder *Entry, path string, fn func(string, *Entry) bool) bool {
	for _, child := range folder.Children {
		if !fn(path, child) {
			return false
		}
		if child.IsFolder() {
			if !walk(child, JoinPath(path, child.Title), fn) {
				return false
			}
		}
	}
	return true
}

// JoinPath appends a folder title to a parent path.
func JoinPath(parent, title string) string {
	if parent == "" {
		return title
	}
	return parent + "/" + title
}

// FindFolder resolves a parent path to its folder entry, returning the
// root for "". Missing segments return nil.
func FindFolder(root *Entry, path string) *Entry {
	if path == "" {
		return root
	}
	cur := root
	for _, seg := range strings.Split(path, "/") {
		var next *Entry
		for _, child := range cur.Children {
			if child.IsFolder() && child.Title == seg {
				next = child
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// EnsureFolder resolves a parent path, creating missing folders along
// the way. Created folders have no ID until the host assigns one.
func EnsureFolder(root *Entry, path string) *Entry {
	if path == "" {
		return root
	}
	cur := root
	for _, seg := range strings.Split(path, "/") {
		var next *Entry
		for _, child := range cur.Children {
			if child.IsFolder() && child.Title == seg {
				next = child
				break
			}
		}
		if next == nil {
			next = NewFolder(seg)
			cur.Children = append(cur.Children, next)
		}
		cur = next
	}
	return cur
}

// Normalize sorts every folder's children in place: folders before
// links, then case-insensitive title order, links breaking title ties
// by URL. Sibling order is not tracked by the diff, so both replicas
// are normalized on every write to keep the rendered layout stable.
func Normalize(root *Entry) {
	if root == nil {
		return
	}
	sort.SliceStable(root.Children, func(i, j int) bool {
		a, b := root.Children[i], root.Children[j]
		if a.IsFolder() != b.IsFolder() {
			return a.IsFolder()
		}
		at, bt := strings.ToLower(a.Title), strings.ToLower(b.Title)
		if at != bt {
			return at < bt
		}
		return a.URL < b.URL
	})
	for _, child := range root.Children {
		if child.IsFolder() {
			Normalize(child)
		}
	}
}

// Equal reports whether two trees have the same content, ignoring
// volatile metadata (local IDs, creation times) and sibling order.
// This is the short-circuit check run before a full merge.
func Equal(a, b *Entry) bool {
	if a == nil || b == nil {
		return a == b
	}
	an, bn := a.Clone(), b.Clone()
	Normalize(an)
	Normalize(bn)
	return contentEqual(an, bn)
}

func contentEqual(a, b *Entry) bool {
	if a.Kind != b.Kind || a.Title != b.Title || a.URL != b.URL {
		return false
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !contentEqual(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}

// Count returns the number of entries below root.
func Count(root *Entry) int {
	n := 0
	Walk(root, func(string, *Entry) bool {
		n++
		return true
	})
	return n
}
