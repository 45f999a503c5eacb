// Package remote defines the contract between the reconciliation
// engine and a path-addressed remote file store, plus helpers to turn a
// store listing into a bookmark tree.
//
// The engine only ever talks to the Store interface; the github
// subpackage provides the concrete adapter.
package remote

import (
	"context"
	"path"
	"strings"

	"github.com/marksync/marksync/internal/bookmarks"
)

// File is one remote file at a point in time. SHA is the store-assigned
// content revision used for optimistic-concurrency writes. CommitSHA,
// when set, is the commit a write produced.
type File struct {
	Path      string
	Content   []byte
	SHA       string
	CommitSHA string
}

// Listing is a complete, consistent snapshot of the remote tree taken
// at a single commit.
type Listing struct {
	Files     []File
	CommitSHA string
}

// Store is the remote file CRUD contract.
//
// All operations take a context and carry the adapter's own timeout
// discipline; a hung call must eventually error so the engine's
// single-flight guard is released.
type Store interface {
	// GetFile reads one file at the current branch tip. Returns
	// ErrNotFound when the path is absent.
	GetFile(ctx context.Context, path string) (*File, error)

	// PutFile creates or updates a file. For updates, expectedSHA must
	// match the store's current revision or the write fails with
	// ErrRemoteConflict; pass "" to create. Returns the new revision.
	PutFile(ctx context.Context, path string, content []byte, message, expectedSHA string) (*File, error)

	// DeleteFile removes a file, guarded by the same expectedSHA rule.
	DeleteFile(ctx context.Context, path string, message, expectedSHA string) error

	// ListTree fetches the full remote entry forest with per-path
	// revisions, consistent at a single commit.
	ListTree(ctx context.Context) (*Listing, error)
}

// Snapshot is a remote tree assembled from a listing: the tree itself
// plus the revision of every entry file, keyed by path.
type Snapshot struct {
	Tree      *bookmarks.Entry
	SHAs      map[string]string
	CommitSHA string
}

// BuildSnapshot assembles a bookmark tree from a listing. The generated
// index document and any non-entry files (dotfiles, readmes dropped in
// by hand) are skipped: they are not merge inputs.
func BuildSnapshot(listing *Listing) (*Snapshot, error) {
	files := make(map[string][]byte)
	shas := make(map[string]string, len(listing.Files))
	for _, f := range listing.Files {
		if !IsEntryPath(f.Path) {
			continue
		}
		files[f.Path] = f.Content
		shas[f.Path] = f.SHA
	}
	tree, err := bookmarks.TreeFromFiles(files)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Tree: tree, SHAs: shas, CommitSHA: listing.CommitSHA}, nil
}

// IsEntryPath reports whether a remote path holds an entry file, as
// opposed to the generated index or unrelated repository content.
func IsEntryPath(p string) bool {
	if p == bookmarks.IndexFileName || p == bookmarks.LegacyFileName {
		return false
	}
	base := path.Base(p)
	if base == bookmarks.FolderFileName {
		return true
	}
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.HasSuffix(base, ".json")
}
