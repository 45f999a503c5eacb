// Package migrate converts the legacy single-document remote layout to
// the per-file format.
//
// Early versions stored the whole bookmark tree as one JSON document in
// the repository. The migration runs once per profile at startup: if
// the profile is configured but has no per-file sync state yet and the
// legacy document exists remotely, the tree is exploded into per-entry
// files and the sync state's base is initialized from the result.
// Subsequent startups see the existing sync state and skip. Failure is
// non-fatal to startup; the caller logs and retries next time.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/marksync/marksync/internal/bookmarks"
	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/state"
)

// LegacyFileName is the single-document layout's remote path, relative
// to the profile's base path.
const LegacyFileName = bookmarks.LegacyFileName

// Options configures one migration run.
type Options struct {
	// Profile is the profile whose sync state gates the migration.
	Profile string
	// DryRun previews without writing anything.
	DryRun bool
	// Logger for migration activity. Nil means stderr.
	Logger *log.Logger
}

// Result reports what the migration did.
type Result struct {
	// Skipped is true when there was nothing to do; Reason says why.
	Skipped bool
	Reason  string

	Entries      int
	FilesWritten int
}

// Run performs the one-time migration check. The legacy document is
// left in place afterwards as its own backup; only the per-file layout
// and sync state are created.
func Run(ctx context.Context, store remote.Store, states *state.DB, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}

	st, err := states.Load(ctx, opts.Profile)
	if err != nil {
		return nil, fmt.Errorf("loading sync state: %w", err)
	}
	if st != nil {
		return &Result{Skipped: true, Reason: "per-file sync state already exists"}, nil
	}

	legacy, err := store.GetFile(ctx, LegacyFileName)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			// Fresh profile, nothing to migrate.
			return &Result{Skipped: true, Reason: "no legacy document found"}, nil
		}
		return nil, fmt.Errorf("reading legacy document: %w", err)
	}

	var tree bookmarks.Entry
	if err := json.Unmarshal(legacy.Content, &tree); err != nil {
		return nil, fmt.Errorf("parsing legacy document: %w", err)
	}
	if !tree.IsFolder() {
		return nil, fmt.Errorf("legacy document: top-level entry must be a folder")
	}

	files, err := bookmarks.Files(&tree)
	if err != nil {
		return nil, fmt.Errorf("flattening legacy tree: %w", err)
	}

	result := &Result{Entries: bookmarks.Count(&tree)}
	logger.Printf("Migrating legacy document for %q: %d entries, %d files", opts.Profile, result.Entries, len(files))

	if opts.DryRun {
		result.FilesWritten = len(files)
		return result, nil
	}

	shas := make(map[string]string, len(files))
	for _, p := range sortedPaths(files) {
		existing, err := store.GetFile(ctx, p)
		if err != nil && !errors.Is(err, remote.ErrNotFound) {
			return nil, fmt.Errorf("checking %s: %w", p, err)
		}
		expected := ""
		if existing != nil {
			if string(existing.Content) == string(files[p]) {
				shas[p] = existing.SHA
				continue
			}
			expected = existing.SHA
		}
		written, err := store.PutFile(ctx, p, files[p], "marksync: migrate legacy document", expected)
		if err != nil {
			return nil, fmt.Errorf("writing %s: %w", p, err)
		}
		shas[p] = written.SHA
		result.FilesWritten++
	}

	index := bookmarks.RenderIndex(&tree, time.Now())
	indexSHA := ""
	if existing, err := store.GetFile(ctx, bookmarks.IndexFileName); err == nil {
		indexSHA = existing.SHA
	}
	if _, err := store.PutFile(ctx, bookmarks.IndexFileName, index, "marksync: regenerate index", indexSHA); err != nil {
		return nil, fmt.Errorf("writing index document: %w", err)
	}

	normalizedTree := tree.Clone()
	bookmarks.Normalize(normalizedTree)
	st = &state.SyncState{
		Profile:  opts.Profile,
		Base:     normalizedTree,
		FileSHAs: shas,
		LastSync: time.Now(),
	}
	if err := states.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("persisting sync state: %w", err)
	}

	logger.Printf("Migration complete for %q: %d files written", opts.Profile, result.FilesWritten)
	return result, nil
}

func sortedPaths(files map[string][]byte) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	// Deterministic write order keeps retries and logs stable.
	sort.Strings(paths)
	return paths
}
