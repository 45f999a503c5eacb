package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"

	"github.com/marksync/marksync/internal/bookmarks"
	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/state"
)

// memStore is a minimal in-memory remote.Store for migration tests.
type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
	seq   int
	shas  map[string]string
	puts  int
}

func newMemStore() *memStore {
	return &memStore{files: map[string][]byte{}, shas: map[string]string{}}
}

func (s *memStore) GetFile(ctx context.Context, p string) (*remote.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", remote.ErrNotFound, p)
	}
	return &remote.File{Path: p, Content: content, SHA: s.shas[p]}, nil
}

func (s *memStore) PutFile(ctx context.Context, p string, content []byte, message, expectedSHA string) (*remote.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, exists := s.shas[p]; exists && expectedSHA != cur {
		return nil, fmt.Errorf("%w: %s", remote.ErrRemoteConflict, p)
	}
	s.seq++
	s.files[p] = append([]byte(nil), content...)
	s.shas[p] = fmt.Sprintf("sha-%d", s.seq)
	s.puts++
	return &remote.File{Path: p, Content: content, SHA: s.shas[p]}, nil
}

func (s *memStore) DeleteFile(ctx context.Context, p string, message, expectedSHA string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, p)
	delete(s.shas, p)
	return nil
}

func (s *memStore) ListTree(ctx context.Context) (*remote.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	listing := &remote.Listing{}
	for p, content := range s.files {
		listing.Files = append(listing.Files, remote.File{Path: p, Content: content, SHA: s.shas[p]})
	}
	return listing, nil
}

func openTestDB(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("state.Open() failed: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func legacyDocument(t *testing.T) ([]byte, *bookmarks.Entry) {
	t.Helper()
	tree := bookmarks.NewRoot(
		bookmarks.NewFolder("Work",
			bookmarks.NewLink("CI", "https://ci.example.com"),
		),
		bookmarks.NewLink("News", "https://news.example.com"),
	)
	data, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("marshaling legacy document failed: %v", err)
	}
	return data, tree
}

func testOptions(profile string) Options {
	return Options{Profile: profile, Logger: log.New(io.Discard, "", 0)}
}

// TestRunMigratesLegacyDocument verifies the end-to-end explosion of a
// single-document repository into the per-file layout.
func TestRunMigratesLegacyDocument(t *testing.T) {
	store := newMemStore()
	data, tree := legacyDocument(t)
	store.files[LegacyFileName] = data
	store.shas[LegacyFileName] = "legacy-sha"
	db := openTestDB(t)
	ctx := context.Background()

	res, err := Run(ctx, store, db, testOptions("p"))
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.Skipped {
		t.Fatalf("migration skipped: %s", res.Reason)
	}
	if res.Entries != bookmarks.Count(tree) {
		t.Errorf("Entries = %d, want %d", res.Entries, bookmarks.Count(tree))
	}

	// Per-file layout present, assembled tree matches.
	listing, _ := store.ListTree(ctx)
	snap, err := remote.BuildSnapshot(listing)
	if err != nil {
		t.Fatalf("BuildSnapshot() failed: %v", err)
	}
	if !bookmarks.Equal(snap.Tree, tree) {
		t.Error("exploded layout does not reassemble to the legacy tree")
	}

	// Legacy document left in place as its own backup.
	if _, err := store.GetFile(ctx, LegacyFileName); err != nil {
		t.Errorf("legacy document removed: %v", err)
	}
	// Index regenerated.
	if _, err := store.GetFile(ctx, bookmarks.IndexFileName); err != nil {
		t.Errorf("index document missing: %v", err)
	}

	// Sync state initialized so the engine starts from a settled base.
	st, err := db.Load(ctx, "p")
	if err != nil || st == nil {
		t.Fatalf("Load() after migration = %v, %v", st, err)
	}
	if !bookmarks.Equal(st.Base, tree) {
		t.Error("base snapshot does not match the migrated tree")
	}
	if len(st.FileSHAs) != res.FilesWritten {
		t.Errorf("sha map has %d entries, want %d", len(st.FileSHAs), res.FilesWritten)
	}
}

// TestRunSkipsWhenStateExists verifies the once-per-profile gate.
func TestRunSkipsWhenStateExists(t *testing.T) {
	store := newMemStore()
	data, _ := legacyDocument(t)
	store.files[LegacyFileName] = data
	db := openTestDB(t)
	ctx := context.Background()

	st := &state.SyncState{Profile: "p", Base: bookmarks.NewRoot()}
	if err := db.Save(ctx, st); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	res, err := Run(ctx, store, db, testOptions("p"))
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !res.Skipped {
		t.Error("migration ran despite existing sync state")
	}
	if store.puts != 0 {
		t.Errorf("skipped migration still wrote %d files", store.puts)
	}
}

// TestRunSkipsWithoutLegacyDocument verifies a fresh profile is a
// clean skip, not an error.
func TestRunSkipsWithoutLegacyDocument(t *testing.T) {
	store := newMemStore()
	db := openTestDB(t)

	res, err := Run(context.Background(), store, db, testOptions("p"))
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !res.Skipped {
		t.Error("migration ran with nothing to migrate")
	}
}

// TestRunDryRun verifies previews write nothing.
func TestRunDryRun(t *testing.T) {
	store := newMemStore()
	data, _ := legacyDocument(t)
	store.files[LegacyFileName] = data
	db := openTestDB(t)
	ctx := context.Background()

	opts := testOptions("p")
	opts.DryRun = true
	res, err := Run(ctx, store, db, opts)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.Skipped || res.FilesWritten == 0 {
		t.Errorf("dry run result = %+v", res)
	}
	if store.puts != 0 {
		t.Errorf("dry run wrote %d files", store.puts)
	}
	if st, _ := db.Load(ctx, "p"); st != nil {
		t.Error("dry run persisted sync state")
	}
}

// TestRunRejectsCorruptLegacyDocument verifies a bad document fails
// rather than migrating garbage.
func TestRunRejectsCorruptLegacyDocument(t *testing.T) {
	store := newMemStore()
	store.files[LegacyFileName] = []byte("{broken")
	db := openTestDB(t)

	if _, err := Run(context.Background(), store, db, testOptions("p")); err == nil {
		t.Error("Run() accepted a corrupt legacy document")
	}
}
