package merge

import (
	"errors"
	"strings"
	"testing"

	"github.com/marksync/marksync/internal/bookmarks"
	"github.com/marksync/marksync/internal/diff"
)

func baseTree() *bookmarks.Entry {
	return bookmarks.NewRoot(
		bookmarks.NewFolder("Work",
			bookmarks.NewLink("CI", "https://ci.example.com"),
		),
		bookmarks.NewLink("News", "https://news.example.com"),
	)
}

// TestMergeDisjointChanges verifies a local rename and a remote add
// merge cleanly, each landing in the opposite replica's change set.
func TestMergeDisjointChanges(t *testing.T) {
	local := baseTree()
	local.Children[1].Title = "Headlines" // rename News locally

	remote := baseTree()
	remote.Children = append(remote.Children, bookmarks.NewLink("Blog", "https://blog.example.com"))

	res, err := Merge(baseTree(), local, remote)
	if err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}

	if _, ok := res.ToRemote[bookmarks.LinkKey("https://news.example.com")]; !ok {
		t.Error("local rename missing from ToRemote")
	}
	if _, ok := res.ToLocal[bookmarks.LinkKey("https://blog.example.com")]; !ok {
		t.Error("remote add missing from ToLocal")
	}

	want := baseTree()
	want.Children[1].Title = "Headlines"
	want.Children = append(want.Children, bookmarks.NewLink("Blog", "https://blog.example.com"))
	if !bookmarks.Equal(res.Tree, want) {
		t.Error("merged tree does not contain both sides' changes")
	}
}

// TestMergeDeleteVersusRename verifies the edit-delete pair is a
// conflict that aborts the whole merge.
func TestMergeDeleteVersusRename(t *testing.T) {
	local := baseTree()
	local.Children = local.Children[:1] // delete News locally

	remote := baseTree()
	remote.Children[1].Title = "Headlines" // rename News remotely

	res, err := Merge(baseTree(), local, remote)
	if res != nil {
		t.Fatal("Merge() returned a result despite a conflict")
	}

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Merge() error = %v, want *ConflictError", err)
	}
	if len(conflict.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1: %s", len(conflict.Conflicts), conflict.Details())
	}
	c := conflict.Conflicts[0]
	if c.Key != bookmarks.LinkKey("https://news.example.com") {
		t.Errorf("conflict key = %q", c.Key)
	}
	if c.Local.Type != diff.Removed || c.Remote.Type != diff.Modified {
		t.Errorf("conflict sides = local %v / remote %v", c.Local.Type, c.Remote.Type)
	}
}

// TestMergeConflictAbortsEverything verifies that one conflicting
// identity suppresses unrelated clean changes too.
func TestMergeConflictAbortsEverything(t *testing.T) {
	local := baseTree()
	local.Children = local.Children[:1] // delete News
	local.Children = append(local.Children, bookmarks.NewLink("Clean", "https://clean.example.com"))

	remote := baseTree()
	remote.Children[1].Title = "Headlines"

	res, err := Merge(baseTree(), local, remote)
	if res != nil {
		t.Error("Merge() produced a partial result alongside a conflict")
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Merge() error = %v, want *ConflictError", err)
	}
	if strings.Contains(conflict.Details(), "clean.example.com") {
		t.Error("clean change reported as a conflict")
	}
}

// TestMergeConvergentChanges verifies identical changes on both sides
// merge with nothing left to write.
func TestMergeConvergentChanges(t *testing.T) {
	local := baseTree()
	local.Children[1].Title = "Headlines"
	remote := baseTree()
	remote.Children[1].Title = "Headlines"

	res, err := Merge(baseTree(), local, remote)
	if err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}
	if !res.NoWrites() {
		t.Errorf("convergent merge wants writes: toLocal=%s toRemote=%s",
			res.ToLocal.Summary(), res.ToRemote.Summary())
	}
	if !bookmarks.Equal(res.Tree, local) {
		t.Error("merged tree missing the convergent rename")
	}
}

// TestMergeConvergentDeletes verifies both sides deleting the same
// entry is not a conflict.
func TestMergeConvergentDeletes(t *testing.T) {
	local := baseTree()
	local.Children = local.Children[:1]
	remote := baseTree()
	remote.Children = remote.Children[:1]

	res, err := Merge(baseTree(), local, remote)
	if err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}
	if !res.NoWrites() {
		t.Error("convergent delete produced writes")
	}
	if _, ok := bookmarks.Index(res.Tree)[bookmarks.LinkKey("https://news.example.com")]; ok {
		t.Error("deleted entry survived the merge")
	}
}

// TestMergeEqualReplicasShortCircuit verifies content-equal replicas
// skip diffing entirely, whatever the base says.
func TestMergeEqualReplicasShortCircuit(t *testing.T) {
	local := baseTree()
	remote := baseTree()
	// A base that agrees with neither replica.
	staleBase := bookmarks.NewRoot(bookmarks.NewLink("Old", "https://old.example.com"))

	res, err := Merge(staleBase, local, remote)
	if err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}
	if !res.NoWrites() {
		t.Error("equal replicas produced writes")
	}
	if !bookmarks.Equal(res.Tree, local) {
		t.Error("short-circuit result differs from the replicas")
	}
}

// TestMergeIdempotent verifies merging the merged result against itself
// changes nothing further.
func TestMergeIdempotent(t *testing.T) {
	local := baseTree()
	local.Children[1].Title = "Headlines"
	remote := baseTree()
	remote.Children = append(remote.Children, bookmarks.NewLink("Blog", "https://blog.example.com"))

	first, err := Merge(baseTree(), local, remote)
	if err != nil {
		t.Fatalf("first Merge() failed: %v", err)
	}
	second, err := Merge(first.Tree, first.Tree, first.Tree)
	if err != nil {
		t.Fatalf("second Merge() failed: %v", err)
	}
	if !second.NoWrites() {
		t.Error("re-merging a converged state produced writes")
	}
	if !bookmarks.Equal(first.Tree, second.Tree) {
		t.Error("re-merge changed the tree")
	}
}

// TestMergeMoveVersusMove verifies both sides moving one entry to
// different folders is a conflict.
func TestMergeMoveVersusMove(t *testing.T) {
	base := bookmarks.NewRoot(
		bookmarks.NewFolder("A"),
		bookmarks.NewFolder("B"),
		bookmarks.NewLink("News", "https://news.example.com"),
	)

	local := base.Clone()
	news := local.Children[2]
	local.Children = local.Children[:2]
	local.Children[0].Children = append(local.Children[0].Children, news)

	remote := base.Clone()
	news = remote.Children[2]
	remote.Children = remote.Children[:2]
	remote.Children[1].Children = append(remote.Children[1].Children, news)

	_, err := Merge(base, local, remote)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Merge() error = %v, want *ConflictError", err)
	}
}

// TestMergeURLEditBothSides verifies the URL-change policy through the
// merge: both sides editing one link's URL is a convergent removal of
// the old identity plus two distinct adds, so the merge is clean and
// keeps both new links.
func TestMergeURLEditBothSides(t *testing.T) {
	base := bookmarks.NewRoot(bookmarks.NewLink("News", "https://news.example.com"))
	local := bookmarks.NewRoot(bookmarks.NewLink("News", "https://news.example.org"))
	remote := bookmarks.NewRoot(bookmarks.NewLink("News", "https://news.example.net"))

	res, err := Merge(base, local, remote)
	if err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}
	idx := bookmarks.Index(res.Tree)
	if _, ok := idx[bookmarks.LinkKey("https://news.example.org")]; !ok {
		t.Error("local URL edit lost")
	}
	if _, ok := idx[bookmarks.LinkKey("https://news.example.net")]; !ok {
		t.Error("remote URL edit lost")
	}
	if _, ok := idx[bookmarks.LinkKey("https://news.example.com")]; ok {
		t.Error("old URL survived both edits")
	}
}
