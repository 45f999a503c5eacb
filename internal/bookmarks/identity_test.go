package bookmarks

import "testing"

// TestLinkIdentitySurvivesRenameAndMove verifies a link keeps its key
// through title edits and relocation.
func TestLinkIdentitySurvivesRenameAndMove(t *testing.T) {
	before := NewRoot(NewLink("News", "https://news.example.com"))
	after := NewRoot(NewFolder("Reading", NewLink("Headlines", "https://news.example.com")))

	key := LinkKey("https://news.example.com")
	if _, ok := Index(before)[key]; !ok {
		t.Fatal("link key missing from the original tree")
	}
	loc, ok := Index(after)[key]
	if !ok {
		t.Fatal("link key missing after rename+move")
	}
	if loc.ParentPath != "Reading" || loc.Entry.Title != "Headlines" {
		t.Errorf("located %q under %q, want Headlines under Reading", loc.Entry.Title, loc.ParentPath)
	}
}

// TestLinkIdentityChangesWithURL verifies a URL edit produces a new key.
func TestLinkIdentityChangesWithURL(t *testing.T) {
	if LinkKey("https://a.example.com") == LinkKey("https://b.example.com") {
		t.Error("different URLs produced the same key")
	}
}

// TestFolderOrdinals verifies same-titled folders in different branches
// get distinct ordinals in depth-first preorder.
func TestFolderOrdinals(t *testing.T) {
	root := NewRoot(
		NewFolder("Work", NewFolder("Archive")),
		NewFolder("Home", NewFolder("Archive")),
	)
	idx := Index(root)

	first, ok := idx[FolderKey("Archive", 0)]
	if !ok {
		t.Fatal("first Archive folder missing from index")
	}
	second, ok := idx[FolderKey("Archive", 1)]
	if !ok {
		t.Fatal("second Archive folder missing from index")
	}
	if first.ParentPath != "Work" || second.ParentPath != "Home" {
		t.Errorf("ordinals assigned as %q then %q, want Work then Home", first.ParentPath, second.ParentPath)
	}
}

// TestIndexDuplicateURLFirstWins verifies duplicate links collapse onto
// one key deterministically.
func TestIndexDuplicateURLFirstWins(t *testing.T) {
	root := NewRoot(
		NewLink("First", "https://dup.example.com"),
		NewLink("Second", "https://dup.example.com"),
	)
	idx := Index(root)
	loc, ok := idx[LinkKey("https://dup.example.com")]
	if !ok {
		t.Fatal("duplicate URL key missing")
	}
	if loc.Entry.Title != "First" {
		t.Errorf("duplicate URL resolved to %q, want the first occurrence", loc.Entry.Title)
	}
}
