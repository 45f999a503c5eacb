package bookmarks

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// FolderFileName is the per-folder metadata file. Every folder in the
// remote layout is a directory containing one of these plus its
// children's files.
const FolderFileName = ".folder.json"

// LegacyFileName is the single-document layout used before the
// per-file format. It is kept in place after migration as its own
// backup and never read as an entry file.
const LegacyFileName = "bookmarks.json"

// FileEntry is the on-repo representation of a single entry: one JSON
// file per bookmark or folder. Children are expressed by nested paths,
// never embedded.
type FileEntry struct {
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Validate checks the FileEntry for the invariants the layout relies on.
func (f *FileEntry) Validate() error {
	switch f.Kind {
	case KindFolder:
		if f.URL != "" {
			return fmt.Errorf("folder entry must not carry a url")
		}
	case KindLink:
		if f.URL == "" {
			return fmt.Errorf("link entry requires a url")
		}
	default:
		return fmt.Errorf("unknown entry kind %q", f.Kind)
	}
	if f.Title == "" && f.Kind == KindLink {
		return fmt.Errorf("link entry requires a title")
	}
	return nil
}

// Marshal renders the file content. Pretty-printed so hand edits in the
// repository stay pleasant.
func (f *FileEntry) Marshal() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("cannot marshal invalid entry: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ParseFileEntry parses one remote file's content.
func ParseFileEntry(content []byte) (*FileEntry, error) {
	var f FileEntry
	if err := json.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("failed to parse entry file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid entry file: %w", err)
	}
	return &f, nil
}

// LinkFileName returns the canonical file name for a link: a sanitized
// title plus eight hex characters of SHA-256(url), so renames keep the
// file recognizable while URL uniqueness keeps names collision-free.
func LinkFileName(title, url string) string {
	sum := sha256.Sum256([]byte(url))
	return fmt.Sprintf("%s-%s.json", slug(title), hex.EncodeToString(sum[:4]))
}

// slug makes a string safe for use as a path segment.
func slug(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.' || r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(strings.TrimSpace(b.String()), ".")
	if out == "" {
		return "untitled"
	}
	if len(out) > 80 {
		out = out[:80]
	}
	return out
}

// Files flattens a tree into the per-file remote layout: path relative
// to the profile's base path -> file content. The tree is normalized
// first so the layout is deterministic.
func Files(root *Entry) (map[string][]byte, error) {
	tree := root.Clone()
	Normalize(tree)
	files := make(map[string][]byte)
	if err := flattenFolder(tree, "", files); err != nil {
		return nil, err
	}
	return files, nil
}

func flattenFolder(folder *Entry, dir string, files map[string][]byte) error {
	taken := make(map[string]bool)
	for _, child := range folder.Children {
		if child.IsFolder() {
			name := uniqueSegment(slug(child.Title), taken)
			sub := path.Join(dir, name)
			meta := &FileEntry{Kind: KindFolder, Title: child.Title, CreatedAt: child.CreatedAt}
			content, err := meta.Marshal()
			if err != nil {
				return fmt.Errorf("folder %q: %w", child.Title, err)
			}
			files[path.Join(sub, FolderFileName)] = content
			if err := flattenFolder(child, sub, files); err != nil {
				return err
			}
			continue
		}
		entry := &FileEntry{Kind: KindLink, Title: child.Title, URL: child.URL, CreatedAt: child.CreatedAt}
		content, err := entry.Marshal()
		if err != nil {
			return fmt.Errorf("link %q: %w", child.Title, err)
		}
		files[path.Join(dir, LinkFileName(child.Title, child.URL))] = content
	}
	return nil
}

// uniqueSegment disambiguates sibling folders whose titles sanitize to
// the same segment. Deterministic because children are normalized.
func uniqueSegment(name string, taken map[string]bool) string {
	candidate := name
	for i := 2; taken[candidate]; i++ {
		candidate = fmt.Sprintf("%s-%d", name, i)
	}
	taken[candidate] = true
	return candidate
}

// TreeFromFiles rebuilds a tree from a remote file listing. Folder
// titles come from .folder.json metadata; a directory that only exists
// through hand-placed link files falls back to its directory name.
// Unparseable files fail the whole assembly - a half-read remote
// snapshot must never become a merge input.
func TreeFromFiles(files map[string][]byte) (*Entry, error) {
	root := NewRoot()
	folders := map[string]*Entry{"": root}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	// Directories first so titles are in place before links arrive.
	for _, p := range paths {
		if path.Base(p) != FolderFileName {
			continue
		}
		meta, err := ParseFileEntry(files[p])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if meta.Kind != KindFolder {
			return nil, fmt.Errorf("%s: expected folder metadata, got %q", p, meta.Kind)
		}
		folder := ensureDir(root, folders, path.Dir(p))
		folder.Title = meta.Title
		folder.CreatedAt = meta.CreatedAt
	}

	for _, p := range paths {
		if path.Base(p) == FolderFileName {
			continue
		}
		entry, err := ParseFileEntry(files[p])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if entry.Kind != KindLink {
			return nil, fmt.Errorf("%s: expected link entry, got %q", p, entry.Kind)
		}
		folder := ensureDir(root, folders, path.Dir(p))
		folder.Children = append(folder.Children, &Entry{
			Kind:      KindLink,
			Title:     entry.Title,
			URL:       entry.URL,
			CreatedAt: entry.CreatedAt,
		})
	}

	Normalize(root)
	return root, nil
}

func ensureDir(root *Entry, folders map[string]*Entry, dir string) *Entry {
	if dir == "." {
		dir = ""
	}
	if f, ok := folders[dir]; ok {
		return f
	}
	parent := ensureDir(root, folders, path.Dir(dir))
	f := NewFolder(path.Base(dir))
	parent.Children = append(parent.Children, f)
	folders[dir] = f
	return f
}
