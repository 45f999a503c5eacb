package bookmarks

import (
	"fmt"
	"strings"
	"time"
)

// IndexFileName is the generated index document aggregating all entries
// for human browsing. It is derived output: never diffed, never a merge
// input, regenerated on every remote write.
const IndexFileName = "README.md"

// RenderIndex renders the tree as a Markdown document with one section
// per folder and one list item per link.
func RenderIndex(root *Entry, generatedAt time.Time) []byte {
	tree := root.Clone()
	Normalize(tree)

	var b strings.Builder
	b.WriteString("# Bookmarks\n\n")
	fmt.Fprintf(&b, "%d bookmarks. Generated %s. Do not edit: this file is regenerated on every sync.\n",
		countLinks(tree), generatedAt.UTC().Format(time.RFC3339))
	renderFolder(&b, tree, 2)
	b.WriteString("\n")
	return []byte(b.String())
}

func renderFolder(b *strings.Builder, folder *Entry, level int) {
	wroteLinks := false
	for _, child := range folder.Children {
		if child.IsFolder() {
			continue
		}
		if !wroteLinks {
			b.WriteString("\n")
			wroteLinks = true
		}
		fmt.Fprintf(b, "- [%s](%s)\n", escapeMD(child.Title), child.URL)
	}
	for _, child := range folder.Children {
		if !child.IsFolder() {
			continue
		}
		fmt.Fprintf(b, "\n%s %s\n", strings.Repeat("#", min(level, 6)), escapeMD(child.Title))
		renderFolder(b, child, level+1)
	}
}

func escapeMD(s string) string {
	replacer := strings.NewReplacer("[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)")
	return replacer.Replace(s)
}

func countLinks(root *Entry) int {
	n := 0
	Walk(root, func(_ string, e *Entry) bool {
		if !e.IsFolder() {
			n++
		}
		return true
	})
	return n
}
