// Package docs renders the README documents committed next to mirrored snippets.
package docs

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"snipsync/internal/snip"
)

// Markdown renders per-snippet and index documents as Markdown.
// Output depends only on its input, so an unchanged remote produces
// unchanged documents and no commit.
type Markdown struct {
	// Heading is the index document's title.
	Heading string
}

var _ snip.DocGenerator = Markdown{}

// NewMarkdown creates a Markdown generator with the default heading.
func NewMarkdown() Markdown {
	return Markdown{Heading: "Bitbucket Snippets Backup"}
}

func (m Markdown) SnippetDoc(s *snip.Snippet, dirName string, files []string) []byte {
	var b strings.Builder
	title := s.DisplayTitle()

	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Original Snippet ID:** `%s`\n", s.ID)
	if s.HTMLURL != "" {
		fmt.Fprintf(&b, "**Bitbucket Link:** [%s](%s)\n", title, s.HTMLURL)
	}
	b.WriteString("\n## Files in this Snippet\n\n")

	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	if len(sorted) == 0 {
		b.WriteString("No files found in the latest revision of this snippet.\n")
	}
	for _, f := range sorted {
		fmt.Fprintf(&b, "- [%s](./%s)\n", path.Base(f), escapePath(f))
	}
	return []byte(b.String())
}

// snippetDocMarker is the line every per-snippet document starts its body with.
const snippetDocMarker = "\n**Original Snippet ID:** `"

func (m Markdown) Generated(data []byte) bool {
	return bytes.HasPrefix(data, []byte("# ")) && bytes.Contains(data, []byte(snippetDocMarker))
}

func (m Markdown) IndexDoc(entries []snip.IndexEntry) []byte {
	var b strings.Builder
	heading := m.Heading
	if heading == "" {
		heading = "Snippets"
	}

	fmt.Fprintf(&b, "# %s\n\n", heading)
	b.WriteString("This repository mirrors Bitbucket snippets, one directory per snippet.\n\n")
	b.WriteString("## Snippets Index\n\n")

	sorted := append([]snip.IndexEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := strings.ToLower(sorted[i].Title), strings.ToLower(sorted[j].Title)
		if ti != tj {
			return ti < tj
		}
		return sorted[i].ID < sorted[j].ID
	})
	if len(sorted) == 0 {
		b.WriteString("No snippets have been backed up yet.\n")
	}
	for _, e := range sorted {
		fmt.Fprintf(&b, "- [%s (ID: %s)](%s/%s)\n", e.Title, e.ID, url.PathEscape(e.DirName), snip.DocFileName)
	}
	return []byte(b.String())
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
