package snip

import (
	"context"
	"regexp"
	"strings"
)

// Namer maps a snippet to the directory that holds its files.
type Namer interface {
	DirName(title, id string) string
}

// DocGenerator renders summary documents after a sync pass.
type DocGenerator interface {
	// SnippetDoc renders the per-snippet document for the given latest file list.
	SnippetDoc(snippet *Snippet, dirName string, files []string) []byte

	// IndexDoc renders the repository-wide index document.
	IndexDoc(entries []IndexEntry) []byte

	// Generated reports whether data is a per-snippet document this
	// generator produced, as opposed to a file the snippet carries itself.
	Generated(data []byte) bool
}

// IndexEntry is one snippet listed in the index document.
type IndexEntry struct {
	ID      string
	Title   string
	DirName string
	HTMLURL string
}

// DocFileName is the name of generated documents, both per snippet and at the root.
const DocFileName = "README.md"

var (
	unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	separatorRuns   = regexp.MustCompile(`[\s_.\-]+`)
)

// SanitizingNamer produces "<sanitized title>_<id>" directory names.
type SanitizingNamer struct{}

func (SanitizingNamer) DirName(title, id string) string {
	return SanitizeName(title) + "_" + id
}

// SanitizeName strips characters that are unsafe in file names, collapses
// whitespace and separator runs into a single underscore and truncates
// the result to 150 runes.
func SanitizeName(name string) string {
	name = unsafeNameChars.ReplaceAllString(name, "")
	name = separatorRuns.ReplaceAllString(name, "_")
	if r := []rune(name); len(r) > 150 {
		name = string(r[:150])
	}
	return strings.TrimSpace(name)
}

// Ledger records the outcome of each run.
type Ledger interface {
	CreateRun(ctx context.Context, run RunRecord) error
	RecordOutcome(ctx context.Context, runID string, outcome EntityOutcome) error
	FinishRun(ctx context.Context, runID string, summary *RunSummary) error
}
