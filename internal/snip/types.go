package snip

import (
	"sort"
	"time"
)

// Snippet is a remotely hosted bundle of files with a revision history.
type Snippet struct {
	ID        string
	Title     string
	Workspace string // workspace slug used for per-snippet API calls
	HTMLURL   string
	Owner     Author
	CreatedOn string // raw remote timestamps, parsed by the translator
	UpdatedOn string
	// Files is the manifest of the latest known state.
	Files Manifest
}

// DisplayTitle returns the title, or a placeholder for untitled snippets.
func (s *Snippet) DisplayTitle() string {
	if s.Title != "" {
		return s.Title
	}
	return "Untitled_Snippet_" + s.ID
}

// Author is the raw author descriptor attached to a revision.
type Author struct {
	Raw         string // "Name <email>" as reported by the remote
	Nickname    string
	DisplayName string
}

// Revision is one historical state of a snippet.
// Files may be nil when the listing endpoint does not carry a manifest;
// it is then fetched on demand.
type Revision struct {
	ID      string
	Author  Author
	Date    string
	Message string
	Files   Manifest
	// Synthetic marks a revision built from the snippet's latest state
	// rather than read from its history.
	Synthetic bool
}

// ShortID returns the first seven characters of the revision ID.
func (r Revision) ShortID() string {
	if len(r.ID) > 7 {
		return r.ID[:7]
	}
	return r.ID
}

// FileRef points at the content of one file of one revision.
type FileRef struct {
	Name string
	URL  string
}

// Manifest maps file names to content references.
type Manifest map[string]FileRef

// Names returns the manifest's file names in sorted order.
func (m Manifest) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Identity is a name/email pair used for commit signatures.
type Identity struct {
	Name  string
	Email string
}

// Signature is an identity at a point in time.
type Signature struct {
	Identity
	When time.Time
}

// FileChangeSet is the difference between two manifests.
// Added and Modified both require a write; Removed requires a deletion.
type FileChangeSet struct {
	Added    []string
	Modified []string
	Removed  []string
}

// Writes returns every file name that must be written, sorted.
func (cs FileChangeSet) Writes() []string {
	writes := make([]string, 0, len(cs.Added)+len(cs.Modified))
	writes = append(writes, cs.Added...)
	writes = append(writes, cs.Modified...)
	sort.Strings(writes)
	return writes
}

// IsEmpty reports whether the change set has no writes and no removals.
func (cs FileChangeSet) IsEmpty() bool {
	return len(cs.Added) == 0 && len(cs.Modified) == 0 && len(cs.Removed) == 0
}

// CommitDescriptor is the canonical description of one local commit.
type CommitDescriptor struct {
	SnippetID  string
	RevisionID string
	Author     Signature
	Committer  Signature
	Message    string
	Changes    FileChangeSet
	// AllowEmpty permits a commit whose tree equals its parent's.
	AllowEmpty bool
}

// Mode selects how much history is materialized per snippet.
type Mode string

const (
	ModeLatest     Mode = "latest"
	ModeHistorical Mode = "historical"
)

// SnippetFilter selects snippets from a workspace listing.
type SnippetFilter struct {
	Workspace string
	Role      string // owner, contributor, member; empty for all
}

// SnippetPage is one page of a snippet listing.
type SnippetPage struct {
	Snippets []Snippet
	Next     string // empty when there are no more pages
}

// RevisionPage is one page of a snippet's revision history.
type RevisionPage struct {
	Revisions []Revision
	Next      string
}
