package snip

import "context"

// RemoteStore is the read-only client of the remote snippet API.
// Implementations return *FetchError so the Retrier can tell transient
// failures from terminal ones.
type RemoteStore interface {
	// ListSnippets returns one page of snippets. An empty cursor starts the listing.
	ListSnippets(ctx context.Context, filter SnippetFilter, cursor string) (SnippetPage, error)

	// GetSnippet returns a snippet with its latest file manifest.
	GetSnippet(ctx context.Context, workspace, id string) (*Snippet, error)

	// ListRevisions returns one page of a snippet's revision history, in
	// the order the remote declares it.
	ListRevisions(ctx context.Context, snippet *Snippet, cursor string) (RevisionPage, error)

	// GetManifest returns the file manifest of one revision.
	GetManifest(ctx context.Context, snippet *Snippet, revisionID string) (Manifest, error)

	// FetchFile returns the raw bytes referenced by ref.
	FetchFile(ctx context.Context, ref FileRef) ([]byte, error)
}
