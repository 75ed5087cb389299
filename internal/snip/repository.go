package snip

import "context"

// Repository is the version-control surface the engine commits through.
// All paths are slash-separated and relative to the repository root.
type Repository interface {
	// WriteFile writes data to path, creating parent directories, and stages it.
	WriteFile(ctx context.Context, path string, data []byte) error

	// RemoveFile deletes path from the working tree and the index.
	// Removing a path that does not exist is not an error.
	RemoveFile(ctx context.Context, path string) error

	// StageAll stages every change under dir, including deletions.
	StageAll(ctx context.Context, dir string) error

	// Commit records the staged tree with the descriptor's independent
	// author and committer signatures and returns the commit ID.
	// It returns ErrEmptyCommit when nothing changed and d.AllowEmpty is false.
	Commit(ctx context.Context, d CommitDescriptor) (string, error)

	// ReadFile returns the working tree content of path.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// ListFiles returns the files under dir, relative to dir, sorted.
	// A missing dir yields an empty list.
	ListFiles(ctx context.Context, dir string) ([]string, error)

	// Discard drops every uncommitted change in the working tree.
	Discard(ctx context.Context) error

	// CommittedRevisions returns the revision IDs already committed for
	// a snippet, mapped to their commit IDs.
	CommittedRevisions(ctx context.Context, snippetID string) (map[string]string, error)
}
