package snip

import (
	"context"
	"fmt"
	"regexp"
)

// MaxPages caps every paginated listing.
const MaxPages = 100

// revisionInFileURL extracts the revision hash from a file self link such as
// https://api.bitbucket.org/2.0/snippets/ws/id/<rev>/files/name.
var revisionInFileURL = regexp.MustCompile(`/snippets/[^/]+/[^/]+/([^/]+)/files/`)

// RevisionReader reads snippet revisions through the Retrier.
type RevisionReader struct {
	remote  RemoteStore
	retrier *Retrier
}

// NewRevisionReader creates a RevisionReader.
func NewRevisionReader(remote RemoteStore, retrier *Retrier) *RevisionReader {
	return &RevisionReader{remote: remote, retrier: retrier}
}

// Stream returns a lazy iterator over the snippet's revision history.
// Each call starts a fresh iteration from the first page.
func (rr *RevisionReader) Stream(snippet *Snippet) *RevisionStream {
	return &RevisionStream{reader: rr, snippet: snippet}
}

// Latest fetches the snippet's current state and returns it as a single
// synthetic revision.
func (rr *RevisionReader) Latest(ctx context.Context, snippet *Snippet) (*Snippet, Revision, error) {
	var detail *Snippet
	err := rr.retrier.Do(ctx, "get snippet", func(ctx context.Context) error {
		var err error
		detail, err = rr.remote.GetSnippet(ctx, snippet.Workspace, snippet.ID)
		return err
	})
	if err != nil {
		return nil, Revision{}, fmt.Errorf("fetching latest state of snippet %s: %w", snippet.ID, err)
	}
	if detail.Workspace == "" {
		detail.Workspace = snippet.Workspace
	}
	return detail, LatestRevision(detail), nil
}

// LatestRevision builds the synthetic revision that represents a snippet's
// current state.
func LatestRevision(s *Snippet) Revision {
	rev := Revision{
		ID:        s.ID,
		Date:      s.UpdatedOn,
		Message:   fmt.Sprintf("Latest state of snippet '%s'", s.DisplayTitle()),
		Files:     s.Files,
		Synthetic: true,
	}
	if rev.Date == "" {
		rev.Date = s.CreatedOn
	}
	for _, name := range s.Files.Names() {
		if m := revisionInFileURL.FindStringSubmatch(s.Files[name].URL); m != nil {
			rev.ID = m[1]
			break
		}
	}

	name := s.Owner.Nickname
	if name == "" {
		name = s.Owner.DisplayName
	}
	rev.Author = Author{Nickname: s.Owner.Nickname, DisplayName: s.Owner.DisplayName}
	if name != "" {
		rev.Author.Raw = name
	}
	return rev
}

// Manifest returns the revision's file manifest, fetching it when the
// listing did not include one.
func (rr *RevisionReader) Manifest(ctx context.Context, snippet *Snippet, rev Revision) (Manifest, error) {
	if rev.Files != nil {
		return rev.Files, nil
	}
	var m Manifest
	err := rr.retrier.Do(ctx, "get manifest", func(ctx context.Context) error {
		var err error
		m, err = rr.remote.GetManifest(ctx, snippet, rev.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching manifest of revision %s: %w", rev.ShortID(), err)
	}
	if m == nil {
		m = Manifest{}
	}
	return m, nil
}

// RevisionStream iterates a snippet's revisions page by page, preserving
// the remote order. A failed page ends the iteration with Err set; the
// stream never reports a truncated history as complete.
type RevisionStream struct {
	reader  *RevisionReader
	snippet *Snippet

	buf     []Revision
	cursor  string
	started bool
	done    bool
	pages   int
	yielded int
	cur     Revision
	err     error
}

// Next advances to the next revision. It returns false at the end of the
// history or on error; check Err to tell them apart.
func (s *RevisionStream) Next(ctx context.Context) bool {
	for len(s.buf) == 0 {
		if s.err != nil || s.done {
			return false
		}
		if s.started && s.cursor == "" {
			s.done = true
			return false
		}
		if s.pages >= MaxPages {
			s.err = fmt.Errorf("listing revisions of snippet %s: %w", s.snippet.ID, ErrPageLimit)
			return false
		}

		cursor := s.cursor
		var page RevisionPage
		err := s.reader.retrier.Do(ctx, "list revisions", func(ctx context.Context) error {
			var err error
			page, err = s.reader.remote.ListRevisions(ctx, s.snippet, cursor)
			return err
		})
		if err != nil {
			s.err = fmt.Errorf("listing revisions of snippet %s (page %d): %w", s.snippet.ID, s.pages+1, err)
			return false
		}
		s.started = true
		s.pages++
		s.buf = page.Revisions
		s.cursor = page.Next
	}

	s.cur = s.buf[0]
	s.buf = s.buf[1:]
	s.yielded++
	return true
}

// Revision returns the current revision.
func (s *RevisionStream) Revision() Revision { return s.cur }

// Err returns the error that ended the iteration, if any.
func (s *RevisionStream) Err() error { return s.err }

// Yielded returns how many revisions the stream has produced so far.
func (s *RevisionStream) Yielded() int { return s.yielded }
