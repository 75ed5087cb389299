package remote

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"snipsync/internal/snip"
)

// Operation names accepted by MemoryStore.FailNext.
const (
	OpListSnippets  = "list_snippets"
	OpGetSnippet    = "get_snippet"
	OpListRevisions = "list_revisions"
	OpGetManifest   = "get_manifest"
	OpFetchFile     = "fetch_file"
)

// MemoryStore is an in-memory RemoteStore. It serves snippets in insertion
// order and revision histories oldest first, and can inject failures.
type MemoryStore struct {
	mu       sync.Mutex
	order    []string
	snippets map[string]*memSnippet
	content  map[string][]byte // file URL -> content
	pageSize int
	// lazyManifests leaves Revision.Files nil in listings.
	lazyManifests bool
	failures      map[string][]error
	calls         map[string]int
}

type memSnippet struct {
	snippet   snip.Snippet
	revisions []snip.Revision
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snippets: make(map[string]*memSnippet),
		content:  make(map[string][]byte),
		pageSize: 10,
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// SetPageSize sets the number of items per page.
func (m *MemoryStore) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.pageSize = n
	}
}

// SetLazyManifests makes revision listings omit manifests so they are
// fetched through GetManifest.
func (m *MemoryStore) SetLazyManifests(lazy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lazyManifests = lazy
}

// AddSnippet registers a snippet without history or files.
func (m *MemoryStore) AddSnippet(s snip.Snippet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snippets[s.ID]; !ok {
		m.order = append(m.order, s.ID)
	}
	m.snippets[s.ID] = &memSnippet{snippet: s}
}

// AddRevision appends a revision to the snippet's history and makes its
// files the snippet's current state.
func (m *MemoryStore) AddRevision(snippetID string, rev snip.Revision, files map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snippets[snippetID]
	if !ok {
		return fmt.Errorf("unknown snippet %s", snippetID)
	}
	rev.Files = m.storeFiles(s.snippet, rev.ID, files)
	s.revisions = append(s.revisions, rev)
	s.snippet.Files = rev.Files
	if rev.Date != "" {
		s.snippet.UpdatedOn = rev.Date
	}
	return nil
}

// SetCurrent replaces the snippet's current files without adding history.
func (m *MemoryStore) SetCurrent(snippetID, revisionID string, files map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snippets[snippetID]
	if !ok {
		return fmt.Errorf("unknown snippet %s", snippetID)
	}
	s.snippet.Files = m.storeFiles(s.snippet, revisionID, files)
	return nil
}

// storeFiles keeps content under URLs shaped like Bitbucket file links so
// the latest revision ID can be recovered from them.
func (m *MemoryStore) storeFiles(s snip.Snippet, revisionID string, files map[string]string) snip.Manifest {
	manifest := make(snip.Manifest, len(files))
	for name, data := range files {
		u := fmt.Sprintf("memory:///snippets/%s/%s/%s/files/%s", s.Workspace, s.ID, revisionID, name)
		m.content[u] = []byte(data)
		manifest[name] = snip.FileRef{Name: name, URL: u}
	}
	return manifest
}

// FailNext queues errors returned by the next calls of op, one per call.
func (m *MemoryStore) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

// Calls returns how many times op was invoked.
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// ServerError builds a FetchError like an HTTP failure of op.
func ServerError(op string, status int) error {
	return snip.NewHTTPFetchError(op, status, 0, &APIError{StatusCode: status, Body: http.StatusText(status)})
}

// begin counts a call and pops an injected failure. Callers hold m.mu.
func (m *MemoryStore) begin(ctx context.Context, op string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if q := m.failures[op]; len(q) > 0 {
		m.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (m *MemoryStore) ListSnippets(ctx context.Context, filter snip.SnippetFilter, cursor string) (snip.SnippetPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpListSnippets); err != nil {
		return snip.SnippetPage{}, err
	}

	var all []snip.Snippet
	for _, id := range m.order {
		s := m.snippets[id].snippet
		if filter.Workspace != "" && s.Workspace != "" && s.Workspace != filter.Workspace {
			continue
		}
		s.Files = nil
		all = append(all, s)
	}
	start, end, next, err := m.window(cursor, len(all))
	if err != nil {
		return snip.SnippetPage{}, err
	}
	return snip.SnippetPage{Snippets: all[start:end], Next: next}, nil
}

func (m *MemoryStore) GetSnippet(ctx context.Context, workspace, id string) (*snip.Snippet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpGetSnippet); err != nil {
		return nil, err
	}
	s, ok := m.snippets[id]
	if !ok {
		return nil, ServerError("get snippet", http.StatusNotFound)
	}
	out := s.snippet
	out.Files = copyManifest(s.snippet.Files)
	return &out, nil
}

func (m *MemoryStore) ListRevisions(ctx context.Context, s *snip.Snippet, cursor string) (snip.RevisionPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpListRevisions); err != nil {
		return snip.RevisionPage{}, err
	}
	ms, ok := m.snippets[s.ID]
	if !ok {
		return snip.RevisionPage{}, ServerError("list revisions", http.StatusNotFound)
	}
	start, end, next, err := m.window(cursor, len(ms.revisions))
	if err != nil {
		return snip.RevisionPage{}, err
	}
	revs := make([]snip.Revision, 0, end-start)
	for _, r := range ms.revisions[start:end] {
		if m.lazyManifests {
			r.Files = nil
		} else {
			r.Files = copyManifest(r.Files)
		}
		revs = append(revs, r)
	}
	return snip.RevisionPage{Revisions: revs, Next: next}, nil
}

func (m *MemoryStore) GetManifest(ctx context.Context, s *snip.Snippet, revisionID string) (snip.Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpGetManifest); err != nil {
		return nil, err
	}
	if ms, ok := m.snippets[s.ID]; ok {
		for _, r := range ms.revisions {
			if r.ID == revisionID {
				return copyManifest(r.Files), nil
			}
		}
	}
	return nil, ServerError("get manifest", http.StatusNotFound)
}

func (m *MemoryStore) FetchFile(ctx context.Context, ref snip.FileRef) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpFetchFile); err != nil {
		return nil, err
	}
	data, ok := m.content[ref.URL]
	if !ok {
		return nil, ServerError("fetch file", http.StatusNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) window(cursor string, total int) (start, end int, next string, err error) {
	if cursor != "" {
		start, err = strconv.Atoi(cursor)
		if err != nil || start < 0 || start > total {
			return 0, 0, "", &snip.FetchError{Op: "paginate", Kind: snip.FetchTerminal, Err: fmt.Errorf("invalid cursor %q", cursor)}
		}
	}
	end = start + m.pageSize
	if end >= total {
		return start, total, "", nil
	}
	return start, end, strconv.Itoa(end), nil
}

func copyManifest(in snip.Manifest) snip.Manifest {
	if in == nil {
		return nil
	}
	out := make(snip.Manifest, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Snippets returns the registered snippet IDs in insertion order.
func (m *MemoryStore) Snippets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}
