package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"snipsync/internal/snip"
)

// DefaultBaseURL is the Bitbucket Cloud API root.
const DefaultBaseURL = "https://api.bitbucket.org/2.0"

// revisionPageSize is the number of revisions served per page once a
// history has been read.
const revisionPageSize = 50

// BitbucketStore reads snippets from the Bitbucket Cloud 2.0 API.
// Every failure is returned as a *snip.FetchError so the retry policy can
// classify it; BitbucketStore itself never retries.
type BitbucketStore struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	mu      sync.Mutex
	history map[string][]snip.Revision // reads with pages left to serve, oldest first
}

// NewBitbucketStore creates a client authenticating with an app password.
func NewBitbucketStore(baseURL, username, password string) *BitbucketStore {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &BitbucketStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		history:    make(map[string][]snip.Revision),
	}
}

// WithHTTPClient replaces the HTTP client.
func (b *BitbucketStore) WithHTTPClient(c *http.Client) *BitbucketStore {
	b.httpClient = c
	return b
}

type apiLink struct {
	Href string `json:"href"`
}

type apiUser struct {
	Nickname    string `json:"nickname"`
	DisplayName string `json:"display_name"`
}

type apiFile struct {
	Links struct {
		Self apiLink `json:"self"`
	} `json:"links"`
}

type apiSnippet struct {
	Type      string  `json:"type"`
	ID        apiID   `json:"id"`
	Title     string  `json:"title"`
	CreatedOn string  `json:"created_on"`
	UpdatedOn string  `json:"updated_on"`
	Owner     apiUser `json:"owner"`
	Workspace struct {
		Slug string `json:"slug"`
	} `json:"workspace"`
	Links struct {
		HTML apiLink `json:"html"`
	} `json:"links"`
	Files map[string]apiFile `json:"files"`
}

type apiCommit struct {
	Hash    string `json:"hash"`
	Date    string `json:"date"`
	Message string `json:"message"`
	Author  struct {
		Raw         string  `json:"raw"`
		User        apiUser `json:"user"`
		Nickname    string  `json:"nickname"`
		DisplayName string  `json:"display_name"`
	} `json:"author"`
}

type apiPage[T any] struct {
	Values []T    `json:"values"`
	Next   string `json:"next"`
}

// apiID accepts both numeric and string snippet IDs.
type apiID string

func (id *apiID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = apiID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("snippet id: %w", err)
	}
	*id = apiID(n.String())
	return nil
}

// ListSnippets returns one page of the workspace's snippets. The cursor is
// the "next" URL of the previous page.
func (b *BitbucketStore) ListSnippets(ctx context.Context, filter snip.SnippetFilter, cursor string) (snip.SnippetPage, error) {
	endpoint := cursor
	if endpoint == "" {
		q := url.Values{}
		if filter.Role != "" {
			q.Set("role", filter.Role)
		}
		endpoint = b.endpoint("snippets", filter.Workspace)
		if len(q) > 0 {
			endpoint += "?" + q.Encode()
		}
	}

	var page apiPage[apiSnippet]
	if err := b.getJSON(ctx, "list snippets", endpoint, &page); err != nil {
		return snip.SnippetPage{}, err
	}
	out := snip.SnippetPage{Next: page.Next}
	for _, s := range page.Values {
		out.Snippets = append(out.Snippets, b.toSnippet(s, filter.Workspace))
	}
	return out, nil
}

// GetSnippet returns the snippet's current state including its file manifest.
func (b *BitbucketStore) GetSnippet(ctx context.Context, workspace, id string) (*snip.Snippet, error) {
	var s apiSnippet
	if err := b.getJSON(ctx, "get snippet", b.endpoint("snippets", workspace, id), &s); err != nil {
		return nil, err
	}
	if s.Type != "" && s.Type != "snippet" {
		return nil, &snip.FetchError{Op: "get snippet", Kind: snip.FetchTerminal, Err: fmt.Errorf("unexpected object type %q", s.Type)}
	}
	out := b.toSnippet(s, workspace)
	return &out, nil
}

// ListRevisions returns the snippet's history oldest first. Bitbucket lists
// commits newest first, so the first call reads every page and later calls
// are served from that read until its last page has been returned; a
// cursor of "" always starts a fresh read.
func (b *BitbucketStore) ListRevisions(ctx context.Context, s *snip.Snippet, cursor string) (snip.RevisionPage, error) {
	var revs []snip.Revision
	offset := 0
	if cursor == "" {
		var err error
		if revs, err = b.readHistory(ctx, s); err != nil {
			return snip.RevisionPage{}, err
		}
	} else {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return snip.RevisionPage{}, &snip.FetchError{Op: "list revisions", Kind: snip.FetchTerminal, Err: fmt.Errorf("invalid cursor %q", cursor)}
		}
		b.mu.Lock()
		cached, ok := b.history[s.ID]
		b.mu.Unlock()
		if !ok {
			return snip.RevisionPage{}, &snip.FetchError{Op: "list revisions", Kind: snip.FetchTerminal, Err: fmt.Errorf("cursor %q has no history read in progress", cursor)}
		}
		revs = cached
		offset = n
	}

	if offset > len(revs) {
		offset = len(revs)
	}
	end := offset + revisionPageSize
	if end > len(revs) {
		end = len(revs)
	}
	page := snip.RevisionPage{Revisions: revs[offset:end]}
	b.mu.Lock()
	if end < len(revs) {
		page.Next = strconv.Itoa(end)
		b.history[s.ID] = revs
	} else {
		delete(b.history, s.ID)
	}
	b.mu.Unlock()
	return page, nil
}

func (b *BitbucketStore) readHistory(ctx context.Context, s *snip.Snippet) ([]snip.Revision, error) {
	var newestFirst []snip.Revision
	next := b.endpoint("snippets", s.Workspace, s.ID, "commits")
	for pages := 0; next != ""; pages++ {
		if pages >= snip.MaxPages {
			return nil, &snip.FetchError{Op: "list revisions", Kind: snip.FetchTerminal, Err: snip.ErrPageLimit}
		}
		var page apiPage[apiCommit]
		if err := b.getJSON(ctx, "list revisions", next, &page); err != nil {
			return nil, err
		}
		for _, c := range page.Values {
			newestFirst = append(newestFirst, toRevision(c))
		}
		next = page.Next
	}

	revs := make([]snip.Revision, len(newestFirst))
	for i, r := range newestFirst {
		revs[len(newestFirst)-1-i] = r
	}
	return revs, nil
}

// GetManifest reads the file list of one revision.
func (b *BitbucketStore) GetManifest(ctx context.Context, s *snip.Snippet, revisionID string) (snip.Manifest, error) {
	var detail apiSnippet
	if err := b.getJSON(ctx, "get manifest", b.endpoint("snippets", s.Workspace, s.ID, revisionID), &detail); err != nil {
		return nil, err
	}
	m := make(snip.Manifest, len(detail.Files))
	for name := range detail.Files {
		m[name] = snip.FileRef{Name: name, URL: b.endpoint("snippets", s.Workspace, s.ID, revisionID, "files", name)}
	}
	return m, nil
}

// FetchFile downloads raw file content.
func (b *BitbucketStore) FetchFile(ctx context.Context, ref snip.FileRef) ([]byte, error) {
	resp, err := b.do(ctx, "fetch file", ref.URL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &snip.FetchError{Op: "fetch file", Kind: snip.FetchTransient, Err: fmt.Errorf("reading %s: %w", ref.Name, err)}
	}
	return data, nil
}

func (b *BitbucketStore) toSnippet(s apiSnippet, fallbackWorkspace string) snip.Snippet {
	out := snip.Snippet{
		ID:        string(s.ID),
		Title:     s.Title,
		Workspace: s.Workspace.Slug,
		HTMLURL:   s.Links.HTML.Href,
		Owner:     snip.Author{Nickname: s.Owner.Nickname, DisplayName: s.Owner.DisplayName},
		CreatedOn: s.CreatedOn,
		UpdatedOn: s.UpdatedOn,
	}
	if out.Workspace == "" {
		out.Workspace = s.Owner.Nickname
	}
	if out.Workspace == "" {
		out.Workspace = fallbackWorkspace
	}
	if s.Files != nil {
		out.Files = make(snip.Manifest, len(s.Files))
		for name, f := range s.Files {
			ref := snip.FileRef{Name: name, URL: f.Links.Self.Href}
			if ref.URL == "" {
				ref.URL = b.endpoint("snippets", out.Workspace, out.ID, "files", name)
			}
			out.Files[name] = ref
		}
	}
	return out
}

func toRevision(c apiCommit) snip.Revision {
	a := snip.Author{Raw: c.Author.Raw, Nickname: c.Author.User.Nickname, DisplayName: c.Author.User.DisplayName}
	if a.Nickname == "" {
		a.Nickname = c.Author.Nickname
	}
	if a.DisplayName == "" {
		a.DisplayName = c.Author.DisplayName
	}
	return snip.Revision{ID: c.Hash, Author: a, Date: c.Date, Message: c.Message}
}

// endpoint joins path segments onto the base URL, escaping each one.
func (b *BitbucketStore) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return b.baseURL + "/" + strings.Join(escaped, "/")
}

func (b *BitbucketStore) getJSON(ctx context.Context, op, endpoint string, v any) error {
	resp, err := b.do(ctx, op, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &snip.FetchError{Op: op, Kind: snip.FetchTerminal, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// do issues an authenticated GET. Non-2xx responses are closed and returned
// as a *snip.FetchError carrying the status and any Retry-After hint.
func (b *BitbucketStore) do(ctx context.Context, op, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &snip.FetchError{Op: op, Kind: snip.FetchTerminal, Err: fmt.Errorf("creating request: %w", err)}
	}
	if b.username != "" {
		req.SetBasicAuth(b.username, b.password)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &snip.FetchError{Op: op, Kind: snip.FetchTransient, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		return nil, snip.NewHTTPFetchError(op, resp.StatusCode, ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()), apiErr)
	}
	return resp, nil
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ParseRetryAfter reads a Retry-After header given either in seconds or as
// an HTTP date. It returns 0 when the header is absent or unusable.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
