package snip

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	UnknownAuthorName = "Unknown Author"
	placeholderDomain = "users.noreply.snipsync.invalid"
)

// Translator maps remote revisions to commit descriptors.
type Translator struct {
	committer Identity
}

// NewTranslator creates a Translator that signs every commit with the
// given committer identity.
func NewTranslator(committer Identity) *Translator {
	return &Translator{committer: committer}
}

// Translate builds the commit descriptor for rev. prevWhen is the timestamp
// of the preceding revision and stands in for a missing or malformed one.
// Malformed author or date data degrades to placeholders and is returned as
// TranslationErrors; it never fails the revision.
func (t *Translator) Translate(snippet *Snippet, rev Revision, prevWhen time.Time) (CommitDescriptor, []*TranslationError) {
	var problems []*TranslationError

	author, ok := ParseAuthor(rev.Author)
	if !ok {
		problems = append(problems, &TranslationError{RevisionID: rev.ID, Field: "author", Reason: "no usable author data, using placeholder"})
	}

	when, err := ParseTimestamp(rev.Date)
	if err != nil {
		when = prevWhen
		if when.IsZero() {
			when = time.Unix(0, 0).UTC()
		}
		problems = append(problems, &TranslationError{RevisionID: rev.ID, Field: "date", Reason: fmt.Sprintf("%v, using %s", err, when.Format(time.RFC3339))})
	}

	return CommitDescriptor{
		SnippetID:  snippet.ID,
		RevisionID: rev.ID,
		Author:     Signature{Identity: author, When: when},
		Committer:  Signature{Identity: t.committer, When: when},
		Message:    CommitMessage(snippet, rev),
	}, problems
}

// ParseAuthor extracts a display name and email from a raw author descriptor.
// It returns false when nothing usable was found and the unknown-author
// placeholder was used.
func ParseAuthor(a Author) (Identity, bool) {
	raw := strings.TrimSpace(a.Raw)
	var id Identity

	if open := strings.Index(raw, "<"); open >= 0 && strings.Contains(raw[open:], ">") {
		id.Name = strings.TrimSpace(raw[:open])
		id.Email = strings.TrimSpace(raw[open+1 : open+strings.Index(raw[open:], ">")])
	} else {
		id.Name = raw
	}

	if id.Name == "" {
		id.Name = strings.TrimSpace(a.Nickname)
	}
	if id.Name == "" {
		id.Name = strings.TrimSpace(a.DisplayName)
	}

	if id.Name == "" && id.Email == "" {
		return Identity{Name: UnknownAuthorName, Email: PlaceholderEmail("")}, false
	}
	if id.Name == "" {
		id.Name = UnknownAuthorName
	}
	if id.Email == "" {
		id.Email = PlaceholderEmail(id.Name)
	}
	return id, true
}

// PlaceholderEmail returns a stable, undeliverable address derived from an
// author name, so the same author always maps to the same address.
func PlaceholderEmail(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	local := strings.TrimRight(b.String(), "-")
	if local == "" {
		local = "unknown"
	}
	return local + "@" + placeholderDomain
}

// ParseTimestamp parses a remote ISO-8601 timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("malformed timestamp %q", s)
}

// CommitMessage renders the commit message for a revision. The trailing
// Snippet-Id and Snippet-Revision lines identify the revision in history.
func CommitMessage(snippet *Snippet, rev Revision) string {
	summary := strings.TrimSpace(rev.Message)
	if summary == "" {
		summary = "Revision " + rev.ShortID()
	}
	return fmt.Sprintf("Snippet: %s (ID: %s)\nRev: %s\n\n%s\n\n%s: %s\n%s: %s\n",
		snippet.DisplayTitle(), snippet.ID,
		rev.ShortID(),
		summary,
		TrailerSnippetID, snippet.ID,
		TrailerRevision, rev.ID,
	)
}

const (
	TrailerSnippetID = "Snippet-Id"
	TrailerRevision  = "Snippet-Revision"
)

// ParseTrailers returns the snippet and revision IDs recorded in a commit
// message, or empty strings when the message carries none.
func ParseTrailers(message string) (snippetID, revisionID string) {
	for _, line := range strings.Split(message, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case TrailerSnippetID:
			snippetID = strings.TrimSpace(value)
		case TrailerRevision:
			revisionID = strings.TrimSpace(value)
		}
	}
	return snippetID, revisionID
}
