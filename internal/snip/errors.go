package snip

import (
	"errors"
	"fmt"
	"time"
)

// ErrPageLimit is returned when a listing exceeds the page ceiling.
var ErrPageLimit = errors.New("page limit exceeded")

// ErrTreeMismatch is returned when the committed working tree does not
// match the revision manifest.
var ErrTreeMismatch = errors.New("working tree does not match revision manifest")

// ErrEmptyCommit is returned by Repository.Commit when nothing changed and
// the descriptor does not allow empty commits.
var ErrEmptyCommit = errors.New("nothing to commit")

// FetchKind classifies remote failures for the retry policy.
type FetchKind int

const (
	FetchTerminal FetchKind = iota
	FetchTransient
)

func (k FetchKind) String() string {
	if k == FetchTransient {
		return "transient"
	}
	return "terminal"
}

// FetchError is a failed remote call.
type FetchError struct {
	Op         string
	Kind       FetchKind
	StatusCode int           // 0 for network failures
	RetryAfter time.Duration // server hint, 0 when absent
	Attempts   int           // set once the retrier gives up
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: %s failure", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewHTTPFetchError classifies an HTTP status the way the retry policy expects:
// 429 and 500/502/503/504 are transient, everything else terminal.
func NewHTTPFetchError(op string, status int, retryAfter time.Duration, err error) *FetchError {
	kind := FetchTerminal
	switch status {
	case 429, 500, 502, 503, 504:
		kind = FetchTransient
	}
	return &FetchError{Op: op, Kind: kind, StatusCode: status, RetryAfter: retryAfter, Err: err}
}

// TranslationError is malformed revision data that was replaced by a fallback.
// It is reported as a warning and never aborts a revision.
type TranslationError struct {
	RevisionID string
	Field      string
	Reason     string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("revision %s: %s: %s", e.RevisionID, e.Field, e.Reason)
}

// ReconcileError is a working-tree I/O failure while applying a change set.
type ReconcileError struct {
	Path string
	Op   string // "write", "remove", "stage", "list", "read"
	Err  error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }

// CommitError is a failure of the underlying commit primitive.
type CommitError struct {
	RevisionID string
	Err        error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("committing revision %s: %v", e.RevisionID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
