package testutil

import (
	"testing"

	"snipsync/internal/database"
	"snipsync/internal/docs"
	"snipsync/internal/gitrepo"
	"snipsync/internal/remote"
	"snipsync/internal/snip"
)

// TestCommitter is the committer identity used by SyncHarness.
var TestCommitter = snip.Identity{Name: "Snippet Sync", Email: "sync@example.com"}

// SyncHarness wires a SyncService to in-memory collaborators.
type SyncHarness struct {
	Remote  *remote.MemoryStore
	Repo    *gitrepo.Repo
	Ledger  *database.SQLiteDatabase
	Clock   *StubClock
	IDGen   *StubIDGenerator
	Timer   *RecordingTimer
	Retrier *snip.Retrier
	// Docs is nil unless WithDocs was called.
	Docs snip.DocGenerator
}

// NewSyncHarness creates a harness with an empty remote and repository.
func NewSyncHarness(t *testing.T) *SyncHarness {
	t.Helper()

	repo, err := gitrepo.NewMemory()
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	timer := NewRecordingTimer()
	return &SyncHarness{
		Remote:  remote.NewMemoryStore(),
		Repo:    repo,
		Ledger:  NewTestLedger(t),
		Clock:   FixedClock(),
		IDGen:   NewStubIDGenerator(),
		Timer:   timer,
		Retrier: snip.NewRetrier(snip.DefaultRetryPolicy(), snip.NewNopLogger()).WithTimer(timer.Factory()),
	}
}

// WithDocs enables document generation.
func (h *SyncHarness) WithDocs() *SyncHarness {
	h.Docs = docs.NewMarkdown()
	return h
}

// Service builds a SyncService over the harness collaborators. Each call
// returns a fresh service sharing the same remote and repository.
func (h *SyncHarness) Service() *snip.SyncService {
	return h.ServiceWith(h.Remote, h.Repo)
}

// ServiceWith is Service with the remote and repository replaced, for
// tests that wrap them to inject failures.
func (h *SyncHarness) ServiceWith(store snip.RemoteStore, repo snip.Repository) *snip.SyncService {
	return snip.NewSyncService(snip.Deps{
		Remote:    store,
		Repo:      repo,
		Staging:   NewTestStagingArea(),
		Retrier:   h.Retrier,
		Docs:      h.Docs,
		Ledger:    h.Ledger,
		Clock:     h.Clock,
		IDGen:     h.IDGen,
		Committer: TestCommitter,
	})
}
