package snip

import "time"

// EntityState is a snippet's position in the sync state machine.
type EntityState string

const (
	StatePending         EntityState = "pending"
	StateFetching        EntityState = "fetching"
	StateReplayHistory   EntityState = "replay_history"
	StateSnapshotLatest  EntityState = "snapshot_latest"
	StatePerRevisionLoop EntityState = "per_revision_loop"
	StateDone            EntityState = "done"
	StateFailed          EntityState = "failed"
	// StateSkipped marks a snippet that was never started.
	StateSkipped EntityState = "skipped"
)

// Terminal reports whether no further transition is possible.
func (s EntityState) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateSkipped
}

// EntityOutcome is the result of syncing one snippet.
type EntityOutcome struct {
	SnippetID string
	Title     string
	DirName   string
	Mode      Mode
	State     EntityState
	// Commits is the number of commits created.
	Commits int
	// AlreadySynced counts revisions found in history and not re-committed.
	AlreadySynced int
	// Unchanged is set when a latest-only commit was a no-op.
	Unchanged bool
	// SkippedRevisions lists revisions not materialized because replay halted.
	SkippedRevisions []string
	Warnings         []string
	// LatestFiles is the file list of the last materialized revision.
	LatestFiles []string
	Err         error
}

// ErrorMessage returns the failure text, or "" when the outcome has no error.
func (o *EntityOutcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// RunRecord identifies one engine run.
type RunRecord struct {
	ID        string
	Mode      Mode
	StartedAt time.Time
}

// RunSummary is the ordered list of per-snippet outcomes of a run.
type RunSummary struct {
	RunRecord
	FinishedAt time.Time
	Outcomes   []EntityOutcome
	// Err is set when the run could not select its snippets.
	Err error
}

// Succeeded returns the number of snippets that reached Done.
func (s *RunSummary) Succeeded() int { return s.count(StateDone) }

// Failed returns the number of snippets that ended Failed.
func (s *RunSummary) Failed() int { return s.count(StateFailed) }

// Skipped returns the number of snippets that were never started.
func (s *RunSummary) Skipped() int { return s.count(StateSkipped) }

// Status summarizes the run as "success", "partial" or "error".
func (s *RunSummary) Status() string {
	switch {
	case s.Err != nil:
		return "error"
	case s.Failed() == 0 && s.Skipped() == 0:
		return "success"
	case s.Succeeded() > 0:
		return "partial"
	default:
		return "error"
	}
}

func (s *RunSummary) count(state EntityState) int {
	n := 0
	for i := range s.Outcomes {
		if s.Outcomes[i].State == state {
			n++
		}
	}
	return n
}
