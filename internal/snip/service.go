package snip

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Deps are the collaborators of a SyncService.
type Deps struct {
	Remote    RemoteStore
	Repo      Repository
	Staging   StagingArea
	Retrier   *Retrier
	Namer     Namer
	Docs      DocGenerator
	Ledger    Ledger // optional
	Logger    Logger
	Clock     Clock
	IDGen     IDGenerator
	Committer Identity
}

// SyncService is the orchestration layer that mirrors snippets into the
// repository one at a time, revision by revision.
// It owns the working tree for the duration of a run.
type SyncService struct {
	remote     RemoteStore
	repo       Repository
	reader     *RevisionReader
	translator *Translator
	reconciler *Reconciler
	retrier    *Retrier
	namer      Namer
	docs       DocGenerator
	ledger     Ledger
	logger     Logger
	clock      Clock
	idgen      IDGenerator
	committer  Identity
}

// NewSyncService creates a SyncService from its dependencies.
func NewSyncService(d Deps) *SyncService {
	if d.Logger == nil {
		d.Logger = NewNopLogger()
	}
	if d.Retrier == nil {
		d.Retrier = NewRetrier(DefaultRetryPolicy(), d.Logger)
	}
	if d.Namer == nil {
		d.Namer = SanitizingNamer{}
	}
	if d.Clock == nil {
		d.Clock = RealClock{}
	}
	if d.IDGen == nil {
		d.IDGen = UUIDGenerator{}
	}
	return &SyncService{
		remote:     d.Remote,
		repo:       d.Repo,
		reader:     NewRevisionReader(d.Remote, d.Retrier),
		translator: NewTranslator(d.Committer),
		reconciler: NewReconciler(d.Repo, d.Remote, d.Retrier, d.Staging, d.Logger).WithDocs(d.Docs),
		retrier:    d.Retrier,
		namer:      d.Namer,
		docs:       d.Docs,
		ledger:     d.Ledger,
		logger:     d.Logger,
		clock:      d.Clock,
		idgen:      d.IDGen,
		committer:  d.Committer,
	}
}

// SyncRequest selects the snippets of a run and how much history to replay.
type SyncRequest struct {
	Mode   Mode
	Filter SnippetFilter
	// SnippetIDs, when set, replaces the workspace listing.
	SnippetIDs []string
}

// selection is one snippet chosen for a run, or the failure to fetch it.
type selection struct {
	id      string
	snippet *Snippet
	err     error
}

// SyncAll runs the engine over every selected snippet. A failing snippet is
// recorded and the run moves on to the next one. The returned error is
// reserved for failures that prevent the run itself, such as a failed
// workspace listing or an unusable ledger.
func (s *SyncService) SyncAll(ctx context.Context, req SyncRequest) (*RunSummary, error) {
	if req.Mode == "" {
		req.Mode = ModeLatest
	}
	summary := &RunSummary{RunRecord: RunRecord{ID: s.idgen.New(), Mode: req.Mode, StartedAt: s.clock.Now()}}

	if s.ledger != nil {
		if err := s.ledger.CreateRun(ctx, summary.RunRecord); err != nil {
			return nil, fmt.Errorf("recording run start: %w", err)
		}
	}
	s.logger.Info("sync started", "run", summary.ID, "mode", req.Mode, "workspace", req.Filter.Workspace)

	selected, err := s.selectSnippets(ctx, req)
	if err != nil {
		summary.Err = err
		s.finish(ctx, summary)
		return summary, err
	}

	snippets := make(map[string]*Snippet)
	for _, sel := range selected {
		var outcome EntityOutcome
		switch {
		case ctx.Err() != nil:
			outcome = EntityOutcome{SnippetID: sel.id, Title: sel.id, Mode: req.Mode, State: StateSkipped, Err: ctx.Err()}
		case sel.err != nil:
			outcome = EntityOutcome{SnippetID: sel.id, Title: sel.id, Mode: req.Mode, State: StateFailed, Err: sel.err}
			s.logger.Error("snippet unavailable", "snippet", sel.id, "error", sel.err)
		case sel.snippet.ID == "":
			outcome = EntityOutcome{Title: sel.snippet.DisplayTitle(), Mode: req.Mode, State: StateSkipped,
				Warnings: []string{"snippet data has no id"}}
			s.logger.Warn("snippet without id skipped", "title", sel.snippet.Title)
		default:
			outcome = s.SyncSnippet(ctx, sel.snippet, req.Mode)
			snippets[sel.snippet.ID] = sel.snippet
		}
		summary.Outcomes = append(summary.Outcomes, outcome)

		if s.ledger != nil {
			if err := s.ledger.RecordOutcome(context.WithoutCancel(ctx), summary.ID, outcome); err != nil {
				s.logger.Error("recording outcome failed", "snippet", outcome.SnippetID, "error", err)
			}
		}
	}

	if ctx.Err() == nil && s.docs != nil {
		if err := s.writeDocs(ctx, summary, snippets); err != nil {
			s.logger.Error("updating documentation failed", "error", err)
		}
	}

	s.finish(ctx, summary)
	s.logger.Info("sync finished", "run", summary.ID, "succeeded", summary.Succeeded(), "failed", summary.Failed(), "skipped", summary.Skipped())
	return summary, nil
}

func (s *SyncService) finish(ctx context.Context, summary *RunSummary) {
	summary.FinishedAt = s.clock.Now()
	if s.ledger == nil {
		return
	}
	// Ledger writes outlive cancellation so an interrupted run is still closed out.
	if err := s.ledger.FinishRun(context.WithoutCancel(ctx), summary.ID, summary); err != nil {
		s.logger.Error("recording run finish failed", "run", summary.ID, "error", err)
	}
}

// selectSnippets resolves the allowlist, or lists the workspace.
func (s *SyncService) selectSnippets(ctx context.Context, req SyncRequest) ([]selection, error) {
	if len(req.SnippetIDs) > 0 {
		var out []selection
		for _, id := range req.SnippetIDs {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			var snippet *Snippet
			err := s.retrier.Do(ctx, "get snippet", func(ctx context.Context) error {
				var err error
				snippet, err = s.remote.GetSnippet(ctx, req.Filter.Workspace, id)
				return err
			})
			if err != nil {
				out = append(out, selection{id: id, err: fmt.Errorf("fetching snippet %s: %w", id, err)})
				continue
			}
			if snippet.Workspace == "" {
				snippet.Workspace = req.Filter.Workspace
			}
			out = append(out, selection{id: id, snippet: snippet})
		}
		return out, nil
	}

	var out []selection
	cursor := ""
	for pages := 0; ; pages++ {
		if pages >= MaxPages {
			return out, fmt.Errorf("listing snippets of %s: %w", req.Filter.Workspace, ErrPageLimit)
		}
		var page SnippetPage
		c := cursor
		err := s.retrier.Do(ctx, "list snippets", func(ctx context.Context) error {
			var err error
			page, err = s.remote.ListSnippets(ctx, req.Filter, c)
			return err
		})
		if err != nil {
			return out, fmt.Errorf("listing snippets of %s: %w", req.Filter.Workspace, err)
		}
		for i := range page.Snippets {
			snippet := page.Snippets[i]
			if snippet.Workspace == "" {
				snippet.Workspace = req.Filter.Workspace
			}
			out = append(out, selection{id: snippet.ID, snippet: &snippet})
		}
		if page.Next == "" {
			return out, nil
		}
		cursor = page.Next
	}
}

// SyncSnippet drives one snippet through the state machine and returns its
// outcome. It never returns a partially applied revision: a failure leaves
// the working tree at the last commit.
func (s *SyncService) SyncSnippet(ctx context.Context, snippet *Snippet, mode Mode) EntityOutcome {
	o := EntityOutcome{
		SnippetID: snippet.ID,
		Title:     snippet.DisplayTitle(),
		DirName:   s.namer.DirName(snippet.DisplayTitle(), snippet.ID),
		Mode:      mode,
		State:     StatePending,
	}
	s.transition(&o, StateFetching)

	var err error
	if mode == ModeHistorical {
		s.transition(&o, StateReplayHistory)
		err = s.replayHistory(ctx, snippet, &o)
	} else {
		s.transition(&o, StateSnapshotLatest)
		err = s.snapshotLatest(ctx, snippet, &o, false)
	}

	if err != nil {
		o.Err = err
		s.transition(&o, StateFailed)
		s.logger.Error("snippet sync failed", "snippet", snippet.ID, "commits", o.Commits, "skipped_revisions", len(o.SkippedRevisions), "error", err)
		return o
	}
	s.transition(&o, StateDone)
	s.logger.Info("snippet synced", "snippet", snippet.ID, "dir", o.DirName, "commits", o.Commits, "already_synced", o.AlreadySynced, "unchanged", o.Unchanged)
	return o
}

func (s *SyncService) transition(o *EntityOutcome, to EntityState) {
	s.logger.Debug("snippet state", "snippet", o.SnippetID, "from", o.State, "to", to)
	o.State = to
}

// snapshotLatest materializes only the snippet's current state.
// In latest-only mode the commit is always attempted; an unchanged tree is
// reported as a no-op. In historical mode (a snippet without history) the
// synthetic revision gets its own commit unless history already has it.
func (s *SyncService) snapshotLatest(ctx context.Context, snippet *Snippet, o *EntityOutcome, historical bool) error {
	detail, rev, err := s.reader.Latest(ctx, snippet)
	if err != nil {
		return err
	}
	if historical {
		committed, err := s.repo.CommittedRevisions(ctx, snippet.ID)
		if err != nil {
			return fmt.Errorf("reading committed revisions: %w", err)
		}
		if _, ok := committed[rev.ID]; ok {
			o.AlreadySynced++
			o.LatestFiles = rev.Files.Names()
			return nil
		}
	}
	s.transition(o, StatePerRevisionLoop)
	_, _, err = s.commitRevision(ctx, detail, rev, nil, time.Time{}, historical, o)
	return err
}

// replayHistory commits every revision oldest to newest. Revisions at the
// head of the history that are already committed are skipped; once a new
// revision has been committed every later one is materialized as well, so
// the working tree always follows the remote order. Replay halts at the
// first failing revision.
func (s *SyncService) replayHistory(ctx context.Context, snippet *Snippet, o *EntityOutcome) error {
	committed, err := s.repo.CommittedRevisions(ctx, snippet.ID)
	if err != nil {
		return fmt.Errorf("reading committed revisions: %w", err)
	}

	stream := s.reader.Stream(snippet)
	var prev Manifest // nil: the working tree stands in for the previous manifest
	var prevWhen time.Time
	inPrefix := true

	for stream.Next(ctx) {
		rev := stream.Revision()
		if o.State != StatePerRevisionLoop {
			s.transition(o, StatePerRevisionLoop)
		}

		if _, ok := committed[rev.ID]; ok && inPrefix {
			o.AlreadySynced++
			if ts, err := ParseTimestamp(rev.Date); err == nil {
				prevWhen = ts
			}
			continue
		}
		inPrefix = false

		if err := ctx.Err(); err != nil {
			s.skipRemaining(ctx, rev, stream, o)
			return fmt.Errorf("replay interrupted before revision %s: %w", rev.ShortID(), err)
		}

		files, when, err := s.commitRevision(ctx, snippet, rev, prev, prevWhen, true, o)
		if err != nil {
			s.skipRemaining(ctx, rev, stream, o)
			return fmt.Errorf("revision %s: %w", rev.ShortID(), err)
		}
		prev, prevWhen = files, when
	}
	if err := stream.Err(); err != nil {
		return err
	}

	if stream.Yielded() == 0 {
		s.logger.Info("snippet has no revision history, using latest state", "snippet", snippet.ID)
		return s.snapshotLatest(ctx, snippet, o, true)
	}
	return nil
}

// skipRemaining reports the failed revision and every later one the stream
// can still name.
func (s *SyncService) skipRemaining(ctx context.Context, failed Revision, stream *RevisionStream, o *EntityOutcome) {
	o.SkippedRevisions = append(o.SkippedRevisions, failed.ID)
	for stream.Next(ctx) {
		o.SkippedRevisions = append(o.SkippedRevisions, stream.Revision().ID)
	}
	if err := stream.Err(); err != nil {
		o.Warnings = append(o.Warnings, fmt.Sprintf("list of skipped revisions is incomplete: %v", err))
	}
}

// commitRevision materializes one revision and commits it. It returns the
// revision's manifest and commit timestamp for the next step of a replay.
func (s *SyncService) commitRevision(ctx context.Context, snippet *Snippet, rev Revision, prev Manifest, prevWhen time.Time, allowEmpty bool, o *EntityOutcome) (Manifest, time.Time, error) {
	files, err := s.reader.Manifest(ctx, snippet, rev)
	if err != nil {
		return nil, time.Time{}, err
	}

	desc, problems := s.translator.Translate(snippet, rev, prevWhen)
	for _, p := range problems {
		o.Warnings = append(o.Warnings, p.Error())
		s.logger.Warn("revision data degraded", "snippet", snippet.ID, "revision", rev.ShortID(), "field", p.Field, "reason", p.Reason)
	}
	if !prevWhen.IsZero() && desc.Author.When.Before(prevWhen) {
		o.Warnings = append(o.Warnings, fmt.Sprintf("revision %s is dated before its predecessor", rev.ShortID()))
		s.logger.Warn("revision timestamp goes backwards", "snippet", snippet.ID, "revision", rev.ShortID(), "when", desc.Author.When, "previous", prevWhen)
	}

	cs, err := s.reconciler.Materialize(ctx, o.DirName, prev, files)
	if err != nil {
		return nil, time.Time{}, err
	}
	desc.Changes = cs
	desc.AllowEmpty = allowEmpty

	commitID, err := s.repo.Commit(ctx, desc)
	switch {
	case err == nil:
		o.Commits++
		s.logger.Info("revision committed", "snippet", snippet.ID, "revision", rev.ShortID(), "commit", shortHash(commitID),
			"added", len(cs.Added), "modified", len(cs.Modified), "removed", len(cs.Removed), "date", desc.Author.When.Format(time.RFC3339))
	case errors.Is(err, ErrEmptyCommit) && !allowEmpty:
		o.Unchanged = true
		s.logger.Info("no changes to commit", "snippet", snippet.ID, "revision", rev.ShortID())
	default:
		if discardErr := s.repo.Discard(ctx); discardErr != nil {
			s.logger.Error("discarding uncommitted changes failed", "snippet", snippet.ID, "error", discardErr)
		}
		return nil, time.Time{}, &CommitError{RevisionID: rev.ID, Err: err}
	}

	if err := s.reconciler.Verify(ctx, o.DirName, files); err != nil {
		return nil, time.Time{}, err
	}
	o.LatestFiles = files.Names()
	return files, desc.Author.When, nil
}

// writeDocs regenerates the per-snippet documents and the root index and
// commits them as the committer, dated now. Nothing is committed when the
// documents did not change.
func (s *SyncService) writeDocs(ctx context.Context, summary *RunSummary, snippets map[string]*Snippet) error {
	var entries []IndexEntry
	for i := range summary.Outcomes {
		o := &summary.Outcomes[i]
		snippet, ok := snippets[o.SnippetID]
		if !ok || o.DirName == "" {
			continue
		}

		if o.State == StateDone {
			if contains(o.LatestFiles, DocFileName) {
				s.logger.Warn("snippet carries its own document, not overwriting", "snippet", o.SnippetID, "file", DocFileName)
			} else {
				doc := s.docs.SnippetDoc(snippet, o.DirName, o.LatestFiles)
				if err := s.repo.WriteFile(ctx, path.Join(o.DirName, DocFileName), doc); err != nil {
					return s.discardDocs(ctx, fmt.Errorf("writing document for %s: %w", o.SnippetID, err))
				}
			}
		}

		files, err := s.repo.ListFiles(ctx, o.DirName)
		if err != nil {
			return s.discardDocs(ctx, fmt.Errorf("listing %s: %w", o.DirName, err))
		}
		if len(files) == 0 {
			continue
		}
		entries = append(entries, IndexEntry{ID: o.SnippetID, Title: o.Title, DirName: o.DirName, HTMLURL: snippet.HTMLURL})
	}

	if err := s.repo.WriteFile(ctx, DocFileName, s.docs.IndexDoc(entries)); err != nil {
		return s.discardDocs(ctx, fmt.Errorf("writing index document: %w", err))
	}

	now := s.clock.Now()
	_, err := s.repo.Commit(ctx, CommitDescriptor{
		Author:    Signature{Identity: s.committer, When: now},
		Committer: Signature{Identity: s.committer, When: now},
		Message:   fmt.Sprintf("Update snippet documentation\n\nIndex lists %d snippet(s).\n", len(entries)),
	})
	if err != nil && !errors.Is(err, ErrEmptyCommit) {
		return s.discardDocs(ctx, fmt.Errorf("committing documentation: %w", err))
	}
	return nil
}

func (s *SyncService) discardDocs(ctx context.Context, err error) error {
	if discardErr := s.repo.Discard(ctx); discardErr != nil {
		return errors.Join(err, discardErr)
	}
	return err
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
