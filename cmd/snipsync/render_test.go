package main

import (
	"bytes"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"snipsync/internal/config"
	"snipsync/internal/database"
	"snipsync/internal/snip"
)

func TestRenderSummary(t *testing.T) {
	s := &snip.RunSummary{
		RunRecord: snip.RunRecord{ID: "run-1", Mode: snip.ModeHistorical},
		Outcomes: []snip.EntityOutcome{
			{SnippetID: "s1", DirName: "Notes_s1", State: snip.StateDone, Commits: 3},
			{SnippetID: "s2", DirName: "Other_s2", State: snip.StateFailed, Commits: 1,
				SkippedRevisions: []string{"r2", "r3"}, Err: errors.New("revision r2: not found")},
		},
	}

	var buf bytes.Buffer
	renderSummary(&buf, s)
	// Footers are upper-cased by the table style.
	got := strings.ToLower(buf.String())

	for _, want := range []string{"Run run-1 (historical)", "Notes_s1", "revision r2: not found", "partial", "1 failed"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}

func TestRenderRuns(t *testing.T) {
	started := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	runs := []*database.Run{
		{Seq: 2, ID: "run-2", Mode: "latest", StartedAt: started, Status: "running"},
		{Seq: 1, ID: "run-1", Mode: "historical", StartedAt: started, Status: "success",
			FinishedAt: sql.NullTime{Time: started.Add(1500 * time.Millisecond), Valid: true}},
	}

	var buf bytes.Buffer
	renderRuns(&buf, runs)
	got := buf.String()

	if !strings.Contains(got, "1.5s") {
		t.Errorf("finished run has no duration:\n%s", got)
	}
	if strings.Index(got, "run-2") > strings.Index(got, "run-1") {
		t.Errorf("runs not rendered in the given order:\n%s", got)
	}
}

func TestRenderOutcomes(t *testing.T) {
	var buf bytes.Buffer
	renderOutcomes(&buf, []*database.Outcome{
		{SnippetID: "s1", Title: "Notes", State: "done", Unchanged: true},
		{SnippetID: "s2", Title: "Other", State: "failed", SkippedRevisions: []string{"r2", "r3"}, Error: "boom"},
	})
	got := buf.String()

	for _, want := range []string{"done (unchanged)", "r2 r3", "boom"} {
		if !strings.Contains(got, want) {
			t.Errorf("outcomes missing %q:\n%s", want, got)
		}
	}
}

func TestRenderConfig(t *testing.T) {
	cfg := config.NewConfig("host-1", "/data")
	cfg.Vaults = []config.VaultConfig{{Type: "s3", Name: "offsite"}}

	var buf bytes.Buffer
	renderConfig(&buf, cfg)
	got := buf.String()

	for _, want := range []string{"host-1", "/data/repo", "Vault offsite", "SNIPSYNC_APP_PASSWORD"} {
		if !strings.Contains(got, want) {
			t.Errorf("config missing %q:\n%s", want, got)
		}
	}
}
