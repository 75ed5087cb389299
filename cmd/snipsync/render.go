package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"snipsync/internal/config"
	"snipsync/internal/database"
	"snipsync/internal/snip"
)

const timeLayout = "2006-01-02 15:04:05"

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

// renderSummary prints one row per snippet of a finished run.
func renderSummary(w io.Writer, s *snip.RunSummary) {
	tw := newTable(w)
	tw.SetTitle(fmt.Sprintf("Run %s (%s)", s.ID, s.Mode))
	tw.AppendHeader(table.Row{"Snippet", "Directory", "State", "Commits", "Already synced", "Skipped revisions", "Error"})
	for i := range s.Outcomes {
		o := &s.Outcomes[i]
		state := string(o.State)
		if o.Unchanged {
			state += " (unchanged)"
		}
		tw.AppendRow(table.Row{o.SnippetID, o.DirName, state, o.Commits, o.AlreadySynced, len(o.SkippedRevisions), o.ErrorMessage()})
	}
	tw.AppendFooter(table.Row{"", "", s.Status(),
		fmt.Sprintf("%d done", s.Succeeded()), fmt.Sprintf("%d failed", s.Failed()), fmt.Sprintf("%d skipped", s.Skipped()), errorText(s.Err)})
	tw.Render()
}

func renderRuns(w io.Writer, runs []*database.Run) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"#", "Run", "Mode", "Started", "Status", "Duration"})
	for _, r := range runs {
		duration := ""
		if r.FinishedAt.Valid {
			duration = r.FinishedAt.Time.Sub(r.StartedAt).Truncate(time.Millisecond).String()
		}
		tw.AppendRow(table.Row{r.Seq, r.ID, r.Mode, r.StartedAt.Local().Format(timeLayout), r.Status, duration})
	}
	tw.Render()
}

func renderOutcomes(w io.Writer, outcomes []*database.Outcome) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Snippet", "Title", "State", "Commits", "Already synced", "Skipped revisions", "Warnings", "Error"})
	for _, o := range outcomes {
		state := o.State
		if o.Unchanged {
			state += " (unchanged)"
		}
		tw.AppendRow(table.Row{o.SnippetID, o.Title, state, o.Commits, o.AlreadySynced,
			strings.Join(o.SkippedRevisions, " "), strings.Join(o.Warnings, "\n"), o.Error})
	}
	tw.Render()
}

func renderConfig(w io.Writer, cfg *config.Config) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Setting", "Value"})
	tw.AppendRows([]table.Row{
		{"Host ID", cfg.HostID},
		{"Base Dir", cfg.BaseDir},
		{"Log Dir", cfg.LogDir},
		{"Remote", fmt.Sprintf("%s %s", cfg.Remote.Type, cfg.Remote.BaseURL)},
		{"Account", cfg.Remote.Username},
		{"Workspace", cfg.Remote.Workspace},
		{"Password env", cfg.Remote.PasswordEnv},
		{"Repository", fmt.Sprintf("%s %s", cfg.Repository.Type, cfg.Repository.Path)},
		{"Committer", fmt.Sprintf("%s <%s>", cfg.Committer.Name, cfg.Committer.Email)},
		{"Historical", cfg.Sync.Historical},
		{"Retry", fmt.Sprintf("%d attempts, base delay %s", cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay)},
		{"Database", fmt.Sprintf("%s %s", cfg.Database.Type, cfg.Database.DataDir)},
		{"Encryption", cfg.Encryption.Type},
	})
	for _, v := range cfg.Vaults {
		tw.AppendRow(table.Row{"Vault " + v.Name, v.Type})
	}
	tw.Render()
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
