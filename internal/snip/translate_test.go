package snip_test

import (
	"strings"
	"testing"
	"time"

	"snipsync/internal/snip"
)

func TestParseAuthor(t *testing.T) {
	tests := []struct {
		name   string
		author snip.Author
		want   snip.Identity
		wantOK bool
	}{
		{
			name:   "name and email",
			author: snip.Author{Raw: "Alice Smith <alice@example.com>"},
			want:   snip.Identity{Name: "Alice Smith", Email: "alice@example.com"},
			wantOK: true,
		},
		{
			name:   "name only gets placeholder email",
			author: snip.Author{Raw: "Bob O'Neil"},
			want:   snip.Identity{Name: "Bob O'Neil", Email: "bob-o-neil@users.noreply.snipsync.invalid"},
			wantOK: true,
		},
		{
			name:   "email only",
			author: snip.Author{Raw: "<carol@example.com>"},
			want:   snip.Identity{Name: snip.UnknownAuthorName, Email: "carol@example.com"},
			wantOK: true,
		},
		{
			name:   "nickname fallback",
			author: snip.Author{Nickname: "dave", DisplayName: "Dave D"},
			want:   snip.Identity{Name: "dave", Email: "dave@users.noreply.snipsync.invalid"},
			wantOK: true,
		},
		{
			name:   "display name fallback",
			author: snip.Author{DisplayName: "Eve"},
			want:   snip.Identity{Name: "Eve", Email: "eve@users.noreply.snipsync.invalid"},
			wantOK: true,
		},
		{
			name:   "nothing usable",
			author: snip.Author{Raw: "   "},
			want:   snip.Identity{Name: snip.UnknownAuthorName, Email: "unknown@users.noreply.snipsync.invalid"},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := snip.ParseAuthor(tt.author)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseAuthor() = %+v, %v; want %+v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestPlaceholderEmail_IsStable(t *testing.T) {
	if snip.PlaceholderEmail("Zoë Q") != snip.PlaceholderEmail("Zoë Q") {
		t.Error("PlaceholderEmail() differs between calls")
	}
	if got := snip.PlaceholderEmail("--"); got != "unknown@users.noreply.snipsync.invalid" {
		t.Errorf("PlaceholderEmail(%q) = %q", "--", got)
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2020, 3, 4, 5, 6, 7, 0, time.UTC)
	for _, in := range []string{"2020-03-04T05:06:07+00:00", "2020-03-04T05:06:07Z", "2020-03-04T05:06:07", " 2020-03-04 05:06:07 "} {
		got, err := snip.ParseTimestamp(in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q) error = %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", in, got, want)
		}
	}
	for _, in := range []string{"", "yesterday"} {
		if _, err := snip.ParseTimestamp(in); err == nil {
			t.Errorf("ParseTimestamp(%q) expected error", in)
		}
	}
}

func TestTranslator_Translate(t *testing.T) {
	committer := snip.Identity{Name: "Bot", Email: "bot@example.com"}
	tr := snip.NewTranslator(committer)
	s := &snip.Snippet{ID: "s1", Title: "Notes"}

	t.Run("author and committer stay separate", func(t *testing.T) {
		rev := snip.Revision{ID: "abcdef0123", Author: snip.Author{Raw: "Alice <alice@example.com>"}, Date: "2021-01-02T03:04:05+00:00", Message: "tweak"}
		desc, problems := tr.Translate(s, rev, time.Time{})
		if len(problems) != 0 {
			t.Errorf("problems = %v, want none", problems)
		}
		if desc.Author.Identity != (snip.Identity{Name: "Alice", Email: "alice@example.com"}) {
			t.Errorf("Author = %+v", desc.Author)
		}
		if desc.Committer.Identity != committer {
			t.Errorf("Committer = %+v, want %+v", desc.Committer, committer)
		}
		want := time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC)
		if !desc.Author.When.Equal(want) || !desc.Committer.When.Equal(want) {
			t.Errorf("dates = %v / %v, want %v", desc.Author.When, desc.Committer.When, want)
		}
		if desc.SnippetID != "s1" || desc.RevisionID != "abcdef0123" {
			t.Errorf("ids = %s/%s", desc.SnippetID, desc.RevisionID)
		}
	})

	t.Run("malformed date falls back to predecessor", func(t *testing.T) {
		prev := time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)
		desc, problems := tr.Translate(s, snip.Revision{ID: "r2", Author: snip.Author{Raw: "A"}, Date: "garbage"}, prev)
		if !desc.Author.When.Equal(prev) {
			t.Errorf("Author.When = %v, want %v", desc.Author.When, prev)
		}
		if len(problems) != 1 || problems[0].Field != "date" {
			t.Errorf("problems = %v, want one date problem", problems)
		}
	})

	t.Run("missing date without predecessor uses epoch", func(t *testing.T) {
		desc, problems := tr.Translate(s, snip.Revision{ID: "r1"}, time.Time{})
		if !desc.Author.When.Equal(time.Unix(0, 0)) {
			t.Errorf("Author.When = %v, want epoch", desc.Author.When)
		}
		if len(problems) != 2 {
			t.Errorf("problems = %v, want author and date problems", problems)
		}
	})
}

func TestCommitMessage(t *testing.T) {
	s := &snip.Snippet{ID: "s1", Title: "Deploy notes"}

	msg := snip.CommitMessage(s, snip.Revision{ID: "0123456789", Message: "  fix typo \n"})
	if !strings.HasPrefix(msg, "Snippet: Deploy notes (ID: s1)\nRev: 0123456\n\nfix typo\n") {
		t.Errorf("CommitMessage() = %q", msg)
	}
	id, rev := snip.ParseTrailers(msg)
	if id != "s1" || rev != "0123456789" {
		t.Errorf("ParseTrailers() = %q, %q; want s1, 0123456789", id, rev)
	}

	if msg := snip.CommitMessage(s, snip.Revision{ID: "0123456789"}); !strings.Contains(msg, "\n\nRevision 0123456\n") {
		t.Errorf("CommitMessage() without message = %q", msg)
	}

	if id, rev := snip.ParseTrailers("Update snippet documentation\n"); id != "" || rev != "" {
		t.Errorf("ParseTrailers() on foreign commit = %q, %q", id, rev)
	}
}

func TestSanitizingNamer(t *testing.T) {
	tests := []struct {
		title, id, want string
	}{
		{"Deploy notes", "x1", "Deploy_notes_x1"},
		{`a<b>c:d"e/f\g|h?i*j`, "x2", "abcdefghij_x2"},
		{"many   spaces -- and...dots", "x3", "many_spaces_and_dots_x3"},
		{strings.Repeat("é", 200), "x4", strings.Repeat("é", 150) + "_x4"},
	}
	for _, tt := range tests {
		if got := (snip.SanitizingNamer{}).DirName(tt.title, tt.id); got != tt.want {
			t.Errorf("DirName(%q, %q) = %q, want %q", tt.title, tt.id, got, tt.want)
		}
	}
}
