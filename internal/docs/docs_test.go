package docs

import (
	"strings"
	"testing"

	"snipsync/internal/snip"
)

func TestMarkdown_SnippetDoc(t *testing.T) {
	m := NewMarkdown()

	t.Run("lists files sorted with escaped links", func(t *testing.T) {
		s := &snip.Snippet{ID: "x1", Title: "Deploy notes", HTMLURL: "https://bitbucket.org/snippets/acme/x1"}
		got := string(m.SnippetDoc(s, "Deploy_notes_x1", []string{"z.sh", "my file.txt"}))

		if !strings.HasPrefix(got, "# Deploy notes\n") {
			t.Errorf("doc does not start with title:\n%s", got)
		}
		if !strings.Contains(got, "**Original Snippet ID:** `x1`") {
			t.Errorf("doc missing snippet id:\n%s", got)
		}
		if !strings.Contains(got, "(https://bitbucket.org/snippets/acme/x1)") {
			t.Errorf("doc missing link:\n%s", got)
		}
		first := strings.Index(got, "[my file.txt](./my%20file.txt)")
		second := strings.Index(got, "[z.sh](./z.sh)")
		if first < 0 || second < 0 || first > second {
			t.Errorf("files not listed in sorted order:\n%s", got)
		}
	})

	t.Run("empty snippet", func(t *testing.T) {
		got := string(m.SnippetDoc(&snip.Snippet{ID: "e"}, "Untitled_Snippet_e_e", nil))
		if !strings.Contains(got, "# Untitled_Snippet_e") {
			t.Errorf("placeholder title missing:\n%s", got)
		}
		if !strings.Contains(got, "No files found") {
			t.Errorf("empty notice missing:\n%s", got)
		}
	})
}

func TestMarkdown_IndexDoc(t *testing.T) {
	m := NewMarkdown()

	t.Run("sorts by lower-cased title", func(t *testing.T) {
		got := string(m.IndexDoc([]snip.IndexEntry{
			{ID: "b", Title: "beta", DirName: "beta_b"},
			{ID: "a", Title: "Alpha", DirName: "Alpha_a"},
		}))
		alpha := strings.Index(got, "- [Alpha (ID: a)](Alpha_a/README.md)")
		beta := strings.Index(got, "- [beta (ID: b)](beta_b/README.md)")
		if alpha < 0 || beta < 0 || alpha > beta {
			t.Errorf("index not sorted by title:\n%s", got)
		}
	})

	t.Run("is deterministic", func(t *testing.T) {
		entries := []snip.IndexEntry{{ID: "a", Title: "A", DirName: "A_a"}}
		if string(m.IndexDoc(entries)) != string(m.IndexDoc(entries)) {
			t.Error("IndexDoc() output differs between calls")
		}
	})

	t.Run("empty index", func(t *testing.T) {
		got := string(m.IndexDoc(nil))
		if !strings.Contains(got, "No snippets have been backed up yet.") {
			t.Errorf("empty notice missing:\n%s", got)
		}
	})
}

func TestMarkdown_Generated(t *testing.T) {
	m := NewMarkdown()
	s := &snip.Snippet{ID: "x1", Title: "Deploy notes"}

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"snippet doc", m.SnippetDoc(s, "Deploy_notes_x1", []string{"a.txt"}), true},
		{"empty snippet doc", m.SnippetDoc(&snip.Snippet{ID: "e"}, "e", nil), true},
		{"index doc", m.IndexDoc(nil), false},
		{"hand-written readme", []byte("# Deploy notes\n\nRun make deploy.\n"), false},
		{"empty file", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Generated(tt.data); got != tt.want {
				t.Errorf("Generated() = %v, want %v", got, tt.want)
			}
		})
	}
}
