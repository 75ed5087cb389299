package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"snipsync/internal/config"
	"snipsync/internal/database"
	"snipsync/internal/encryption"
	"snipsync/internal/remote"
	"snipsync/internal/snip"
	"snipsync/internal/testutil"
	"snipsync/internal/vault"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig("host-1", t.TempDir())
	cfg.Remote = config.RemoteConfig{Type: "memory", Workspace: "acme"}
	cfg.Repository = config.RepositoryConfig{Type: "memory"}
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Encryption = config.EncryptionConfig{Type: "test"}
	cfg.Vaults = []config.VaultConfig{{Type: "memory", Name: "mem"}}
	cfg.Retry = config.RetryConfig{MaxAttempts: 1}
	return cfg
}

func seededStore(t *testing.T) *remote.MemoryStore {
	t.Helper()
	store := remote.NewMemoryStore()
	store.AddSnippet(snip.Snippet{ID: "s1", Title: "Notes", Workspace: "acme"})
	for i, id := range []string{"r1", "r2"} {
		rev := snip.Revision{ID: id, Author: snip.Author{Raw: "Alice <alice@example.com>"}, Date: time.Date(2020, 1, i+1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)}
		if err := store.AddRevision("s1", rev, map[string]string{"a.txt": id}); err != nil {
			t.Fatalf("AddRevision() error = %v", err)
		}
	}
	return store
}

func newTestApp(t *testing.T, cfg *config.Config, store snip.RemoteStore) *SyncApp {
	t.Helper()
	a, err := newSyncApp(cfg, Options{Operation: "Sync"}, store)
	if err != nil {
		t.Fatalf("newSyncApp() error = %v", err)
	}
	return a
}

func TestSyncApp_SyncRecordsRunAndSnapshotsLedger(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t), seededStore(t))
	v := a.vault

	summary, err := a.Sync(ctx, SyncOptions{Historical: true})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if summary.Status() != "success" || summary.Outcomes[0].Commits != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if !a.op.Recorded() || a.op.RunID != summary.ID {
		t.Errorf("operation = %+v, want run %s recorded", a.op, summary.ID)
	}
	if !strings.Contains(a.op.Parameters, "mode=historical workspace=acme") {
		t.Errorf("Parameters = %q", a.op.Parameters)
	}

	runs, err := a.History(ctx, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(runs) != 1 || runs[0].ID != summary.ID {
		t.Fatalf("History() = %+v", runs)
	}

	run, outcomes, err := a.Show(ctx, summary.ID)
	if err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	if run.Status != "success" || len(outcomes) != 1 || outcomes[0].SnippetID != "s1" {
		t.Errorf("Show() = %+v, %+v", run, outcomes)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	version, err := v.GetMetadataVersion("host-1", ledgerName)
	if err != nil {
		t.Fatalf("GetMetadataVersion() error = %v", err)
	}
	if version != 1 {
		t.Errorf("snapshot version = %d, want 1", version)
	}
	var buf bytes.Buffer
	if err := v.GetMetadata("host-1", ledgerName, &buf); err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("SNIPENC\x00SQLite format 3\x00")) {
		t.Errorf("snapshot is not an encrypted sqlite database: %q", buf.Bytes()[:min(32, buf.Len())])
	}
}

func TestSyncApp_ReadOnlyCommandsDoNotSnapshot(t *testing.T) {
	a := newTestApp(t, testConfig(t), seededStore(t))
	v := a.vault

	if _, err := a.History(context.Background(), 5); err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if _, _, err := a.Show(context.Background(), "nope"); err == nil {
		t.Error("Show() expected error for unknown run")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if version, _ := v.GetMetadataVersion("host-1", ledgerName); version != 0 {
		t.Errorf("snapshot version = %d, want none", version)
	}
}

func TestSyncApp_ListingFailureIsRecorded(t *testing.T) {
	store := seededStore(t)
	store.FailNext(remote.OpListSnippets, remote.ServerError("list snippets", 403))
	a := newTestApp(t, testConfig(t), store)
	defer a.Close()

	summary, err := a.Sync(context.Background(), SyncOptions{})
	if err == nil {
		t.Fatal("Sync() expected error")
	}
	if summary == nil || a.op.Status != "error" || !a.op.Recorded() {
		t.Errorf("summary = %+v, operation = %+v", summary, a.op)
	}
}

func TestSyncApp_RefusesLedgerBehindVault(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	cfg.Vaults = []config.VaultConfig{{Type: "filesystem", Name: "fs", FSVaultRoot: root}}

	fv, err := vault.NewFileSystemVault("fs", root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	if err := fv.PutMetadata("host-1", ledgerName, strings.NewReader("x"), 1, 5); err != nil {
		t.Fatalf("PutMetadata() error = %v", err)
	}

	_, err = newSyncApp(cfg, Options{Operation: "Sync"}, seededStore(t))
	if err == nil || !strings.Contains(err.Error(), "behind") {
		t.Fatalf("newSyncApp() error = %v, want ledger behind vault", err)
	}
}

func TestSnapshotLedger_RequiresKeys(t *testing.T) {
	dir := t.TempDir()
	enc := encryption.NewAgeEncryptor(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "snipsync.pub"),
		PrivateKeyPath: filepath.Join(dir, "snipsync.key"),
	})
	v := testutil.NewTestVault()

	err := snapshotLedger(context.Background(), testutil.NewTestLedger(t), v, enc, "host-1")
	if err == nil {
		t.Fatal("snapshotLedger() expected error without keys")
	}
	if version, _ := v.GetMetadataVersion("host-1", ledgerName); version != 0 {
		t.Errorf("snapshot uploaded without keys, version %d", version)
	}
}

func TestRestoreLedger(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(t.TempDir(), "db")}
	cfg.Vaults = []config.VaultConfig{{Type: "filesystem", Name: "fs", FSVaultRoot: t.TempDir()}}

	a := newTestApp(t, cfg, seededStore(t))
	summary, err := a.Sync(ctx, SyncOptions{})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	dbPath := filepath.Join(cfg.Database.DataDir, "host-1.db")
	if err := os.Remove(dbPath); err != nil {
		t.Fatalf("removing ledger: %v", err)
	}

	t.Run("fresh ledger is behind the vault", func(t *testing.T) {
		_, err := newSyncApp(cfg, Options{}, seededStore(t))
		if err == nil {
			t.Fatal("newSyncApp() expected error")
		}
		os.Remove(dbPath)
	})

	version, err := RestoreLedger(ctx, cfg, "")
	if err != nil {
		t.Fatalf("RestoreLedger() error = %v", err)
	}
	if version != 1 {
		t.Errorf("RestoreLedger() version = %d, want 1", version)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		t.Fatalf("NewDatabaseFromConfig() error = %v", err)
	}
	defer db.Close()
	run, err := db.GetRun(ctx, summary.ID)
	if err != nil || run == nil {
		t.Fatalf("GetRun() = %v, %v; want restored run", run, err)
	}
}

func TestRestoreLedger_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("memory database", func(t *testing.T) {
		if _, err := RestoreLedger(ctx, testConfig(t), ""); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("no snapshot", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: t.TempDir()}
		cfg.Vaults = []config.VaultConfig{{Type: "filesystem", Name: "fs", FSVaultRoot: t.TempDir()}}
		if _, err := RestoreLedger(ctx, cfg, ""); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestResolvePassword(t *testing.T) {
	env := map[string]string{"SNIPSYNC_APP_PASSWORD": "from-env"}
	getenv := func(k string) string { return env[k] }
	prompted := func(string) (string, error) { return "typed", nil }
	failing := func(string) (string, error) { return "", errors.New("not a terminal") }

	tests := []struct {
		name    string
		cfg     config.RemoteConfig
		prompt  func(string) (string, error)
		want    string
		wantErr bool
	}{
		{name: "env var", cfg: config.RemoteConfig{PasswordEnv: "SNIPSYNC_APP_PASSWORD"}, prompt: failing, want: "from-env"},
		{name: "prompt when env empty", cfg: config.RemoteConfig{PasswordEnv: "OTHER"}, prompt: prompted, want: "typed"},
		{name: "no source", cfg: config.RemoteConfig{PasswordEnv: "OTHER"}, wantErr: true},
		{name: "prompt fails", cfg: config.RemoteConfig{Type: "bitbucket"}, prompt: failing, wantErr: true},
		{name: "memory needs none", cfg: config.RemoteConfig{Type: "memory"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolvePassword(tt.cfg, getenv, tt.prompt)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolvePassword() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("resolvePassword() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	policy, err := retryPolicy(config.RetryConfig{MaxAttempts: 3, BaseDelay: "500ms"})
	if err != nil {
		t.Fatalf("retryPolicy() error = %v", err)
	}
	if policy.MaxAttempts != 3 || policy.BaseDelay != 500*time.Millisecond {
		t.Errorf("retryPolicy() = %+v", policy)
	}

	policy, _ = retryPolicy(config.RetryConfig{})
	if policy.MaxAttempts != snip.DefaultMaxAttempts || policy.BaseDelay != snip.DefaultBaseDelay {
		t.Errorf("default retryPolicy() = %+v", policy)
	}

	if _, err := retryPolicy(config.RetryConfig{BaseDelay: "soon"}); err == nil {
		t.Error("retryPolicy() expected error for bad delay")
	}
}

func TestWorkspace(t *testing.T) {
	if got := Workspace(config.RemoteConfig{Username: "jdoe"}); got != "jdoe" {
		t.Errorf("Workspace() = %q, want username fallback", got)
	}
	if got := Workspace(config.RemoteConfig{Username: "jdoe", Workspace: "acme"}); got != "acme" {
		t.Errorf("Workspace() = %q, want acme", got)
	}
}

func TestCommitter(t *testing.T) {
	got := committer(config.CommitterConfig{Name: "Bot"})
	if got.Name != "Bot" || got.Email != config.DefaultCommitterEmail {
		t.Errorf("committer() = %+v", got)
	}
}

func TestNewSyncApp_OfflineNeedsNoPassword(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote = config.RemoteConfig{Type: "bitbucket", Username: "jdoe", PasswordEnv: "SNIPSYNC_TEST_PASSWORD"}
	t.Setenv("SNIPSYNC_TEST_PASSWORD", "")

	if _, err := NewSyncApp(cfg, Options{Operation: "Sync"}); err == nil {
		t.Fatal("NewSyncApp() expected error without app password")
	}

	a, err := NewSyncApp(cfg, Options{Operation: "History", Offline: true})
	if err != nil {
		t.Fatalf("NewSyncApp() error = %v", err)
	}
	defer a.Close()

	if _, err := a.Sync(context.Background(), SyncOptions{}); err == nil {
		t.Error("Sync() expected error for an offline app")
	}
	if _, err := a.History(context.Background(), 1); err != nil {
		t.Errorf("History() error = %v", err)
	}
}
