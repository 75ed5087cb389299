package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"snipsync/internal/config"
	"snipsync/internal/database"
	"snipsync/internal/docs"
	"snipsync/internal/encryption"
	"snipsync/internal/gitrepo"
	"snipsync/internal/remote"
	"snipsync/internal/snip"
	"snipsync/internal/staging"
	"snipsync/internal/vault"
)

// ledgerName is the vault metadata item that holds the ledger snapshot.
const ledgerName = "ledger"

// SyncApp is the application layer between the CLI and SyncService.
// It constructs all dependencies from config, exposes the commands of the
// CLI, and snapshots the run ledger to the vault on Close.
type SyncApp struct {
	cfg       *config.Config
	workspace string
	offline   bool
	db        *database.SQLiteDatabase
	vault     vault.Vault // nil when no vault is configured
	encryptor encryption.Encryptor
	repo      *gitrepo.Repo
	service   *snip.SyncService
	op        *Operation
	logFile   *os.File
}

// Options are the inputs of NewSyncApp that do not come from the config file.
type Options struct {
	// Operation identifies the CLI command being run (e.g. "Sync", "History").
	Operation  string
	Parameters string
	// Offline skips the remote. An offline app can only read the ledger.
	Offline bool
	Verbose bool
	// Prompt reads a secret from the terminal. It is asked for the app
	// password when the configured environment variable is empty. May be nil.
	Prompt func(label string) (string, error)
}

// NewSyncApp creates a fully wired SyncApp from the given config.
// The caller must call Close when done.
func NewSyncApp(cfg *config.Config, opts Options) (*SyncApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Offline {
		return newSyncApp(cfg, opts, nil)
	}

	password, err := resolvePassword(cfg.Remote, os.Getenv, opts.Prompt)
	if err != nil {
		return nil, err
	}
	store, err := remote.NewRemoteFromConfig(cfg.Remote, password)
	if err != nil {
		return nil, fmt.Errorf("creating remote: %w", err)
	}
	return newSyncApp(cfg, opts, store)
}

// newSyncApp wires everything but the remote, which tests provide. A nil
// store makes the app offline.
func newSyncApp(cfg *config.Config, opts Options, store snip.RemoteStore) (*SyncApp, error) {
	repo, err := openRepository(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	sa, err := staging.NewStagingAreaFromConfig(cfg.Staging)
	if err != nil {
		return nil, fmt.Errorf("creating staging area: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	var v vault.Vault
	if len(cfg.Vaults) > 0 {
		v, err = vault.NewVaultFromConfig(context.Background(), cfg.Vaults[0])
		if err != nil {
			return nil, fmt.Errorf("creating vault: %w", err)
		}
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	// A newer snapshot in the vault means another copy of this host's
	// ledger has recorded runs this one has not seen.
	if v != nil {
		if err := checkLedgerVersion(context.Background(), db, v, cfg.HostID); err != nil {
			db.Close()
			return nil, err
		}
	}

	policy, err := retryPolicy(cfg.Retry)
	if err != nil {
		db.Close()
		return nil, err
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, level)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	adapter := &slogAdapter{l: logger}

	svc := snip.NewSyncService(snip.Deps{
		Remote:    store,
		Repo:      repo,
		Staging:   sa,
		Retrier:   snip.NewRetrier(policy, adapter),
		Docs:      docs.NewMarkdown(),
		Ledger:    db,
		Logger:    adapter,
		Clock:     snip.RealClock{},
		IDGen:     snip.UUIDGenerator{},
		Committer: committer(cfg.Committer),
	})

	return &SyncApp{
		cfg:       cfg,
		workspace: Workspace(cfg.Remote),
		offline:   store == nil,
		db:        db,
		vault:     v,
		encryptor: enc,
		repo:      repo,
		service:   svc,
		op:        NewOperation(opts.Operation, opts.Parameters),
		logFile:   logFile,
	}, nil
}

func openRepository(cfg config.RepositoryConfig) (*gitrepo.Repo, error) {
	if cfg.Type == "memory" {
		return gitrepo.NewMemory()
	}
	return gitrepo.Open(cfg.Path)
}

// Workspace returns the configured workspace, which defaults to the
// account name.
func Workspace(cfg config.RemoteConfig) string {
	if cfg.Workspace != "" {
		return cfg.Workspace
	}
	return cfg.Username
}

func committer(cfg config.CommitterConfig) snip.Identity {
	id := snip.Identity{Name: cfg.Name, Email: cfg.Email}
	if id.Name == "" {
		id.Name = config.DefaultCommitterName
	}
	if id.Email == "" {
		id.Email = config.DefaultCommitterEmail
	}
	return id
}

func retryPolicy(cfg config.RetryConfig) (snip.RetryPolicy, error) {
	policy := snip.DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	delay, err := cfg.Delay()
	if err != nil {
		return policy, err
	}
	if delay > 0 {
		policy.BaseDelay = delay
	}
	return policy, nil
}

// resolvePassword reads the app password from the environment variable
// named in cfg, falling back to prompt. Remotes other than Bitbucket need
// no password.
func resolvePassword(cfg config.RemoteConfig, getenv func(string) string, prompt func(string) (string, error)) (string, error) {
	if cfg.Type != "" && cfg.Type != "bitbucket" {
		return "", nil
	}
	if cfg.PasswordEnv != "" {
		if p := getenv(cfg.PasswordEnv); p != "" {
			return p, nil
		}
	}
	if prompt == nil {
		return "", fmt.Errorf("no app password: set %s", cfg.PasswordEnv)
	}
	p, err := prompt(fmt.Sprintf("App password for %s: ", cfg.Username))
	if err != nil {
		return "", fmt.Errorf("reading app password: %w", err)
	}
	if p == "" {
		return "", fmt.Errorf("no app password given")
	}
	return p, nil
}

func checkLedgerVersion(ctx context.Context, db *database.SQLiteDatabase, v vault.Vault, owner string) error {
	remoteVersion, err := v.GetMetadataVersion(owner, ledgerName)
	if err != nil {
		return fmt.Errorf("checking remote ledger version: %w", err)
	}
	localMax, err := db.MaxRunSeq(ctx)
	if err != nil {
		return fmt.Errorf("checking local ledger version: %w", err)
	}
	if remoteVersion > localMax {
		return fmt.Errorf("local ledger is behind the vault (local=%d, remote=%d): run 'snipsync ledger restore'", localMax, remoteVersion)
	}
	return nil
}

// SyncOptions override the [sync] section of the config for one run.
type SyncOptions struct {
	Historical bool
	Workspace  string
	Role       string
	SnippetIDs []string
}

// Sync mirrors the selected snippets into the repository and records the
// run. The summary is returned even when the run failed as a whole.
func (a *SyncApp) Sync(ctx context.Context, opts SyncOptions) (*snip.RunSummary, error) {
	if a.offline {
		return nil, fmt.Errorf("sync needs the remote, app was opened offline")
	}
	req := snip.SyncRequest{
		Mode:       snip.ModeLatest,
		Filter:     snip.SnippetFilter{Workspace: opts.Workspace, Role: opts.Role},
		SnippetIDs: opts.SnippetIDs,
	}
	if opts.Historical {
		req.Mode = snip.ModeHistorical
	}
	if req.Filter.Workspace == "" {
		req.Filter.Workspace = a.workspace
	}
	if req.Filter.Workspace == "" {
		return nil, fmt.Errorf("no workspace: set remote.workspace or remote.username")
	}
	a.op.Parameters = fmt.Sprintf("mode=%s workspace=%s ids=%s", req.Mode, req.Filter.Workspace, strings.Join(req.SnippetIDs, ","))

	summary, err := a.service.SyncAll(ctx, req)
	if summary != nil {
		a.op.RunID = summary.ID
		a.op.Status = summary.Status()
	}
	if err != nil {
		return summary, fmt.Errorf("sync failed: %w", err)
	}
	return summary, nil
}

// History returns the most recent runs, newest first.
func (a *SyncApp) History(ctx context.Context, limit int) ([]*database.Run, error) {
	return a.db.ListRuns(ctx, limit)
}

// Show returns a run and the outcome of each snippet it handled.
func (a *SyncApp) Show(ctx context.Context, runID string) (*database.Run, []*database.Outcome, error) {
	run, err := a.db.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if run == nil {
		return nil, nil, fmt.Errorf("run %s not found", runID)
	}
	outcomes, err := a.db.ListOutcomes(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, outcomes, nil
}

// RepositoryPath returns where the mirror repository lives, or "" when it
// is in memory.
func (a *SyncApp) RepositoryPath() string {
	return a.repo.Path()
}

// Close closes all resources. After a recorded sync the ledger is first
// snapshotted, encrypted and uploaded to the vault.
func (a *SyncApp) Close() error {
	var errs []error

	if a.op.Recorded() && a.vault != nil {
		if err := snapshotLedger(context.Background(), a.db, a.vault, a.encryptor, a.cfg.HostID); err != nil {
			errs = append(errs, err)
		}
	}

	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return errors.Join(errs...)
}

// snapshotLedger uploads an encrypted copy of the ledger to the vault with
// version = the ledger's latest run sequence number.
func snapshotLedger(ctx context.Context, db *database.SQLiteDatabase, v vault.Vault, enc encryption.Encryptor, owner string) error {
	if !enc.IsConfigured() {
		return fmt.Errorf("ledger snapshot skipped: encryption keys not found, run 'snipsync config keys init'")
	}

	version, err := db.MaxRunSeq(ctx)
	if err != nil {
		return fmt.Errorf("reading ledger version: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "snipsync-ledger-*")
	if err != nil {
		return fmt.Errorf("creating temp dir for ledger snapshot: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	plainPath := filepath.Join(tmpDir, "ledger.db")
	if err := db.BackupTo(plainPath); err != nil {
		return err
	}

	plain, err := os.Open(plainPath)
	if err != nil {
		return fmt.Errorf("opening ledger snapshot: %w", err)
	}
	defer plain.Close()

	var sealed bytes.Buffer
	if err := enc.Encrypt(plain, &sealed); err != nil {
		return fmt.Errorf("encrypting ledger snapshot: %w", err)
	}

	size := int64(sealed.Len())
	if err := v.PutMetadata(owner, ledgerName, &sealed, size, version); err != nil {
		return fmt.Errorf("uploading ledger snapshot to vault: %w", err)
	}
	return nil
}

// RestoreLedger replaces the local sqlite ledger with the latest snapshot
// from the first configured vault and returns the snapshot's version. No
// SyncApp may hold the ledger open.
func RestoreLedger(ctx context.Context, cfg *config.Config, passphrase string) (int64, error) {
	if cfg.Database.Type != "sqlite" {
		return 0, fmt.Errorf("ledger restore needs a sqlite database, have %q", cfg.Database.Type)
	}
	if len(cfg.Vaults) == 0 {
		return 0, fmt.Errorf("no vaults configured")
	}

	v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
	if err != nil {
		return 0, fmt.Errorf("creating vault: %w", err)
	}
	version, err := v.GetMetadataVersion(cfg.HostID, ledgerName)
	if err != nil {
		return 0, fmt.Errorf("checking remote ledger version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("vault %s holds no ledger snapshot for host %s", cfg.Vaults[0].Name, cfg.HostID)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return 0, fmt.Errorf("creating encryptor: %w", err)
	}
	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return 0, fmt.Errorf("unlocking private key: %w", err)
	}

	var sealed bytes.Buffer
	if err := v.GetMetadata(cfg.HostID, ledgerName, &sealed); err != nil {
		return 0, fmt.Errorf("downloading ledger snapshot: %w", err)
	}

	if err := os.MkdirAll(cfg.Database.DataDir, 0700); err != nil {
		return 0, fmt.Errorf("creating data directory: %w", err)
	}
	dest := filepath.Join(cfg.Database.DataDir, cfg.HostID+".db")
	tmp, err := os.CreateTemp(cfg.Database.DataDir, ".restore-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := dc.Decrypt(&sealed, tmp); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("decrypting ledger snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("writing ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("replacing ledger: %w", err)
	}
	return version, nil
}
