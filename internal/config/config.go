package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Default committer identity used for every commit the engine creates.
const (
	DefaultCommitterName  = "Snippet Backup Script"
	DefaultCommitterEmail = "backup@bitbucket-script.local"
)

// MaxRetryAttempts bounds retry.max_attempts.
const MaxRetryAttempts = 10

// Config represents the main configuration for snipsync.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Remote     RemoteConfig     `toml:"remote"`
	Repository RepositoryConfig `toml:"repository"`
	Committer  CommitterConfig  `toml:"committer"`
	Sync       SyncConfig       `toml:"sync"`
	Retry      RetryConfig      `toml:"retry"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
	Staging    StagingConfig    `toml:"staging"`
}

// RemoteConfig selects the snippet host.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfig struct {
	Type      string `toml:"type"` // "bitbucket" (default) or "memory"
	BaseURL   string `toml:"base_url,omitempty"`
	Workspace string `toml:"workspace,omitempty"` // defaults to Username
	Username  string `toml:"username,omitempty"`
	// PasswordEnv names the environment variable holding the app password.
	PasswordEnv string `toml:"password_env,omitempty"`
}

// RepositoryConfig selects where the mirror repository lives.
type RepositoryConfig struct {
	Type string `toml:"type"`           // "filesystem" (default) or "memory"
	Path string `toml:"path,omitempty"` // only used for type=filesystem
}

// CommitterConfig is the identity recorded as committer on every commit.
type CommitterConfig struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

// SyncConfig holds defaults for the sync command.
type SyncConfig struct {
	Historical bool     `toml:"historical"`
	Role       string   `toml:"role,omitempty"` // owner, contributor, member
	SnippetIDs []string `toml:"snippet_ids,omitempty"`
}

// RetryConfig bounds retries of remote calls.
type RetryConfig struct {
	MaxAttempts int    `toml:"max_attempts"`
	BaseDelay   string `toml:"base_delay"` // Go duration, e.g. "2s"
}

// Delay parses BaseDelay. An empty value yields 0.
func (r RetryConfig) Delay() (time.Duration, error) {
	if r.BaseDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.BaseDelay)
	if err != nil {
		return 0, fmt.Errorf("invalid retry base_delay %q: %w", r.BaseDelay, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid retry base_delay %q: must not be negative", r.BaseDelay)
	}
	return d, nil
}

// EncryptionConfig holds paths to the age key pair used for ledger snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "none" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`
	// S3Endpoint points at an S3-compatible store instead of AWS.
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the run ledger.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// StagingConfig represents configuration for the content staging area.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StagingConfig struct {
	Type       string `toml:"type"`                  // "memory" or "filesystem"
	StagingDir string `toml:"staging_dir,omitempty"` // only used for type=filesystem
	MaxSize    int64  `toml:"max_size"`              // max total size in bytes; must be positive, defaults to 64MB
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Remote:  RemoteConfig{Type: "bitbucket", PasswordEnv: "SNIPSYNC_APP_PASSWORD"},
		Repository: RepositoryConfig{
			Type: "filesystem",
			Path: filepath.Join(baseDir, "repo"),
		},
		Committer: CommitterConfig{Name: DefaultCommitterName, Email: DefaultCommitterEmail},
		Retry:     RetryConfig{MaxAttempts: 5, BaseDelay: "2s"},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "snipsync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "snipsync.key"),
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Staging:  StagingConfig{Type: "memory"},
	}
}

// Validate checks the tagged unions for missing fields.
func (c *Config) Validate() error {
	switch c.Remote.Type {
	case "", "bitbucket", "memory":
	default:
		return fmt.Errorf("unknown remote type: %s", c.Remote.Type)
	}
	switch c.Repository.Type {
	case "", "filesystem":
		if c.Repository.Path == "" {
			return fmt.Errorf("filesystem repository requires path to be set")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown repository type: %s", c.Repository.Type)
	}
	if c.Retry.MaxAttempts < 0 || c.Retry.MaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("retry max_attempts must be between 0 and %d", MaxRetryAttempts)
	}
	if _, err := c.Retry.Delay(); err != nil {
		return err
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may name the env var of a credential; keep it private.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
