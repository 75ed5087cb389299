package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"snipsync/internal/app"
	"snipsync/internal/config"
	"snipsync/internal/database"
	"snipsync/internal/encryption"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cobra.OnInitialize(initEnv)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// initEnv lets SNIPSYNC_* environment variables stand in for sync flags,
// e.g. SNIPSYNC_HISTORICAL=true or SNIPSYNC_SNIPPET_IDS=a,b.
func initEnv() {
	viper.SetEnvPrefix("SNIPSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// readConfig reads the config file from its default location.
func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp creates a SyncApp from cfg. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Sync", "History");
// only "Sync" connects to the remote.
func newApp(cfg *config.Config, operation string) (*app.SyncApp, error) {
	a, err := app.NewSyncApp(cfg, app.Options{
		Operation: operation,
		Offline:   operation != "Sync",
		Verbose:   viper.GetBool("verbose"),
		Prompt:    readSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readSecret prompts on stderr and reads a line from the terminal without echo.
func readSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "snipsync",
	Short:        "Mirror Bitbucket snippets into a git repository",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])
		if username, _ := cmd.Flags().GetString("username"); username != "" {
			cfg.Remote.Username = username
		}
		if workspace, _ := cmd.Flags().GetString("workspace"); workspace != "" {
			cfg.Remote.Workspace = workspace
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID:    %s\n", hostID)
		fmt.Printf("Base Dir:   %s\n", defaults["base_dir"])
		fmt.Printf("Repository: %s\n", cfg.Repository.Path)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		renderConfig(os.Stdout, cfg)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage ledger snapshot keys",
}

var configKeysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair that encrypts ledger snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc.IsConfigured() {
			return fmt.Errorf("keys already exist at %s", cfg.Encryption.PublicKeyPath)
		}

		passphrase, err := readSecret("Passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		confirm, err := readSecret("Repeat passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror snippets into the repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		viper.SetDefault("historical", cfg.Sync.Historical)
		viper.SetDefault("role", cfg.Sync.Role)
		viper.SetDefault("snippet-ids", cfg.Sync.SnippetIDs)

		a, err := newApp(cfg, "Sync")
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
		}()

		summary, err := a.Sync(cmd.Context(), app.SyncOptions{
			Historical: viper.GetBool("historical"),
			Workspace:  viper.GetString("workspace"),
			Role:       viper.GetString("role"),
			SnippetIDs: viper.GetStringSlice("snippet-ids"),
		})
		if summary != nil {
			renderSummary(os.Stdout, summary)
			if p := a.RepositoryPath(); p != "" {
				fmt.Printf("Repository: %s\n", p)
			}
		}
		if err != nil {
			return err
		}
		if n := summary.Failed(); n > 0 {
			return fmt.Errorf("%d snippet(s) failed", n)
		}
		if n := summary.Skipped(); n > 0 {
			return fmt.Errorf("%d snippet(s) skipped", n)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View past sync runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := readConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, "History")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No sync runs recorded.")
			return nil
		}
		renderRuns(os.Stdout, runs)
		return nil
	},
}

// show command
var showCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "View the per-snippet outcomes of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, "Show")
		if err != nil {
			return err
		}
		defer a.Close()

		run, outcomes, err := a.Show(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		renderRuns(os.Stdout, []*database.Run{run})
		renderOutcomes(os.Stdout, outcomes)
		return nil
	},
}

// ledger command
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Manage the run ledger",
}

var ledgerRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local run ledger with the vault snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		passphrase, err := readSecret("Passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		version, err := app.RestoreLedger(cmd.Context(), cfg, passphrase)
		if err != nil {
			return err
		}
		fmt.Printf("Restored ledger at version %d\n", version)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug details")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("username", "", "Bitbucket account name")
	configInitCmd.Flags().String("workspace", "", "Workspace to mirror (defaults to the account name)")
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)
	configKeysCmd.AddCommand(configKeysInitCmd)

	// sync flags override the [sync] config section
	syncCmd.Flags().Bool("historical", false, "Replay every revision instead of the latest state")
	syncCmd.Flags().StringP("workspace", "w", "", "Workspace to mirror")
	syncCmd.Flags().String("role", "", "Only snippets where the account has this role (owner, contributor, member)")
	syncCmd.Flags().StringSlice("snippet-ids", nil, "Only these snippet IDs")
	for _, name := range []string{"historical", "workspace", "role", "snippet-ids"} {
		_ = viper.BindPFlag(name, syncCmd.Flags().Lookup(name))
	}

	ledgerCmd.AddCommand(ledgerRestoreCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(ledgerCmd)
}
