// Command rumipet runs the habit pet: an HTTP service hosting the status, mission,
// playback and chat engines, plus a few commands that work on the store directly.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/RumiPet/internal/config"
	"github.com/BTreeMap/RumiPet/internal/store"
)

// errExit signals a non-zero exit after the command already reported its error.
var errExit = errors.New("exit")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI with args and returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errExit) {
			fmt.Fprintf(stderr, "rumipet: %v\n", err) //nolint:errcheck // best-effort stderr
		}
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "rumipet",
		Short:         "RumiPet, a virtual pet that lives off your habits",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	config.RegisterFlags(root.PersistentFlags())
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		newServeCmd(stderr),
		newStatusCmd(stdout),
		newHabitsCmd(stdout),
	)
	return root
}

// loadConfig resolves the configuration for cmd and installs the logger.
func loadConfig(cmd *cobra.Command, logOut io.Writer) (config.Config, error) {
	path, _ := cmd.Flags().GetString(config.FlagConfig)
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := config.ApplyFlags(cmd.Flags(), &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	level, _ := cfg.SlogLevel()
	initializeLogger(logOut, level)
	slog.Debug("Final configuration", "state_dir", cfg.StateDir, "dsn_set", cfg.DatabaseURL != "", "api_addr", cfg.APIAddr, "music_dir", cfg.MusicDir)
	return cfg, nil
}

// initializeLogger sets up structured logging at the configured level
func initializeLogger(w io.Writer, level slog.Level) {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(cfg config.Config) []store.Option {
	dsn := cfg.DSN()
	if dsn == "" {
		slog.Debug("No database DSN configured, will use in-memory store")
		return nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(dsn)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
	return []store.Option{store.WithSQLiteDSN(dsn)}
}

// openStore opens the configured store.
func openStore(cfg config.Config) (store.Store, error) {
	st, err := store.Open(buildStoreOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}
