package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/reservation-scheduler/internal/config"
	"github.com/example/reservation-scheduler/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app holds what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	sqliteDSN  string

	cfg    config.Config
	logger zerolog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{logger: zerolog.Nop()}
	cmd := &cobra.Command{
		Use:          "scheduler",
		Short:        "Allocate reservation requests against a device catalog",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&a.sqliteDSN, "sqlite", "", "SQLite database path, overrides "+config.EnvPrefix+"_SQLITE_DSN")

	cmd.AddCommand(
		newAllocateCommand(a),
		newReleaseCommand(a),
		newMigrateCommand(a),
		newVersionCommand(),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.sqliteDSN != "" {
		cfg.SQLiteDSN = a.sqliteDSN
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger.With().Str("command", cmd.Name()).Logger()
	cmd.SetContext(logging.ContextWithLogger(cmd.Context(), a.logger))
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the scheduler version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
