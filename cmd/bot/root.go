package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sait-ama/guild-pager-bot/internal/bot"
	"github.com/sait-ama/guild-pager-bot/internal/config"
	"github.com/sait-ama/guild-pager-bot/internal/db"
	"github.com/sait-ama/guild-pager-bot/internal/ghsync"
	"github.com/sait-ama/guild-pager-bot/internal/logging"
	"github.com/sait-ama/guild-pager-bot/internal/metrics"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "bot",
		Short:        "Guild leaderboard pager bot for Telegram",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", config.DefaultConfigPath(), "config file path (optional)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newBackupCmd())
	return cmd
}

// setup loads .env and the config file and builds the process logger.
func setup(cmd *cobra.Command) (*config.Config, zerolog.Logger, func() error, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	log, closeLog, err := logging.New(cfg.Logger)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	return cfg, log, closeLog, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll Telegram and serve paging commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, closeLog, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			ctx, stop := signalContext()
			defer stop()

			var rec metrics.Recorder = metrics.Noop{}
			if cfg.Metrics.Enabled {
				p := metrics.NewPrometheus()
				rec = p
				go p.Serve(ctx, cfg.Metrics.Listen, logging.Component(log, "metrics"))
			}

			app, err := bot.New(cfg, log, rec)
			if err != nil {
				log.Error().Err(err).Msg("init failed")
				return err
			}
			defer app.Close()

			err = app.Run(ctx)
			log.Info().Msg("shutting down")
			return err
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push the dataset snapshots to GitHub once and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, closeLog, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			ctx, stop := signalContext()
			defer stop()

			database, err := db.Open(cfg.DB.Path)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			syn := bot.NewSynchronizer(cfg, database, metrics.Noop{}, log)
			run, err := syn.Run(ctx, ghsync.TriggerManual)
			if errors.Is(err, ghsync.ErrDisabled) {
				fmt.Fprintln(cmd.OutOrStdout(), ghsync.DisabledText)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), syn.Report(run))
			return nil
		},
	}
}

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <dst>",
		Short: "Write a consistent copy of the sync ledger database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closeLog, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			database, err := db.Open(cfg.DB.Path)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			if err := database.BackupTo(cmd.Context(), args[0]); err != nil {
				return err
			}
			log.Info().Str("dst", args[0]).Msg("ledger backup written")
			return nil
		},
	}
}
