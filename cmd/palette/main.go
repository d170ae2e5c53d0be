package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-palette/logging"
)

const defaultLogLevel = "info"

var version = "dev"

// app carries the logger shared by every subcommand. It is rebuilt once
// the persistent flags are parsed.
type app struct {
	levelVar slog.LevelVar
	logger   *slog.Logger
}

func main() {
	a := &app{}
	a.levelVar.Set(slog.LevelInfo)
	a.logger = logging.NewCLI(os.Stderr, &a.levelVar)
	slog.SetDefault(a.logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(a)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		a.logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	var (
		logLevel  string
		logFormat string
	)

	root := &cobra.Command{
		Use:           "palette",
		Short:         "Train and sample image-to-image diffusion models",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "cli", "Console log format (cli, json)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		mode, err := logging.ParseMode(logFormat)
		if err != nil {
			return err
		}
		a.levelVar.Set(level)
		a.logger = logging.New(mode, cmd.ErrOrStderr(), &a.levelVar)
		slog.SetDefault(a.logger)
		return nil
	}

	root.AddCommand(
		newTrainCommand(a),
		newInferCommand(a),
		newScheduleCommand(a),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the palette version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write([]byte("palette " + version + "\n"))
			return err
		},
	}
}
