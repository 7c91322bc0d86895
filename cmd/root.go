// Package cmd defines and implements the CLI commands for the autoharvest executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/autoharvest/internal/logging"
)

var cfgFile string

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autoharvest",
		Short: "Resumable harvester for reviews behind infinite-scroll listings.",
		Long: `autoharvest drives a headless browser over an infinite-scroll listing,
walks every entity down to its review pages, and appends each review to a
per-entity CSV table. Progress is recorded after every review, so an
interrupted run picks up where it stopped.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.AddCommand(newCrawlCmd(), newLedgerCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// setupLogger builds the process logger and installs it as the zap global.
// The returned func flushes it.
func setupLogger(development bool) (*zap.Logger, func(), error) {
	logger, err := logging.New(development)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	undo := zap.ReplaceGlobals(logger)
	return logger, func() {
		if err := logging.Sync(logger); err != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", err)
		}
		undo()
	}, nil
}
