package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/autoharvest/internal/app"
	"github.com/JakeFAU/autoharvest/internal/config"
	"github.com/JakeFAU/autoharvest/internal/crawler"
	"github.com/JakeFAU/autoharvest/internal/ledger"
	"github.com/JakeFAU/autoharvest/internal/sink"
)

// newLedgerCmd creates the 'ledger' command group.
func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and repair the progress ledger",
	}
	cmd.AddCommand(newLedgerShowCmd(), newLedgerResetCmd(), newLedgerBackfillCmd())
	return cmd
}

func newLedgerShowCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "show [entity...]",
		Short: "Print ledger records as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !crawler.Status(status).Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			return withLedger(cmd, func(_ context.Context, l *ledger.Ledger, _ *config.Config) error {
				out := selectRecords(l.Snapshot(), args, crawler.Status(status))
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show entities with this status")
	return cmd
}

func selectRecords(all map[string]crawler.EntityProgress, keys []string, status crawler.Status) map[string]crawler.EntityProgress {
	if len(keys) > 0 {
		named := make(map[string]crawler.EntityProgress, len(keys))
		for _, k := range keys {
			if rec, ok := all[k]; ok {
				named[k] = rec
			}
		}
		all = named
	}
	out := make(map[string]crawler.EntityProgress, len(all))
	for k, rec := range all {
		if status == "" || rec.Status == status {
			out[k] = rec
		}
	}
	return out
}

func newLedgerResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <entity>...",
		Short: "Forget entities so the next crawl harvests them again",
		Long: `Deletes the ledger records of the named entities. Their tables are left
in place; remove them too if the entity should be harvested from scratch,
otherwise discovery treats an existing table without a record as finished.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(ctx context.Context, l *ledger.Ledger, _ *config.Config) error {
				removed, err := l.Reset(ctx, args...)
				if err != nil {
					return fmt.Errorf("reset ledger: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d of %d entities\n", len(removed), len(args))
				for _, k := range removed {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", k)
				}
				return nil
			})
		},
	}
}

func newLedgerBackfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Mark every table without a ledger record as completed",
		Long: `Rebuilds ledger records from the output directory after the ledger was
lost. Each table unknown to the ledger is saved as completed, with its last
author as the resume cursor.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, func(ctx context.Context, l *ledger.Ledger, cfg *config.Config) error {
				s, err := sink.NewCSVSink(cfg.Crawler.OutputDir, cfg.Crawler.TableSuffix, zap.L())
				if err != nil {
					return err
				}
				added, err := backfill(ctx, l, s, cfg.Crawler.CursorColumn())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "backfilled %d entities\n", len(added))
				return nil
			})
		},
	}
}

// backfill saves every table of s that l has no record for as completed.
func backfill(ctx context.Context, l *ledger.Ledger, s *sink.CSVSink, authorColumn string) ([]string, error) {
	tables, err := s.Tables()
	if err != nil {
		return nil, err
	}
	var added []string
	for _, table := range tables {
		if _, ok := l.Lookup(table); ok {
			continue
		}
		var opts []crawler.SaveOption
		last, found, err := s.LastIdentity(table, authorColumn)
		if err != nil {
			zap.L().Warn("read last row failed", zap.String("table", table), zap.Error(err))
		} else if found {
			opts = append(opts, crawler.WithCursor(last))
		}
		if err := l.Save(ctx, table, crawler.StatusCompleted, opts...); err != nil {
			return added, fmt.Errorf("save %s: %w", table, err)
		}
		added = append(added, table)
	}
	sort.Strings(added)
	return added, nil
}

// withLedger loads the ledger section of the config, opens the ledger and
// runs fn against it.
func withLedger(cmd *cobra.Command, fn func(context.Context, *ledger.Ledger, *config.Config) error) error {
	cfg, err := config.LoadLedger(cfgFile)
	if err != nil {
		return err
	}
	logger, flush, err := setupLogger(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer flush()

	ctx := cmd.Context()
	l, closeLedger, err := app.OpenLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLedger(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("close ledger failed", zap.Error(err))
		}
	}()
	return fn(ctx, l, cfg)
}
