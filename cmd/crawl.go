package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/autoharvest/internal/api"
	"github.com/JakeFAU/autoharvest/internal/app"
	"github.com/JakeFAU/autoharvest/internal/browser"
	"github.com/JakeFAU/autoharvest/internal/config"
	"github.com/JakeFAU/autoharvest/internal/extract"
	"github.com/JakeFAU/autoharvest/internal/frontier"
	"github.com/JakeFAU/autoharvest/internal/worker"
)

type crawlFlags struct {
	maxPages   int
	interleave bool
	serve      bool
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Harvest every entity not yet completed",
		Long: `Opens the configured listing, scrolls until it stops growing, and
harvests each entity that the progress ledger does not mark completed.
Interrupting the command is safe; the next run resumes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			applyCrawlFlags(cmd, cfg, flags)
			return runCrawl(cmd, cfg)
		},
	}
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", 0, "maximum pages per entity (0 = unbounded)")
	cmd.Flags().BoolVar(&flags.interleave, "interleave", false, "traverse each discovery batch before scrolling further")
	cmd.Flags().BoolVar(&flags.serve, "serve", false, "run the status HTTP server during the crawl")
	return cmd
}

func applyCrawlFlags(cmd *cobra.Command, cfg *config.Config, flags crawlFlags) {
	if cmd.Flags().Changed("max-pages") {
		cfg.Crawler.MaxPages = flags.maxPages
	}
	if cmd.Flags().Changed("interleave") {
		cfg.Crawler.Interleave = flags.interleave
	}
	if cmd.Flags().Changed("serve") {
		cfg.Server.Enabled = flags.serve
	}
}

func runCrawl(cmd *cobra.Command, cfg *config.Config) error {
	logger, flush, err := setupLogger(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer flush()

	ctx := cmd.Context()
	services, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer services.Close(context.WithoutCancel(ctx))

	var ready atomic.Bool
	if cfg.Server.Enabled {
		stopServer := startStatusServer(ctx, cfg, services, &ready, logger)
		defer stopServer()
	}

	b, err := browser.Launch(browserConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer b.Close()
	listing, err := b.OpenListing(ctx)
	if err != nil {
		return err
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	capturer := services.Capturer(runID.String())
	discOpts := []frontier.Option{frontier.WithLogger(logger)}
	if capturer != nil {
		discOpts = append(discOpts, frontier.WithCapturer(capturer))
	}
	discovery := frontier.NewDiscovery(listing, services.Ledger(), services.Sink(), frontier.Config{
		MaxRetries:  cfg.Crawler.MaxScrollRetries,
		MaxScrolls:  cfg.Crawler.MaxScrolls,
		SettleDelay: cfg.Crawler.SettleDelay,
	}, discOpts...)

	engine, err := worker.New(worker.Config{
		Mode:         worker.Mode(cfg.Crawler.Mode),
		SectionName:  cfg.Crawler.SectionName,
		MaxPages:     cfg.Crawler.MaxPages,
		Unknown:      cfg.Crawler.UnknownValue,
		AuthorColumn: cfg.Crawler.CursorColumn(),
		Interleave:   cfg.Crawler.Interleave,
		Topic:        cfg.PubSub.Topic,
		ReportDir:    cfg.Crawler.ReportDir,
		RunID:        runID,
	}, worker.Deps{
		Listing:   listing,
		Discovery: discovery,
		Ledger:    services.Ledger(),
		Sink:      services.Sink(),
		Adapter: extract.NewAdapter(extract.Fields{
			SubjectColumn: cfg.Crawler.SubjectColumn,
			AuthorColumn:  cfg.Crawler.AuthorColumn,
			Unknown:       cfg.Crawler.UnknownValue,
		}),
		TableAdapter: extract.NewTableAdapter(extract.TableFields{
			NameColumn:  cfg.Crawler.NameColumn,
			PriceColumn: cfg.Crawler.PriceColumn,
			Unknown:     cfg.Crawler.UnknownValue,
		}),
		Capturer:  capturer,
		Emitter:   services.Emitter(),
		Publisher: services.Publisher(),
		Reports:   services.Blobs(),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	ready.Store(true)

	report, err := engine.Run(ctx)
	if report != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d discovered, %d completed, %d incomplete, %d failed, %d items written\n",
			report.RunID, report.Discovered, len(report.Completed), len(report.Incomplete), len(report.Failed), report.ItemsWritten)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("harvest interrupted; progress is saved and the next run resumes")
			return nil
		}
		return fmt.Errorf("run harvest: %w", err)
	}
	return nil
}

func browserConfig(cfg *config.Config) browser.Config {
	sel := cfg.Browser.Selectors
	return browser.Config{
		StartURL:          cfg.Crawler.ListingURL,
		Headless:          cfg.Browser.Headless,
		DisableImages:     cfg.Browser.DisableImages,
		UserAgent:         cfg.Browser.UserAgent,
		AcceptLanguage:    cfg.Browser.AcceptLanguage,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		ActionTimeout:     cfg.Browser.ActionTimeout,
		TabTimeout:        cfg.Browser.TabTimeout,
		SettleDelay:       cfg.Crawler.SettleDelay,
		DismissOverlay:    cfg.Browser.DismissOverlay,
		Selectors: browser.Selectors{
			EntityCard:  sel.EntityCard,
			EntityName:  sel.EntityName,
			SectionLink: sel.SectionLink,
			ItemTrigger: sel.ItemTrigger,
			NextPage:    sel.NextPage,
			ParamsLink:  sel.ParamsLink,
			Table: extract.TableSelectors{
				Columns: sel.TableColumns,
				Labels:  sel.TableLabels,
				Prices:  sel.TablePrices,
				Rows:    sel.TableRows,
			},
			Leaf: extract.Selectors{
				Subject: sel.Subject,
				Author:  sel.Author,
				Labels:  sel.Labels,
				Values:  sel.Values,
			},
		},
		Pacer: browser.PacerConfig{ActionsPerSecond: cfg.Browser.ActionsPerSecond, Burst: 1},
	}
}

// startStatusServer serves the status API until the returned func is called.
func startStatusServer(ctx context.Context, cfg *config.Config, services *app.App, ready *atomic.Bool, logger *zap.Logger) func() {
	readyFn := func(context.Context) error {
		if !ready.Load() {
			return errors.New("harvest not started")
		}
		return nil
	}
	srv := api.NewServer(services.Ledger(), readyFn, logger)
	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(srvCtx, fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
