// Package browser drives headless Chrome through chromedp and exposes the
// listing, entity, item-list, leaf, and parameter-table surfaces the
// harvester walks.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/autoharvest/internal/crawler"
	"github.com/JakeFAU/autoharvest/internal/extract"
)

// Config controls the browser session.
type Config struct {
	StartURL string
	Headless bool
	// DisableImages stops image and stylesheet requests.
	DisableImages     bool
	UserAgent         string
	AcceptLanguage    string
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	// TabTimeout bounds the wait for a click to open a new tab.
	TabTimeout time.Duration
	// SettleDelay is waited after navigation and pagination.
	SettleDelay time.Duration
	// DismissOverlay clicks an empty corner of every new entity tab to close
	// pop-ups.
	DismissOverlay bool
	Selectors      Selectors
	Pacer          PacerConfig
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 15 * time.Second
	}
	if c.TabTimeout <= 0 {
		c.TabTimeout = 10 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.Selectors.SectionLink == "" {
		c.Selectors.SectionLink = DefaultSectionLink
	}
	if c.Selectors.ParamsLink == "" {
		c.Selectors.ParamsLink = DefaultParamsLink
	}
	if c.Selectors.Table == (extract.TableSelectors{}) {
		c.Selectors.Table = extract.DefaultTableSelectors()
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.StartURL == "":
		return errors.New("start url is required")
	case c.Selectors.EntityCard == "":
		return errors.New("entity card selector is required")
	case c.Selectors.ItemTrigger == "":
		return errors.New("item trigger selector is required")
	case c.Selectors.NextPage == "":
		return errors.New("next page selector is required")
	}
	return nil
}

// Browser owns the Chrome process and its first tab.
type Browser struct {
	cfg    Config
	logger *zap.Logger
	pacer  *Pacer

	allocCancel context.CancelFunc
	root        context.Context
	rootCancel  context.CancelFunc
}

// Launch starts Chrome.
func Launch(cfg Config, logger *zap.Logger) (*Browser, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.DisableImages {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	named := logger.Named("browser")
	root, rootCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(named.Sugar().Debugf))

	// The first Run starts the process.
	if err := chromedp.Run(root); err != nil {
		rootCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return &Browser{
		cfg:         cfg,
		logger:      named,
		pacer:       NewPacer(cfg.Pacer),
		allocCancel: allocCancel,
		root:        root,
		rootCancel:  rootCancel,
	}, nil
}

// Close shuts Chrome down.
func (b *Browser) Close() {
	b.rootCancel()
	b.allocCancel()
}

// OpenListing navigates the first tab to the start URL.
func (b *Browser) OpenListing(ctx context.Context) (*Listing, error) {
	t := &tab{b: b, ctx: b.root, cancel: func() {}}
	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigationTimeout)
	defer cancel()
	err := t.run(navCtx, "navigate",
		b.setupAction(t.ctx),
		chromedp.Navigate(b.cfg.StartURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(b.cfg.SettleDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("open listing %s: %w", b.cfg.StartURL, err)
	}
	b.logger.Info("listing opened", zap.String("url", b.cfg.StartURL))
	return &Listing{tab: t}, nil
}

// setupAction prepares the tab behind tabCtx: network headers and, when
// images are disabled, failing image and stylesheet requests.
func (b *Browser) setupAction(tabCtx context.Context) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if b.cfg.AcceptLanguage != "" {
			headers := network.Headers{"Accept-Language": b.cfg.AcceptLanguage}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		patterns := blockedPatterns(b.cfg)
		if len(patterns) == 0 {
			return nil
		}
		b.listenBlocked(tabCtx)
		if err := fetch.Enable().WithPatterns(patterns).Do(ctx); err != nil {
			return fmt.Errorf("enable request blocking: %w", err)
		}
		return nil
	})
}

// blockedPatterns returns the request patterns the browser refuses to load.
func blockedPatterns(cfg Config) []*fetch.RequestPattern {
	if !cfg.DisableImages {
		return nil
	}
	kinds := []network.ResourceType{network.ResourceTypeImage, network.ResourceTypeStylesheet}
	patterns := make([]*fetch.RequestPattern, 0, len(kinds))
	for _, kind := range kinds {
		patterns = append(patterns, &fetch.RequestPattern{
			URLPattern:   "*",
			ResourceType: kind,
			RequestStage: fetch.RequestStageRequest,
		})
	}
	return patterns
}

// listenBlocked fails every request paused on the tab for as long as the tab
// lives. Pauses for other resource types are let through.
func (b *Browser) listenBlocked(tabCtx context.Context) {
	blocked := make(map[network.ResourceType]bool)
	for _, p := range blockedPatterns(b.cfg) {
		blocked[p.ResourceType] = true
	}
	chromedp.ListenTarget(tabCtx, func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		// Listeners must not block the event loop.
		go func() {
			var action chromedp.Action = fetch.ContinueRequest(paused.RequestID)
			if blocked[paused.ResourceType] {
				action = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient)
			}
			if err := chromedp.Run(tabCtx, action); err != nil && tabCtx.Err() == nil {
				b.logger.Debug("resolve paused request failed", zap.String("url", paused.Request.URL), zap.Error(err))
			}
		}()
	})
}

// tab is one browsing context.
type tab struct {
	b      *Browser
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab. The action timeout and the caller's
// context both bound the call; neither closes the tab.
func (t *tab) run(ctx context.Context, kind string, actions ...chromedp.Action) error {
	if err := t.b.pacer.Wait(ctx, kind); err != nil {
		return err
	}
	timeout := t.b.cfg.ActionTimeout
	if kind == "navigate" || kind == "load" {
		timeout = t.b.cfg.NavigationTimeout
	}
	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (t *tab) nodes(ctx context.Context, sel string, opts ...chromedp.QueryOption) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	opts = append([]chromedp.QueryOption{queryBy(sel), chromedp.AtLeast(0)}, opts...)
	if err := t.run(ctx, "query", chromedp.Nodes(sel, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %q: %w", sel, err)
	}
	return nodes, nil
}

// clickForTab clicks node and attaches to the tab the click opens.
func (t *tab) clickForTab(ctx context.Context, node *cdp.Node) (*tab, error) {
	waitCtx, cancel := context.WithTimeout(t.ctx, t.b.cfg.TabTimeout)
	defer cancel()
	created := chromedp.WaitNewTarget(waitCtx, func(info *target.Info) bool {
		return info.Type == "page"
	})
	if err := t.run(ctx, "click", chromedp.MouseClickNode(node)); err != nil {
		return nil, fmt.Errorf("click: %w", err)
	}

	var id target.ID
	select {
	case id = <-created:
	case <-waitCtx.Done():
		return nil, crawler.ErrNoNewPage
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	child, childCancel := chromedp.NewContext(t.b.root, chromedp.WithTargetID(id))
	nt := &tab{b: t.b, ctx: child, cancel: childCancel}
	err := nt.run(ctx, "load",
		t.b.setupAction(child),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(t.b.cfg.SettleDelay),
	)
	if err != nil {
		_ = nt.Close()
		return nil, fmt.Errorf("load new tab: %w", err)
	}
	return nt, nil
}

// Screenshot captures the full page as PNG.
func (t *tab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := t.run(ctx, "screenshot", chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Close closes the tab. The first tab is owned by the Browser and is left open.
func (t *tab) Close() error {
	if t.ctx == t.b.root {
		return nil
	}
	err := chromedp.Cancel(t.ctx)
	t.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

func (t *tab) dismissOverlay(ctx context.Context) {
	if !t.b.cfg.DismissOverlay {
		return
	}
	err := t.run(ctx, "click",
		chromedp.MouseClickXY(100, 100),
		chromedp.Sleep(time.Second),
	)
	if err != nil {
		t.b.logger.Debug("dismiss overlay failed", zap.Error(err))
	}
}
