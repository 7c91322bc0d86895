package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/autoharvest/internal/crawler"
	"github.com/JakeFAU/autoharvest/internal/extract"
)

var (
	_ crawler.ParamsListing = (*Listing)(nil)
	_ crawler.EntityPage    = (*EntityPage)(nil)
	_ crawler.ItemList      = (*ItemList)(nil)
	_ crawler.LeafPage      = (*LeafPage)(nil)
	_ crawler.ParamsPage    = (*ParamsPage)(nil)
)

// Listing is the infinite-scroll entity listing.
type Listing struct {
	*tab
}

func node(h crawler.Handle) (*cdp.Node, error) {
	n, ok := h.(*cdp.Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("unexpected handle %T", h)
	}
	return n, nil
}

func handles(nodes []*cdp.Node) []crawler.Handle {
	out := make([]crawler.Handle, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n)
	}
	return out
}

// EntityHandles returns the entity cards currently rendered.
func (l *Listing) EntityHandles(ctx context.Context) ([]crawler.Handle, error) {
	nodes, err := l.nodes(ctx, l.b.cfg.Selectors.EntityCard)
	if err != nil {
		return nil, err
	}
	return handles(nodes), nil
}

// DisplayName reads a card's name, from the name selector when set.
func (l *Listing) DisplayName(ctx context.Context, h crawler.Handle) (string, error) {
	n, err := node(h)
	if err != nil {
		return "", err
	}
	var text string
	action := chromedp.Text([]cdp.NodeID{n.NodeID}, &text, chromedp.ByNodeID)
	if sel := l.b.cfg.Selectors.EntityName; sel != "" {
		action = chromedp.Text(sel, &text, chromedp.ByQuery, chromedp.FromNode(n))
	}
	if err := l.run(ctx, "query", action); err != nil {
		return "", fmt.Errorf("read entity name: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Activate clicks a card and returns the detail page it opens.
func (l *Listing) Activate(ctx context.Context, h crawler.Handle) (crawler.EntityPage, error) {
	n, err := node(h)
	if err != nil {
		return nil, err
	}
	t, err := l.clickForTab(ctx, n)
	if err != nil {
		return nil, err
	}
	t.dismissOverlay(ctx)
	return &EntityPage{tab: t}, nil
}

// OpenParams clicks the card's parameter link and returns the table tab.
func (l *Listing) OpenParams(ctx context.Context, h crawler.Handle) (crawler.ParamsPage, bool, error) {
	n, err := node(h)
	if err != nil {
		return nil, false, err
	}
	links, err := l.nodesWithin(ctx, n, l.b.cfg.Selectors.ParamsLink)
	if err != nil {
		return nil, false, err
	}
	if len(links) == 0 {
		return nil, false, nil
	}
	t, err := l.clickForTab(ctx, links[0])
	if err != nil {
		return nil, true, err
	}
	return &ParamsPage{tab: t}, true, nil
}

// nodesWithin runs sel inside card. CSS is scoped by the browser; XPath is
// searched document-wide and kept only under card.
func (l *Listing) nodesWithin(ctx context.Context, card *cdp.Node, sel string) ([]*cdp.Node, error) {
	if !extract.IsXPath(sel) {
		return l.nodes(ctx, sel, chromedp.FromNode(card))
	}
	all, err := l.nodes(ctx, sel)
	if err != nil {
		return nil, err
	}
	return descendantsOf(card, all), nil
}

// descendantsOf keeps the nodes whose parent chain reaches root.
func descendantsOf(root *cdp.Node, nodes []*cdp.Node) []*cdp.Node {
	var out []*cdp.Node
	for _, n := range nodes {
		for p := n.Parent; p != nil; p = p.Parent {
			if p.NodeID == root.NodeID {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// ScrollMetric returns the document height.
func (l *Listing) ScrollMetric(ctx context.Context) (int64, error) {
	var height int64
	if err := l.run(ctx, "scroll", chromedp.Evaluate(`document.body.scrollHeight`, &height)); err != nil {
		return 0, fmt.Errorf("read scroll height: %w", err)
	}
	return height, nil
}

// TriggerScroll scrolls to the bottom of the document.
func (l *Listing) TriggerScroll(ctx context.Context) error {
	err := l.run(ctx, "scroll", chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
	if err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

// EntityPage is an entity's detail tab.
type EntityPage struct {
	*tab
}

// OpenSection clicks the named section link and returns the list it opens.
func (p *EntityPage) OpenSection(ctx context.Context, name string) (crawler.ItemList, bool, error) {
	sel := sectionSelector(p.b.cfg.Selectors.SectionLink, name)
	nodes, err := p.nodes(ctx, sel)
	if err != nil {
		return nil, false, err
	}
	if len(nodes) == 0 {
		return nil, false, nil
	}
	t, err := p.clickForTab(ctx, nodes[0])
	if err != nil {
		return nil, true, err
	}
	return &ItemList{tab: t}, true, nil
}

// ItemList is a paginated list of item triggers.
type ItemList struct {
	*tab
}

// Items returns the item triggers of the current page.
func (l *ItemList) Items(ctx context.Context) ([]crawler.Handle, error) {
	nodes, err := l.nodes(ctx, l.b.cfg.Selectors.ItemTrigger)
	if err != nil {
		return nil, err
	}
	return handles(nodes), nil
}

// OpenItem clicks an item trigger and returns the leaf tab it opens.
func (l *ItemList) OpenItem(ctx context.Context, h crawler.Handle) (crawler.LeafPage, error) {
	n, err := node(h)
	if err != nil {
		return nil, err
	}
	t, err := l.clickForTab(ctx, n)
	if err != nil {
		return nil, err
	}
	return &LeafPage{tab: t}, nil
}

// NextPage clicks the next-page control in place.
func (l *ItemList) NextPage(ctx context.Context) (bool, error) {
	nodes, err := l.nodes(ctx, l.b.cfg.Selectors.NextPage)
	if err != nil {
		return false, err
	}
	if len(nodes) == 0 || disabled(nodes[0]) {
		return false, nil
	}
	err = l.run(ctx, "click",
		chromedp.MouseClickNode(nodes[0]),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(l.b.cfg.SettleDelay),
	)
	if err != nil {
		return false, fmt.Errorf("next page: %w", err)
	}
	return true, nil
}

// LeafPage is a rendered leaf record tab.
type LeafPage struct {
	*tab
}

// Snapshot extracts the leaf's text sequences from its rendered HTML.
func (p *LeafPage) Snapshot(ctx context.Context) (crawler.LeafSnapshot, error) {
	var html string
	if err := p.run(ctx, "query", chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return crawler.LeafSnapshot{}, fmt.Errorf("read leaf html: %w", err)
	}
	if html == "" {
		return crawler.LeafSnapshot{}, errors.New("leaf rendered no html")
	}
	snap, err := extract.Query(strings.NewReader(html), p.b.cfg.Selectors.Leaf)
	if err != nil {
		return crawler.LeafSnapshot{}, fmt.Errorf("query leaf: %w", err)
	}
	return snap, nil
}

// ParamsPage is an entity's parameter table tab.
type ParamsPage struct {
	*tab
}

// Table reads the parameter table from the rendered HTML.
func (p *ParamsPage) Table(ctx context.Context) (crawler.TableSnapshot, error) {
	var html string
	if err := p.run(ctx, "query", chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return crawler.TableSnapshot{}, fmt.Errorf("read table html: %w", err)
	}
	if html == "" {
		return crawler.TableSnapshot{}, errors.New("table rendered no html")
	}
	snap, err := extract.ParseTable(strings.NewReader(html), p.b.cfg.Selectors.Table)
	if err != nil {
		return crawler.TableSnapshot{}, fmt.Errorf("parse table: %w", err)
	}
	return snap, nil
}
