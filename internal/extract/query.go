package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/autoharvest/internal/crawler"
)

// Selectors holds the four leaf queries. A selector starting with '/' or '('
// is XPath; anything else is CSS.
type Selectors struct {
	Subject string `mapstructure:"subject"`
	Author  string `mapstructure:"author"`
	Labels  string `mapstructure:"labels"`
	Values  string `mapstructure:"values"`
}

// IsXPath reports whether selector is an XPath expression.
func IsXPath(selector string) bool {
	s := strings.TrimSpace(selector)
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(")
}

// Query parses an HTML document and runs the four leaf selectors against it.
func Query(r io.Reader, sel Selectors) (crawler.LeafSnapshot, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return crawler.LeafSnapshot{}, fmt.Errorf("parse leaf html: %w", err)
	}
	var snap crawler.LeafSnapshot
	targets := []struct {
		selector string
		dst      *[]string
	}{
		{sel.Subject, &snap.Subjects},
		{sel.Author, &snap.Authors},
		{sel.Labels, &snap.Labels},
		{sel.Values, &snap.Values},
	}
	for _, t := range targets {
		if t.selector == "" {
			continue
		}
		values, err := Texts(doc, t.selector)
		if err != nil {
			return crawler.LeafSnapshot{}, err
		}
		*t.dst = values
	}
	return snap, nil
}

// Texts returns the trimmed text of every node matching selector, in
// document order. Empty strings are kept so positional pairing stays aligned.
func Texts(root *html.Node, selector string) ([]string, error) {
	if IsXPath(selector) {
		nodes, err := htmlquery.QueryAll(root, selector)
		if err != nil {
			return nil, fmt.Errorf("xpath %q: %w", selector, err)
		}
		out := make([]string, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, strings.TrimSpace(htmlquery.InnerText(n)))
		}
		return out, nil
	}

	sel, err := compileCSS(root, selector)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, strings.TrimSpace(s.Text()))
	})
	return out, nil
}

func compileCSS(root *html.Node, selector string) (*goquery.Selection, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("css %q: %w", selector, err)
	}
	return goquery.NewDocumentFromNode(root).FindMatcher(m), nil
}
