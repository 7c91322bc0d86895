package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/autoharvest/internal/crawler"
)

// Parameter table defaults.
const (
	DefaultNameColumn  = "车名"
	DefaultPriceColumn = "官方指导价"
	// NullCell stands in for a cell that only shows an icon.
	NullCell = "NULL"
)

// TableSelectors locates the parts of a parameter table. All four are XPath.
// Rows must select one element per label, in label order.
type TableSelectors struct {
	Columns string `mapstructure:"columns"`
	Labels  string `mapstructure:"labels"`
	Prices  string `mapstructure:"prices"`
	Rows    string `mapstructure:"rows"`
}

// DefaultTableSelectors matches the dongchedi parameter page.
func DefaultTableSelectors() TableSelectors {
	return TableSelectors{
		Columns: `//a[contains(@class,"cell_car")]`,
		Labels:  `//label`,
		Prices:  `//div[contains(@class,"official-price")]`,
		Rows:    `//div[@data-row-anchor]/parent::*/div[contains(@class,"table_row") and not(contains(@class,"title"))]`,
	}
}

const (
	nestedQuery   = `./div[contains(@class,"nest")]`
	subRowQuery   = `.//div[contains(@class,"table_row")]`
	cellQuery     = `.//div[contains(@class,"cell_normal")]`
	imageQuery    = `.//img`
	nestCellQuery = `.//div[contains(@style,"index:%d")]//text()`
)

// ParseTable reads a rendered parameter page. Rows beyond the label count and
// cells beyond the column count are dropped; missing cells stay empty.
func ParseTable(r io.Reader, sel TableSelectors) (crawler.TableSnapshot, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return crawler.TableSnapshot{}, fmt.Errorf("parse table html: %w", err)
	}
	var snap crawler.TableSnapshot
	if snap.Columns, err = xpathTexts(doc, sel.Columns); err != nil {
		return crawler.TableSnapshot{}, err
	}
	if snap.Labels, err = xpathTexts(doc, sel.Labels); err != nil {
		return crawler.TableSnapshot{}, err
	}
	if snap.Prices, err = xpathTexts(doc, sel.Prices); err != nil {
		return crawler.TableSnapshot{}, err
	}

	snap.Cells = make([][]string, len(snap.Labels))
	for i := range snap.Cells {
		snap.Cells[i] = make([]string, len(snap.Columns))
	}
	if sel.Rows == "" || len(snap.Columns) == 0 {
		return snap, nil
	}
	rows, err := htmlquery.QueryAll(doc, sel.Rows)
	if err != nil {
		return crawler.TableSnapshot{}, fmt.Errorf("xpath %q: %w", sel.Rows, err)
	}
	for r, row := range rows {
		if r >= len(snap.Cells) {
			break
		}
		if err := readRow(row, snap.Cells[r]); err != nil {
			return crawler.TableSnapshot{}, err
		}
	}
	return snap, nil
}

// readRow fills dst from one table row. A nested row spreads each column over
// sub-rows whose cells carry an index style; later sub-rows win.
func readRow(row *html.Node, dst []string) error {
	nested, err := htmlquery.QueryAll(row, nestedQuery)
	if err != nil {
		return err
	}
	if len(nested) > 0 {
		subRows, err := htmlquery.QueryAll(row, subRowQuery)
		if err != nil {
			return err
		}
		for _, sub := range subRows {
			for c := range dst {
				texts, err := htmlquery.QueryAll(sub, fmt.Sprintf(nestCellQuery, c+1))
				if err != nil {
					return err
				}
				parts := make([]string, 0, len(texts))
				for _, t := range texts {
					if s := strings.TrimSpace(htmlquery.InnerText(t)); s != "" {
						parts = append(parts, s)
					}
				}
				if len(parts) > 0 {
					dst[c] = strings.Join(parts, " ")
				}
			}
		}
		return nil
	}

	cells, err := htmlquery.QueryAll(row, cellQuery)
	if err != nil {
		return err
	}
	for c, cell := range cells {
		if c >= len(dst) {
			break
		}
		text := strings.TrimSpace(htmlquery.InnerText(cell))
		if htmlquery.FindOne(cell, imageQuery) != nil {
			text = NullCell
		}
		if text != "" {
			dst[c] = text
		}
	}
	return nil
}

func xpathTexts(root *html.Node, selector string) ([]string, error) {
	if selector == "" {
		return nil, nil
	}
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

// TableFields names the fixed columns of a parameter row.
type TableFields struct {
	NameColumn  string
	PriceColumn string
	Unknown     string
}

func (f TableFields) withDefaults() TableFields {
	if f.NameColumn == "" {
		f.NameColumn = DefaultNameColumn
	}
	if f.PriceColumn == "" {
		f.PriceColumn = DefaultPriceColumn
	}
	if f.Unknown == "" {
		f.Unknown = DefaultUnknown
	}
	return f
}

// NewTableAdapter returns an adapter that turns every table column into one
// record: the variant name, its price, then each label with its cell. The
// variant name is both subject and author, so resume cursors track columns.
func NewTableAdapter(fields TableFields) crawler.TableAdapter {
	f := fields.withDefaults()
	return func(snap crawler.TableSnapshot) []crawler.Extraction {
		out := make([]crawler.Extraction, 0, len(snap.Columns))
		for c, column := range snap.Columns {
			name := strings.TrimSpace(column)
			if name == "" {
				name = f.Unknown
			}
			price := ""
			if c < len(snap.Prices) {
				price = strings.TrimSpace(snap.Prices[c])
			}
			rec := crawler.NewRecord(f.NameColumn, name, f.PriceColumn, price)
			for r, label := range snap.Labels {
				label = strings.TrimSpace(label)
				if label == "" || label == f.NameColumn || label == f.PriceColumn {
					continue
				}
				value := ""
				if r < len(snap.Cells) && c < len(snap.Cells[r]) {
					value = snap.Cells[r][c]
				}
				rec.Set(label, value)
			}
			out = append(out, crawler.Extraction{Record: rec, Subject: name, Author: name})
		}
		return out
	}
}
