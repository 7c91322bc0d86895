package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/autoharvest/internal/extract"
)

// Selectors locate the interactive elements of the site. Document-wide
// selectors accept CSS or XPath; EntityName is CSS relative to a card.
// ParamsLink is searched inside a card.
type Selectors struct {
	EntityCard  string                 `mapstructure:"entity_card"`
	EntityName  string                 `mapstructure:"entity_name"`
	SectionLink string                 `mapstructure:"section_link"`
	ItemTrigger string                 `mapstructure:"item_trigger"`
	NextPage    string                 `mapstructure:"next_page"`
	ParamsLink  string                 `mapstructure:"params_link"`
	Leaf        extract.Selectors      `mapstructure:"leaf"`
	Table       extract.TableSelectors `mapstructure:"table"`
}

// DefaultSectionLink matches a link whose text equals the section name. %s is
// replaced with an XPath string literal.
const DefaultSectionLink = `//li/a[normalize-space(text())=%s]`

// DefaultParamsLink matches a card's parameter link.
const DefaultParamsLink = `//a[contains(text(),"参数")]`

func queryBy(sel string) chromedp.QueryOption {
	if extract.IsXPath(sel) {
		return chromedp.BySearch
	}
	return chromedp.ByQueryAll
}

// sectionSelector renders the section link template for name.
func sectionSelector(template, name string) string {
	if template == "" {
		template = DefaultSectionLink
	}
	if !strings.Contains(template, "%s") {
		return template
	}
	return fmt.Sprintf(template, xpathLiteral(name))
}

// xpathLiteral quotes s as an XPath 1.0 string literal. XPath has no escape
// sequences, so a value with both quote kinds is built with concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	args := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			args = append(args, `'"'`)
		}
		if p != "" {
			args = append(args, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(args, ", ") + ")"
}

// disabled reports whether a pagination control is inert.
func disabled(n *cdp.Node) bool {
	if n == nil {
		return true
	}
	if _, ok := n.Attribute("disabled"); ok {
		return true
	}
	if v, _ := n.Attribute("aria-disabled"); v == "true" {
		return true
	}
	for _, class := range strings.Fields(n.AttributeValue("class")) {
		if class == "disabled" || strings.HasSuffix(class, "-disabled") {
			return true
		}
	}
	return false
}
