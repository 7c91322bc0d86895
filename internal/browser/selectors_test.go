package browser

import (
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/autoharvest/internal/extract"
)

func TestSectionSelectorQuotesName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `//li/a[normalize-space(text())="Reviews"]`, sectionSelector("", "Reviews"))
	assert.Equal(t, `//a[.='say "hi"']`, sectionSelector(`//a[.=%s]`, `say "hi"`))
	assert.Equal(t, "#reviews", sectionSelector("#reviews", "Reviews"))
}

func TestXPathLiteralMixedQuotes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `concat("it's ", '"', "big", '"')`, xpathLiteral(`it's "big"`))
}

func TestDisabled(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		attrs []string
		want  bool
	}{
		{name: "enabled", attrs: []string{"class", "page-next"}, want: false},
		{name: "class", attrs: []string{"class", "page-next disabled"}, want: true},
		{name: "suffix", attrs: []string{"class", "next btn-disabled"}, want: true},
		{name: "attribute", attrs: []string{"disabled", ""}, want: true},
		{name: "aria", attrs: []string{"aria-disabled", "true"}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, disabled(&cdp.Node{Attributes: tc.attrs}))
		})
	}
	assert.True(t, disabled(nil))
}

func TestNodeRejectsForeignHandles(t *testing.T) {
	t.Parallel()

	_, err := node("not a node")
	require.Error(t, err)

	n := &cdp.Node{NodeID: 7}
	got, err := node(n)
	require.NoError(t, err)
	assert.Same(t, n, got)
	assert.Len(t, handles([]*cdp.Node{n, n}), 2)
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultSectionLink, cfg.Selectors.SectionLink)
	require.ErrorContains(t, cfg.validate(), "start url")

	cfg.StartURL = "https://example.com/price"
	cfg.Selectors.EntityCard = `//li[contains(@class,"group")]`
	cfg.Selectors.ItemTrigger = "a.review-more"
	require.ErrorContains(t, cfg.validate(), "next page")
	cfg.Selectors.NextPage = "a.next"
	require.NoError(t, cfg.validate())
}

func TestDescendantsOf(t *testing.T) {
	t.Parallel()

	card := &cdp.Node{NodeID: 10}
	other := &cdp.Node{NodeID: 20}
	inner := &cdp.Node{NodeID: 11, Parent: card}
	deep := &cdp.Node{NodeID: 12, Parent: &cdp.Node{NodeID: 13, Parent: card}}
	outside := &cdp.Node{NodeID: 21, Parent: other}
	orphan := &cdp.Node{NodeID: 30}

	got := descendantsOf(card, []*cdp.Node{inner, outside, deep, orphan, card})
	assert.Equal(t, []*cdp.Node{inner, deep}, got)
}

func TestConfigDefaultsParamsSelectors(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultParamsLink, cfg.Selectors.ParamsLink)
	assert.Equal(t, extract.DefaultTableSelectors(), cfg.Selectors.Table)

	custom := Config{Selectors: Selectors{Table: extract.TableSelectors{Columns: "//th"}}}.withDefaults()
	assert.Equal(t, "//th", custom.Selectors.Table.Columns)
	assert.Empty(t, custom.Selectors.Table.Rows, "a partial table override is kept as given")
}
