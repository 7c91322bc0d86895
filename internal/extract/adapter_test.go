package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/autoharvest/internal/crawler"
)

func TestCleanLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"空间\n", "空间"},
		{"  油耗 12 ", "油耗"},
		{"2024款\n评分", "款评分"},
		{"123", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, CleanLabel(tc.in), "input %q", tc.in)
	}
}

func TestAdapterPairsLabelsAndValues(t *testing.T) {
	t.Parallel()

	adapt := NewAdapter(Fields{})
	out := adapt(crawler.LeafSnapshot{
		Subjects: []string{" Model X "},
		Authors:  []string{"user42"},
		Labels:   []string{"空间1", "动力\n"},
		Values:   []string{"宽敞", " 够用 "},
	})

	assert.Equal(t, "Model X", out.Subject)
	assert.Equal(t, "user42", out.Author)
	require.Equal(t, []string{"subject", "author_id", "空间", "动力"}, out.Record.Keys())
	v, _ := out.Record.Get("动力")
	assert.Equal(t, "够用", v)
}

func TestAdapterTruncatesToShorterSequence(t *testing.T) {
	t.Parallel()

	adapt := NewAdapter(Fields{})

	moreLabels := adapt(crawler.LeafSnapshot{Labels: []string{"A", "B", "C"}, Values: []string{"1"}})
	assert.Equal(t, []string{"subject", "author_id", "A"}, moreLabels.Record.Keys())

	moreValues := adapt(crawler.LeafSnapshot{Labels: []string{"A"}, Values: []string{"1", "2", "3"}})
	assert.Equal(t, []string{"subject", "author_id", "A"}, moreValues.Record.Keys())
}

func TestAdapterDefaultsMandatoryFields(t *testing.T) {
	t.Parallel()

	adapt := NewAdapter(Fields{SubjectColumn: "车名", AuthorColumn: "用户ID", Unknown: "n/a"})
	out := adapt(crawler.LeafSnapshot{Subjects: []string{"  "}})

	assert.Equal(t, "n/a", out.Subject)
	assert.Equal(t, "n/a", out.Author)
	v, ok := out.Record.Get("车名")
	require.True(t, ok)
	assert.Equal(t, "n/a", v)
	v, ok = out.Record.Get("用户ID")
	require.True(t, ok)
	assert.Equal(t, "n/a", v)
}

func TestAdapterSkipsEmptyAndReservedLabels(t *testing.T) {
	t.Parallel()

	adapt := NewAdapter(Fields{})
	out := adapt(crawler.LeafSnapshot{
		Authors: []string{"u1"},
		Labels:  []string{"42", "author_id", "A", "A"},
		Values:  []string{"x", "spoof", "first", "second"},
	})

	assert.Equal(t, []string{"subject", "author_id", "A"}, out.Record.Keys())
	author, _ := out.Record.Get("author_id")
	assert.Equal(t, "u1", author)
	a, _ := out.Record.Get("A")
	assert.Equal(t, "second", a)
}
