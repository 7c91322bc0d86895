package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	rec := NewRecord("b", "1", "a", "2")
	rec.Set("c", "3")
	rec.Set("b", "updated")

	require.Equal(t, []string{"b", "a", "c"}, rec.Keys())
	v, ok := rec.Get("b")
	require.True(t, ok)
	assert.Equal(t, "updated", v)
	assert.Equal(t, 3, rec.Len())
}

func TestRecordZeroValue(t *testing.T) {
	t.Parallel()

	var rec Record
	_, ok := rec.Get("missing")
	assert.False(t, ok)
	rec.Set("k", "v")
	assert.True(t, rec.Has("k"))
}

func TestRecordMerge(t *testing.T) {
	t.Parallel()

	base := NewRecord("a", "1")
	base.Merge(NewRecord("b", "2", "a", "3"))
	base.Merge(nil)

	require.Equal(t, []string{"a", "b"}, base.Keys())
	v, _ := base.Get("a")
	assert.Equal(t, "3", v)
}

func TestRecordProject(t *testing.T) {
	t.Parallel()

	rec := NewRecord("A", "v", "C", "x")
	row, missing, extra := rec.Project([]string{"A", "B"})

	assert.Equal(t, []string{"v", ""}, row)
	assert.Equal(t, []string{"B"}, missing)
	assert.Equal(t, []string{"C"}, extra)
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"  Model X \n":     "Model X",
		"Model\x00Y":       "ModelY",
		"\t宝马3系\r":         "宝马3系",
		"":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeKey(in), "input %q", in)
	}
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "A_B_C_D", SanitizeName(`A/B:C?D`))
	assert.Equal(t, "plain", SanitizeName("plain"))
}

func TestItemID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "page_1_item_1", ItemID(1, 1))
	assert.Equal(t, "page_12_item_3", ItemID(12, 3))
}

func TestEntityProgressClone(t *testing.T) {
	t.Parallel()

	orig := EntityProgress{Status: StatusIncomplete, SubProgress: map[string]ItemProgress{"page_1_item_1": {Reviewed: true}}}
	cp := orig.Clone()
	cp.SubProgress["page_1_item_2"] = ItemProgress{Reviewed: true}

	assert.Len(t, orig.SubProgress, 1)
	assert.True(t, StatusCompleted.Valid())
	assert.False(t, Status("bogus").Valid())
}
