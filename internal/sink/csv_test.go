package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/autoharvest/internal/crawler"
)

func newSink(t *testing.T) *CSVSink {
	t.Helper()
	s, err := NewCSVSink(t.TempDir(), "", nil)
	require.NoError(t, err)
	return s
}

func TestAppendCreatesHeaderFromFirstRecord(t *testing.T) {
	t.Parallel()

	s := newSink(t)
	require.NoError(t, s.Append(context.Background(), "Model X", crawler.NewRecord("subject", "Model X", "author_id", "u1", "空间", "大")))

	header, rows, err := s.ReadTable("Model X")
	require.NoError(t, err)
	assert.Equal(t, []string{"subject", "author_id", "空间"}, header)
	assert.Equal(t, [][]string{{"Model X", "u1", "大"}}, rows)
	assert.True(t, s.HasTable("Model X"))
	assert.False(t, s.HasTable("Model Y"))
}

func TestAppendSchemaEvolution(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	s, err := NewCSVSink(t.TempDir(), "", zap.New(core))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "T", crawler.NewRecord("A", "a1", "B", "b1")))
	require.NoError(t, s.Append(ctx, "T", crawler.NewRecord("A", "v", "C", "c2")))

	header, rows, err := s.ReadTable("T")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, header)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"a1", "b1"}, rows[0])
	assert.Equal(t, []string{"v", ""}, rows[1])

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "dropping fields outside table header", entry.Message)
	assert.Equal(t, []any{"C"}, entry.ContextMap()["dropped"])
}

func TestAppendUsesExistingHeaderAcrossInstances(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ctx := context.Background()
	first, err := NewCSVSink(root, "", nil)
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, "T", crawler.NewRecord("A", "1", "B", "2")))

	second, err := NewCSVSink(root, "", nil)
	require.NoError(t, err)
	require.NoError(t, second.Append(ctx, "T", crawler.NewRecord("B", "3", "A", "4")))

	header, rows, err := second.ReadTable("T")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, header)
	assert.Equal(t, []string{"4", "3"}, rows[1], "row follows header order, not record order")
}

func TestAppendQuotesMultilineValues(t *testing.T) {
	t.Parallel()

	s := newSink(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "T", crawler.NewRecord("A", "line1\nline2, with comma", "B", `say "hi"`)))
	require.NoError(t, s.Append(ctx, "T", crawler.NewRecord("A", "x", "B", "y")))

	_, rows, err := s.ReadTable("T")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "line1\nline2, with comma", rows[0][0])
	assert.Equal(t, `say "hi"`, rows[0][1])
}

func TestAppendRejectsEmptyRecord(t *testing.T) {
	t.Parallel()

	s := newSink(t)
	err := s.Append(context.Background(), "T", crawler.NewRecord())
	require.ErrorIs(t, err, ErrEmptyRecord)
	assert.False(t, s.HasTable("T"))
}

func TestAppendHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	s := newSink(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Append(ctx, "T", crawler.NewRecord("A", "1"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestLastIdentity(t *testing.T) {
	t.Parallel()

	s := newSink(t)
	ctx := context.Background()

	_, found, err := s.LastIdentity("T", "author_id")
	require.NoError(t, err)
	assert.False(t, found, "missing table")

	require.NoError(t, s.Append(ctx, "T", crawler.NewRecord("author_id", "u1", "A", "x")))
	require.NoError(t, s.Append(ctx, "T", crawler.NewRecord("author_id", "u2", "A", "y")))

	id, found, err := s.LastIdentity("T", "author_id")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "u2", id)

	_, found, err = s.LastIdentity("T", "nope")
	require.NoError(t, err)
	assert.False(t, found, "unknown column")
}

func TestLastIdentityHeaderOnly(t *testing.T) {
	t.Parallel()

	s := newSink(t)
	require.NoError(t, os.WriteFile(s.Path("T"), []byte("author_id,A\n"), 0o600))

	_, found, err := s.LastIdentity("T", "author_id")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTornTailIsRepairedBeforeAppend(t *testing.T) {
	t.Parallel()

	s := newSink(t)
	require.NoError(t, os.WriteFile(s.Path("T"), []byte("A,B\n1,2\n3,"), 0o600))

	require.NoError(t, s.Append(context.Background(), "T", crawler.NewRecord("A", "5", "B", "6")))

	header, rows, err := s.ReadTable("T")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, header)
	assert.Equal(t, [][]string{{"1", "2"}, {"5", "6"}}, rows)
}

func TestTornHeaderStartsFresh(t *testing.T) {
	t.Parallel()

	s := newSink(t)
	require.NoError(t, os.WriteFile(s.Path("T"), []byte("A,"), 0o600))

	require.NoError(t, s.Append(context.Background(), "T", crawler.NewRecord("X", "1")))

	header, rows, err := s.ReadTable("T")
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, header)
	assert.Equal(t, [][]string{{"1"}}, rows)
}

func TestHeaderStripsBOM(t *testing.T) {
	t.Parallel()

	s := newSink(t)
	require.NoError(t, os.WriteFile(s.Path("T"), []byte("\ufeffA,B\n1,2\n"), 0o600))

	header, err := s.Header("T")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, header)
}

func TestTablesAndPathSanitization(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := NewCSVSink(root, "_reviews.csv", nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "Model/X", crawler.NewRecord("A", "1")))
	require.NoError(t, s.Append(ctx, "Alpha", crawler.NewRecord("A", "1")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600))

	assert.Equal(t, filepath.Join(root, "Model_X_reviews.csv"), s.Path("Model/X"))
	tables, err := s.Tables()
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Model_X"}, tables)
}

func TestRepairTornTailLongLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "t.csv")
	long := make([]byte, 8209)
	for i := range long {
		long[i] = 'x'
	}
	content := append([]byte("A\n1\n"), long...)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	repaired, err := repairTornTail(path)
	require.NoError(t, err)
	assert.True(t, repaired)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "A\n1\n", string(data))

	repaired, err = repairTornTail(path)
	require.NoError(t, err)
	assert.False(t, repaired)
}

func TestTornMultilineRecordIsRolledBack(t *testing.T) {
	t.Parallel()

	for name, torn := range map[string]string{
		"inside value":      "s,u2,\"first line\nsecond",
		"after inner break": "s,u2,\"first line\n",
		"after close quote": "s,u2,\"first line\nsecond\"",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			root := t.TempDir()
			ctx := context.Background()
			first, err := NewCSVSink(root, "", nil)
			require.NoError(t, err)
			require.NoError(t, first.Append(ctx, "T", crawler.NewRecord("subject", "s", "author_id", "u1", "text", "one\ntwo")))

			f, err := os.OpenFile(first.Path("T"), os.O_APPEND|os.O_WRONLY, 0o600)
			require.NoError(t, err)
			_, err = f.WriteString(torn)
			require.NoError(t, err)
			require.NoError(t, f.Close())

			next, err := NewCSVSink(root, "", nil)
			require.NoError(t, err)
			require.NoError(t, next.Append(ctx, "T", crawler.NewRecord("subject", "s", "author_id", "u3", "text", "ok")))

			header, rows, err := next.ReadTable("T")
			require.NoError(t, err)
			assert.Equal(t, []string{"subject", "author_id", "text"}, header)
			assert.Equal(t, [][]string{{"s", "u1", "one\ntwo"}, {"s", "u3", "ok"}}, rows)
		})
	}
}

func TestLastIdentityIgnoresTornRecord(t *testing.T) {
	t.Parallel()

	s := newSink(t)
	require.NoError(t, os.WriteFile(s.Path("T"), []byte("subject,author_id\ns,u1\ns,\"u2"), 0o600))

	last, found, err := s.LastIdentity("T", "author_id")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "u1", last)
}

func TestRepairLeavesCompleteTableAlone(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "t.csv")
	content := "A,B\n\"x\ny\",2\n\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	repaired, err := repairTornTail(path)
	require.NoError(t, err)
	assert.False(t, repaired)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestRepairRefusesCorruptMiddle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "t.csv")
	require.NoError(t, os.WriteFile(path, []byte("A,B\n1,x\"y\"\n2,3\n"), 0o600))

	_, err := repairTornTail(path)
	assert.Error(t, err)
}
