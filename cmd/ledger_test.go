package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/autoharvest/internal/crawler"
)

func writeConfig(t *testing.T, outDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := fmt.Sprintf("crawler:\n  output_dir: %q\nledger:\n  backend: file\n", outDir)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func writeLedger(t *testing.T, outDir string, records map[string]crawler.EntityProgress) {
	t.Helper()
	data, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "progress.json"), data, 0o600))
}

func readLedger(t *testing.T, outDir string) map[string]crawler.EntityProgress {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(outDir, "progress.json"))
	require.NoError(t, err)
	var records map[string]crawler.EntityProgress
	require.NoError(t, json.Unmarshal(data, &records))
	return records
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLedgerShowFiltersByStatus(t *testing.T) {
	outDir := t.TempDir()
	writeLedger(t, outDir, map[string]crawler.EntityProgress{
		"alpha": {Status: crawler.StatusCompleted},
		"beta":  {Status: crawler.StatusError},
		"gamma": {Status: crawler.StatusIncomplete, LastCursor: "user9"},
	})
	cfg := writeConfig(t, outDir)

	out, err := execute(t, "--config", cfg, "ledger", "show", "--status", "error")
	require.NoError(t, err)
	var shown map[string]crawler.EntityProgress
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Len(t, shown, 1)
	assert.Contains(t, shown, "beta")

	out, err = execute(t, "--config", cfg, "ledger", "show", "gamma", "missing")
	require.NoError(t, err)
	shown = nil
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	require.Len(t, shown, 1)
	assert.Equal(t, "user9", shown["gamma"].LastCursor)

	_, err = execute(t, "--config", cfg, "ledger", "show", "--status", "bogus")
	assert.Error(t, err)
}

func TestLedgerResetRemovesNamedEntities(t *testing.T) {
	outDir := t.TempDir()
	writeLedger(t, outDir, map[string]crawler.EntityProgress{
		"alpha": {Status: crawler.StatusCompleted},
		"beta":  {Status: crawler.StatusError},
	})
	cfg := writeConfig(t, outDir)

	out, err := execute(t, "--config", cfg, "ledger", "reset", "beta", "missing")
	require.NoError(t, err)
	assert.Contains(t, out, "reset 1 of 2 entities")

	records := readLedger(t, outDir)
	assert.Contains(t, records, "alpha")
	assert.NotContains(t, records, "beta")

	_, err = execute(t, "--config", cfg, "ledger", "reset")
	assert.Error(t, err, "reset needs at least one entity")
}

func TestLedgerBackfillMarksOrphanTables(t *testing.T) {
	outDir := t.TempDir()
	writeLedger(t, outDir, map[string]crawler.EntityProgress{
		"alpha": {Status: crawler.StatusIncomplete},
	})
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "alpha_reviews.csv"),
		[]byte("subject,author_id\nalpha review,user1\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "beta_reviews.csv"),
		[]byte("subject,author_id\nbeta review,user1\nbeta review,user2\n"), 0o600))
	cfg := writeConfig(t, outDir)

	out, err := execute(t, "--config", cfg, "ledger", "backfill")
	require.NoError(t, err)
	assert.Contains(t, out, "backfilled 1 entities")

	records := readLedger(t, outDir)
	assert.Equal(t, crawler.StatusIncomplete, records["alpha"].Status, "known entities are left alone")
	require.Contains(t, records, "beta")
	assert.Equal(t, crawler.StatusCompleted, records["beta"].Status)
	assert.Equal(t, "user2", records["beta"].LastCursor)
}
