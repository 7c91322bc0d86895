package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/autoharvest/internal/config"
	"github.com/JakeFAU/autoharvest/internal/crawler"
	"github.com/JakeFAU/autoharvest/internal/ledger"
	"github.com/JakeFAU/autoharvest/internal/progress"
	memorypublisher "github.com/JakeFAU/autoharvest/internal/publisher/memory"
	"github.com/JakeFAU/autoharvest/internal/storage/local"
	"github.com/JakeFAU/autoharvest/internal/storage/memory"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Crawler: config.CrawlerConfig{
			ListingURL:  "https://example.com/price",
			OutputDir:   dir,
			TableSuffix: "_reviews.csv",
			ReportDir:   "reports",
		},
		Ledger: config.LedgerConfig{Backend: "file", Path: filepath.Join(dir, "progress.json")},
		Diagnostics: config.DiagnosticsConfig{
			Enabled: true,
			Backend: "local",
			Prefix:  "screenshots",
			Local:   config.LocalConfig{BaseDir: dir},
		},
		Progress: config.ProgressConfig{Enabled: true, MaxBatchWait: 10 * time.Millisecond},
	}
}

func TestNewWiresLocalServices(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	a, err := New(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })

	assert.IsType(t, &local.BlobStore{}, a.Blobs())
	assert.IsType(t, &memorypublisher.Publisher{}, a.Publisher())
	assert.IsType(t, &progress.Hub{}, a.Emitter())
	require.NotNil(t, a.Capturer("run-1"))

	require.NoError(t, a.Ledger().Save(ctx, "Model X", crawler.StatusIncomplete))
	_, err = os.Stat(cfg.Ledger.Path)
	require.NoError(t, err)

	require.NoError(t, a.Sink().Append(ctx, "Model X", crawler.NewRecord("subject", "s", "author_id", "a")))
	assert.True(t, a.Sink().HasTable("Model X"))
}

func TestNewHonorsDisabledFeatures(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Diagnostics.Enabled = false
	cfg.Diagnostics.Backend = "memory"
	cfg.Progress.Enabled = false

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.Nil(t, a.Capturer("run-1"))
	assert.IsType(t, progress.Discard{}, a.Emitter())
	assert.IsType(t, &memory.BlobStore{}, a.Blobs())
}

func TestNewRejectsCorruptLedger(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Ledger.Path, []byte(`{"Model X": {"status": `), 0o600))

	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))

	require.ErrorIs(t, err, ledger.ErrCorrupt)
}

func TestOpenLedgerRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Ledger.Backend = "sqlite"

	_, _, err := OpenLedger(context.Background(), cfg, nil)

	require.ErrorContains(t, err, "unknown ledger backend")
}
