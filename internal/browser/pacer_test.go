package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacerUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	p := NewPacer(PacerConfig{})
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Wait(context.Background(), "click"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPacerDelaysPerAction(t *testing.T) {
	t.Parallel()

	p := NewPacer(PacerConfig{ActionsPerSecond: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, p.Wait(ctx, "click"))
	// A different action kind has its own bucket.
	start := time.Now()
	require.NoError(t, p.Wait(ctx, "scroll"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	start = time.Now()
	require.NoError(t, p.Wait(ctx, "click"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPacerHonorsCancellation(t *testing.T) {
	t.Parallel()

	p := NewPacer(PacerConfig{ActionsPerSecond: 0.001, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Wait(ctx, "click"))
	cancel()

	err := p.Wait(ctx, "click")
	require.Error(t, err)
	assert.ErrorContains(t, err, "pace click")
}
