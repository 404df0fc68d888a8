package crawl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxllxllxlllx/live-graph-system/internal/metrics"
)

func TestPacer_EnforcesPerHostInterval(t *testing.T) {
	t.Parallel()
	metrics.Init()

	pacer := NewPacer(100 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, pacer.Wait(ctx, "http://slow.test/a"))
	start := time.Now()
	require.NoError(t, pacer.Wait(ctx, "http://slow.test/b"))
	require.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestPacer_HostsAreIndependent(t *testing.T) {
	t.Parallel()
	metrics.Init()

	pacer := NewPacer(500 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, pacer.Wait(ctx, "http://one.test/"))
	start := time.Now()
	require.NoError(t, pacer.Wait(ctx, "http://two.test/"))
	require.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestPacer_ZeroIntervalNeverBlocks(t *testing.T) {
	t.Parallel()

	pacer := NewPacer(0)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, pacer.Wait(ctx, "http://fast.test/"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPacer_CancelledContext(t *testing.T) {
	t.Parallel()

	pacer := NewPacer(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pacer.Wait(ctx, "http://blocked.test/"))
	cancel()
	require.Error(t, pacer.Wait(ctx, "http://blocked.test/"))
}
