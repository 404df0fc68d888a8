package crawl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xxllxllxlllx/live-graph-system/internal/metrics"
)

// Pacer enforces the per-host minimum interval between fetches using a
// lazily built token bucket per host.
type Pacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

// NewPacer builds a pacer for the configured per-host delay. A zero or
// negative delay disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// Wait blocks until the host's token is available or the context ends.
func (p *Pacer) Wait(ctx context.Context, rawURL string) error {
	if p.interval <= 0 {
		return nil
	}
	host := Host(rawURL)
	if host == "" {
		host = "unknown"
	}

	p.mu.Lock()
	limiter, ok := p.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(p.interval), 1)
		p.limiters[host] = limiter
	}
	p.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pace %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}
