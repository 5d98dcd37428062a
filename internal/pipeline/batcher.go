package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/viralscope/viralscope/internal/resilience"
)

// Adaptive batch bounds. The batcher starts at 3 concurrent items, grows
// after healthy batches, and shrinks to 1 under rate-limit pressure.
const (
	batchStart        = 3
	batchMin          = 1
	batchMax          = 8
	batchGrowthWindow = 0.8
	batchRetries      = 2
)

// Batcher runs a worklist in adaptively-sized concurrent batches. One
// Batcher instance is per-run; it is not safe for concurrent Run calls.
type Batcher struct {
	size int

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBatcher creates a Batcher at the starting size.
func NewBatcher() *Batcher {
	return &Batcher{size: batchStart, sleep: sleepCtx}
}

// BatchStats reports what one Run did.
type BatchStats struct {
	Succeeded int
	Failed    int
	FinalSize int
}

// Run processes every item, batch by batch. A batch that fails entirely is
// retried up to batchRetries times with rate-limit backoff before its items
// are counted as failed. Item errors never abort the run.
func (b *Batcher) Run(ctx context.Context, items []string, fn func(ctx context.Context, item string) error) (BatchStats, error) {
	stats := BatchStats{FinalSize: b.size}

	for lo := 0; lo < len(items); {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		hi := min(lo+b.size, len(items))
		batch := items[lo:hi]

		ok, rateLimited := b.runBatch(ctx, batch, fn)
		stats.Succeeded += ok
		stats.Failed += len(batch) - ok

		b.adapt(len(batch), ok, rateLimited)
		stats.FinalSize = b.size

		if rateLimited {
			if err := b.sleep(ctx, rateLimitBackoff(1)); err != nil {
				return stats, err
			}
		}
		lo = hi
	}
	return stats, nil
}

// runBatch executes one batch concurrently, retrying rate-limited items.
func (b *Batcher) runBatch(ctx context.Context, batch []string, fn func(ctx context.Context, item string) error) (succeeded int, sawRateLimit bool) {
	type outcome struct {
		ok          bool
		rateLimited bool
	}
	results := make([]outcome, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	for i, item := range batch {
		g.Go(func() error {
			var lastErr error
			for attempt := 0; attempt <= batchRetries; attempt++ {
				if attempt > 0 {
					if err := b.sleep(gctx, rateLimitBackoff(attempt)); err != nil {
						return nil
					}
				}
				err := fn(gctx, item)
				if err == nil {
					results[i] = outcome{ok: true}
					return nil
				}
				lastErr = err
				if resilience.IsRateLimited(err) {
					results[i].rateLimited = true
					continue
				}
				if !resilience.IsRetryable(err) {
					break
				}
			}
			zap.L().Warn("batch item failed",
				zap.String("item", item), zap.Error(lastErr))
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.ok {
			succeeded++
		}
		if r.rateLimited {
			sawRateLimit = true
		}
	}
	return succeeded, sawRateLimit
}

// adapt resizes the next batch: rate limiting halves the size, a batch with
// a success rate above the growth window grows it by one.
func (b *Batcher) adapt(batchLen, succeeded int, rateLimited bool) {
	switch {
	case rateLimited:
		b.size = max(batchMin, b.size/2)
	case batchLen > 0 && float64(succeeded)/float64(batchLen) > batchGrowthWindow:
		b.size = min(batchMax, b.size+1)
	}
}

// rateLimitBackoff is 5s doubling per attempt, capped at 30s.
func rateLimitBackoff(attempt int) time.Duration {
	d := time.Duration(1<<(attempt-1)) * 5 * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
