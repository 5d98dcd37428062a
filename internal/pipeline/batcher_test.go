package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralscope/viralscope/internal/resilience"
)

func testBatcher() *Batcher {
	b := NewBatcher()
	b.sleep = func(context.Context, time.Duration) error { return nil }
	return b
}

func items(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(rune('a' + i))
	}
	return out
}

func TestBatcher_AllSucceed(t *testing.T) {
	b := testBatcher()

	var mu sync.Mutex
	seen := map[string]bool{}
	stats, err := b.Run(context.Background(), items(10), func(_ context.Context, item string) error {
		mu.Lock()
		seen[item] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Succeeded)
	assert.Zero(t, stats.Failed)
	assert.Len(t, seen, 10)
}

func TestBatcher_GrowsAfterHealthyBatches(t *testing.T) {
	b := testBatcher()

	stats, err := b.Run(context.Background(), items(20), func(context.Context, string) error {
		return nil
	})
	require.NoError(t, err)
	// Batches of 3, 4, 5, and 6 cover 18 items; the final batch of 2
	// grows the size once more.
	assert.Equal(t, 8, stats.FinalSize)
}

func TestBatcher_ShrinksOnRateLimit(t *testing.T) {
	b := testBatcher()

	rateLimited := resilience.Wrap(resilience.KindRateLimited, errors.New("429"))
	stats, err := b.Run(context.Background(), items(3), func(context.Context, string) error {
		return rateLimited
	})
	require.NoError(t, err)
	assert.Equal(t, batchMin, stats.FinalSize)
	assert.Equal(t, 3, stats.Failed)
}

func TestBatcher_ItemFailureDoesNotAbort(t *testing.T) {
	b := testBatcher()

	fatal := resilience.Wrap(resilience.KindMalformed, errors.New("bad payload"))
	stats, err := b.Run(context.Background(), items(6), func(_ context.Context, item string) error {
		if item == "b" {
			return fatal
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
}

func TestBatcher_RetriesTransientErrors(t *testing.T) {
	b := testBatcher()

	var mu sync.Mutex
	attempts := 0
	transient := resilience.Wrap(resilience.KindTransient, errors.New("502"))
	stats, err := b.Run(context.Background(), items(1), func(context.Context, string) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return transient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 2, attempts)
}

func TestBatcher_CancelledContextStops(t *testing.T) {
	b := testBatcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Run(ctx, items(5), func(context.Context, string) error { return nil })
	require.Error(t, err)
}

func TestRateLimitBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, rateLimitBackoff(1))
	assert.Equal(t, 10*time.Second, rateLimitBackoff(2))
	assert.Equal(t, 20*time.Second, rateLimitBackoff(3))
	assert.Equal(t, 30*time.Second, rateLimitBackoff(4), "backoff caps at 30s")
}
