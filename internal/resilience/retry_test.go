package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Wrap(KindTransient, errors.New("boom"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_DoesNotRetryValidation(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		return WrapStatus(http.StatusBadRequest, errors.New("bad input"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesRateLimited(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(2), func(ctx context.Context) error {
		calls++
		return WrapStatus(http.StatusTooManyRequests, errors.New("slow down"))
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, IsRateLimited(err))
}

func TestDo_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastRetry(5), func(ctx context.Context) error {
		calls++
		cancel()
		return Wrap(KindTransient, errors.New("boom"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	v, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestKindForStatus(t *testing.T) {
	cases := map[int]Kind{
		429: KindRateLimited,
		404: KindNotFound,
		500: KindTransient,
		503: KindTransient,
		408: KindTransient,
		409: KindConflict,
		400: KindValidation,
		422: KindValidation,
	}
	for status, want := range cases {
		assert.Equal(t, want, KindForStatus(status), fmt.Sprintf("status %d", status))
	}
}

func TestKindOf_WrappedChain(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(KindNotFound, errors.New("no profile")))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsRetryable(err))
}

func TestKindOf_UntaggedNetworkError(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(errors.New("read tcp: i/o timeout")))
	assert.Equal(t, KindFatal, KindOf(errors.New("invariant broken")))
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(KindTransient, nil))
	assert.NoError(t, WrapStatus(500, nil))
}
