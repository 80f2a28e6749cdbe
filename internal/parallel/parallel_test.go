package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapEmptyInput(t *testing.T) {
	var calls atomic.Int32
	results, err := Map(context.Background(), []int{},
		func(ctx context.Context, n int) (int, error) {
			calls.Add(1)
			return n, nil
		}, 4)

	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int32(0), calls.Load())
}

func TestMapPreservesInputOrder(t *testing.T) {
	for _, workers := range []int{0, 1, 2, 100} {
		results, err := Map(context.Background(), []int{1, 2, 3},
			func(ctx context.Context, n int) (int, error) {
				return n * 2, nil
			}, workers)

		require.NoError(t, err)
		assert.Equal(t, []int{2, 4, 6}, results, "workers=%d", workers)
	}
}

func TestMapBoundsConcurrency(t *testing.T) {
	const maxWorkers = 3

	var active, peak atomic.Int32
	items := make([]int, 50)

	_, err := Map(context.Background(), items,
		func(ctx context.Context, n int) (int, error) {
			cur := active.Add(1)
			defer active.Add(-1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			return n, nil
		}, maxWorkers)

	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(maxWorkers))
}

func TestMapFailFast(t *testing.T) {
	boom := errors.New("boom")

	_, err := Map(context.Background(), []int{1, 2, 3, 4},
		func(ctx context.Context, n int) (int, error) {
			if n == 2 {
				return 0, boom
			}
			return n, nil
		}, 1)

	require.ErrorIs(t, err, boom)
}

func TestMapContextCancellation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
		close(release)
	}()

	_, err := Map(ctx, []int{1, 2},
		func(ctx context.Context, n int) (int, error) {
			if n == 1 {
				close(started)
				<-release
			}
			return n, ctx.Err()
		}, 2)

	require.Error(t, err)
}

func TestCancelToken(t *testing.T) {
	var token CancelToken
	assert.False(t, token.Canceled())
	assert.False(t, token.Hard())

	token.SoftCancel()
	assert.True(t, token.Canceled())
	assert.False(t, token.Hard())

	token.HardCancel()
	assert.True(t, token.Hard())

	// A soft request never downgrades a hard one.
	token.SoftCancel()
	assert.True(t, token.Hard())

	token.Reset()
	assert.False(t, token.Canceled())
}
