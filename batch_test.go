package json2ubl

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOrderedKeepsInputOrder(t *testing.T) {
	inputs := []int{5, 1, 4, 2, 3}

	results, err := runOrdered(context.Background(), 3, inputs, func(_ context.Context, _ int, n int) (int, error) {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{50, 10, 40, 20, 30}, results)
}

func TestRunOrderedLimitsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	inputs := make([]int, 20)

	_, err := runOrdered(context.Background(), 2, inputs, func(_ context.Context, _ int, _ int) (struct{}, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunOrderedStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	_, err := runOrdered(context.Background(), 1, []int{1, 2, 3}, func(_ context.Context, i int, _ int) (int, error) {
		if i == 1 {
			return 0, boom
		}
		return i, nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunOrderedCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runOrdered(ctx, 2, []int{1, 2}, func(_ context.Context, _ int, n int) (int, error) {
		return n, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
