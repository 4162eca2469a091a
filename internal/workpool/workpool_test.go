package workpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunVisitsEveryIndexOnce(t *testing.T) {
	seen := make([]atomic.Int32, 50)
	err := Run(context.Background(), len(seen), 4, func(_ context.Context, i int) error {
		seen[i].Add(1)
		return nil
	})
	require.NoError(t, err)
	for i := range seen {
		assert.Equal(t, int32(1), seen[i].Load(), "index %d", i)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	err := Run(context.Background(), 20, 3, func(context.Context, int) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	err := Run(context.Background(), 1000, 1, func(_ context.Context, i int) error {
		calls.Add(1)
		if i == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunEmpty(t *testing.T) {
	require.NoError(t, Run(context.Background(), 0, 4, func(context.Context, int) error {
		t.Fatal("must not be called")
		return nil
	}))
}

func TestMapPreservesOrder(t *testing.T) {
	out, err := Map(context.Background(), []int{1, 2, 3, 4, 5}, 2, func(_ context.Context, v int) (int, error) {
		time.Sleep(time.Duration(5-v) * time.Millisecond)
		return v * v, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 9, 16, 25}, out)
}
