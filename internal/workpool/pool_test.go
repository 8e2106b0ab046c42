package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	assert.Equal(t, 3, New(0).Size())
	assert.Equal(t, 7, New(7).Size())
}

func TestForEach_RespectsLimitAcrossCallers(t *testing.T) {
	pool := New(2)

	var running, peak int32
	work := func(ctx context.Context, i int) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}

	// Two jobs share the pool; together they must never exceed its size.
	var wg sync.WaitGroup
	for j := 0; j < 2; j++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, pool.ForEach(context.Background(), 6, work))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&peak), int32(1))
}

func TestForEach_VisitsEveryIndex(t *testing.T) {
	pool := New(3)
	seen := make([]int32, 10)

	err := pool.ForEach(context.Background(), len(seen), func(ctx context.Context, i int) error {
		atomic.AddInt32(&seen[i], 1)
		return nil
	})
	require.NoError(t, err)

	for i, n := range seen {
		assert.Equal(t, int32(1), n, "index %d", i)
	}
}

func TestForEach_FirstErrorCancels(t *testing.T) {
	pool := New(1)
	boom := errors.New("boom")

	var calls int32
	err := pool.ForEach(context.Background(), 5, func(ctx context.Context, i int) error {
		atomic.AddInt32(&calls, 1)
		if i == 0 {
			return boom
		}
		return ctx.Err()
	})

	assert.ErrorIs(t, err, boom)
}

func TestDo_ContextDone(t *testing.T) {
	pool := New(1)

	release := make(chan struct{})
	go func() {
		_ = pool.Do(context.Background(), func(ctx context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.Do(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestForEach_Empty(t *testing.T) {
	assert.NoError(t, New(2).ForEach(context.Background(), 0, nil))
}
