package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(3, 0)

	var active, peak, total int32
	for i := 0; i < 20; i++ {
		p.Go(context.Background(), func(ctx context.Context) {
			n := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			atomic.AddInt32(&total, 1)
		})
	}
	p.Wait()

	assert.Equal(t, int32(20), total)
	assert.LessOrEqual(t, peak, int32(3))
}

func TestPoolAppliesDeadline(t *testing.T) {
	p := New(1, 10*time.Millisecond)

	var err error
	p.Go(context.Background(), func(ctx context.Context) {
		<-ctx.Done()
		err = ctx.Err()
	})
	p.Wait()

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolRunsTasksAfterCancel(t *testing.T) {
	p := New(1, 0)
	ctx, cancel := context.WithCancel(context.Background())

	block := make(chan struct{})
	p.Go(ctx, func(ctx context.Context) { <-block })

	var ran int32
	p.Go(ctx, func(ctx context.Context) {
		if ctx.Err() != nil {
			atomic.StoreInt32(&ran, 1)
		}
	})
	cancel()
	close(block)
	p.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestPoolIsReusableAfterWait(t *testing.T) {
	p := New(2, 0)

	var total int32
	for round := 0; round < 3; round++ {
		for i := 0; i < 5; i++ {
			p.Go(context.Background(), func(ctx context.Context) { atomic.AddInt32(&total, 1) })
		}
		p.Wait()
		assert.Equal(t, int32(5*(round+1)), atomic.LoadInt32(&total))
	}
}
