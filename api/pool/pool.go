// Package pool provides the bounded fan-out used by every I/O stage of a report run.
package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pool runs submitted tasks on at most size goroutines at once. Each stage of a run creates its own
// pool sized for that stage. Tasks record their own outcome, so one failing task never cancels the
// others.
type Pool struct {
	group   errgroup.Group
	timeout time.Duration
	pending sync.WaitGroup
}

// New creates a pool of the given size. A positive timeout is applied as a deadline to every task.
func New(size int, timeout time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{timeout: timeout}
	p.group.SetLimit(size)
	return p
}

// Go submits a task and returns immediately. The task waits for a free slot before it starts and
// is still run when ctx is cancelled meanwhile, so it can record the cancellation.
func (p *Pool) Go(ctx context.Context, task func(ctx context.Context)) {
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		p.group.Go(func() error {
			taskCtx := ctx
			if p.timeout > 0 && ctx.Err() == nil {
				var cancel context.CancelFunc
				taskCtx, cancel = context.WithTimeout(ctx, p.timeout)
				defer cancel()
			}
			task(taskCtx)
			return nil
		})
	}()
}

// Wait blocks until every task submitted so far has returned.
func (p *Pool) Wait() {
	p.pending.Wait()
	_ = p.group.Wait()
}
