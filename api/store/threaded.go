package store

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fsoi/report-queue/api/pool"
)

// Operation names the store method a unit ran.
type Operation string

// Operations a Threaded store can run.
const (
	OpSaveFromLocalFile Operation = "SaveFromLocalFile"
	OpSaveFromRemote    Operation = "SaveFromRemote"
	OpLoadToLocalFile   Operation = "LoadToLocalFile"
	OpExists            Operation = "Exists"
	OpDelete            Operation = "Delete"
)

// Unit is the handle of one submitted operation. Its outcome is readable once Done is closed.
type Unit struct {
	Operation Operation
	Target    Descriptor
	Path      string
	URL       string

	done     chan struct{}
	started  time.Time
	finished time.Time
	response interface{}
	err      error
}

// Done is closed when the unit has finished.
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

// Wait blocks until the unit has finished.
func (u *Unit) Wait() {
	<-u.done
}

// Succeeded waits for the unit and reports whether it completed without error.
func (u *Unit) Succeeded() bool {
	u.Wait()
	return u.err == nil
}

// Err waits for the unit and returns its error.
func (u *Unit) Err() error {
	u.Wait()
	return u.err
}

// Response waits for the unit and returns its result value, if the operation has one.
func (u *Unit) Response() interface{} {
	u.Wait()
	return u.response
}

// Started waits for the unit and returns when it began running.
func (u *Unit) Started() time.Time {
	u.Wait()
	return u.started
}

// Finished waits for the unit and returns when it completed.
func (u *Unit) Finished() time.Time {
	u.Wait()
	return u.finished
}

// Threaded runs the operations of an ObjectStore on a bounded pool. Methods return immediately;
// Join waits for everything submitted so far. A batch is expected to contain failing units, so
// outcomes are only reported per unit.
type Threaded struct {
	store ObjectStore
	pool  *pool.Pool
	clock clockwork.Clock

	mu    sync.Mutex
	units []*Unit
}

// NewThreaded wraps store with a pool of size workers. Every unit runs under timeout.
func NewThreaded(store ObjectStore, size int, timeout time.Duration, clock clockwork.Clock) *Threaded {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Threaded{
		store: store,
		pool:  pool.New(size, timeout),
		clock: clock,
	}
}

func (t *Threaded) submit(ctx context.Context, u *Unit, run func(ctx context.Context) (interface{}, error)) *Unit {
	u.done = make(chan struct{})
	t.mu.Lock()
	t.units = append(t.units, u)
	t.mu.Unlock()

	t.pool.Go(ctx, func(ctx context.Context) {
		defer close(u.done)
		u.started = t.clock.Now()
		if err := ctx.Err(); err != nil {
			u.err = err
		} else {
			u.response, u.err = run(ctx)
		}
		u.finished = t.clock.Now()
	})
	return u
}

// SaveFromLocalFile submits an upload of path.
func (t *Threaded) SaveFromLocalFile(ctx context.Context, path string, target Descriptor) *Unit {
	u := &Unit{Operation: OpSaveFromLocalFile, Target: target, Path: path}
	return t.submit(ctx, u, func(ctx context.Context) (interface{}, error) {
		return nil, t.store.SaveFromLocalFile(ctx, path, target)
	})
}

// SaveFromRemote submits a fetch-and-store of url.
func (t *Threaded) SaveFromRemote(ctx context.Context, url string, target Descriptor, creds *Credentials) *Unit {
	u := &Unit{Operation: OpSaveFromRemote, Target: target, URL: url}
	return t.submit(ctx, u, func(ctx context.Context) (interface{}, error) {
		return nil, t.store.SaveFromRemote(ctx, url, target, creds)
	})
}

// LoadToLocalFile submits a download to path.
func (t *Threaded) LoadToLocalFile(ctx context.Context, source Descriptor, path string) *Unit {
	u := &Unit{Operation: OpLoadToLocalFile, Target: source, Path: path}
	return t.submit(ctx, u, func(ctx context.Context) (interface{}, error) {
		return nil, t.store.LoadToLocalFile(ctx, source, path)
	})
}

// Exists submits an existence check. The response is the bool result.
func (t *Threaded) Exists(ctx context.Context, target Descriptor) *Unit {
	u := &Unit{Operation: OpExists, Target: target}
	return t.submit(ctx, u, func(ctx context.Context) (interface{}, error) {
		return t.store.Exists(ctx, target)
	})
}

// Delete submits a delete.
func (t *Threaded) Delete(ctx context.Context, target Descriptor) *Unit {
	u := &Unit{Operation: OpDelete, Target: target}
	return t.submit(ctx, u, func(ctx context.Context) (interface{}, error) {
		return nil, t.store.Delete(ctx, target)
	})
}

// Join blocks until every unit submitted so far has finished.
func (t *Threaded) Join() {
	t.pool.Wait()
}

// Units returns every submitted unit in submission order.
func (t *Threaded) Units() []*Unit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Unit(nil), t.units...)
}
