package notify

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fsoi/report-queue/api/jobs"
	"github.com/fsoi/report-queue/api/metrics"
	"github.com/fsoi/report-queue/api/pool"
)

// Delivery is the outcome of one push attempt.
type Delivery struct {
	Addr   string
	Err    error
	Pruned bool
}

// Broadcaster fans the latest record snapshot out to every subscriber of a hash.
type Broadcaster struct {
	store    jobs.Store
	notifier Notifier
	size     int
	timeout  time.Duration
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
}

// NewBroadcaster creates a broadcaster sending through notifier on a pool of size workers.
func NewBroadcaster(store jobs.Store, notifier Notifier, size int, timeout time.Duration,
	logger *zap.SugaredLogger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		store:    store,
		notifier: notifier,
		size:     size,
		timeout:  timeout,
		logger:   logger,
		metrics:  m,
	}
}

// Broadcast reads the record of hash and pushes its snapshot to every subscriber, returning once
// every attempt has finished. Subscribers answering 410 are removed. Delivery failures are reported
// per address; only a failure to read the record is returned as an error.
func (b *Broadcaster) Broadcast(ctx context.Context, hash string) ([]Delivery, error) {
	record, err := b.store.GetRequest(ctx, hash)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read subscribers of %s", hash)
	}
	if len(record.Connections) == 0 {
		return nil, nil
	}
	message := record.Snapshot()

	deliveries := make([]Delivery, len(record.Connections))
	p := pool.New(b.size, b.timeout)
	for i, addr := range record.Connections {
		i, addr := i, addr
		deliveries[i].Addr = addr
		p.Go(ctx, func(ctx context.Context) {
			if err := ctx.Err(); err != nil {
				deliveries[i].Err = err
				return
			}
			deliveries[i].Err = b.notifier.Send(ctx, addr, message)
		})
	}
	p.Wait()

	for i := range deliveries {
		d := &deliveries[i]
		if d.Err == nil {
			b.count("delivered")
			continue
		}
		b.count("failed")
		b.logger.Warnf("Push of %s to %s failed: %v", hash, d.Addr, d.Err)
		if errors.Is(d.Err, ErrGone) {
			err := b.store.RemoveSubscriber(ctx, hash, d.Addr)
			if err != nil {
				b.logger.Errorf("Failed to prune subscriber %s of %s: %+v", d.Addr, hash, err)
				continue
			}
			d.Pruned = true
			b.count("pruned")
			b.logger.Infof("Pruned stale subscriber %s of %s", d.Addr, hash)
		}
	}
	return deliveries, nil
}

func (b *Broadcaster) count(outcome string) {
	if b.metrics != nil {
		b.metrics.Notifications.WithLabelValues(outcome).Inc()
	}
}
