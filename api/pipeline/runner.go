package pipeline

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/fsoi/report-queue/api/jobs"
	"github.com/fsoi/report-queue/api/metrics"
	"github.com/fsoi/report-queue/api/queue"
	"github.com/fsoi/report-queue/api/report"
	"github.com/fsoi/report-queue/config"
)

var (
	// ErrQueueFull is returned when a request cannot be queued.
	ErrQueueFull = errors.New("request queue is full")
	// ErrNotFinished is returned when retrying a run that has not reached a terminal state.
	ErrNotFinished = errors.New("run has not finished yet")
)

// Admission says how a submitted request was handled.
type Admission string

// Admission outcomes.
const (
	// AdmissionQueued means a new run was queued.
	AdmissionQueued Admission = "queued"
	// AdmissionJoined means the subscriber was attached to a waiting or running run.
	AdmissionJoined Admission = "joined"
	// AdmissionCached means a previous successful run answered the request.
	AdmissionCached Admission = "cached"
)

// Executor runs one report request.
type Executor interface {
	Run(ctx context.Context, req *report.Request) (*Response, error)
}

// DataPipelineRunner services the request queue.
type DataPipelineRunner struct {
	config.Config
	executor Executor
	jobs     jobs.Store
	queue    queue.RequestQueue
	metrics  *metrics.Metrics
	clock    clockwork.Clock

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan bool
	running  bool
	mutex    *sync.RWMutex
	inFlight map[string]RunData
	runs     sync.WaitGroup
}

// NewDataPipelineRunner creates a runner that executes queued requests with executor.
func NewDataPipelineRunner(cfg *config.Config, executor Executor, store jobs.Store,
	requestQueue queue.RequestQueue, m *metrics.Metrics, clock clockwork.Clock) *DataPipelineRunner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if m == nil {
		m = metrics.NewMetricsForTesting()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DataPipelineRunner{
		Config: config.Config{
			Logger:      cfg.Logger,
			Environment: cfg.Environment,
			Layout:      cfg.Layout,
		},
		executor: executor,
		jobs:     store,
		queue:    requestQueue,
		metrics:  m,
		clock:    clock,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan bool),
		mutex:    &sync.RWMutex{},
		inFlight: make(map[string]RunData),
	}
}

// Start initiates request queue servicing.
func (d *DataPipelineRunner) Start() {
	d.mutex.Lock()
	if d.running {
		d.mutex.Unlock()
		return
	}
	d.running = true
	d.mutex.Unlock()
	d.metrics.RunnerRunning.Set(1)

	// Read from the queue until we get shut down.
	go func() {
		interval := time.Duration(d.Environment.PollIntervalSec) * time.Second
		for {
			d.Submit(false)
			select {
			case <-d.done:
				d.mutex.Lock()
				d.running = false
				d.mutex.Unlock()
				d.metrics.RunnerRunning.Set(0)
				return
			case <-d.clock.After(interval):
			}
		}
	}()
}

// Stop ends request servicing. Runs already started continue.
func (d *DataPipelineRunner) Stop() {
	d.mutex.RLock()
	running := d.running
	d.mutex.RUnlock()
	if running {
		d.done <- true
	}
}

// Running indicates whether or not the runner routine is servicing the queue.
func (d *DataPipelineRunner) Running() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.running
}

// Shutdown stops servicing and cancels runs in flight, waiting for them to return.
func (d *DataPipelineRunner) Shutdown() {
	d.Stop()
	d.cancel()
	d.runs.Wait()
}

// Wait blocks until every started run has finished.
func (d *DataPipelineRunner) Wait() {
	d.runs.Wait()
}

// Submit starts queued runs while parallelism allows. Force starts one run regardless.
func (d *DataPipelineRunner) Submit(force bool) {
	d.metrics.QueueDepth.Set(float64(d.queue.Size()))
	for d.queue.Size() > 0 {
		if !force && d.InFlightCount() >= d.Environment.Parallelism {
			return
		}
		d.submit()
		if force {
			return
		}
	}
}

// submit dequeues one request and marks it in flight under the runner lock, so admission never
// sees the request in neither place.
func (d *DataPipelineRunner) submit() {
	d.mutex.Lock()
	if d.queue.Size() == 0 {
		d.mutex.Unlock()
		return
	}
	data, err := d.queue.Dequeue()
	if err != nil {
		d.mutex.Unlock()
		d.Logger.Error(err)
		return
	}
	queued, ok := data.(QueuedReport)
	if !ok {
		d.mutex.Unlock()
		d.Logger.Error(errors.Errorf("unhandled request type %s", reflect.TypeOf(data)))
		return
	}
	var req report.Request
	if err := json.Unmarshal(queued.Request, &req); err != nil {
		d.mutex.Unlock()
		d.Logger.Errorf("Dropping unreadable request %s: %+v", queued.Hash, err)
		return
	}
	d.inFlight[queued.Hash] = RunData{Hash: queued.Hash, StartTime: d.clock.Now()}
	d.metrics.RunsInFlight.Set(float64(len(d.inFlight)))
	d.mutex.Unlock()

	d.runs.Add(1)
	go func() {
		defer d.runs.Done()
		defer func() {
			d.mutex.Lock()
			delete(d.inFlight, queued.Hash)
			d.metrics.RunsInFlight.Set(float64(len(d.inFlight)))
			d.mutex.Unlock()
		}()
		if _, err := d.executor.Run(d.ctx, &req); err != nil {
			d.Logger.Errorf("Report run %s aborted: %+v", queued.Hash, err)
		}
	}()
}

// InFlight reports whether a run for hash is executing.
func (d *DataPipelineRunner) InFlight(hash string) bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	_, ok := d.inFlight[hash]
	return ok
}

// InFlightCount returns the number of executing runs.
func (d *DataPipelineRunner) InFlightCount() int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return len(d.inFlight)
}

// Jobs lists the executing runs, oldest first.
func (d *DataPipelineRunner) Jobs() []RunData {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	out := make([]RunData, 0, len(d.inFlight))
	for _, r := range d.inFlight {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Enqueue admits a request. The callback, when given, is subscribed first so it sees every update.
// Depending on the idempotency mode a request matching a waiting or running run joins it and a
// request matching a successful run is answered from its record.
func (d *DataPipelineRunner) Enqueue(ctx context.Context, req *report.Request, callback string) (Admission, *jobs.Record, error) {
	hash := report.Hash(req)
	mode := d.Environment.Idempotency

	if callback != "" {
		if err := d.jobs.AddSubscriber(ctx, hash, callback); err != nil {
			return "", nil, errors.Wrapf(err, "failed to subscribe to %s", hash)
		}
	}

	if config.UseCachedResponses(mode) {
		record, err := d.jobs.GetRequest(ctx, hash)
		if err != nil && !errors.Is(err, jobs.ErrNotFound) {
			return "", nil, errors.Wrapf(err, "failed to read %s", hash)
		}
		if err == nil && record.StatusID == jobs.StatusSuccess {
			return AdmissionCached, record, nil
		}
	}

	joined, err := d.admit(ctx, hash, req, config.UseQueueIdempotency(mode))
	if err != nil {
		return "", nil, err
	}
	record, err := d.jobs.GetRequest(ctx, hash)
	if err != nil {
		return "", nil, errors.Wrapf(err, "failed to read %s", hash)
	}
	if joined {
		return AdmissionJoined, record, nil
	}
	return AdmissionQueued, record, nil
}

// admit queues a run for hash. With join set a waiting or running run for hash is joined instead,
// which is reported by the first return value.
func (d *DataPipelineRunner) admit(ctx context.Context, hash string, req *report.Request, join bool) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if join {
		if _, ok := d.inFlight[hash]; ok || d.queue.Contains(hash) {
			return true, nil
		}
	}
	return false, d.queueRun(ctx, hash, req, join)
}

// ClearQueue drops every waiting request. Runs already started are not affected.
func (d *DataPipelineRunner) ClearQueue() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	err := d.queue.Clear()
	d.metrics.QueueDepth.Set(float64(d.queue.Size()))
	return err
}

// Retry queues a finished run again from its stored request, whatever the idempotency mode.
func (d *DataPipelineRunner) Retry(ctx context.Context, hash string) (*jobs.Record, error) {
	record, err := d.jobs.GetRequest(ctx, hash)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", hash)
	}
	if !record.StatusID.Terminal() {
		return nil, errors.Wrapf(ErrNotFinished, "run %s is %s", hash, record.StatusID)
	}
	var req report.Request
	if err := json.Unmarshal([]byte(record.ReqObj), &req); err != nil {
		return nil, errors.Wrapf(err, "failed to decode stored request %s", hash)
	}
	joined, err := d.admit(ctx, hash, &req, true)
	if err != nil {
		return nil, err
	}
	if joined {
		return nil, errors.Wrapf(ErrNotFinished, "run %s is already waiting or running", hash)
	}
	record, err = d.jobs.GetRequest(ctx, hash)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", hash)
	}
	return record, nil
}

// queueRun enqueues a run and only then resets its record to PENDING, so a full queue leaves the
// previous record untouched. The caller holds the runner lock, which keeps submit from starting the
// run before its record is reset.
func (d *DataPipelineRunner) queueRun(ctx context.Context, hash string, req *report.Request, hashed bool) error {
	canonical := report.Canonicalize(req)
	item := QueuedReport{Hash: hash, Request: canonical, EnqueuedAt: d.clock.Now()}
	var ok bool
	var err error
	if hashed {
		ok, err = d.queue.EnqueueHashed(hash, item)
	} else {
		ok, err = d.queue.Enqueue(item)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to enqueue %s", hash)
	}
	if !ok {
		return ErrQueueFull
	}
	d.metrics.QueueDepth.Set(float64(d.queue.Size()))
	if err := d.jobs.AddRequest(ctx, hash, string(canonical)); err != nil {
		return errors.Wrapf(err, "failed to record request %s", hash)
	}
	return nil
}
