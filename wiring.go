package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fsoi/report-queue/api/catalog"
	"github.com/fsoi/report-queue/api/fsoi"
	"github.com/fsoi/report-queue/api/jobs"
	"github.com/fsoi/report-queue/api/metrics"
	"github.com/fsoi/report-queue/api/notify"
	"github.com/fsoi/report-queue/api/pipeline"
	"github.com/fsoi/report-queue/api/queue"
	"github.com/fsoi/report-queue/api/store"
	"github.com/fsoi/report-queue/config"
)

// Object store backends.
const (
	backendFS = "fs"
	backendS3 = "s3"
)

var envPath = envFile

// app holds the components every command shares.
type app struct {
	config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	jobs     jobs.Store
	resolver *store.Resolver
	source   store.ObjectStore
	cache    store.ObjectStore
	registry *fsoi.Registry
}

func newLogger(mode string) (*zap.Logger, error) {
	switch mode {
	case "dev":
		return zap.NewDevelopment()
	case "prod":
		return zap.NewProduction()
	}
	return nil, fmt.Errorf("Invalid 'mode' flag: %s", mode)
}

// newApp loads the environment and layout and opens the stores. Metrics are registered with the
// default Prometheus registry when register is set.
func newApp(ctx context.Context, register bool) (*app, error) {
	env, err := config.Load(envPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(env.Mode)
	if err != nil {
		return nil, err
	}
	a := &app{logger: logger, registry: fsoi.DefaultRegistry()}
	a.Logger = logger.Sugar()
	a.Environment = env

	if a.Layout, err = config.LoadLayout(env.LayoutFile); err != nil {
		return nil, err
	}
	if err := a.registry.Check(a.Layout.Centers); err != nil {
		return nil, err
	}
	if a.resolver, err = store.NewResolver(a.Layout.Templates); err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: env.UnitTimeout()}
	a.source, err = newObjectStore(ctx, env.SourceBackend, env.SourceBucket, env.SourceRegion, env.SourceRoot,
		env.SourceAnonymous, a.resolver, client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open source store")
	}
	a.cache, err = newObjectStore(ctx, env.CacheBackend, env.CacheBucket, env.CacheRegion, env.CacheRoot,
		false, a.resolver, client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open artifact cache")
	}
	if a.jobs, err = jobs.NewStore(env.JobStoreDriver, env.JobStoreDSN); err != nil {
		return nil, err
	}

	if register {
		a.metrics = metrics.NewMetrics()
	} else {
		a.metrics = metrics.NewMetricsForTesting()
	}
	return a, nil
}

func newObjectStore(ctx context.Context, backend, bucket, region, root string, anonymous bool,
	resolver *store.Resolver, client *http.Client) (store.ObjectStore, error) {
	switch backend {
	case backendFS:
		return store.NewFileStore(root, resolver, client).Named(bucket), nil
	case backendS3:
		return store.NewS3Store(ctx, bucket, region, anonymous, resolver, client)
	}
	return nil, errors.Errorf("unknown object store backend %q", backend)
}

func (a *app) close() {
	if a.jobs != nil {
		if err := a.jobs.Close(); err != nil {
			a.Logger.Warnf("Failed to close job store: %v", err)
		}
	}
	_ = a.logger.Sync()
}

func (a *app) orchestrator(clock clockwork.Clock) *pipeline.Orchestrator {
	env := a.Environment
	client := &http.Client{Timeout: env.UnitTimeout()}
	sender := notify.NewSender(client, notify.Signing{
		Region:    env.PushRegion,
		Service:   env.PushService,
		AccessKey: env.PushAccessKey,
		SecretKey: env.PushSecretKey,
	}, clock)

	deps := pipeline.Dependencies{
		Jobs:        a.jobs,
		Source:      a.source,
		Cache:       a.cache,
		Broadcaster: notify.NewBroadcaster(a.jobs, sender, env.NotifyWorkers, env.UnitTimeout(), a.Logger, a.metrics),
		Metrics:     a.metrics,
		Clock:       clock,
	}
	if env.CatalogAddr != "" {
		deps.Publisher = catalog.NewPublisher(env.CatalogAddr, client)
	}
	return pipeline.NewOrchestrator(&a.Config, deps)
}

func (a *app) requestQueue() (queue.RequestQueue, error) {
	env := a.Environment
	if !env.PersistedQueue {
		// in-memory queue, data does not survive a restart
		return queue.NewListFIFOQueue(env.QueueSize), nil
	}
	requestQueue, err := queue.NewPersistedFIFOQueue(env.QueueSize, env.QueueDir, env.QueueName)
	if err != nil {
		return nil, err
	}
	a.Logger.Infof("Loaded queue with %d entries from %s%s", requestQueue.Size(), env.QueueDir, env.QueueName)
	return requestQueue, nil
}
