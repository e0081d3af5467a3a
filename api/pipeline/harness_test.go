package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fsoi/report-queue/api/fsoi"
	"github.com/fsoi/report-queue/api/jobs"
	"github.com/fsoi/report-queue/api/metrics"
	"github.com/fsoi/report-queue/api/notify"
	"github.com/fsoi/report-queue/api/report"
	"github.com/fsoi/report-queue/api/store"
	"github.com/fsoi/report-queue/config"
)

// push is one notification received by the subscriber server.
type push struct {
	path     string
	snapshot jobs.Snapshot
}

type subscriberServer struct {
	*httptest.Server
	mu     sync.Mutex
	pushes []push
}

func newSubscriberServer(t *testing.T) *subscriberServer {
	s := &subscriberServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var snap jobs.Snapshot
		_ = json.NewDecoder(r.Body).Decode(&snap)
		s.mu.Lock()
		s.pushes = append(s.pushes, push{path: r.URL.Path, snapshot: snap})
		s.mu.Unlock()
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.Close)
	return s
}

// attempts counts pushes to path carrying status.
func (s *subscriberServer) attempts(path string, status jobs.Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.pushes {
		if p.path == path && p.snapshot.StatusID == status {
			n++
		}
	}
	return n
}

type harness struct {
	cfg     *config.Config
	jobs    *jobs.MemoryStore
	source  *store.FileStore
	cache   *store.FileStore
	subs    *subscriberServer
	metrics *metrics.Metrics
	deps    Dependencies
}

func newHarness(t *testing.T, layout *config.Layout) *harness {
	t.Helper()
	if layout == nil {
		layout = config.DefaultLayout()
	}
	resolver, err := store.NewResolver(layout.Templates)
	require.NoError(t, err)

	h := &harness{
		cfg: &config.Config{
			Logger: zap.NewNop().Sugar(),
			Environment: &config.Environment{
				ScratchDir:      t.TempDir(),
				CacheURLBase:    "http://cache.test/",
				DownloadWorkers: 4,
				UploadWorkers:   4,
				NotifyWorkers:   2,
				UnitTimeoutSec:  5,
				Parallelism:     1,
				PollIntervalSec: 1,
				Idempotency:     config.IdempotencyQueue,
			},
			Layout: layout,
		},
		jobs:    jobs.NewMemoryStore(),
		source:  store.NewFileStore(t.TempDir(), resolver, nil),
		cache:   store.NewFileStore(t.TempDir(), resolver, nil),
		subs:    newSubscriberServer(t),
		metrics: metrics.NewMetricsForTesting(),
	}
	h.deps = Dependencies{
		Jobs:   h.jobs,
		Source: h.source,
		Cache:  h.cache,
		Broadcaster: notify.NewBroadcaster(h.jobs, notify.NewSender(h.subs.Client(), notify.Signing{}, nil),
			2, time.Second, h.cfg.Logger, h.metrics),
		Metrics: h.metrics,
		Clock:   clockwork.NewFakeClockAt(time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	return h
}

func (h *harness) orchestrator() *Orchestrator {
	return NewOrchestrator(h.cfg, h.deps)
}

// seed stores a bulk file for every cycle and concrete norm of the request for center.
func (h *harness) seed(t *testing.T, req *report.Request, center string, obs []fsoi.Observation) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bulk.csv")
	require.NoError(t, fsoi.Accumulate(obs).SaveCSV(path))
	for _, d := range report.Expand(req, report.KindBulk) {
		if d.Center == center {
			require.NoError(t, h.source.SaveFromLocalFile(context.Background(), path, d.Descriptor()))
		}
	}
}

func (h *harness) subscribe(t *testing.T, req *report.Request, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, h.jobs.AddSubscriber(context.Background(), report.Hash(req), h.subs.URL+p))
	}
}

func (h *harness) record(t *testing.T, req *report.Request) (*jobs.Record, *Response) {
	t.Helper()
	r, err := h.jobs.GetRequest(context.Background(), report.Hash(req))
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(r.ResObj), &resp))
	return r, &resp
}

func scratchEntries(t *testing.T, h *harness) []os.DirEntry {
	entries, err := os.ReadDir(h.cfg.Environment.ScratchDir)
	require.NoError(t, err)
	return entries
}

func mustRequest(t *testing.T, body string) *report.Request {
	t.Helper()
	req, err := report.Parse([]byte(body), nil)
	require.NoError(t, err)
	return req
}

var sampleObs = []fsoi.Observation{
	{Platform: "Radiosonde", Impact: -1},
	{Platform: "Aircraft", Impact: -0.5},
	{Platform: "AMV", Impact: 0.25},
}
