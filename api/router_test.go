package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fsoi/report-queue/api/fsoi"
	"github.com/fsoi/report-queue/api/jobs"
	"github.com/fsoi/report-queue/api/pipeline"
	"github.com/fsoi/report-queue/api/queue"
	"github.com/fsoi/report-queue/api/report"
	"github.com/fsoi/report-queue/api/routes"
	"github.com/fsoi/report-queue/api/store"
	"github.com/fsoi/report-queue/config"
)

type nopExecutor struct{}

func (nopExecutor) Run(ctx context.Context, req *report.Request) (*pipeline.Response, error) {
	return &pipeline.Response{}, nil
}

type apiHarness struct {
	router    http.Handler
	jobs      *jobs.MemoryStore
	queue     queue.RequestQueue
	runner    *pipeline.DataPipelineRunner
	sourceDir string
	cacheDir  string
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	layout := config.DefaultLayout()
	cfg := config.Config{
		Logger: zap.NewNop().Sugar(),
		Environment: &config.Environment{
			Idempotency:     config.IdempotencyQueue,
			Parallelism:     1,
			PollIntervalSec: 1,
		},
		Layout: layout,
	}
	resolver, err := store.NewResolver(layout.Templates)
	require.NoError(t, err)

	h := &apiHarness{
		jobs:      jobs.NewMemoryStore(),
		queue:     queue.NewListFIFOQueue(10),
		sourceDir: t.TempDir(),
		cacheDir:  t.TempDir(),
	}
	h.runner = pipeline.NewDataPipelineRunner(&cfg, nopExecutor{}, h.jobs, h.queue, nil, clockwork.NewFakeClock())
	t.Cleanup(h.runner.Shutdown)

	h.router, err = NewRouter(cfg, Services{
		Queue:    h.queue,
		Runner:   h.runner,
		Jobs:     h.jobs,
		Source:   store.NewFileStore(h.sourceDir, resolver, nil),
		Cache:    store.NewFileStore(h.cacheDir, resolver, nil),
		Resolve:  fsoi.DefaultRegistry().Canonical,
		Metrics:  http.NotFoundHandler(),
		CacheDir: h.cacheDir,
	})
	require.NoError(t, err)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec
}

func writeFile(t *testing.T, root, key, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

const submission = `{"request":{"start_date":"20200101","end_date":"20200101","centers":"gmao","norm":"dry","cycles":"00"},"callback":"http://viewer.test/cb"}`

func enqueuedHash(t *testing.T) string {
	req, err := report.Parse([]byte(`{"start_date":"20200101","end_date":"20200101","centers":"GMAO","norm":"dry","cycles":[0]}`), nil)
	require.NoError(t, err)
	return report.Hash(req)
}

func TestEnqueueReport(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPut, "/reports", submission)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var snapshot jobs.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, enqueuedHash(t), snapshot.ReqHash)
	assert.Equal(t, jobs.StatusPending, snapshot.StatusID)
	assert.NotContains(t, rec.Body.String(), "viewer.test")

	// the same request joins the waiting run
	rec = h.do(t, http.MethodPut, "/reports", strings.Replace(submission, "viewer.test", "other.test", 1))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, h.queue.Size())

	record, err := h.jobs.GetRequest(context.Background(), snapshot.ReqHash)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://other.test/cb", "http://viewer.test/cb"}, record.Connections)
}

func TestEnqueueRejectsInvalidRequests(t *testing.T) {
	h := newAPIHarness(t)
	for _, body := range []string{
		`not json`,
		`{"callback":"http://viewer.test/cb"}`,
		`{"request":{"start_date":"2020","end_date":"20200101","centers":"GMAO","norm":"dry","cycles":0}}`,
		`{"request":{"start_date":"20200101","end_date":"20200101","centers":"NOPE","norm":"dry","cycles":0}}`,
		`{"request":{"start_date":"20200101","end_date":"20200101","centers":"GMAO","norm":"dry","cycles":0},"callback":"viewer"}`,
	} {
		rec := h.do(t, http.MethodPut, "/reports", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, 0, h.queue.Size())
}

func TestBulkEnqueue(t *testing.T) {
	h := newAPIHarness(t)
	body := `[` + submission + `,{"request":{"start_date":"20200102","end_date":"20200102","centers":"NRL","norm":"moist","cycles":6}}]`

	rec := h.do(t, http.MethodPut, "/reports/bulk", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var snapshots []jobs.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshots))
	assert.Len(t, snapshots, 2)
	assert.Equal(t, 2, h.queue.Size())

	// one bad entry rejects the whole batch
	rec = h.do(t, http.MethodPut, "/reports/bulk", `[`+submission+`,{"request":{}}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 2, h.queue.Size())
}

func TestGetReport(t *testing.T) {
	h := newAPIHarness(t)
	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPut, "/reports", submission).Code)
	hash := enqueuedHash(t)

	rec := h.do(t, http.MethodGet, "/reports/"+hash, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, hash, snapshot["req_hash"])
	assert.NotContains(t, snapshot, "connections")
	assert.Equal(t, "GMAO", snapshot["req_obj"].(map[string]interface{})["centers"].([]interface{})[0])

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/reports/unknown", nil).Code)
}

func TestSubscribers(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()

	rec := h.do(t, http.MethodPut, "/reports/abc/subscribers", `{"callback":"http://a.test/cb"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(t, http.MethodPut, "/reports/abc/subscribers", `{"callback":"ftp://a.test"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, h.jobs.AddRequest(ctx, "abc", "{}"))
	record, err := h.jobs.GetRequest(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.test/cb"}, record.Connections)

	rec = h.do(t, http.MethodDelete, "/reports/abc/subscribers?callback=http://a.test/cb", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodDelete, "/reports/abc/subscribers", nil).Code)

	record, err = h.jobs.GetRequest(ctx, "abc")
	require.NoError(t, err)
	assert.Empty(t, record.Connections)
}

func TestRetryUnfinishedRun(t *testing.T) {
	h := newAPIHarness(t)
	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPut, "/reports", submission).Code)

	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodPut, "/reports/"+enqueuedHash(t)+"/retry", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPut, "/reports/unknown/retry", nil).Code)
}

func TestDeleteArtifacts(t *testing.T) {
	h := newAPIHarness(t)
	writeFile(t, h.cacheDir, "abc/GMAO_TotImp.html", "<html/>")
	writeFile(t, h.cacheDir, "abc/snapshots/GMAO.xlsx", "xlsx")
	writeFile(t, h.cacheDir, "other/GMAO_TotImp.html", "<html/>")

	// artifacts are served from the local cache
	rec := h.do(t, http.MethodGet, "/cache/abc/GMAO_TotImp.html", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html/>", rec.Body.String())

	rec = h.do(t, http.MethodDelete, "/reports/abc/artifacts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp routes.DeleteArtifactsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Deleted, 2)

	assert.NoFileExists(t, filepath.Join(h.cacheDir, "abc", "GMAO_TotImp.html"))
	assert.NoFileExists(t, filepath.Join(h.cacheDir, "abc", "snapshots", "GMAO.xlsx"))
	assert.FileExists(t, filepath.Join(h.cacheDir, "other", "GMAO_TotImp.html"))
}

func TestAvailability(t *testing.T) {
	h := newAPIHarness(t)
	writeFile(t, h.sourceDir, "GMAO/dry/20200101/00/bulk.GMAO.dry.2020010100.csv", "platform\n")
	writeFile(t, h.sourceDir, "GMAO/dry/20200101/00/raw.GMAO.dry.2020010100.csv", "raw\n")
	writeFile(t, h.sourceDir, "NRL/dry/20200101/00/bulk.NRL.dry.2020010100.csv", "platform\n")

	rec := h.do(t, http.MethodGet, "/data/availability?center=gmao", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var found []store.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &found))
	require.Len(t, found, 1)
	assert.Equal(t, "GMAO", found[0].Fields["center"])
	assert.Equal(t, "20200101", found[0].Fields["date"])

	rec = h.do(t, http.MethodGet, "/data/availability?kind=raw", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &found))
	assert.Len(t, found, 1)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/data/availability?center=nope", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/data/availability?kind=nope", nil).Code)
}

func TestQueueAndPipelineControl(t *testing.T) {
	h := newAPIHarness(t)
	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPut, "/reports", submission).Code)

	rec := h.do(t, http.MethodGet, "/queue/waiting", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var waiting routes.WaitingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &waiting))
	assert.Equal(t, 1, waiting.Count)
	assert.Equal(t, enqueuedHash(t), waiting.Requests[0].Hash)

	rec = h.do(t, http.MethodGet, "/pipeline/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status routes.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, routes.StatusResponse{Count: 1, IsRunning: false, Running: 0}, status)

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodPut, "/pipeline/dispatch", nil).Code)
	h.runner.Wait()
	assert.Equal(t, 0, h.queue.Size())

	rec = h.do(t, http.MethodGet, "/queue/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPut, "/reports", strings.Replace(submission, "20200101", "20200103", 2)).Code)
	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodPut, "/queue/clear", nil).Code)
	assert.Equal(t, 0, h.queue.Size())

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodPut, "/pipeline/start", nil).Code)
	assert.True(t, h.runner.Running())
	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodPut, "/pipeline/stop", nil).Code)
	assert.Eventually(t, func() bool { return !h.runner.Running() }, time.Second, 5*time.Millisecond)
}
