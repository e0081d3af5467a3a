package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fsoi/report-queue/api/jobs"
	"github.com/fsoi/report-queue/api/metrics"
)

type recordingServer struct {
	*httptest.Server
	mu       sync.Mutex
	hits     map[string]int
	requests []*http.Request
	bodies   []string
}

func newRecordingServer(t *testing.T) *recordingServer {
	rs := &recordingServer{hits: map[string]int{}}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.hits[r.URL.Path]++
		rs.requests = append(rs.requests, r)
		rs.bodies = append(rs.bodies, string(body))
		rs.mu.Unlock()
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusGone)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func TestSenderSignsRequest(t *testing.T) {
	srv := newRecordingServer(t)
	clock := clockwork.NewFakeClockAt(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	sender := NewSender(srv.Client(), Signing{
		Region:    "us-east-1",
		Service:   "execute-api",
		AccessKey: "AKID",
		SecretKey: "secret",
	}, clock)

	err := sender.Send(context.Background(), srv.URL+"/ok", map[string]string{"status_id": "RUNNING"})
	require.NoError(t, err)

	require.Len(t, srv.requests, 1)
	req := srv.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "20200101T000000Z", req.Header.Get("X-Amz-Date"))
	auth := req.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKID/20200101/us-east-1/execute-api/aws4_request"), auth)
	assert.Contains(t, auth, "Signature=")
	assert.JSONEq(t, `{"status_id":"RUNNING"}`, srv.bodies[0])
}

func TestSenderWithoutCredentialsIsUnsigned(t *testing.T) {
	srv := newRecordingServer(t)
	sender := NewSender(srv.Client(), Signing{}, nil)
	require.NoError(t, sender.Send(context.Background(), srv.URL+"/ok", "x"))
	assert.Empty(t, srv.requests[0].Header.Get("Authorization"))
}

func TestSenderClassifiesFailures(t *testing.T) {
	srv := newRecordingServer(t)
	sender := NewSender(srv.Client(), Signing{}, nil)

	err := sender.Send(context.Background(), srv.URL+"/gone", "x")
	assert.True(t, errors.Is(err, ErrGone))

	err = sender.Send(context.Background(), srv.URL+"/broken", "x")
	assert.True(t, errors.Is(err, ErrDelivery))
	assert.False(t, errors.Is(err, ErrGone))

	err = sender.Send(context.Background(), "http://127.0.0.1:1/unreachable", "x")
	assert.True(t, errors.Is(err, ErrDelivery))
}

func TestBroadcastAttemptsEverySubscriberOnceAndPrunesGone(t *testing.T) {
	ctx := context.Background()
	srv := newRecordingServer(t)
	store := jobs.NewMemoryStore()
	require.NoError(t, store.AddRequest(ctx, "abc", `{"norm":"dry"}`))
	require.NoError(t, store.UpdateStatus(ctx, "abc", jobs.StatusSuccess, "done", 100))
	for _, path := range []string{"/ok", "/also-ok", "/gone", "/broken"} {
		require.NoError(t, store.AddSubscriber(ctx, "abc", srv.URL+path))
	}

	m := metrics.NewMetricsForTesting()
	b := NewBroadcaster(store, NewSender(srv.Client(), Signing{}, nil), 2, time.Second, zap.NewNop().Sugar(), m)
	deliveries, err := b.Broadcast(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, deliveries, 4)

	for _, path := range []string{"/ok", "/also-ok", "/gone", "/broken"} {
		assert.Equal(t, 1, srv.hits[path], path)
	}
	var pruned []string
	for _, d := range deliveries {
		if d.Pruned {
			pruned = append(pruned, d.Addr)
		}
	}
	assert.Equal(t, []string{srv.URL + "/gone"}, pruned)

	r, err := store.GetRequest(ctx, "abc")
	require.NoError(t, err)
	assert.NotContains(t, r.Connections, srv.URL+"/gone")
	assert.Contains(t, r.Connections, srv.URL+"/broken")

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(srv.bodies[0]), &msg))
	assert.Equal(t, "SUCCESS", msg["status_id"])
	assert.NotContains(t, msg, "connections")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Notifications.WithLabelValues("delivered")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Notifications.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("pruned")))
}

func TestBroadcastUnknownHash(t *testing.T) {
	b := NewBroadcaster(jobs.NewMemoryStore(), NewSender(nil, Signing{}, nil), 1, 0, zap.NewNop().Sugar(), nil)
	_, err := b.Broadcast(context.Background(), "missing")
	assert.True(t, errors.Is(err, jobs.ErrNotFound))
}
