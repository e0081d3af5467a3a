package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	sqlite, err := OpenSQLStore(DriverSQLite, filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetRequest(ctx, "abc")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.UpdateStatus(ctx, "abc", StatusRunning, "", 0), ErrNotFound)
			assert.ErrorIs(t, s.AddResponse(ctx, "abc", "{}"), ErrNotFound)

			require.NoError(t, s.AddRequest(ctx, "abc", `{"norm":"dry"}`))
			r, err := s.GetRequest(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, StatusPending, r.StatusID)
			assert.Equal(t, 0, r.Progress)
			assert.Equal(t, `{"norm":"dry"}`, r.ReqObj)
			assert.Empty(t, r.Connections)
			assert.Empty(t, r.ResObj)

			require.NoError(t, s.UpdateStatus(ctx, "abc", StatusRunning, "Accessing data objects", 150))
			require.NoError(t, s.AddResponse(ctx, "abc", `{"images":[]}`))
			r, err = s.GetRequest(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, StatusRunning, r.StatusID)
			assert.Equal(t, "Accessing data objects", r.Message)
			assert.Equal(t, 100, r.Progress)
			assert.Equal(t, `{"images":[]}`, r.ResObj)
		})
	}
}

func TestAddRequestKeepsSubscribers(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.AddSubscriber(ctx, "abc", "https://a.example/cb"))
			require.NoError(t, s.AddRequest(ctx, "abc", "{}"))
			require.NoError(t, s.UpdateStatus(ctx, "abc", StatusSuccess, "done", 100))
			require.NoError(t, s.AddResponse(ctx, "abc", `{"images":[]}`))

			require.NoError(t, s.AddRequest(ctx, "abc", "{}"))
			r, err := s.GetRequest(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, StatusPending, r.StatusID)
			assert.Empty(t, r.Message)
			assert.Empty(t, r.ResObj)
			assert.Equal(t, []string{"https://a.example/cb"}, r.Connections)
		})
	}
}

func TestSubscriberSetOperations(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.AddRequest(ctx, "abc", "{}"))
			require.NoError(t, s.AddSubscriber(ctx, "abc", "b"))
			require.NoError(t, s.AddSubscriber(ctx, "abc", "a"))
			require.NoError(t, s.AddSubscriber(ctx, "abc", "a"))
			require.NoError(t, s.RemoveSubscriber(ctx, "abc", "missing"))

			r, err := s.GetRequest(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, r.Connections)

			require.NoError(t, s.RemoveSubscriber(ctx, "abc", "a"))
			r, err = s.GetRequest(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, r.Connections)
		})
	}
}

func TestConcurrentSubscribersAreNotLost(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.AddRequest(ctx, "abc", "{}"))
			require.NoError(t, s.AddSubscriber(ctx, "abc", "existing"))

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(2)
				go func(i int) {
					defer wg.Done()
					addr := fmt.Sprintf("viewer-%d", i)
					assert.NoError(t, s.AddSubscriber(ctx, "abc", addr))
					assert.NoError(t, s.RemoveSubscriber(ctx, "abc", addr))
				}(i)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, s.AddSubscriber(ctx, "abc", fmt.Sprintf("client-%02d", i)))
				}(i)
			}
			wg.Wait()

			r, err := s.GetRequest(ctx, "abc")
			require.NoError(t, err)
			assert.Len(t, r.Connections, 21)
			assert.Contains(t, r.Connections, "existing")
			for _, addr := range r.Connections {
				assert.NotContains(t, addr, "viewer-")
			}
		})
	}
}

func TestSnapshotOmitsConnections(t *testing.T) {
	r := &Record{
		ReqHash:     "abc",
		StatusID:    StatusFail,
		Message:     "failed",
		Progress:    100,
		Connections: []string{"a"},
		ReqObj:      `{"norm":"dry"}`,
		ResObj:      `{"errors":["x"]}`,
	}
	s := r.Snapshot()
	assert.Equal(t, "abc", s.ReqHash)
	assert.JSONEq(t, `{"norm":"dry"}`, string(s.ReqObj))
	assert.JSONEq(t, `{"errors":["x"]}`, string(s.ResObj))

	empty := (&Record{ReqHash: "abc"}).Snapshot()
	assert.Nil(t, empty.ResObj)
}

func TestValidTransition(t *testing.T) {
	assert.True(t, ValidTransition(StatusPending, StatusRunning))
	assert.True(t, ValidTransition(StatusRunning, StatusRunning))
	assert.True(t, ValidTransition(StatusRunning, StatusSuccess))
	assert.True(t, ValidTransition(StatusRunning, StatusFail))
	assert.False(t, ValidTransition(StatusSuccess, StatusRunning))
	assert.False(t, ValidTransition(StatusFail, StatusSuccess))
	assert.False(t, ValidTransition(StatusPending, StatusSuccess))
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := &SQLStore{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
	assert.Equal(t, "UPDATE report_jobs SET res_obj = $1 WHERE req_hash = $2",
		pg.rebind("UPDATE report_jobs SET res_obj = ? WHERE req_hash = ?"))
}

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewStore("mysql", "")
	assert.Error(t, err)
	s, err := NewStore("", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}
