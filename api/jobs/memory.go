package jobs

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process. It backs tests and single instance deployments.
type MemoryStore struct {
	mu          sync.Mutex
	records     map[string]*Record
	subscribers map[string]map[string]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]*Record),
		subscribers: make(map[string]map[string]struct{}),
	}
}

// AddRequest writes a PENDING record, keeping any subscribers of the hash.
func (m *MemoryStore) AddRequest(ctx context.Context, hash string, request string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[hash] = &Record{
		ReqHash:  hash,
		StatusID: StatusPending,
		ReqObj:   request,
	}
	return nil
}

// GetRequest returns a copy of the record with its current subscriber set.
func (m *MemoryStore) GetRequest(ctx context.Context, hash string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[hash]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	out.Connections = make([]string, 0, len(m.subscribers[hash]))
	for addr := range m.subscribers[hash] {
		out.Connections = append(out.Connections, addr)
	}
	sort.Strings(out.Connections)
	return &out, nil
}

// AddSubscriber adds addr to the subscriber set of hash.
func (m *MemoryStore) AddSubscriber(ctx context.Context, hash string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.subscribers[hash]
	if !ok {
		set = make(map[string]struct{})
		m.subscribers[hash] = set
	}
	set[addr] = struct{}{}
	return nil
}

// RemoveSubscriber removes addr from the subscriber set of hash.
func (m *MemoryStore) RemoveSubscriber(ctx context.Context, hash string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.subscribers[hash]; ok {
		delete(set, addr)
		if len(set) == 0 {
			delete(m.subscribers, hash)
		}
	}
	return nil
}

// UpdateStatus overwrites status, message and progress.
func (m *MemoryStore) UpdateStatus(ctx context.Context, hash string, status Status, message string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[hash]
	if !ok {
		return ErrNotFound
	}
	r.StatusID = status
	r.Message = message
	r.Progress = clampProgress(progress)
	return nil
}

// AddResponse stores the response body.
func (m *MemoryStore) AddResponse(ctx context.Context, hash string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[hash]
	if !ok {
		return ErrNotFound
	}
	r.ResObj = body
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
