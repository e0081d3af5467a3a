// Package queue holds the FIFO queues report requests wait in before a run is started.
package queue

import (
	"container/list"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// ErrClosed is returned by every operation on a closed queue.
var ErrClosed = errors.New("queue closed")

// RequestQueue is a bounded FIFO. Items enqueued with a key are held at most once per key until
// they are dequeued.
type RequestQueue interface {
	Enqueue(x interface{}) (bool, error)
	EnqueueHashed(key string, x interface{}) (bool, error)
	Contains(key string) bool
	Dequeue() (interface{}, error)
	Clear() error
	Close() error
	Size() int
	GetAll() ([]interface{}, error)
}

type queuedItem struct {
	Key   string
	Value interface{}
}

// ListFIFOQueue is an in memory queue based on a doubly linked list.
type ListFIFOQueue struct {
	queue  *list.List
	hashes map[string]bool
	size   int
	closed bool
	mutex  *sync.RWMutex
	cond   *sync.Cond
}

// NewListFIFOQueue creates a queue holding at most size items.
func NewListFIFOQueue(size int) RequestQueue {
	mutex := &sync.RWMutex{}
	return &ListFIFOQueue{
		queue:  list.New(),
		hashes: map[string]bool{},
		size:   size,
		mutex:  mutex,
		cond:   sync.NewCond(mutex),
	}
}

// Enqueue adds an item. A full queue leaves it out and returns false.
func (r *ListFIFOQueue) Enqueue(x interface{}) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return false, errors.Wrap(ErrClosed, "no enqueue after close")
	}
	if r.queue.Len() >= r.size {
		return false, nil
	}
	r.queue.PushBack(&queuedItem{Value: x})
	r.cond.Signal()
	return true, nil
}

// EnqueueHashed adds an item unless one with the same key is waiting, in which case nothing is
// added and true is returned. A full queue returns false.
func (r *ListFIFOQueue) EnqueueHashed(key string, x interface{}) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return false, errors.Wrap(ErrClosed, "no enqueue after close")
	}
	if r.hashes[key] {
		return true, nil
	}
	if r.queue.Len() >= r.size {
		return false, nil
	}
	r.queue.PushBack(&queuedItem{Value: x, Key: key})
	r.hashes[key] = true
	r.cond.Signal()
	return true, nil
}

// Contains reports whether an item with key is waiting.
func (r *ListFIFOQueue) Contains(key string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.hashes[key]
}

// Dequeue removes the oldest item, blocking while the queue is empty.
func (r *ListFIFOQueue) Dequeue() (interface{}, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return nil, errors.Wrap(ErrClosed, "no dequeue after close")
	}
	for r.queue.Len() == 0 {
		r.cond.Wait()
	}

	front := r.queue.Front()
	item := front.Value.(*queuedItem)
	r.queue.Remove(front)
	if item.Key != "" {
		delete(r.hashes, item.Key)
	}
	return item.Value, nil
}

// Size returns the number of waiting items.
func (r *ListFIFOQueue) Size() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.queue.Len()
}

// Clear drops every waiting item.
func (r *ListFIFOQueue) Clear() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return errors.Wrap(ErrClosed, "no queue clear after close")
	}
	r.queue.Init()
	r.hashes = map[string]bool{}
	return nil
}

// Close forbids further operations.
func (r *ListFIFOQueue) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return errors.Wrap(ErrClosed, "no close of previously closed queue")
	}
	r.closed = true
	return nil
}

// GetAll returns the waiting items, oldest first.
func (r *ListFIFOQueue) GetAll() ([]interface{}, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	items := make([]interface{}, 0, r.queue.Len())
	for current := r.queue.Front(); current != nil; current = current.Next() {
		item, ok := current.Value.(*queuedItem)
		if !ok {
			return nil, errors.Errorf("unexpected type %s", reflect.TypeOf(current.Value))
		}
		items = append(items, item.Value)
	}
	return items, nil
}
