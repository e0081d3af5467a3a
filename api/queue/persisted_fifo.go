package queue

import (
	"os"
	"path"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"github.com/uncharted-causemos/dque"
)

const queueSegmentSize = 50

// PersistedFIFOQueue is a disk backed queue that survives restarts.
type PersistedFIFOQueue struct {
	queue  *dque.DQue
	size   int
	hashes map[string]bool
	mutex  *sync.RWMutex
}

func queuedItemBuilder() interface{} {
	return &queuedItem{}
}

// keySetBuilder collects the keys of the items found in a queue loaded from disk.
type keySetBuilder struct {
	keys map[string]bool
}

func (k *keySetBuilder) Apply(entry interface{}) error {
	item, ok := entry.(*queuedItem)
	if !ok {
		return errors.Errorf("unexpected type %s", reflect.TypeOf(entry))
	}
	if item.Key != "" {
		k.keys[item.Key] = true
	}
	return nil
}

// NewPersistedFIFOQueue opens the queue queueName under queueDir, creating it when missing. Values
// must be registered with encoding/gob.
func NewPersistedFIFOQueue(size int, queueDir string, queueName string) (RequestQueue, error) {
	queuePath := path.Join(queueDir, queueName)

	var queue *dque.DQue
	if _, err := os.Stat(queuePath); err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to stat request queue %s", queuePath)
		}
		if err := os.MkdirAll(queueDir, os.ModePerm); err != nil {
			return nil, errors.Wrapf(err, "failed to create request queue dir %s", queueDir)
		}
		queue, err = dque.New(queueName, queueDir, queueSegmentSize, queuedItemBuilder)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to initialize request queue %s", queuePath)
		}
	} else {
		queue, err = dque.Open(queueName, queueDir, queueSegmentSize, queuedItemBuilder)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load request queue %s", queuePath)
		}
	}

	builder := keySetBuilder{keys: map[string]bool{}}
	if err := queue.ApplyToQueue(&builder); err != nil {
		return nil, errors.Wrapf(err, "failed to rebuild key set for %s", queuePath)
	}

	return &PersistedFIFOQueue{
		queue:  queue,
		size:   size,
		hashes: builder.keys,
		mutex:  &sync.RWMutex{},
	}, nil
}

// Enqueue adds an item. A full queue leaves it out and returns false.
func (r *PersistedFIFOQueue) Enqueue(x interface{}) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.queue.Size() >= r.size {
		return false, nil
	}
	if err := r.queue.Enqueue(&queuedItem{Value: x}); err != nil {
		return false, errors.Wrap(err, "failed to enqueue")
	}
	return true, nil
}

// EnqueueHashed adds an item unless one with the same key is waiting, in which case nothing is
// added and true is returned. A full queue returns false.
func (r *PersistedFIFOQueue) EnqueueHashed(key string, x interface{}) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.hashes[key] {
		return true, nil
	}
	if r.queue.Size() >= r.size {
		return false, nil
	}
	if err := r.queue.Enqueue(&queuedItem{Value: x, Key: key}); err != nil {
		return false, errors.Wrap(err, "failed to enqueue with hash key")
	}
	r.hashes[key] = true
	return true, nil
}

// Contains reports whether an item with key is waiting.
func (r *PersistedFIFOQueue) Contains(key string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.hashes[key]
}

// Dequeue removes the oldest item, blocking while the queue is empty.
func (r *PersistedFIFOQueue) Dequeue() (interface{}, error) {
	result, err := r.queue.DequeueBlock()
	if err != nil {
		return nil, errors.Wrap(err, "failed to dequeue")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	item := result.(*queuedItem)
	delete(r.hashes, item.Key)
	return item.Value, nil
}

// Size returns the number of waiting items.
func (r *PersistedFIFOQueue) Size() int {
	return r.queue.Size()
}

// Clear drains the queue.
func (r *PersistedFIFOQueue) Clear() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.hashes = map[string]bool{}
	// dque has no truncate, so drain it
	count := r.queue.Size()
	for i := 0; i < count; i++ {
		if _, err := r.queue.Dequeue(); err != nil {
			return errors.Wrap(err, "failed to clear queue")
		}
	}
	return nil
}

// Close flushes state to disk and forbids further operations.
func (r *PersistedFIFOQueue) Close() error {
	return errors.Wrap(r.queue.Close(), "failed to close queue")
}

// contents collects the values of the queue in order.
type contents struct {
	values []interface{}
}

func (c *contents) Apply(entry interface{}) error {
	item, ok := entry.(*queuedItem)
	if !ok {
		return errors.Errorf("unexpected type %s", reflect.TypeOf(entry))
	}
	c.values = append(c.values, item.Value)
	return nil
}

// GetAll returns the waiting items, oldest first.
func (r *PersistedFIFOQueue) GetAll() ([]interface{}, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	c := contents{values: make([]interface{}, 0, r.queue.Size())}
	if err := r.queue.ApplyToQueue(&c); err != nil {
		return nil, errors.Wrap(err, "failed to read queue")
	}
	return c.values, nil
}
