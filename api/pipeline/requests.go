package pipeline

import (
	"encoding/gob"
	"time"
)

// QueuedReport is a report request waiting in the queue. Request holds the canonical JSON.
type QueuedReport struct {
	Hash       string
	Request    []byte
	EnqueuedAt time.Time
}

// RunData tracks a report run that has been started and not finished.
type RunData struct {
	Hash      string    `json:"req_hash"`
	StartTime time.Time `json:"start_time"`
}

func init() {
	// the persisted queue stores values behind an interface
	gob.Register(QueuedReport{})
}
