// Package jobs persists the state of report runs keyed by request hash.
package jobs

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Status is the lifecycle state of a report run.
type Status string

// Run states. SUCCESS and FAIL are terminal.
const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFail    Status = "FAIL"
)

// Terminal reports whether no further transition is valid from s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFail
}

// ValidTransition reports whether a run may move from one status to another. Staying in RUNNING is
// allowed so progress can be reported.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFail
	case StatusRunning:
		return to == StatusRunning || to.Terminal()
	}
	return false
}

// ErrNotFound is returned when no record exists for a hash.
var ErrNotFound = errors.New("job record not found")

// Record is the persisted state of one report run.
type Record struct {
	ReqHash     string   `json:"req_hash"`
	StatusID    Status   `json:"status_id"`
	Message     string   `json:"message"`
	Progress    int      `json:"progress"`
	Connections []string `json:"connections"`
	ReqObj      string   `json:"req_obj"`
	ResObj      string   `json:"res_obj,omitempty"`
}

// Snapshot is the client facing view of a record: the subscriber set is left out and the stored
// payloads are embedded as JSON.
type Snapshot struct {
	ReqHash  string          `json:"req_hash"`
	StatusID Status          `json:"status_id"`
	Message  string          `json:"message"`
	Progress int             `json:"progress"`
	ReqObj   json.RawMessage `json:"req_obj,omitempty"`
	ResObj   json.RawMessage `json:"res_obj,omitempty"`
}

// Snapshot returns the view of the record pushed to subscribers.
func (r *Record) Snapshot() Snapshot {
	s := Snapshot{
		ReqHash:  r.ReqHash,
		StatusID: r.StatusID,
		Message:  r.Message,
		Progress: r.Progress,
	}
	if json.Valid([]byte(r.ReqObj)) {
		s.ReqObj = json.RawMessage(r.ReqObj)
	}
	if r.ResObj != "" && json.Valid([]byte(r.ResObj)) {
		s.ResObj = json.RawMessage(r.ResObj)
	}
	return s
}

// Store is the atomic CRUD surface over job records. Subscriber changes are set operations in the
// backend and may target a hash before its record is written. Backend errors are returned wrapped,
// never retried.
type Store interface {
	// AddRequest writes the record as PENDING with progress 0, replacing status, message, progress
	// and request payload of any previous run and clearing its response. Subscribers are kept.
	AddRequest(ctx context.Context, hash string, request string) error
	GetRequest(ctx context.Context, hash string) (*Record, error)
	AddSubscriber(ctx context.Context, hash string, addr string) error
	RemoveSubscriber(ctx context.Context, hash string, addr string) error
	UpdateStatus(ctx context.Context, hash string, status Status, message string, progress int) error
	AddResponse(ctx context.Context, hash string, body string) error
	Close() error
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
