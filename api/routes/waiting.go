package routes

import (
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/fsoi/report-queue/api/pipeline"
	"github.com/fsoi/report-queue/api/queue"
	"github.com/fsoi/report-queue/config"
)

// WaitingReport is a queued request as shown to operators.
type WaitingReport struct {
	Hash       string    `json:"req_hash"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// WaitingResponse provides the requests waiting in the queue, oldest first.
type WaitingResponse struct {
	Count    int             `json:"count"`
	Requests []WaitingReport `json:"requests"`
}

// Waiting creates a get request handler that will return the items currently waiting in the queue.
func Waiting(cfg *config.Config, requestQueue queue.RequestQueue) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		contents, err := requestQueue.GetAll()
		if err != nil {
			handleErrorType(w, err, http.StatusInternalServerError, cfg.Logger)
			return
		}
		waiting := make([]WaitingReport, 0, len(contents))
		for _, item := range contents {
			queued, ok := item.(pipeline.QueuedReport)
			if !ok {
				handleErrorType(w, errors.New("failed to generate response, unexpected datatype found"), http.StatusInternalServerError, cfg.Logger)
				return
			}
			waiting = append(waiting, WaitingReport{Hash: queued.Hash, EnqueuedAt: queued.EnqueuedAt})
		}
		if err := handleJSON(w, WaitingResponse{Count: len(waiting), Requests: waiting}); err != nil {
			handleErrorType(w, errors.New("failed to generate response"), http.StatusInternalServerError, cfg.Logger)
		}
	}
}

// JobsRequest returns the runs currently executing.
func JobsRequest(cfg *config.Config, runner *pipeline.DataPipelineRunner) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := handleJSON(w, runner.Jobs()); err != nil {
			handleErrorType(w, errors.New("failed to generate response"), http.StatusInternalServerError, cfg.Logger)
		}
	}
}
