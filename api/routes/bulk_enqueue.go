package routes

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/fsoi/report-queue/api/helpers"
	"github.com/fsoi/report-queue/api/jobs"
	"github.com/fsoi/report-queue/api/pipeline"
	"github.com/fsoi/report-queue/api/report"
	"github.com/fsoi/report-queue/config"
)

// BulkEnqueueRequest admits a list of report requests in order. Every request is validated before
// any is queued. Admission stops at the first request the queue has no room for.
func BulkEnqueueRequest(cfg *config.Config, runner *pipeline.DataPipelineRunner, resolve report.CenterResolver) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var submissions []helpers.Submission
		if err := readJSON(r, &submissions); err != nil {
			handleErrorType(w, errors.Wrap(err, "failed to decode bulk enqueue request body"), errorCode(err), cfg.Logger)
			return
		}

		requests := make([]*report.Request, len(submissions))
		for i, s := range submissions {
			req, err := helpers.CheckSubmission(s, resolve)
			if err != nil {
				handleErrorType(w, errors.Wrapf(err, "request %d", i), errorCode(err), cfg.Logger)
				return
			}
			requests[i] = req
		}

		snapshots := make([]jobs.Snapshot, 0, len(requests))
		for i, req := range requests {
			code, record, err := helpers.AddToQueue(r.Context(), runner, req, submissions[i].Callback)
			if err != nil {
				handleErrorType(w, errors.Wrapf(err, "admitted %d of %d requests", i, len(requests)), code, cfg.Logger)
				return
			}
			snapshots = append(snapshots, record.Snapshot())
		}
		if err := handleJSONStatus(w, http.StatusAccepted, snapshots); err != nil {
			handleErrorType(w, errors.New("failed to generate response"), http.StatusInternalServerError, cfg.Logger)
		}
	}
}
