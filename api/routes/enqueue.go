package routes

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/fsoi/report-queue/api/helpers"
	"github.com/fsoi/report-queue/api/pipeline"
	"github.com/fsoi/report-queue/api/report"
	"github.com/fsoi/report-queue/config"
)

// EnqueueRequest admits a report request. The response is the record snapshot, with 202 when a run
// was queued or joined and 200 when a previous run answered it. A full queue returns 503.
func EnqueueRequest(cfg *config.Config, runner *pipeline.DataPipelineRunner, resolve report.CenterResolver) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var submission helpers.Submission
		if err := readJSON(r, &submission); err != nil {
			handleErrorType(w, errors.Wrap(err, "failed to decode enqueue request body"), errorCode(err), cfg.Logger)
			return
		}
		req, err := helpers.CheckSubmission(submission, resolve)
		if err != nil {
			handleErrorType(w, err, errorCode(err), cfg.Logger)
			return
		}

		code, record, err := helpers.AddToQueue(r.Context(), runner, req, submission.Callback)
		if err != nil {
			handleErrorType(w, err, code, cfg.Logger)
			return
		}
		if err := handleJSONStatus(w, code, record.Snapshot()); err != nil {
			handleErrorType(w, errors.New("failed to generate response"), http.StatusInternalServerError, cfg.Logger)
		}
	}
}
