package routes

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"

	"github.com/fsoi/report-queue/api/pipeline"
	"github.com/fsoi/report-queue/config"
)

// RetryRequest queues a finished report run again from its stored request.
func RetryRequest(cfg *config.Config, runner *pipeline.DataPipelineRunner) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := chi.URLParam(r, "hash")
		record, err := runner.Retry(r.Context(), hash)
		if err != nil {
			code := errorCode(err)
			switch {
			case errors.Is(err, pipeline.ErrNotFinished):
				code = http.StatusConflict
			case errors.Is(err, pipeline.ErrQueueFull):
				code = http.StatusServiceUnavailable
			}
			handleErrorType(w, err, code, cfg.Logger)
			return
		}
		if err := handleJSONStatus(w, http.StatusAccepted, record.Snapshot()); err != nil {
			handleErrorType(w, errors.New("failed to generate response"), http.StatusInternalServerError, cfg.Logger)
		}
	}
}
