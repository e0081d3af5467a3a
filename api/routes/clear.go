package routes

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/fsoi/report-queue/api/pipeline"
	"github.com/fsoi/report-queue/config"
)

// ClearRequest clears the request queue. Runs already started are not affected.
func ClearRequest(cfg *config.Config, runner *pipeline.DataPipelineRunner) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := runner.ClearQueue(); err != nil {
			handleErrorType(w, errors.Wrap(err, "failed to clear queue"), http.StatusInternalServerError, cfg.Logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
