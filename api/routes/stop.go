package routes

import (
	"net/http"

	"github.com/fsoi/report-queue/api/pipeline"
	"github.com/fsoi/report-queue/config"
)

// StopRequest stops the pipeline runner.  Requests can still be enqueued, but the queue will not be serviced.
func StopRequest(cfg *config.Config, runner *pipeline.DataPipelineRunner) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		runner.Stop()
		w.WriteHeader(http.StatusNoContent)
	}
}
