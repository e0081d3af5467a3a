package routes

import (
	"net/http"

	"github.com/fsoi/report-queue/api/pipeline"
	"github.com/fsoi/report-queue/config"
)

// ForceDispatchRequest starts the next queued run regardless of parallelism or whether the runner
// is servicing the queue.
func ForceDispatchRequest(cfg *config.Config, runner *pipeline.DataPipelineRunner) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		runner.Submit(true)
		w.WriteHeader(http.StatusNoContent)
	}
}
