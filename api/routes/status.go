package routes

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/fsoi/report-queue/api/pipeline"
	"github.com/fsoi/report-queue/api/queue"
	"github.com/fsoi/report-queue/config"
)

// StatusResponse provides the number of items currently queued, whether the pipeline runner
// routine is servicing the queue, and the number of runs executing.
type StatusResponse struct {
	Count     int  `json:"count"`
	IsRunning bool `json:"is_running"`
	Running   int  `json:"running"`
}

// StatusRequest creates a get request handler that will return status info for the request queue and pipeline runner.
func StatusRequest(cfg *config.Config, requestQueue queue.RequestQueue, runner *pipeline.DataPipelineRunner) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		status := StatusResponse{
			Count:     requestQueue.Size(),
			IsRunning: runner.Running(),
			Running:   runner.InFlightCount(),
		}
		if err := handleJSON(w, status); err != nil {
			handleErrorType(w, errors.New("failed to generate response"), http.StatusInternalServerError, cfg.Logger)
		}
	}
}
