package routes

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"

	"github.com/fsoi/report-queue/api/jobs"
	"github.com/fsoi/report-queue/config"
)

// ReportRequest returns the current record of a report run.
func ReportRequest(cfg *config.Config, store jobs.Store) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := chi.URLParam(r, "hash")
		record, err := store.GetRequest(r.Context(), hash)
		if err != nil {
			handleErrorType(w, errors.Wrapf(err, "failed to read report %s", hash), errorCode(err), cfg.Logger)
			return
		}
		if err := handleJSON(w, record.Snapshot()); err != nil {
			handleErrorType(w, errors.New("failed to generate response"), http.StatusInternalServerError, cfg.Logger)
		}
	}
}
