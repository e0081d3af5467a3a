package routes

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"

	"github.com/fsoi/report-queue/api/pipeline"
	"github.com/fsoi/report-queue/api/store"
	"github.com/fsoi/report-queue/config"
)

// DeleteArtifactsResponse lists the cached objects removed for a report.
type DeleteArtifactsResponse struct {
	Deleted []store.Descriptor `json:"deleted"`
}

// DeleteArtifactsRequest removes the plots and snapshots cached for a report hash. The job record is
// left untouched.
func DeleteArtifactsRequest(cfg *config.Config, cache store.ObjectStore) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := chi.URLParam(r, "hash")
		deleted := []store.Descriptor{}
		for _, kind := range []string{pipeline.KindArtifact, pipeline.KindSnapshot} {
			found, err := cache.List(r.Context(), store.Filter{Kind: kind, Fields: map[string]string{"hash": hash}})
			if err != nil {
				handleErrorType(w, errors.Wrapf(err, "failed to list %s objects of %s", kind, hash), http.StatusInternalServerError, cfg.Logger)
				return
			}
			for _, d := range found {
				if err := cache.Delete(r.Context(), d); err != nil && !errors.Is(err, store.ErrNotFound) {
					handleErrorType(w, errors.Wrapf(err, "failed to delete %s", d), http.StatusInternalServerError, cfg.Logger)
					return
				}
				deleted = append(deleted, d)
			}
		}
		if err := handleJSON(w, DeleteArtifactsResponse{deleted}); err != nil {
			handleErrorType(w, errors.New("failed to generate response"), http.StatusInternalServerError, cfg.Logger)
		}
	}
}
