package routes

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"

	"github.com/fsoi/report-queue/api/helpers"
	"github.com/fsoi/report-queue/api/jobs"
	"github.com/fsoi/report-queue/config"
)

type subscriberRequest struct {
	Callback string `json:"callback"`
}

// AddSubscriberRequest attaches a callback address to a report run.
func AddSubscriberRequest(cfg *config.Config, store jobs.Store) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := chi.URLParam(r, "hash")
		var body subscriberRequest
		if err := readJSON(r, &body); err != nil {
			handleErrorType(w, errors.Wrap(err, "failed to decode subscriber body"), errorCode(err), cfg.Logger)
			return
		}
		if err := helpers.CheckCallback(body.Callback); err != nil {
			handleErrorType(w, err, http.StatusBadRequest, cfg.Logger)
			return
		}
		if err := store.AddSubscriber(r.Context(), hash, body.Callback); err != nil {
			handleErrorType(w, errors.Wrapf(err, "failed to subscribe to %s", hash), errorCode(err), cfg.Logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RemoveSubscriberRequest detaches the callback given as a query parameter.
func RemoveSubscriberRequest(cfg *config.Config, store jobs.Store) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := chi.URLParam(r, "hash")
		callback := r.URL.Query().Get("callback")
		if callback == "" {
			handleErrorType(w, errors.New("callback missing"), http.StatusBadRequest, cfg.Logger)
			return
		}
		if err := store.RemoveSubscriber(r.Context(), hash, callback); err != nil {
			handleErrorType(w, errors.Wrapf(err, "failed to unsubscribe from %s", hash), errorCode(err), cfg.Logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
