package routes

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/fsoi/report-queue/api/report"
	"github.com/fsoi/report-queue/api/store"
	"github.com/fsoi/report-queue/config"
)

// AvailabilityRequest lists the source objects of one kind matching the center and norm given as
// query parameters. The kind defaults to bulk.
func AvailabilityRequest(cfg *config.Config, source store.ObjectStore, resolve report.CenterResolver) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		kind := query.Get("kind")
		if kind == "" {
			kind = report.KindBulk
		}
		fields := map[string]string{}
		switch kind {
		case report.KindRaw, report.KindBulk, report.KindGroup:
			// data kinds share one key template
			fields["kind"] = kind
		}
		if center := query.Get("center"); center != "" {
			if resolve != nil {
				canonical, ok := resolve(center)
				if !ok {
					handleErrorType(w, errors.Errorf("unknown center %q", center), http.StatusBadRequest, cfg.Logger)
					return
				}
				center = canonical
			}
			fields["center"] = center
		}
		if norm := query.Get("norm"); norm != "" {
			fields["norm"] = norm
		}

		found, err := source.List(r.Context(), store.Filter{Kind: kind, Fields: fields})
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, store.ErrInvalidDescriptor) {
				code = http.StatusBadRequest
			}
			handleErrorType(w, errors.Wrapf(err, "failed to list %s objects", kind), code, cfg.Logger)
			return
		}
		if found == nil {
			found = []store.Descriptor{}
		}
		if err := handleJSON(w, found); err != nil {
			handleErrorType(w, errors.New("failed to generate response"), http.StatusInternalServerError, cfg.Logger)
		}
	}
}
