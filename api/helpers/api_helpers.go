package helpers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/fsoi/report-queue/api/jobs"
	"github.com/fsoi/report-queue/api/pipeline"
	"github.com/fsoi/report-queue/api/report"
)

// ErrInvalidCallback is returned for subscriber addresses that cannot be pushed to.
var ErrInvalidCallback = errors.New("invalid callback address")

// Submission is the body of a report request.
type Submission struct {
	Request  json.RawMessage `json:"request"`
	Callback string          `json:"callback,omitempty"`
}

// CheckCallback makes sure a subscriber address is an absolute http(s) URL.
func CheckCallback(addr string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return errors.Wrap(ErrInvalidCallback, err.Error())
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Wrapf(ErrInvalidCallback, "%q", addr)
	}
	return nil
}

// CheckSubmission validates a submission and parses its request.
func CheckSubmission(s Submission, resolve report.CenterResolver) (*report.Request, error) {
	if len(s.Request) == 0 {
		return nil, errors.Wrap(report.ErrInvalidRequest, "request missing")
	}
	if s.Callback != "" {
		if err := CheckCallback(s.Callback); err != nil {
			return nil, err
		}
	}
	return report.Parse(s.Request, resolve)
}

// AddToQueue admits a parsed request and returns the HTTP status that describes the admission.
func AddToQueue(ctx context.Context, runner *pipeline.DataPipelineRunner, req *report.Request, callback string) (int, *jobs.Record, error) {
	admission, record, err := runner.Enqueue(ctx, req, callback)
	if err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) {
			return http.StatusServiceUnavailable, nil, err
		}
		return http.StatusInternalServerError, nil, err
	}
	if admission == pipeline.AdmissionCached {
		return http.StatusOK, record, nil
	}
	return http.StatusAccepted, record, nil
}
