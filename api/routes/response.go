package routes

import (
	"encoding/json"
	"io/ioutil"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fsoi/report-queue/api/helpers"
	"github.com/fsoi/report-queue/api/jobs"
	"github.com/fsoi/report-queue/api/report"
)

func handleJSON(w http.ResponseWriter, data interface{}) error {
	return handleJSONStatus(w, http.StatusOK, data)
}

func handleJSONStatus(w http.ResponseWriter, code int, data interface{}) error {
	// marshal data
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	// write response
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, err = w.Write(bytes)
	if err != nil {
		return err
	}
	return nil
}

func handleErrorType(w http.ResponseWriter, err error, code int, logger *zap.SugaredLogger) {
	logger.Errorf("%+v", err)
	errMessage := "An error occured on the server while processing the request"
	if code < http.StatusInternalServerError {
		errMessage = http.StatusText(code)
	}
	http.Error(w, errMessage, code)
}

// errorCode maps the errors handlers see to response codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, report.ErrInvalidRequest), errors.Is(err, helpers.ErrInvalidCallback):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func readJSON(r *http.Request, v interface{}) error {
	body, err := ioutil.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		return errors.Wrap(err, "failed to read request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(report.ErrInvalidRequest, err.Error())
	}
	return nil
}
