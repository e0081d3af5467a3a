package pipeline

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/fsoi/report-queue/api/jobs"
	"github.com/fsoi/report-queue/api/report"
)

// Severity of a run notice.
type Severity string

// Notice severities. Errors fail the run.
const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Code classifies a run notice.
type Code string

// Notice codes.
const (
	CodeNoData           Code = "NO_DATA"
	CodeDataUnavailable  Code = "DATA_TEMPORARILY_UNAVAILABLE"
	CodeEmptyAfterFilter Code = "EMPTY_AFTER_FILTER"
	CodeCenterFailed     Code = "CENTER_FAILED"
	CodeComparisonFailed Code = "COMPARISON_FAILED"
	CodeUploadFailed     Code = "UPLOAD_FAILED"
	CodeNoArtifacts      Code = "NO_ARTIFACTS"
	CodeWorkspaceFailed  Code = "WORKSPACE_FAILED"
	CodeAborted          Code = "RUN_ABORTED"
)

// Notice is a warning or error reported to the client.
type Notice struct {
	Severity Severity
	Code     Code
	Center   string
	Message  string
}

// ErrInvalidTransition is returned when a run tries to leave a terminal state or skip a state.
var ErrInvalidTransition = errors.New("invalid status transition")

// RunContext is the state owned by one run: its identity, notices, progress and status.
type RunContext struct {
	Hash        string
	ReferenceID string
	Request     *report.Request
	Arrival     time.Time

	notices  []Notice
	progress float64
	status   jobs.Status
}

func newRunContext(req *report.Request, arrival time.Time) *RunContext {
	return &RunContext{
		Hash:        report.Hash(req),
		ReferenceID: report.ReferenceID(req, arrival),
		Request:     req,
		Arrival:     arrival,
		status:      jobs.StatusPending,
	}
}

// Warn records a non fatal notice.
func (rc *RunContext) Warn(code Code, center, message string) {
	rc.notices = append(rc.notices, Notice{Severity: SeverityWarning, Code: code, Center: center, Message: message})
}

// Fail records a fatal notice.
func (rc *RunContext) Fail(code Code, center, message string) {
	rc.notices = append(rc.notices, Notice{Severity: SeverityError, Code: code, Center: center, Message: message})
}

// Promote turns every warning with code into an error.
func (rc *RunContext) Promote(code Code) {
	for i := range rc.notices {
		if rc.notices[i].Code == code {
			rc.notices[i].Severity = SeverityError
		}
	}
}

// Notices returns every notice in the order recorded.
func (rc *RunContext) Notices() []Notice {
	return append([]Notice(nil), rc.notices...)
}

func (rc *RunContext) messages(severity Severity) []string {
	out := []string{}
	for _, n := range rc.notices {
		if n.Severity == severity {
			out = append(out, n.Message)
		}
	}
	return out
}

// Warnings returns the warning messages.
func (rc *RunContext) Warnings() []string {
	return rc.messages(SeverityWarning)
}

// Errors returns the error messages.
func (rc *RunContext) Errors() []string {
	return rc.messages(SeverityError)
}

// HasErrors reports whether the run has failed.
func (rc *RunContext) HasErrors() bool {
	for _, n := range rc.notices {
		if n.Severity == SeverityError {
			return true
		}
	}
	return false
}

// OnlyWarned reports whether there is at least one warning and every warning has code.
func (rc *RunContext) OnlyWarned(code Code) bool {
	found := false
	for _, n := range rc.notices {
		if n.Severity != SeverityWarning {
			continue
		}
		if n.Code != code {
			return false
		}
		found = true
	}
	return found
}

// Advance moves progress forward by delta, capped below completion.
func (rc *RunContext) Advance(delta float64) int {
	rc.progress = math.Min(rc.progress+delta, 99)
	return rc.Progress()
}

// Progress returns the current progress percentage.
func (rc *RunContext) Progress() int {
	if rc.status.Terminal() {
		return 100
	}
	return int(rc.progress)
}

// Status returns the current status.
func (rc *RunContext) Status() jobs.Status {
	return rc.status
}

// Transition moves the run to status. A run reaches a terminal status at most once.
func (rc *RunContext) Transition(status jobs.Status) error {
	if !jobs.ValidTransition(rc.status, status) {
		return errors.Wrapf(ErrInvalidTransition, "%s to %s", rc.status, status)
	}
	rc.status = status
	return nil
}
