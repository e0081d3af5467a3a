package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/fsoi/report-queue/api/catalog"
	"github.com/fsoi/report-queue/api/fsoi"
	"github.com/fsoi/report-queue/api/jobs"
	"github.com/fsoi/report-queue/api/metrics"
	"github.com/fsoi/report-queue/api/notify"
	"github.com/fsoi/report-queue/api/report"
	"github.com/fsoi/report-queue/api/store"
	"github.com/fsoi/report-queue/config"
)

// Storage kinds of run outputs in the cache store.
const (
	KindArtifact = "artifact"
	KindSnapshot = "snapshot"
)

const (
	// share of progress spent on per center work
	centerProgress = 90.0
	// progress added by the comparison pass
	comparisonProgress = 5.0
	comparisonGroup    = "comparison"
)

// Image is one cached artifact in a successful response.
type Image struct {
	URL    string `json:"url"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Response is the outcome of a run as returned to clients.
type Response struct {
	Images   []Image
	Errors   []string
	Warnings []string
}

// Failed reports whether the run ended in FAIL.
func (r *Response) Failed() bool {
	return len(r.Errors) > 0
}

// MarshalJSON writes {images, warnings} for successful runs and {errors, warnings} otherwise.
func (r Response) MarshalJSON() ([]byte, error) {
	warnings := r.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	if r.Failed() {
		return json.Marshal(struct {
			Errors   []string `json:"errors"`
			Warnings []string `json:"warnings"`
		}{r.Errors, warnings})
	}
	images := r.Images
	if images == nil {
		images = []Image{}
	}
	return json.Marshal(struct {
		Images   []Image  `json:"images"`
		Warnings []string `json:"warnings"`
	}{images, warnings})
}

// UnmarshalJSON reads either response shape.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw struct {
		Images   []Image  `json:"images"`
		Errors   []string `json:"errors"`
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Images, r.Errors, r.Warnings = raw.Images, raw.Errors, raw.Warnings
	return nil
}

// Publisher records finished runs in an external catalog.
type Publisher interface {
	Publish(ctx context.Context, entry catalog.Entry) (string, error)
}

// DownloadOutcome is the result of fetching one descriptor into the workspace.
type DownloadOutcome struct {
	Descriptor report.DataDescriptor
	Downloaded bool
	LocalPath  string
}

// artifact is a file produced in the workspace waiting to be cached.
type artifact struct {
	group  string
	metric fsoi.Metric
	kind   string
	path   string
}

func (a artifact) name() string {
	return filepath.Base(a.path)
}

// Dependencies are the collaborators of an orchestrator.
type Dependencies struct {
	Jobs        jobs.Store
	Source      store.ObjectStore
	Cache       store.ObjectStore
	Broadcaster *notify.Broadcaster
	Aggregator  fsoi.Aggregator
	Renderer    fsoi.Renderer
	Publisher   Publisher
	Metrics     *metrics.Metrics
	Clock       clockwork.Clock
}

// Orchestrator runs report requests end to end.
type Orchestrator struct {
	config.Config
	Dependencies
}

// NewOrchestrator creates an orchestrator. Missing collaborators default to the bulk file
// aggregator, the echarts renderer and the real clock.
func NewOrchestrator(cfg *config.Config, deps Dependencies) *Orchestrator {
	if deps.Aggregator == nil {
		deps.Aggregator = fsoi.FileAggregator{}
	}
	if deps.Renderer == nil {
		deps.Renderer = fsoi.EChartsRenderer{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetricsForTesting()
	}
	return &Orchestrator{
		Config: config.Config{
			Logger:      cfg.Logger,
			Environment: cfg.Environment,
			Layout:      cfg.Layout,
		},
		Dependencies: deps,
	}
}

// Run executes one report request and returns once every subscriber has had its terminal push
// attempted. Data problems are reported in the response; an error is only returned when the job
// state store fails. The record is then still moved to a terminal status on a best effort basis.
func (o *Orchestrator) Run(ctx context.Context, req *report.Request) (*Response, error) {
	started := o.Clock.Now()
	rc := newRunContext(req, started)
	o.Metrics.RunsStarted.Inc()

	if err := o.Jobs.AddRequest(ctx, rc.Hash, string(report.Canonicalize(req))); err != nil {
		return nil, errors.Wrapf(err, "failed to record request %s", rc.Hash)
	}
	if err := o.setStatus(ctx, rc, jobs.StatusRunning, "Accessing data objects"); err != nil {
		return nil, o.abort(ctx, rc, err)
	}
	o.broadcast(ctx, rc.Hash)

	workspace := filepath.Join(o.Environment.ScratchDir, rc.Hash[:12]+"-"+uuid.NewString())
	defer o.cleanup(workspace)
	images, err := o.generate(ctx, rc, workspace)
	if err != nil {
		return nil, o.abort(ctx, rc, err)
	}
	o.cleanup(workspace)

	resp := o.response(rc, images)
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, o.abort(ctx, rc, errors.Wrap(err, "failed to marshal response"))
	}
	if err := o.Jobs.AddResponse(ctx, rc.Hash, string(body)); err != nil {
		return nil, o.abort(ctx, rc, errors.Wrapf(err, "failed to record response of %s", rc.Hash))
	}
	status := jobs.StatusSuccess
	if resp.Failed() {
		status = jobs.StatusFail
	}
	if err := o.setStatus(ctx, rc, status, terminalMessage(status)); err != nil {
		return nil, o.abort(ctx, rc, err)
	}
	o.broadcast(ctx, rc.Hash)
	o.publish(ctx, rc, status, images, resp)

	for _, n := range rc.Notices() {
		o.Metrics.RunNotices.WithLabelValues(string(n.Severity), string(n.Code)).Inc()
	}
	o.Metrics.RunsFinished.WithLabelValues(string(status)).Inc()
	o.Metrics.RunDuration.Observe(o.Clock.Since(started).Seconds())
	o.Logger.Infof("Report %s finished %s with %d images, %d warnings, %d errors",
		rc.Hash, status, len(images), len(resp.Warnings), len(resp.Errors))
	return resp, nil
}

// generate produces and caches the artifacts of a run. Only job state store failures are returned.
func (o *Orchestrator) generate(ctx context.Context, rc *RunContext, workspace string) ([]Image, error) {
	for _, dir := range []string{"data", "snapshots", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(workspace, dir), os.ModePerm); err != nil {
			o.Logger.Errorf("Failed to create workspace %s for %s: %v", workspace, rc.Hash, err)
			rc.Fail(CodeWorkspaceFailed, "", "The report workspace could not be prepared")
			return nil, nil
		}
	}

	outcomes := o.download(ctx, rc, workspace)
	active := o.classify(rc, outcomes)

	artifacts, processed, err := o.processCenters(ctx, rc, workspace, active)
	if err != nil {
		return nil, err
	}
	if len(processed) > 0 {
		artifacts = append(artifacts, o.compare(rc, workspace, processed)...)
	}

	images := o.upload(ctx, rc, artifacts)
	if len(images) == 0 && !rc.HasErrors() && !rc.OnlyWarned(CodeDataUnavailable) {
		rc.Fail(CodeNoArtifacts, "", "No plots could be generated for the request")
	}
	return images, nil
}

func (o *Orchestrator) response(rc *RunContext, images []Image) *Response {
	resp := &Response{Warnings: rc.Warnings()}
	if rc.HasErrors() {
		resp.Errors = append(rc.Errors(), "Reference ID: "+rc.ReferenceID)
	} else {
		resp.Images = images
	}
	return resp
}

func terminalMessage(status jobs.Status) string {
	if status == jobs.StatusSuccess {
		return "Report generated"
	}
	return "Report failed"
}

// abort is called after a job state store failure. It tries once to leave the record terminal, FAIL
// unless a terminal status was already chosen, and pushes the result. cause is returned.
func (o *Orchestrator) abort(ctx context.Context, rc *RunContext, cause error) error {
	o.Logger.Errorf("Report %s aborted: %+v", rc.Hash, cause)
	ctx = context.WithoutCancel(ctx)
	if timeout := o.Environment.UnitTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if !rc.Status().Terminal() {
		rc.Fail(CodeAborted, "", "The report run was aborted")
		body, err := json.Marshal(o.response(rc, nil))
		if err == nil {
			err = o.Jobs.AddResponse(ctx, rc.Hash, string(body))
		}
		if err != nil {
			o.Logger.Warnf("Failed to record aborted response of %s: %v", rc.Hash, err)
		}
		// PENDING and RUNNING may always move to FAIL
		_ = rc.Transition(jobs.StatusFail)
	}
	status := rc.Status()
	if err := o.Jobs.UpdateStatus(ctx, rc.Hash, status, terminalMessage(status), rc.Progress()); err != nil {
		o.Logger.Warnf("Failed to record terminal status of %s: %v", rc.Hash, err)
	}
	o.broadcast(ctx, rc.Hash)
	o.Metrics.RunsFinished.WithLabelValues(string(status)).Inc()
	return cause
}

func (o *Orchestrator) setStatus(ctx context.Context, rc *RunContext, status jobs.Status, message string) error {
	if err := rc.Transition(status); err != nil {
		return err
	}
	if err := o.Jobs.UpdateStatus(ctx, rc.Hash, status, message, rc.Progress()); err != nil {
		return errors.Wrapf(err, "failed to update status of %s", rc.Hash)
	}
	return nil
}

func (o *Orchestrator) progress(ctx context.Context, rc *RunContext, delta float64, message string) error {
	rc.Advance(delta)
	return o.setStatus(ctx, rc, jobs.StatusRunning, message)
}

func (o *Orchestrator) broadcast(ctx context.Context, hash string) {
	if o.Broadcaster == nil {
		return
	}
	if _, err := o.Broadcaster.Broadcast(ctx, hash); err != nil {
		o.Logger.Errorf("Failed to notify subscribers of %s: %+v", hash, err)
	}
}

func (o *Orchestrator) cleanup(workspace string) {
	if err := os.RemoveAll(workspace); err != nil {
		o.Logger.Warnf("Failed to remove workspace %s: %v", workspace, err)
	}
}

// download fetches every bulk descriptor of the request into the workspace.
func (o *Orchestrator) download(ctx context.Context, rc *RunContext, workspace string) []DownloadOutcome {
	descriptors := report.Expand(rc.Request, report.KindBulk)
	threaded := store.NewThreaded(o.Source, o.Environment.DownloadWorkers, o.Environment.UnitTimeout(), o.Clock)
	units := make([]*store.Unit, len(descriptors))
	for i, d := range descriptors {
		units[i] = threaded.LoadToLocalFile(ctx, d.Descriptor(), filepath.Join(workspace, "data", d.FileName()))
	}
	threaded.Join()

	outcomes := make([]DownloadOutcome, len(descriptors))
	var bytes uint64
	downloaded := 0
	for i, u := range units {
		outcomes[i] = DownloadOutcome{Descriptor: descriptors[i]}
		if !u.Succeeded() {
			o.Metrics.StoreUnits.WithLabelValues(string(u.Operation), "error").Inc()
			if !errors.Is(u.Err(), store.ErrNotFound) {
				o.Logger.Warnf("Failed to load %s for %s: %v", descriptors[i], rc.Hash, u.Err())
			}
			continue
		}
		o.Metrics.StoreUnits.WithLabelValues(string(u.Operation), "success").Inc()
		outcomes[i].Downloaded = true
		outcomes[i].LocalPath = u.Path
		downloaded++
		if info, err := os.Stat(u.Path); err == nil {
			bytes += uint64(info.Size())
		}
	}
	o.Metrics.DownloadedBytes.Add(float64(bytes))
	o.Logger.Infof("Loaded %d of %d data objects (%s) for %s",
		downloaded, len(descriptors), humanize.Bytes(bytes), rc.Hash)
	return outcomes
}

// centerData is the downloaded files of one center.
type centerData struct {
	center string
	paths  []string
}

// classify groups outcomes by center and drops centers without data. When no center has data at
// all the no data warnings become errors. Gaps explained by a known outage stay warnings.
func (o *Orchestrator) classify(rc *RunContext, outcomes []DownloadOutcome) []centerData {
	paths := map[string][]string{}
	for _, out := range outcomes {
		if out.Downloaded {
			paths[out.Descriptor.Center] = append(paths[out.Descriptor.Center], out.LocalPath)
		}
	}

	var active []centerData
	for _, center := range rc.Request.Centers {
		if len(paths[center]) > 0 {
			active = append(active, centerData{center: center, paths: paths[center]})
			continue
		}
		if outage, ok := o.Layout.FindOutage(center, rc.Request.StartDate, rc.Request.EndDate); ok {
			message := outage.Message
			if message == "" {
				message = fmt.Sprintf("Data for %s is temporarily unavailable", center)
			}
			rc.Warn(CodeDataUnavailable, center, message)
			continue
		}
		rc.Warn(CodeNoData, center, fmt.Sprintf("No data available for %s", center))
	}
	if len(active) == 0 {
		rc.Promote(CodeNoData)
	}
	return active
}

// processCenters aggregates and renders each center in turn.
func (o *Orchestrator) processCenters(ctx context.Context, rc *RunContext, workspace string,
	active []centerData) ([]artifact, []fsoi.Series, error) {
	var artifacts []artifact
	var processed []fsoi.Series
	if len(active) == 0 {
		return nil, nil, nil
	}
	step := centerProgress / float64(2*len(active))

	for _, cd := range active {
		bulk, err := o.Aggregator.Aggregate(cd.paths)
		if perr := o.progress(ctx, rc, step, "Aggregated "+cd.center); perr != nil {
			return nil, nil, perr
		}
		if err != nil {
			o.Logger.Warnf("Aggregation of %s failed for %s: %v", cd.center, rc.Hash, err)
			rc.Warn(CodeCenterFailed, cd.center, fmt.Sprintf("Plot generation failed for %s", cd.center))
			if perr := o.progress(ctx, rc, step, "Skipped "+cd.center); perr != nil {
				return nil, nil, perr
			}
			continue
		}

		snapshot := filepath.Join(workspace, "snapshots", cd.center+".xlsx")
		if err := fsoi.WriteSnapshot(bulk, snapshot); err != nil {
			o.Logger.Warnf("Snapshot of %s failed for %s: %v", cd.center, rc.Hash, err)
		} else {
			artifacts = append(artifacts, artifact{group: cd.center, kind: KindSnapshot, path: snapshot})
		}

		table := fsoi.Derive(bulk).Filter(rc.Request.AllowsPlatform)
		if table.Len() == 0 {
			rc.Warn(CodeEmptyAfterFilter, cd.center,
				fmt.Sprintf("No data for the selected platforms from %s", cd.center))
		} else if rendered, err := o.render(rc, workspace, cd.center, table); err != nil {
			o.Logger.Warnf("Rendering of %s failed for %s: %v", cd.center, rc.Hash, err)
			rc.Warn(CodeCenterFailed, cd.center, fmt.Sprintf("Plot generation failed for %s", cd.center))
		} else {
			artifacts = append(artifacts, rendered...)
			processed = append(processed, fsoi.Series{Center: cd.center, Table: table})
		}
		if err := o.progress(ctx, rc, step, "Processed "+cd.center); err != nil {
			return nil, nil, err
		}
	}
	return artifacts, processed, nil
}

func (o *Orchestrator) metricIDs() []fsoi.Metric {
	ids := make([]fsoi.Metric, 0, len(o.Layout.Metrics))
	for _, m := range o.Layout.Metrics {
		ids = append(ids, fsoi.Metric(m))
	}
	return ids
}

func (o *Orchestrator) title(rc *RunContext, group string) string {
	return fmt.Sprintf("%s %s %s-%s", group, rc.Request.Norm,
		rc.Request.StartDate.Format(report.DateLayout), rc.Request.EndDate.Format(report.DateLayout))
}

func (o *Orchestrator) render(rc *RunContext, workspace, center string, table *fsoi.MetricsTable) ([]artifact, error) {
	var out []artifact
	for _, metric := range o.metricIDs() {
		path := filepath.Join(workspace, "artifacts", fsoi.ArtifactName(center, metric))
		if err := o.Renderer.Render(o.title(rc, center), table, metric, path); err != nil {
			return nil, err
		}
		out = append(out, artifact{group: center, metric: metric, kind: KindArtifact, path: path})
	}
	return out, nil
}

// compare renders every metric across the processed centers. A failure drops the whole pass.
func (o *Orchestrator) compare(rc *RunContext, workspace string, processed []fsoi.Series) []artifact {
	defer rc.Advance(comparisonProgress)
	var out []artifact
	for _, metric := range o.metricIDs() {
		path := filepath.Join(workspace, "artifacts", fsoi.ArtifactName(comparisonGroup, metric))
		if err := o.Renderer.RenderComparison(o.title(rc, "Comparison"), processed, metric, path); err != nil {
			o.Logger.Warnf("Comparison failed for %s: %v", rc.Hash, err)
			rc.Warn(CodeComparisonFailed, "", "Comparison plot generation failed")
			return nil
		}
		out = append(out, artifact{group: comparisonGroup, metric: metric, kind: KindArtifact, path: path})
	}
	return out
}

// upload caches every artifact under the request hash and returns the images that made it.
func (o *Orchestrator) upload(ctx context.Context, rc *RunContext, artifacts []artifact) []Image {
	threaded := store.NewThreaded(o.Cache, o.Environment.UploadWorkers, o.Environment.UnitTimeout(), o.Clock)
	units := make([]*store.Unit, len(artifacts))
	for i, a := range artifacts {
		target := store.Descriptor{
			Kind:   a.kind,
			Fields: map[string]string{"hash": rc.Hash, "name": a.name()},
		}
		units[i] = threaded.SaveFromLocalFile(ctx, a.path, target)
	}
	threaded.Join()

	images := []Image{}
	for i, u := range units {
		a := artifacts[i]
		if !u.Succeeded() {
			o.Metrics.StoreUnits.WithLabelValues(string(u.Operation), "error").Inc()
			o.Logger.Warnf("Failed to cache %s for %s: %v", a.name(), rc.Hash, u.Err())
			if a.kind == KindArtifact {
				rc.Warn(CodeUploadFailed, a.group, fmt.Sprintf("Failed to store plot %s", a.name()))
			}
			continue
		}
		o.Metrics.StoreUnits.WithLabelValues(string(u.Operation), "success").Inc()
		if a.kind == KindArtifact {
			images = append(images, o.image(u.Target))
		}
	}
	return images
}

func (o *Orchestrator) image(d store.Descriptor) Image {
	img := Image{Key: d.Fields["hash"] + "/" + d.Fields["name"]}
	if locator, ok := o.Cache.(store.Locator); ok {
		img.Bucket = locator.Bucket()
		if key, err := locator.Key(d); err == nil {
			img.Key = key
		}
	}
	img.URL = strings.TrimRight(o.Environment.CacheURLBase, "/") + "/" + img.Key
	return img
}

func (o *Orchestrator) publish(ctx context.Context, rc *RunContext, status jobs.Status, images []Image, resp *Response) {
	if o.Publisher == nil {
		return
	}
	entry := catalog.Entry{
		ReqHash:     rc.Hash,
		Status:      string(status),
		ReferenceID: rc.ReferenceID,
		Warnings:    resp.Warnings,
		Errors:      resp.Errors,
	}
	for _, img := range images {
		entry.Keys = append(entry.Keys, img.Key)
	}
	if timeout := o.Environment.UnitTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if _, err := o.Publisher.Publish(ctx, entry); err != nil {
		o.Logger.Warnf("Failed to publish %s to the catalog: %v", rc.Hash, err)
	}
}
