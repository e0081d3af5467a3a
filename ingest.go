package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fsoi/report-queue/api/fsoi"
	"github.com/fsoi/report-queue/api/report"
	"github.com/fsoi/report-queue/api/store"
)

// ingestOptions address one raw center file and where it comes from.
type ingestOptions struct {
	URL    string
	Center string
	Norm   report.Norm
	Date   time.Time
	Cycle  int
	Token  string
	Force  bool
}

// ingestCenterFile copies the raw file at opts.URL into the source store, unless it is already
// there, then decodes it and stores its bulk statistics next to it.
func ingestCenterFile(ctx context.Context, source store.ObjectStore, registry *fsoi.Registry,
	opts ingestOptions, sugar *zap.SugaredLogger) (*fsoi.BulkTable, error) {
	decoder, ok := registry.Decoder(opts.Center)
	if !ok {
		return nil, errors.Errorf("no decoder registered for center %q", opts.Center)
	}
	unit := report.DataDescriptor{Center: opts.Center, Norm: opts.Norm, Date: opts.Date, Cycle: opts.Cycle, Kind: report.KindRaw}
	raw := unit.Descriptor()

	exists, err := source.Exists(ctx, raw)
	if err != nil {
		return nil, err
	}
	if exists && !opts.Force {
		sugar.Infof("Raw file %s already stored", unit)
	} else {
		var creds *store.Credentials
		if opts.Token != "" {
			creds = &store.Credentials{Token: opts.Token}
		}
		if err := source.SaveFromRemote(ctx, opts.URL, raw, creds); err != nil {
			return nil, err
		}
		sugar.Infof("Stored raw file %s from %s", unit, opts.URL)
	}

	workdir, err := os.MkdirTemp("", "fsoi-ingest-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ingest workspace")
	}
	defer os.RemoveAll(workdir)

	rawPath := filepath.Join(workdir, unit.FileName())
	if err := source.LoadToLocalFile(ctx, raw, rawPath); err != nil {
		return nil, err
	}
	f, err := os.Open(rawPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", rawPath)
	}
	obs, err := decoder.Decode(f)
	f.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", unit)
	}

	table := fsoi.Accumulate(obs)
	unit.Kind = report.KindBulk
	bulkPath := filepath.Join(workdir, unit.FileName())
	if err := table.SaveCSV(bulkPath); err != nil {
		return nil, err
	}
	if err := source.SaveFromLocalFile(ctx, bulkPath, unit.Descriptor()); err != nil {
		return nil, err
	}
	sugar.Infof("Stored bulk file %s with %d observations over %d platforms", unit, len(obs), len(table.Rows))
	return table, nil
}
