package fsoi

import (
	"os"

	"github.com/pkg/errors"
)

// Metric identifies one derived statistic.
type Metric string

// Derived statistics rendered for every report.
const (
	TotImp     Metric = "TotImp"
	ImpPerOb   Metric = "ImpPerOb"
	FracBenObs Metric = "FracBenObs"
	FracNeuObs Metric = "FracNeuObs"
	FracImp    Metric = "FracImp"
	ObCnt      Metric = "ObCnt"
)

// Metrics lists every metric in rendering order.
var Metrics = []Metric{TotImp, ImpPerOb, FracBenObs, FracNeuObs, FracImp, ObCnt}

// MetricRow holds the derived statistics of one platform.
type MetricRow struct {
	Platform string
	Values   map[Metric]float64
}

// MetricsTable is the derived statistics of every platform of a center.
type MetricsTable struct {
	Rows []MetricRow
}

// Derive computes the derived statistics of a bulk table. Fractions are percentages.
func Derive(bulk *BulkTable) *MetricsTable {
	var total float64
	for _, row := range bulk.Rows {
		total += row.TotImp
	}
	t := &MetricsTable{Rows: make([]MetricRow, 0, len(bulk.Rows))}
	for _, row := range bulk.Rows {
		values := map[Metric]float64{
			TotImp: row.TotImp,
			ObCnt:  float64(row.ObCnt),
		}
		if row.ObCnt > 0 {
			count := float64(row.ObCnt)
			values[ImpPerOb] = row.TotImp / count
			values[FracBenObs] = 100 * float64(row.ObsBen) / count
			values[FracNeuObs] = 100 * float64(row.ObsNeutral) / count
		}
		if total != 0 {
			values[FracImp] = 100 * row.TotImp / total
		}
		t.Rows = append(t.Rows, MetricRow{Platform: row.Platform, Values: values})
	}
	return t
}

// Filter returns the rows whose platform is allowed.
func (t *MetricsTable) Filter(allow func(platform string) bool) *MetricsTable {
	out := &MetricsTable{}
	for _, row := range t.Rows {
		if allow(row.Platform) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// Len returns the number of platforms.
func (t *MetricsTable) Len() int {
	return len(t.Rows)
}

// Aggregator combines the bulk files of one center into a single table.
type Aggregator interface {
	Aggregate(paths []string) (*BulkTable, error)
}

// FileAggregator reads bulk files from local paths.
type FileAggregator struct{}

// Aggregate merges every bulk file.
func (FileAggregator) Aggregate(paths []string) (*BulkTable, error) {
	out := &BulkTable{}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %s", path)
		}
		t, err := ReadBulkCSV(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}
		out.Merge(t)
	}
	return out, nil
}
