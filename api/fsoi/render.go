package fsoi

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/pkg/errors"
)

// Series is the metrics of one center in a comparison chart.
type Series struct {
	Center string
	Table  *MetricsTable
}

// Renderer draws metric tables into artifact files.
type Renderer interface {
	Render(title string, table *MetricsTable, metric Metric, path string) error
	RenderComparison(title string, series []Series, metric Metric, path string) error
}

// EChartsRenderer writes self contained HTML bar charts.
type EChartsRenderer struct{}

// ArtifactExt is the file extension of rendered artifacts.
const ArtifactExt = ".html"

// Render draws one bar per platform.
func (EChartsRenderer) Render(title string, table *MetricsTable, metric Metric, path string) error {
	if table.Len() == 0 {
		return errors.Errorf("no platforms to render for %s", metric)
	}
	bar := newBar(title, metric)
	platforms := make([]string, 0, table.Len())
	data := make([]opts.BarData, 0, table.Len())
	for _, row := range table.Rows {
		platforms = append(platforms, row.Platform)
		data = append(data, opts.BarData{Value: row.Values[metric]})
	}
	bar.SetXAxis(platforms).AddSeries(string(metric), data)
	return save(bar, path)
}

// RenderComparison draws one series per center over the union of their platforms.
func (EChartsRenderer) RenderComparison(title string, series []Series, metric Metric, path string) error {
	if len(series) == 0 {
		return errors.New("no centers to compare")
	}
	seen := map[string]bool{}
	var platforms []string
	for _, s := range series {
		for _, row := range s.Table.Rows {
			if !seen[row.Platform] {
				seen[row.Platform] = true
				platforms = append(platforms, row.Platform)
			}
		}
	}
	sort.Strings(platforms)

	bar := newBar(title, metric).SetXAxis(platforms)
	for _, s := range series {
		values := make(map[string]float64, s.Table.Len())
		for _, row := range s.Table.Rows {
			values[row.Platform] = row.Values[metric]
		}
		data := make([]opts.BarData, 0, len(platforms))
		for _, p := range platforms {
			if v, ok := values[p]; ok {
				data = append(data, opts.BarData{Value: v})
			} else {
				data = append(data, opts.BarData{Value: "-"})
			}
		}
		bar.AddSeries(s.Center, data)
	}
	return save(bar, path)
}

func newBar(title string, metric Metric) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: string(metric)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	return bar
}

func save(bar *charts.Bar, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := bar.Render(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to render %s", path)
	}
	return f.Close()
}

// ArtifactName returns the file name of a rendered artifact.
func ArtifactName(group string, metric Metric) string {
	return fmt.Sprintf("%s_%s%s", group, metric, ArtifactExt)
}
