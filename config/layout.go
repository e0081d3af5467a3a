package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const outageDateLayout = "20060102"

// Storage kinds every layout must provide a key template for.
var requiredKinds = []string{"raw", "bulk", "group", "artifact", "snapshot"}

// Layout describes where objects live in the stores and which centers and metrics a report covers.
type Layout struct {
	Templates map[string]string `yaml:"templates"`
	Centers   []string          `yaml:"centers"`
	Metrics   []string          `yaml:"metrics"`
	Outages   []Outage          `yaml:"outages"`
}

// Outage is a known, already explained gap in a center's data.
type Outage struct {
	Center  string `yaml:"center"`
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Message string `yaml:"message"`

	from time.Time
	to   time.Time
}

// Overlaps reports whether the outage intersects the inclusive [start, end] day range.
func (o *Outage) Overlaps(start, end time.Time) bool {
	return !o.from.After(end) && !o.to.Before(start)
}

// DefaultLayout returns the built in layout.
func DefaultLayout() *Layout {
	dataTemplate := "{center}/{norm}/{date}/{hour}/{kind}.{center}.{norm}.{date}{hour}.csv"
	return &Layout{
		Templates: map[string]string{
			"raw":      dataTemplate,
			"bulk":     dataTemplate,
			"group":    dataTemplate,
			"artifact": "{hash}/{name}",
			"snapshot": "{hash}/snapshots/{name}",
		},
		Centers: []string{"GMAO", "NRL", "MET", "MeteoFr", "JMA_adj", "JMA_ens", "EMC"},
		Metrics: []string{"TotImp", "ImpPerOb", "FracBenObs", "FracNeuObs", "FracImp", "ObCnt"},
	}
}

// LoadLayout reads a yaml layout file. Sections missing from the file keep their built in values.
func LoadLayout(file string) (*Layout, error) {
	layout := DefaultLayout()
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read layout %s", file)
		}
		var parsed Layout
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, errors.Wrapf(err, "failed to parse layout %s", file)
		}
		for kind, tmpl := range parsed.Templates {
			layout.Templates[kind] = tmpl
		}
		if len(parsed.Centers) > 0 {
			layout.Centers = parsed.Centers
		}
		if len(parsed.Metrics) > 0 {
			layout.Metrics = parsed.Metrics
		}
		layout.Outages = parsed.Outages
	}
	if err := layout.prepare(); err != nil {
		return nil, err
	}
	return layout, nil
}

func (l *Layout) prepare() error {
	for _, kind := range requiredKinds {
		if l.Templates[kind] == "" {
			return errors.Errorf("layout is missing a template for %s", kind)
		}
	}
	for i := range l.Outages {
		o := &l.Outages[i]
		from, err := time.Parse(outageDateLayout, o.From)
		if err != nil {
			return errors.Wrapf(err, "invalid outage start for %s", o.Center)
		}
		to, err := time.Parse(outageDateLayout, o.To)
		if err != nil {
			return errors.Wrapf(err, "invalid outage end for %s", o.Center)
		}
		if to.Before(from) {
			return errors.Errorf("outage for %s ends before it starts", o.Center)
		}
		o.from, o.to = from, to
	}
	return nil
}

// FindOutage returns the first outage for the center that overlaps the day range.
func (l *Layout) FindOutage(center string, start, end time.Time) (*Outage, bool) {
	for i := range l.Outages {
		o := &l.Outages[i]
		if o.Center == center && o.Overlaps(start, end) {
			return o, true
		}
	}
	return nil, false
}
