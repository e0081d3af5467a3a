package report

import (
	"fmt"
	"time"

	"github.com/fsoi/report-queue/api/store"
)

// Kinds of center data held in the source store.
const (
	KindRaw   = "raw"
	KindBulk  = "bulk"
	KindGroup = "group"
)

// DataDescriptor addresses one unit of center data.
type DataDescriptor struct {
	Center string
	Norm   Norm
	Date   time.Time
	Cycle  int
	Kind   string
}

// Descriptor converts to the backend agnostic store address.
func (d DataDescriptor) Descriptor() store.Descriptor {
	return store.Descriptor{
		Kind: d.Kind,
		Fields: map[string]string{
			"center": d.Center,
			"norm":   string(d.Norm),
			"date":   d.Date.Format(DateLayout),
			"hour":   fmt.Sprintf("%02d", d.Cycle),
			"kind":   d.Kind,
		},
	}
}

// FileName is a stable local file name for the unit.
func (d DataDescriptor) FileName() string {
	return fmt.Sprintf("%s.%s.%s.%s%02d.csv", d.Kind, d.Center, d.Norm, d.Date.Format(DateLayout), d.Cycle)
}

func (d DataDescriptor) String() string {
	return fmt.Sprintf("%s/%s/%s/%02d/%s", d.Center, d.Norm, d.Date.Format(DateLayout), d.Cycle, d.Kind)
}

// Expand lists the descriptors a request needs: every day in range, for every center, cycle and
// concrete norm.
func Expand(r *Request, kind string) []DataDescriptor {
	norms := r.Norm.Expand()
	dates := r.Dates()
	out := make([]DataDescriptor, 0, len(dates)*len(r.Centers)*len(r.Cycles)*len(norms))
	for _, date := range dates {
		for _, center := range r.Centers {
			for _, cycle := range r.Cycles {
				for _, norm := range norms {
					out = append(out, DataDescriptor{
						Center: center,
						Norm:   norm,
						Date:   date,
						Cycle:  cycle,
						Kind:   kind,
					})
				}
			}
		}
	}
	return out
}
