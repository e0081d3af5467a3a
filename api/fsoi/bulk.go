// Package fsoi holds the observation impact collaborators of the report pipeline: center decoders,
// bulk statistics, derived metrics, chart rendering and aggregate snapshots.
package fsoi

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// ErrMalformed is returned when an input file cannot be decoded.
var ErrMalformed = errors.New("malformed input")

// Observation is the impact of one assimilated observation on the forecast error norm. Negative
// impact reduces the error.
type Observation struct {
	Platform string
	Impact   float64
}

// BulkRow accumulates the observations of one platform.
type BulkRow struct {
	Platform   string
	TotImp     float64
	ObCnt      int64
	ObsBen     int64
	ObsNeutral int64
}

// BulkTable is a set of per platform accumulations kept sorted by platform.
type BulkTable struct {
	Rows []BulkRow
}

var bulkHeader = []string{"platform", "tot_imp", "ob_cnt", "obs_ben", "obs_neu"}

// Accumulate folds observations into a bulk table.
func Accumulate(obs []Observation) *BulkTable {
	t := &BulkTable{}
	byPlatform := map[string]*BulkRow{}
	for _, o := range obs {
		row, ok := byPlatform[o.Platform]
		if !ok {
			row = &BulkRow{Platform: o.Platform}
			byPlatform[o.Platform] = row
		}
		row.TotImp += o.Impact
		row.ObCnt++
		switch {
		case o.Impact < 0:
			row.ObsBen++
		case o.Impact == 0:
			row.ObsNeutral++
		}
	}
	for _, row := range byPlatform {
		t.Rows = append(t.Rows, *row)
	}
	t.sort()
	return t
}

// Merge adds the rows of other into t.
func (t *BulkTable) Merge(other *BulkTable) {
	index := make(map[string]int, len(t.Rows))
	for i, row := range t.Rows {
		index[row.Platform] = i
	}
	for _, row := range other.Rows {
		if i, ok := index[row.Platform]; ok {
			t.Rows[i].TotImp += row.TotImp
			t.Rows[i].ObCnt += row.ObCnt
			t.Rows[i].ObsBen += row.ObsBen
			t.Rows[i].ObsNeutral += row.ObsNeutral
			continue
		}
		index[row.Platform] = len(t.Rows)
		t.Rows = append(t.Rows, row)
	}
	t.sort()
}

func (t *BulkTable) sort() {
	sort.Slice(t.Rows, func(i, j int) bool { return t.Rows[i].Platform < t.Rows[j].Platform })
}

// WriteCSV encodes the table in the bulk file format.
func (t *BulkTable) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(bulkHeader); err != nil {
		return err
	}
	for _, row := range t.Rows {
		err := cw.Write([]string{
			row.Platform,
			strconv.FormatFloat(row.TotImp, 'g', -1, 64),
			strconv.FormatInt(row.ObCnt, 10),
			strconv.FormatInt(row.ObsBen, 10),
			strconv.FormatInt(row.ObsNeutral, 10),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the table to path.
func (t *BulkTable) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return f.Close()
}

// ReadBulkCSV decodes a bulk file.
func ReadBulkCSV(r io.Reader) (*BulkTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(bulkHeader)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if len(records) == 0 || records[0][0] != bulkHeader[0] {
		return nil, errors.Wrap(ErrMalformed, "missing bulk header")
	}
	t := &BulkTable{}
	for line, rec := range records[1:] {
		row := BulkRow{Platform: rec[0]}
		var perr error
		if row.TotImp, perr = strconv.ParseFloat(rec[1], 64); perr == nil {
			if row.ObCnt, perr = strconv.ParseInt(rec[2], 10, 64); perr == nil {
				if row.ObsBen, perr = strconv.ParseInt(rec[3], 10, 64); perr == nil {
					row.ObsNeutral, perr = strconv.ParseInt(rec[4], 10, 64)
				}
			}
		}
		if perr != nil || row.Platform == "" {
			return nil, errors.Wrapf(ErrMalformed, "bulk line %d", line+2)
		}
		t.Rows = append(t.Rows, row)
	}
	t.sort()
	return t, nil
}
