package fsoi

import (
	"github.com/pkg/errors"
	"github.com/tealeg/xlsx/v3"
)

// SnapshotSheet is the sheet name of an aggregate snapshot workbook.
const SnapshotSheet = "bulk"

// WriteSnapshot saves the aggregated bulk table of a center as an xlsx workbook.
func WriteSnapshot(table *BulkTable, path string) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(SnapshotSheet)
	if err != nil {
		return errors.Wrap(err, "failed to add snapshot sheet")
	}
	header := sheet.AddRow()
	for _, name := range bulkHeader {
		header.AddCell().SetString(name)
	}
	for _, r := range table.Rows {
		row := sheet.AddRow()
		row.AddCell().SetString(r.Platform)
		row.AddCell().SetFloat(r.TotImp)
		row.AddCell().SetInt64(r.ObCnt)
		row.AddCell().SetInt64(r.ObsBen)
		row.AddCell().SetInt64(r.ObsNeutral)
	}
	if err := file.Save(path); err != nil {
		return errors.Wrapf(err, "failed to save snapshot %s", path)
	}
	return nil
}
