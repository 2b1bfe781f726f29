package core

import (
	"io"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

const defaultExcelSheet = "Sheet1"

// ReadExcel parses the worksheet name of an xlsx workbook, or its first worksheet when
// the workbook has none by that name.
func ReadExcel(r io.Reader, name string, required ...string) (*Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, NewValidationError(errors.Wrap(err, "invalid Excel file"))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, NewValidationError(errors.New("empty file"))
	}
	sheetName := sheets[0]
	if idx, err := f.GetSheetIndex(name); err == nil && idx >= 0 {
		sheetName = name
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, NewValidationError(errors.Wrap(err, "invalid Excel file"))
	}
	if len(rows) == 0 {
		return nil, NewValidationError(errors.New("empty file"))
	}

	sheet, err := newSheet(rows[0], required)
	if err != nil {
		return nil, err
	}
	sheet.Rows = rows[1:]
	return sheet, nil
}

// ExcelWriter builds a single worksheet workbook, written out by Flush.
type ExcelWriter struct {
	f     *excelize.File
	w     io.Writer
	sheet string
	row   int
	err   error
}

func NewExcelWriter(w io.Writer, name string, header ...string) *ExcelWriter {
	ew := &ExcelWriter{f: excelize.NewFile(), w: w, sheet: defaultExcelSheet}
	if name != "" && name != defaultExcelSheet {
		if err := ew.f.SetSheetName(defaultExcelSheet, name); err != nil {
			ew.err = errors.Wrapf(err, "naming sheet %q", name)
		}
		ew.sheet = name
	}
	ew.Write(header...)
	return ew
}

func (ew *ExcelWriter) Write(record ...string) {
	if ew.err != nil {
		return
	}
	ew.row++
	cell, err := excelize.CoordinatesToCellName(1, ew.row)
	if err != nil {
		ew.err = err
		return
	}
	values := make([]interface{}, len(record))
	for i, v := range record {
		values[i] = v
	}
	ew.err = ew.f.SetSheetRow(ew.sheet, cell, &values)
}

// Flush writes the workbook and returns the first error encountered.
func (ew *ExcelWriter) Flush() error {
	defer ew.f.Close()
	if ew.err != nil {
		return ew.err
	}
	_, err := ew.f.WriteTo(ew.w)
	return errors.Wrap(err, "writing workbook")
}
