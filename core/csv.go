package core

import (
	"encoding/csv"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// SheetFormat is the file format of an imported or exported sheet.
type SheetFormat string

const (
	SheetCSV   SheetFormat = "csv"
	SheetExcel SheetFormat = "xlsx"
)

// SheetFormatOf returns the format matching the extension of filename, CSV by default.
func SheetFormatOf(filename string) SheetFormat {
	switch strings.ToLower(path.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return SheetExcel
	}
	return SheetCSV
}

// ContentType is the MIME type of the format.
func (f SheetFormat) ContentType() string {
	if f == SheetExcel {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Sheet is a parsed table whose first line names the columns.
type Sheet struct {
	columns map[string]int
	Rows    [][]string
}

// ReadSheet parses r in the given format, requiring the named columns in its header line.
// name is the worksheet read from Excel files; the first one is used when it is missing.
func ReadSheet(r io.Reader, format SheetFormat, name string, required ...string) (*Sheet, error) {
	if format == SheetExcel {
		return ReadExcel(r, name, required...)
	}
	return ReadCSV(r, required...)
}

// ReadCSV parses r, requiring the named columns in its header line.
func ReadCSV(r io.Reader, required ...string) (*Sheet, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, NewValidationError(errors.New("empty file"))
	} else if err != nil {
		return nil, NewValidationError(errors.Wrap(err, "invalid CSV file"))
	}

	sheet, err := newSheet(header, required)
	if err != nil {
		return nil, err
	}
	sheet.Rows, err = reader.ReadAll()
	if err != nil {
		return nil, NewValidationError(errors.Wrap(err, "invalid CSV file"))
	}
	return sheet, nil
}

func newSheet(header []string, required []string) (*Sheet, error) {
	sheet := &Sheet{columns: make(map[string]int, len(header))}
	for i, col := range header {
		col = strings.ToLower(CleanString(strings.TrimPrefix(col, "\ufeff")))
		sheet.columns[col] = i
	}
	var missing []string
	for _, col := range required {
		if _, ok := sheet.columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, NewValidationError(errors.Errorf("missing columns: %s", strings.Join(missing, ", ")))
	}
	return sheet, nil
}

// Get returns the trimmed value of column col in row, or "" when absent.
func (s *Sheet) Get(row []string, col string) string {
	i, ok := s.columns[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// GetPtr is Get returning nil for empty values.
func (s *Sheet) GetPtr(row []string, col string) *string {
	v := s.Get(row, col)
	if v == "" {
		return nil
	}
	return &v
}

// RowNumber maps a data row index to its line number in the file (header is line 1).
func (s *Sheet) RowNumber(i int) int {
	return i + 2
}

// SheetWriter writes the records of an exported sheet. Flush reports the first error.
type SheetWriter interface {
	Write(record ...string)
	Flush() error
}

// NewSheetWriter returns a writer of the given format whose first record is header.
// name is the worksheet of Excel files.
func NewSheetWriter(format SheetFormat, w io.Writer, name string, header ...string) SheetWriter {
	if format == SheetExcel {
		return NewExcelWriter(w, name, header...)
	}
	return NewCSVWriter(w, header...)
}

// CSVWriter writes records, remembering the first error.
type CSVWriter struct {
	w   *csv.Writer
	err error
}

func NewCSVWriter(w io.Writer, header ...string) *CSVWriter {
	cw := &CSVWriter{w: csv.NewWriter(w)}
	cw.Write(header...)
	return cw
}

func (cw *CSVWriter) Write(record ...string) {
	if cw.err != nil {
		return
	}
	cw.err = cw.w.Write(record)
}

// Flush flushes buffered records and returns the first error encountered.
func (cw *CSVWriter) Flush() error {
	cw.w.Flush()
	if cw.err != nil {
		return cw.err
	}
	return cw.w.Error()
}

// StrOrEmpty dereferences s, mapping nil to "".
func StrOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
