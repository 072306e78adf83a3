package sqlsandbox

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"
)

// rowSource streams records from a tabular file; Next returns io.EOF when done.
type rowSource interface {
	Next() ([]string, error)
	Sheet() string
	Close() error
}

func openRows(path, format string) (rowSource, error) {
	switch format {
	case formatCSV:
		return openCSV(path)
	case formatXLSX:
		return openXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported tabular format %q", format)
	}
}

type csvRows struct {
	file   *os.File
	reader *csv.Reader
}

func openCSV(path string) (*csvRows, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return &csvRows{file: f, reader: reader}, nil
}

func (r *csvRows) Next() ([]string, error) {
	record, err := r.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read csv record: %w", err)
	}
	return record, nil
}

func (r *csvRows) Sheet() string { return "" }

func (r *csvRows) Close() error { return r.file.Close() }

// xlsxRows reads the first worksheet of a workbook.
type xlsxRows struct {
	file  *excelize.File
	rows  *excelize.Rows
	sheet string
}

func openXLSX(path string) (*xlsxRows, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open sheet %s: %w", sheets[0], err)
	}
	return &xlsxRows{file: f, rows: rows, sheet: sheets[0]}, nil
}

func (r *xlsxRows) Next() ([]string, error) {
	if !r.rows.Next() {
		if err := r.rows.Error(); err != nil {
			return nil, fmt.Errorf("read xlsx row: %w", err)
		}
		return nil, io.EOF
	}
	cols, err := r.rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read xlsx cells: %w", err)
	}
	return cols, nil
}

func (r *xlsxRows) Sheet() string { return r.sheet }

func (r *xlsxRows) Close() error {
	rowsErr := r.rows.Close()
	fileErr := r.file.Close()
	return errors.Join(rowsErr, fileErr)
}
