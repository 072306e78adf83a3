package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

const cellSeparator = " | "

type extractFunc func(path string) (string, error)

var extractors = map[string]extractFunc{
	".md":       extractPlainText,
	".markdown": extractPlainText,
	".txt":      extractPlainText,
	".csv":      extractCSV,
	".xlsx":     extractWorkbook,
	".pdf":      extractPDF,
}

// SupportedExtensions lists the file suffixes the reader indexes.
func SupportedExtensions() []string {
	out := make([]string, 0, len(extractors))
	for ext := range extractors {
		out = append(out, ext)
	}
	return out
}

func extractorFor(path string) (extractFunc, bool) {
	fn, ok := extractors[strings.ToLower(filepath.Ext(path))]
	return fn, ok
}

func extractPlainText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text document: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", errors.New("unsupported binary content")
	}
	return strings.TrimSpace(string(raw)), nil
}

func extractCSV(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	lines := make([]string, 0, 64)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse csv: %w", err)
		}
		if line := joinCells(record); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func extractWorkbook(path string) (text string, err error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		if line := joinCells(row); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func extractPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func joinCells(cells []string) string {
	out := make([]string, 0, len(cells))
	for _, cell := range cells {
		cell = strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff"))
		if cell != "" {
			out = append(out, cell)
		}
	}
	return strings.Join(out, cellSeparator)
}
