package sources

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// Table is a header row plus data rows as read from a spreadsheet or CSV export
type Table struct {
	Headers []string
	Rows    [][]string
}

// Cell returns the value at row/col, or "" when the row is short.
func (t *Table) Cell(row, col int) string {
	if col < 0 || row < 0 || row >= len(t.Rows) {
		return ""
	}
	r := t.Rows[row]
	if col >= len(r) {
		return ""
	}
	return r[col]
}

// ReadTable opens a .xlsx or .csv file. Spreadsheets are read from their first sheet.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(f)
	case ".csv", ".txt":
		return ReadCSV(f)
	default:
		return nil, fmt.Errorf("unsupported input format %q (expected .xlsx or .csv)", filepath.Ext(path))
	}
}

// ReadCSV parses a comma separated table with a header row.
func ReadCSV(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	return fromRows(records), nil
}

// ReadXLSX parses the first sheet of a workbook.
func ReadXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logrus.Debugf("Failed to close workbook: %v", err)
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return fromRows(rows), nil
}

func fromRows(rows [][]string) *Table {
	t := &Table{}
	if len(rows) == 0 {
		return t
	}
	t.Headers = rows[0]
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
