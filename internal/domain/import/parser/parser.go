// Package parser decodes uploaded statement files (delimited text or XLSX)
// into raw rows using the detected bank format.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/finly-app/finly/internal/domain/import/bankformat"
)

var (
	ErrEmptyFile  = errors.New("file has no data rows")
	ErrUnreadable = errors.New("file could not be decoded")
)

// Result is a decoded statement: the detected format and its mapped rows,
// in file order.
type Result struct {
	FormatID string
	Rows     []bankformat.RawRow
}

// Parse decodes the uploaded bytes, detects the bank format from the header
// row, and maps every record. Per-row data problems degrade to nil fields on
// the mapped row; only whole-file problems (no rows, undecodable bytes)
// return an error.
func Parse(data []byte, filename string) (*Result, error) {
	var (
		headers []string
		records [][]string
		err     error
	)

	if isSpreadsheet(filename) {
		headers, records, err = decodeXLSX(data)
	} else {
		headers, records, err = decodeDelimited(data)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	normalized := bankformat.NormalizeHeaders(headers)
	format := bankformat.Detect(headers)

	rows := make([]bankformat.RawRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, format.Map(recordMap(normalized, record)))
	}

	return &Result{FormatID: format.ID, Rows: rows}, nil
}

func isSpreadsheet(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm", ".xls":
		return true
	}
	return false
}

// decodeDelimited sniffs the delimiter from the header row and reads the
// remaining records. Statements sometimes carry metadata lines above the
// header; the first line containing the delimiter at least three times wins.
func decodeDelimited(data []byte) ([]string, [][]string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, ErrEmptyFile
	}

	lines := strings.Split(string(data), "\n")
	delimiter, skip := findHeaderLine(lines)
	if delimiter == 0 {
		return nil, nil, fmt.Errorf("%w: no delimited header row found", ErrUnreadable)
	}

	reader := csv.NewReader(strings.NewReader(strings.Join(lines[skip:], "\n")))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A malformed line is a degraded row, not a failed file.
			continue
		}
		if emptyRecord(record) {
			continue
		}
		records = append(records, record)
	}

	return headers, records, nil
}

func decodeXLSX(data []byte) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, ErrEmptyFile
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if len(rows) == 0 {
		return nil, nil, ErrEmptyFile
	}

	headerIdx := findSpreadsheetHeader(rows)
	headers := rows[headerIdx]

	var records [][]string
	for _, record := range rows[headerIdx+1:] {
		if emptyRecord(record) {
			continue
		}
		records = append(records, record)
	}

	return headers, records, nil
}

const maxHeaderSearchLines = 20

func findHeaderLine(lines []string) (rune, int) {
	delimiters := []rune{',', ';', '\t', '|'}

	for i, line := range lines {
		if i > maxHeaderSearchLines {
			break
		}
		for _, d := range delimiters {
			if strings.Count(line, string(d)) >= 3 {
				return d, i
			}
		}
	}
	return 0, 0
}

// findSpreadsheetHeader picks the first row with at least three non-empty
// cells; rows above it are statement metadata.
func findSpreadsheetHeader(rows [][]string) int {
	for i, row := range rows {
		if i > maxHeaderSearchLines {
			break
		}
		filled := 0
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				filled++
			}
		}
		if filled >= 3 {
			return i
		}
	}
	return 0
}

func emptyRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func recordMap(headers []string, record []string) map[string]string {
	m := make(map[string]string, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		if i < len(record) {
			m[h] = record[i]
		} else {
			m[h] = ""
		}
	}
	return m
}
