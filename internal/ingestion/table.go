package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrEmptyPayload is returned when a fetched source has no content.
	ErrEmptyPayload = errors.New("source returned no data")
	// ErrUnreadableSource marks payloads that cannot be parsed as a table.
	ErrUnreadableSource = errors.New("source is not a readable table")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
	zipMagic      = []byte{'P', 'K', 0x03, 0x04}
)

// Table is a parsed tabular payload with sanitized headers. HeaderLine and
// Lines hold 1-based source line numbers of the header and of each data row.
type Table struct {
	Headers    []string
	RawHeaders []string
	Rows       [][]string
	HeaderLine int
	Lines      []int
}

// RowNumber returns the source line the idx-th data row starts on.
func (t Table) RowNumber(idx int) int {
	if idx >= 0 && idx < len(t.Lines) {
		return t.Lines[idx]
	}
	return t.HeaderLine + idx + 1
}

// ParseTable parses a CSV or XLSX payload. XLSX is recognised by its zip
// signature; everything else is read as CSV.
func ParseTable(payload []byte) (Table, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return Table{}, ErrEmptyPayload
	}
	if bytes.HasPrefix(payload, zipMagic) {
		return parseExcel(payload)
	}
	return parseCSV(payload)
}

func parseCSV(payload []byte) (Table, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	// encoding/csv skips empty lines and lets quoted fields span lines, so
	// record positions come from the reader rather than the record index.
	var records [][]string
	var lines []int
	for {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("failed to read csv: %w", err)
		}
		line, _ := csvReader.FieldPos(0)
		records = append(records, record)
		lines = append(lines, line)
	}
	return normalizeTable(records, lines)
}

func parseExcel(payload []byte) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return Table{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	// GetRows keeps empty rows in place, so row i sits on sheet row i+1.
	lines := make([]int, len(rows))
	for i := range rows {
		lines[i] = i + 1
	}
	return normalizeTable(rows, lines)
}

// normalizeTable takes the first non-empty record as the header row and pads
// or truncates every data row to the header width. lines[i] is the source line
// of records[i].
func normalizeTable(records [][]string, lines []int) (Table, error) {
	if len(records) == 0 {
		return Table{}, errors.New("no rows found in source")
	}

	var headerRow []string
	var dataRows [][]string
	var dataLines []int
	headerLine := 0

	for idx, row := range records {
		if isBlankRow(row) {
			continue
		}
		if headerRow == nil {
			headerRow = row
			headerLine = lines[idx]
			continue
		}
		dataRows = append(dataRows, padRow(row, len(headerRow)))
		dataLines = append(dataLines, lines[idx])
	}

	if headerRow == nil {
		return Table{}, errors.New("header row could not be detected")
	}

	rawHeaders := make([]string, len(headerRow))
	for i, value := range headerRow {
		rawHeaders[i] = strings.TrimSpace(value)
	}

	return Table{
		Headers:    SanitizeHeaders(headerRow),
		RawHeaders: rawHeaders,
		Rows:       dataRows,
		HeaderLine: headerLine,
		Lines:      dataLines,
	}, nil
}

var identifierUnsafe = regexp.MustCompile(`[^a-z0-9_]+`)

// SanitizeHeaders turns source headers into SQL-safe column names. Collisions
// are left in place so that schema validation can report them.
func SanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	for idx, value := range raw {
		name := strings.ToLower(strings.TrimSpace(value))
		name = identifierUnsafe.ReplaceAllString(name, "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		} else if name[0] >= '0' && name[0] <= '9' {
			name = "col_" + name
		}
		if len(name) > 63 {
			name = strings.TrimRight(name[:63], "_")
		}
		headers[idx] = name
	}
	return headers
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
