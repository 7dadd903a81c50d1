package ingestion

import (
	"bytes"
	"testing"

	"github.com/rpattn/csvmodels/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseTableSkipsBlankLinesAndBOM(t *testing.T) {
	payload := append([]byte{0xEF, 0xBB, 0xBF}, []byte("\n,,\nFirst Name,Score %,2024 Total\nAda,1,2\n,,\nGrace,3\n")...)

	table, err := ParseTable(payload)
	require.NoError(t, err)

	assert.Equal(t, []string{"first_name", "score", "col_2024_total"}, table.Headers)
	assert.Equal(t, []string{"First Name", "Score %", "2024 Total"}, table.RawHeaders)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"Grace", "3", ""}, table.Rows[1])
	assert.Equal(t, 3, table.HeaderLine)
	assert.Equal(t, 4, table.RowNumber(0))
	assert.Equal(t, 6, table.RowNumber(1))
}

func TestParseTableLinesFollowMultilineFields(t *testing.T) {
	table, err := ParseTable([]byte("name,notes\nAda,\"first\nsecond\"\n\nGrace,plain\n"))
	require.NoError(t, err)

	require.Len(t, table.Rows, 2)
	assert.Equal(t, "first\nsecond", table.Rows[0][1])
	assert.Equal(t, 2, table.RowNumber(0))
	assert.Equal(t, 5, table.RowNumber(1))
}

func TestSanitizeHeadersKeepsCollisions(t *testing.T) {
	headers := SanitizeHeaders([]string{"Email", "e-mail", "EMAIL", "", "  "})
	assert.Equal(t, []string{"email", "e_mail", "email", "column_4", "column_5"}, headers)
}

func TestParseTableReadsXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"name", "count"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"widget", 4}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"gadget", 9}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	table, err := ParseTable(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "count"}, table.Headers)
	assert.Len(t, table.Rows, 2)
	assert.Equal(t, 3, table.RowNumber(1))

	columns := InferColumns(table)
	assert.Equal(t, domain.ColumnTypeString, columns[0].Type)
	assert.Equal(t, domain.ColumnTypeInteger, columns[1].Type)
}

func TestInferColumnsProfilesTypes(t *testing.T) {
	table, err := ParseTable([]byte("name,age,ratio,active,joined,blank\nAda,30,1.5,yes,2024-01-02,\nBob,41.0,2,no,2024-02-03T10:00:00Z,\n"))
	require.NoError(t, err)

	columns := InferColumns(table)
	types := make([]domain.ColumnType, len(columns))
	for i, column := range columns {
		types[i] = column.Type
		assert.Equal(t, column.Name, column.Source)
	}
	assert.Equal(t, []domain.ColumnType{
		domain.ColumnTypeString,
		domain.ColumnTypeInteger,
		domain.ColumnTypeFloat,
		domain.ColumnTypeBoolean,
		domain.ColumnTypeTimestamp,
		domain.ColumnTypeString,
	}, types)
}

func TestCoerceValueRejectsMismatches(t *testing.T) {
	_, err := coerceValue(domain.ColumnTypeInteger, "3.5")
	assert.Error(t, err)
	_, err = coerceValue(domain.ColumnTypeBoolean, "maybe")
	assert.Error(t, err)
	_, err = coerceValue(domain.ColumnTypeJSON, "{oops")
	assert.Error(t, err)
	_, err = coerceValue(domain.ColumnTypeFloat, "Inf")
	assert.Error(t, err)

	value, err := coerceValue(domain.ColumnTypeInteger, "12.0")
	require.NoError(t, err)
	assert.Equal(t, int64(12), value)
}
