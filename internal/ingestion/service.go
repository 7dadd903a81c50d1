package ingestion

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/csvmodels/internal/domain"
	"github.com/rpattn/csvmodels/internal/repository"

	"go.uber.org/zap"
)

// ImportError is a row level failure surfaced to the operator. It lives only
// for the request that produced it. Row is 0 when the failure concerns the
// source as a whole.
type ImportError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

func (e ImportError) Error() string {
	if e.Row == 0 {
		if e.Column == "" {
			return e.Message
		}
		return fmt.Sprintf("column %s: %s", e.Column, e.Message)
	}
	if e.Column == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return fmt.Sprintf("row %d, column %s: %s", e.Row, e.Column, e.Message)
}

// Summary returns import level metrics.
type Summary struct {
	TotalRows int           `json:"totalRows"`
	Imported  int64         `json:"imported"`
	Errors    []ImportError `json:"errors"`
}

// Importer writes parsed source rows into a dynamic model's backing table.
type Importer struct {
	records repository.RecordRepository
	logger  *zap.Logger
}

// NewImporter creates a new record importer.
func NewImporter(records repository.RecordRepository, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{records: records, logger: logger}
}

// Import parses payload, coerces every row to the model's column types and
// replaces the backing table contents with the rows that coerced cleanly. A
// row that fails contributes exactly one ImportError. The returned error is
// reserved for failures that prevent the import from running at all.
func (i *Importer) Import(ctx context.Context, payload []byte, model domain.DynamicModel) (Summary, error) {
	summary := Summary{Errors: []ImportError{}}

	table, err := ParseTable(payload)
	if err != nil {
		return summary, fmt.Errorf("parse source for %s: %w: %w", model.Name, ErrUnreadableSource, err)
	}
	summary.TotalRows = len(table.Rows)

	headerIndex := make(map[string]int, len(table.Headers))
	for idx, header := range table.Headers {
		if _, exists := headerIndex[header]; !exists {
			headerIndex[header] = idx
		}
	}

	sourceIndex := make([]int, len(model.Columns))
	for colIdx, column := range model.Columns {
		idx, ok := headerIndex[sourceName(column)]
		if !ok {
			summary.Errors = append(summary.Errors, ImportError{
				Row:     table.HeaderLine,
				Column:  column.Name,
				Message: fmt.Sprintf("source has no column %q", sourceName(column)),
			})
			continue
		}
		sourceIndex[colIdx] = idx
	}
	if len(summary.Errors) > 0 {
		return summary, nil
	}

	rows := make([][]any, 0, len(table.Rows))
	for rowIdx, raw := range table.Rows {
		values, rowErr := coerceRow(model.Columns, sourceIndex, raw)
		if rowErr != nil {
			rowErr.Row = table.RowNumber(rowIdx)
			summary.Errors = append(summary.Errors, *rowErr)
			continue
		}
		rows = append(rows, values)
	}

	imported, err := i.records.ReplaceRecords(ctx, model, rows)
	if err != nil {
		return summary, fmt.Errorf("write records for %s: %w", model.Name, err)
	}
	summary.Imported = imported

	i.logger.Info("import finished",
		zap.String("model", model.Name),
		zap.Int("rows", summary.TotalRows),
		zap.Int64("imported", summary.Imported),
		zap.Int("errors", len(summary.Errors)),
	)
	if len(summary.Errors) > 0 {
		i.logger.Warn("import errors", zap.String("model", model.Name), zap.Any("errors", summary.Errors))
	}

	return summary, nil
}

func coerceRow(columns []domain.Column, sourceIndex []int, raw []string) ([]any, *ImportError) {
	values := make([]any, len(columns))
	for colIdx, column := range columns {
		idx := sourceIndex[colIdx]
		if idx >= len(raw) {
			continue
		}
		cell := strings.TrimSpace(raw[idx])
		if cell == "" {
			continue
		}
		value, err := coerceValue(column.Type, cell)
		if err != nil {
			return nil, &ImportError{Column: column.Name, Message: err.Error()}
		}
		values[colIdx] = value
	}
	return values, nil
}

func sourceName(column domain.Column) string {
	if column.Source != "" {
		return column.Source
	}
	return column.Name
}
