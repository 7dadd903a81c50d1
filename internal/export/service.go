// Package export streams a dynamic model's backing table as CSV.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/csvmodels/internal/domain"
	"github.com/rpattn/csvmodels/internal/repository"
)

const defaultBatchSize = 1000

type Service struct {
	records   repository.RecordRepository
	batchSize int
	logger    *zap.Logger
}

func NewService(records repository.RecordRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{records: records, batchSize: defaultBatchSize, logger: logger}
}

// WriteCSV writes the header and every row of model's table to w, paging
// through the table in batches. It returns the number of rows written.
func (s *Service) WriteCSV(ctx context.Context, model domain.DynamicModel, w io.Writer) (int64, error) {
	csvWriter := csv.NewWriter(w)

	header := make([]string, 0, len(model.Columns)+1)
	header = append(header, "id")
	for _, column := range model.Columns {
		header = append(header, column.Name)
	}
	if err := csvWriter.Write(header); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	var written int64
	for offset := 0; ; offset += s.batchSize {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		batch, err := s.records.List(ctx, model, s.batchSize, offset)
		if err != nil {
			return written, fmt.Errorf("list rows at offset %d: %w", offset, err)
		}
		for _, record := range batch {
			row := make([]string, 0, len(record.Values)+1)
			row = append(row, strconv.FormatInt(record.ID, 10))
			for _, value := range record.Values {
				row = append(row, formatValue(value))
			}
			if err := csvWriter.Write(row); err != nil {
				return written, fmt.Errorf("write csv row: %w", err)
			}
			written++
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			return written, fmt.Errorf("flush csv: %w", err)
		}
		if len(batch) < s.batchSize {
			break
		}
	}

	s.logger.Info("exported model", zap.String("model", model.Name), zap.Int64("rows", written))
	return written, nil
}

// formatValue renders a table value the way the importer reads it back.
func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	default:
		return fmt.Sprint(v)
	}
}
