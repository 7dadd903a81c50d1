package ingestion

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/csvmodels/internal/domain"
)

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.000000",
	"2006/01/02",
	"01/02/2006",
	"01/02/2006 15:04:05",
}

// InferColumns profiles every column of the table and returns the column
// specification in header order.
func InferColumns(table Table) []domain.Column {
	columns := make([]domain.Column, 0, len(table.Headers))
	for idx, header := range table.Headers {
		columns = append(columns, domain.Column{
			Name:   header,
			Type:   profileColumn(idx, table.Rows),
			Source: header,
		})
	}
	return columns
}

func profileColumn(col int, rows [][]string) domain.ColumnType {
	isBool := true
	isInt := true
	isFloat := true
	isTimestamp := true
	hasValue := false

	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[col])
		if value == "" {
			continue
		}
		hasValue = true

		if isBool && !looksLikeBool(value) {
			isBool = false
		}
		if isInt && !looksLikeInt(value) {
			isInt = false
		}
		if isFloat && !looksLikeFloat(value) {
			isFloat = false
		}
		if isTimestamp && !looksLikeTimestamp(value) {
			isTimestamp = false
		}
	}

	switch {
	case !hasValue:
		return domain.ColumnTypeString
	case isBool:
		return domain.ColumnTypeBoolean
	case isInt:
		return domain.ColumnTypeInteger
	case isFloat:
		return domain.ColumnTypeFloat
	case isTimestamp:
		return domain.ColumnTypeTimestamp
	default:
		return domain.ColumnTypeString
	}
}

func looksLikeBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "false", "yes", "no", "y", "n", "t", "f":
		return true
	}
	return false
}

func looksLikeInt(value string) bool {
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return true
	}
	// Allow float representations that can be losslessly converted to int.
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return math.Mod(f, 1) == 0 && math.Abs(f) < 1<<53
	}
	return false
}

func looksLikeFloat(value string) bool {
	f, err := strconv.ParseFloat(value, 64)
	return err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
}

func looksLikeTimestamp(value string) bool {
	_, err := parseTimestamp(value)
	return err == nil
}

// coerceValue converts a raw cell into the Go value stored for the column
// type. Blank cells are handled by the caller.
func coerceValue(columnType domain.ColumnType, raw string) (any, error) {
	switch columnType {
	case domain.ColumnTypeString:
		return raw, nil
	case domain.ColumnTypeInteger:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && math.Mod(f, 1) == 0 && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return nil, fmt.Errorf("unable to coerce %q to integer", raw)
	case domain.ColumnTypeFloat:
		if looksLikeFloat(raw) {
			f, _ := strconv.ParseFloat(raw, 64)
			return f, nil
		}
		return nil, fmt.Errorf("unable to coerce %q to float", raw)
	case domain.ColumnTypeBoolean:
		switch strings.ToLower(raw) {
		case "true", "yes", "y", "t", "1":
			return true, nil
		case "false", "no", "n", "f", "0":
			return false, nil
		}
		return nil, fmt.Errorf("unable to coerce %q to boolean", raw)
	case domain.ColumnTypeTimestamp:
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to timestamp: %w", raw, err)
		}
		return ts, nil
	case domain.ColumnTypeJSON:
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("invalid json payload %q", raw)
		}
		return json.RawMessage(raw), nil
	default:
		return nil, fmt.Errorf("unsupported column type %q", columnType)
	}
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
