package fetch

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const screendoorPageSize = 100

// ScreendoorImporter turns a Screendoor project's responses into CSV.
type ScreendoorImporter struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger
}

func NewScreendoorImporter(client *http.Client, baseURL string, logger *zap.Logger) *ScreendoorImporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScreendoorImporter{client: client, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

type screendoorField struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

type screendoorResponse struct {
	ID           int64                      `json:"id"`
	SequentialID int64                      `json:"sequential_id"`
	SubmittedAt  string                     `json:"submitted_at"`
	Responses    map[string]json.RawMessage `json:"responses"`
}

// BuildCSV renders all responses of projectID (optionally restricted to one
// form) as CSV with one column per response field.
func (s *ScreendoorImporter) BuildCSV(ctx context.Context, apiKey string, projectID int64, formID *int64) ([]byte, error) {
	fields, err := s.fields(ctx, apiKey, projectID, formID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	header := []string{"response_id", "sequential_id", "submitted_at"}
	for _, field := range fields {
		header = append(header, field.Label)
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("write screendoor header: %w", err)
	}

	total := 0
	for page := 1; ; page++ {
		responses, err := s.responses(ctx, apiKey, projectID, formID, page)
		if err != nil {
			return nil, err
		}
		for _, response := range responses {
			record := []string{
				strconv.FormatInt(response.ID, 10),
				strconv.FormatInt(response.SequentialID, 10),
				response.SubmittedAt,
			}
			for _, field := range fields {
				record = append(record, flattenValue(response.Responses[strconv.FormatInt(field.ID, 10)]))
			}
			if err := writer.Write(record); err != nil {
				return nil, fmt.Errorf("write screendoor row: %w", err)
			}
		}
		total += len(responses)
		if len(responses) < screendoorPageSize {
			break
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush screendoor csv: %w", err)
	}
	s.logger.Info("built screendoor csv",
		zap.Int64("project_id", projectID),
		zap.Int("fields", len(fields)),
		zap.Int("responses", total),
	)
	return buf.Bytes(), nil
}

func (s *ScreendoorImporter) fields(ctx context.Context, apiKey string, projectID int64, formID *int64) ([]screendoorField, error) {
	body, err := get(ctx, s.client, s.endpoint(projectID, "response_fields", apiKey, formID, 0), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch screendoor fields: %w", err)
	}
	var fields []screendoorField
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode screendoor fields: %w: %v", ErrUnsupportedFormat, err)
	}
	return fields, nil
}

func (s *ScreendoorImporter) responses(ctx context.Context, apiKey string, projectID int64, formID *int64, page int) ([]screendoorResponse, error) {
	body, err := get(ctx, s.client, s.endpoint(projectID, "responses", apiKey, formID, page), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch screendoor responses page %d: %w", page, err)
	}
	var responses []screendoorResponse
	if err := json.Unmarshal(body, &responses); err != nil {
		return nil, fmt.Errorf("decode screendoor responses: %w: %v", ErrUnsupportedFormat, err)
	}
	return responses, nil
}

func (s *ScreendoorImporter) endpoint(projectID int64, resource, apiKey string, formID *int64, page int) string {
	query := url.Values{}
	query.Set("v", "0")
	query.Set("api_key", apiKey)
	if formID != nil {
		query.Set("form_id", strconv.FormatInt(*formID, 10))
	}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(screendoorPageSize))
	}
	return fmt.Sprintf("%s/projects/%d/%s?%s", s.baseURL, projectID, resource, query.Encode())
}

// flattenValue renders a response value as a single CSV cell. Scalars are
// written as-is, checkbox style maps as their checked keys, anything else as
// compact JSON.
func flattenValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}

	var checked map[string]bool
	if err := json.Unmarshal(raw, &checked); err == nil && len(checked) > 0 {
		keys := make([]string, 0, len(checked))
		for key, on := range checked {
			if on {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		return strings.Join(keys, ", ")
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}
