package domain

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by repositories when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write collides with a unique constraint.
	ErrConflict = errors.New("already exists")
	// ErrTableNameTaken accompanies ErrConflict when the collision is on the
	// backing table name rather than the descriptor name.
	ErrTableNameTaken = errors.New("table name already in use")
	// ErrInvalidSource marks a persisted descriptor whose source columns do not
	// form exactly one recognised data source.
	ErrInvalidSource = errors.New("invalid data source")
)

// ColumnType represents the storage type of a dynamic column
type ColumnType string

const (
	ColumnTypeString    ColumnType = "string"
	ColumnTypeInteger   ColumnType = "integer"
	ColumnTypeFloat     ColumnType = "float"
	ColumnTypeBoolean   ColumnType = "boolean"
	ColumnTypeTimestamp ColumnType = "timestamp"
	ColumnTypeJSON      ColumnType = "json"
)

// ColumnTypes lists every supported column type in display order.
var ColumnTypes = []ColumnType{
	ColumnTypeString,
	ColumnTypeInteger,
	ColumnTypeFloat,
	ColumnTypeBoolean,
	ColumnTypeTimestamp,
	ColumnTypeJSON,
}

// Valid reports whether t is one of the supported column types.
func (t ColumnType) Valid() bool {
	for _, known := range ColumnTypes {
		if t == known {
			return true
		}
	}
	return false
}

// SQLType returns the Postgres type backing the column type.
func (t ColumnType) SQLType() string {
	switch t {
	case ColumnTypeInteger:
		return "bigint"
	case ColumnTypeFloat:
		return "double precision"
	case ColumnTypeBoolean:
		return "boolean"
	case ColumnTypeTimestamp:
		return "timestamptz"
	case ColumnTypeJSON:
		return "jsonb"
	default:
		return "text"
	}
}

// Column is one entry of a dynamic model's ordered column specification.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
	// Source is the sanitized header the column was inferred from. It lets the
	// importer find the source column after the operator renames it.
	Source string `json:"source,omitempty"`
}

// DynamicModel is the persisted schema descriptor of an imported data set.
type DynamicModel struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Columns   []Column  `json:"columns"`
	Source    Source    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDynamicModel creates a new descriptor with immutable pattern
func NewDynamicModel(name string, columns []Column, source Source) DynamicModel {
	now := time.Now()
	return DynamicModel{
		ID:        uuid.New(),
		Name:      name,
		Columns:   copyColumns(columns),
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WithColumns returns a new descriptor carrying the given column specification
func (m DynamicModel) WithColumns(columns []Column) DynamicModel {
	return DynamicModel{
		ID:        m.ID,
		Name:      m.Name,
		Columns:   copyColumns(columns),
		Source:    m.Source,
		CreatedAt: m.CreatedAt,
		UpdatedAt: time.Now(),
	}
}

var tableSlugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// TableName returns the name of the backing data table.
func (m DynamicModel) TableName() string {
	slug := strings.ToLower(strings.TrimSpace(m.Name))
	slug = tableSlugPattern.ReplaceAllString(slug, "_")
	slug = strings.Trim(slug, "_")
	if slug == "" {
		slug = strings.ReplaceAll(m.ID.String(), "-", "")
	}
	name := "csvmodel_" + slug
	// Postgres truncates identifiers at 63 bytes.
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

// ColumnsEqual reports whether both specifications describe the same table.
func ColumnsEqual(a, b []Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Type != b[i].Type {
			return false
		}
	}
	return true
}

// GetColumnsAsJSONB returns the columns as JSONB for database storage
func (m DynamicModel) GetColumnsAsJSONB() (json.RawMessage, error) {
	return json.Marshal(m.Columns)
}

// FromJSONBColumns decodes a stored column specification
func FromJSONBColumns(columnsJSON json.RawMessage) ([]Column, error) {
	var columns []Column
	err := json.Unmarshal(columnsJSON, &columns)
	return columns, err
}

func copyColumns(columns []Column) []Column {
	if columns == nil {
		return nil
	}
	out := make([]Column, len(columns))
	copy(out, columns)
	return out
}
