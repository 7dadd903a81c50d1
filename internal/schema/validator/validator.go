package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rpattn/csvmodels/internal/domain"
)

// maxIdentifierLength is the Postgres NAMEDATALEN limit minus the terminator.
const maxIdentifierLength = 63

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reservedColumns are managed by the backing table itself.
var reservedColumns = map[string]struct{}{
	"id": {},
}

// UniqueColumnError reports a column name that appears more than once in a
// specification.
type UniqueColumnError struct {
	Column string
}

func (e *UniqueColumnError) Error() string {
	return fmt.Sprintf("column names must be unique: %q appears more than once", e.Column)
}

// FieldError describes a problem with one column of a specification.
type FieldError struct {
	Index   int
	Column  string
	Message string
}

func (e FieldError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("column %d: %s", e.Index+1, e.Message)
	}
	return fmt.Sprintf("column %d (%s): %s", e.Index+1, e.Column, e.Message)
}

// ValidateColumns ensures a column specification can back a table. Duplicate
// names are reported as *UniqueColumnError ahead of any other problem so that
// callers can distinguish them.
func ValidateColumns(columns []domain.Column) ([]FieldError, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("at least one column is required")
	}

	seen := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		key := strings.ToLower(strings.TrimSpace(column.Name))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			return nil, &UniqueColumnError{Column: column.Name}
		}
		seen[key] = struct{}{}
	}

	var problems []FieldError
	for idx, column := range columns {
		name := strings.TrimSpace(column.Name)
		switch {
		case name == "":
			problems = append(problems, FieldError{Index: idx, Message: "name is required"})
		case len(name) > maxIdentifierLength:
			problems = append(problems, FieldError{Index: idx, Column: name, Message: fmt.Sprintf("name is longer than %d characters", maxIdentifierLength)})
		case !identifierPattern.MatchString(name):
			problems = append(problems, FieldError{Index: idx, Column: name, Message: "name must start with a letter or underscore and contain only lowercase letters, digits and underscores"})
		}
		if _, reserved := reservedColumns[strings.ToLower(name)]; reserved {
			problems = append(problems, FieldError{Index: idx, Column: name, Message: "name is reserved"})
		}
		if !column.Type.Valid() {
			problems = append(problems, FieldError{Index: idx, Column: name, Message: fmt.Sprintf("unknown type %q", column.Type)})
		}
	}

	return problems, nil
}
