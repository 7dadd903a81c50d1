package wizard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rpattn/csvmodels/internal/domain"
	"github.com/rpattn/csvmodels/internal/schema/validator"
)

const columnsField = "columns"

// RefineForm carries the operator's edited column specification. Columns is
// the raw JSON so an invalid submission can be shown back unchanged.
type RefineForm struct {
	Columns     string
	FieldErrors map[string][]string

	cleaned []domain.Column
}

// NewRefineForm pre-fills the form from a stored specification.
func NewRefineForm(columns []domain.Column) RefineForm {
	encoded, err := json.MarshalIndent(columns, "", "  ")
	if err != nil {
		encoded = []byte("[]")
	}
	return RefineForm{Columns: string(encoded), FieldErrors: map[string][]string{}}
}

// ParseRefineForm reads the columns field of a POST.
func ParseRefineForm(r *http.Request) (RefineForm, error) {
	if err := r.ParseForm(); err != nil {
		return RefineForm{}, fmt.Errorf("parse refine form: %w", err)
	}
	return RefineForm{Columns: r.PostForm.Get(columnsField), FieldErrors: map[string][]string{}}, nil
}

// Validate decodes and checks the submission against current, the stored
// specification. Columns submitted without a source inherit the source of the
// stored column at the same position.
func (f *RefineForm) Validate(current []domain.Column) bool {
	f.cleaned = nil
	f.FieldErrors = map[string][]string{}

	raw := strings.TrimSpace(f.Columns)
	if raw == "" {
		f.addError("This field is required.")
		return false
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.DisallowUnknownFields()
	var columns []domain.Column
	if err := decoder.Decode(&columns); err != nil {
		f.addError(fmt.Sprintf("Enter a valid JSON list of columns: %v", err))
		return false
	}

	for i := range columns {
		columns[i].Name = strings.TrimSpace(columns[i].Name)
		columns[i].Type = domain.ColumnType(strings.ToLower(strings.TrimSpace(string(columns[i].Type))))
		if columns[i].Source == "" {
			if i < len(current) {
				columns[i].Source = sourceOf(current[i])
			} else {
				columns[i].Source = columns[i].Name
			}
		}
	}

	problems, err := validator.ValidateColumns(columns)
	if err != nil {
		var unique *validator.UniqueColumnError
		if errors.As(err, &unique) {
			f.addError(unique.Error())
		} else {
			f.addError(err.Error())
		}
		return false
	}
	for _, problem := range problems {
		f.addError(problem.Error())
	}
	if len(f.FieldErrors) > 0 {
		return false
	}

	f.cleaned = columns
	return true
}

// CleanedColumns returns the validated specification. It is nil until
// Validate succeeds.
func (f RefineForm) CleanedColumns() []domain.Column {
	return f.cleaned
}

func (f *RefineForm) addError(message string) {
	f.FieldErrors[columnsField] = append(f.FieldErrors[columnsField], message)
}

func sourceOf(column domain.Column) string {
	if column.Source != "" {
		return column.Source
	}
	return column.Name
}
