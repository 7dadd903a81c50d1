package validator

import (
	"errors"
	"testing"

	"github.com/rpattn/csvmodels/internal/domain"
)

func TestValidateColumnsAcceptsWellFormedSpec(t *testing.T) {
	columns := []domain.Column{
		{Name: "name", Type: domain.ColumnTypeString},
		{Name: "age", Type: domain.ColumnTypeInteger},
		{Name: "joined_at", Type: domain.ColumnTypeTimestamp},
	}

	problems, err := ValidateColumns(columns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("expected no problems, got %+v", problems)
	}
}

func TestValidateColumnsRejectsDuplicateNames(t *testing.T) {
	columns := []domain.Column{
		{Name: "email", Type: domain.ColumnTypeString},
		{Name: "Email", Type: domain.ColumnTypeString},
	}

	_, err := ValidateColumns(columns)
	var uniqueErr *UniqueColumnError
	if !errors.As(err, &uniqueErr) {
		t.Fatalf("expected UniqueColumnError, got %v", err)
	}
	if uniqueErr.Column != "Email" {
		t.Fatalf("expected duplicate column Email, got %q", uniqueErr.Column)
	}
}

func TestValidateColumnsReportsFieldProblems(t *testing.T) {
	columns := []domain.Column{
		{Name: "", Type: domain.ColumnTypeString},
		{Name: "9lives", Type: domain.ColumnTypeString},
		{Name: "id", Type: domain.ColumnTypeInteger},
		{Name: "score", Type: domain.ColumnType("decimal")},
	}

	problems, err := ValidateColumns(columns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(problems) != 4 {
		t.Fatalf("expected 4 problems, got %d: %+v", len(problems), problems)
	}
	if problems[0].Index != 0 || problems[3].Column != "score" {
		t.Fatalf("unexpected problem ordering: %+v", problems)
	}
}

func TestValidateColumnsRequiresAtLeastOneColumn(t *testing.T) {
	if _, err := ValidateColumns(nil); err == nil {
		t.Fatalf("expected error for empty specification")
	}
}
