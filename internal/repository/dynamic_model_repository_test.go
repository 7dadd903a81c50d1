package repository

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/csvmodels/internal/domain"
)

func TestCreateTableSQLQuotesIdentifiers(t *testing.T) {
	model := domain.NewDynamicModel("Grant Applications", []domain.Column{
		{Name: "name", Type: domain.ColumnTypeString},
		{Name: "amount", Type: domain.ColumnTypeFloat},
		{Name: "submitted_at", Type: domain.ColumnTypeTimestamp},
	}, domain.CSVDirect{URL: "https://example.com/grants.csv"})

	got := createTableSQL(model)
	want := `CREATE TABLE IF NOT EXISTS "csvmodel_grant_applications" (id bigserial PRIMARY KEY, "name" text, "amount" double precision, "submitted_at" timestamptz)`
	if got != want {
		t.Fatalf("unexpected DDL:\n got: %s\nwant: %s", got, want)
	}
}

func TestCountManySQLBindsModelIDs(t *testing.T) {
	first := domain.NewDynamicModel("first", nil, domain.CSVDirect{URL: "https://example.com/a.csv"})
	second := domain.NewDynamicModel("second", nil, domain.CSVDirect{URL: "https://example.com/b.csv"})

	query, args := countManySQL([]domain.DynamicModel{first, second})
	want := `SELECT $1::uuid, count(*) FROM "csvmodel_first" UNION ALL SELECT $2::uuid, count(*) FROM "csvmodel_second"`
	if query != want {
		t.Fatalf("unexpected query:\n got: %s\nwant: %s", query, want)
	}
	if len(args) != 2 || args[0].(uuid.UUID) != first.ID || args[1].(uuid.UUID) != second.ID {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestTranslateErrorMapsNoRowsAndUniqueViolation(t *testing.T) {
	if err := translateError(pgx.ErrNoRows, "get dynamic model"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	pgErr := &pgconn.PgError{Code: uniqueViolation, ConstraintName: "dynamic_models_name_key"}
	if err := translateError(pgErr, "insert dynamic model"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	tableErr := &pgconn.PgError{Code: uniqueViolation, ConstraintName: tableNameConstraint}
	err := translateError(tableErr, "insert dynamic model")
	if !errors.Is(err, domain.ErrConflict) || !errors.Is(err, domain.ErrTableNameTaken) {
		t.Fatalf("expected ErrConflict and ErrTableNameTaken, got %v", err)
	}
	if errors.Is(translateError(pgErr, "insert dynamic model"), domain.ErrTableNameTaken) {
		t.Fatalf("name conflicts must not report a table name clash")
	}

	other := errors.New("connection reset")
	err = translateError(other, "insert dynamic model")
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) || !errors.Is(err, other) {
		t.Fatalf("expected wrapped original error, got %v", err)
	}
}
