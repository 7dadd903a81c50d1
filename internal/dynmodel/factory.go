// Package dynmodel creates dynamic model descriptors from external sources.
package dynmodel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/csvmodels/internal/domain"
	"github.com/rpattn/csvmodels/internal/ingestion"
	"github.com/rpattn/csvmodels/internal/repository"
	"github.com/rpattn/csvmodels/internal/schema/validator"

	"go.uber.org/zap"
)

var (
	ErrNameRequired  = errors.New("a name is required")
	ErrDuplicateName = errors.New("a data source with this name already exists")
	// ErrTableNameTaken means the name differs from every existing one but
	// reduces to a table name another data source already uses.
	ErrTableNameTaken = errors.New("this name maps to the same table as an existing data source; choose a more distinct name")
	// ErrSourceUnavailable wraps failures talking to the remote source or the
	// OAuth provider.
	ErrSourceUnavailable = errors.New("data source unavailable")
)

// InvalidColumnsError reports inferred columns that cannot back a table.
type InvalidColumnsError struct {
	Problems []validator.FieldError
}

func (e *InvalidColumnsError) Error() string {
	messages := make([]string, len(e.Problems))
	for i, problem := range e.Problems {
		messages[i] = problem.Error()
	}
	return "invalid columns: " + strings.Join(messages, "; ")
}

// Fetcher downloads the payload behind a source.
type Fetcher interface {
	Fetch(ctx context.Context, src domain.Source) ([]byte, error)
}

// CodeExchanger turns a Google authorization code into a refresh token.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (string, error)
}

// Factory infers a column specification from a source's current data and
// persists the descriptor together with its backing table.
type Factory struct {
	models  repository.DynamicModelRepository
	fetcher Fetcher
	oauth   CodeExchanger
	logger  *zap.Logger
}

func NewFactory(models repository.DynamicModelRepository, fetcher Fetcher, oauth CodeExchanger, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{models: models, fetcher: fetcher, oauth: oauth, logger: logger}
}

// FromCSVURL creates a model backed by a public CSV.
func (f *Factory) FromCSVURL(ctx context.Context, name, csvURL string) (domain.DynamicModel, error) {
	return f.create(ctx, name, domain.CSVDirect{URL: strings.TrimSpace(csvURL)})
}

// FromPrivateSheet exchanges authCode for a refresh token and creates a model
// backed by the private sheet at sheetURL.
func (f *Factory) FromPrivateSheet(ctx context.Context, name, sheetURL, authCode string) (domain.DynamicModel, error) {
	if err := f.checkName(ctx, name); err != nil {
		return domain.DynamicModel{}, err
	}
	refreshToken, err := f.oauth.Exchange(ctx, strings.TrimSpace(authCode))
	if err != nil {
		return domain.DynamicModel{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return f.create(ctx, name, domain.CSVOAuthSheet{URL: strings.TrimSpace(sheetURL), RefreshToken: refreshToken})
}

// FromScreendoor creates a model backed by a Screendoor project, optionally
// limited to one form.
func (f *Factory) FromScreendoor(ctx context.Context, name, apiKey string, projectID int64, formID *int64) (domain.DynamicModel, error) {
	return f.create(ctx, name, domain.FormService{APIKey: strings.TrimSpace(apiKey), ProjectID: projectID, FormID: formID})
}

func (f *Factory) checkName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	exists, err := f.models.Exists(ctx, name)
	if err != nil {
		return fmt.Errorf("check model name: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	table := domain.DynamicModel{Name: name}.TableName()
	models, err := f.models.List(ctx)
	if err != nil {
		return fmt.Errorf("check table name: %w", err)
	}
	for _, model := range models {
		if model.TableName() == table {
			return fmt.Errorf("%w (%q already uses %s)", ErrTableNameTaken, model.Name, table)
		}
	}
	return nil
}

func (f *Factory) create(ctx context.Context, name string, src domain.Source) (domain.DynamicModel, error) {
	name = strings.TrimSpace(name)
	if err := f.checkName(ctx, name); err != nil {
		return domain.DynamicModel{}, err
	}

	payload, err := f.fetcher.Fetch(ctx, src)
	if err != nil {
		return domain.DynamicModel{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	table, err := ingestion.ParseTable(payload)
	if err != nil {
		return domain.DynamicModel{}, fmt.Errorf("parse %s source: %w: %w", src.Kind(), ingestion.ErrUnreadableSource, err)
	}

	columns := renameReserved(ingestion.InferColumns(table))
	problems, err := validator.ValidateColumns(columns)
	if err != nil {
		return domain.DynamicModel{}, err
	}
	if len(problems) > 0 {
		return domain.DynamicModel{}, &InvalidColumnsError{Problems: problems}
	}

	candidate := domain.NewDynamicModel(name, columns, src)
	model, err := f.models.Create(ctx, candidate)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTableNameTaken):
			return domain.DynamicModel{}, fmt.Errorf("%w (%s)", ErrTableNameTaken, candidate.TableName())
		case errors.Is(err, domain.ErrConflict):
			return domain.DynamicModel{}, fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
		return domain.DynamicModel{}, err
	}

	f.logger.Info("created dynamic model",
		zap.String("model", model.Name),
		zap.String("id", model.ID.String()),
		zap.String("source", string(src.Kind())),
		zap.Int("columns", len(model.Columns)),
	)
	return model, nil
}

// renameReserved moves a source column called "id" out of the way of the
// table's own primary key.
func renameReserved(columns []domain.Column) []domain.Column {
	for i := range columns {
		if columns[i].Name == "id" {
			columns[i].Name = "source_id"
		}
	}
	return columns
}
