package admin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rpattn/csvmodels/internal/domain"
	"github.com/rpattn/csvmodels/internal/repository"
	"github.com/rpattn/csvmodels/internal/web"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestIndexBatchesRowCounts(t *testing.T) {
	people := domain.NewDynamicModel("people", []domain.Column{{Name: "name", Type: domain.ColumnTypeString}}, domain.CSVDirect{URL: "https://example.com/p.csv"})
	grants := domain.NewDynamicModel("grants", []domain.Column{{Name: "amount", Type: domain.ColumnTypeFloat}}, domain.CSVDirect{URL: "https://example.com/g.csv"})

	records := &countingRecords{counts: map[uuid.UUID]int64{people.ID: 3, grants.ID: 7}}
	mux := newMux(t, listModels{people, grants}, records)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<td>3</td>")
	assert.Contains(t, body, "<td>7</td>")
	assert.Less(t, strings.Index(body, "grants"), strings.Index(body, "people"))
	assert.Equal(t, 1, records.batches, "counts should be loaded in a single batch")
}

func TestIndexMarksFailedCounts(t *testing.T) {
	people := domain.NewDynamicModel("people", nil, domain.CSVDirect{URL: "https://example.com/p.csv"})
	records := &countingRecords{err: errors.New("relation does not exist")}
	mux := newMux(t, listModels{people}, records)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "unavailable")
}

func TestModelPagesRows(t *testing.T) {
	people := domain.NewDynamicModel("people", []domain.Column{{Name: "name", Type: domain.ColumnTypeString}}, domain.CSVDirect{URL: "https://example.com/p.csv"})
	records := &countingRecords{
		counts: map[uuid.UUID]int64{people.ID: pageSize + 1},
		rows:   []repository.Record{{ID: 51, Values: []any{"Ada"}}},
	}
	mux := newMux(t, listModels{people}, records)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/models/"+people.ID.String()+"?page=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pageSize, records.lastOffset)
	assert.Contains(t, rec.Body.String(), "<td>Ada</td>")
	assert.Contains(t, rec.Body.String(), "previous")
	assert.Contains(t, rec.Body.String(), "2 of 3 rows imported, 1 errors")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/models/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func newMux(t *testing.T, models listModels, records *countingRecords) *http.ServeMux {
	t.Helper()
	renderer, err := web.NewRenderer(nil)
	require.NoError(t, err)
	mux := http.NewServeMux()
	NewHandlers(models, records, staticRuns{}, renderer, nil).Register(mux, func(next http.Handler) http.Handler { return next })
	return mux
}

type listModels []domain.DynamicModel

func (l listModels) Create(ctx context.Context, model domain.DynamicModel) (domain.DynamicModel, error) {
	return domain.DynamicModel{}, errors.New("read only")
}

func (l listModels) GetByID(ctx context.Context, id uuid.UUID) (domain.DynamicModel, error) {
	for _, model := range l {
		if model.ID == id {
			return model, nil
		}
	}
	return domain.DynamicModel{}, domain.ErrNotFound
}

func (l listModels) GetByName(ctx context.Context, name string) (domain.DynamicModel, error) {
	for _, model := range l {
		if model.Name == name {
			return model, nil
		}
	}
	return domain.DynamicModel{}, domain.ErrNotFound
}

func (l listModels) List(ctx context.Context) ([]domain.DynamicModel, error) {
	return append([]domain.DynamicModel(nil), l...), nil
}

func (l listModels) Count(ctx context.Context) (int64, error) { return int64(len(l)), nil }

func (l listModels) Exists(ctx context.Context, name string) (bool, error) {
	_, err := l.GetByName(ctx, name)
	return err == nil, nil
}

func (l listModels) Save(ctx context.Context, model domain.DynamicModel) (domain.DynamicModel, error) {
	return domain.DynamicModel{}, errors.New("read only")
}

type countingRecords struct {
	mu         sync.Mutex
	counts     map[uuid.UUID]int64
	rows       []repository.Record
	err        error
	batches    int
	lastOffset int
}

func (c *countingRecords) ReplaceRecords(ctx context.Context, model domain.DynamicModel, rows [][]any) (int64, error) {
	return 0, errors.New("read only")
}

func (c *countingRecords) Count(ctx context.Context, model domain.DynamicModel) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[model.ID], c.err
}

func (c *countingRecords) CountMany(ctx context.Context, models []domain.DynamicModel) (map[uuid.UUID]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches++
	if c.err != nil {
		return nil, c.err
	}
	counts := make(map[uuid.UUID]int64, len(models))
	for _, model := range models {
		counts[model.ID] = c.counts[model.ID]
	}
	return counts, nil
}

func (c *countingRecords) List(ctx context.Context, model domain.DynamicModel, limit int, offset int) ([]repository.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastOffset = offset
	return c.rows, nil
}

type staticRuns struct{}

func (staticRuns) Record(ctx context.Context, run domain.ImportRun) error { return nil }

func (staticRuns) ListByModel(ctx context.Context, modelID uuid.UUID, limit int) ([]domain.ImportRun, error) {
	return []domain.ImportRun{{ID: uuid.New(), ModelID: modelID, SourceKind: domain.SourceKindCSVDirect, TotalRows: 3, Imported: 2, ErrorCount: 1}}, nil
}
