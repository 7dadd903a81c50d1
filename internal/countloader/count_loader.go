package countloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/csvmodels/internal/domain"
	"github.com/rpattn/csvmodels/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

// Key identifies a backing table to count. The whole descriptor travels with
// the key because the batch query needs the table names.
type Key struct {
	Model domain.DynamicModel
}

func (k Key) String() string { return k.Model.ID.String() }

func (k Key) Raw() interface{} { return k.Model }

type CountLoader struct {
	Loader *dataloader.Loader
}

func NewCountLoader(repo repository.RecordRepository) *CountLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		models := make([]domain.DynamicModel, len(keys))
		for i, k := range keys {
			model, ok := k.Raw().(domain.DynamicModel)
			if !ok {
				return errorResults(len(keys), fmt.Errorf("unexpected key type %T", k.Raw()))
			}
			models[i] = model
		}

		// Count all tables in one round trip
		counts, err := repo.CountMany(ctx, models)
		if err != nil {
			return errorResults(len(keys), err)
		}

		// Build results in the same order as keys
		results := make([]*dataloader.Result, len(keys))
		for i, model := range models {
			if n, ok := counts[model.ID]; ok {
				results[i] = &dataloader.Result{Data: n}
			} else {
				results[i] = &dataloader.Result{Error: fmt.Errorf("no count for model %s", model.ID)}
			}
		}

		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))

	return &CountLoader{Loader: loader}
}

// Load returns a thunk resolving to the row count of model's backing table.
func (l *CountLoader) Load(ctx context.Context, model domain.DynamicModel) func() (int64, error) {
	thunk := l.Loader.Load(ctx, Key{Model: model})
	return func() (int64, error) {
		value, err := thunk()
		if err != nil {
			return 0, err
		}
		n, ok := value.(int64)
		if !ok {
			return 0, fmt.Errorf("unexpected count type %T", value)
		}
		return n, nil
	}
}

// ByID collects counts keyed by model id, recording failures per model.
func (l *CountLoader) ByID(ctx context.Context, models []domain.DynamicModel) (map[uuid.UUID]int64, map[uuid.UUID]error) {
	thunks := make([]func() (int64, error), len(models))
	for i, model := range models {
		thunks[i] = l.Load(ctx, model)
	}

	counts := make(map[uuid.UUID]int64, len(models))
	failures := make(map[uuid.UUID]error)
	for i, thunk := range thunks {
		n, err := thunk()
		if err != nil {
			failures[models[i].ID] = err
			continue
		}
		counts[models[i].ID] = n
	}
	return counts, failures
}

func errorResults(n int, err error) []*dataloader.Result {
	results := make([]*dataloader.Result, n)
	for i := range results {
		results[i] = &dataloader.Result{Error: err}
	}
	return results
}
