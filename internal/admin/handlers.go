// Package admin serves the operator's overview of imported data sources.
package admin

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/csvmodels/internal/countloader"
	"github.com/rpattn/csvmodels/internal/domain"
	"github.com/rpattn/csvmodels/internal/export"
	"github.com/rpattn/csvmodels/internal/middleware"
	"github.com/rpattn/csvmodels/internal/repository"
	"github.com/rpattn/csvmodels/internal/web"
)

const (
	pageSize   = 50
	recentRuns = 10
)

type modelSummary struct {
	Model      domain.DynamicModel
	Count      int64
	CountError bool
}

type indexPage struct {
	Models []modelSummary
}

type modelPage struct {
	Model    domain.DynamicModel
	Records  []repository.Record
	Total    int64
	Page     int
	PrevPage int
	NextPage int
	HasNext  bool
	Runs     []domain.ImportRun
}

type Handlers struct {
	models   repository.DynamicModelRepository
	records  repository.RecordRepository
	runs     repository.ImportRunRepository
	renderer *web.Renderer
	logger   *zap.Logger
}

func NewHandlers(models repository.DynamicModelRepository, records repository.RecordRepository, runs repository.ImportRunRepository, renderer *web.Renderer, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{models: models, records: records, runs: runs, renderer: renderer, logger: logger}
}

// Register mounts the admin routes on mux behind guard. Every admin request
// gets its own count loader.
func (h *Handlers) Register(mux *http.ServeMux, guard func(http.Handler) http.Handler) {
	loaders := middleware.DataLoaderMiddleware(h.records)
	mux.Handle("GET /admin/{$}", guard(loaders(http.HandlerFunc(h.Index))))
	mux.Handle("GET /admin/models/{id}", guard(http.HandlerFunc(h.Model)))
	exporter := export.NewHTTPHandler(h.models, export.NewService(h.records, h.logger), h.logger)
	mux.Handle("GET /admin/models/{id}/export.csv", guard(exporter))
}

// Index lists every dynamic model with the row count of its backing table.
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	models, err := h.models.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list models", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	loader := middleware.CountLoaderFromContext(r.Context())
	if loader == nil {
		loader = countloader.NewCountLoader(h.records)
	}
	counts, failures := loader.ByID(r.Context(), models)

	page := indexPage{Models: make([]modelSummary, len(models))}
	for i, model := range models {
		summary := modelSummary{Model: model, Count: counts[model.ID]}
		if err, failed := failures[model.ID]; failed {
			h.logger.Warn("failed to count rows", zap.String("model", model.Name), zap.Error(err))
			summary.CountError = true
		}
		page.Models[i] = summary
	}
	h.renderer.Render(w, http.StatusOK, "admin-index.html", page)
}

// Model pages through the rows of one backing table.
func (h *Handlers) Model(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	model, err := h.models.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("failed to load model", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			page = n
		}
	}

	total, err := h.records.Count(r.Context(), model)
	if err != nil {
		h.logger.Error("failed to count rows", zap.String("model", model.Name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	records, err := h.records.List(r.Context(), model, pageSize, (page-1)*pageSize)
	if err != nil {
		h.logger.Error("failed to list rows", zap.String("model", model.Name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var runs []domain.ImportRun
	if h.runs != nil {
		runs, err = h.runs.ListByModel(r.Context(), model.ID, recentRuns)
		if err != nil {
			h.logger.Warn("failed to list import runs", zap.String("model", model.Name), zap.Error(err))
		}
	}

	h.renderer.Render(w, http.StatusOK, "admin-model.html", modelPage{
		Model:    model,
		Records:  records,
		Total:    total,
		Page:     page,
		PrevPage: page - 1,
		NextPage: page + 1,
		HasNext:  int64(page*pageSize) < total,
		Runs:     runs,
	})
}
