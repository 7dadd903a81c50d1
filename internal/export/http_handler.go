package export

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/csvmodels/internal/domain"
	"github.com/rpattn/csvmodels/internal/repository"
)

type Handler struct {
	models  repository.DynamicModelRepository
	service *Service
	logger  *zap.Logger
}

func NewHTTPHandler(models repository.DynamicModelRepository, service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{models: models, service: service, logger: logger}
}

// ServeHTTP answers GET /admin/models/{id}/export.csv with the full table.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
		h.logger.Error("failed to load model for export", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", model.TableName()+".csv"))
	if _, err := h.service.WriteCSV(r.Context(), model, w); err != nil {
		// Headers are gone by now; the truncated body is all the client gets.
		h.logger.Error("export failed", zap.String("model", model.Name), zap.Error(err))
	}
}
