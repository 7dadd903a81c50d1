// Package wizard serves the data source wizard: intake, column refinement
// and (re)import of a dynamic model's rows.
package wizard

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/csvmodels/internal/config"
	"github.com/rpattn/csvmodels/internal/domain"
	"github.com/rpattn/csvmodels/internal/dynmodel"
	"github.com/rpattn/csvmodels/internal/ingestion"
	"github.com/rpattn/csvmodels/internal/repository"
	"github.com/rpattn/csvmodels/internal/schema/validator"
	"github.com/rpattn/csvmodels/internal/web"
)

// Factory creates dynamic models from the three supported sources.
type Factory interface {
	FromCSVURL(ctx context.Context, name, csvURL string) (domain.DynamicModel, error)
	FromPrivateSheet(ctx context.Context, name, sheetURL, authCode string) (domain.DynamicModel, error)
	FromScreendoor(ctx context.Context, name, apiKey string, projectID int64, formID *int64) (domain.DynamicModel, error)
}

// Fetcher downloads the current payload of a source.
type Fetcher interface {
	Fetch(ctx context.Context, src domain.Source) ([]byte, error)
}

// Importer loads a payload into a model's backing table.
type Importer interface {
	Import(ctx context.Context, payload []byte, model domain.DynamicModel) (ingestion.Summary, error)
}

// Settings resolves named configuration values.
type Settings interface {
	Get(name string) string
}

// AuthURLProvider yields the Google consent URL shown on the begin page.
type AuthURLProvider interface {
	AuthCodeURL() string
}

// Handlers holds the wizard's collaborators.
type Handlers struct {
	Models   repository.DynamicModelRepository
	Records  repository.RecordRepository
	Runs     repository.ImportRunRepository
	Factory  Factory
	Fetcher  Fetcher
	Importer Importer
	Settings Settings
	OAuth    AuthURLProvider
	Renderer *web.Renderer
	Logger   *zap.Logger
}

// Register mounts the wizard routes on mux behind guard.
func (h *Handlers) Register(mux *http.ServeMux, guard func(http.Handler) http.Handler) {
	mux.Handle("/begin", guard(http.HandlerFunc(h.Begin)))
	mux.Handle("/refine-and-import/{id}", guard(http.HandlerFunc(h.RefineAndImport)))
	mux.Handle("/refine-and-import-by-name/{name}", guard(http.HandlerFunc(h.RefineAndImportByName)))
	mux.Handle("/import-data/{id}", guard(http.HandlerFunc(h.ImportData)))
	mux.Handle("GET /oauth/google/callback", guard(http.HandlerFunc(h.GoogleCallback)))
}

type beginForm struct {
	CSVURL      string
	AuthCode    string
	CSVName     string
	SDAPIKey    string
	SDProjectID string
	SDFormID    string
	SDName      string
}

type beginPage struct {
	Form          beginForm
	Errors        []string
	GoogleAuthURL string
}

type refinePage struct {
	Model       domain.DynamicModel
	Form        RefineForm
	FieldErrors map[string][]string
	Errors      []ingestion.ImportError
	ColumnTypes []domain.ColumnType
}

type importDataPage struct {
	Model  domain.DynamicModel
	Errors []ingestion.ImportError
}

type completePage struct {
	Model    domain.DynamicModel
	RowCount int64
}

// Begin is the wizard entry point.
func (h *Handlers) Begin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		if r.URL.Query().Get("addnew") == "" {
			count, err := h.Models.Count(r.Context())
			if err != nil {
				h.serverError(w, "count models", err)
				return
			}
			if count > 0 {
				http.Redirect(w, r, "/admin/", http.StatusFound)
				return
			}
		}
		h.renderBegin(w, beginForm{})
	case http.MethodPost:
		h.beginPost(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (h *Handlers) beginPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	form := beginForm{
		CSVURL:      strings.TrimSpace(r.PostForm.Get("csv_url")),
		AuthCode:    strings.TrimSpace(r.PostForm.Get("csv_google_sheets_auth_code")),
		CSVName:     strings.TrimSpace(r.PostForm.Get("csv_name")),
		SDAPIKey:    strings.TrimSpace(r.PostForm.Get("sd_api_key")),
		SDProjectID: strings.TrimSpace(r.PostForm.Get("sd_project_id")),
		SDFormID:    strings.TrimSpace(r.PostForm.Get("sd_form_id")),
		SDName:      strings.TrimSpace(r.PostForm.Get("sd_name")),
	}

	ctx := r.Context()
	var (
		model domain.DynamicModel
		err   error
	)
	switch {
	case form.CSVURL != "" && form.AuthCode != "":
		model, err = h.Factory.FromPrivateSheet(ctx, form.CSVName, form.CSVURL, form.AuthCode)
	case form.CSVURL != "":
		model, err = h.Factory.FromCSVURL(ctx, form.CSVName, form.CSVURL)
	case form.SDAPIKey != "":
		projectID, perr := strconv.ParseInt(form.SDProjectID, 10, 64)
		if perr != nil {
			h.renderBegin(w, form, "Screendoor project ID must be a number.")
			return
		}
		var formID *int64
		if form.SDFormID != "" {
			id, ferr := strconv.ParseInt(form.SDFormID, 10, 64)
			if ferr != nil {
				h.renderBegin(w, form, "Screendoor form ID must be a number.")
				return
			}
			formID = &id
		}
		model, err = h.Factory.FromScreendoor(ctx, form.SDName, form.SDAPIKey, projectID, formID)
	default:
		h.renderBegin(w, form, "Enter a CSV URL or Screendoor credentials.")
		return
	}

	if err != nil {
		if message, ok := intakeMessage(err); ok {
			h.logger().Info("rejected data source", zap.Error(err))
			h.renderBegin(w, form, message)
			return
		}
		if errors.Is(err, dynmodel.ErrSourceUnavailable) {
			h.logger().Warn("failed to reach data source", zap.Error(err))
			http.Error(w, "Could not fetch the data source: "+err.Error(), http.StatusBadGateway)
			return
		}
		h.serverError(w, "create model", err)
		return
	}

	http.Redirect(w, r, "/refine-and-import/"+model.ID.String(), http.StatusSeeOther)
}

// intakeMessage maps recoverable intake failures to the message shown on the
// begin page.
func intakeMessage(err error) (string, bool) {
	var unique *validator.UniqueColumnError
	var invalid *dynmodel.InvalidColumnsError
	switch {
	case errors.As(err, &unique):
		return unique.Error(), true
	case errors.As(err, &invalid):
		return invalid.Error(), true
	case errors.Is(err, dynmodel.ErrNameRequired),
		errors.Is(err, dynmodel.ErrDuplicateName),
		errors.Is(err, dynmodel.ErrTableNameTaken),
		errors.Is(err, ingestion.ErrUnreadableSource),
		errors.Is(err, ingestion.ErrEmptyPayload):
		return err.Error(), true
	}
	return "", false
}

func (h *Handlers) renderBegin(w http.ResponseWriter, form beginForm, errs ...string) {
	page := beginPage{Form: form, Errors: errs}
	if h.OAuth != nil {
		page.GoogleAuthURL = h.OAuth.AuthCodeURL()
	}
	h.Renderer.Render(w, http.StatusOK, "begin.html", page)
}

// GoogleCallback receives Google's redirect after consent and shows the begin
// page with the authorization code filled in.
func (h *Handlers) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if reason := query.Get("error"); reason != "" {
		h.renderBegin(w, beginForm{}, "Google authorization failed: "+reason)
		return
	}
	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		h.renderBegin(w, beginForm{}, "Google did not return an authorization code.")
		return
	}
	h.renderBegin(w, beginForm{AuthCode: code})
}

// RefineAndImport lets the operator adjust the inferred columns, then saves
// them and imports the source's rows.
func (h *Handlers) RefineAndImport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	model, err := h.Models.GetByID(r.Context(), id)
	if err != nil {
		h.lookupError(w, r, err)
		return
	}
	h.refineAndImport(w, r, model)
}

// RefineAndImportByName resolves the model by name and behaves exactly like
// RefineAndImport.
func (h *Handlers) RefineAndImportByName(w http.ResponseWriter, r *http.Request) {
	model, err := h.Models.GetByName(r.Context(), r.PathValue("name"))
	if err != nil {
		h.lookupError(w, r, err)
		return
	}
	h.refineAndImport(w, r, model)
}

func (h *Handlers) refineAndImport(w http.ResponseWriter, r *http.Request, model domain.DynamicModel) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.renderRefine(w, model, NewRefineForm(model.Columns), nil)
		return
	case http.MethodPost:
	default:
		methodNotAllowed(w)
		return
	}

	form, err := ParseRefineForm(r)
	if err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if !form.Validate(model.Columns) {
		h.renderRefine(w, model, form, nil)
		return
	}

	saved, err := h.Models.Save(r.Context(), model.WithColumns(form.CleanedColumns()))
	if err != nil {
		h.serverError(w, "save model", err)
		return
	}
	// Re-read so the page reflects what persistence actually stored.
	model, err = h.Models.GetByID(r.Context(), saved.ID)
	if err != nil {
		h.serverError(w, "reload model", err)
		return
	}

	importErrors, ok := h.runImport(w, r, model)
	if !ok {
		return
	}
	if len(importErrors) > 0 {
		h.renderRefine(w, model, form, importErrors)
		return
	}
	h.finish(w, r, model)
}

// ImportData re-runs the import for a configured model. GET only renders an
// auto-submitting page; the import itself happens on POST.
func (h *Handlers) ImportData(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	model, err := h.Models.GetByID(r.Context(), id)
	if err != nil {
		h.lookupError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.Renderer.Render(w, http.StatusOK, "import-data.html", importDataPage{Model: model})
	case http.MethodPost:
		importErrors, ok := h.runImport(w, r, model)
		if !ok {
			return
		}
		if len(importErrors) > 0 {
			h.Renderer.Render(w, http.StatusOK, "import-data.html", importDataPage{Model: model, Errors: importErrors})
			return
		}
		h.finish(w, r, model)
	default:
		methodNotAllowed(w)
	}
}

// runImport fetches the model's source and imports it. It returns the row
// errors to show the operator; ok is false when a response has already been
// written for a fatal failure.
func (h *Handlers) runImport(w http.ResponseWriter, r *http.Request, model domain.DynamicModel) ([]ingestion.ImportError, bool) {
	logger := h.logger().With(zap.String("model", model.Name), zap.String("id", model.ID.String()))
	started := time.Now()

	payload, err := h.Fetcher.Fetch(r.Context(), model.Source)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSource) {
			logger.Error("model has no valid data source", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return nil, false
		}
		logger.Warn("failed to fetch data source", zap.Error(err))
		http.Error(w, "Could not fetch the data source: "+err.Error(), http.StatusBadGateway)
		return nil, false
	}

	summary, err := h.Importer.Import(r.Context(), payload, model)
	if err != nil {
		if errors.Is(err, ingestion.ErrUnreadableSource) || errors.Is(err, ingestion.ErrEmptyPayload) {
			return []ingestion.ImportError{{Message: err.Error()}}, true
		}
		h.serverError(w, "import records", err)
		return nil, false
	}
	if len(summary.Errors) > 0 {
		logger.Warn("import finished with errors", zap.Int("errors", len(summary.Errors)))
	}
	h.recordRun(r.Context(), logger, model, summary, started)
	return summary.Errors, true
}

// recordRun keeps the import history. Failing to write it never fails the
// import itself.
func (h *Handlers) recordRun(ctx context.Context, logger *zap.Logger, model domain.DynamicModel, summary ingestion.Summary, started time.Time) {
	if h.Runs == nil {
		return
	}
	run := domain.ImportRun{
		ID:         uuid.New(),
		ModelID:    model.ID,
		SourceKind: model.Source.Kind(),
		TotalRows:  summary.TotalRows,
		Imported:   summary.Imported,
		ErrorCount: len(summary.Errors),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err := h.Runs.Record(ctx, run); err != nil {
		logger.Warn("failed to record import run", zap.Error(err))
	}
}

// finish redirects to the configured post-import target or reports the row
// count of the backing table.
func (h *Handlers) finish(w http.ResponseWriter, r *http.Request, model domain.DynamicModel) {
	if h.Settings != nil {
		if next := h.Settings.Get(config.WizardRedirectTo); next != "" {
			http.Redirect(w, r, next, http.StatusFound)
			return
		}
	}

	count, err := h.Records.Count(r.Context(), model)
	if err != nil {
		h.serverError(w, "count records", err)
		return
	}
	h.Renderer.Render(w, http.StatusOK, "import-complete.html", completePage{Model: model, RowCount: count})
}

func (h *Handlers) renderRefine(w http.ResponseWriter, model domain.DynamicModel, form RefineForm, importErrors []ingestion.ImportError) {
	h.Renderer.Render(w, http.StatusOK, "refine-and-import.html", refinePage{
		Model:       model,
		Form:        form,
		FieldErrors: form.FieldErrors,
		Errors:      importErrors,
		ColumnTypes: domain.ColumnTypes,
	})
}

func (h *Handlers) lookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if errors.Is(err, domain.ErrInvalidSource) {
		h.logger().Error("stored model has no valid data source", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.serverError(w, "load model", err)
}

func (h *Handlers) serverError(w http.ResponseWriter, op string, err error) {
	h.logger().Error("wizard request failed", zap.String("op", op), zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (h *Handlers) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func methodNotAllowed(w http.ResponseWriter) {
	w.Header().Set("Allow", "GET, POST")
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
