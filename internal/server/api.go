package server

import (
	"net/http"
	"strconv"

	"github.com/finresearch/research-assistant/internal/observability"

	apperrors "github.com/finresearch/research-assistant/internal/pkg/errors"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
)

// API serves the /api/v1 routes.
type API struct {
	queries   QueryService
	documents DocumentService
	activity  ActivityLog
	log       *logger.Logger
}

// ActivityLog reports recent query outcomes.
type ActivityLog interface {
	Recent(limit int) []observability.Entry
	Summary() observability.Summary
}

// activityResponse is the GET /api/v1/activity body.
type activityResponse struct {
	Summary observability.Summary `json:"summary"`
	Entries []observability.Entry `json:"entries"`
}

// NewAPI creates the API handlers. documents may be nil.
func NewAPI(queries QueryService, documents DocumentService, log *logger.Logger) *API {
	if log == nil {
		log = logger.Default()
	}
	return &API{
		queries:   queries,
		documents: documents,
		log:       log.WithComponent("api"),
	}
}

// RegisterRoutes registers the API routes with the given mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/query", a.HandleQuery)
	mux.HandleFunc("GET /api/v1/costs", a.HandleCosts)
	mux.HandleFunc("POST /api/v1/estimate", a.HandleEstimate)
	if a.documents != nil {
		mux.HandleFunc("GET /api/v1/documents", a.HandleDocuments)
		mux.HandleFunc("GET /api/v1/documents/{filename}/download", a.HandleDownload)
	}
	if a.activity != nil {
		mux.HandleFunc("GET /api/v1/activity", a.HandleActivity)
	}
}

// HandleActivity handles GET /api/v1/activity?limit=N.
func (a *API) HandleActivity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			a.writeError(w, r, apperrors.ValidationError("limit: must be an integer between 1 and 1000", nil))
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, activityResponse{
		Summary: a.activity.Summary(),
		Entries: a.activity.Recent(limit),
	})
}

// HandleQuery handles POST /api/v1/query.
func (a *API) HandleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQueryRequest(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	answer, err := a.queries.SubmitQuery(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

// HandleCosts handles GET /api/v1/costs.
func (a *API) HandleCosts(w http.ResponseWriter, r *http.Request) {
	summary, err := a.queries.CostSummary(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleEstimate handles POST /api/v1/estimate. It makes no external call.
func (a *API) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQueryRequest(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	estimate, err := a.queries.Estimate(req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

// HandleDocuments handles GET /api/v1/documents.
func (a *API) HandleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := a.documents.List(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// HandleDownload handles GET /api/v1/documents/{filename}/download.
func (a *API) HandleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")

	f, info, err := a.documents.Open(name)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// writeError logs the full error and writes the sanitized response.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := a.log.WithContext(r.Context()).WithError(err)
	code := apperrors.CodeOf(err)
	switch code {
	case apperrors.CodeValidation, apperrors.CodeNotFound, apperrors.CodeBudgetExceeded:
		log.Info("Request rejected", "path", r.URL.Path, "code", code)
	default:
		log.Error("Request failed", "path", r.URL.Path, "code", code)
	}
	apperrors.WriteError(w, err)
}
