package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"export-worker-service/internal/entity"
	"export-worker-service/internal/service"
)

type Handler struct {
	jobSvc *service.JobService
	tplSvc *service.TemplateService
}

func NewHandler(jobSvc *service.JobService, tplSvc *service.TemplateService) *Handler {
	return &Handler{jobSvc: jobSvc, tplSvc: tplSvc}
}

type createExportDTO struct {
	Kind        entity.ExportKind `json:"kind"`
	Format      string            `json:"format"`
	Filters     json.RawMessage   `json:"filters,omitempty"`
	Options     json.RawMessage   `json:"options,omitempty"`
	MaxAttempts int               `json:"maxAttempts,omitempty"`
}

type createExportResp struct {
	ID     string           `json:"id"`
	Status entity.JobStatus `json:"status"`
}

// CreateExport godoc
// @Summary Request an export
// @Description Records the export as pending and enqueues it for background processing.
// @Tags exports
// @Accept json
// @Produce json
// @Param request body createExportDTO true "export spec"
// @Success 201 {object} createExportResp
// @Failure 400 {object} apiError
// @Failure 401 {object} apiError
// @Router /exports [post]
func (h *Handler) CreateExport(w http.ResponseWriter, r *http.Request) {
	var dto createExportDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	job, err := h.jobSvc.CreateJob(r.Context(), service.CreateJobRequest{
		Owner: ownerFrom(r),
		Spec: entity.ExportSpec{
			Kind:    dto.Kind,
			Format:  dto.Format,
			Filters: dto.Filters,
			Options: dto.Options,
		},
		MaxAttempts: dto.MaxAttempts,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createExportResp{ID: job.ID.String(), Status: job.Status})
}

// GetExport godoc
// @Summary Get export status
// @Description Returns status, progress, retry state and result. Pass download=1 to record a download of the artifact.
// @Tags exports
// @Produce json
// @Param id path string true "export id (uuid)"
// @Param download query bool false "count a download"
// @Success 200 {object} service.StatusResponse
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /exports/{id} [get]
func (h *Handler) GetExport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	countDownload := r.URL.Query().Get("download") == "1"
	resp, err := h.jobSvc.GetJobStatus(r.Context(), id, ownerFrom(r), countDownload)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RetryExport godoc
// @Summary Retry a failed export
// @Description Resets the attempt counter, clears the error and re-enqueues the export. Only failed exports are eligible.
// @Tags exports
// @Produce json
// @Param id path string true "export id (uuid)"
// @Success 202 {object} createExportResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /exports/{id}/retry [post]
func (h *Handler) RetryExport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.jobSvc.RetryJob(r.Context(), id, ownerFrom(r)); err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, createExportResp{ID: id.String(), Status: entity.StatusPending})
}

// CancelExport godoc
// @Summary Cancel an export
// @Description Marks a pending or processing export cancelled. A run already in flight is not killed; its result is discarded.
// @Tags exports
// @Produce json
// @Param id path string true "export id (uuid)"
// @Success 200 {object} createExportResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /exports/{id} [delete]
func (h *Handler) CancelExport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.jobSvc.CancelJob(r.Context(), id, ownerFrom(r)); err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createExportResp{ID: id.String(), Status: entity.StatusCancelled})
}

// History godoc
// @Summary List past exports
// @Tags exports
// @Produce json
// @Param from query string false "created at or after (RFC 3339)"
// @Param to query string false "created at or before (RFC 3339)"
// @Param status query string false "filter by status"
// @Param kind query string false "filter by kind"
// @Param format query string false "filter by format"
// @Param limit query int false "max records (default 50)"
// @Success 200 {array} entity.Job
// @Failure 400 {object} apiError
// @Failure 401 {object} apiError
// @Router /exports [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := entity.HistoryFilter{
		Status: entity.JobStatus(q.Get("status")),
		Kind:   entity.ExportKind(q.Get("kind")),
		Format: q.Get("format"),
	}
	if v := q.Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid from")
			return
		}
		f.From = &ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid to")
			return
		}
		f.To = &ts
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = n
	}

	jobs, err := h.jobSvc.History(r.Context(), ownerFrom(r), f)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// Analytics godoc
// @Summary Export usage analytics
// @Description Aggregates the caller's exports over a period: counts by status, kind and format, success and retry rates, artifact sizes.
// @Tags exports
// @Produce json
// @Param period query string false "week, month, quarter or year (default month)"
// @Success 200 {object} service.Analytics
// @Failure 401 {object} apiError
// @Router /exports/analytics [get]
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.jobSvc.GetAnalytics(r.Context(), ownerFrom(r), r.URL.Query().Get("period"))
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type createTemplateDTO struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Kind        entity.ExportKind `json:"kind"`
	Format      string            `json:"format"`
	Filters     json.RawMessage   `json:"filters,omitempty"`
	Options     json.RawMessage   `json:"options,omitempty"`
	Sharing     []entity.Grant    `json:"sharing,omitempty"`
}

// CreateTemplate godoc
// @Summary Save an export template
// @Tags templates
// @Accept json
// @Produce json
// @Param request body createTemplateDTO true "template payload"
// @Success 201 {object} entity.Template
// @Failure 400 {object} apiError
// @Failure 401 {object} apiError
// @Router /templates [post]
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var dto createTemplateDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	tpl, err := h.tplSvc.CreateTemplate(r.Context(), service.CreateTemplateRequest{
		Owner:       ownerFrom(r),
		Name:        dto.Name,
		Description: dto.Description,
		Spec: entity.ExportSpec{
			Kind:    dto.Kind,
			Format:  dto.Format,
			Filters: dto.Filters,
			Options: dto.Options,
		},
		Sharing: dto.Sharing,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

// ListTemplates godoc
// @Summary List templates owned by or shared with the caller
// @Tags templates
// @Produce json
// @Success 200 {array} entity.Template
// @Failure 401 {object} apiError
// @Router /templates [get]
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.tplSvc.ListTemplates(r.Context(), ownerFrom(r))
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

// UseTemplate godoc
// @Summary Start an export from a template
// @Description Merges per-call overrides onto the template spec and creates the export. Requires ownership or a use/edit grant.
// @Tags templates
// @Accept json
// @Produce json
// @Param id path string true "template id (uuid)"
// @Param request body service.SpecOverrides false "spec overrides"
// @Success 201 {object} createExportResp
// @Failure 400 {object} apiError
// @Failure 403 {object} apiError
// @Failure 404 {object} apiError
// @Router /templates/{id}/use [post]
func (h *Handler) UseTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	var overrides service.SpecOverrides
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	job, err := h.tplSvc.UseTemplate(r.Context(), id, ownerFrom(r), overrides)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createExportResp{ID: job.ID.String(), Status: job.Status})
}

// ScheduleTemplate godoc
// @Summary Enable recurrence on a template
// @Description Sets the schedule and computes the first run instant. Requires ownership or an edit grant.
// @Tags templates
// @Accept json
// @Produce json
// @Param id path string true "template id (uuid)"
// @Param request body entity.Schedule true "schedule (frequency, time HH:MM, timezone)"
// @Success 200 {object} entity.Template
// @Failure 400 {object} apiError
// @Failure 403 {object} apiError
// @Failure 404 {object} apiError
// @Router /templates/{id}/schedule [put]
func (h *Handler) ScheduleTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	var sched entity.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	tpl, err := h.tplSvc.ScheduleTemplate(r.Context(), id, ownerFrom(r), sched)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}
