package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/contentflow/wfm/internal/model"
	"github.com/contentflow/wfm/internal/prompt"
)

// MaxBatch is the largest number of jobs one batch request may submit.
const MaxBatch = 50

type BrandDataRequest struct {
	BrandName string   `json:"brand_name" validate:"required"`
	URLs      []string `json:"urls" validate:"required,min=1,dive,required"`
}

func (req BrandDataRequest) params() model.Params {
	return model.Params{
		"brand_name": req.BrandName,
		"urls":       req.URLs,
	}
}

type BriefRequest struct {
	Title             string `json:"title" validate:"required"`
	PrimaryKeyword    string `json:"primary_keyword" validate:"required"`
	SecondaryKeywords string `json:"secondary_keywords"`
	BrandData         string `json:"brand_data" validate:"required"`
}

func (req BriefRequest) params() model.Params {
	return model.Params{
		"title":              req.Title,
		"primary_keyword":    req.PrimaryKeyword,
		"secondary_keywords": req.SecondaryKeywords,
		"brand_data":         req.BrandData,
	}
}

type DraftRequest struct {
	BriefFilename     string `json:"brief_filename" validate:"required"`
	BrandDataFilename string `json:"brand_data_filename" validate:"required"`
}

func (req DraftRequest) params() model.Params {
	return model.Params{
		"brief_filename":      req.BriefFilename,
		"brand_data_filename": req.BrandDataFilename,
	}
}

type BriefBatchRequest struct {
	Briefs []BriefRequest `json:"briefs"`
}

type DraftBatchRequest struct {
	Drafts []DraftRequest `json:"drafts"`
}

type JobResponse struct {
	JobID string `json:"job_id"`
}

type BatchResponse struct {
	BatchID   string   `json:"batch_id"`
	JobIDs    []string `json:"job_ids"`
	TotalJobs int      `json:"total_jobs"`
	Message   string   `json:"message"`
}

type JobsResponse struct {
	Jobs []model.JobView `json:"jobs"`
}

// requestError is a client error found while checking a request.
type requestError struct {
	status  int
	message string
	err     error
}

func (e *requestError) Error() string {
	return e.message
}

func (e *requestError) Unwrap() error {
	return e.err
}

func badRequest(message string, err error) *requestError {
	return &requestError{status: http.StatusBadRequest, message: message, err: err}
}

// invalid validates v and returns the message of the first failing field,
// or fallback when the field has none.
func (h *Handler) invalid(v any, messages map[string]string, fallback string) *requestError {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if msg, ok := messages[verrs[0].StructField()]; ok {
			return badRequest(msg, err)
		}
	}
	return badRequest(fallback, err)
}

// requireFile fails unless the referenced input file is in the store.
func (h *Handler) requireFile(r *http.Request, folder, name, message string) error {
	ok, err := h.store.Exists(r.Context(), folder, name)
	if err != nil {
		if statusOf(err) == http.StatusBadRequest {
			return badRequest("Invalid file name: "+name, err)
		}
		return fmt.Errorf("checking %s/%s: %w", folder, name, err)
	}
	if !ok {
		return &requestError{status: http.StatusNotFound, message: message}
	}
	return nil
}

func (h *Handler) respondCheck(w http.ResponseWriter, r *http.Request, err error) {
	var rerr *requestError
	if errors.As(err, &rerr) {
		respondErrorAndLog(w, r, rerr.status, rerr.message, rerr.err)
		return
	}
	respondErrorAndLog(w, r, http.StatusInternalServerError, "Failed to check input files", err)
}

func (h *Handler) GenerateBrandData(w http.ResponseWriter, r *http.Request) {
	var req BrandDataRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.invalid(req, map[string]string{
		"BrandName": "Brand name is required",
		"URLs":      "At least one URL is required",
	}, "Invalid brand data request"); err != nil {
		h.respondCheck(w, r, err)
		return
	}
	id := h.jobs.Submit(model.KindBrandData, req.params(), "")
	respondJSON(w, r, http.StatusOK, JobResponse{JobID: id})
}

func (h *Handler) checkBrief(r *http.Request, req BriefRequest, message string, detailed bool) error {
	if err := h.invalid(req, nil, message); err != nil {
		return err
	}
	msg := "Brand data file not found"
	if detailed {
		msg += ": " + req.BrandData
	}
	return h.requireFile(r, prompt.FolderBrandData, req.BrandData, msg)
}

func (h *Handler) GenerateBrief(w http.ResponseWriter, r *http.Request) {
	var req BriefRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.checkBrief(r, req, "All fields are required", false); err != nil {
		h.respondCheck(w, r, err)
		return
	}
	id := h.jobs.Submit(model.KindBrief, req.params(), "")
	respondJSON(w, r, http.StatusOK, JobResponse{JobID: id})
}

func (h *Handler) GenerateBriefBatch(w http.ResponseWriter, r *http.Request) {
	var req BriefBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	switch {
	case len(req.Briefs) == 0:
		respondError(w, r, http.StatusBadRequest, "At least one brief is required")
		return
	case len(req.Briefs) > MaxBatch:
		respondError(w, r, http.StatusBadRequest, fmt.Sprintf("Maximum %d briefs per batch", MaxBatch))
		return
	}
	// nothing is submitted unless every item is valid
	for _, b := range req.Briefs {
		msg := fmt.Sprintf("Brief '%s' has missing required fields", b.Title)
		if err := h.checkBrief(r, b, msg, true); err != nil {
			h.respondCheck(w, r, err)
			return
		}
	}
	params := make([]model.Params, len(req.Briefs))
	for i, b := range req.Briefs {
		params[i] = b.params()
	}
	respondJSON(w, r, http.StatusOK, h.submitBatch(model.KindBrief, params, "brief"))
}

func (h *Handler) checkDraft(r *http.Request, req DraftRequest, message string, detailed bool) error {
	if err := h.invalid(req, nil, message); err != nil {
		return err
	}
	briefMsg, brandMsg := "Brief file not found", "Brand data file not found"
	if detailed {
		briefMsg += ": " + req.BriefFilename
		brandMsg += ": " + req.BrandDataFilename
	}
	if err := h.requireFile(r, prompt.FolderBriefs, req.BriefFilename, briefMsg); err != nil {
		return err
	}
	return h.requireFile(r, prompt.FolderBrandData, req.BrandDataFilename, brandMsg)
}

func (h *Handler) GenerateDraft(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.checkDraft(r, req, "Both brief and brand data are required", false); err != nil {
		h.respondCheck(w, r, err)
		return
	}
	id := h.jobs.Submit(model.KindDraft, req.params(), "")
	respondJSON(w, r, http.StatusOK, JobResponse{JobID: id})
}

func (h *Handler) GenerateDraftBatch(w http.ResponseWriter, r *http.Request) {
	var req DraftBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	switch {
	case len(req.Drafts) == 0:
		respondError(w, r, http.StatusBadRequest, "At least one draft is required")
		return
	case len(req.Drafts) > MaxBatch:
		respondError(w, r, http.StatusBadRequest, fmt.Sprintf("Maximum %d drafts per batch", MaxBatch))
		return
	}
	for _, d := range req.Drafts {
		msg := fmt.Sprintf("Draft with brief '%s' has missing required fields", d.BriefFilename)
		if err := h.checkDraft(r, d, msg, true); err != nil {
			h.respondCheck(w, r, err)
			return
		}
	}
	params := make([]model.Params, len(req.Drafts))
	for i, d := range req.Drafts {
		params[i] = d.params()
	}
	respondJSON(w, r, http.StatusOK, h.submitBatch(model.KindDraft, params, "draft"))
}

func (h *Handler) submitBatch(kind model.Kind, params []model.Params, noun string) BatchResponse {
	batchID := uuid.NewString()[:8]
	ids := make([]string, 0, len(params))
	for _, p := range params {
		ids = append(ids, h.jobs.Submit(kind, p, batchID))
	}
	return BatchResponse{
		BatchID:   batchID,
		JobIDs:    ids,
		TotalJobs: len(ids),
		Message:   fmt.Sprintf("Batch of %d %s(s) submitted successfully", len(ids), noun),
	}
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := model.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		respondError(w, r, http.StatusBadRequest, "Invalid status: "+string(status))
		return
	}
	respondJSON(w, r, http.StatusOK, JobsResponse{Jobs: h.jobs.List(status)})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	view, err := h.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondErrorAndLog(w, r, statusOf(err), "Job not found", err)
		return
	}
	respondJSON(w, r, http.StatusOK, view)
}
