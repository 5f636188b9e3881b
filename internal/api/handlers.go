package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tagdex/internal/apperr"
	"github.com/starford/tagdex/internal/recommit"
	"github.com/starford/tagdex/internal/service"
)

// Handler holds API route handlers.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// urlParam returns a path parameter, unescaping tokens such as "geo%3Aname".
func urlParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// minimumCount reads ?minimum_count, returning -1 (the configured default)
// when absent.
func minimumCount(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("minimum_count")
	if raw == "" {
		return -1, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("minimum_count must be a non-negative integer")
	}
	return n, nil
}

// resumeParams reads the optional ?keyset and ?window of a resume request.
// An absent window is 0, the configured default.
func resumeParams(r *http.Request) (keyset bool, window int, err error) {
	q := r.URL.Query()
	if raw := q.Get("keyset"); raw != "" {
		keyset, err = strconv.ParseBool(raw)
		if err != nil {
			return false, 0, errors.New("keyset must be a boolean")
		}
	}
	if raw := q.Get("window"); raw != "" {
		window, err = strconv.Atoi(raw)
		if err != nil || window < 0 {
			return false, 0, errors.New("window must be a non-negative integer")
		}
	}
	return keyset, window, nil
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, op string, err error) {
	var runErr *recommit.RunError
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrUnknownTag):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrMalformedPath), errors.Is(err, apperr.ErrInvalidArgument),
		errors.Is(err, apperr.ErrUnstableSort):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrStoreConnectivity):
		slog.Error(op+" failed", slog.String("error", err.Error()))
		body := map[string]any{"error": "store unavailable"}
		if errors.As(err, &runErr) {
			body["run_id"] = runErr.RunID
			body["resume_skip"] = runErr.Skip
		}
		writeJSON(w, http.StatusServiceUnavailable, body)
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListTags handles GET /api/tags.
//
//	@Summary		List all tags
//	@Tags			tags
//	@Produce		json
//	@Success		200	{object}	TagListResponse
//	@Security		BearerAuth
//	@Router			/tags [get]
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TagListResponse{Tags: h.svc.Tags(r.Context())})
}

// PutTag handles POST /api/tags.
//
//	@Summary		Register or rename a tag
//	@Tags			tags
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PutTagRequest	true	"Tag"
//	@Success		200		{object}	TagView
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tags [post]
func (h *Handler) PutTag(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var req PutTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	tag, err := h.svc.PutTag(r.Context(), req.Serial, req.Identifier)
	if err != nil {
		writeError(w, "put tag", err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

// GetTag handles GET /api/tags/{token}.
//
//	@Summary		Resolve a tag by identifier or @serial
//	@Tags			tags
//	@Produce		json
//	@Param			token	path		string	true	"Identifier (geo:name) or serial token (@7)"
//	@Success		200		{object}	TagDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tags/{token} [get]
func (h *Handler) GetTag(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.Tag(r.Context(), urlParam(r, "token"))
	if err != nil {
		writeError(w, "get tag", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// PlanTag handles GET /api/tags/{token}/plan.
//
//	@Summary		Compute the index plan of a tag
//	@Tags			indexes
//	@Produce		json
//	@Param			token			path		string	true	"Tag token"
//	@Param			minimum_count	query		int		false	"Usage threshold"
//	@Success		200				{object}	PlanResponse
//	@Failure		400				{object}	errResponse
//	@Failure		404				{object}	errResponse
//	@Failure		503				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tags/{token}/plan [get]
func (h *Handler) PlanTag(w http.ResponseWriter, r *http.Request) {
	min, err := minimumCount(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	plan, err := h.svc.Plan(r.Context(), urlParam(r, "token"), min)
	if err != nil {
		writeError(w, "plan", err)
		return
	}
	writeJSON(w, http.StatusOK, PlanResponse{Indexes: plan})
}

// ReconcileTag handles POST /api/tags/{token}/reconcile.
//
//	@Summary		Create planned indexes and drop obsolete ones
//	@Tags			indexes
//	@Produce		json
//	@Param			token			path		string	true	"Tag token"
//	@Param			minimum_count	query		int		false	"Usage threshold"
//	@Success		200				{object}	planner.Result
//	@Failure		404				{object}	errResponse
//	@Failure		503				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tags/{token}/reconcile [post]
func (h *Handler) ReconcileTag(w http.ResponseWriter, r *http.Request) {
	min, err := minimumCount(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.Reconcile(r.Context(), urlParam(r, "token"), min)
	if err != nil {
		writeError(w, "reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DescribeOffset handles GET /api/offsets/{path}.
//
//	@Summary		Describe an offset path
//	@Tags			tags
//	@Produce		json
//	@Param			path	path		string	true	"Offset path, e.g. 3.7"
//	@Success		200		{object}	OffsetResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/offsets/{path} [get]
func (h *Handler) DescribeOffset(w http.ResponseWriter, r *http.Request) {
	path := urlParam(r, "path")
	desc, err := h.svc.Describe(r.Context(), path)
	if err != nil {
		writeError(w, "describe offset", err)
		return
	}
	writeJSON(w, http.StatusOK, OffsetResponse{Path: path, Description: desc})
}

// ListIndexes handles GET /api/indexes.
//
//	@Summary		List store indexes
//	@Tags			indexes
//	@Produce		json
//	@Success		200	{object}	PlanResponse
//	@Security		BearerAuth
//	@Router			/indexes [get]
func (h *Handler) ListIndexes(w http.ResponseWriter, r *http.Request) {
	specs, err := h.svc.Indexes(r.Context())
	if err != nil {
		writeError(w, "list indexes", err)
		return
	}
	writeJSON(w, http.StatusOK, PlanResponse{Indexes: specs})
}

// Scan handles POST /api/scan.
//
//	@Summary		Recompute usage counters with a full scan
//	@Tags			runs
//	@Produce		json
//	@Success		200	{object}	usage.Report
//	@Failure		409	{object}	errResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/scan [post]
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Scan(r.Context())
	if err != nil {
		writeError(w, "scan", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Recommit handles POST /api/recommit.
//
//	@Summary		Rebuild derived fields of matching documents
//	@Tags			runs
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RecommitRequest	true	"Run selection"
//	@Success		200		{object}	RecommitResponse
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recommit [post]
func (h *Handler) Recommit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req RecommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	stats, err := h.svc.Recommit(r.Context(), req)
	if err != nil {
		writeError(w, "recommit", err)
		return
	}
	writeJSON(w, http.StatusOK, RecommitResponse{Runs: stats})
}

// ResumeRecommit handles POST /api/recommit/{runID}/resume.
//
//	@Summary		Resume a recommit run from its checkpoint
//	@Tags			runs
//	@Produce		json
//	@Param			runID	path		string	true	"Run id"
//	@Param			keyset	query		bool	false	"Resume with the key cursor"
//	@Param			window	query		int		false	"Documents per window"
//	@Success		200		{object}	recommit.Stats
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recommit/{runID}/resume [post]
func (h *Handler) ResumeRecommit(w http.ResponseWriter, r *http.Request) {
	keyset, window, err := resumeParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	st, err := h.svc.ResumeRecommit(r.Context(), urlParam(r, "runID"), window, keyset)
	if err != nil {
		writeError(w, "resume recommit", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetCheckpoint handles GET /api/recommit/{runID}.
//
//	@Summary		Get the checkpoint of a recommit run
//	@Tags			runs
//	@Produce		json
//	@Param			runID	path		string	true	"Run id"
//	@Success		200		{object}	models.Checkpoint
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recommit/{runID} [get]
func (h *Handler) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := h.svc.Checkpoint(r.Context(), urlParam(r, "runID"))
	if err != nil {
		writeError(w, "get checkpoint", err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}
