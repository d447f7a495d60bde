package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/encodis/encodis/internal/model"
	"github.com/encodis/encodis/internal/store"
	"github.com/go-chi/chi/v5"
)

type jobsListResponse struct {
	Jobs         []*model.Job   `json:"jobs"`
	StatusCounts map[string]int `json:"statusCounts"`
	NextCursor   int64          `json:"nextCursor,omitempty"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		Status:         model.JobStatus(q.Get("status")),
		IncludeCleared: q.Get("includeCleared") == "true",
	}
	if cursor, err := strconv.ParseInt(q.Get("cursor"), 10, 64); err == nil {
		filter.Cursor = cursor
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}

	jobs, err := s.Store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	counts := map[string]int{}
	for _, j := range jobs {
		counts[string(j.Status)]++
	}

	resp := jobsListResponse{Jobs: jobs, StatusCounts: counts}
	if filter.Limit > 0 && len(jobs) == filter.Limit {
		resp.NextCursor = jobs[len(jobs)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var opts model.ConversionOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}

	batch, err := s.Scheduler.SubmitBatch(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

type jobActionRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleJobAction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid job id")
		return
	}

	var req jobActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}

	switch req.Action {
	case "retry":
		err = s.Scheduler.Retry(r.Context(), id)
	case "cancel":
		err = s.Scheduler.Cancel(r.Context(), id)
	default:
		writeError(w, http.StatusBadRequest, "validation_error", "unknown action")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	count, err := s.Scheduler.CancelAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": count})
}

type bulkOpRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleBulkOp(w http.ResponseWriter, r *http.Request) {
	var req bulkOpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}

	switch req.Action {
	case "retry-all-failed":
		count, err := s.Scheduler.RetryAllFailed(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"retried": count})
	case "clear-finished":
		count, err := s.Scheduler.ClearFinished(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"cleared": count})
	default:
		writeError(w, http.StatusBadRequest, "validation_error", "unknown action")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, map[string]string{"error": kind, "detail": detail})
}
