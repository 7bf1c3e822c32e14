package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/batch"
	"server/internal/domain"
)

type jobCreateRequest struct {
	Prompt      json.RawMessage `json:"prompt"`
	Provider    string          `json:"provider"`
	AspectRatio string          `json:"aspect_ratio"`
}

// JobsCreate accepts a single job submission. The job is fulfilled
// asynchronously; the response only confirms enqueueing.
func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req jobCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	job, err := a.Orchestrator.CreateJob(r.Context(), userID, batch.RowSpec{
		Prompt:      req.Prompt,
		Provider:    req.Provider,
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to enqueue job")
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "status": string(job.Status)})
}

// JobsGet returns the authoritative job record. Push events are hints;
// this endpoint is the source of truth clients poll after reconnects.
func (a *App) JobsGet(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	job, err := a.Store.GetJob(r.Context(), jobID)
	if err != nil || job.OwnerID != userID {
		// Another owner's job is indistinguishable from a missing one.
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.json(w, http.StatusOK, domain.NewJobView(job))
}
