package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"server/internal/batch"
	"server/internal/domain"
)

type batchCreateRequest struct {
	Rows []batch.RowSpec `json:"rows"`
}

// BatchesCreate accepts a multi-row submission and enqueues one job per
// row under a new batch.
func (a *App) BatchesCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req batchCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	created, err := a.Orchestrator.CreateBatch(r.Context(), userID, req.Rows)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to create batch")
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"batch_id": created.ID, "status": string(created.Status)})
}

// BatchesGet returns the batch snapshot including aggregate progress.
func (a *App) BatchesGet(w http.ResponseWriter, r *http.Request) {
	b := a.loadBatchForUser(w, r)
	if b == nil {
		return
	}
	a.json(w, http.StatusOK, domain.NewBatchView(b))
}

// BatchesStop requests cooperative cancellation. Idempotent: stopping a
// terminal batch returns its snapshot unchanged.
func (a *App) BatchesStop(w http.ResponseWriter, r *http.Request) {
	b := a.loadBatchForUser(w, r)
	if b == nil {
		return
	}
	updated, err := a.Orchestrator.RequestStop(r.Context(), b.ID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to stop batch")
		return
	}
	a.json(w, http.StatusOK, domain.NewBatchView(updated))
}

// BatchesArtifact streams the packaged archive of a finished batch.
func (a *App) BatchesArtifact(w http.ResponseWriter, r *http.Request) {
	b := a.loadBatchForUser(w, r)
	if b == nil {
		return
	}
	if b.ArtifactURL == "" {
		a.error(w, http.StatusNotFound, "not_found", "artifact not available")
		return
	}
	key := b.ArtifactURL
	if base := strings.TrimRight(a.Config.AssetBaseURL, "/"); base != "" {
		key = strings.TrimPrefix(key, base+"/")
	}
	data, err := a.Files.Read(r.Context(), key)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "artifact not available")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=batch-%s.zip", b.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *App) loadBatchForUser(w http.ResponseWriter, r *http.Request) *domain.Batch {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return nil
	}
	batchID := chi.URLParam(r, "id")
	if batchID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return nil
	}
	b, err := a.Store.GetBatch(r.Context(), batchID)
	if err != nil || b.OwnerID != userID {
		a.error(w, http.StatusNotFound, "not_found", "batch not found")
		return nil
	}
	return b
}
