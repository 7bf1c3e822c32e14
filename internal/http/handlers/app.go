package handlers

import (
	"encoding/json"
	"net/http"

	"server/internal/batch"
	"server/internal/infra"
	"server/internal/middleware"
	"server/internal/notify"
	"server/internal/storage"
	"server/internal/store"
)

// App bundles the dependencies the HTTP handlers need.
type App struct {
	Store        store.Store
	Orchestrator *batch.Orchestrator
	Hub          *notify.Hub
	Files        *storage.FileStore
	Config       *infra.Config
	Logger       infra.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"error": code, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
