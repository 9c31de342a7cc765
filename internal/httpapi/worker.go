package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"postflow/internal/store"
	"postflow/internal/util"
	"postflow/internal/worker"
)

// WorkerAPI exposes the internal publish trigger used when scanning and
// publish execution run in separate processes. Callers must already hold the
// claim ordering in mind: this endpoint claims before publishing, so it is
// safe to call concurrently with scanner instances.
type WorkerAPI struct {
	Store store.ScheduleStore
	Proc  *worker.Processor
}

func (a *WorkerAPI) Register(r *mux.Router, secret string) {
	r.Handle("/worker/publish",
		RequireSecret(secret)(http.HandlerFunc(a.handlePublish))).Methods(http.MethodPost)
}

func (a *WorkerAPI) handlePublish(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing id"})
		return
	}

	rec, found, err := a.Store.Get(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "db error"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown schedule"})
		return
	}

	// internal calls pass the acting user for ownership enforcement
	if actor := r.Header.Get("X-User-ID"); actor != "" && actor != rec.UserID {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "ownership mismatch"})
		return
	}

	if !rec.Status.Claimable() {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    "not claimable",
			"schedule": map[string]any{"id": rec.ID, "status": string(rec.Status)},
		})
		return
	}

	claimed, err := a.Store.Claim(r.Context(), rec.ID, rec.Status, util.NowUTC())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "db error"})
		return
	}
	if claimed == nil {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "already claimed"})
		return
	}

	outcome, err := a.Proc.Attempt(r.Context(), *claimed)
	if err != nil {
		after, _, _ := a.Store.Get(r.Context(), rec.ID)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":    err.Error(),
			"schedule": map[string]any{"id": after.ID, "status": string(after.Status), "tries": after.Tries},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "url": outcome.URL})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
