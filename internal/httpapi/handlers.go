package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"postflow/internal/domain"
	"postflow/internal/publisher"
	"postflow/internal/service"
	"postflow/internal/store"
)

type API struct {
	Svc   *service.ScheduleService
	IDGen func() string
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/schedules", a.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/v1/schedules/{id}", a.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/v1/schedules/{id}/cancel", a.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/v1/heartbeats/latest", a.handleLatestHeartbeat).Methods(http.MethodGet)
}

// scheduleView is the user-facing shape: while retrying it carries the next
// attempt time; after fallback it carries the full manual-publish state.
type scheduleView struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	ContentID       string     `json:"contentId"`
	SocialAccountID string     `json:"socialAccountId"`
	Platform        string     `json:"platform"`
	Text            string     `json:"text,omitempty"`
	Title           string     `json:"title,omitempty"`
	Description     string     `json:"description,omitempty"`
	MediaURLs       []string   `json:"mediaUrls,omitempty"`
	ScheduledTime   time.Time  `json:"scheduledTime"`
	Status          string     `json:"status"`
	Tries           int        `json:"tries"`
	LastError       string     `json:"lastError,omitempty"`
	PublishedURL    string     `json:"publishedUrl,omitempty"`
	NextRetryAt     *time.Time `json:"nextRetryAt,omitempty"`
	FallbackSent    bool       `json:"fallbackSent"`
	FallbackSentAt  *time.Time `json:"fallbackSentAt,omitempty"`
}

func viewOf(rec store.ScheduleRecord) scheduleView {
	return scheduleView{
		ID:              rec.ID,
		UserID:          rec.UserID,
		ContentID:       rec.ContentID,
		SocialAccountID: rec.SocialAccountID,
		Platform:        string(rec.Platform),
		Text:            rec.Text,
		Title:           rec.Title,
		Description:     rec.Description,
		MediaURLs:       rec.MediaURLs,
		ScheduledTime:   rec.ScheduledTime,
		Status:          string(rec.Status),
		Tries:           rec.Tries,
		LastError:       rec.LastError,
		PublishedURL:    rec.PublishedURL,
		NextRetryAt:     rec.NextRetryAt,
		FallbackSent:    rec.FallbackSent,
		FallbackSentAt:  rec.FallbackSentAt,
	}
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	rec, err := a.Svc.Create(r.Context(), req, a.IDGen())
	if err != nil {
		var pe *publisher.Error
		if errors.Is(err, domain.ErrMissingFields) || errors.Is(err, domain.ErrUnknownPlatform) || errors.As(err, &pe) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("create schedule failed", "err", err, "user_id", req.UserID, "platform", req.Platform)
		http.Error(w, "db error", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(viewOf(rec))
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, found, err := a.Svc.Get(r.Context(), id)
	if err != nil {
		slog.Error("get schedule failed", "err", err, "id", id)
		http.Error(w, "db error", http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(viewOf(rec))
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := a.Svc.Cancel(r.Context(), id)
	if err != nil {
		slog.Error("cancel schedule failed", "err", err, "id", id)
		http.Error(w, "db error", http.StatusBadGateway)
		return
	}
	if !ok {
		// processing, already terminal, or unknown
		_, found, gerr := a.Svc.Get(r.Context(), id)
		if gerr == nil && !found {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "not cancellable", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLatestHeartbeat(w http.ResponseWriter, r *http.Request) {
	hb, found, err := a.Svc.LatestHeartbeat(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"instance":    hb.Instance,
		"completedAt": hb.CompletedAt,
		"claimed":     hb.Claimed,
		"dispatched":  hb.Dispatched,
	})
}
