// mock-platform fakes the platform APIs the worker publishes to, for local
// runs and load tests. Point the publishers' base URLs at it and pick failure
// outcomes via env.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"
)

type config struct {
	Port        string `envconfig:"PORT" default:"8090"`
	OutcomeMode string `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"`
	OutcomesRaw string `envconfig:"MOCK_OUTCOMES" default:"ok"`
	DelayMs     int    `envconfig:"MOCK_DELAY_MS" default:"0"`

	Outcomes []string
	Delay    time.Duration
}

type server struct {
	cfg config
	idx uint64
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock platform config load failed", "err", err)
		os.Exit(1)
	}
	cfg.Outcomes = parseCSV(cfg.OutcomesRaw)
	cfg.Delay = time.Duration(cfg.DelayMs) * time.Millisecond

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	s := &server{cfg: cfg}

	r := mux.NewRouter()
	// graph api: page feed/photos and instagram container flow
	r.HandleFunc("/{account}/feed", s.handleGraph).Methods(http.MethodPost)
	r.HandleFunc("/{account}/photos", s.handleGraph).Methods(http.MethodPost)
	r.HandleFunc("/{account}/media", s.handleGraph).Methods(http.MethodPost)
	r.HandleFunc("/{account}/media_publish", s.handleGraph).Methods(http.MethodPost)
	r.HandleFunc("/{id}", s.handlePermalink).Methods(http.MethodGet)
	// linkedin
	r.HandleFunc("/v2/ugcPosts", s.handleLinkedIn).Methods(http.MethodPost)
	// youtube resumable upload
	r.HandleFunc("/upload/youtube/v3/videos", s.handleYouTubeInit).Methods(http.MethodPost)
	r.HandleFunc("/upload/session/{id}", s.handleYouTubeUpload).Methods(http.MethodPut)

	slog.Info("mock platform listening", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		slog.Error("mock platform server failed", "err", err)
		os.Exit(1)
	}
}

func (s *server) nextOutcome() string {
	if s.cfg.OutcomeMode == "round_robin" {
		i := atomic.AddUint64(&s.idx, 1) - 1
		return s.cfg.Outcomes[int(i)%len(s.cfg.Outcomes)]
	}
	return s.cfg.Outcomes[0]
}

func (s *server) wait() {
	if s.cfg.Delay > 0 {
		time.Sleep(s.cfg.Delay)
	}
}

// graph failures use the envelope's numeric code; everything else is carried
// by HTTP status alone
func (s *server) handleGraph(w http.ResponseWriter, r *http.Request) {
	s.wait()
	switch s.nextOutcome() {
	case "token_expired":
		writeJSON(w, http.StatusUnauthorized, graphError(190, "Error validating access token"))
	case "rate_limit":
		writeJSON(w, http.StatusTooManyRequests, graphError(4, "Application request limit reached"))
	case "permission":
		writeJSON(w, http.StatusForbidden, graphError(200, "Requires pages_manage_posts permission"))
	case "invalid_media":
		writeJSON(w, http.StatusBadRequest, graphError(100, "Invalid parameter"))
	case "invalid_account":
		writeJSON(w, http.StatusNotFound, graphError(803, "Cannot query users by their username"))
	case "server_error":
		writeJSON(w, http.StatusInternalServerError, graphError(1, "An unknown error occurred"))
	default:
		id := fmt.Sprintf("%d", atomic.AddUint64(&s.idx, 1))
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "post_id": mux.Vars(r)["account"] + "_" + id})
	}
}

func (s *server) handlePermalink(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"id":        mux.Vars(r)["id"],
		"permalink": "https://www.instagram.com/p/" + mux.Vars(r)["id"] + "/",
	})
}

func (s *server) handleLinkedIn(w http.ResponseWriter, r *http.Request) {
	s.wait()
	switch s.nextOutcome() {
	case "token_expired":
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid access token", "serviceErrorCode": 65601, "status": 401})
	case "rate_limit":
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"message": "Resource-level throttle limit reached", "status": 429})
	case "permission":
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "Not enough permissions", "status": 403})
	default:
		id := fmt.Sprintf("urn:li:share:%d", atomic.AddUint64(&s.idx, 1))
		w.Header().Set("X-RestLi-Id", id)
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

func (s *server) handleYouTubeInit(w http.ResponseWriter, r *http.Request) {
	s.wait()
	switch s.nextOutcome() {
	case "token_expired":
		writeJSON(w, http.StatusUnauthorized, youtubeError("authError", "Invalid Credentials"))
	case "rate_limit":
		writeJSON(w, http.StatusForbidden, youtubeError("quotaExceeded", "Daily quota exceeded"))
	case "permission":
		writeJSON(w, http.StatusForbidden, youtubeError("insufficientPermissions", "Insufficient permissions"))
	default:
		id := fmt.Sprintf("%d", atomic.AddUint64(&s.idx, 1))
		w.Header().Set("Location", "http://"+r.Host+"/upload/session/"+id)
		w.WriteHeader(http.StatusOK)
	}
}

func (s *server) handleYouTubeUpload(w http.ResponseWriter, r *http.Request) {
	s.wait()
	writeJSON(w, http.StatusOK, map[string]string{"id": "vid" + mux.Vars(r)["id"]})
}

func graphError(code int, msg string) map[string]any {
	return map[string]any{"error": map[string]any{"message": msg, "type": "OAuthException", "code": code}}
}

func youtubeError(reason, msg string) map[string]any {
	return map[string]any{"error": map[string]any{
		"code": 403, "message": msg,
		"errors": []map[string]string{{"reason": reason, "message": msg}},
	}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"ok"}
	}
	return out
}
