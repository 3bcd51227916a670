package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/store"
	"github.com/voxlabs/vox-core/internal/worker"
)

// Handler serves the management REST surface: model inventory and
// transcription history.
type Handler struct {
	cfg   config.Config
	sup   *worker.Supervisor
	store *store.Store
	log   *slog.Logger
}

func New(cfg config.Config, sup *worker.Supervisor, st *store.Store, log *slog.Logger) *Handler {
	return &Handler{cfg: cfg, sup: sup, store: st, log: log}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/models", h.handleModels)
	mux.HandleFunc("GET /api/v1/history", h.handleSessions)
	mux.HandleFunc("GET /api/v1/history/{session_id}", h.handleSession)
	mux.HandleFunc("DELETE /api/v1/history/{session_id}", h.handleDeleteSession)
}

type modelInfo struct {
	ID         string `json:"id"`
	Strategy   string `json:"strategy"`
	Mode       string `json:"mode"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate"`
	AlwaysWarm bool   `json:"always_warm"`
	Default    bool   `json:"default"`
	State      string `json:"state"`
}

func (h *Handler) handleModels(w http.ResponseWriter, _ *http.Request) {
	states := h.sup.WorkerStates()
	models := make([]modelInfo, 0, len(h.cfg.Models))
	for _, m := range h.cfg.Models {
		models = append(models, modelInfo{
			ID:         m.ID,
			Strategy:   m.Strategy,
			Mode:       m.Mode,
			Language:   m.Language,
			SampleRate: m.SampleRate,
			AlwaysWarm: m.AlwaysWarm,
			Default:    m.ID == h.cfg.Gateway.DefaultModel,
			State:      states[m.ID],
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.Sessions(r.Context(), limitParam(r))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []store.SessionSummary{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	entries, err := h.store.ListSession(r.Context(), sessionID, limitParam(r))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  sessionID,
		"transcripts": entries,
	})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if err := h.store.DeleteSession(r.Context(), sessionID); err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"deleted": sessionID})
}

func limitParam(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return 0
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("api response write failed", slog.String("error", err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.log.Warn("api request failed", slog.String("error", err.Error()))
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
