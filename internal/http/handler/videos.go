package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"reelay/internal/auth"
	"reelay/internal/hub"
	"reelay/internal/stream"
	"reelay/internal/videojob"
)

// VideoHandler is the thin job surface around the pipeline: register a
// render job (handing out the callback id the provider will echo) and
// query its status. The status read is the documented fallback when
// the push connection is down.
type VideoHandler struct {
	Store  *videojob.Store
	Hub    *hub.Hub
	Logger *slog.Logger
}

type videoDTO struct {
	CallbackID   string          `json:"callback_id"`
	Status       videojob.Status `json:"status"`
	ResultURL    string          `json:"result_url,omitempty"`
	GifURL       string          `json:"gif_url,omitempty"`
	SharePageURL string          `json:"share_page_url,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toDTO(j *videojob.VideoJob) videoDTO {
	return videoDTO{
		CallbackID:   j.CallbackID,
		Status:       j.Status,
		ResultURL:    j.ResultURL,
		GifURL:       j.GifURL,
		SharePageURL: j.SharePageURL,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

func (h *VideoHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	j, err := h.Store.Create(r.Context(), uid)
	if err != nil {
		h.Logger.Error("video job create failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	h.Hub.Publish("", stream.Message{
		Type:    stream.TypeJobStarted,
		AssetID: j.CallbackID,
	}.Now())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toDTO(j))
}

func (h *VideoHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	callbackID := chi.URLParam(r, "callbackID")

	j, err := h.Store.FindForUser(r.Context(), uid, callbackID)
	if err != nil {
		if errors.Is(err, videojob.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("video job read failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toDTO(j))
}
