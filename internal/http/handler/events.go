package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"reelay/internal/hub"
	"reelay/internal/stream"
)

// EventsHandler serves the long-lived push stream as server-sent
// events. One request is one physical connection; the hub routes
// job-status messages onto it and a periodic liveness ping keeps
// silent connection death detectable.
type EventsHandler struct {
	Hub          *hub.Hub
	Logger       *slog.Logger
	PingInterval time.Duration
}

func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Empty videoId subscribes to every job the session can see.
	videoID := r.URL.Query().Get("videoId")
	sub := h.Hub.Subscribe(videoID, 16)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if err := writeEvent(w, flusher, stream.Message{
		Type:    stream.TypeConnectionAck,
		Message: "connected",
	}.Now()); err != nil {
		return
	}

	interval := h.PingInterval
	if interval <= 0 {
		interval = 25 * time.Second
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-sub.C:
			if err := writeEvent(w, flusher, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := writeEvent(w, flusher, stream.Message{
				Type: stream.TypeLivenessPing,
			}.Now()); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, msg stream.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
