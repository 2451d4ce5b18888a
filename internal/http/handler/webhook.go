package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"reelay/internal/process"
	"reelay/internal/retry"
	"reelay/internal/webhook"
)

// Applier runs a verified event through the job-event processor.
type Applier interface {
	Apply(ctx context.Context, ev *webhook.Event) error
}

// RetryEnqueuer durably stores events whose first application failed.
type RetryEnqueuer interface {
	Enqueue(ctx context.Context, ev *webhook.Event, cause error) (*retry.Record, error)
	InsertFailed(ctx context.Context, ev *webhook.Event, cause error) (*retry.Record, error)
}

// WebhookHandler is the provider callback endpoint: gatekeeper in
// front, processor behind, retry queue as the safety net.
type WebhookHandler struct {
	Gatekeeper *webhook.Gatekeeper
	Applier    Applier
	Retry      RetryEnqueuer
	Logger     *slog.Logger
}

// HandleCallback acknowledges 200 once the event is either applied or
// durably queued. Answering the provider with an error here would only
// trigger its own retries on top of ours.
func (h *WebhookHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read request body", http.StatusInternalServerError)
		return
	}
	r.Body.Close()

	ev, err := h.Gatekeeper.Admit(body, r.Header, r.RemoteAddr)
	if err != nil {
		var rej *webhook.Rejection
		if errors.As(err, &rej) {
			http.Error(w, rej.Reason, rej.Status)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := h.Applier.Apply(r.Context(), ev); err != nil {
		var perm *process.PermanentError
		var trans *process.TransientError

		switch {
		case errors.As(err, &perm):
			h.Logger.Error("webhook event failed permanently",
				"callback_id", ev.CallbackID, "error", err)
			if _, ferr := h.Retry.InsertFailed(r.Context(), ev, err); ferr != nil {
				h.Logger.Error("failed to record permanent failure", "error", ferr)
			}
		case errors.As(err, &trans):
			h.Logger.Warn("webhook event deferred to retry queue",
				"callback_id", ev.CallbackID, "error", err)
			if _, qerr := h.Retry.Enqueue(r.Context(), ev, err); qerr != nil {
				h.Logger.Error("retry enqueue failed, event lost without provider redelivery",
					"callback_id", ev.CallbackID, "error", qerr)
				http.Error(w, "processing error", http.StatusInternalServerError)
				return
			}
		default:
			h.Logger.Error("webhook event failed unexpectedly",
				"callback_id", ev.CallbackID, "error", err)
			http.Error(w, "processing error", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}
