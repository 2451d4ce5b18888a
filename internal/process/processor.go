package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"reelay/internal/stream"
	"reelay/internal/videojob"
	"reelay/internal/webhook"
)

// JobStore is the persisted job record the processor applies events
// to. Implemented by videojob.Store.
type JobStore interface {
	FindByCallbackID(ctx context.Context, callbackID string) (*videojob.VideoJob, error)
	MarkCompleted(ctx context.Context, callbackID, resultURL, gifURL, sharePageURL string) error
	MarkFailed(ctx context.Context, callbackID, errorMessage string) error
}

// Notifier fans the resulting status message out to live subscribers.
// Implemented by hub.Hub.
type Notifier interface {
	Publish(videoID string, msg stream.Message)
}

// Processor applies verified webhook events to job state and forwards
// the outcome to the notification layer.
type Processor struct {
	Store    JobStore
	Notifier Notifier
	Logger   *slog.Logger
}

// Apply is idempotent per callback ID: re-delivering an event whose
// terminal status already matches the stored record is a no-op
// success, which at-least-once webhook delivery requires.
func (p *Processor) Apply(ctx context.Context, ev *webhook.Event) error {
	job, err := p.Store.FindByCallbackID(ctx, ev.CallbackID)
	if err != nil {
		if errors.Is(err, videojob.ErrNotFound) {
			return permanent(fmt.Errorf("unknown callback id %q", ev.CallbackID))
		}
		return transient(err)
	}

	want := videojob.StatusCompleted
	if ev.Type == webhook.TypeFail {
		want = videojob.StatusFailed
	}

	if job.Status == want {
		p.Logger.Info("duplicate webhook delivery ignored",
			"callback_id", ev.CallbackID, "status", job.Status)
		return nil
	}
	if job.Status != videojob.StatusPending {
		// Conflicting terminal outcome for the same callback id.
		return permanent(fmt.Errorf("callback %q already terminal with status %s", ev.CallbackID, job.Status))
	}

	switch ev.Type {
	case webhook.TypeSuccess:
		if err := p.Store.MarkCompleted(ctx, ev.CallbackID, ev.ResultURL, ev.GifURL, ev.SharePageURL); err != nil {
			return transient(err)
		}
		p.Notifier.Publish(ev.VideoID, stream.Message{
			Type:      stream.TypeJobCompleted,
			VideoID:   ev.VideoID,
			ResultURL: ev.ResultURL,
			GifURL:    ev.GifURL,
		}.Now())
	case webhook.TypeFail:
		if err := p.Store.MarkFailed(ctx, ev.CallbackID, ev.ErrorMessage); err != nil {
			return transient(err)
		}
		p.Notifier.Publish(ev.VideoID, stream.Message{
			Type:    stream.TypeJobFailed,
			VideoID: ev.VideoID,
			Error:   ev.ErrorMessage,
		}.Now())
	default:
		return permanent(fmt.Errorf("unknown event type %q", ev.Type))
	}

	p.Logger.Info("webhook event applied",
		"callback_id", ev.CallbackID, "video_id", ev.VideoID, "type", ev.Type)
	return nil
}
