package retry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"reelay/internal/backoff"
	"reelay/internal/process"
	"reelay/internal/webhook"
)

// Applier re-applies a stored event. Implemented by process.Processor.
type Applier interface {
	Apply(ctx context.Context, ev *webhook.Event) error
}

// Store is the slice of Repo the worker needs; split out so tests can
// drive ticks against an in-memory fake.
type Store interface {
	ClaimDue(ctx context.Context, now time.Time, maxRetries int, staleAfter time.Duration) ([]Record, error)
	MarkCompleted(ctx context.Context, id string) error
	RetryLater(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errMsg string) error
	MarkFailed(ctx context.Context, id string, retryCount int, errMsg string) error
}

// Worker re-drives failed webhook applications on a fixed interval
// until they succeed or exhaust their retry budget.
type Worker struct {
	Store      Store
	Applier    Applier
	Logger     *slog.Logger
	Interval   time.Duration
	MaxRetries int

	ticking atomic.Bool
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx, time.Now())
		}
	}
}

// Tick claims and processes one batch of due records. A tick that
// fails logs and leaves the work for the next interval; it never
// crashes the loop. Overlapping ticks are skipped outright.
func (w *Worker) Tick(ctx context.Context, now time.Time) {
	if !w.ticking.CompareAndSwap(false, true) {
		w.Logger.Warn("previous retry tick still running, skipping")
		return
	}
	defer w.ticking.Store(false)

	// A row stuck in processing for a full interval belongs to a dead
	// tick; ClaimDue returns it to pending before claiming.
	recs, err := w.Store.ClaimDue(ctx, now, w.MaxRetries, w.Interval)
	if err != nil {
		w.Logger.Error("retry claim failed", "error", err)
		return
	}

	for i := range recs {
		w.process(ctx, &recs[i], now)
	}
}

func (w *Worker) process(ctx context.Context, rec *Record, now time.Time) {
	logger := w.Logger.With("record_id", rec.ID, "retry_count", rec.RetryCount)

	var ev webhook.Event
	if err := json.Unmarshal(rec.Payload, &ev); err != nil {
		logger.Error("retry record payload unreadable", "error", err)
		if err := w.Store.MarkFailed(ctx, rec.ID, rec.RetryCount, "bad payload"); err != nil {
			logger.Error("retry status update failed", "error", err)
		}
		return
	}

	err := w.Applier.Apply(ctx, &ev)
	if err == nil {
		logger.Info("retried event applied", "callback_id", ev.CallbackID)
		if err := w.Store.MarkCompleted(ctx, rec.ID); err != nil {
			logger.Error("retry status update failed", "error", err)
		}
		return
	}

	var perm *process.PermanentError
	if errors.As(err, &perm) {
		logger.Error("retried event failed permanently", "error", err)
		if err := w.Store.MarkFailed(ctx, rec.ID, rec.RetryCount, err.Error()); err != nil {
			logger.Error("retry status update failed", "error", err)
		}
		return
	}

	count := rec.RetryCount + 1
	if count >= w.MaxRetries {
		logger.Error("retry budget exhausted, record is terminal", "error", err)
		if err := w.Store.MarkFailed(ctx, rec.ID, count, err.Error()); err != nil {
			logger.Error("retry status update failed", "error", err)
		}
		return
	}

	next := now.Add(backoff.Delay(count))
	logger.Warn("retried event failed again, rescheduling", "error", err, "next_retry_at", next)
	if err := w.Store.RetryLater(ctx, rec.ID, count, next, err.Error()); err != nil {
		logger.Error("retry status update failed", "error", err)
	}
}
