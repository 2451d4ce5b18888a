package retry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"reelay/internal/backoff"
	"reelay/internal/webhook"
)

type Repo struct {
	DB *gorm.DB
}

// Enqueue stores a failed first attempt for later retry. The first
// re-attempt is due after backoff.Delay(0).
func (r *Repo) Enqueue(ctx context.Context, ev *webhook.Event, cause error) (*Record, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	msg := cause.Error()
	rec := Record{
		ID:            uuid.NewString(),
		Payload:       payload,
		RetryCount:    0,
		NextRetryAt:   time.Now().Add(backoff.Delay(0)),
		Status:        StatusPending,
		LastError:     &msg,
		AttemptErrors: pq.StringArray{msg},
	}
	if err := r.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// InsertFailed stores a terminal record for a permanently failed event
// without ever scheduling it. Keeps the audit trail symmetric with
// retried events.
func (r *Repo) InsertFailed(ctx context.Context, ev *webhook.Event, cause error) (*Record, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	msg := cause.Error()
	rec := Record{
		ID:            uuid.NewString(),
		Payload:       payload,
		RetryCount:    0,
		NextRetryAt:   time.Now(),
		Status:        StatusFailed,
		LastError:     &msg,
		AttemptErrors: pq.StringArray{msg},
	}
	if err := r.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// ClaimDue atomically moves due pending records to processing and
// returns them. FOR UPDATE SKIP LOCKED ensures two overlapping ticks
// never double-claim a row. Records stuck in processing longer than
// staleAfter are first healed back to pending; they belong to a tick
// that died mid-batch.
func (r *Repo) ClaimDue(ctx context.Context, now time.Time, maxRetries int, staleAfter time.Duration) ([]Record, error) {
	var recs []Record

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`
update retry_records
set status = 'pending', claimed_at = null, updated_at = now()
where status = 'processing' and claimed_at is not null and claimed_at < ?
`, now.Add(-staleAfter)).Error; err != nil {
			return err
		}

		return tx.Raw(`
with cte as (
  select id
  from retry_records
  where status = 'pending' and next_retry_at <= ? and retry_count < ?
  order by next_retry_at asc
  for update skip locked
)
update retry_records
set status = 'processing', claimed_at = now(), updated_at = now()
where id in (select id from cte)
returning *;
`, now, maxRetries).Scan(&recs).Error
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *Repo) MarkCompleted(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Exec(`
update retry_records
set status = 'completed', claimed_at = null, updated_at = now()
where id = ?`, id).Error
}

// RetryLater reschedules a record after another failed attempt.
func (r *Repo) RetryLater(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errMsg string) error {
	return r.DB.WithContext(ctx).Exec(`
update retry_records
set status = 'pending',
    retry_count = ?,
    next_retry_at = ?,
    claimed_at = null,
    last_error = ?,
    attempt_errors = array_append(attempt_errors, ?),
    updated_at = now()
where id = ?`, retryCount, nextRetryAt, errMsg, errMsg, id).Error
}

// MarkFailed is terminal: the record is never attempted again.
func (r *Repo) MarkFailed(ctx context.Context, id string, retryCount int, errMsg string) error {
	return r.DB.WithContext(ctx).Exec(`
update retry_records
set status = 'failed',
    retry_count = ?,
    claimed_at = null,
    last_error = ?,
    attempt_errors = array_append(attempt_errors, ?),
    updated_at = now()
where id = ?`, retryCount, errMsg, errMsg, id).Error
}
