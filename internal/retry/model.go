package retry

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record is one durably stored failed processing attempt. Terminal
// rows (completed/failed) are kept for inspection; retention is an
// external policy, the pipeline never deletes them.
type Record struct {
	ID string `gorm:"type:uuid;primaryKey"`

	Payload json.RawMessage `gorm:"type:jsonb;not null"` // marshaled webhook.Event

	RetryCount  int       `gorm:"not null;default:0"`
	NextRetryAt time.Time `gorm:"index;not null"`
	Status      Status    `gorm:"index;not null;default:'pending'"`

	LastError     *string        `gorm:"type:text"`
	AttemptErrors pq.StringArray `gorm:"type:text[];not null;default:'{}'"`

	ClaimedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (Record) TableName() string { return "retry_records" }
