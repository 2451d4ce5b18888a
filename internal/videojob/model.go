package videojob

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// VideoJob is the persisted render-job record. CallbackID is the
// correlation key handed to the provider at submission time; the
// webhook pipeline resolves events back to a row through it.
type VideoJob struct {
	ID     uint64 `gorm:"primaryKey"`
	UserID uint64 `gorm:"index;not null"`

	CallbackID string `gorm:"uniqueIndex;not null"`
	Status     Status `gorm:"index;not null;default:'pending'"`

	ResultURL    string `gorm:"type:text;not null;default:''"`
	GifURL       string `gorm:"type:text;not null;default:''"`
	SharePageURL string `gorm:"type:text;not null;default:''"`
	ErrorMessage string `gorm:"type:text;not null;default:''"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}
