package videojob

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("video job not found")

type Store struct {
	DB *gorm.DB
}

// Create registers a pending render job for a user and mints the
// callback ID the provider will echo back.
func (s *Store) Create(ctx context.Context, userID uint64) (*VideoJob, error) {
	j := VideoJob{
		UserID:     userID,
		CallbackID: uuid.NewString(),
		Status:     StatusPending,
	}
	if err := s.DB.WithContext(ctx).Create(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) FindByCallbackID(ctx context.Context, callbackID string) (*VideoJob, error) {
	var j VideoJob
	err := s.DB.WithContext(ctx).Where("callback_id = ?", callbackID).First(&j).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (s *Store) FindForUser(ctx context.Context, userID uint64, callbackID string) (*VideoJob, error) {
	var j VideoJob
	err := s.DB.WithContext(ctx).
		Where("callback_id = ? AND user_id = ?", callbackID, userID).
		First(&j).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (s *Store) MarkCompleted(ctx context.Context, callbackID, resultURL, gifURL, sharePageURL string) error {
	return s.DB.WithContext(ctx).Model(&VideoJob{}).
		Where("callback_id = ?", callbackID).
		Updates(map[string]any{
			"status":         StatusCompleted,
			"result_url":     resultURL,
			"gif_url":        gifURL,
			"share_page_url": sharePageURL,
			"updated_at":     time.Now(),
		}).Error
}

func (s *Store) MarkFailed(ctx context.Context, callbackID, errorMessage string) error {
	return s.DB.WithContext(ctx).Model(&VideoJob{}).
		Where("callback_id = ?", callbackID).
		Updates(map[string]any{
			"status":        StatusFailed,
			"error_message": errorMessage,
			"updated_at":    time.Now(),
		}).Error
}
