package store

import (
	"context"
	"errors"
	"time"

	"fundingai-pipeline/internal/models"

	"gorm.io/gorm"
)

// SaveProfile creates or replaces the user's profile. Only the client API
// calls this; the pipeline reads profiles but never mutates them.
func (store *Store) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	if profile.UserID == "" {
		return models.NewValidationError("MISSING_USER_ID", "User id is required")
	}

	unlock := store.lockKey("profile:" + profile.UserID)
	defer unlock()

	now := time.Now().UTC()
	profile.UpdatedAt = now

	var existing models.UserProfile
	err := store.db.WithContext(ctx).Where("user_id = ?", profile.UserID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile.CreatedAt = now
		if err := store.db.WithContext(ctx).Create(profile).Error; err != nil {
			return models.NewInternalError("STORE_INSERT_FAILED", "Failed to insert profile").WithCause(err)
		}
		return nil
	}
	if err != nil {
		return models.NewInternalError("STORE_READ_FAILED", "Failed to read profile").WithCause(err)
	}

	profile.CreatedAt = existing.CreatedAt
	if err := store.db.WithContext(ctx).Save(profile).Error; err != nil {
		return models.NewInternalError("STORE_UPDATE_FAILED", "Failed to update profile").WithCause(err)
	}
	return nil
}

func (store *Store) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrUserNotFound.WithMetadata("user_id", userID)
	}
	if err != nil {
		return nil, models.NewInternalError("STORE_READ_FAILED", "Failed to read profile").WithCause(err)
	}
	return &profile, nil
}

func (store *Store) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	var profiles []models.UserProfile
	if err := store.db.WithContext(ctx).Find(&profiles).Error; err != nil {
		return nil, models.NewInternalError("STORE_QUERY_FAILED", "Failed to list profiles").WithCause(err)
	}
	return profiles, nil
}

func (store *Store) ProfilesUpdatedSince(ctx context.Context, since, until time.Time) ([]models.UserProfile, error) {
	var profiles []models.UserProfile
	err := store.db.WithContext(ctx).
		Where("updated_at > ? AND updated_at <= ?", since, until).
		Find(&profiles).Error
	if err != nil {
		return nil, models.NewInternalError("STORE_QUERY_FAILED", "Failed to query updated profiles").WithCause(err)
	}
	return profiles, nil
}
