package store

import (
	"context"
	"errors"
	"time"

	"fundingai-pipeline/internal/models"

	"gorm.io/gorm"
)

// SetFavorite records per-user favorite state. Exclusively the client API's
// write path; favorites are per-user relationship state, never a field on
// the shared opportunity record.
func (store *Store) SetFavorite(ctx context.Context, userID, opportunityID string, favorite bool) error {
	unlock := store.lockKey("favorite:" + userID + ":" + opportunityID)
	defer unlock()

	var mark models.FavoriteMark
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND opportunity_id = ?", userID, opportunityID).
		First(&mark).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		mark = models.FavoriteMark{
			UserID:        userID,
			OpportunityID: opportunityID,
			Favorite:      favorite,
			UpdatedAt:     time.Now().UTC(),
		}
		if err := store.db.WithContext(ctx).Create(&mark).Error; err != nil {
			return models.NewInternalError("STORE_INSERT_FAILED", "Failed to insert favorite mark").WithCause(err)
		}
		return nil
	}
	if err != nil {
		return models.NewInternalError("STORE_READ_FAILED", "Failed to read favorite mark").WithCause(err)
	}

	mark.Favorite = favorite
	mark.UpdatedAt = time.Now().UTC()
	if err := store.db.WithContext(ctx).Save(&mark).Error; err != nil {
		return models.NewInternalError("STORE_UPDATE_FAILED", "Failed to update favorite mark").WithCause(err)
	}
	return nil
}

func (store *Store) SetSeen(ctx context.Context, userID, opportunityID string, seen bool) error {
	unlock := store.lockKey("seen:" + userID + ":" + opportunityID)
	defer unlock()

	var mark models.SeenMark
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND opportunity_id = ?", userID, opportunityID).
		First(&mark).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		mark = models.SeenMark{
			UserID:        userID,
			OpportunityID: opportunityID,
			Seen:          seen,
			UpdatedAt:     time.Now().UTC(),
		}
		if err := store.db.WithContext(ctx).Create(&mark).Error; err != nil {
			return models.NewInternalError("STORE_INSERT_FAILED", "Failed to insert seen mark").WithCause(err)
		}
		return nil
	}
	if err != nil {
		return models.NewInternalError("STORE_READ_FAILED", "Failed to read seen mark").WithCause(err)
	}

	mark.Seen = seen
	mark.UpdatedAt = time.Now().UTC()
	if err := store.db.WithContext(ctx).Save(&mark).Error; err != nil {
		return models.NewInternalError("STORE_UPDATE_FAILED", "Failed to update seen mark").WithCause(err)
	}
	return nil
}

// FavoritesForUser returns the set of favorited opportunity ids.
func (store *Store) FavoritesForUser(ctx context.Context, userID string) (map[string]bool, error) {
	var marks []models.FavoriteMark
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND favorite = ?", userID, true).
		Find(&marks).Error
	if err != nil {
		return nil, models.NewInternalError("STORE_QUERY_FAILED", "Failed to query favorites").WithCause(err)
	}
	favorites := make(map[string]bool, len(marks))
	for _, mark := range marks {
		favorites[mark.OpportunityID] = true
	}
	return favorites, nil
}

func (store *Store) SeenForUser(ctx context.Context, userID string) (map[string]bool, error) {
	var marks []models.SeenMark
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND seen = ?", userID, true).
		Find(&marks).Error
	if err != nil {
		return nil, models.NewInternalError("STORE_QUERY_FAILED", "Failed to query seen marks").WithCause(err)
	}
	seen := make(map[string]bool, len(marks))
	for _, mark := range marks {
		seen[mark.OpportunityID] = true
	}
	return seen, nil
}
