package store

import (
	"context"
	"errors"
	"time"

	"fundingai-pipeline/internal/models"

	"gorm.io/gorm"
)

// UpsertScore writes the relevance score for a (user, opportunity) pair.
// An identical recomputation is skipped without touching ComputedAt.
// Returns the previous score and whether a write happened.
func (store *Store) UpsertScore(ctx context.Context, userID, opportunityID string, score float64, features map[string]float64) (float64, bool, error) {
	unlock := store.lockKey("score:" + userID + ":" + opportunityID)
	defer unlock()

	record := models.RelevanceScore{
		UserID:        userID,
		OpportunityID: opportunityID,
		Score:         score,
		ComputedAt:    time.Now().UTC(),
	}
	record.SetFeatures(features)

	var existing models.RelevanceScore
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND opportunity_id = ?", userID, opportunityID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
			return 0, false, models.NewInternalError("STORE_INSERT_FAILED", "Failed to insert score").WithCause(err)
		}
		return 0, true, nil
	}
	if err != nil {
		return 0, false, models.NewInternalError("STORE_READ_FAILED", "Failed to read score").WithCause(err)
	}

	if existing.Score == score && existing.FeaturesJSON == record.FeaturesJSON {
		return existing.Score, false, nil
	}

	previous := existing.Score
	existing.Score = score
	existing.FeaturesJSON = record.FeaturesJSON
	existing.ComputedAt = record.ComputedAt
	if err := store.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return 0, false, models.NewInternalError("STORE_UPDATE_FAILED", "Failed to update score").WithCause(err)
	}
	return previous, true, nil
}

func (store *Store) GetScore(ctx context.Context, userID, opportunityID string) (*models.RelevanceScore, error) {
	var record models.RelevanceScore
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND opportunity_id = ?", userID, opportunityID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewInternalError("STORE_READ_FAILED", "Failed to read score").WithCause(err)
	}
	return &record, nil
}

// ScoresForUser returns the user's scores keyed by opportunity external id.
func (store *Store) ScoresForUser(ctx context.Context, userID string) (map[string]float64, error) {
	var records []models.RelevanceScore
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Find(&records).Error
	if err != nil {
		return nil, models.NewInternalError("STORE_QUERY_FAILED", "Failed to query scores").WithCause(err)
	}
	scores := make(map[string]float64, len(records))
	for _, record := range records {
		scores[record.OpportunityID] = record.Score
	}
	return scores, nil
}

// ScoresComputedSince feeds the notification stage: scores written in the
// half-open window (since, until].
func (store *Store) ScoresComputedSince(ctx context.Context, since, until time.Time) ([]models.RelevanceScore, error) {
	var records []models.RelevanceScore
	err := store.db.WithContext(ctx).
		Where("computed_at > ? AND computed_at <= ?", since, until).
		Order("computed_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, models.NewInternalError("STORE_QUERY_FAILED", "Failed to query recent scores").WithCause(err)
	}
	return records, nil
}
