package store

import (
	"context"
	"time"

	"fundingai-pipeline/internal/models"
)

// CreateAlert queues one notification for a (user, opportunity) pair within
// a dispatch boundary. Duplicate pairs inside the same boundary are dropped,
// which is what keeps a user from seeing the same opportunity twice in one
// batch.
func (store *Store) CreateAlert(ctx context.Context, alert *models.Alert) (bool, error) {
	unlock := store.lockKey("alert:" + alert.UserID + ":" + alert.OpportunityID)
	defer unlock()

	var count int64
	err := store.db.WithContext(ctx).Model(&models.Alert{}).
		Where("user_id = ? AND opportunity_id = ? AND boundary_at = ?",
			alert.UserID, alert.OpportunityID, alert.BoundaryAt).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError("STORE_READ_FAILED", "Failed to check alert dedup").WithCause(err)
	}
	if count > 0 {
		return false, nil
	}

	alert.CreatedAt = time.Now().UTC()
	if err := store.db.WithContext(ctx).Create(alert).Error; err != nil {
		return false, models.NewInternalError("STORE_INSERT_FAILED", "Failed to insert alert").WithCause(err)
	}
	return true, nil
}

// LastAlertedScore returns the score carried by the most recent alert for a
// (user, opportunity) pair, used to suppress notification flapping on
// immaterial score drift.
func (store *Store) LastAlertedScore(ctx context.Context, userID, opportunityID string) (float64, bool, error) {
	var alert models.Alert
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND opportunity_id = ?", userID, opportunityID).
		Order("created_at DESC").
		First(&alert).Error
	if err != nil {
		return 0, false, nil
	}
	return alert.Score, true, nil
}

// PendingAlerts returns undispatched alerts whose boundary has been reached,
// grouped by user.
func (store *Store) PendingAlerts(ctx context.Context, now time.Time) (map[string][]models.Alert, error) {
	var alerts []models.Alert
	err := store.db.WithContext(ctx).
		Where("dispatched_at IS NULL AND boundary_at <= ?", now).
		Order("created_at ASC").
		Find(&alerts).Error
	if err != nil {
		return nil, models.NewInternalError("STORE_QUERY_FAILED", "Failed to query pending alerts").WithCause(err)
	}
	grouped := make(map[string][]models.Alert)
	for _, alert := range alerts {
		grouped[alert.UserID] = append(grouped[alert.UserID], alert)
	}
	return grouped, nil
}

func (store *Store) MarkAlertsDispatched(ctx context.Context, ids []uint, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := store.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id IN ?", ids).
		Update("dispatched_at", at).Error
	if err != nil {
		return models.NewInternalError("STORE_UPDATE_FAILED", "Failed to mark alerts dispatched").WithCause(err)
	}
	return nil
}

// AlertsForUser is the dashboard notification feed.
func (store *Store) AlertsForUser(ctx context.Context, userID string, limit int) ([]models.Alert, error) {
	query := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var alerts []models.Alert
	if err := query.Find(&alerts).Error; err != nil {
		return nil, models.NewInternalError("STORE_QUERY_FAILED", "Failed to query alerts").WithCause(err)
	}
	return alerts, nil
}

func (store *Store) MarkAlertsRead(ctx context.Context, userID string) error {
	err := store.db.WithContext(ctx).Model(&models.Alert{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true).Error
	if err != nil {
		return models.NewInternalError("STORE_UPDATE_FAILED", "Failed to mark alerts read").WithCause(err)
	}
	return nil
}
