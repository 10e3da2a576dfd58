package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"fundingai-pipeline/internal/models"

	"gorm.io/gorm"
)

type UpsertResult string

const (
	UpsertInserted  UpsertResult = "inserted"
	UpsertUpdated   UpsertResult = "updated"
	UpsertUnchanged UpsertResult = "unchanged"
)

// Filter is a predicate conjunction over the query-able opportunity fields.
// Zero values mean "no constraint".
type Filter struct {
	Category       string
	Type           models.OpportunityType
	Region         string
	Source         string
	DeadlineAfter  *time.Time
	DeadlineBefore *time.Time
	MinAmount      float64
	ActiveOnly     bool
	Search         string
	Limit          int
}

// UpsertOpportunity inserts or updates by external key. Re-submitting an
// unchanged record is a no-op: no LastUpdated bump, no downstream re-trigger.
func (store *Store) UpsertOpportunity(ctx context.Context, record *models.Opportunity) (UpsertResult, error) {
	if record.ExternalID == "" {
		return "", models.NewValidationError("MISSING_EXTERNAL_ID", "Opportunity external id is required")
	}

	unlock := store.lockKey("opportunity:" + record.ExternalID)
	defer unlock()

	now := time.Now().UTC()

	var existing models.Opportunity
	err := store.db.WithContext(ctx).Where("external_id = ?", record.ExternalID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record.FirstSeen = now
		record.LastUpdated = now
		if err := store.db.WithContext(ctx).Create(record).Error; err != nil {
			return "", models.NewInternalError("STORE_INSERT_FAILED", "Failed to insert opportunity").WithCause(err)
		}
		return UpsertInserted, nil
	}
	if err != nil {
		return "", models.NewInternalError("STORE_READ_FAILED", "Failed to read opportunity").WithCause(err)
	}

	if !contentChanged(&existing, record) {
		record.ID = existing.ID
		record.FirstSeen = existing.FirstSeen
		record.LastUpdated = existing.LastUpdated
		return UpsertUnchanged, nil
	}

	// Identity and first-seen are immutable. Once a record carries a
	// classification, category, type, region and tags belong to the
	// classifier; collection only refreshes the source-reported fields.
	existing.Title = record.Title
	existing.Description = record.Description
	existing.Deadline = record.Deadline
	existing.AmountRaw = record.AmountRaw
	existing.AmountCurrency = record.AmountCurrency
	existing.AmountMin = record.AmountMin
	existing.AmountMax = record.AmountMax
	existing.AmountRecurring = record.AmountRecurring
	existing.SourceURL = record.SourceURL
	if existing.Confidence == "" {
		existing.Region = record.Region
		if record.Category != "" {
			existing.Category = record.Category
		}
		if record.Type != "" {
			existing.Type = record.Type
		}
		if record.TagsJSON != "" {
			existing.TagsJSON = record.TagsJSON
		}
	}
	existing.LastUpdated = now

	if err := store.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return "", models.NewInternalError("STORE_UPDATE_FAILED", "Failed to update opportunity").WithCause(err)
	}
	*record = existing
	return UpsertUpdated, nil
}

func contentChanged(existing, incoming *models.Opportunity) bool {
	if existing.Title != incoming.Title ||
		existing.Description != incoming.Description ||
		existing.AmountRaw != incoming.AmountRaw ||
		existing.SourceURL != incoming.SourceURL {
		return true
	}
	if !equalDeadline(existing.Deadline, incoming.Deadline) {
		return true
	}
	// Classifier-owned fields never count as a change once classification
	// has run; the classifier's rewrite would otherwise ping-pong with the
	// source's raw values on every collection pass.
	if existing.Confidence != "" {
		return false
	}
	if existing.Region != incoming.Region {
		return true
	}
	if incoming.Category != "" && existing.Category != incoming.Category {
		return true
	}
	if incoming.Type != "" && existing.Type != incoming.Type {
		return true
	}
	if incoming.TagsJSON != "" && existing.TagsJSON != incoming.TagsJSON {
		return true
	}
	return false
}

func equalDeadline(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (store *Store) GetOpportunity(ctx context.Context, externalID string) (*models.Opportunity, error) {
	var record models.Opportunity
	err := store.db.WithContext(ctx).Where("external_id = ?", externalID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrOpportunityNotFound.WithMetadata("external_id", externalID)
	}
	if err != nil {
		return nil, models.NewInternalError("STORE_READ_FAILED", "Failed to read opportunity").WithCause(err)
	}
	return &record, nil
}

// QueryOpportunities applies the filter as an indexed conjunction. Reads
// never depend on pipeline progress; they return the committed snapshot.
func (store *Store) QueryOpportunities(ctx context.Context, filter Filter) ([]models.Opportunity, error) {
	query := store.db.WithContext(ctx).Model(&models.Opportunity{})

	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Region != "" {
		query = query.Where("region = ?", filter.Region)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.DeadlineAfter != nil {
		query = query.Where("deadline >= ?", *filter.DeadlineAfter)
	}
	if filter.DeadlineBefore != nil {
		query = query.Where("deadline <= ?", *filter.DeadlineBefore)
	}
	if filter.MinAmount > 0 {
		query = query.Where("amount_max >= ? OR amount_min >= ?", filter.MinAmount, filter.MinAmount)
	}
	if filter.ActiveOnly {
		query = query.Where("deadline IS NULL OR deadline >= ?", time.Now().UTC())
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("title LIKE ? OR description LIKE ? OR tags LIKE ?", like, like, like)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []models.Opportunity
	if err := query.Order("last_updated DESC").Find(&records).Error; err != nil {
		return nil, models.NewInternalError("STORE_QUERY_FAILED", "Failed to query opportunities").WithCause(err)
	}
	return records, nil
}

// UpdateClassification writes only the fields the classification agent
// computed. Skips the write entirely when nothing changed, so reclassifying
// an unchanged record does not bump LastUpdated.
func (store *Store) UpdateClassification(ctx context.Context, externalID, category string, oppType models.OpportunityType, region string, tags []string, confidence models.Confidence, confidenceScore float64) (bool, error) {
	unlock := store.lockKey("opportunity:" + externalID)
	defer unlock()

	var existing models.Opportunity
	err := store.db.WithContext(ctx).Where("external_id = ?", externalID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, models.ErrOpportunityNotFound.WithMetadata("external_id", externalID)
	}
	if err != nil {
		return false, models.NewInternalError("STORE_READ_FAILED", "Failed to read opportunity").WithCause(err)
	}

	incoming := models.Opportunity{}
	incoming.SetTags(tags)

	if existing.Category == category &&
		existing.Type == oppType &&
		existing.Region == region &&
		existing.TagsJSON == incoming.TagsJSON &&
		existing.Confidence == confidence {
		return false, nil
	}

	existing.Category = category
	existing.Type = oppType
	existing.Region = region
	existing.TagsJSON = incoming.TagsJSON
	existing.Confidence = confidence
	existing.ConfidenceScore = confidenceScore
	existing.LastUpdated = time.Now().UTC()

	if err := store.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return false, models.NewInternalError("STORE_UPDATE_FAILED", "Failed to write classification").WithCause(err)
	}
	return true, nil
}

// OpportunitiesUpdatedSince feeds the incremental stages. The window is
// half-open: (since, until].
func (store *Store) OpportunitiesUpdatedSince(ctx context.Context, since, until time.Time) ([]models.Opportunity, error) {
	var records []models.Opportunity
	err := store.db.WithContext(ctx).
		Where("last_updated > ? AND last_updated <= ?", since, until).
		Order("last_updated ASC").
		Find(&records).Error
	if err != nil {
		return nil, models.NewInternalError("STORE_QUERY_FAILED", "Failed to query updated opportunities").WithCause(err)
	}
	return records, nil
}

// ClassifiedOpportunities returns records already carrying a classification,
// used as the similarity-fallback corpus.
func (store *Store) ClassifiedOpportunities(ctx context.Context) ([]models.Opportunity, error) {
	var records []models.Opportunity
	err := store.db.WithContext(ctx).
		Where("confidence IN ?", []models.Confidence{models.ConfidenceHigh, models.ConfidenceMedium}).
		Find(&records).Error
	if err != nil {
		return nil, models.NewInternalError("STORE_QUERY_FAILED", "Failed to query classified opportunities").WithCause(err)
	}
	return records, nil
}

// SortForDisplay orders by score descending, breaking ties by nearer
// deadline, then by most recently updated.
func SortForDisplay(records []models.Opportunity, scores map[string]float64) {
	sort.SliceStable(records, func(i, j int) bool {
		si := scores[records[i].ExternalID]
		sj := scores[records[j].ExternalID]
		if si != sj {
			return si > sj
		}
		di, dj := records[i].Deadline, records[j].Deadline
		if di != nil && dj != nil && !di.Equal(*dj) {
			return di.Before(*dj)
		}
		if (di == nil) != (dj == nil) {
			return di != nil
		}
		return records[i].LastUpdated.After(records[j].LastUpdated)
	})
}
