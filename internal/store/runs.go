package store

import (
	"context"
	"time"

	"fundingai-pipeline/internal/models"
)

// AppendRunRecord persists one run record. Records are append-only; the
// orchestrator writes the running entry when a run starts and saves the
// final state over the same row when it ends.
func (store *Store) AppendRunRecord(ctx context.Context, record *models.AgentRunRecord) error {
	if err := store.db.WithContext(ctx).Save(record).Error; err != nil {
		return models.NewInternalError("STORE_INSERT_FAILED", "Failed to append run record").WithCause(err)
	}
	return nil
}

func (store *Store) ListRunRecords(ctx context.Context, agent string, limit int) ([]models.AgentRunRecord, error) {
	query := store.db.WithContext(ctx).Model(&models.AgentRunRecord{}).Order("started_at DESC")
	if agent != "" {
		query = query.Where("agent = ?", agent)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []models.AgentRunRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, models.NewInternalError("STORE_QUERY_FAILED", "Failed to list run records").WithCause(err)
	}
	return records, nil
}

// LastWatermark returns the committed watermark for an agent: the watermark
// of its most recent succeeded or partial run. Failed runs never advance it.
func (store *Store) LastWatermark(ctx context.Context, agent string) (time.Time, error) {
	var record models.AgentRunRecord
	err := store.db.WithContext(ctx).
		Where("agent = ? AND status IN ?", agent,
			[]models.RunStatus{models.RunStatusSucceeded, models.RunStatusPartialFailure}).
		Order("started_at DESC").
		First(&record).Error
	if err != nil {
		// No committed run yet: process everything from the beginning.
		return time.Time{}, nil
	}
	return record.Watermark, nil
}

// AgentStatuses aggregates run history into the per-agent summary the
// monitoring clients render.
func (store *Store) AgentStatuses(ctx context.Context) ([]models.AgentStatusSummary, error) {
	summaries := make([]models.AgentStatusSummary, 0, len(models.KnownAgents()))
	for _, agent := range models.KnownAgents() {
		records, err := store.ListRunRecords(ctx, agent, 50)
		if err != nil {
			return nil, err
		}

		summary := models.AgentStatusSummary{Agent: agent, Status: "idle"}
		var succeeded, processed int
		for _, record := range records {
			processed += record.Processed
			succeeded += record.Succeeded
		}
		if len(records) > 0 {
			latest := records[0]
			if latest.Status == models.RunStatusRunning {
				summary.Status = "running"
			}
			if latest.FinishedAt != nil {
				summary.LastRun = latest.FinishedAt
			} else {
				started := latest.StartedAt
				summary.LastRun = &started
			}
		}
		summary.TotalProcessed = processed
		if processed > 0 {
			summary.SuccessRate = float64(succeeded) / float64(processed) * 100
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
