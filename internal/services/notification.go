package services

import (
	"context"
	"time"

	"fundingai-pipeline/internal/config"
	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/pkg/logger"
	"fundingai-pipeline/internal/store"
)

// NotificationAgent turns qualifying score changes into queued alerts and
// dispatches at most one batch per user per alert-frequency boundary. Its
// contract ends at handing a finalized, deduplicated batch to the Notifier.
type NotificationAgent struct {
	store    *store.Store
	notifier Notifier
	config   config.NotificationConfig
	logger   *logger.Logger

	now func() time.Time
}

func NewNotificationAgent(store *store.Store, notifier Notifier, cfg config.NotificationConfig, log *logger.Logger) *NotificationAgent {
	return &NotificationAgent{
		store:    store,
		notifier: notifier,
		config:   cfg,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (agent *NotificationAgent) Name() string {
	return models.AgentNotification
}

func (agent *NotificationAgent) Execute(ctx context.Context, run *models.AgentRunRecord) error {
	if err := agent.enqueueAlerts(ctx, run); err != nil {
		return err
	}
	return agent.dispatchDueBatches(ctx, run)
}

// enqueueAlerts examines scores written in the run window and queues alerts
// for pairs that qualify: material score change, deadline inside the
// lookahead, score above the user's alert floor.
func (agent *NotificationAgent) enqueueAlerts(ctx context.Context, run *models.AgentRunRecord) error {
	scores, err := agent.store.ScoresComputedSince(ctx, run.WindowStart, run.WindowEnd)
	if err != nil {
		return err
	}
	if len(scores) == 0 {
		return nil
	}

	now := agent.now()
	lookahead := now.AddDate(0, 0, agent.config.LookaheadDays)
	profiles := map[string]*models.UserProfile{}
	queued := 0

	for _, score := range scores {
		if err := ctx.Err(); err != nil {
			return err
		}
		if score.Score < agent.config.MinScore {
			continue
		}

		opportunity, err := agent.store.GetOpportunity(ctx, score.OpportunityID)
		if err != nil {
			run.RecordFailure()
			agent.logger.WithError(err).Warn("Alert skipped: opportunity lookup failed")
			continue
		}
		if opportunity.Deadline == nil || opportunity.Deadline.Before(now) || opportunity.Deadline.After(lookahead) {
			continue
		}

		profile, ok := profiles[score.UserID]
		if !ok {
			profile, err = agent.store.GetProfile(ctx, score.UserID)
			if err != nil {
				continue
			}
			profiles[score.UserID] = profile
		}

		// Material-change gate: an immaterial drift from the last
		// alerted score does not re-notify.
		if previous, alerted, _ := agent.store.LastAlertedScore(ctx, score.UserID, score.OpportunityID); alerted {
			delta := score.Score - previous
			if delta < 0 {
				delta = -delta
			}
			if delta < agent.config.SignificanceDelta {
				continue
			}
		}

		boundary := NextBoundary(now, profile.AlertFrequency, agent.config.WeeklyWeekday)
		created, err := agent.store.CreateAlert(ctx, &models.Alert{
			UserID:        score.UserID,
			OpportunityID: score.OpportunityID,
			Score:         score.Score,
			BoundaryAt:    boundary,
		})
		if err != nil {
			run.RecordFailure()
			continue
		}
		if created {
			queued++
		}
	}

	agent.logger.Info("Alerts Enqueued", "queued", queued, "scores_examined", len(scores))
	return nil
}

// dispatchDueBatches delivers pending alerts whose boundary has passed, one
// call per user. Delivery success or failure is recorded per user since the
// whole batch is a single notifier call; failed batches are not retried in
// the same run.
func (agent *NotificationAgent) dispatchDueBatches(ctx context.Context, run *models.AgentRunRecord) error {
	now := agent.now()
	pending, err := agent.store.PendingAlerts(ctx, now)
	if err != nil {
		return err
	}

	delivered, failed := 0, 0
	for userID, alerts := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := make([]models.OpportunitySummary, 0, len(alerts))
		ids := make([]uint, 0, len(alerts))
		for _, alert := range alerts {
			opportunity, err := agent.store.GetOpportunity(ctx, alert.OpportunityID)
			if err != nil {
				continue
			}
			batch = append(batch, models.OpportunitySummary{
				ExternalID: opportunity.ExternalID,
				Title:      opportunity.Title,
				Category:   opportunity.Category,
				Region:     opportunity.Region,
				Amount:     opportunity.AmountRaw,
				Deadline:   opportunity.Deadline,
				Score:      alert.Score,
				Source:     opportunity.Source,
			})
			ids = append(ids, alert.ID)
		}
		if len(batch) == 0 {
			continue
		}

		if err := agent.notifier.Deliver(ctx, userID, batch); err != nil {
			run.RecordFailure()
			failed++
			agent.logger.WithFields(logger.Fields{
				"user_id":    userID,
				"batch_size": len(batch),
			}).WithError(err).Error("Notification batch delivery failed")
			continue
		}

		if err := agent.store.MarkAlertsDispatched(ctx, ids, now); err != nil {
			run.RecordFailure()
			failed++
			continue
		}
		run.RecordSuccess()
		delivered++
	}

	run.SetDetails(map[string]interface{}{
		"users_delivered": delivered,
		"users_failed":    failed,
	})
	return nil
}

// NextBoundary computes the next dispatch boundary for a frequency: daily is
// next midnight, weekly the next configured weekday's midnight, monthly the
// first of the next month. All in UTC.
func NextBoundary(now time.Time, frequency models.AlertFrequency, weeklyWeekday time.Weekday) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)

	switch frequency {
	case models.FrequencyDaily:
		return midnight
	case models.FrequencyMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	default: // weekly
		boundary := midnight
		for boundary.Weekday() != weeklyWeekday {
			boundary = boundary.AddDate(0, 0, 1)
		}
		return boundary
	}
}
