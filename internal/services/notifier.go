package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fundingai-pipeline/internal/config"
	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/pkg/logger"

	"github.com/cenkalti/backoff/v5"
)

// Notifier is the external delivery collaborator. Idempotency of retried
// deliveries is the notifier's responsibility, not the pipeline's.
type Notifier interface {
	Deliver(ctx context.Context, userID string, batch []models.OpportunitySummary) error
}

// WebhookNotifier posts the finalized batch to a delivery endpoint (the
// service that turns batches into email/SMS).
type WebhookNotifier struct {
	endpoint string
	client   *http.Client
	retries  uint
	logger   *logger.Logger
}

func NewWebhookNotifier(cfg config.NotificationConfig, log *logger.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		endpoint: cfg.WebhookURL,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		retries:  uint(cfg.RetryAttempts),
		logger:   log,
	}
}

func (notifier *WebhookNotifier) Deliver(ctx context.Context, userID string, batch []models.OpportunitySummary) error {
	startTime := time.Now()

	payload, err := json.Marshal(map[string]interface{}{
		"user_id":       userID,
		"opportunities": batch,
		"generated_at":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return models.NewInternalError("SERIALIZATION_FAILED", "Failed to serialize notification batch").WithCause(err)
	}

	operation := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, notifier.endpoint, bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := notifier.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return struct{}{}, fmt.Errorf("notifier returned status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return struct{}{}, backoff.Permanent(fmt.Errorf("notifier rejected batch with status %d", resp.StatusCode))
		}
		return struct{}{}, nil
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(notifier.retries))

	notifier.logger.LogService("notifier", "deliver", time.Since(startTime), map[string]interface{}{
		"user_id":    userID,
		"batch_size": len(batch),
	}, err)

	if err != nil {
		return models.ErrNotificationDeliveryFailed.WithCause(err).WithMetadata("user_id", userID)
	}
	return nil
}

// LogNotifier writes batches to the log instead of delivering them. Used
// when no webhook endpoint is configured.
type LogNotifier struct {
	logger *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (notifier *LogNotifier) Deliver(ctx context.Context, userID string, batch []models.OpportunitySummary) error {
	notifier.logger.Info("Notification Batch (log delivery)",
		"user_id", userID,
		"batch_size", len(batch))
	return nil
}
