package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fundingai-pipeline/internal/config"
	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	agentUpdateStream = "agents:updates"
	agentStatusKey    = "agents:status"
)

// StatusPublisher feeds live agent-run updates to monitoring clients. The
// durable truth stays in the store's run records; this is the real-time
// side channel.
type StatusPublisher interface {
	PublishAgentUpdate(ctx context.Context, update *models.AgentUpdate) error
}

// RedisService publishes agent updates to a capped stream and keeps the
// latest status per agent in a hash for cheap dashboard polls.
type RedisService struct {
	client *redis.Client
	logger *logger.Logger
	config config.RedisConfig
}

func NewRedisService(cfg config.RedisConfig, log *logger.Logger) (*RedisService, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL : %w", err)
	}

	opt.PoolSize = cfg.PoolSize
	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.ReadTimeout
	opt.WriteTimeout = cfg.WriteTimeout

	service := &RedisService{
		client: redis.NewClient(opt),
		logger: log,
		config: cfg,
	}

	if err := service.testConnection(); err != nil {
		return nil, fmt.Errorf("connection to Redis failed: %w", err)
	}

	log.Info("Redis Service Initialized Successfully",
		"url", cfg.URL,
		"pool_size", cfg.PoolSize)

	return service, nil
}

func (service *RedisService) testConnection() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := service.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connection to Redis failed: %w", err)
	}
	return nil
}

func (service *RedisService) Close() error {
	service.logger.Info("Closing Redis Service")
	return service.client.Close()
}

func (service *RedisService) PublishAgentUpdate(ctx context.Context, update *models.AgentUpdate) error {
	startTime := time.Now()

	values := map[string]interface{}{
		"agent":           update.Agent,
		"run_id":          update.RunID,
		"status":          string(update.Status),
		"message":         update.Message,
		"items_processed": update.Processed,
		"items_succeeded": update.Succeeded,
		"items_failed":    update.Failed,
		"timestamp":       update.Timestamp.Format(time.RFC3339),
	}

	pipe := service.client.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: agentUpdateStream,
		Values: values,
		MaxLen: 1024,
	})
	if snapshot, err := json.Marshal(update); err == nil {
		pipe.HSet(ctx, agentStatusKey, update.Agent, string(snapshot))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		service.logger.LogService("redis", "publish_agent_update", time.Since(startTime), map[string]interface{}{
			"agent":  update.Agent,
			"run_id": update.RunID,
		}, err)
		return models.NewExternalError("REDIS_PUBLISH_FAILED", "Failed to publish agent update").WithCause(err)
	}

	service.logger.WithFields(logger.Fields{
		"agent":  update.Agent,
		"status": update.Status,
		"run_id": update.RunID,
	}).Debug("Published Agent Update Successfully")

	return nil
}

func (service *RedisService) HealthCheck(ctx context.Context) error {
	if err := service.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis Connection Unhealthy: %w", err)
	}
	return nil
}

// NopStatusPublisher drops updates. Used when no Redis is configured and in
// tests.
type NopStatusPublisher struct{}

func (NopStatusPublisher) PublishAgentUpdate(ctx context.Context, update *models.AgentUpdate) error {
	return nil
}
