package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fundingai-pipeline/internal/config"
	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/pkg/logger"
	"fundingai-pipeline/internal/store"
)

// Agent is one pipeline stage. Execute processes the run window, updating
// the counters on the run record; a returned error aborts the whole run
// (Failed) while item-level problems are recorded and swallowed inside.
type Agent interface {
	Name() string
	Execute(ctx context.Context, run *models.AgentRunRecord) error
}

// Orchestrator sequences the agents, enforces one run per agent at a time,
// owns the watermark advance rules and publishes live status updates.
// Agents never call each other; everything flows through the store.
type Orchestrator struct {
	store     *store.Store
	publisher StatusPublisher
	config    config.SchedulerConfig
	logger    *logger.Logger

	agents map[string]Agent
	order  []string

	mu      sync.Mutex
	running map[string]bool

	startTime time.Time
}

func NewOrchestrator(store *store.Store, publisher StatusPublisher, cfg config.SchedulerConfig, log *logger.Logger, agents ...Agent) *Orchestrator {
	orchestrator := &Orchestrator{
		store:     store,
		publisher: publisher,
		config:    cfg,
		logger:    log,
		agents:    make(map[string]Agent, len(agents)),
		running:   make(map[string]bool),
		startTime: time.Now(),
	}
	for _, agent := range agents {
		orchestrator.agents[agent.Name()] = agent
		orchestrator.order = append(orchestrator.order, agent.Name())
	}

	log.Info("Orchestrator Initialized Successfully",
		"agents_configured", len(orchestrator.agents))

	return orchestrator
}

// RunAgent executes one agent over the window (last committed watermark,
// now]. A second start while the agent is running is rejected, not queued,
// to keep watermark reads from overlapping.
func (orchestrator *Orchestrator) RunAgent(ctx context.Context, name string) (*models.AgentRunRecord, error) {
	agent, ok := orchestrator.agents[name]
	if !ok {
		return nil, models.NewValidationError("UNKNOWN_AGENT", fmt.Sprintf("No agent named %q", name))
	}

	orchestrator.mu.Lock()
	if orchestrator.running[name] {
		orchestrator.mu.Unlock()
		return nil, models.ErrRunInProgress.WithMetadata("agent", name)
	}
	orchestrator.running[name] = true
	orchestrator.mu.Unlock()

	defer func() {
		orchestrator.mu.Lock()
		orchestrator.running[name] = false
		orchestrator.mu.Unlock()
	}()

	watermark, err := orchestrator.store.LastWatermark(ctx, name)
	if err != nil {
		return nil, err
	}

	run := models.NewAgentRunRecord(name, watermark, time.Now().UTC())
	if err := orchestrator.store.AppendRunRecord(ctx, run); err != nil {
		return nil, err
	}
	orchestrator.publish(ctx, run, "Run started")
	orchestrator.logger.LogAgent(name, run.RunID, "run_started", 0, nil)

	execErr := agent.Execute(ctx, run)
	if execErr != nil {
		// Structural failure: the watermark stays put so the next run
		// retries the same window.
		run.MarkFailed(execErr)
	} else {
		run.MarkCompleted()
	}

	if err := orchestrator.store.AppendRunRecord(ctx, run); err != nil {
		orchestrator.logger.WithError(err).Error("Failed to persist final run record")
	}
	orchestrator.publish(ctx, run, fmt.Sprintf("Run finished with status %s", run.Status))
	orchestrator.logger.LogAgent(name, run.RunID, "run_finished", run.Duration(), execErr)

	if execErr != nil {
		return run, execErr
	}
	return run, nil
}

// RunPipeline runs the registered agents in registration order, which is
// the data-flow order: collection, classification, ranking, notification.
// A failed stage does not stop the later stages; they simply see whatever
// the store already holds.
func (orchestrator *Orchestrator) RunPipeline(ctx context.Context) {
	for _, name := range orchestrator.order {
		if ctx.Err() != nil {
			return
		}
		if _, err := orchestrator.RunAgent(ctx, name); err != nil {
			orchestrator.logger.WithFields(logger.Fields{
				"agent": name,
			}).WithError(err).Error("Pipeline stage failed")
		}
	}
}

func (orchestrator *Orchestrator) IsRunning(name string) bool {
	orchestrator.mu.Lock()
	defer orchestrator.mu.Unlock()
	return orchestrator.running[name]
}

func (orchestrator *Orchestrator) publish(ctx context.Context, run *models.AgentRunRecord, message string) {
	if err := orchestrator.publisher.PublishAgentUpdate(ctx, models.UpdateFromRun(run, message)); err != nil {
		orchestrator.logger.WithError(err).Warn("Failed to publish agent update")
	}
}

// StartScheduler drives the pipeline on wall-clock cadence: a full pipeline
// pass every collection interval, and a notification pass every tick so due
// dispatch boundaries are honored promptly. The first full pass waits out
// PipelineLag from startup. Blocks until the context ends.
func (orchestrator *Orchestrator) StartScheduler(ctx context.Context) {
	if !orchestrator.config.Enabled {
		orchestrator.logger.Info("Scheduler disabled")
		return
	}

	ticker := time.NewTicker(orchestrator.config.TickInterval)
	defer ticker.Stop()

	orchestrator.logger.Info("Scheduler Started",
		"tick_interval", orchestrator.config.TickInterval.String(),
		"collection_interval", orchestrator.config.CollectionInterval.String(),
		"pipeline_lag", orchestrator.config.PipelineLag.String())

	started := time.Now()
	var lastPipeline time.Time
	for {
		select {
		case <-ctx.Done():
			orchestrator.logger.Info("Scheduler Stopped")
			return
		case now := <-ticker.C:
			if now.Sub(started) >= orchestrator.config.PipelineLag &&
				now.Sub(lastPipeline) >= orchestrator.config.CollectionInterval {
				lastPipeline = now
				orchestrator.RunPipeline(ctx)
				continue
			}
			// Between pipeline passes only the notification agent
			// fires, so due batches leave on their boundary.
			if _, err := orchestrator.RunAgent(ctx, models.AgentNotification); err != nil {
				if appErr, ok := err.(*models.AppError); !ok || appErr.Code != models.ErrRunInProgress.Code {
					orchestrator.logger.WithError(err).Warn("Scheduled notification run failed")
				}
			}
		}
	}
}

func (orchestrator *Orchestrator) Uptime() time.Duration {
	return time.Since(orchestrator.startTime)
}
