package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fundingai-pipeline/internal/config"
	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/pkg/logger"
	"fundingai-pipeline/internal/services"
)

type stubAgent struct {
	name    string
	err     error
	failOne bool

	mu      sync.Mutex
	started chan struct{}
	release chan struct{}
	runs    int
}

func (agent *stubAgent) Name() string { return agent.name }

func (agent *stubAgent) Execute(ctx context.Context, run *models.AgentRunRecord) error {
	agent.mu.Lock()
	agent.runs++
	started, release := agent.started, agent.release
	agent.started, agent.release = nil, nil
	agent.mu.Unlock()

	if started != nil {
		close(started)
		<-release
	}
	if agent.err != nil {
		return agent.err
	}
	run.RecordSuccess()
	if agent.failOne {
		run.RecordFailure()
	}
	return nil
}

func (agent *stubAgent) runCount() int {
	agent.mu.Lock()
	defer agent.mu.Unlock()
	return agent.runs
}

func newTestOrchestrator(t *testing.T, agents ...services.Agent) *services.Orchestrator {
	t.Helper()
	db := newTestStore(t)
	return services.NewOrchestrator(db, services.NopStatusPublisher{}, config.SchedulerConfig{}, logger.NewNop(), agents...)
}

func TestRunAgentSuccessAdvancesWatermark(t *testing.T) {
	agent := &stubAgent{name: models.AgentCollection}
	orchestrator := newTestOrchestrator(t, agent)

	run, err := orchestrator.RunAgent(context.Background(), models.AgentCollection)
	if err != nil {
		t.Fatalf("RunAgent failed: %v", err)
	}
	if run.Status != models.RunStatusSucceeded {
		t.Errorf("Status = %s", run.Status)
	}
	if !run.Watermark.Equal(run.WindowEnd) {
		t.Error("Succeeded run must carry its window end as watermark")
	}
	if run.FinishedAt == nil {
		t.Error("Finished run must have FinishedAt")
	}
}

func TestRunAgentFailureKeepsWindow(t *testing.T) {
	agent := &stubAgent{name: models.AgentCollection, err: models.ErrSourceUnavailable}
	orchestrator := newTestOrchestrator(t, agent)

	run, err := orchestrator.RunAgent(context.Background(), models.AgentCollection)
	if err == nil {
		t.Fatal("Expected the agent error back")
	}
	if run.Status != models.RunStatusFailed {
		t.Errorf("Status = %s", run.Status)
	}
	if !run.Watermark.Equal(run.WindowStart) {
		t.Error("Failed run must keep the window start as watermark")
	}

	// The next run reprocesses the same window.
	agent.err = nil
	next, err := orchestrator.RunAgent(context.Background(), models.AgentCollection)
	if err != nil {
		t.Fatalf("Retry run failed: %v", err)
	}
	if !next.WindowStart.Equal(run.WindowStart) {
		t.Errorf("Retry window starts at %v, want %v", next.WindowStart, run.WindowStart)
	}
}

func TestRunAgentPartialFailureAdvances(t *testing.T) {
	agent := &stubAgent{name: models.AgentCollection, failOne: true}
	orchestrator := newTestOrchestrator(t, agent)

	run, err := orchestrator.RunAgent(context.Background(), models.AgentCollection)
	if err != nil {
		t.Fatalf("RunAgent failed: %v", err)
	}
	if run.Status != models.RunStatusPartialFailure {
		t.Errorf("Status = %s", run.Status)
	}
	if !run.Watermark.Equal(run.WindowEnd) {
		t.Error("Partial failure must advance the watermark")
	}

	next, err := orchestrator.RunAgent(context.Background(), models.AgentCollection)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if !next.WindowStart.Equal(run.WindowEnd) {
		t.Errorf("Next window starts at %v, want %v", next.WindowStart, run.WindowEnd)
	}
}

func TestRunAgentRejectsConcurrentRun(t *testing.T) {
	agent := &stubAgent{
		name:    models.AgentCollection,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	started, release := agent.started, agent.release
	orchestrator := newTestOrchestrator(t, agent)

	done := make(chan struct{})
	go func() {
		defer close(done)
		orchestrator.RunAgent(context.Background(), models.AgentCollection)
	}()

	<-started
	if !orchestrator.IsRunning(models.AgentCollection) {
		t.Error("Agent should report running")
	}

	_, err := orchestrator.RunAgent(context.Background(), models.AgentCollection)
	if err == nil {
		t.Fatal("Second start during a run must be rejected")
	}
	var appErr *models.AppError
	if !errors.As(err, &appErr) || appErr.Code != models.ErrRunInProgress.Code {
		t.Errorf("Expected run-in-progress error, got %v", err)
	}

	close(release)
	<-done

	if orchestrator.IsRunning(models.AgentCollection) {
		t.Error("Agent should be idle after the run ends")
	}
	if _, err := orchestrator.RunAgent(context.Background(), models.AgentCollection); err != nil {
		t.Errorf("Run after completion should start: %v", err)
	}
}

func TestRunAgentUnknownName(t *testing.T) {
	orchestrator := newTestOrchestrator(t)
	if _, err := orchestrator.RunAgent(context.Background(), "mystery"); err == nil {
		t.Error("Expected error for unknown agent")
	}
}

func TestRunPipelineExecutesAllStagesInOrder(t *testing.T) {
	collection := &stubAgent{name: models.AgentCollection}
	classification := &stubAgent{name: models.AgentClassification, err: models.ErrClassificationAmbiguous}
	ranking := &stubAgent{name: models.AgentRanking}
	orchestrator := newTestOrchestrator(t, collection, classification, ranking)

	orchestrator.RunPipeline(context.Background())

	for _, agent := range []*stubAgent{collection, classification, ranking} {
		if agent.runCount() != 1 {
			t.Errorf("Agent %s ran %d times", agent.name, agent.runCount())
		}
	}
}

func TestRunPipelineStopsOnCancelledContext(t *testing.T) {
	agent := &stubAgent{name: models.AgentCollection}
	orchestrator := newTestOrchestrator(t, agent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	orchestrator.RunPipeline(ctx)

	if agent.runCount() != 0 {
		t.Errorf("Cancelled pipeline still ran agents %d times", agent.runCount())
	}
}

func TestRunRecordsPersisted(t *testing.T) {
	db := newTestStore(t)
	agent := &stubAgent{name: models.AgentCollection}
	orchestrator := services.NewOrchestrator(db, services.NopStatusPublisher{}, config.SchedulerConfig{}, logger.NewNop(), agent)

	if _, err := orchestrator.RunAgent(context.Background(), models.AgentCollection); err != nil {
		t.Fatalf("RunAgent failed: %v", err)
	}

	records, err := db.ListRunRecords(context.Background(), models.AgentCollection, 10)
	if err != nil {
		t.Fatalf("ListRunRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected one persisted run, got %d", len(records))
	}
	if records[0].Status != models.RunStatusSucceeded {
		t.Errorf("Persisted status = %s", records[0].Status)
	}
	if records[0].RunID == "" {
		t.Error("Run record missing run id")
	}
}

func TestSchedulerHoldsPipelineUntilLag(t *testing.T) {
	collection := &stubAgent{name: models.AgentCollection}
	notification := &stubAgent{name: models.AgentNotification}
	db := newTestStore(t)
	cfg := config.SchedulerConfig{
		Enabled:            true,
		TickInterval:       5 * time.Millisecond,
		CollectionInterval: time.Millisecond,
		PipelineLag:        400 * time.Millisecond,
	}
	orchestrator := services.NewOrchestrator(db, services.NopStatusPublisher{}, cfg, logger.NewNop(), collection, notification)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		orchestrator.StartScheduler(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	if collection.runCount() != 0 {
		t.Error("Full pipeline ran before the startup lag elapsed")
	}
	if notification.runCount() == 0 {
		t.Error("Notification passes should keep running during the lag")
	}

	deadline := time.After(3 * time.Second)
	for collection.runCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("Full pipeline never ran after the lag elapsed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
