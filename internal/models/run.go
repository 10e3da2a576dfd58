package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Agent names, also the discriminator on run records.
const (
	AgentCollection     = "collection"
	AgentClassification = "classification"
	AgentRanking        = "ranking"
	AgentNotification   = "notification"
)

func KnownAgents() []string {
	return []string{AgentCollection, AgentClassification, AgentRanking, AgentNotification}
}

type RunStatus string

const (
	RunStatusRunning        RunStatus = "running"
	RunStatusSucceeded      RunStatus = "succeeded"
	RunStatusPartialFailure RunStatus = "partial_failure"
	RunStatusFailed         RunStatus = "failed"
)

// AgentRunRecord is one append-only audit entry per agent execution.
// Watermark is the end of the input window this run committed; failed runs
// keep the previous watermark so the next run retries the same window.
type AgentRunRecord struct {
	ID          uint       `json:"-" gorm:"primaryKey"`
	RunID       string     `json:"run_id" gorm:"uniqueIndex"`
	Agent       string     `json:"agent" gorm:"index"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at" gorm:"index"`
	FinishedAt  *time.Time `json:"finished_at"`
	Processed   int        `json:"items_processed"`
	Succeeded   int        `json:"items_succeeded"`
	Failed      int        `json:"items_failed"`
	Watermark   time.Time  `json:"watermark"`
	WindowStart time.Time  `json:"window_start"`
	WindowEnd   time.Time  `json:"window_end"`
	Error       string     `json:"error,omitempty"`
	DetailsJSON string     `json:"-" gorm:"column:details"`
}

func NewAgentRunRecord(agent string, windowStart, windowEnd time.Time) *AgentRunRecord {
	return &AgentRunRecord{
		RunID:       uuid.New().String(),
		Agent:       agent,
		Status:      RunStatusRunning,
		StartedAt:   time.Now().UTC(),
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}
}

func (run *AgentRunRecord) Details() map[string]interface{} {
	if run.DetailsJSON == "" {
		return nil
	}
	var details map[string]interface{}
	if err := json.Unmarshal([]byte(run.DetailsJSON), &details); err != nil {
		return nil
	}
	return details
}

func (run *AgentRunRecord) SetDetails(details map[string]interface{}) {
	if len(details) == 0 {
		run.DetailsJSON = ""
		return
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return
	}
	run.DetailsJSON = string(encoded)
}

func (run *AgentRunRecord) RecordSuccess() {
	run.Processed++
	run.Succeeded++
}

func (run *AgentRunRecord) RecordFailure() {
	run.Processed++
	run.Failed++
}

// MarkCompleted finalizes the run: all items succeeded means succeeded, any
// failed item with the run still completing means partial failure. Both
// advance the watermark to the window end.
func (run *AgentRunRecord) MarkCompleted() {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Watermark = run.WindowEnd
	if run.Failed > 0 {
		run.Status = RunStatusPartialFailure
		return
	}
	run.Status = RunStatusSucceeded
}

// MarkFailed aborts the run; the watermark stays at the window start so the
// next run reprocesses the same window.
func (run *AgentRunRecord) MarkFailed(err error) {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Status = RunStatusFailed
	run.Watermark = run.WindowStart
	if err != nil {
		run.Error = err.Error()
	}
}

func (run *AgentRunRecord) Duration() time.Duration {
	if run.FinishedAt != nil {
		return run.FinishedAt.Sub(run.StartedAt)
	}
	return time.Since(run.StartedAt)
}

// AgentUpdate is the live monitoring event published to the status stream.
type AgentUpdate struct {
	Agent     string    `json:"agent"`
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	Message   string    `json:"message"`
	Processed int       `json:"items_processed"`
	Succeeded int       `json:"items_succeeded"`
	Failed    int       `json:"items_failed"`
	Timestamp time.Time `json:"timestamp"`
}

func UpdateFromRun(run *AgentRunRecord, message string) *AgentUpdate {
	return &AgentUpdate{
		Agent:     run.Agent,
		RunID:     run.RunID,
		Status:    run.Status,
		Message:   message,
		Processed: run.Processed,
		Succeeded: run.Succeeded,
		Failed:    run.Failed,
		Timestamp: time.Now().UTC(),
	}
}

// AgentStatusSummary is the aggregate the monitoring UI renders per agent.
type AgentStatusSummary struct {
	Agent          string     `json:"agent"`
	Status         string     `json:"status"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	SuccessRate    float64    `json:"success_rate"`
	TotalProcessed int        `json:"total_processed"`
}
