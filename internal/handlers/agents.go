package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fundingai-pipeline/internal/models"
)

func (handler *Handler) AgentStatus(c *gin.Context) {
	summaries, err := handler.store.AgentStatuses(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	for i := range summaries {
		if handler.orchestrator.IsRunning(summaries[i].Agent) {
			summaries[i].Status = "running"
		}
	}
	respondOK(c, summaries)
}

func (handler *Handler) AgentRuns(c *gin.Context) {
	agent := c.Param("agent")
	if !knownAgent(agent) {
		respondError(c, models.NewValidationError("UNKNOWN_AGENT", "Unknown agent name"))
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		limit = 20
	}
	runs, err := handler.store.ListRunRecords(c.Request.Context(), agent, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, runs)
}

// TriggerAgent starts one run on the caller's behalf and waits for it. An
// agent already running answers 409 rather than queueing.
func (handler *Handler) TriggerAgent(c *gin.Context) {
	agent := c.Param("agent")
	if !knownAgent(agent) {
		respondError(c, models.NewValidationError("UNKNOWN_AGENT", "Unknown agent name"))
		return
	}

	run, err := handler.orchestrator.RunAgent(c.Request.Context(), agent)
	if err != nil && run == nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.APIResponse{
		Success: run.Status != models.RunStatusFailed,
		Message: "Run finished",
		Data:    run,
	})
}

func knownAgent(name string) bool {
	for _, agent := range models.KnownAgents() {
		if agent == name {
			return true
		}
	}
	return false
}
