package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/pkg/logger"
	"fundingai-pipeline/internal/services"
	"fundingai-pipeline/internal/store"
)

// Handler wires the HTTP surface to the store and the orchestrator. No
// business rules live here; everything delegates.
type Handler struct {
	store        *store.Store
	orchestrator *services.Orchestrator
	logger       *logger.Logger
}

func NewHandler(store *store.Store, orchestrator *services.Orchestrator, log *logger.Logger) *Handler {
	return &Handler{
		store:        store,
		orchestrator: orchestrator,
		logger:       log,
	}
}

func (handler *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", handler.Health)

	api := router.Group("/api")
	{
		api.GET("/opportunities", handler.ListOpportunities)
		api.GET("/opportunities/:id", handler.GetOpportunity)
		api.POST("/opportunities/:id/favorite", handler.MarkFavorite)
		api.POST("/opportunities/:id/seen", handler.MarkSeen)
		api.GET("/search", handler.SearchOpportunities)

		api.GET("/users/:id/profile", handler.GetProfile)
		api.PUT("/users/:id/profile", handler.SaveProfile)

		api.GET("/agents/status", handler.AgentStatus)
		api.GET("/agents/:agent/runs", handler.AgentRuns)
		api.POST("/agents/:agent/run", handler.TriggerAgent)

		api.GET("/alerts/:userID", handler.ListAlerts)
		api.POST("/alerts/:userID/read", handler.MarkAlertsRead)
	}
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, models.APIResponse{Success: true, Data: data})
}

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, models.APIResponse{Success: status < http.StatusBadRequest, Message: message})
}

func respondError(c *gin.Context, err error) {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		c.JSON(http.StatusInternalServerError, models.APIResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(statusFor(appErr.Category), models.APIResponse{Success: false, Error: appErr.Message})
}

func statusFor(category models.ErrorCategory) int {
	switch category {
	case models.ErrorCategoryValidation:
		return http.StatusBadRequest
	case models.ErrorCategoryNotFound:
		return http.StatusNotFound
	case models.ErrorCategoryConflict:
		return http.StatusConflict
	case models.ErrorCategoryTimeout:
		return http.StatusGatewayTimeout
	case models.ErrorCategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (handler *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "fundingai-pipeline",
		"uptime":  handler.orchestrator.Uptime().String(),
	})
}
