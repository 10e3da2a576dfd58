package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/store"
)

// ListOpportunities returns the filtered feed. When user_id is present each
// item carries that user's score and marks and the list is ordered score
// first; anonymous callers get recency order.
func (handler *Handler) ListOpportunities(c *gin.Context) {
	filter := store.Filter{
		Category: c.Query("category"),
		Type:     models.OpportunityType(c.Query("type")),
		Region:   c.Query("region"),
		Source:   c.Query("source"),
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.Limit = limit
	}
	if minAmount, err := strconv.ParseFloat(c.Query("min_amount"), 64); err == nil {
		filter.MinAmount = minAmount
	}
	if c.DefaultQuery("active", "true") == "true" {
		filter.ActiveOnly = true
	}
	if deadlineBefore := c.Query("deadline_before"); deadlineBefore != "" {
		parsed, err := time.Parse("2006-01-02", deadlineBefore)
		if err != nil {
			respondError(c, models.NewValidationError("BAD_DEADLINE_FILTER", "deadline_before must be YYYY-MM-DD"))
			return
		}
		filter.DeadlineBefore = &parsed
	}

	records, err := handler.store.QueryOpportunities(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	views, err := handler.decorate(c, records, c.Query("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, views)
}

func (handler *Handler) GetOpportunity(c *gin.Context) {
	record, err := handler.store.GetOpportunity(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	views, err := handler.decorate(c, []models.Opportunity{*record}, c.Query("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, views[0])
}

// SearchOpportunities is a substring search over title and description,
// combinable with the same filters as the list endpoint.
func (handler *Handler) SearchOpportunities(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		respondError(c, models.NewValidationError("EMPTY_QUERY", "Query parameter q is required"))
		return
	}

	filter := store.Filter{
		Search:   query,
		Category: c.Query("category"),
		Type:     models.OpportunityType(c.Query("type")),
		Region:   c.Query("region"),
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.Limit = limit
	}

	records, err := handler.store.QueryOpportunities(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	views, err := handler.decorate(c, records, c.Query("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, views)
}

type markRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Value  *bool  `json:"value"`
}

func (request *markRequest) value() bool {
	if request.Value == nil {
		return true
	}
	return *request.Value
}

func (handler *Handler) MarkFavorite(c *gin.Context) {
	var request markRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, models.NewValidationError("BAD_REQUEST", err.Error()))
		return
	}

	externalID := c.Param("id")
	if _, err := handler.store.GetOpportunity(c.Request.Context(), externalID); err != nil {
		respondError(c, err)
		return
	}
	if err := handler.store.SetFavorite(c.Request.Context(), request.UserID, externalID, request.value()); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "Favorite updated")
}

func (handler *Handler) MarkSeen(c *gin.Context) {
	var request markRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, models.NewValidationError("BAD_REQUEST", err.Error()))
		return
	}

	externalID := c.Param("id")
	if _, err := handler.store.GetOpportunity(c.Request.Context(), externalID); err != nil {
		respondError(c, err)
		return
	}
	if err := handler.store.SetSeen(c.Request.Context(), request.UserID, externalID, request.value()); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "Seen updated")
}

func (handler *Handler) decorate(c *gin.Context, records []models.Opportunity, userID string) ([]models.OpportunityView, error) {
	var (
		scores    map[string]float64
		favorites map[string]bool
		seen      map[string]bool
		err       error
	)
	if userID != "" {
		ctx := c.Request.Context()
		if scores, err = handler.store.ScoresForUser(ctx, userID); err != nil {
			return nil, err
		}
		if favorites, err = handler.store.FavoritesForUser(ctx, userID); err != nil {
			return nil, err
		}
		if seen, err = handler.store.SeenForUser(ctx, userID); err != nil {
			return nil, err
		}
		store.SortForDisplay(records, scores)
	}

	views := make([]models.OpportunityView, 0, len(records))
	for _, record := range records {
		view := models.OpportunityView{
			Opportunity: record,
			Tags:        record.Tags(),
			Favorite:    favorites[record.ExternalID],
			Seen:        seen[record.ExternalID],
		}
		if score, ok := scores[record.ExternalID]; ok {
			view.Score = &score
		}
		views = append(views, view)
	}
	return views, nil
}
