package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fundingai-pipeline/internal/models"
)

type profilePayload struct {
	Email               string   `json:"email"`
	Name                string   `json:"name"`
	StartupName         string   `json:"startup_name"`
	StartupSegment      string   `json:"startup_segment"`
	StartupTRL          int      `json:"startup_trl"`
	StartupArea         string   `json:"startup_area"`
	StartupDescription  string   `json:"startup_description"`
	PreferredRegions    []string `json:"preferred_regions"`
	PreferredCategories []string `json:"preferred_categories"`
	MinAmount           float64  `json:"min_amount"`
	AlertFrequency      string   `json:"alert_frequency"`
}

func profileView(profile *models.UserProfile) gin.H {
	return gin.H{
		"user_id":              profile.UserID,
		"email":                profile.Email,
		"name":                 profile.Name,
		"startup_name":         profile.StartupName,
		"startup_segment":      profile.StartupSegment,
		"startup_trl":          profile.StartupTRL,
		"startup_area":         profile.StartupArea,
		"startup_description":  profile.StartupDescription,
		"preferred_regions":    profile.PreferredRegions(),
		"preferred_categories": profile.PreferredCategories(),
		"min_amount":           profile.MinAmount,
		"alert_frequency":      profile.AlertFrequency,
		"created_at":           profile.CreatedAt,
		"updated_at":           profile.UpdatedAt,
	}
}

func (handler *Handler) GetProfile(c *gin.Context) {
	profile, err := handler.store.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, profileView(profile))
}

// SaveProfile creates or replaces the profile. TRL outside 1..9 is rejected;
// an unknown alert frequency falls back to weekly.
func (handler *Handler) SaveProfile(c *gin.Context) {
	var payload profilePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, models.NewValidationError("BAD_REQUEST", err.Error()))
		return
	}
	if payload.StartupTRL != 0 && (payload.StartupTRL < 1 || payload.StartupTRL > 9) {
		respondError(c, models.NewValidationError("BAD_TRL", "startup_trl must be between 1 and 9"))
		return
	}

	profile := &models.UserProfile{
		UserID:             c.Param("id"),
		Email:              payload.Email,
		Name:               payload.Name,
		StartupName:        payload.StartupName,
		StartupSegment:     payload.StartupSegment,
		StartupTRL:         payload.StartupTRL,
		StartupArea:        payload.StartupArea,
		StartupDescription: payload.StartupDescription,
		MinAmount:          payload.MinAmount,
		AlertFrequency:     normalizeFrequency(payload.AlertFrequency),
	}
	profile.SetPreferredRegions(payload.PreferredRegions)
	profile.SetPreferredCategories(payload.PreferredCategories)

	if err := handler.store.SaveProfile(c.Request.Context(), profile); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, profileView(profile))
}

func normalizeFrequency(raw string) models.AlertFrequency {
	switch models.AlertFrequency(raw) {
	case models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly:
		return models.AlertFrequency(raw)
	default:
		return models.FrequencyWeekly
	}
}

func (handler *Handler) ListAlerts(c *gin.Context) {
	alerts, err := handler.store.AlertsForUser(c.Request.Context(), c.Param("userID"), 100)
	if err != nil {
		respondError(c, err)
		return
	}

	unread := 0
	for _, alert := range alerts {
		if !alert.Read && alert.DispatchedAt != nil {
			unread++
		}
	}
	respondOK(c, gin.H{
		"alerts":       alerts,
		"unread_count": unread,
		"fetched_at":   time.Now().UTC(),
	})
}

func (handler *Handler) MarkAlertsRead(c *gin.Context) {
	if err := handler.store.MarkAlertsRead(c.Request.Context(), c.Param("userID")); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "Alerts marked read")
}
