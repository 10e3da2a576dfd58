package models

import (
	"encoding/json"
	"strings"
	"time"
)

type OpportunityType string

const (
	TypeEdital       OpportunityType = "edital"
	TypeBolsa        OpportunityType = "bolsa"
	TypeInvestimento OpportunityType = "investimento"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

const RegionUnspecified = "unspecified"

// RawPosting is what a source adapter hands to the collection agent before
// normalization. SourceID is the source-native identifier.
type RawPosting struct {
	SourceID    string    `json:"source_id"`
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Type        string    `json:"type"`
	Region      string    `json:"region"`
	Deadline    string    `json:"deadline"`
	Amount      string    `json:"amount"`
	URL         string    `json:"url"`
	Tags        []string  `json:"tags"`
	CollectedAt time.Time `json:"collected_at"`
}

// Opportunity is the canonical stored record. ExternalID is the globally
// unique source key (source + source-native id); updates to an existing key
// never change identity, only mutable fields with LastUpdated bumped.
type Opportunity struct {
	ID          uint            `json:"-" gorm:"primaryKey"`
	ExternalID  string          `json:"external_id" gorm:"uniqueIndex;not null"`
	Title       string          `json:"title" gorm:"not null"`
	Description string          `json:"description"`
	Category    string          `json:"category" gorm:"index"`
	Type        OpportunityType `json:"type" gorm:"index"`
	Region      string          `json:"region" gorm:"index"`
	Deadline    *time.Time      `json:"deadline"`

	// AmountRaw is the display string as collected; the bounds are the
	// normalized numeric range used for filtering and scoring.
	AmountRaw       string  `json:"amount"`
	AmountCurrency  string  `json:"amount_currency"`
	AmountMin       float64 `json:"amount_min"`
	AmountMax       float64 `json:"amount_max"`
	AmountRecurring bool    `json:"amount_recurring"`

	Source    string `json:"source" gorm:"index"`
	SourceURL string `json:"source_url"`
	TagsJSON  string `json:"-" gorm:"column:tags"`

	Confidence      Confidence `json:"confidence"`
	ConfidenceScore float64    `json:"confidence_score"`

	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated" gorm:"index"`
}

func (opportunity *Opportunity) Tags() []string {
	if opportunity.TagsJSON == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(opportunity.TagsJSON), &tags); err != nil {
		return nil
	}
	return tags
}

func (opportunity *Opportunity) SetTags(tags []string) {
	if len(tags) == 0 {
		opportunity.TagsJSON = ""
		return
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return
	}
	opportunity.TagsJSON = string(encoded)
}

// EffectiveAmount is the bound used for threshold checks: the upper bound
// when known, otherwise the lower one.
func (opportunity *Opportunity) EffectiveAmount() float64 {
	if opportunity.AmountMax > 0 {
		return opportunity.AmountMax
	}
	return opportunity.AmountMin
}

func (opportunity *Opportunity) IsActive(now time.Time) bool {
	return opportunity.Deadline == nil || !opportunity.Deadline.Before(now)
}

func ExternalKey(source, sourceID string) string {
	return strings.ToLower(strings.TrimSpace(source)) + ":" + strings.TrimSpace(sourceID)
}

type AlertFrequency string

const (
	FrequencyDaily   AlertFrequency = "daily"
	FrequencyWeekly  AlertFrequency = "weekly"
	FrequencyMonthly AlertFrequency = "monthly"
)

// UserProfile is created at signup and mutated only by the owning user.
// The pipeline never deletes profiles.
type UserProfile struct {
	UserID string `json:"user_id" gorm:"primaryKey"`
	Email  string `json:"email"`
	Name   string `json:"name"`

	StartupName        string `json:"startup_name"`
	StartupSegment     string `json:"startup_segment"`
	StartupTRL         int    `json:"startup_trl"`
	StartupArea        string `json:"startup_area"`
	StartupDescription string `json:"startup_description"`

	PreferredRegionsJSON    string         `json:"-" gorm:"column:preferred_regions"`
	PreferredCategoriesJSON string         `json:"-" gorm:"column:preferred_categories"`
	MinAmount               float64        `json:"min_amount"`
	AlertFrequency          AlertFrequency `json:"alert_frequency"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index"`
}

func (profile *UserProfile) PreferredRegions() []string {
	return decodeStrings(profile.PreferredRegionsJSON)
}

func (profile *UserProfile) SetPreferredRegions(regions []string) {
	profile.PreferredRegionsJSON = encodeStrings(regions)
}

func (profile *UserProfile) PreferredCategories() []string {
	return decodeStrings(profile.PreferredCategoriesJSON)
}

func (profile *UserProfile) SetPreferredCategories(categories []string) {
	profile.PreferredCategoriesJSON = encodeStrings(categories)
}

// RelevanceScore keys by (user, opportunity). Score is 0..100; the feature
// breakdown is persisted for explainability.
type RelevanceScore struct {
	ID            uint      `json:"-" gorm:"primaryKey"`
	UserID        string    `json:"user_id" gorm:"index:idx_score_pair,unique"`
	OpportunityID string    `json:"opportunity_id" gorm:"index:idx_score_pair,unique"`
	Score         float64   `json:"score"`
	FeaturesJSON  string    `json:"-" gorm:"column:features"`
	ComputedAt    time.Time `json:"computed_at" gorm:"index"`
}

func (score *RelevanceScore) Features() map[string]float64 {
	if score.FeaturesJSON == "" {
		return nil
	}
	var features map[string]float64
	if err := json.Unmarshal([]byte(score.FeaturesJSON), &features); err != nil {
		return nil
	}
	return features
}

func (score *RelevanceScore) SetFeatures(features map[string]float64) {
	if len(features) == 0 {
		score.FeaturesJSON = ""
		return
	}
	encoded, err := json.Marshal(features)
	if err != nil {
		return
	}
	score.FeaturesJSON = string(encoded)
}

// FavoriteMark and SeenMark are per-user relationship state, owned by the
// client API. Pipeline stages never write them.
type FavoriteMark struct {
	ID            uint      `json:"-" gorm:"primaryKey"`
	UserID        string    `json:"user_id" gorm:"index:idx_favorite_pair,unique"`
	OpportunityID string    `json:"opportunity_id" gorm:"index:idx_favorite_pair,unique"`
	Favorite      bool      `json:"favorite"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type SeenMark struct {
	ID            uint      `json:"-" gorm:"primaryKey"`
	UserID        string    `json:"user_id" gorm:"index:idx_seen_pair,unique"`
	OpportunityID string    `json:"opportunity_id" gorm:"index:idx_seen_pair,unique"`
	Seen          bool      `json:"seen"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Alert is one queued or dispatched notification for a (user, opportunity)
// pair within a dispatch boundary. It doubles as the dedup record that keeps
// a user from receiving the same opportunity twice in one boundary.
type Alert struct {
	ID            uint       `json:"-" gorm:"primaryKey"`
	UserID        string     `json:"user_id" gorm:"index"`
	OpportunityID string     `json:"opportunity_id"`
	Score         float64    `json:"score"`
	BoundaryAt    time.Time  `json:"boundary_at" gorm:"index"`
	CreatedAt     time.Time  `json:"created_at"`
	DispatchedAt  *time.Time `json:"dispatched_at"`
	Read          bool       `json:"read"`
}

// OpportunitySummary is the per-item payload inside a notification batch.
type OpportunitySummary struct {
	ExternalID string     `json:"external_id"`
	Title      string     `json:"title"`
	Category   string     `json:"category"`
	Region     string     `json:"region"`
	Amount     string     `json:"amount"`
	Deadline   *time.Time `json:"deadline"`
	Score      float64    `json:"score"`
	Source     string     `json:"source"`
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return ""
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(encoded)
}
