package services

import (
	"context"
	"math"
	"strings"
	"time"

	"fundingai-pipeline/internal/config"
	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/pkg/logger"
	"fundingai-pipeline/internal/store"
)

// RankingAgent recomputes relevance scores for every (user, opportunity)
// pair touched by the run window: updated opportunities against all
// profiles, and updated profiles against all active opportunities.
type RankingAgent struct {
	store  *store.Store
	config config.RankingConfig
	logger *logger.Logger
}

func NewRankingAgent(store *store.Store, cfg config.RankingConfig, log *logger.Logger) *RankingAgent {
	return &RankingAgent{
		store:  store,
		config: cfg,
		logger: log,
	}
}

func (agent *RankingAgent) Name() string {
	return models.AgentRanking
}

func (agent *RankingAgent) Execute(ctx context.Context, run *models.AgentRunRecord) error {
	now := time.Now().UTC()

	updatedOpportunities, err := agent.store.OpportunitiesUpdatedSince(ctx, run.WindowStart, run.WindowEnd)
	if err != nil {
		return err
	}
	updatedProfiles, err := agent.store.ProfilesUpdatedSince(ctx, run.WindowStart, run.WindowEnd)
	if err != nil {
		return err
	}

	// Pair set: changed opportunities x all users, changed profiles x all
	// active opportunities, deduplicated.
	type pair struct {
		profile     *models.UserProfile
		opportunity *models.Opportunity
	}
	pairs := map[string]pair{}

	if len(updatedOpportunities) > 0 {
		profiles, err := agent.store.ListProfiles(ctx)
		if err != nil {
			return err
		}
		for pi := range profiles {
			for oi := range updatedOpportunities {
				key := profiles[pi].UserID + "|" + updatedOpportunities[oi].ExternalID
				pairs[key] = pair{&profiles[pi], &updatedOpportunities[oi]}
			}
		}
	}

	if len(updatedProfiles) > 0 {
		active, err := agent.store.QueryOpportunities(ctx, store.Filter{ActiveOnly: true})
		if err != nil {
			return err
		}
		for pi := range updatedProfiles {
			for oi := range active {
				key := updatedProfiles[pi].UserID + "|" + active[oi].ExternalID
				pairs[key] = pair{&updatedProfiles[pi], &active[oi]}
			}
		}
	}

	written, unchanged, expired := 0, 0, 0
	for _, item := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Opportunities past their deadline are skipped silently.
		if !item.opportunity.IsActive(now) {
			expired++
			continue
		}

		score, features, err := agent.Score(item.profile, item.opportunity)
		if err != nil {
			run.RecordFailure()
			agent.logger.WithFields(logger.Fields{
				"user_id":     item.profile.UserID,
				"external_id": item.opportunity.ExternalID,
			}).WithError(err).Warn("Skipping pair: score computation failed")
			continue
		}

		_, wrote, err := agent.store.UpsertScore(ctx, item.profile.UserID, item.opportunity.ExternalID, score, features)
		if err != nil {
			run.RecordFailure()
			agent.logger.WithError(err).Error("Failed to persist score")
			continue
		}

		run.RecordSuccess()
		if wrote {
			written++
		} else {
			unchanged++
		}
	}

	run.SetDetails(map[string]interface{}{
		"pairs":     len(pairs),
		"written":   written,
		"unchanged": unchanged,
		"expired":   expired,
	})
	return nil
}

// Score computes the weighted relevance of one opportunity for one profile.
// Deterministic: the same inputs always produce the same score and feature
// breakdown.
func (agent *RankingAgent) Score(profile *models.UserProfile, opportunity *models.Opportunity) (float64, map[string]float64, error) {
	if profile.UserID == "" {
		return 0, nil, models.ErrScoreComputationFailed.WithMetadata("reason", "profile missing user id")
	}
	if opportunity.ExternalID == "" {
		return 0, nil, models.ErrScoreComputationFailed.WithMetadata("reason", "opportunity missing external id")
	}

	features := map[string]float64{
		"category": categoryScore(profile, opportunity),
		"region":   regionScore(profile, opportunity),
		"amount":   amountScore(profile, opportunity),
		"trl":      trlScore(profile, opportunity),
		"tags":     tagScore(profile, opportunity),
	}

	weighted := features["category"]*agent.config.CategoryWeight +
		features["region"]*agent.config.RegionWeight +
		features["amount"]*agent.config.AmountWeight +
		features["trl"]*agent.config.TRLWeight +
		features["tags"]*agent.config.TagWeight

	score := math.Round(weighted * 100)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, features, nil
}

// categoryScore: exact profile-category match, or segment/area substring
// match as a synonym fallback.
func categoryScore(profile *models.UserProfile, opportunity *models.Opportunity) float64 {
	category := strings.ToLower(opportunity.Category)
	if category == "" {
		return 0
	}
	for _, preferred := range profile.PreferredCategories() {
		if strings.EqualFold(preferred, opportunity.Category) {
			return 1
		}
	}
	for _, field := range []string{profile.StartupSegment, profile.StartupArea} {
		lowered := strings.ToLower(strings.TrimSpace(field))
		if lowered == "" {
			continue
		}
		if strings.Contains(category, lowered) || strings.Contains(lowered, category) {
			return 0.8
		}
	}
	return 0
}

// regionScore: opportunity region in the profile's regions, with "Brasil"
// acting as the national wildcard for Brazilian profiles and vice versa.
func regionScore(profile *models.UserProfile, opportunity *models.Opportunity) float64 {
	region := opportunity.Region
	if region == "" || region == models.RegionUnspecified {
		return 0.5
	}
	regions := profile.PreferredRegions()
	if len(regions) == 0 {
		return 0.5
	}
	for _, preferred := range regions {
		if strings.EqualFold(preferred, region) {
			return 1
		}
	}
	if strings.EqualFold(region, "Brasil") || strings.EqualFold(region, "Global") {
		return 1
	}
	return 0
}

// amountScore: full credit at or above the profile threshold, tapering
// continuously to zero below it rather than a binary cut.
func amountScore(profile *models.UserProfile, opportunity *models.Opportunity) float64 {
	if profile.MinAmount <= 0 {
		return 1
	}
	amount := opportunity.EffectiveAmount()
	if amount <= 0 {
		return 0.5
	}
	if amount >= profile.MinAmount {
		return 1
	}
	return amount / profile.MinAmount
}

// trlScore compares the profile TRL against the opportunity's inferred
// target range, tapering with distance outside it.
func trlScore(profile *models.UserProfile, opportunity *models.Opportunity) float64 {
	if profile.StartupTRL < 1 || profile.StartupTRL > 9 {
		return 0.5
	}
	low, high := targetTRLRange(opportunity)
	trl := profile.StartupTRL
	if trl >= low && trl <= high {
		return 1
	}
	distance := low - trl
	if trl > high {
		distance = trl - high
	}
	score := 1 - float64(distance)/4
	if score < 0 {
		return 0
	}
	return score
}

// targetTRLRange is inferred from the opportunity type: fellowships aim at
// early-stage research, public calls at mid maturity, investment at
// market-ready ventures.
func targetTRLRange(opportunity *models.Opportunity) (int, int) {
	switch opportunity.Type {
	case models.TypeBolsa:
		return 1, 5
	case models.TypeInvestimento:
		return 6, 9
	default:
		return 3, 8
	}
}

// tagScore is Jaccard similarity between opportunity tags and keywords
// derived from the profile's free text.
func tagScore(profile *models.UserProfile, opportunity *models.Opportunity) float64 {
	tags := map[string]bool{}
	for _, tag := range opportunity.Tags() {
		tags[strings.ToLower(tag)] = true
	}
	keywords := ProfileKeywords(profile)
	return jaccard(tags, keywords)
}

// ProfileKeywords derives the keyword set from the profile's descriptive
// fields.
func ProfileKeywords(profile *models.UserProfile) map[string]bool {
	text := strings.Join([]string{
		profile.StartupSegment,
		profile.StartupArea,
		profile.StartupDescription,
	}, " ")
	keywords := keywordSet(text)
	for _, category := range profile.PreferredCategories() {
		keywords[strings.ToLower(category)] = true
	}
	return keywords
}
