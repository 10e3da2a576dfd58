package services

import (
	"context"
	"sort"
	"strings"

	"fundingai-pipeline/internal/config"
	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/pkg/logger"
	"fundingai-pipeline/internal/store"
)

// ClassificationAgent assigns category, type, region and tags to
// opportunities updated since its watermark. Ordered rules first; if none
// fires, a similarity match against already-classified records; else the
// record defaults to "Geral"/"unspecified" at low confidence instead of
// failing.
type ClassificationAgent struct {
	store         *store.Store
	config        config.ClassifierConfig
	logger        *logger.Logger
	categoryRules []classificationRule
	typeRules     []typeRule
	regionTerms   map[string][]string
}

type classificationRule struct {
	category string
	keywords []string
	tags     []string
}

type typeRule struct {
	opportunityType models.OpportunityType
	keywords        []string
}

func NewClassificationAgent(store *store.Store, cfg config.ClassifierConfig, log *logger.Logger) *ClassificationAgent {
	return &ClassificationAgent{
		store:         store,
		config:        cfg,
		logger:        log,
		categoryRules: defaultCategoryRules(),
		typeRules:     defaultTypeRules(),
		regionTerms:   defaultRegionTerms(),
	}
}

func defaultCategoryRules() []classificationRule {
	return []classificationRule{
		{"Inteligência Artificial", []string{"inteligência artificial", "artificial intelligence", "machine learning", "deep learning", " ia ", " ia.", " ia,", "(ia)"}, []string{"ia", "inovação"}},
		{"Saúde", []string{"saúde", "health", "medicina", "medical", "biotecnologia", "biotech", "healthtech"}, []string{"healthtech", "p&d"}},
		{"Energia", []string{"energia", "energy", "sustentabilidade", "renewable", "solar", "eólica", "green deal"}, []string{"sustentabilidade", "energia"}},
		{"Fintech", []string{"fintech", "financeiro", "financial", "blockchain", "crypto"}, []string{"fintech"}},
		{"Agtech", []string{"agtech", "agricultura", "agriculture", "agronegócio", "farming"}, []string{"agtech"}},
		{"Educação", []string{"educação", "education", "edtech", "ensino", "learning"}, []string{"edtech"}},
		{"Mobilidade", []string{"mobilidade", "mobility", "transporte", "transport", "logística"}, []string{"mobilidade"}},
		{"Indústria 4.0", []string{"indústria", "industry", "manufatura", "iot", "automação"}, []string{"indústria 4.0"}},
	}
}

func defaultTypeRules() []typeRule {
	return []typeRule{
		{models.TypeEdital, []string{"edital", "chamada pública", "concurso", "seleção pública", "subvenção"}},
		{models.TypeBolsa, []string{"bolsa", "scholarship", "fellowship", "auxílio"}},
		{models.TypeInvestimento, []string{"investimento", "investment", "funding", "capital", "venture"}},
	}
}

func defaultRegionTerms() map[string][]string {
	return map[string][]string{
		"Brasil":         {"brasil", "brazil", "nacional"},
		"Europa":         {"europa", "europe", "união europeia", "european union"},
		"América Latina": {"américa latina", "latin america", "latam"},
	}
}

func (agent *ClassificationAgent) Name() string {
	return models.AgentClassification
}

func (agent *ClassificationAgent) Execute(ctx context.Context, run *models.AgentRunRecord) error {
	pending, err := agent.store.OpportunitiesUpdatedSince(ctx, run.WindowStart, run.WindowEnd)
	if err != nil {
		return err
	}

	corpus, err := agent.store.ClassifiedOpportunities(ctx)
	if err != nil {
		return err
	}

	written, skipped := 0, 0
	for _, record := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		result := agent.Classify(&record, corpus)
		changed, err := agent.store.UpdateClassification(ctx, record.ExternalID,
			result.Category, result.Type, result.Region, result.Tags,
			result.Confidence, result.ConfidenceScore)
		if err != nil {
			run.RecordFailure()
			agent.logger.WithFields(logger.Fields{
				"external_id": record.ExternalID,
			}).WithError(err).Error("Failed to write classification")
			continue
		}

		run.RecordSuccess()
		if changed {
			written++
		} else {
			skipped++
		}
	}

	run.SetDetails(map[string]interface{}{
		"written":   written,
		"unchanged": skipped,
	})
	return nil
}

type Classification struct {
	Category        string
	Type            models.OpportunityType
	Region          string
	Tags            []string
	Confidence      models.Confidence
	ConfidenceScore float64
}

// Classify is deterministic: reclassifying an unchanged record yields the
// same output, which lets the agent skip the write.
func (agent *ClassificationAgent) Classify(record *models.Opportunity, corpus []models.Opportunity) Classification {
	text := " " + strings.ToLower(record.Title+" "+record.Description) + " "

	result := Classification{
		Category:        "Geral",
		Type:            models.TypeEdital,
		Region:          agent.inferRegion(record, text),
		Confidence:      models.ConfidenceLow,
		ConfidenceScore: 0.3,
	}

	var ruleTags []string
	for _, rule := range agent.categoryRules {
		if matchesAny(text, rule.keywords) {
			result.Category = rule.category
			result.Confidence = models.ConfidenceHigh
			result.ConfidenceScore = 0.9
			ruleTags = rule.tags
			break
		}
	}

	if result.Confidence == models.ConfidenceLow && len(corpus) > 0 {
		if category, score := agent.similarCategory(record, corpus); score >= agent.config.SimilarityThreshold {
			result.Category = category
			result.Confidence = models.ConfidenceMedium
			result.ConfidenceScore = 0.6
		}
	}

	for _, rule := range agent.typeRules {
		if matchesAny(text, rule.keywords) {
			result.Type = rule.opportunityType
			break
		}
	}
	if record.Type != "" && result.Confidence == models.ConfidenceLow {
		result.Type = record.Type
	}

	result.Tags = agent.extractTags(record, text, ruleTags)
	return result
}

func (agent *ClassificationAgent) inferRegion(record *models.Opportunity, text string) string {
	// Source metadata wins over text mentions.
	if record.Region != "" {
		return record.Region
	}
	for region, terms := range agent.regionTerms {
		if matchesAny(text, terms) {
			return region
		}
	}
	return models.RegionUnspecified
}

// similarCategory falls back to tag/keyword overlap against records already
// classified with at least medium confidence.
func (agent *ClassificationAgent) similarCategory(record *models.Opportunity, corpus []models.Opportunity) (string, float64) {
	own := keywordSet(record.Title + " " + record.Description)

	bestCategory, bestScore := "", 0.0
	for _, candidate := range corpus {
		if candidate.ExternalID == record.ExternalID || candidate.Category == "" || candidate.Category == "Geral" {
			continue
		}
		other := keywordSet(candidate.Title + " " + candidate.Description)
		score := jaccard(own, other)
		if score > bestScore {
			bestScore = score
			bestCategory = candidate.Category
		}
	}
	return bestCategory, bestScore
}

// extractTags unions matched-rule tags with the highest-weight keyword hits,
// deduplicated and case-normalized, capped at the configured bound.
func (agent *ClassificationAgent) extractTags(record *models.Opportunity, text string, ruleTags []string) []string {
	weighted := map[string]int{}
	for _, keyword := range fundingKeywords {
		count := strings.Count(text, keyword)
		if count > 0 {
			weighted[keyword] = count
		}
	}

	hits := make([]string, 0, len(weighted))
	for keyword := range weighted {
		hits = append(hits, keyword)
	}
	sort.Slice(hits, func(i, j int) bool {
		if weighted[hits[i]] != weighted[hits[j]] {
			return weighted[hits[i]] > weighted[hits[j]]
		}
		return hits[i] < hits[j]
	})

	seen := map[string]bool{}
	tags := make([]string, 0, agent.config.MaxTags)
	appendTag := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] || len(tags) >= agent.config.MaxTags {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	for _, tag := range record.Tags() {
		appendTag(tag)
	}
	for _, tag := range ruleTags {
		appendTag(tag)
	}
	for _, hit := range hits {
		appendTag(hit)
	}
	return tags
}

var fundingKeywords = []string{
	"financiamento", "bolsa", "edital", "investimento", "startup", "inovação",
	"pesquisa", "desenvolvimento", "tecnologia", "ciência", "empreendedorismo",
	"subvenção", "aceleração",
}

func matchesAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

var stopwords = map[string]bool{
	"para": true, "com": true, "das": true, "dos": true, "uma": true,
	"and": true, "the": true, "for": true, "that": true, "este": true,
	"sobre": true, "como": true, "mais": true,
}

func keywordSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,;:()[]\"'“”")
		if len([]rune(token)) < 4 || stopwords[token] {
			continue
		}
		set[token] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for token := range a {
		if b[token] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
