package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"fundingai-pipeline/internal/config"
	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/pkg/logger"
	"fundingai-pipeline/internal/sources"
	"fundingai-pipeline/internal/store"
)

// CollectionAgent polls the source adapters, normalizes raw postings into
// candidate opportunities and upserts them. Best-effort: failures are
// isolated per item and per adapter, never aborting the rest of the run.
type CollectionAgent struct {
	store    *store.Store
	adapters []sources.Adapter
	config   config.CollectorConfig
	logger   *logger.Logger
}

func NewCollectionAgent(store *store.Store, adapters []sources.Adapter, cfg config.CollectorConfig, log *logger.Logger) *CollectionAgent {
	return &CollectionAgent{
		store:    store,
		adapters: adapters,
		config:   cfg,
		logger:   log,
	}
}

func (agent *CollectionAgent) Name() string {
	return models.AgentCollection
}

func (agent *CollectionAgent) Execute(ctx context.Context, run *models.AgentRunRecord) error {
	inserted, updated := 0, 0

	for _, adapter := range agent.adapters {
		if err := ctx.Err(); err != nil {
			return err
		}

		postings, err := adapter.FetchRaw(ctx, run.WindowStart)
		if err != nil {
			// Adapter failure counts as one failed item; remaining
			// adapters still run. Retried next scheduled run.
			run.RecordFailure()
			agent.logger.WithError(err).Warn("Source adapter fetch failed")
			continue
		}

		for _, posting := range postings {
			if err := ctx.Err(); err != nil {
				return err
			}

			record, err := NormalizePosting(posting)
			if err != nil {
				run.RecordFailure()
				agent.logger.WithFields(logger.Fields{
					"source": posting.Source,
					"title":  posting.Title,
				}).WithError(err).Warn("Skipping malformed posting")
				continue
			}

			result, err := agent.store.UpsertOpportunity(ctx, record)
			if err != nil {
				run.RecordFailure()
				agent.logger.WithError(err).Error("Failed to upsert opportunity")
				continue
			}

			run.RecordSuccess()
			switch result {
			case store.UpsertInserted:
				inserted++
			case store.UpsertUpdated:
				updated++
			}
		}
	}

	run.SetDetails(map[string]interface{}{
		"sources":  len(agent.adapters),
		"inserted": inserted,
		"updated":  updated,
	})
	return nil
}

// NormalizePosting maps a raw posting onto a candidate opportunity: external
// key computation, deadline parsing, amount parsing into normalized bounds.
func NormalizePosting(posting models.RawPosting) (*models.Opportunity, error) {
	if posting.SourceID == "" || posting.Source == "" {
		return nil, models.ErrMalformedPosting.WithMetadata("reason", "missing source identity")
	}
	if strings.TrimSpace(posting.Title) == "" {
		return nil, models.ErrMalformedPosting.WithMetadata("reason", "missing title")
	}

	record := &models.Opportunity{
		ExternalID:  models.ExternalKey(posting.Source, posting.SourceID),
		Title:       strings.TrimSpace(posting.Title),
		Description: strings.TrimSpace(posting.Description),
		Category:    strings.TrimSpace(posting.Category),
		Region:      strings.TrimSpace(posting.Region),
		Source:      posting.Source,
		SourceURL:   posting.URL,
	}

	switch strings.ToLower(strings.TrimSpace(posting.Type)) {
	case string(models.TypeEdital):
		record.Type = models.TypeEdital
	case string(models.TypeBolsa):
		record.Type = models.TypeBolsa
	case string(models.TypeInvestimento):
		record.Type = models.TypeInvestimento
	}

	if len(posting.Tags) > 0 {
		record.SetTags(posting.Tags)
	}

	deadline, err := ParseDeadline(posting.Deadline)
	if err != nil {
		return nil, err
	}
	record.Deadline = deadline

	amount, err := ParseAmount(posting.Amount)
	if err != nil {
		return nil, err
	}
	record.AmountRaw = strings.TrimSpace(posting.Amount)
	record.AmountCurrency = amount.Currency
	record.AmountMin = amount.Min
	record.AmountMax = amount.Max
	record.AmountRecurring = amount.Recurring

	return record, nil
}

var deadlineLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
}

func ParseDeadline(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range deadlineLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			utc := parsed.UTC()
			return &utc, nil
		}
	}
	return nil, models.ErrMalformedPosting.WithMetadata("reason", "unparseable deadline").WithMetadata("deadline", raw)
}

type ParsedAmount struct {
	Currency  string
	Min       float64
	Max       float64
	Recurring bool
}

// ParseAmount normalizes display strings like "R$ 500.000", "R$ 3.000/mês",
// "€ 2.000.000", "até R$ 1.000.000" or "R$ 100.000 a R$ 500.000" into a
// currency plus numeric lower/upper bounds. Empty input is valid: not every
// call publishes a value.
func ParseAmount(raw string) (ParsedAmount, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ParsedAmount{}, nil
	}

	lowered := strings.ToLower(trimmed)
	parsed := ParsedAmount{
		Currency:  detectCurrency(lowered),
		Recurring: strings.Contains(lowered, "/mês") || strings.Contains(lowered, "/mes") || strings.Contains(lowered, "mensal"),
	}

	numbers := extractNumbers(lowered)
	if len(numbers) == 0 {
		return ParsedAmount{}, models.ErrMalformedPosting.WithMetadata("reason", "unparseable amount").WithMetadata("amount", raw)
	}

	upTo := strings.Contains(lowered, "até ") || strings.Contains(lowered, "ate ")
	switch {
	case len(numbers) >= 2:
		parsed.Min, parsed.Max = numbers[0], numbers[1]
		if parsed.Max < parsed.Min {
			parsed.Min, parsed.Max = parsed.Max, parsed.Min
		}
	case upTo:
		parsed.Max = numbers[0]
	default:
		parsed.Min, parsed.Max = numbers[0], numbers[0]
	}
	return parsed, nil
}

func detectCurrency(lowered string) string {
	switch {
	case strings.Contains(lowered, "r$"):
		return "BRL"
	case strings.Contains(lowered, "€") || strings.Contains(lowered, "eur"):
		return "EUR"
	case strings.Contains(lowered, "us$") || strings.Contains(lowered, "usd") || strings.Contains(lowered, "$"):
		return "USD"
	}
	return ""
}

// extractNumbers pulls pt-BR formatted numbers: '.' as thousands separator,
// ',' as decimal separator.
func extractNumbers(s string) []float64 {
	var numbers []float64
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		token := current.String()
		current.Reset()
		token = strings.ReplaceAll(token, ".", "")
		token = strings.ReplaceAll(token, ",", ".")
		value, err := strconv.ParseFloat(strings.Trim(token, "."), 64)
		if err == nil && value > 0 {
			numbers = append(numbers, value)
		}
	}

	for _, r := range s {
		if r >= '0' && r <= '9' || r == '.' || r == ',' {
			current.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return numbers
}
