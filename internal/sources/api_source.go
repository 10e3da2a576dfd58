package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
)

// APISource pulls postings from a JSON endpoint exposing funding calls.
// Fetches retry with exponential backoff behind a per-source circuit
// breaker, so a flapping upstream trips open instead of hammering it.
type APISource struct {
	name    string
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	retries uint
	logger  *logger.Logger
}

type apiEnvelope struct {
	Results []apiPosting `json:"results"`
}

type apiPosting struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Type        string   `json:"type"`
	Region      string   `json:"region"`
	Deadline    string   `json:"deadline"`
	Amount      string   `json:"amount"`
	URL         string   `json:"url"`
	Tags        []string `json:"tags"`
}

func NewAPISource(name, baseURL string, timeout time.Duration, retries int, log *logger.Logger) *APISource {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &APISource{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		retries: uint(retries),
		logger:  log,
	}
}

func (source *APISource) Name() string {
	return source.name
}

func (source *APISource) FetchRaw(ctx context.Context, since time.Time) ([]models.RawPosting, error) {
	startTime := time.Now()

	operation := func() ([]models.RawPosting, error) {
		result, err := source.breaker.Execute(func() (interface{}, error) {
			return source.fetchOnce(ctx, since)
		})
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return result.([]models.RawPosting), nil
	}

	postings, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(source.retries))
	if err != nil {
		source.logger.LogService("sources", "fetch_raw", time.Since(startTime), map[string]interface{}{
			"source": source.name,
		}, err)
		return nil, models.ErrSourceUnavailable.WithCause(err).WithMetadata("source", source.name)
	}

	source.logger.LogService("sources", "fetch_raw", time.Since(startTime), map[string]interface{}{
		"source":   source.name,
		"postings": len(postings),
	}, nil)
	return postings, nil
}

func (source *APISource) fetchOnce(ctx context.Context, since time.Time) ([]models.RawPosting, error) {
	endpoint, err := url.Parse(source.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source URL %q: %w", source.baseURL, err)
	}
	query := endpoint.Query()
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := source.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source %s returned status %d", source.name, resp.StatusCode)
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode source payload: %w", err)
	}

	now := time.Now().UTC()
	postings := make([]models.RawPosting, 0, len(envelope.Results))
	for _, item := range envelope.Results {
		postings = append(postings, models.RawPosting{
			SourceID:    item.ID,
			Source:      source.name,
			Title:       item.Title,
			Description: item.Description,
			Category:    item.Category,
			Type:        item.Type,
			Region:      item.Region,
			Deadline:    item.Deadline,
			Amount:      item.Amount,
			URL:         item.URL,
			Tags:        item.Tags,
			CollectedAt: now,
		})
	}
	return postings, nil
}
