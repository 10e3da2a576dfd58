package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/pkg/logger"

	"github.com/gocolly/colly/v2"
)

// PortalSource scrapes a funding portal's listing page. Selectors cover the
// common layout of government call listings: one container per call with a
// linked title, a description block, and labeled deadline/amount fields.
type PortalSource struct {
	name      string
	listURL   string
	collector *colly.Collector
	timeout   time.Duration
	logger    *logger.Logger
}

func NewPortalSource(name, listURL string, timeout time.Duration, log *logger.Logger) (*PortalSource, error) {
	if _, err := url.Parse(listURL); err != nil {
		return nil, fmt.Errorf("invalid portal URL %q: %w", listURL, err)
	}

	collector := colly.NewCollector(
		colly.UserAgent("FundingAI-Pipeline/1.0 (+https://fundingai.com/bot)"),
		colly.AllowedDomains(), // allow all
	)

	collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 2,
		Delay:       2 * time.Second,
	})
	collector.SetRequestTimeout(timeout)

	source := &PortalSource{
		name:      name,
		listURL:   listURL,
		collector: collector,
		timeout:   timeout,
		logger:    log,
	}

	log.Info("Portal Source Initialized Successfully",
		"source", name,
		"url", listURL,
		"timeout", timeout.String())

	return source, nil
}

func (source *PortalSource) Name() string {
	return source.name
}

func (source *PortalSource) FetchRaw(ctx context.Context, since time.Time) ([]models.RawPosting, error) {
	startTime := time.Now()

	c := source.collector.Clone()
	c.Context = ctx

	var postings []models.RawPosting
	var scrapeErr error
	now := time.Now().UTC()

	c.OnHTML(".chamada, .edital, article.opportunity, li.opportunity-item", func(e *colly.HTMLElement) {
		title := cleanText(e.ChildText("h2, h3, .title"))
		if title == "" {
			return
		}

		link := e.ChildAttr("a[href]", "href")
		posting := models.RawPosting{
			SourceID:    postingID(link, title),
			Source:      source.name,
			Title:       title,
			Description: cleanText(e.ChildText("p, .description, .summary")),
			Deadline:    cleanText(e.ChildText(".deadline, .prazo, time")),
			Amount:      cleanText(e.ChildText(".amount, .valor")),
			URL:         e.Request.AbsoluteURL(link),
			CollectedAt: now,
		}
		postings = append(postings, posting)
	})

	c.OnError(func(r *colly.Response, err error) {
		scrapeErr = fmt.Errorf("portal request failed with status %d: %w", r.StatusCode, err)
	})

	if err := c.Visit(source.listURL); err != nil {
		scrapeErr = err
	}
	c.Wait()

	if scrapeErr != nil {
		source.logger.LogService("sources", "scrape_portal", time.Since(startTime), map[string]interface{}{
			"source": source.name,
			"url":    source.listURL,
		}, scrapeErr)
		return nil, models.ErrSourceUnavailable.WithCause(scrapeErr).WithMetadata("source", source.name)
	}

	source.logger.LogService("sources", "scrape_portal", time.Since(startTime), map[string]interface{}{
		"source":   source.name,
		"postings": len(postings),
	}, nil)
	return postings, nil
}

// postingID prefers the link path as the source-native id; listing pages
// without stable links fall back to a slug of the title.
func postingID(link, title string) string {
	if link != "" {
		trimmed := strings.Trim(link, "/")
		if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
		if trimmed != "" {
			return trimmed
		}
	}
	slug := strings.ToLower(title)
	slug = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return '-'
	}, slug)
	return strings.Trim(slug, "-")
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
