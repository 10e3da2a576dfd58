package sources_test

import (
	"context"
	"testing"
	"time"

	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/sources"
)

func TestStaticSourceFetchRaw(t *testing.T) {
	source := sources.NewStaticSource("fixtures", sources.FixturePostings())

	postings, err := source.FetchRaw(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("FetchRaw failed: %v", err)
	}
	if len(postings) != 3 {
		t.Fatalf("Got %d postings", len(postings))
	}
	for _, posting := range postings {
		if posting.Source == "" {
			t.Error("Posting missing source")
		}
		if posting.CollectedAt.IsZero() {
			t.Error("Posting missing collection timestamp")
		}
	}
	// Fixture postings keep their declared source.
	if postings[0].Source != "FINEP" {
		t.Errorf("Source = %q", postings[0].Source)
	}
}

func TestStaticSourceFillsMissingSource(t *testing.T) {
	source := sources.NewStaticSource("manual", []models.RawPosting{
		{SourceID: "1", Title: "Sem fonte declarada"},
	})

	postings, err := source.FetchRaw(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("FetchRaw failed: %v", err)
	}
	if postings[0].Source != "manual" {
		t.Errorf("Source = %q, adapter name should backfill", postings[0].Source)
	}
}
