package models_test

import (
	"testing"
	"time"

	"fundingai-pipeline/internal/models"
)

func TestExternalKey(t *testing.T) {
	if key := models.ExternalKey("FINEP", "2024_001"); key != "finep:2024_001" {
		t.Errorf("Key = %q", key)
	}
	if key := models.ExternalKey("  União Europeia ", " he_2024 "); key != "união europeia:he_2024" {
		t.Errorf("Key = %q", key)
	}
}

func TestOpportunityTagsRoundTrip(t *testing.T) {
	record := models.Opportunity{}
	if record.Tags() != nil {
		t.Error("Empty tags should be nil")
	}

	record.SetTags([]string{"ia", "inovação"})
	tags := record.Tags()
	if len(tags) != 2 || tags[0] != "ia" {
		t.Errorf("Tags = %v", tags)
	}

	record.SetTags(nil)
	if record.TagsJSON != "" {
		t.Error("Clearing tags should empty the column")
	}
}

func TestEffectiveAmount(t *testing.T) {
	record := models.Opportunity{AmountMin: 100000, AmountMax: 500000}
	if record.EffectiveAmount() != 500000 {
		t.Errorf("EffectiveAmount = %v, upper bound wins", record.EffectiveAmount())
	}

	record = models.Opportunity{AmountMin: 100000}
	if record.EffectiveAmount() != 100000 {
		t.Errorf("EffectiveAmount = %v, lower bound when no upper", record.EffectiveAmount())
	}
}

func TestIsActive(t *testing.T) {
	now := time.Now().UTC()
	past := now.AddDate(0, 0, -1)
	future := now.AddDate(0, 0, 1)

	if (&models.Opportunity{Deadline: &past}).IsActive(now) {
		t.Error("Past deadline should be inactive")
	}
	if !(&models.Opportunity{Deadline: &future}).IsActive(now) {
		t.Error("Future deadline should be active")
	}
	if !(&models.Opportunity{}).IsActive(now) {
		t.Error("No deadline means always active")
	}
}

func TestAppErrorMetadataDoesNotMutateSentinel(t *testing.T) {
	derived := models.ErrOpportunityNotFound.WithMetadata("external_id", "finep:1")
	if len(models.ErrOpportunityNotFound.Metadata) != 0 {
		t.Error("Sentinel error mutated by WithMetadata")
	}
	if derived.Metadata["external_id"] != "finep:1" {
		t.Error("Derived error missing metadata")
	}
	if derived.Code != models.ErrOpportunityNotFound.Code {
		t.Error("Derived error lost its code")
	}
}
