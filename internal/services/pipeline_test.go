package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"fundingai-pipeline/internal/config"
	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/pkg/logger"
	"fundingai-pipeline/internal/sources"
	"fundingai-pipeline/internal/store"
)

type seededAdapter struct {
	postings []models.RawPosting
}

func (adapter *seededAdapter) Name() string { return "seeded" }

func (adapter *seededAdapter) FetchRaw(ctx context.Context, since time.Time) ([]models.RawPosting, error) {
	return adapter.postings, nil
}

type recordingNotifier struct {
	batches map[string][][]models.OpportunitySummary
}

func (notifier *recordingNotifier) Deliver(ctx context.Context, userID string, batch []models.OpportunitySummary) error {
	if notifier.batches == nil {
		notifier.batches = map[string][][]models.OpportunitySummary{}
	}
	notifier.batches[userID] = append(notifier.batches[userID], batch)
	return nil
}

func newPipelineStore(t *testing.T) *store.Store {
	t.Helper()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := store.Open(config.StoreConfig{DSN: dsn}, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// One posting travels the whole pipeline: collected, classified, ranked for
// a matching founder, queued on the weekly boundary and delivered once the
// boundary passes. Re-collecting the identical posting afterwards stays a
// no-op even though classification rewrote the derived fields.
func TestPipelineDeliversWeeklyBatch(t *testing.T) {
	db := newPipelineStore(t)
	ctx := context.Background()
	log := logger.NewNop()

	t0 := time.Now().UTC()
	deadline := t0.AddDate(0, 0, 20)

	adapter := &seededAdapter{postings: []models.RawPosting{{
		SourceID:    "2024_001",
		Source:      "FINEP",
		Title:       "FINEP lança edital de subvenção para startups de inteligência artificial",
		Description: "Apoio a soluções de inteligência artificial desenvolvidas no Brasil",
		Deadline:    deadline.Format("2006-01-02"),
		Amount:      "R$ 500.000",
		URL:         "https://www.finep.gov.br/chamadas-publicas",
		Tags:        []string{"IA", "Startup"},
	}}}

	profile := &models.UserProfile{
		UserID:         "user-1",
		StartupSegment: "Inteligência Artificial",
		StartupTRL:     4,
		MinAmount:      100000,
		AlertFrequency: models.FrequencyWeekly,
	}
	profile.SetPreferredRegions([]string{"Brasil"})
	profile.SetPreferredCategories([]string{"Inteligência Artificial"})
	if err := db.SaveProfile(ctx, profile); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	notifier := &recordingNotifier{}
	notification := NewNotificationAgent(db, notifier, config.NotificationConfig{
		SignificanceDelta: 5,
		LookaheadDays:     30,
		MinScore:          60,
		WeeklyWeekday:     time.Monday,
	}, log)
	clock := t0
	notification.now = func() time.Time { return clock }

	orchestrator := NewOrchestrator(db, NopStatusPublisher{}, config.SchedulerConfig{}, log,
		NewCollectionAgent(db, []sources.Adapter{adapter}, config.CollectorConfig{}, log),
		NewClassificationAgent(db, config.ClassifierConfig{MaxTags: 8, SimilarityThreshold: 0.25}, log),
		NewRankingAgent(db, config.RankingConfig{
			CategoryWeight: 0.35,
			RegionWeight:   0.25,
			AmountWeight:   0.20,
			TRLWeight:      0.10,
			TagWeight:      0.10,
		}, log),
		notification,
	)

	orchestrator.RunPipeline(ctx)

	stored, err := db.GetOpportunity(ctx, "finep:2024_001")
	if err != nil {
		t.Fatalf("Opportunity not collected: %v", err)
	}
	if stored.Category != "Inteligência Artificial" {
		t.Errorf("Category = %q, want Inteligência Artificial", stored.Category)
	}
	if stored.Type != models.TypeEdital {
		t.Errorf("Type = %q, want edital", stored.Type)
	}
	if stored.Region != "Brasil" {
		t.Errorf("Region = %q, want Brasil", stored.Region)
	}
	classifiedTags := stored.Tags()
	if len(classifiedTags) == 0 {
		t.Fatal("Classification produced no tags")
	}

	score, err := db.GetScore(ctx, "user-1", "finep:2024_001")
	if err != nil {
		t.Fatalf("GetScore failed: %v", err)
	}
	if score == nil || score.Score < 80 {
		t.Fatalf("Score = %+v, want >= 80 for a strong match", score)
	}

	alerts, err := db.AlertsForUser(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("AlertsForUser failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("Expected one queued alert, got %d", len(alerts))
	}
	boundary := NextBoundary(t0, models.FrequencyWeekly, time.Monday)
	if !alerts[0].BoundaryAt.Equal(boundary) {
		t.Errorf("Alert boundary %v, want next weekly boundary %v", alerts[0].BoundaryAt, boundary)
	}
	if len(notifier.batches) != 0 {
		t.Error("Batch delivered before its boundary")
	}

	// The identical posting arriving again must not disturb the record the
	// classifier finished, nor count as an update.
	recollect, err := orchestrator.RunAgent(ctx, models.AgentCollection)
	if err != nil {
		t.Fatalf("Second collection run failed: %v", err)
	}
	details := recollect.Details()
	if details["inserted"].(float64) != 0 || details["updated"].(float64) != 0 {
		t.Errorf("Re-collecting an unchanged posting reported changes: %v", details)
	}
	stored, err = db.GetOpportunity(ctx, "finep:2024_001")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := stored.Tags(); len(got) != len(classifiedTags) || got[0] != classifiedTags[0] {
		t.Errorf("Re-collection clobbered classified tags: %v -> %v", classifiedTags, got)
	}

	clock = boundary.Add(time.Hour)
	if _, err := orchestrator.RunAgent(ctx, models.AgentNotification); err != nil {
		t.Fatalf("Dispatch run failed: %v", err)
	}

	delivered := notifier.batches["user-1"]
	if len(delivered) != 1 || len(delivered[0]) != 1 {
		t.Fatalf("Expected one batch with one item, got %v", delivered)
	}
	summary := delivered[0][0]
	if summary.ExternalID != "finep:2024_001" || summary.Score < 80 {
		t.Errorf("Delivered summary = %+v", summary)
	}

	alerts, err = db.AlertsForUser(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("AlertsForUser failed: %v", err)
	}
	if alerts[0].DispatchedAt == nil {
		t.Error("Dispatched alert not stamped")
	}
}
