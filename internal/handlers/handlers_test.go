package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"fundingai-pipeline/internal/config"
	"fundingai-pipeline/internal/handlers"
	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/pkg/logger"
	"fundingai-pipeline/internal/services"
	"fundingai-pipeline/internal/store"
)

type idleAgent struct {
	name    string
	started chan struct{}
	release chan struct{}
}

func (agent *idleAgent) Name() string { return agent.name }

func (agent *idleAgent) Execute(ctx context.Context, run *models.AgentRunRecord) error {
	if agent.started != nil {
		close(agent.started)
		agent.started = nil
		<-agent.release
	}
	run.RecordSuccess()
	return nil
}

type testEnv struct {
	router *gin.Engine
	store  *store.Store
	agent  *idleAgent
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := store.Open(config.StoreConfig{DSN: dsn}, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	agent := &idleAgent{name: models.AgentCollection}
	orchestrator := services.NewOrchestrator(db, services.NopStatusPublisher{}, config.SchedulerConfig{}, logger.NewNop(), agent)

	router := gin.New()
	handlers.NewHandler(db, orchestrator, logger.NewNop()).RegisterRoutes(router)

	return &testEnv{router: router, store: db, agent: agent}
}

func (env *testEnv) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewBuffer(encoded)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	env.router.ServeHTTP(recorder, req)
	return recorder
}

func seedOpportunity(t *testing.T, db *store.Store, externalID, title string) {
	t.Helper()
	deadline := time.Now().UTC().AddDate(0, 0, 30)
	record := &models.Opportunity{
		ExternalID:  externalID,
		Title:       title,
		Description: "Apoio a startups de tecnologia",
		Category:    "Inteligência Artificial",
		Region:      "Brasil",
		Deadline:    &deadline,
		Source:      "FINEP",
	}
	if _, err := db.UpsertOpportunity(context.Background(), record); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodGet, "/health", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d", recorder.Code)
	}
}

func TestListOpportunities(t *testing.T) {
	env := newTestEnv(t)
	seedOpportunity(t, env.store, "finep:2024_001", "Subvenção para Startups de IA")
	seedOpportunity(t, env.store, "cnpq:2024_002", "Bolsa de Desenvolvimento")

	recorder := env.request(t, http.MethodGet, "/api/opportunities", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		Success bool                     `json:"success"`
		Data    []models.OpportunityView `json:"data"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !response.Success || len(response.Data) != 2 {
		t.Errorf("Got %d opportunities", len(response.Data))
	}
}

func TestListOpportunitiesWithUserScores(t *testing.T) {
	env := newTestEnv(t)
	seedOpportunity(t, env.store, "finep:2024_001", "Subvenção para Startups de IA")
	seedOpportunity(t, env.store, "cnpq:2024_002", "Bolsa de Desenvolvimento")
	ctx := context.Background()
	if _, _, err := env.store.UpsertScore(ctx, "user-1", "cnpq:2024_002", 95, nil); err != nil {
		t.Fatalf("Score write failed: %v", err)
	}
	if _, _, err := env.store.UpsertScore(ctx, "user-1", "finep:2024_001", 40, nil); err != nil {
		t.Fatalf("Score write failed: %v", err)
	}
	if err := env.store.SetFavorite(ctx, "user-1", "cnpq:2024_002", true); err != nil {
		t.Fatalf("SetFavorite failed: %v", err)
	}

	recorder := env.request(t, http.MethodGet, "/api/opportunities?user_id=user-1", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d", recorder.Code)
	}

	var response struct {
		Data []models.OpportunityView `json:"data"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(response.Data) != 2 {
		t.Fatalf("Got %d opportunities", len(response.Data))
	}
	if response.Data[0].ExternalID != "cnpq:2024_002" {
		t.Errorf("Highest score should come first, got %s", response.Data[0].ExternalID)
	}
	if response.Data[0].Score == nil || *response.Data[0].Score != 95 {
		t.Error("Score missing from decorated view")
	}
	if !response.Data[0].Favorite {
		t.Error("Favorite mark missing from decorated view")
	}
}

func TestGetOpportunityNotFound(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodGet, "/api/opportunities/missing:1", nil)
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", recorder.Code)
	}
}

func TestFavoriteFlow(t *testing.T) {
	env := newTestEnv(t)
	seedOpportunity(t, env.store, "finep:2024_001", "Subvenção para Startups de IA")

	recorder := env.request(t, http.MethodPost, "/api/opportunities/finep:2024_001/favorite",
		map[string]interface{}{"user_id": "user-1"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	favorites, err := env.store.FavoritesForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FavoritesForUser failed: %v", err)
	}
	if !favorites["finep:2024_001"] {
		t.Error("Favorite not stored")
	}

	// Unknown opportunity answers 404, missing user id 400.
	recorder = env.request(t, http.MethodPost, "/api/opportunities/missing:1/favorite",
		map[string]interface{}{"user_id": "user-1"})
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", recorder.Code)
	}
	recorder = env.request(t, http.MethodPost, "/api/opportunities/finep:2024_001/favorite",
		map[string]interface{}{})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", recorder.Code)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	payload := map[string]interface{}{
		"email":                "founder@example.com",
		"startup_segment":      "Inteligência Artificial",
		"startup_trl":          4,
		"preferred_regions":    []string{"Brasil"},
		"preferred_categories": []string{"Inteligência Artificial"},
		"min_amount":           100000,
		"alert_frequency":      "weekly",
	}
	recorder := env.request(t, http.MethodPut, "/api/users/user-1/profile", payload)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	recorder = env.request(t, http.MethodGet, "/api/users/user-1/profile", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d", recorder.Code)
	}

	var response struct {
		Data struct {
			StartupTRL       int      `json:"startup_trl"`
			PreferredRegions []string `json:"preferred_regions"`
			AlertFrequency   string   `json:"alert_frequency"`
		} `json:"data"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if response.Data.StartupTRL != 4 || len(response.Data.PreferredRegions) != 1 {
		t.Error("Profile fields lost on round trip")
	}
	if response.Data.AlertFrequency != "weekly" {
		t.Errorf("AlertFrequency = %q", response.Data.AlertFrequency)
	}
}

func TestProfileRejectsInvalidTRL(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodPut, "/api/users/user-1/profile",
		map[string]interface{}{"startup_trl": 12})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", recorder.Code)
	}
}

func TestProfileNotFound(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodGet, "/api/users/missing/profile", nil)
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", recorder.Code)
	}
}

func TestTriggerAgent(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodPost, "/api/agents/collection/run", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		Data models.AgentRunRecord `json:"data"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if response.Data.Status != models.RunStatusSucceeded {
		t.Errorf("Run status = %s", response.Data.Status)
	}
}

func TestTriggerUnknownAgent(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodPost, "/api/agents/mystery/run", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", recorder.Code)
	}
}

func TestTriggerAgentConflict(t *testing.T) {
	env := newTestEnv(t)
	env.agent.started = make(chan struct{})
	env.agent.release = make(chan struct{})
	started := env.agent.started

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.request(t, http.MethodPost, "/api/agents/collection/run", nil)
	}()
	<-started

	recorder := env.request(t, http.MethodPost, "/api/agents/collection/run", nil)
	if recorder.Code != http.StatusConflict {
		t.Errorf("Status = %d, want 409", recorder.Code)
	}

	close(env.agent.release)
	<-done
}

func TestAgentStatusAndRuns(t *testing.T) {
	env := newTestEnv(t)
	env.request(t, http.MethodPost, "/api/agents/collection/run", nil)

	recorder := env.request(t, http.MethodGet, "/api/agents/status", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d", recorder.Code)
	}
	var statusResponse struct {
		Data []models.AgentStatusSummary `json:"data"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &statusResponse); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(statusResponse.Data) != len(models.KnownAgents()) {
		t.Errorf("Got %d agent summaries", len(statusResponse.Data))
	}

	recorder = env.request(t, http.MethodGet, "/api/agents/collection/runs", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d", recorder.Code)
	}
	var runsResponse struct {
		Data []models.AgentRunRecord `json:"data"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &runsResponse); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(runsResponse.Data) != 1 {
		t.Errorf("Got %d run records", len(runsResponse.Data))
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodGet, "/api/search", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", recorder.Code)
	}
}

func TestSearchMatchesDescription(t *testing.T) {
	env := newTestEnv(t)
	seedOpportunity(t, env.store, "finep:2024_001", "Subvenção para Startups de IA")

	recorder := env.request(t, http.MethodGet, "/api/search?q=startups", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d", recorder.Code)
	}
	var response struct {
		Data []models.OpportunityView `json:"data"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(response.Data) != 1 {
		t.Errorf("Got %d search hits", len(response.Data))
	}
}

func TestAlertsFeed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dispatched := time.Now().UTC().Add(-time.Hour)
	alert := &models.Alert{
		UserID:        "user-1",
		OpportunityID: "finep:2024_001",
		Score:         90,
		BoundaryAt:    dispatched,
	}
	if _, err := env.store.CreateAlert(ctx, alert); err != nil {
		t.Fatalf("Create alert failed: %v", err)
	}
	if err := env.store.MarkAlertsDispatched(ctx, []uint{alert.ID}, time.Now().UTC()); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	recorder := env.request(t, http.MethodGet, "/api/alerts/user-1", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d", recorder.Code)
	}
	var response struct {
		Data struct {
			Alerts      []models.Alert `json:"alerts"`
			UnreadCount int            `json:"unread_count"`
		} `json:"data"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(response.Data.Alerts) != 1 || response.Data.UnreadCount != 1 {
		t.Errorf("Alerts = %d, unread = %d", len(response.Data.Alerts), response.Data.UnreadCount)
	}

	recorder = env.request(t, http.MethodPost, "/api/alerts/user-1/read", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d", recorder.Code)
	}
	recorder = env.request(t, http.MethodGet, "/api/alerts/user-1", nil)
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if response.Data.UnreadCount != 0 {
		t.Errorf("Unread after read = %d", response.Data.UnreadCount)
	}
}
