package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pcguest/compli/internal/models"
)

// getTestDSN returns the test database DSN from environment
func getTestDSN() string {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=compli password=compli_password dbname=compli_test sslmode=disable"
	}
	return dsn
}

// skipIfNoTestDB skips the test if no test database is available
func skipIfNoTestDB(t *testing.T) *Store {
	t.Helper()

	store, err := New(Config{
		DSN:          getTestDSN(),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	if err != nil {
		t.Skipf("Skipping test, database not available: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		t.Skipf("Skipping test, database not reachable: %v", err)
		return nil
	}

	return store
}

func TestStore_Tools(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	orgID := uuid.New()

	tool := &models.Tool{
		OrgID:                 orgID,
		Name:                  "Test Assistant",
		Vendor:                "Example AI",
		Category:              models.CategoryLLM,
		Deployment:            models.DeploymentCloud,
		ProcessesPersonalInfo: true,
		DataResidency:         "US",
	}

	if err := store.CreateTool(ctx, tool); err != nil {
		t.Fatalf("CreateTool failed: %v", err)
	}
	if tool.ID == uuid.Nil {
		t.Error("Expected tool ID to be set")
	}
	if tool.ApprovalStatus != models.ApprovalPending {
		t.Errorf("Expected default pending approval, got %s", tool.ApprovalStatus)
	}

	retrieved, err := store.GetTool(ctx, tool.ID)
	if err != nil {
		t.Fatalf("GetTool failed: %v", err)
	}
	if retrieved == nil || retrieved.Name != tool.Name {
		t.Errorf("Retrieved tool mismatch: %+v", retrieved)
	}

	if err := store.UpdateToolApproval(ctx, tool.ID, models.ApprovalApproved); err != nil {
		t.Fatalf("UpdateToolApproval failed: %v", err)
	}

	approved := models.ApprovalApproved
	tools, err := store.ListTools(ctx, orgID, &approved, true)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 1 {
		t.Errorf("Expected 1 approved tool, got %d", len(tools))
	}

	if err := store.DeactivateTool(ctx, tool.ID); err != nil {
		t.Fatalf("DeactivateTool failed: %v", err)
	}
	tools, err = store.ListTools(ctx, orgID, nil, true)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 0 {
		t.Errorf("Deactivated tool still listed as active")
	}
}

func TestStore_UsageEventsAndViolations(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	orgID := uuid.New()

	tool := &models.Tool{OrgID: orgID, Name: "Event Tool", Category: models.CategoryChatbot}
	if err := store.CreateTool(ctx, tool); err != nil {
		t.Fatalf("CreateTool failed: %v", err)
	}

	event := &models.UsageEvent{
		OrgID:                orgID,
		ToolID:               tool.ID,
		UserID:               uuid.New(),
		UserRole:             models.RoleUser,
		Department:           "engineering",
		Classification:       models.ClassificationInternal,
		ContainsPersonalInfo: true,
		TokenCount:           1200,
		EstimatedCostCents:   3.5,
		ContentDigest:        "abc123",
		ClassifierConfidence: 0.7,
	}
	if err := store.CreateUsageEvent(ctx, event); err != nil {
		t.Fatalf("CreateUsageEvent failed: %v", err)
	}

	events, err := store.ListUsageEvents(ctx, orgID, &tool.ID, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListUsageEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("Expected 1 event, got %d", len(events))
	}

	v := &models.Violation{
		OrgID:             orgID,
		PolicyID:          uuid.New(),
		ToolID:            tool.ID,
		EventID:           event.ID,
		UserID:            event.UserID,
		ViolationType:     "personal_info",
		Severity:          models.SeverityHigh,
		EnforcementLevel:  models.EnforcementAlert,
		RemediationStatus: models.RemediationPending,
	}
	if err := store.CreateViolation(ctx, v); err != nil {
		t.Fatalf("CreateViolation failed: %v", err)
	}

	now := time.Now()
	v.RemediationStatus = models.RemediationAcknowledged
	v.LastTransitionBy = "test officer"
	v.LastTransitionAt = &now
	if err := store.UpdateViolation(ctx, v); err != nil {
		t.Fatalf("UpdateViolation failed: %v", err)
	}

	ack := models.RemediationAcknowledged
	list, total, err := store.ListViolations(ctx, orgID, &ack, 10, 0)
	if err != nil {
		t.Fatalf("ListViolations failed: %v", err)
	}
	if total != 1 || len(list) != 1 {
		t.Errorf("Expected 1 acknowledged violation, got %d (total %d)", len(list), total)
	}
	if list[0].LastTransitionBy != "test officer" {
		t.Errorf("Transition stamp not persisted: %+v", list[0])
	}
}

func TestStore_RiskAssessments(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	orgID := uuid.New()

	tool := &models.Tool{OrgID: orgID, Name: "Scored Tool", Category: models.CategoryLLM}
	if err := store.CreateTool(ctx, tool); err != nil {
		t.Fatalf("CreateTool failed: %v", err)
	}

	first := &models.RiskAssessment{
		OrgID:       orgID,
		ToolID:      tool.ID,
		OverallRisk: 40,
		RiskTier:    models.RiskTierMedium,
		Factors:     models.JSONB{"deployment": 70},
	}
	if err := store.CreateRiskAssessment(ctx, first); err != nil {
		t.Fatalf("CreateRiskAssessment failed: %v", err)
	}

	second := &models.RiskAssessment{
		OrgID:           orgID,
		ToolID:          tool.ID,
		OverallRisk:     80,
		RiskTier:        models.RiskTierCritical,
		Recommendations: models.StringArray{"Immediate review required"},
		AssessedAt:      time.Now().Add(time.Minute),
	}
	if err := store.CreateRiskAssessment(ctx, second); err != nil {
		t.Fatalf("CreateRiskAssessment failed: %v", err)
	}

	latest, err := store.GetLatestRiskAssessment(ctx, tool.ID)
	if err != nil {
		t.Fatalf("GetLatestRiskAssessment failed: %v", err)
	}
	if latest == nil || latest.OverallRisk != 80 {
		t.Errorf("Expected latest assessment with risk 80, got %+v", latest)
	}

	history, err := store.ListRiskAssessments(ctx, tool.ID, 10)
	if err != nil {
		t.Fatalf("ListRiskAssessments failed: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("Expected 2 assessments, got %d", len(history))
	}
}
