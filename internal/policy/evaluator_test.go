package policy

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"

	"github.com/pcguest/compli/internal/models"
)

func activePolicy(name string, level models.EnforcementLevel, priority int, rules models.RuleSet) *models.Policy {
	return &models.Policy{
		ID:               uuid.New(),
		Name:             name,
		Rules:            rules,
		EnforcementLevel: level,
		Priority:         priority,
		IsActive:         true,
	}
}

func approvedTool() *models.Tool {
	return &models.Tool{ID: uuid.New(), ApprovalStatus: models.ApprovalApproved}
}

func TestEvaluator_BlockForbiddenClassification(t *testing.T) {
	e := NewEvaluator()

	p := activePolicy("no restricted data", models.EnforcementBlock, 1, models.RuleSet{
		ForbiddenClassifications: []models.Classification{models.ClassificationRestricted},
	})
	usage := &models.UsageEvent{
		ID:             uuid.New(),
		Classification: models.ClassificationRestricted,
	}

	result := e.Evaluate([]*models.Policy{p}, usage, approvedTool())
	if result.Decision != models.DecisionBlock {
		t.Errorf("decision = %s, expected block", result.Decision)
	}
	if len(result.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(result.Violations))
	}
	v := result.Violations[0]
	if v.ViolationType != "forbidden_classification" {
		t.Errorf("violation type = %s", v.ViolationType)
	}
	if v.Severity != models.SeverityHigh {
		t.Errorf("severity = %s, expected high", v.Severity)
	}
	if v.EnforcementLevel != models.EnforcementBlock {
		t.Errorf("enforcement level = %s, expected block", v.EnforcementLevel)
	}
	if v.RemediationStatus != models.RemediationPending {
		t.Errorf("remediation status = %s, expected pending", v.RemediationStatus)
	}
}

func TestEvaluator_AllowedAndForbiddenAreIndependent(t *testing.T) {
	e := NewEvaluator()

	// Confidential is both explicitly forbidden and absent from the allowed
	// list. Each check produces its own violation.
	p := activePolicy("public only", models.EnforcementAlert, 1, models.RuleSet{
		ForbiddenClassifications: []models.Classification{models.ClassificationConfidential},
		AllowedClassifications:   []models.Classification{models.ClassificationPublic},
	})
	usage := &models.UsageEvent{
		ID:             uuid.New(),
		Classification: models.ClassificationConfidential,
	}

	result := e.Evaluate([]*models.Policy{p}, usage, approvedTool())
	if len(result.Violations) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(result.Violations))
	}
	if result.Decision != models.DecisionWarn {
		t.Errorf("decision = %s, expected warn", result.Decision)
	}
}

func TestEvaluator_Severities(t *testing.T) {
	e := NewEvaluator()

	maxTokens := int64(1000)
	maxCost := 50.0
	p := activePolicy("everything", models.EnforcementBlock, 1, models.RuleSet{
		BlockPersonalInfo:   true,
		BlockSensitiveInfo:  true,
		BlockCrossBorder:    true,
		RequireToolApproval: true,
		MaxTokens:           &maxTokens,
		MaxCostCents:        &maxCost,
	})
	usage := &models.UsageEvent{
		ID:                    uuid.New(),
		ContainsPersonalInfo:  true,
		ContainsSensitiveInfo: true,
		CrossBorderDisclosure: true,
		TokenCount:            1001,
		EstimatedCostCents:    50.5,
	}
	tool := &models.Tool{ID: uuid.New(), ApprovalStatus: models.ApprovalPending}

	result := e.Evaluate([]*models.Policy{p}, usage, tool)

	expected := map[string]models.ViolationSeverity{
		"personal_info":     models.SeverityHigh,
		"sensitive_info":    models.SeverityCritical,
		"cross_border":      models.SeverityCritical,
		"tool_not_approved": models.SeverityHigh,
		"token_limit":       models.SeverityWarning,
		"cost_limit":        models.SeverityWarning,
	}
	if len(result.Violations) != len(expected) {
		t.Fatalf("expected %d violations, got %d", len(expected), len(result.Violations))
	}
	for _, v := range result.Violations {
		want, ok := expected[v.ViolationType]
		if !ok {
			t.Errorf("unexpected violation type %s", v.ViolationType)
			continue
		}
		if v.Severity != want {
			t.Errorf("%s severity = %s, expected %s", v.ViolationType, v.Severity, want)
		}
	}
}

func TestEvaluator_ThresholdsAreStrict(t *testing.T) {
	e := NewEvaluator()

	maxTokens := int64(1000)
	p := activePolicy("token cap", models.EnforcementAlert, 1, models.RuleSet{
		MaxTokens: &maxTokens,
	})

	atLimit := &models.UsageEvent{ID: uuid.New(), TokenCount: 1000}
	if result := e.Evaluate([]*models.Policy{p}, atLimit, approvedTool()); len(result.Violations) != 0 {
		t.Error("usage exactly at the limit must pass")
	}

	overLimit := &models.UsageEvent{ID: uuid.New(), TokenCount: 1001}
	if result := e.Evaluate([]*models.Policy{p}, overLimit, approvedTool()); len(result.Violations) != 1 {
		t.Error("usage one over the limit must breach")
	}
}

func TestEvaluator_StrictnessWins(t *testing.T) {
	e := NewEvaluator()

	rules := models.RuleSet{
		ForbiddenClassifications: []models.Classification{models.ClassificationRestricted},
	}
	policies := []*models.Policy{
		activePolicy("monitor one", models.EnforcementMonitor, 5, rules),
		activePolicy("monitor two", models.EnforcementMonitor, 4, rules),
		activePolicy("the blocker", models.EnforcementBlock, 99, rules),
		activePolicy("alerter", models.EnforcementAlert, 1, rules),
	}
	usage := &models.UsageEvent{
		ID:             uuid.New(),
		Classification: models.ClassificationRestricted,
	}

	result := e.Evaluate(policies, usage, approvedTool())
	if result.Decision != models.DecisionBlock {
		t.Errorf("decision = %s, expected block despite lower-priority blocker", result.Decision)
	}
}

func TestEvaluator_DecisionInvariantUnderPermutation(t *testing.T) {
	e := NewEvaluator()

	rules := models.RuleSet{BlockSensitiveInfo: true}
	policies := []*models.Policy{
		activePolicy("a", models.EnforcementMonitor, 1, rules),
		activePolicy("b", models.EnforcementAlert, 2, rules),
		activePolicy("c", models.EnforcementBlock, 3, rules),
		activePolicy("d", models.EnforcementMonitor, 4, rules),
		activePolicy("e", models.EnforcementAlert, 5, rules),
	}
	usage := &models.UsageEvent{ID: uuid.New(), ContainsSensitiveInfo: true}
	tool := approvedTool()

	want := e.Evaluate(policies, usage, tool).Decision

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := make([]*models.Policy, len(policies))
		copy(shuffled, policies)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		got := e.Evaluate(shuffled, usage, tool)
		if got.Decision != want {
			t.Fatalf("decision changed under permutation: %s != %s", got.Decision, want)
		}
		if len(got.Violations) != len(policies) {
			t.Fatalf("expected %d violations, got %d", len(policies), len(got.Violations))
		}
	}
}

func TestEvaluator_PriorityOrdersReportingOnly(t *testing.T) {
	e := NewEvaluator()

	rules := models.RuleSet{BlockPersonalInfo: true}
	low := activePolicy("reported second", models.EnforcementMonitor, 10, rules)
	high := activePolicy("reported first", models.EnforcementMonitor, 1, rules)
	usage := &models.UsageEvent{ID: uuid.New(), ContainsPersonalInfo: true}

	// Input order is the reverse of priority order.
	result := e.Evaluate([]*models.Policy{low, high}, usage, approvedTool())
	if len(result.Violations) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(result.Violations))
	}
	if result.Violations[0].PolicyID != high.ID {
		t.Error("lower priority value must be reported first")
	}
	if result.Decision != models.DecisionAllow {
		t.Errorf("monitor-only violations must not change the allow decision, got %s", result.Decision)
	}
}

func TestEvaluator_ScopeFiltering(t *testing.T) {
	e := NewEvaluator()
	toolID := uuid.New()

	tests := []struct {
		name     string
		policy   *models.Policy
		usage    models.UsageEvent
		breaches int
	}{
		{
			name: "role in scope",
			policy: &models.Policy{
				ID: uuid.New(), IsActive: true,
				EnforcementLevel: models.EnforcementAlert,
				Rules:            models.RuleSet{BlockPersonalInfo: true},
				ApplicableRoles:  models.StringArray{"engineer"},
			},
			usage:    models.UsageEvent{UserRole: "engineer", ContainsPersonalInfo: true},
			breaches: 1,
		},
		{
			name: "role out of scope",
			policy: &models.Policy{
				ID: uuid.New(), IsActive: true,
				EnforcementLevel: models.EnforcementAlert,
				Rules:            models.RuleSet{BlockPersonalInfo: true},
				ApplicableRoles:  models.StringArray{"engineer"},
			},
			usage:    models.UsageEvent{UserRole: "marketing", ContainsPersonalInfo: true},
			breaches: 0,
		},
		{
			name: "department out of scope",
			policy: &models.Policy{
				ID: uuid.New(), IsActive: true,
				EnforcementLevel: models.EnforcementAlert,
				Rules:            models.RuleSet{BlockPersonalInfo: true},
				ApplicableDepts:  models.StringArray{"finance"},
			},
			usage:    models.UsageEvent{Department: "sales", ContainsPersonalInfo: true},
			breaches: 0,
		},
		{
			name: "tool in scope",
			policy: &models.Policy{
				ID: uuid.New(), IsActive: true,
				EnforcementLevel: models.EnforcementAlert,
				Rules:            models.RuleSet{BlockPersonalInfo: true},
				ApplicableTools:  models.StringArray{toolID.String()},
			},
			usage:    models.UsageEvent{ToolID: toolID, ContainsPersonalInfo: true},
			breaches: 1,
		},
		{
			name: "empty scope applies universally",
			policy: &models.Policy{
				ID: uuid.New(), IsActive: true,
				EnforcementLevel: models.EnforcementAlert,
				Rules:            models.RuleSet{BlockPersonalInfo: true},
			},
			usage:    models.UsageEvent{UserRole: "anyone", ContainsPersonalInfo: true},
			breaches: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.usage.ID = uuid.New()
			result := e.Evaluate([]*models.Policy{tt.policy}, &tt.usage, approvedTool())
			if len(result.Violations) != tt.breaches {
				t.Errorf("expected %d violations, got %d", tt.breaches, len(result.Violations))
			}
		})
	}
}

func TestEvaluator_InactivePolicySkipped(t *testing.T) {
	e := NewEvaluator()

	p := activePolicy("dormant", models.EnforcementBlock, 1, models.RuleSet{
		BlockPersonalInfo: true,
	})
	p.IsActive = false
	usage := &models.UsageEvent{ID: uuid.New(), ContainsPersonalInfo: true}

	result := e.Evaluate([]*models.Policy{p}, usage, approvedTool())
	if len(result.Violations) != 0 {
		t.Errorf("inactive policy produced %d violations", len(result.Violations))
	}
	if result.Decision != models.DecisionAllow {
		t.Errorf("decision = %s, expected allow", result.Decision)
	}
}

func TestEvaluator_NilToolFailsClosed(t *testing.T) {
	e := NewEvaluator()

	p := activePolicy("approved only", models.EnforcementBlock, 1, models.RuleSet{
		RequireToolApproval: true,
	})
	usage := &models.UsageEvent{ID: uuid.New()}

	result := e.Evaluate([]*models.Policy{p}, usage, nil)
	if result.Decision != models.DecisionBlock {
		t.Errorf("missing tool record must fail closed, got %s", result.Decision)
	}
}

func TestEvaluator_WarningsExcludeBlockLevel(t *testing.T) {
	e := NewEvaluator()

	policies := []*models.Policy{
		activePolicy("blocker", models.EnforcementBlock, 1, models.RuleSet{BlockSensitiveInfo: true}),
		activePolicy("watcher", models.EnforcementMonitor, 2, models.RuleSet{BlockPersonalInfo: true}),
	}
	usage := &models.UsageEvent{
		ID:                    uuid.New(),
		ContainsPersonalInfo:  true,
		ContainsSensitiveInfo: true,
	}

	result := e.Evaluate(policies, usage, approvedTool())
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(result.Warnings))
	}
	if result.Decision != models.DecisionBlock {
		t.Errorf("decision = %s, expected block", result.Decision)
	}
}
