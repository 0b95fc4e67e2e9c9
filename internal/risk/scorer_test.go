package risk

import (
	"testing"

	"github.com/pcguest/compli/internal/models"
)

func factorScore(t *testing.T, result *Result, category string) models.RiskFactor {
	t.Helper()
	for _, f := range result.Factors {
		if f.Category == category {
			return f
		}
	}
	t.Fatalf("factor %s not present in result", category)
	return models.RiskFactor{}
}

func TestScorer_TierBoundaries(t *testing.T) {
	s := NewScorer()

	tests := []struct {
		name     string
		tool     models.Tool
		expected int
		tier     models.RiskTier
	}{
		{
			// 60*.35 + 70*.20 + 90*.25 + 100*.15 + 50*.05 = 75.0
			name: "exactly 75 is critical",
			tool: models.Tool{
				ProcessesSensitiveInfo:   true,
				Deployment:               models.DeploymentCloud,
				CrossBorderDisclosure:    true,
				DataResidency:            "US",
				VendorComplianceVerified: false,
				ApprovalStatus:           models.ApprovalUnderReview,
			},
			expected: 75,
			tier:     models.RiskTierCritical,
		},
		{
			// Same tool with conditional approval: 30*.05 drops it to 74.0.
			name: "exactly 74 is high",
			tool: models.Tool{
				ProcessesSensitiveInfo:   true,
				Deployment:               models.DeploymentCloud,
				CrossBorderDisclosure:    true,
				DataResidency:            "US",
				VendorComplianceVerified: false,
				ApprovalStatus:           models.ApprovalConditional,
			},
			expected: 74,
			tier:     models.RiskTierHigh,
		},
		{
			// 0*.35 + 50*.20 + 0*.25 + 100*.15 + 0*.05 = 25.0
			name: "exactly 25 is medium",
			tool: models.Tool{
				Deployment:               models.DeploymentHybrid,
				VendorComplianceVerified: false,
				ApprovalStatus:           models.ApprovalApproved,
			},
			expected: 25,
			tier:     models.RiskTierMedium,
		},
		{
			// 40*.35 + 10*.20 + 0*.25 + 20*.15 + 100*.05 = 24.0
			name: "exactly 24 is low",
			tool: models.Tool{
				ProcessesPersonalInfo:    true,
				Deployment:               models.DeploymentOnPremise,
				VendorComplianceVerified: true,
				ApprovalStatus:           models.ApprovalBanned,
			},
			expected: 24,
			tier:     models.RiskTierLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := s.Score(&tt.tool)
			if result.OverallRisk != tt.expected {
				t.Errorf("overall risk = %d, expected %d", result.OverallRisk, tt.expected)
			}
			if result.RiskTier != tt.tier {
				t.Errorf("tier = %s, expected %s", result.RiskTier, tt.tier)
			}
		})
	}
}

func TestScorer_BannedApprovalContribution(t *testing.T) {
	s := NewScorer()

	// The approval factor for a banned tool is always 100 at weight 0.05,
	// regardless of every other field.
	tools := []models.Tool{
		{ApprovalStatus: models.ApprovalBanned},
		{
			ApprovalStatus:           models.ApprovalBanned,
			ProcessesSensitiveInfo:   true,
			ProcessesPersonalInfo:    true,
			CrossBorderDisclosure:    true,
			Deployment:               models.DeploymentCloud,
			VendorComplianceVerified: true,
		},
	}

	for _, tool := range tools {
		result := s.Score(&tool)
		f := factorScore(t, result, "approval")
		if f.Score != 100 {
			t.Errorf("approval score = %d, expected 100", f.Score)
		}
		if f.Weight != 0.05 {
			t.Errorf("approval weight = %v, expected 0.05", f.Weight)
		}
	}
}

func TestScorer_Monotonicity(t *testing.T) {
	s := NewScorer()

	base := models.Tool{
		Deployment:               models.DeploymentCloud,
		CrossBorderDisclosure:    true,
		DataResidency:            "AU",
		VendorComplianceVerified: true,
		ApprovalStatus:           models.ApprovalConditional,
	}

	before := s.Score(&base).OverallRisk

	worse := base
	worse.ProcessesSensitiveInfo = true
	if after := s.Score(&worse).OverallRisk; after < before {
		t.Errorf("enabling sensitive info lowered score: %d -> %d", before, after)
	}

	worse = base
	worse.ProcessesPersonalInfo = true
	if after := s.Score(&worse).OverallRisk; after < before {
		t.Errorf("enabling personal info lowered score: %d -> %d", before, after)
	}

	worse = base
	worse.VendorComplianceVerified = false
	if after := s.Score(&worse).OverallRisk; after < before {
		t.Errorf("unverifying vendor lowered score: %d -> %d", before, after)
	}

	worse = base
	worse.ApprovalStatus = models.ApprovalBanned
	if after := s.Score(&worse).OverallRisk; after < before {
		t.Errorf("banning tool lowered score: %d -> %d", before, after)
	}
}

func TestScorer_UnknownsFailClosed(t *testing.T) {
	s := NewScorer()

	tool := models.Tool{
		Deployment:     models.DeploymentModel("serverless"),
		ApprovalStatus: models.ApprovalStatus("mystery"),
	}
	result := s.Score(&tool)

	if f := factorScore(t, result, "deployment"); f.Score != 80 {
		t.Errorf("unknown deployment score = %d, expected 80", f.Score)
	}
	if f := factorScore(t, result, "approval"); f.Score != 100 {
		t.Errorf("unknown approval score = %d, expected 100", f.Score)
	}
}

func TestScorer_CrossBorder(t *testing.T) {
	s := NewScorer()

	tests := []struct {
		name     string
		tool     models.Tool
		expected int
	}{
		{"no disclosure", models.Tool{DataResidency: "RU"}, 0},
		{"disclosure to trusted region", models.Tool{
			CrossBorderDisclosure: true,
			DataResidency:         "AU",
		}, 60},
		{"disclosure outside allow-list", models.Tool{
			CrossBorderDisclosure: true,
			DataResidency:         "US",
		}, 70},
		{"empty residency treated as untrusted", models.Tool{
			CrossBorderDisclosure: true,
		}, 70},
		{"capped at 100", models.Tool{
			CrossBorderDisclosure:  true,
			ProcessesPersonalInfo:  true,
			ProcessesSensitiveInfo: true,
			DataResidency:          "US",
		}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := s.Score(&tt.tool)
			if f := factorScore(t, result, "cross_border"); f.Score != tt.expected {
				t.Errorf("cross-border score = %d, expected %d", f.Score, tt.expected)
			}
		})
	}
}

func TestScorer_VendorTrust(t *testing.T) {
	s := NewScorerWithConfig(DefaultWeights(), DefaultThresholds(),
		DefaultTrustedRegions, []string{"ShadyCorp"})

	tests := []struct {
		name     string
		tool     models.Tool
		expected int
	}{
		{"verified", models.Tool{VendorComplianceVerified: true}, 20},
		{"unverified", models.Tool{}, 100},
		{"verified but untrusted vendor", models.Tool{
			Vendor:                   "ShadyCorp",
			VendorComplianceVerified: true,
		}, 40},
		{"unverified untrusted caps at 100", models.Tool{Vendor: "ShadyCorp"}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := s.Score(&tt.tool)
			if f := factorScore(t, result, "vendor_trust"); f.Score != tt.expected {
				t.Errorf("vendor trust score = %d, expected %d", f.Score, tt.expected)
			}
		})
	}
}

func TestScorer_CriticalScenario(t *testing.T) {
	s := NewScorer()

	tool := models.Tool{
		Deployment:               models.DeploymentCloud,
		ProcessesPersonalInfo:    true,
		ProcessesSensitiveInfo:   true,
		CrossBorderDisclosure:    true,
		DataResidency:            "unknown",
		VendorComplianceVerified: false,
		ApprovalStatus:           models.ApprovalPending,
	}

	result := s.Score(&tool)
	if result.OverallRisk < 75 {
		t.Errorf("expected overall risk >= 75, got %d", result.OverallRisk)
	}
	if result.RiskTier != models.RiskTierCritical {
		t.Errorf("expected critical tier, got %s", result.RiskTier)
	}
	if len(result.Recommendations) == 0 {
		t.Error("expected recommendations for a critical tool")
	}
}

func TestScorer_Recommendations(t *testing.T) {
	s := NewScorer()

	// A low-risk, fully approved on-premise tool triggers no conditionals.
	clean := models.Tool{
		Deployment:               models.DeploymentOnPremise,
		VendorComplianceVerified: true,
		ApprovalStatus:           models.ApprovalApproved,
	}
	if recs := s.Score(&clean).Recommendations; len(recs) != 0 {
		t.Errorf("expected no recommendations, got %v", recs)
	}

	// Independent conditionals stack.
	risky := models.Tool{
		Deployment:             models.DeploymentCloud,
		ProcessesSensitiveInfo: true,
		ApprovalStatus:         models.ApprovalPending,
	}
	recs := s.Score(&risky).Recommendations
	if len(recs) < 3 {
		t.Errorf("expected at least 3 recommendations, got %d: %v", len(recs), recs)
	}
}

func TestScorer_Deterministic(t *testing.T) {
	s := NewScorer()
	tool := models.Tool{
		Deployment:            models.DeploymentHybrid,
		ProcessesPersonalInfo: true,
		ApprovalStatus:        models.ApprovalUnderReview,
	}

	first := s.Score(&tool)
	for i := 0; i < 5; i++ {
		if again := s.Score(&tool); again.OverallRisk != first.OverallRisk || again.RiskTier != first.RiskTier {
			t.Fatal("scoring is not deterministic for identical input")
		}
	}
}
