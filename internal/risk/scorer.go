// Package risk scores registered AI tools against five weighted factors and
// maps the combined score onto a discrete risk tier.
package risk

import (
	"fmt"
	"math"

	"github.com/pcguest/compli/internal/models"
)

// Weights holds the relative weight of each scoring factor. Weights are
// expected to sum to 1.0 but this is not enforced; callers supplying custom
// weights own that property.
type Weights struct {
	DataSensitivity float64 `yaml:"data_sensitivity"`
	Deployment      float64 `yaml:"deployment"`
	CrossBorder     float64 `yaml:"cross_border"`
	VendorTrust     float64 `yaml:"vendor_trust"`
	Approval        float64 `yaml:"approval"`
}

// DefaultWeights returns the standard factor weighting.
func DefaultWeights() Weights {
	return Weights{
		DataSensitivity: 0.35,
		Deployment:      0.20,
		CrossBorder:     0.25,
		VendorTrust:     0.15,
		Approval:        0.05,
	}
}

// Thresholds maps an overall score onto a tier. Bounds are inclusive: a
// score equal to Critical is critical, not high.
type Thresholds struct {
	Critical int `yaml:"critical"`
	High     int `yaml:"high"`
	Medium   int `yaml:"medium"`
}

// DefaultThresholds returns the standard tier boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Critical: 75, High: 50, Medium: 25}
}

// Result is the outcome of scoring a single tool.
type Result struct {
	OverallRisk     int                 `json:"overall_risk"`
	RiskTier        models.RiskTier     `json:"risk_tier"`
	Factors         []models.RiskFactor `json:"factors"`
	Recommendations []string            `json:"recommendations"`
}

// Scorer computes tool risk scores. It holds configuration only and no
// mutable state, so a single Scorer is safe for concurrent use.
type Scorer struct {
	weights          Weights
	thresholds       Thresholds
	trustedRegions   map[string]bool
	untrustedVendors map[string]bool
}

// DefaultTrustedRegions is the residency allow-list applied when no custom
// list is configured.
var DefaultTrustedRegions = []string{"AU", "NZ", "EU", "UK"}

// NewScorer creates a scorer with default weights, thresholds and region
// allow-list.
func NewScorer() *Scorer {
	return NewScorerWithConfig(DefaultWeights(), DefaultThresholds(), DefaultTrustedRegions, nil)
}

// NewScorerWithConfig creates a scorer with custom weighting, tier
// thresholds, residency allow-list and vendor deny-list.
func NewScorerWithConfig(w Weights, t Thresholds, trustedRegions, untrustedVendors []string) *Scorer {
	s := &Scorer{
		weights:          w,
		thresholds:       t,
		trustedRegions:   make(map[string]bool, len(trustedRegions)),
		untrustedVendors: make(map[string]bool, len(untrustedVendors)),
	}
	for _, r := range trustedRegions {
		s.trustedRegions[r] = true
	}
	for _, v := range untrustedVendors {
		s.untrustedVendors[v] = true
	}
	return s
}

// Score computes the overall risk for a tool. Pure and deterministic; every
// input yields a numeric score. Unknown or missing enum values take the
// highest-risk branch of their lookup.
func (s *Scorer) Score(tool *models.Tool) *Result {
	factors := []models.RiskFactor{
		s.dataSensitivityFactor(tool),
		s.deploymentFactor(tool),
		s.crossBorderFactor(tool),
		s.vendorTrustFactor(tool),
		s.approvalFactor(tool),
	}

	var weighted float64
	for _, f := range factors {
		weighted += float64(f.Score) * f.Weight
	}
	overall := int(math.Round(weighted))

	result := &Result{
		OverallRisk: overall,
		RiskTier:    s.tierFor(overall),
		Factors:     factors,
	}
	result.Recommendations = s.recommendations(tool, result)

	return result
}

func (s *Scorer) tierFor(score int) models.RiskTier {
	switch {
	case score >= s.thresholds.Critical:
		return models.RiskTierCritical
	case score >= s.thresholds.High:
		return models.RiskTierHigh
	case score >= s.thresholds.Medium:
		return models.RiskTierMedium
	default:
		return models.RiskTierLow
	}
}

func (s *Scorer) dataSensitivityFactor(tool *models.Tool) models.RiskFactor {
	score := 0
	detail := "no personal or sensitive information processed"
	if tool.ProcessesPersonalInfo {
		score += 40
		detail = "processes personal information"
	}
	if tool.ProcessesSensitiveInfo {
		score += 60
		detail = "processes sensitive information"
	}
	if score > 100 {
		score = 100
	}
	return models.RiskFactor{
		Category: "data_sensitivity",
		Score:    score,
		Weight:   s.weights.DataSensitivity,
		Detail:   detail,
	}
}

func (s *Scorer) deploymentFactor(tool *models.Tool) models.RiskFactor {
	var score int
	switch tool.Deployment {
	case models.DeploymentOnPremise:
		score = 10
	case models.DeploymentHybrid:
		score = 50
	case models.DeploymentCloud:
		score = 70
	default:
		// Unknown deployment is treated as worse than cloud.
		score = 80
	}
	return models.RiskFactor{
		Category: "deployment",
		Score:    score,
		Weight:   s.weights.Deployment,
		Detail:   fmt.Sprintf("deployment model: %s", tool.Deployment),
	}
}

func (s *Scorer) crossBorderFactor(tool *models.Tool) models.RiskFactor {
	factor := models.RiskFactor{
		Category: "cross_border",
		Weight:   s.weights.CrossBorder,
	}
	if !tool.CrossBorderDisclosure {
		factor.Detail = "no cross-border disclosure"
		return factor
	}

	score := 60
	if tool.ProcessesPersonalInfo {
		score += 20
	}
	if tool.ProcessesSensitiveInfo {
		score += 20
	}
	if !s.trustedRegions[tool.DataResidency] {
		score += 10
	}
	if score > 100 {
		score = 100
	}

	factor.Score = score
	factor.Detail = fmt.Sprintf("cross-border disclosure, residency %q", tool.DataResidency)
	return factor
}

func (s *Scorer) vendorTrustFactor(tool *models.Tool) models.RiskFactor {
	score := 50
	if tool.VendorComplianceVerified {
		score -= 30
	} else {
		score += 50
	}
	if s.untrustedVendors[tool.Vendor] {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return models.RiskFactor{
		Category: "vendor_trust",
		Score:    score,
		Weight:   s.weights.VendorTrust,
		Detail:   fmt.Sprintf("vendor %q, compliance verified: %v", tool.Vendor, tool.VendorComplianceVerified),
	}
}

var approvalScores = map[models.ApprovalStatus]int{
	models.ApprovalApproved:    0,
	models.ApprovalConditional: 30,
	models.ApprovalUnderReview: 50,
	models.ApprovalPending:     70,
	models.ApprovalRestricted:  90,
	models.ApprovalBanned:      100,
}

func (s *Scorer) approvalFactor(tool *models.Tool) models.RiskFactor {
	score, ok := approvalScores[tool.ApprovalStatus]
	if !ok {
		score = 100
	}
	return models.RiskFactor{
		Category: "approval",
		Score:    score,
		Weight:   s.weights.Approval,
		Detail:   fmt.Sprintf("approval status: %s", tool.ApprovalStatus),
	}
}

// recommendations emits remediation guidance per triggered condition. The
// conditionals are independent; several may fire for the same tool.
func (s *Scorer) recommendations(tool *models.Tool, result *Result) []string {
	var recs []string

	if result.RiskTier == models.RiskTierCritical {
		recs = append(recs,
			"Immediate review required: overall risk is in the critical tier")
	}

	if tool.CrossBorderDisclosure && tool.ProcessesPersonalInfo {
		recs = append(recs,
			"Verify cross-border disclosure of personal information complies with APP 8 obligations")
	}

	if tool.ProcessesSensitiveInfo {
		recs = append(recs,
			"Restrict sensitive information input to this tool or obtain explicit consent for its handling")
	}

	if !tool.VendorComplianceVerified {
		recs = append(recs,
			"Obtain and verify vendor compliance documentation before continued use")
	}

	if tool.Deployment == models.DeploymentCloud {
		recs = append(recs,
			"Review the cloud provider's data handling and retention terms")
	}

	if tool.ApprovalStatus != models.ApprovalApproved {
		recs = append(recs,
			fmt.Sprintf("Complete the approval workflow: tool is currently %s", tool.ApprovalStatus))
	}

	return recs
}
