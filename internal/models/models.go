package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// StringArray is an alias for pq.StringArray to handle PostgreSQL arrays
type StringArray = pq.StringArray

type Classification string

const (
	ClassificationPublic       Classification = "public"
	ClassificationInternal     Classification = "internal"
	ClassificationConfidential Classification = "confidential"
	ClassificationRestricted   Classification = "restricted"
)

// ClassificationRank orders classifications from weakest to strongest.
// Unknown values rank below public so they never win a comparison.
func ClassificationRank(c Classification) int {
	switch c {
	case ClassificationPublic:
		return 1
	case ClassificationInternal:
		return 2
	case ClassificationConfidential:
		return 3
	case ClassificationRestricted:
		return 4
	}
	return 0
}

type ToolCategory string

const (
	CategoryLLM             ToolCategory = "llm"
	CategoryImageGeneration ToolCategory = "image-generation"
	CategoryCodeAssistant   ToolCategory = "code-assistant"
	CategoryDataAnalysis    ToolCategory = "data-analysis"
	CategoryChatbot         ToolCategory = "chatbot"
	CategoryOther           ToolCategory = "other"
)

type DeploymentModel string

const (
	DeploymentOnPremise DeploymentModel = "on-premise"
	DeploymentHybrid    DeploymentModel = "hybrid"
	DeploymentCloud     DeploymentModel = "cloud"
	DeploymentUnknown   DeploymentModel = "unknown"
)

type ApprovalStatus string

const (
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalUnderReview ApprovalStatus = "under_review"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalConditional ApprovalStatus = "conditional"
	ApprovalRestricted  ApprovalStatus = "restricted"
	ApprovalBanned      ApprovalStatus = "banned"
)

type RiskTier string

const (
	RiskTierLow      RiskTier = "low"
	RiskTierMedium   RiskTier = "medium"
	RiskTierHigh     RiskTier = "high"
	RiskTierCritical RiskTier = "critical"
)

type EnforcementLevel string

const (
	EnforcementMonitor EnforcementLevel = "monitor"
	EnforcementAlert   EnforcementLevel = "alert"
	EnforcementBlock   EnforcementLevel = "block"
)

type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionWarn  Decision = "warn"
	DecisionBlock Decision = "block"
)

type ViolationSeverity string

const (
	SeverityInfo     ViolationSeverity = "info"
	SeverityWarning  ViolationSeverity = "warning"
	SeverityHigh     ViolationSeverity = "high"
	SeverityCritical ViolationSeverity = "critical"
)

// SeverityRank orders severities from weakest to strongest.
func SeverityRank(s ViolationSeverity) int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

type RemediationStatus string

const (
	RemediationPending            RemediationStatus = "pending"
	RemediationAcknowledged       RemediationStatus = "acknowledged"
	RemediationUnderInvestigation RemediationStatus = "under_investigation"
	RemediationRemediated         RemediationStatus = "remediated"
	RemediationFalsePositive      RemediationStatus = "false_positive"
	RemediationAcceptedRisk       RemediationStatus = "accepted_risk"
)

// IsTerminal reports whether a remediation status admits no further transitions.
func (s RemediationStatus) IsTerminal() bool {
	switch s {
	case RemediationRemediated, RemediationFalsePositive, RemediationAcceptedRisk:
		return true
	}
	return false
}

// Role names shared between the auth layer and service-level authorization
// checks.
const (
	RoleAdmin             = "admin"
	RoleComplianceOfficer = "compliance_officer"
	RoleUser              = "user"
	RoleViewer            = "viewer"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Tool is a registered AI system. ApprovalStatus and RiskLevel change only
// through the approval workflow; tools are soft-deactivated, never deleted.
type Tool struct {
	ID                       uuid.UUID       `json:"id" db:"id"`
	OrgID                    uuid.UUID       `json:"org_id" db:"org_id"`
	Name                     string          `json:"name" db:"name"`
	Vendor                   string          `json:"vendor" db:"vendor"`
	Category                 ToolCategory    `json:"category" db:"category"`
	Deployment               DeploymentModel `json:"deployment" db:"deployment"`
	ProcessesPersonalInfo    bool            `json:"processes_personal_info" db:"processes_personal_info"`
	ProcessesSensitiveInfo   bool            `json:"processes_sensitive_info" db:"processes_sensitive_info"`
	CrossBorderDisclosure    bool            `json:"cross_border_disclosure" db:"cross_border_disclosure"`
	DataResidency            string          `json:"data_residency" db:"data_residency"`
	VendorComplianceVerified bool            `json:"vendor_compliance_verified" db:"vendor_compliance_verified"`
	ApprovalStatus           ApprovalStatus  `json:"approval_status" db:"approval_status"`
	RiskLevel                RiskTier        `json:"risk_level" db:"risk_level"`
	IsActive                 bool            `json:"is_active" db:"is_active"`
	CreatedAt                time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at" db:"updated_at"`
}

// UsageEvent is a single instance of tool use. Immutable once recorded. The
// prompt text itself is never retained, only ContentDigest and derived flags.
type UsageEvent struct {
	ID                    uuid.UUID      `json:"id" db:"id"`
	OrgID                 uuid.UUID      `json:"org_id" db:"org_id"`
	ToolID                uuid.UUID      `json:"tool_id" db:"tool_id"`
	UserID                uuid.UUID      `json:"user_id" db:"user_id"`
	UserRole              string         `json:"user_role" db:"user_role"`
	Department            string         `json:"department" db:"department"`
	Classification        Classification `json:"classification" db:"classification"`
	ContainsPersonalInfo  bool           `json:"contains_personal_info" db:"contains_personal_info"`
	ContainsSensitiveInfo bool           `json:"contains_sensitive_info" db:"contains_sensitive_info"`
	CrossBorderDisclosure bool           `json:"cross_border_disclosure" db:"cross_border_disclosure"`
	TokenCount            int64          `json:"token_count" db:"token_count"`
	EstimatedCostCents    float64        `json:"estimated_cost_cents" db:"estimated_cost_cents"`
	ContentDigest         string         `json:"content_digest" db:"content_digest"`
	ClassifierConfidence  float64        `json:"classifier_confidence" db:"classifier_confidence"`
	RecordedAt            time.Time      `json:"recorded_at" db:"recorded_at"`
}

// Policy is an organization-scoped rule bundle. Empty scope lists apply
// universally. Priority orders reporting, never the enforcement decision.
type Policy struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	OrgID            uuid.UUID        `json:"org_id" db:"org_id"`
	Name             string           `json:"name" db:"name"`
	Description      string           `json:"description" db:"description"`
	Rules            RuleSet          `json:"rules" db:"rules"`
	EnforcementLevel EnforcementLevel `json:"enforcement_level" db:"enforcement_level"`
	Priority         int              `json:"priority" db:"priority"` // Lower value reported first
	IsActive         bool             `json:"is_active" db:"is_active"`
	ApplicableRoles  StringArray      `json:"applicable_roles" db:"applicable_roles"`
	ApplicableDepts  StringArray      `json:"applicable_departments" db:"applicable_departments"`
	ApplicableTools  StringArray      `json:"applicable_tools" db:"applicable_tools"`
	CreatedBy        string           `json:"created_by" db:"created_by"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// RuleSet is the closed set of checks a policy can carry. Nil/zero fields are
// inactive checks. Modeled as a struct, not an open map, so unknown rule names
// cannot be silently ignored.
type RuleSet struct {
	ForbiddenClassifications []Classification `json:"forbidden_classifications,omitempty"`
	AllowedClassifications   []Classification `json:"allowed_classifications,omitempty"`
	BlockPersonalInfo        bool             `json:"block_personal_info,omitempty"`
	BlockSensitiveInfo       bool             `json:"block_sensitive_info,omitempty"`
	BlockCrossBorder         bool             `json:"block_cross_border,omitempty"`
	RequireToolApproval      bool             `json:"require_tool_approval,omitempty"`
	MaxTokens                *int64           `json:"max_tokens,omitempty"`
	MaxCostCents             *float64         `json:"max_cost_cents,omitempty"`
}

func (r RuleSet) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *RuleSet) Scan(value interface{}) error {
	if value == nil {
		*r = RuleSet{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, r)
}

// Violation records one policy-rule breach on one usage event. Created only by
// the evaluator; mutated only through authorized remediation transitions;
// never deleted.
type Violation struct {
	ID                    uuid.UUID         `json:"id" db:"id"`
	OrgID                 uuid.UUID         `json:"org_id" db:"org_id"`
	PolicyID              uuid.UUID         `json:"policy_id" db:"policy_id"`
	ToolID                uuid.UUID         `json:"tool_id" db:"tool_id"`
	EventID               uuid.UUID         `json:"event_id" db:"event_id"`
	UserID                uuid.UUID         `json:"user_id" db:"user_id"`
	ViolationType         string            `json:"violation_type" db:"violation_type"`
	Description           string            `json:"description" db:"description"`
	Severity              ViolationSeverity `json:"severity" db:"severity"`
	EnforcementLevel      EnforcementLevel  `json:"enforcement_level" db:"enforcement_level"`
	RemediationStatus     RemediationStatus `json:"remediation_status" db:"remediation_status"`
	RemediationNotes      string            `json:"remediation_notes,omitempty" db:"remediation_notes"`
	ReportableToRegulator bool              `json:"reportable_to_regulator" db:"reportable_to_regulator"`
	AffectedSubjectsCount int               `json:"affected_subjects_count" db:"affected_subjects_count"`
	LastTransitionBy      string            `json:"last_transition_by,omitempty" db:"last_transition_by"`
	LastTransitionAt      *time.Time        `json:"last_transition_at,omitempty" db:"last_transition_at"`
	CreatedAt             time.Time         `json:"created_at" db:"created_at"`
}

// RiskAssessment is an append-only snapshot of a tool's computed risk.
type RiskAssessment struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	OrgID           uuid.UUID   `json:"org_id" db:"org_id"`
	ToolID          uuid.UUID   `json:"tool_id" db:"tool_id"`
	OverallRisk     int         `json:"overall_risk" db:"overall_risk"`
	RiskTier        RiskTier    `json:"risk_tier" db:"risk_tier"`
	Factors         JSONB       `json:"factors" db:"factors"`
	Recommendations StringArray `json:"recommendations" db:"recommendations"`
	AssessedAt      time.Time   `json:"assessed_at" db:"assessed_at"`
}

// RiskFactor is one weighted component of an overall risk score.
type RiskFactor struct {
	Category string  `json:"category"`
	Score    int     `json:"score"`
	Weight   float64 `json:"weight"`
	Detail   string  `json:"detail,omitempty"`
}

// FrameworkFinding is one checklist result of a compliance assessment.
type FrameworkFinding struct {
	Requirement string            `json:"requirement"`
	Description string            `json:"description"`
	Compliant   bool              `json:"compliant"`
	Severity    ViolationSeverity `json:"severity"`
	Remediation string            `json:"remediation,omitempty"`
}

// ComplianceReport is derived on demand, never stored as a mutable entity.
type ComplianceReport struct {
	Framework       string             `json:"framework"`
	OrgID           uuid.UUID          `json:"org_id"`
	Score           int                `json:"score"`
	Findings        []FrameworkFinding `json:"findings"`
	Recommendations []Recommendation   `json:"recommendations"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// Recommendation carries remediation guidance with the severity of the
// finding that produced it.
type Recommendation struct {
	Priority ViolationSeverity `json:"priority"`
	Text     string            `json:"text"`
}
