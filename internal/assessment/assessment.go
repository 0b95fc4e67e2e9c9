// Package assessment runs framework compliance checklists over an
// organization snapshot and produces a scored report.
package assessment

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pcguest/compli/internal/models"
)

var ErrUnknownFramework = errors.New("unknown compliance framework")

// Framework codes with built-in checklists.
const (
	FrameworkPrivacyAct = "privacy_act"
	FrameworkGDPR       = "gdpr"
	FrameworkISO42001   = "iso_42001"
	FrameworkSOC2       = "soc2"
)

// Snapshot is the organization state a checklist runs over. The caller
// assembles it from storage; the assessor performs no I/O.
type Snapshot struct {
	OrgID        uuid.UUID
	Tools        []models.Tool
	Policies     []models.Policy
	Violations   []models.Violation
	RecentEvents []models.UsageEvent
	TakenAt      time.Time
}

// check is a single requirement evaluator. Evaluators are pure over the
// snapshot and independent of one another, so a checklist may be run in any
// order or partially re-run.
type check struct {
	requirement string
	description string
	severity    models.ViolationSeverity
	remediation string
	eval        func(*Snapshot) bool
}

// Assessor holds the framework checklists. Stateless and safe for
// concurrent use.
type Assessor struct {
	frameworks map[string][]check
}

func NewAssessor() *Assessor {
	return &Assessor{frameworks: builtinFrameworks()}
}

// Frameworks returns the supported framework codes in sorted order.
func (a *Assessor) Frameworks() []string {
	codes := make([]string, 0, len(a.frameworks))
	for code := range a.frameworks {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Assess runs the named framework's checklist against the snapshot. The
// score is the rounded percentage of compliant checks; an empty checklist
// scores zero. Recommendations are emitted only for non-compliant findings.
func (a *Assessor) Assess(framework string, snap *Snapshot) (*models.ComplianceReport, error) {
	checks, ok := a.frameworks[framework]
	if !ok {
		return nil, fmt.Errorf("%q: %w", framework, ErrUnknownFramework)
	}

	report := &models.ComplianceReport{
		Framework:   framework,
		OrgID:       snap.OrgID,
		GeneratedAt: time.Now(),
	}

	compliant := 0
	for _, c := range checks {
		ok := c.eval(snap)
		report.Findings = append(report.Findings, models.FrameworkFinding{
			Requirement: c.requirement,
			Description: c.description,
			Compliant:   ok,
			Severity:    c.severity,
			Remediation: c.remediation,
		})
		if ok {
			compliant++
		} else {
			report.Recommendations = append(report.Recommendations, models.Recommendation{
				Priority: c.severity,
				Text:     c.remediation,
			})
		}
	}

	if len(checks) > 0 {
		report.Score = int(math.Round(100 * float64(compliant) / float64(len(checks))))
	}

	return report, nil
}

// Shared requirement evaluators. Frameworks mix and match these.

func activePolicyExists(snap *Snapshot) bool {
	for _, p := range snap.Policies {
		if p.IsActive {
			return true
		}
	}
	return false
}

// personalInfoToolsCovered requires every personal-info-processing tool to
// fall inside the scope of at least one active policy restricting personal
// information.
func personalInfoToolsCovered(snap *Snapshot) bool {
	for _, tool := range snap.Tools {
		if !tool.IsActive || !tool.ProcessesPersonalInfo {
			continue
		}
		if !toolCovered(snap, tool.ID, func(r models.RuleSet) bool {
			return r.BlockPersonalInfo || len(r.ForbiddenClassifications) > 0 || len(r.AllowedClassifications) > 0
		}) {
			return false
		}
	}
	return true
}

// sensitiveInfoToolsRestricted requires tools handling sensitive information
// to run on-premise or through a vendor whose compliance posture has been
// verified. Hybrid and unknown deployments count as cloud.
func sensitiveInfoToolsRestricted(snap *Snapshot) bool {
	for _, tool := range snap.Tools {
		if !tool.IsActive || !tool.ProcessesSensitiveInfo {
			continue
		}
		if tool.Deployment == models.DeploymentOnPremise || tool.VendorComplianceVerified {
			continue
		}
		return false
	}
	return true
}

func crossBorderToolsBlocked(snap *Snapshot) bool {
	for _, tool := range snap.Tools {
		if !tool.IsActive || !tool.CrossBorderDisclosure {
			continue
		}
		covered := false
		for _, p := range snap.Policies {
			if p.IsActive && p.Rules.BlockCrossBorder && p.EnforcementLevel == models.EnforcementBlock && policyCoversTool(&p, tool.ID) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

// approvalParity requires personal-info-processing tools to have completed
// the approval workflow.
func approvalParity(snap *Snapshot) bool {
	for _, tool := range snap.Tools {
		if !tool.IsActive || !tool.ProcessesPersonalInfo {
			continue
		}
		switch tool.ApprovalStatus {
		case models.ApprovalApproved, models.ApprovalConditional:
		default:
			return false
		}
	}
	return true
}

func noUnresolvedCriticals(snap *Snapshot) bool {
	cutoff := snap.TakenAt.AddDate(0, 0, -30)
	for _, v := range snap.Violations {
		if v.Severity != models.SeverityCritical {
			continue
		}
		if v.CreatedAt.Before(cutoff) {
			continue
		}
		if !v.RemediationStatus.IsTerminal() {
			return false
		}
	}
	return true
}

func noPendingReportables(snap *Snapshot) bool {
	for _, v := range snap.Violations {
		if v.ReportableToRegulator && v.RemediationStatus == models.RemediationPending {
			return false
		}
	}
	return true
}

func noBannedToolUsage(snap *Snapshot) bool {
	banned := make(map[uuid.UUID]bool)
	for _, tool := range snap.Tools {
		if tool.ApprovalStatus == models.ApprovalBanned {
			banned[tool.ID] = true
		}
	}
	for _, e := range snap.RecentEvents {
		if banned[e.ToolID] {
			return false
		}
	}
	return true
}

func toolCovered(snap *Snapshot, toolID uuid.UUID, matches func(models.RuleSet) bool) bool {
	for _, p := range snap.Policies {
		if p.IsActive && matches(p.Rules) && policyCoversTool(&p, toolID) {
			return true
		}
	}
	return false
}

func policyCoversTool(p *models.Policy, toolID uuid.UUID) bool {
	if len(p.ApplicableTools) == 0 {
		return true
	}
	id := toolID.String()
	for _, t := range p.ApplicableTools {
		if t == id {
			return true
		}
	}
	return false
}

func builtinFrameworks() map[string][]check {
	activePolicy := check{
		requirement: "active-policy-exists",
		description: "At least one active compliance policy is in force",
		severity:    models.SeverityCritical,
		remediation: "Define and activate at least one usage policy",
		eval:        activePolicyExists,
	}
	personalCovered := check{
		requirement: "personal-info-tools-covered",
		description: "Tools processing personal information are covered by an active policy",
		severity:    models.SeverityHigh,
		remediation: "Extend policy scope to every tool that processes personal information",
		eval:        personalInfoToolsCovered,
	}
	sensitiveCovered := check{
		requirement: "sensitive-info-tools-restricted",
		description: "Tools processing sensitive information run on-premise or with a compliance-verified vendor",
		severity:    models.SeverityCritical,
		remediation: "Move sensitive-information tools on-premise or verify the vendor's compliance",
		eval:        sensitiveInfoToolsRestricted,
	}
	crossBorder := check{
		requirement: "cross-border-blocking-policy",
		description: "Tools disclosing data across borders are covered by a blocking policy",
		severity:    models.SeverityCritical,
		remediation: "Introduce a block-level policy for cross-border disclosure",
		eval:        crossBorderToolsBlocked,
	}
	parity := check{
		requirement: "approval-parity",
		description: "Tools processing personal information have completed approval",
		severity:    models.SeverityHigh,
		remediation: "Complete the approval workflow for personal-information tools",
		eval:        approvalParity,
	}
	criticals := check{
		requirement: "no-unresolved-criticals-30d",
		description: "No critical violation from the last 30 days remains unresolved",
		severity:    models.SeverityCritical,
		remediation: "Investigate and resolve outstanding critical violations",
		eval:        noUnresolvedCriticals,
	}
	reportables := check{
		requirement: "no-pending-reportables",
		description: "No regulator-reportable violation is still pending triage",
		severity:    models.SeverityCritical,
		remediation: "Triage pending reportable violations and begin notification if required",
		eval:        noPendingReportables,
	}
	bannedUsage := check{
		requirement: "no-banned-tool-usage",
		description: "Banned tools show no recent usage",
		severity:    models.SeverityHigh,
		remediation: "Revoke access to banned tools and investigate recent usage",
		eval:        noBannedToolUsage,
	}

	return map[string][]check{
		FrameworkPrivacyAct: {
			activePolicy, personalCovered, sensitiveCovered, crossBorder,
			criticals, reportables,
		},
		FrameworkGDPR: {
			activePolicy, personalCovered, sensitiveCovered, crossBorder,
			parity, reportables,
		},
		FrameworkISO42001: {
			activePolicy, parity, bannedUsage, criticals,
		},
		FrameworkSOC2: {
			activePolicy, personalCovered, criticals, bannedUsage,
		},
	}
}
