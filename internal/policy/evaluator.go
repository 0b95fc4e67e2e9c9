// Package policy evaluates usage events against an organization's active
// policies and aggregates per-rule breaches into a single enforcement
// decision.
package policy

import (
	"fmt"
	"sort"

	"github.com/pcguest/compli/internal/models"
)

// Result is the outcome of evaluating one usage event. Violations are
// ordered by the owning policy's priority (lower first) for reporting; the
// decision itself is independent of ordering.
type Result struct {
	Decision   models.Decision    `json:"decision"`
	Violations []models.Violation `json:"violations"`
	Warnings   []string           `json:"warnings"`
}

// Evaluator runs policy rule sets against usage events. Stateless and safe
// for concurrent use.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// enforcementRank orders levels by strictness for decision aggregation.
var enforcementRank = map[models.EnforcementLevel]int{
	models.EnforcementMonitor: 1,
	models.EnforcementAlert:   2,
	models.EnforcementBlock:   3,
}

// Evaluate runs every applicable active policy against the usage event.
// Strictness wins: one block-level breach forces a block decision no matter
// how many monitor-level policies also fire or in what order they appear.
func (e *Evaluator) Evaluate(policies []*models.Policy, usage *models.UsageEvent, tool *models.Tool) *Result {
	result := &Result{
		Decision: models.DecisionAllow,
	}

	strictest := 0
	for _, p := range policies {
		if !p.IsActive || !e.applies(p, usage) {
			continue
		}

		breaches := e.checkRules(p, usage, tool)
		if len(breaches) == 0 {
			continue
		}

		result.Violations = append(result.Violations, breaches...)
		if r := enforcementRank[p.EnforcementLevel]; r > strictest {
			strictest = r
		}
	}

	switch {
	case strictest >= enforcementRank[models.EnforcementBlock]:
		result.Decision = models.DecisionBlock
	case strictest >= enforcementRank[models.EnforcementAlert]:
		result.Decision = models.DecisionWarn
	}

	// Priority governs reporting order only. The decision above is already
	// fixed before this sort runs.
	priorities := make(map[string]int, len(policies))
	for _, p := range policies {
		priorities[p.ID.String()] = p.Priority
	}
	sort.SliceStable(result.Violations, func(i, j int) bool {
		return priorities[result.Violations[i].PolicyID.String()] < priorities[result.Violations[j].PolicyID.String()]
	})

	for _, v := range result.Violations {
		if v.EnforcementLevel != models.EnforcementBlock {
			result.Warnings = append(result.Warnings, v.Description)
		}
	}

	return result
}

// applies reports whether a policy's scope covers the usage context. Empty
// scope lists apply universally.
func (e *Evaluator) applies(p *models.Policy, usage *models.UsageEvent) bool {
	return scopeMatches(p.ApplicableRoles, usage.UserRole) &&
		scopeMatches(p.ApplicableDepts, usage.Department) &&
		scopeMatches(p.ApplicableTools, usage.ToolID.String())
}

func scopeMatches(scope models.StringArray, value string) bool {
	if len(scope) == 0 {
		return true
	}
	for _, s := range scope {
		if s == value {
			return true
		}
	}
	return false
}

func (e *Evaluator) checkRules(p *models.Policy, usage *models.UsageEvent, tool *models.Tool) []models.Violation {
	var breaches []models.Violation

	record := func(violationType, description string, severity models.ViolationSeverity) {
		breaches = append(breaches, models.Violation{
			OrgID:             usage.OrgID,
			PolicyID:          p.ID,
			ToolID:            usage.ToolID,
			EventID:           usage.ID,
			UserID:            usage.UserID,
			ViolationType:     violationType,
			Description:       description,
			Severity:          severity,
			EnforcementLevel:  p.EnforcementLevel,
			RemediationStatus: models.RemediationPending,
		})
	}

	// Forbidden-list and allowed-list are independent checks. A
	// classification can breach both at once.
	for _, c := range p.Rules.ForbiddenClassifications {
		if usage.Classification == c {
			record("forbidden_classification",
				fmt.Sprintf("policy %q forbids %s-classified content", p.Name, usage.Classification),
				models.SeverityHigh)
			break
		}
	}
	if len(p.Rules.AllowedClassifications) > 0 {
		allowed := false
		for _, c := range p.Rules.AllowedClassifications {
			if usage.Classification == c {
				allowed = true
				break
			}
		}
		if !allowed {
			record("classification_not_allowed",
				fmt.Sprintf("policy %q does not allow %s-classified content", p.Name, usage.Classification),
				models.SeverityHigh)
		}
	}

	if p.Rules.BlockPersonalInfo && usage.ContainsPersonalInfo {
		record("personal_info",
			fmt.Sprintf("policy %q blocks personal information in tool input", p.Name),
			models.SeverityHigh)
	}
	if p.Rules.BlockSensitiveInfo && usage.ContainsSensitiveInfo {
		record("sensitive_info",
			fmt.Sprintf("policy %q blocks sensitive information in tool input", p.Name),
			models.SeverityCritical)
	}
	if p.Rules.BlockCrossBorder && usage.CrossBorderDisclosure {
		record("cross_border",
			fmt.Sprintf("policy %q blocks cross-border disclosure", p.Name),
			models.SeverityCritical)
	}
	if p.Rules.RequireToolApproval && (tool == nil || tool.ApprovalStatus != models.ApprovalApproved) {
		status := models.ApprovalStatus("unknown")
		if tool != nil {
			status = tool.ApprovalStatus
		}
		record("tool_not_approved",
			fmt.Sprintf("policy %q requires an approved tool; status is %s", p.Name, status),
			models.SeverityHigh)
	}

	// Threshold checks use strict greater-than. Usage exactly at the limit
	// passes.
	if p.Rules.MaxTokens != nil && usage.TokenCount > *p.Rules.MaxTokens {
		record("token_limit",
			fmt.Sprintf("token count %d exceeds policy %q limit %d", usage.TokenCount, p.Name, *p.Rules.MaxTokens),
			models.SeverityWarning)
	}
	if p.Rules.MaxCostCents != nil && usage.EstimatedCostCents > *p.Rules.MaxCostCents {
		record("cost_limit",
			fmt.Sprintf("estimated cost %.2fc exceeds policy %q limit %.2fc", usage.EstimatedCostCents, p.Name, *p.Rules.MaxCostCents),
			models.SeverityWarning)
	}

	return breaches
}
