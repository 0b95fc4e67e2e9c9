package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pcguest/compli/internal/auth"
	"github.com/pcguest/compli/internal/classifier"
	"github.com/pcguest/compli/internal/models"
	"github.com/pcguest/compli/internal/policy"
	"github.com/pcguest/compli/internal/queue"
	"github.com/pcguest/compli/internal/violations"
)

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// orgFromRequest resolves the caller's organization. Every data route is
// scoped to it; there is no cross-org read path.
func orgFromRequest(r *http.Request) (uuid.UUID, *auth.Claims, bool) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		return uuid.Nil, nil, false
	}
	orgID, err := uuid.Parse(claims.OrgID)
	if err != nil {
		return uuid.Nil, nil, false
	}
	return orgID, claims, true
}

// Tools

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, _, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Missing organization context")
		return
	}

	var approvalFilter *models.ApprovalStatus
	if v := r.URL.Query().Get("approval_status"); v != "" {
		status := models.ApprovalStatus(v)
		approvalFilter = &status
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	tools, err := s.store.ListTools(ctx, orgID, approvalFilter, activeOnly)
	if err != nil {
		s.logger.Error("failed to list tools", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list tools")
		return
	}

	respondJSONWithMeta(w, http.StatusOK, tools, &apiMeta{Total: len(tools)})
}

func (s *Server) createTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, _, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Missing organization context")
		return
	}

	var tool models.Tool
	if err := json.NewDecoder(r.Body).Decode(&tool); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}
	if tool.Name == "" || tool.Vendor == "" {
		respondError(w, http.StatusBadRequest, "missing_field", "name and vendor are required")
		return
	}

	tool.ID = uuid.New()
	tool.OrgID = orgID
	if tool.ApprovalStatus == "" {
		tool.ApprovalStatus = models.ApprovalPending
	}
	tool.IsActive = true
	tool.CreatedAt = time.Now()
	tool.UpdatedAt = tool.CreatedAt

	if err := s.store.CreateTool(ctx, &tool); err != nil {
		s.logger.Error("failed to create tool", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to create tool")
		return
	}

	respondJSON(w, http.StatusCreated, tool)
}

func (s *Server) getTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	toolID, err := uuid.Parse(chi.URLParam(r, "toolID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid tool ID")
		return
	}

	tool, err := s.store.GetTool(ctx, toolID)
	if err != nil {
		s.logger.Error("failed to get tool", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to get tool")
		return
	}
	if tool == nil {
		respondError(w, http.StatusNotFound, "not_found", "Tool not found")
		return
	}

	respondJSON(w, http.StatusOK, tool)
}

func (s *Server) updateTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	toolID, err := uuid.Parse(chi.URLParam(r, "toolID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid tool ID")
		return
	}

	existing, err := s.store.GetTool(ctx, toolID)
	if err != nil || existing == nil {
		respondError(w, http.StatusNotFound, "not_found", "Tool not found")
		return
	}

	var tool models.Tool
	if err := json.NewDecoder(r.Body).Decode(&tool); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	tool.ID = existing.ID
	tool.OrgID = existing.OrgID
	tool.CreatedAt = existing.CreatedAt
	tool.UpdatedAt = time.Now()

	if err := s.store.UpdateTool(ctx, &tool); err != nil {
		s.logger.Error("failed to update tool", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to update tool")
		return
	}

	respondJSON(w, http.StatusOK, tool)
}

func (s *Server) deactivateTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	toolID, err := uuid.Parse(chi.URLParam(r, "toolID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid tool ID")
		return
	}

	if err := s.store.DeactivateTool(ctx, toolID); err != nil {
		s.logger.Error("failed to deactivate tool", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to deactivate tool")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (s *Server) updateToolApproval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	toolID, err := uuid.Parse(chi.URLParam(r, "toolID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid tool ID")
		return
	}

	var req struct {
		Status models.ApprovalStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	switch req.Status {
	case models.ApprovalPending, models.ApprovalUnderReview, models.ApprovalApproved,
		models.ApprovalConditional, models.ApprovalRestricted, models.ApprovalBanned:
	default:
		respondError(w, http.StatusBadRequest, "invalid_param", "Unknown approval status")
		return
	}

	if err := s.store.UpdateToolApproval(ctx, toolID, req.Status); err != nil {
		s.logger.Error("failed to update approval", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to update approval status")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"tool_id": toolID.String(),
		"status":  string(req.Status),
	})
}

func (s *Server) assessToolRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, _, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Missing organization context")
		return
	}

	toolID, err := uuid.Parse(chi.URLParam(r, "toolID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid tool ID")
		return
	}

	tool, err := s.store.GetTool(ctx, toolID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to get tool")
		return
	}
	if tool == nil {
		respondError(w, http.StatusNotFound, "not_found", "Tool not found")
		return
	}

	// Async mode queues the work instead of scoring inline.
	if r.URL.Query().Get("async") == "true" {
		if s.jobQueue == nil {
			respondError(w, http.StatusServiceUnavailable, "queue_unavailable", "Background job queue is not available")
			return
		}
		job := &queue.Job{
			ID:       uuid.New(),
			Type:     queue.JobTypeRiskAssessment,
			OrgID:    orgID,
			ToolID:   &toolID,
			Priority: 1,
		}
		if err := s.jobQueue.EnqueueJob(ctx, job); err != nil {
			respondError(w, http.StatusInternalServerError, "internal_error", "Failed to enqueue assessment")
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID.String()})
		return
	}

	result := s.scorer.Score(tool)
	ra := &models.RiskAssessment{
		ID:              uuid.New(),
		OrgID:           orgID,
		ToolID:          tool.ID,
		OverallRisk:     result.OverallRisk,
		RiskTier:        result.RiskTier,
		Factors:         models.JSONB{"factors": result.Factors},
		Recommendations: models.StringArray(result.Recommendations),
		AssessedAt:      time.Now(),
	}
	if err := s.store.CreateRiskAssessment(ctx, ra); err != nil {
		s.logger.Error("failed to persist risk assessment", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to save assessment")
		return
	}
	if err := s.store.UpdateToolRiskLevel(ctx, tool.ID, result.RiskTier); err != nil {
		s.logger.Error("failed to update tool risk level", "error", err)
	}

	respondJSON(w, http.StatusOK, ra)
}

func (s *Server) listToolAssessments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	toolID, err := uuid.Parse(chi.URLParam(r, "toolID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid tool ID")
		return
	}

	limit, _ := parsePagination(r)
	assessments, err := s.store.ListRiskAssessments(ctx, toolID, limit)
	if err != nil {
		s.logger.Error("failed to list assessments", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list assessments")
		return
	}

	respondJSONWithMeta(w, http.StatusOK, assessments, &apiMeta{Total: len(assessments), Limit: limit})
}

// Usage events

type evaluateRequest struct {
	ToolID             string  `json:"tool_id"`
	Content            string  `json:"content"`
	Department         string  `json:"department"`
	TokenCount         int64   `json:"token_count"`
	EstimatedCostCents float64 `json:"estimated_cost_cents"`
}

type evaluateResponse struct {
	EventID    uuid.UUID          `json:"event_id"`
	Decision   models.Decision    `json:"decision"`
	Violations []models.Violation `json:"violations"`
	Warnings   []string           `json:"warnings,omitempty"`

	Classification models.Classification `json:"classification"`
	Confidence     float64               `json:"classifier_confidence"`
}

// evaluateUsage is the enforcement path: classify the content, record the
// event (digest only, never the content), evaluate active policies and
// persist any violations before the decision is returned.
func (s *Server) evaluateUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, claims, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Missing organization context")
		return
	}

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	toolID, err := uuid.Parse(req.ToolID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid tool ID")
		return
	}

	tool, err := s.store.GetTool(ctx, toolID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to get tool")
		return
	}
	if tool == nil {
		respondError(w, http.StatusNotFound, "not_found", "Tool not found")
		return
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Invalid user context")
		return
	}

	cls := s.classifier.Classify(req.Content)

	event := &models.UsageEvent{
		ID:                    uuid.New(),
		OrgID:                 orgID,
		ToolID:                tool.ID,
		UserID:                userID,
		UserRole:              string(claims.Role),
		Department:            req.Department,
		Classification:        cls.Classification,
		ContainsPersonalInfo:  cls.ContainsPersonalInfo,
		ContainsSensitiveInfo: cls.ContainsSensitiveInfo,
		CrossBorderDisclosure: tool.CrossBorderDisclosure,
		TokenCount:            req.TokenCount,
		EstimatedCostCents:    req.EstimatedCostCents,
		ContentDigest:         classifier.Digest(req.Content),
		ClassifierConfidence:  cls.Confidence,
		RecordedAt:            time.Now(),
	}

	policies, err := s.policyStore.ListPolicies(ctx, orgID, true)
	if err != nil {
		s.logger.Error("failed to list policies", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to evaluate policies")
		return
	}

	result := s.evaluator.Evaluate(policies, event, tool)

	if err := s.store.CreateUsageEvent(ctx, event); err != nil {
		s.logger.Error("failed to record usage event", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to record usage event")
		return
	}

	for i := range result.Violations {
		v := &result.Violations[i]
		v.OrgID = orgID
		v.ToolID = tool.ID
		v.EventID = event.ID
		v.UserID = userID
		if err := s.violationService.Create(ctx, v); err != nil {
			s.logger.Error("failed to record violation", "error", err, "type", v.ViolationType)
			continue
		}
		if err := s.notificationService.NotifyViolation(ctx, v, tool.Name); err != nil {
			s.logger.Warn("violation notification failed", "error", err)
		}
		if v.ReportableToRegulator {
			if err := s.notificationService.NotifyReportable(ctx, v, tool.Name); err != nil {
				s.logger.Warn("reportable notification failed", "error", err)
			}
		}
	}

	respondJSON(w, http.StatusOK, evaluateResponse{
		EventID:        event.ID,
		Decision:       result.Decision,
		Violations:     result.Violations,
		Warnings:       result.Warnings,
		Classification: cls.Classification,
		Confidence:     cls.Confidence,
	})
}

func (s *Server) listUsageEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, _, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Missing organization context")
		return
	}

	limit, offset := parsePagination(r)

	var toolID *uuid.UUID
	if v := r.URL.Query().Get("tool_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_param", "Invalid tool_id")
			return
		}
		toolID = &id
	}

	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_param", "since must be RFC3339")
			return
		}
		since = &t
	}

	events, err := s.store.ListUsageEvents(ctx, orgID, toolID, since, limit, offset)
	if err != nil {
		s.logger.Error("failed to list usage events", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list usage events")
		return
	}

	respondJSONWithMeta(w, http.StatusOK, events, &apiMeta{Total: len(events), Limit: limit, Offset: offset})
}

func (s *Server) getUsageEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid event ID")
		return
	}

	event, err := s.store.GetUsageEvent(ctx, eventID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to get usage event")
		return
	}
	if event == nil {
		respondError(w, http.StatusNotFound, "not_found", "Usage event not found")
		return
	}

	respondJSON(w, http.StatusOK, event)
}

// Policies

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, _, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Missing organization context")
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	policies, err := s.policyStore.ListPolicies(ctx, orgID, activeOnly)
	if err != nil {
		s.logger.Error("failed to list policies", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list policies")
		return
	}

	respondJSONWithMeta(w, http.StatusOK, policies, &apiMeta{Total: len(policies)})
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyID, err := uuid.Parse(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid policy ID")
		return
	}

	p, err := s.policyStore.GetPolicy(ctx, policyID)
	if err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Policy not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to get policy")
		return
	}

	respondJSON(w, http.StatusOK, p)
}

func (s *Server) createPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, claims, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Missing organization context")
		return
	}

	var p models.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}
	if p.Name == "" {
		respondError(w, http.StatusBadRequest, "missing_field", "name is required")
		return
	}

	switch p.EnforcementLevel {
	case models.EnforcementMonitor, models.EnforcementAlert, models.EnforcementBlock:
	case "":
		p.EnforcementLevel = models.EnforcementMonitor
	default:
		respondError(w, http.StatusBadRequest, "invalid_param", "Unknown enforcement level")
		return
	}

	p.ID = uuid.New()
	p.OrgID = orgID
	p.IsActive = true
	p.CreatedBy = claims.Email
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt

	if err := s.policyStore.CreatePolicy(ctx, &p); err != nil {
		s.logger.Error("failed to create policy", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to create policy")
		return
	}

	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) updatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyID, err := uuid.Parse(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid policy ID")
		return
	}

	existing, err := s.policyStore.GetPolicy(ctx, policyID)
	if err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Policy not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to get policy")
		return
	}

	var p models.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	p.ID = existing.ID
	p.OrgID = existing.OrgID
	p.CreatedBy = existing.CreatedBy
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now()

	if err := s.policyStore.UpdatePolicy(ctx, &p); err != nil {
		s.logger.Error("failed to update policy", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to update policy")
		return
	}

	respondJSON(w, http.StatusOK, p)
}

func (s *Server) deactivatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyID, err := uuid.Parse(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid policy ID")
		return
	}

	if err := s.policyStore.DeactivatePolicy(ctx, policyID); err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Policy not found")
			return
		}
		s.logger.Error("failed to deactivate policy", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to deactivate policy")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// Violations

func (s *Server) listViolations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, _, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Missing organization context")
		return
	}

	limit, offset := parsePagination(r)

	var statusFilter *models.RemediationStatus
	if v := r.URL.Query().Get("status"); v != "" {
		status := models.RemediationStatus(v)
		statusFilter = &status
	}

	list, total, err := s.violationService.List(ctx, orgID, statusFilter, limit, offset)
	if err != nil {
		s.logger.Error("failed to list violations", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list violations")
		return
	}

	respondJSONWithMeta(w, http.StatusOK, list, &apiMeta{Total: total, Limit: limit, Offset: offset})
}

func (s *Server) listReportableViolations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, _, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Missing organization context")
		return
	}

	list, err := s.store.ListReportableViolations(ctx, orgID)
	if err != nil {
		s.logger.Error("failed to list reportable violations", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list reportable violations")
		return
	}

	respondJSONWithMeta(w, http.StatusOK, list, &apiMeta{Total: len(list)})
}

func (s *Server) getViolation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	violationID, err := uuid.Parse(chi.URLParam(r, "violationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid violation ID")
		return
	}

	v, err := s.violationService.Get(ctx, violationID)
	if err != nil {
		if errors.Is(err, violations.ErrViolationNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Violation not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to get violation")
		return
	}

	respondJSON(w, http.StatusOK, v)
}

func (s *Server) transitionViolation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, claims, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Missing organization context")
		return
	}

	violationID, err := uuid.Parse(chi.URLParam(r, "violationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid violation ID")
		return
	}

	var req struct {
		Status models.RemediationStatus `json:"status"`
		Notes  string                   `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}
	if req.Status == "" {
		respondError(w, http.StatusBadRequest, "missing_field", "status is required")
		return
	}

	v, err := s.violationService.Transition(ctx, violationID, req.Status, claims.Email, string(claims.Role), req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, violations.ErrViolationNotFound):
			respondError(w, http.StatusNotFound, "not_found", "Violation not found")
		case errors.Is(err, violations.ErrUnauthorized):
			respondError(w, http.StatusForbidden, "forbidden", "Role may not transition violations")
		case errors.Is(err, violations.ErrInvalidTransition):
			respondError(w, http.StatusConflict, "invalid_transition", err.Error())
		default:
			s.logger.Error("failed to transition violation", "error", err)
			respondError(w, http.StatusInternalServerError, "internal_error", "Failed to transition violation")
		}
		return
	}

	respondJSON(w, http.StatusOK, v)
}

func (s *Server) reopenViolation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, claims, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Missing organization context")
		return
	}

	violationID, err := uuid.Parse(chi.URLParam(r, "violationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid violation ID")
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	// Body is optional for reopen.
	_ = json.NewDecoder(r.Body).Decode(&req)

	v, err := s.violationService.Reopen(ctx, violationID, claims.Email, string(claims.Role), req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, violations.ErrViolationNotFound):
			respondError(w, http.StatusNotFound, "not_found", "Violation not found")
		case errors.Is(err, violations.ErrUnauthorized):
			respondError(w, http.StatusForbidden, "forbidden", "Only admins may reopen violations")
		case errors.Is(err, violations.ErrInvalidTransition):
			respondError(w, http.StatusConflict, "invalid_transition", err.Error())
		default:
			s.logger.Error("failed to reopen violation", "error", err)
			respondError(w, http.StatusInternalServerError, "internal_error", "Failed to reopen violation")
		}
		return
	}

	respondJSON(w, http.StatusOK, v)
}

// Assessments

func (s *Server) listFrameworks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.assessor.Frameworks())
}

func (s *Server) runAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, _, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Missing organization context")
		return
	}

	var req struct {
		Framework string `json:"framework"`
		Async     bool   `json:"async"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	if req.Async {
		if s.jobQueue == nil {
			respondError(w, http.StatusServiceUnavailable, "queue_unavailable", "Background job queue is not available")
			return
		}
		job := &queue.Job{
			ID:        uuid.New(),
			Type:      queue.JobTypeComplianceAssessment,
			OrgID:     orgID,
			Framework: req.Framework,
			Priority:  1,
		}
		if err := s.jobQueue.EnqueueJob(ctx, job); err != nil {
			respondError(w, http.StatusInternalServerError, "internal_error", "Failed to enqueue assessment")
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID.String()})
		return
	}

	snap, err := buildSnapshot(ctx, s.store, s.policyStore, orgID)
	if err != nil {
		s.logger.Error("failed to build snapshot", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to build assessment snapshot")
		return
	}

	frameworks := s.assessor.Frameworks()
	if req.Framework != "" {
		frameworks = []string{req.Framework}
	}

	results := make([]*models.ComplianceReport, 0, len(frameworks))
	for _, fw := range frameworks {
		report, err := s.assessor.Assess(fw, snap)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_param", err.Error())
			return
		}
		results = append(results, report)
	}

	respondJSON(w, http.StatusOK, results)
}

// Dashboard

func (s *Server) getDashboardSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, _, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Missing organization context")
		return
	}

	provider := &reportDataProvider{store: s.store, policyStore: s.policyStore, assessor: s.assessor}
	stats, err := provider.GetStats(ctx, orgID)
	if err != nil {
		s.logger.Error("failed to compute dashboard stats", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to compute summary")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
