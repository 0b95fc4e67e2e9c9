package violations

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/pcguest/compli/internal/models"
)

type memStore struct {
	violations map[uuid.UUID]*models.Violation
}

func newMemStore() *memStore {
	return &memStore{violations: make(map[uuid.UUID]*models.Violation)}
}

func (m *memStore) CreateViolation(_ context.Context, v *models.Violation) error {
	cp := *v
	m.violations[v.ID] = &cp
	return nil
}

func (m *memStore) GetViolation(_ context.Context, id uuid.UUID) (*models.Violation, error) {
	v, ok := m.violations[id]
	if !ok {
		return nil, ErrViolationNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memStore) UpdateViolation(_ context.Context, v *models.Violation) error {
	if _, ok := m.violations[v.ID]; !ok {
		return ErrViolationNotFound
	}
	cp := *v
	m.violations[v.ID] = &cp
	return nil
}

func (m *memStore) ListViolations(_ context.Context, orgID uuid.UUID, status *models.RemediationStatus, limit, offset int) ([]models.Violation, int, error) {
	var out []models.Violation
	for _, v := range m.violations {
		if v.OrgID != orgID {
			continue
		}
		if status != nil && v.RemediationStatus != *status {
			continue
		}
		out = append(out, *v)
	}
	return out, len(out), nil
}

func newTestService(store Store) *Service {
	return NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func seedViolation(t *testing.T, s *Service, status models.RemediationStatus) *models.Violation {
	t.Helper()
	v := &models.Violation{
		OrgID:         uuid.New(),
		ViolationType: "personal_info",
		Severity:      models.SeverityHigh,
	}
	if err := s.Create(context.Background(), v); err != nil {
		t.Fatalf("creating violation: %v", err)
	}
	if status != models.RemediationPending {
		v.RemediationStatus = status
		store := s.store.(*memStore)
		store.violations[v.ID].RemediationStatus = status
	}
	return v
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    models.RemediationStatus
		to      models.RemediationStatus
		allowed bool
	}{
		{"pending to acknowledged", models.RemediationPending, models.RemediationAcknowledged, true},
		{"pending to under investigation", models.RemediationPending, models.RemediationUnderInvestigation, true},
		{"pending skips to remediated", models.RemediationPending, models.RemediationRemediated, false},
		{"acknowledged to under investigation", models.RemediationAcknowledged, models.RemediationUnderInvestigation, true},
		{"acknowledged to remediated", models.RemediationAcknowledged, models.RemediationRemediated, true},
		{"acknowledged to false positive", models.RemediationAcknowledged, models.RemediationFalsePositive, true},
		{"under investigation to accepted risk", models.RemediationUnderInvestigation, models.RemediationAcceptedRisk, true},
		{"under investigation back to pending", models.RemediationUnderInvestigation, models.RemediationPending, false},
		{"terminal to terminal", models.RemediationRemediated, models.RemediationFalsePositive, false},
		{"terminal back to pending", models.RemediationAcceptedRisk, models.RemediationPending, false},
		{"self transition", models.RemediationPending, models.RemediationPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.allowed {
				t.Errorf("CanTransition(%s, %s) = %v, expected %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestService_TransitionStampsActor(t *testing.T) {
	s := newTestService(newMemStore())
	v := seedViolation(t, s, models.RemediationPending)

	updated, err := s.Transition(context.Background(), v.ID,
		models.RemediationAcknowledged, "casey", models.RoleComplianceOfficer, "triaged")
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if updated.RemediationStatus != models.RemediationAcknowledged {
		t.Errorf("status = %s", updated.RemediationStatus)
	}
	if updated.LastTransitionBy != "casey" {
		t.Errorf("actor = %s", updated.LastTransitionBy)
	}
	if updated.LastTransitionAt == nil {
		t.Error("transition timestamp not stamped")
	}
	if updated.RemediationNotes != "triaged" {
		t.Errorf("notes = %s", updated.RemediationNotes)
	}
}

func TestService_TransitionUnauthorized(t *testing.T) {
	store := newMemStore()
	s := newTestService(store)
	v := seedViolation(t, s, models.RemediationPending)

	for _, role := range []string{models.RoleUser, models.RoleViewer, "", "intruder"} {
		_, err := s.Transition(context.Background(), v.ID,
			models.RemediationAcknowledged, "someone", role, "")
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("role %q: expected ErrUnauthorized, got %v", role, err)
		}
	}

	// No mutation happened.
	stored := store.violations[v.ID]
	if stored.RemediationStatus != models.RemediationPending {
		t.Errorf("rejected transition mutated state to %s", stored.RemediationStatus)
	}
	if stored.LastTransitionAt != nil {
		t.Error("rejected transition stamped a timestamp")
	}
}

func TestService_InvalidTransitionPreservesState(t *testing.T) {
	store := newMemStore()
	s := newTestService(store)
	v := seedViolation(t, s, models.RemediationRemediated)

	_, err := s.Transition(context.Background(), v.ID,
		models.RemediationAcceptedRisk, "casey", models.RoleAdmin, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if store.violations[v.ID].RemediationStatus != models.RemediationRemediated {
		t.Error("invalid transition mutated stored state")
	}
}

func TestService_ReopenAdminOnly(t *testing.T) {
	s := newTestService(newMemStore())
	v := seedViolation(t, s, models.RemediationFalsePositive)

	_, err := s.Reopen(context.Background(), v.ID, "casey", models.RoleComplianceOfficer, "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("compliance officer reopened a terminal violation: %v", err)
	}

	updated, err := s.Reopen(context.Background(), v.ID, "root", models.RoleAdmin, "new evidence")
	if err != nil {
		t.Fatalf("admin reopen failed: %v", err)
	}
	if updated.RemediationStatus != models.RemediationPending {
		t.Errorf("status = %s, expected pending", updated.RemediationStatus)
	}

	// A reopened violation restarts the ordinary lifecycle.
	after, err := s.Transition(context.Background(), v.ID, models.RemediationAcknowledged, "casey", models.RoleComplianceOfficer, "")
	if err != nil {
		t.Fatalf("transition after reopen failed: %v", err)
	}
	if after.RemediationStatus != models.RemediationAcknowledged {
		t.Errorf("status = %s, expected acknowledged", after.RemediationStatus)
	}
}

func TestService_ReopenRequiresTerminal(t *testing.T) {
	s := newTestService(newMemStore())
	v := seedViolation(t, s, models.RemediationPending)

	_, err := s.Reopen(context.Background(), v.ID, "root", models.RoleAdmin, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestIsReportable(t *testing.T) {
	tests := []struct {
		name     string
		v        models.Violation
		rc       ReportabilityContext
		expected bool
	}{
		{
			name:     "critical with privacy breach",
			v:        models.Violation{Severity: models.SeverityCritical},
			rc:       ReportabilityContext{PotentialPrivacyBreach: true},
			expected: true,
		},
		{
			name:     "critical without privacy breach",
			v:        models.Violation{Severity: models.SeverityCritical},
			expected: false,
		},
		{
			name:     "exactly 100 affected subjects",
			v:        models.Violation{Severity: models.SeverityInfo, AffectedSubjectsCount: 100},
			expected: true,
		},
		{
			name:     "99 affected subjects and nothing else",
			v:        models.Violation{Severity: models.SeverityInfo, AffectedSubjectsCount: 99},
			expected: false,
		},
		{
			name:     "sensitive info at high severity",
			v:        models.Violation{Severity: models.SeverityHigh},
			rc:       ReportabilityContext{InvolvesSensitiveInfo: true},
			expected: true,
		},
		{
			name:     "sensitive info at warning severity",
			v:        models.Violation{Severity: models.SeverityWarning},
			rc:       ReportabilityContext{InvolvesSensitiveInfo: true},
			expected: false,
		},
		{
			name: "all conditions at once",
			v:    models.Violation{Severity: models.SeverityCritical, AffectedSubjectsCount: 500},
			rc: ReportabilityContext{
				PotentialPrivacyBreach: true,
				InvolvesSensitiveInfo:  true,
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsReportable(&tt.v, tt.rc); got != tt.expected {
				t.Errorf("IsReportable = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestService_CreateComputesReportability(t *testing.T) {
	s := newTestService(newMemStore())

	v := &models.Violation{
		OrgID:         uuid.New(),
		ViolationType: "sensitive_info",
		Severity:      models.SeverityHigh,
	}
	if err := s.Create(context.Background(), v); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !v.ReportableToRegulator {
		t.Error("high-severity sensitive info violation must be reportable")
	}
	if v.RemediationStatus != models.RemediationPending {
		t.Errorf("new violation status = %s, expected pending", v.RemediationStatus)
	}
	if v.ID == uuid.Nil {
		t.Error("create must assign an ID")
	}
}
