// Package violations manages the remediation lifecycle of recorded policy
// violations, from creation through to a terminal resolution.
package violations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pcguest/compli/internal/models"
)

var (
	ErrViolationNotFound = errors.New("violation not found")
	ErrUnauthorized      = errors.New("role not authorized for remediation transitions")
	ErrInvalidTransition = errors.New("invalid remediation status transition")
)

// Store defines the interface for violation persistence. Violations are
// never deleted; the interface deliberately has no delete method.
type Store interface {
	CreateViolation(ctx context.Context, v *models.Violation) error
	GetViolation(ctx context.Context, id uuid.UUID) (*models.Violation, error)
	UpdateViolation(ctx context.Context, v *models.Violation) error
	ListViolations(ctx context.Context, orgID uuid.UUID, status *models.RemediationStatus, limit, offset int) ([]models.Violation, int, error)
}

// ReportabilityContext carries the facts about a violation's surrounding
// incident that are not stored on the record itself.
type ReportabilityContext struct {
	PotentialPrivacyBreach bool
	InvolvesSensitiveInfo  bool
}

// Service manages violation records and their remediation state machine.
type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// validTransitions is the full remediation state machine. Terminal states
// have no outgoing edges here; only Reopen leaves them.
var validTransitions = map[models.RemediationStatus][]models.RemediationStatus{
	models.RemediationPending: {
		models.RemediationAcknowledged,
		models.RemediationUnderInvestigation,
	},
	models.RemediationAcknowledged: {
		models.RemediationUnderInvestigation,
		models.RemediationRemediated,
		models.RemediationFalsePositive,
		models.RemediationAcceptedRisk,
	},
	models.RemediationUnderInvestigation: {
		models.RemediationRemediated,
		models.RemediationFalsePositive,
		models.RemediationAcceptedRisk,
	},
}

// CanTransition reports whether the state machine permits moving from one
// remediation status to another.
func CanTransition(from, to models.RemediationStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transitionRoles may move violations through the state machine. Reopening
// a terminal violation is held to admin only.
var transitionRoles = map[string]bool{
	models.RoleAdmin:             true,
	models.RoleComplianceOfficer: true,
}

// Create records a new violation. Status starts at pending and regulator
// reportability is computed up front from the record's own fields.
func (s *Service) Create(ctx context.Context, v *models.Violation) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.RemediationStatus == "" {
		v.RemediationStatus = models.RemediationPending
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	v.ReportableToRegulator = IsReportable(v, ReportabilityContext{
		PotentialPrivacyBreach: v.ViolationType == "sensitive_info" || v.ViolationType == "cross_border",
		InvolvesSensitiveInfo:  v.ViolationType == "sensitive_info",
	})

	if err := s.store.CreateViolation(ctx, v); err != nil {
		return fmt.Errorf("creating violation: %w", err)
	}

	s.logger.Info("violation recorded",
		"violation_id", v.ID,
		"violation_type", v.ViolationType,
		"severity", v.Severity,
		"reportable", v.ReportableToRegulator)

	return nil
}

// Transition moves a violation to a new remediation status. Unauthorized or
// invalid requests are rejected before any mutation; on success the actor
// and timestamp are stamped onto the record.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to models.RemediationStatus, actor, actorRole, notes string) (*models.Violation, error) {
	if !transitionRoles[actorRole] {
		return nil, fmt.Errorf("role %q: %w", actorRole, ErrUnauthorized)
	}

	v, err := s.store.GetViolation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting violation: %w", err)
	}

	if !CanTransition(v.RemediationStatus, to) {
		return nil, fmt.Errorf("%s -> %s: %w", v.RemediationStatus, to, ErrInvalidTransition)
	}

	now := time.Now()
	v.RemediationStatus = to
	v.LastTransitionBy = actor
	v.LastTransitionAt = &now
	if notes != "" {
		v.RemediationNotes = notes
	}

	if err := s.store.UpdateViolation(ctx, v); err != nil {
		return nil, fmt.Errorf("updating violation: %w", err)
	}

	s.logger.Info("violation transitioned",
		"violation_id", v.ID,
		"status", to,
		"actor", actor)

	return v, nil
}

// Reopen returns a terminal violation to pending. Admin only; the record
// then re-enters the ordinary lifecycle from the start.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID, actor, actorRole, notes string) (*models.Violation, error) {
	if actorRole != models.RoleAdmin {
		return nil, fmt.Errorf("role %q: %w", actorRole, ErrUnauthorized)
	}

	v, err := s.store.GetViolation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting violation: %w", err)
	}

	if !v.RemediationStatus.IsTerminal() {
		return nil, fmt.Errorf("%s is not terminal: %w", v.RemediationStatus, ErrInvalidTransition)
	}

	now := time.Now()
	v.RemediationStatus = models.RemediationPending
	v.LastTransitionBy = actor
	v.LastTransitionAt = &now
	if notes != "" {
		v.RemediationNotes = notes
	}

	if err := s.store.UpdateViolation(ctx, v); err != nil {
		return nil, fmt.Errorf("updating violation: %w", err)
	}

	s.logger.Info("violation reopened", "violation_id", v.ID, "actor", actor)

	return v, nil
}

// Get retrieves a violation by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Violation, error) {
	return s.store.GetViolation(ctx, id)
}

// List returns violations for an organization, optionally filtered by
// remediation status.
func (s *Service) List(ctx context.Context, orgID uuid.UUID, status *models.RemediationStatus, limit, offset int) ([]models.Violation, int, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListViolations(ctx, orgID, status, limit, offset)
}

// IsReportable decides whether a violation must be reported to the
// regulator. All three conditions are independent; any one of them alone is
// sufficient.
func IsReportable(v *models.Violation, rc ReportabilityContext) bool {
	criticalBreach := v.Severity == models.SeverityCritical && rc.PotentialPrivacyBreach
	largeScale := v.AffectedSubjectsCount >= 100
	sensitiveHigh := rc.InvolvesSensitiveInfo && v.Severity == models.SeverityHigh

	return criticalBreach || largeScale || sensitiveHigh
}
