// Package store provides Postgres persistence for tools, usage events,
// violations and risk assessments.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/pcguest/compli/internal/models"
	"github.com/pcguest/compli/internal/violations"
)

type Store struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Tools

func (s *Store) CreateTool(ctx context.Context, tool *models.Tool) error {
	query := `
		INSERT INTO tools (id, org_id, name, vendor, category, deployment, processes_personal_info,
			processes_sensitive_info, cross_border_disclosure, data_residency, vendor_compliance_verified,
			approval_status, risk_level, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	tool.ID = uuid.New()
	tool.CreatedAt = time.Now()
	tool.UpdatedAt = time.Now()
	tool.IsActive = true
	if tool.ApprovalStatus == "" {
		tool.ApprovalStatus = models.ApprovalPending
	}

	_, err := s.db.ExecContext(ctx, query,
		tool.ID,
		tool.OrgID,
		tool.Name,
		tool.Vendor,
		tool.Category,
		tool.Deployment,
		tool.ProcessesPersonalInfo,
		tool.ProcessesSensitiveInfo,
		tool.CrossBorderDisclosure,
		tool.DataResidency,
		tool.VendorComplianceVerified,
		tool.ApprovalStatus,
		tool.RiskLevel,
		tool.IsActive,
		tool.CreatedAt,
		tool.UpdatedAt,
	)
	return err
}

func (s *Store) GetTool(ctx context.Context, id uuid.UUID) (*models.Tool, error) {
	var tool models.Tool
	query := `SELECT * FROM tools WHERE id = $1`
	err := s.db.GetContext(ctx, &tool, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &tool, err
}

func (s *Store) ListTools(ctx context.Context, orgID uuid.UUID, approvalStatus *models.ApprovalStatus, activeOnly bool) ([]models.Tool, error) {
	query := `SELECT * FROM tools WHERE org_id = $1`
	args := []interface{}{orgID}
	argIdx := 2

	if approvalStatus != nil {
		query += fmt.Sprintf(" AND approval_status = $%d", argIdx)
		args = append(args, *approvalStatus)
		argIdx++
	}
	if activeOnly {
		query += " AND is_active = true"
	}

	query += " ORDER BY created_at DESC"

	var tools []models.Tool
	err := s.db.SelectContext(ctx, &tools, query, args...)
	return tools, err
}

func (s *Store) UpdateTool(ctx context.Context, tool *models.Tool) error {
	tool.UpdatedAt = time.Now()
	query := `
		UPDATE tools SET
			name = $2, vendor = $3, category = $4, deployment = $5, processes_personal_info = $6,
			processes_sensitive_info = $7, cross_border_disclosure = $8, data_residency = $9,
			vendor_compliance_verified = $10, approval_status = $11, risk_level = $12, updated_at = $13
		WHERE id = $1
	`
	_, err := s.db.ExecContext(ctx, query,
		tool.ID, tool.Name, tool.Vendor, tool.Category, tool.Deployment,
		tool.ProcessesPersonalInfo, tool.ProcessesSensitiveInfo, tool.CrossBorderDisclosure,
		tool.DataResidency, tool.VendorComplianceVerified, tool.ApprovalStatus,
		tool.RiskLevel, tool.UpdatedAt,
	)
	return err
}

func (s *Store) UpdateToolApproval(ctx context.Context, id uuid.UUID, status models.ApprovalStatus) error {
	query := `UPDATE tools SET approval_status = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, status, time.Now(), id)
	return err
}

func (s *Store) UpdateToolRiskLevel(ctx context.Context, id uuid.UUID, tier models.RiskTier) error {
	query := `UPDATE tools SET risk_level = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, tier, time.Now(), id)
	return err
}

// DeactivateTool soft-deletes a tool. Usage history and violations keep
// their references.
func (s *Store) DeactivateTool(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE tools SET is_active = false, updated_at = $1 WHERE id = $2`
	_, err := s.db.ExecContext(ctx, query, time.Now(), id)
	return err
}

// Usage events

func (s *Store) CreateUsageEvent(ctx context.Context, event *models.UsageEvent) error {
	query := `
		INSERT INTO usage_events (id, org_id, tool_id, user_id, user_role, department, classification,
			contains_personal_info, contains_sensitive_info, cross_border_disclosure, token_count,
			estimated_cost_cents, content_digest, classifier_confidence, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	event.ID = uuid.New()
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.OrgID,
		event.ToolID,
		event.UserID,
		event.UserRole,
		event.Department,
		event.Classification,
		event.ContainsPersonalInfo,
		event.ContainsSensitiveInfo,
		event.CrossBorderDisclosure,
		event.TokenCount,
		event.EstimatedCostCents,
		event.ContentDigest,
		event.ClassifierConfidence,
		event.RecordedAt,
	)
	return err
}

func (s *Store) GetUsageEvent(ctx context.Context, id uuid.UUID) (*models.UsageEvent, error) {
	var event models.UsageEvent
	query := `SELECT * FROM usage_events WHERE id = $1`
	err := s.db.GetContext(ctx, &event, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &event, err
}

func (s *Store) ListUsageEvents(ctx context.Context, orgID uuid.UUID, toolID *uuid.UUID, since *time.Time, limit, offset int) ([]models.UsageEvent, error) {
	query := `SELECT * FROM usage_events WHERE org_id = $1`
	args := []interface{}{orgID}
	argIdx := 2

	if toolID != nil {
		query += fmt.Sprintf(" AND tool_id = $%d", argIdx)
		args = append(args, *toolID)
		argIdx++
	}
	if since != nil {
		query += fmt.Sprintf(" AND recorded_at >= $%d", argIdx)
		args = append(args, *since)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY recorded_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, offset)

	var events []models.UsageEvent
	err := s.db.SelectContext(ctx, &events, query, args...)
	return events, err
}

// PurgeUsageEventsBefore deletes usage events recorded before the cutoff.
// Retention applies to raw usage only; violations are kept forever.
func (s *Store) PurgeUsageEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_events WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging usage events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Violations. No delete method exists; the table is append-and-update only.

func (s *Store) CreateViolation(ctx context.Context, v *models.Violation) error {
	query := `
		INSERT INTO violations (id, org_id, policy_id, tool_id, event_id, user_id, violation_type,
			description, severity, enforcement_level, remediation_status, remediation_notes,
			reportable_to_regulator, affected_subjects_count, last_transition_by, last_transition_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		v.ID,
		v.OrgID,
		v.PolicyID,
		v.ToolID,
		v.EventID,
		v.UserID,
		v.ViolationType,
		v.Description,
		v.Severity,
		v.EnforcementLevel,
		v.RemediationStatus,
		v.RemediationNotes,
		v.ReportableToRegulator,
		v.AffectedSubjectsCount,
		v.LastTransitionBy,
		v.LastTransitionAt,
		v.CreatedAt,
	)
	return err
}

func (s *Store) GetViolation(ctx context.Context, id uuid.UUID) (*models.Violation, error) {
	var v models.Violation
	query := `SELECT * FROM violations WHERE id = $1`
	err := s.db.GetContext(ctx, &v, query, id)
	if err == sql.ErrNoRows {
		return nil, violations.ErrViolationNotFound
	}
	return &v, err
}

func (s *Store) UpdateViolation(ctx context.Context, v *models.Violation) error {
	query := `
		UPDATE violations SET
			remediation_status = $2, remediation_notes = $3, reportable_to_regulator = $4,
			affected_subjects_count = $5, last_transition_by = $6, last_transition_at = $7
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		v.ID, v.RemediationStatus, v.RemediationNotes, v.ReportableToRegulator,
		v.AffectedSubjectsCount, v.LastTransitionBy, v.LastTransitionAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return violations.ErrViolationNotFound
	}
	return nil
}

func (s *Store) ListViolations(ctx context.Context, orgID uuid.UUID, status *models.RemediationStatus, limit, offset int) ([]models.Violation, int, error) {
	countQuery := `SELECT COUNT(*) FROM violations WHERE org_id = $1`
	listQuery := `SELECT * FROM violations WHERE org_id = $1`
	args := []interface{}{orgID}
	argIdx := 2

	if status != nil {
		countQuery += fmt.Sprintf(" AND remediation_status = $%d", argIdx)
		listQuery += fmt.Sprintf(" AND remediation_status = $%d", argIdx)
		args = append(args, *status)
		argIdx++
	}

	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	listQuery += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, offset)

	var out []models.Violation
	if err := s.db.SelectContext(ctx, &out, listQuery, args...); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) ListReportableViolations(ctx context.Context, orgID uuid.UUID) ([]models.Violation, error) {
	query := `
		SELECT * FROM violations
		WHERE org_id = $1 AND reportable_to_regulator = true
		ORDER BY created_at DESC
	`
	var out []models.Violation
	err := s.db.SelectContext(ctx, &out, query, orgID)
	return out, err
}

// Risk assessments. Append-only; there is no update or delete.

func (s *Store) CreateRiskAssessment(ctx context.Context, ra *models.RiskAssessment) error {
	query := `
		INSERT INTO risk_assessments (id, org_id, tool_id, overall_risk, risk_tier, factors, recommendations, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	ra.ID = uuid.New()
	if ra.AssessedAt.IsZero() {
		ra.AssessedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		ra.ID,
		ra.OrgID,
		ra.ToolID,
		ra.OverallRisk,
		ra.RiskTier,
		ra.Factors,
		ra.Recommendations,
		ra.AssessedAt,
	)
	return err
}

func (s *Store) GetLatestRiskAssessment(ctx context.Context, toolID uuid.UUID) (*models.RiskAssessment, error) {
	var ra models.RiskAssessment
	query := `
		SELECT * FROM risk_assessments
		WHERE tool_id = $1 ORDER BY assessed_at DESC LIMIT 1
	`
	err := s.db.GetContext(ctx, &ra, query, toolID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &ra, err
}

func (s *Store) ListRiskAssessments(ctx context.Context, toolID uuid.UUID, limit int) ([]models.RiskAssessment, error) {
	query := `
		SELECT * FROM risk_assessments
		WHERE tool_id = $1 ORDER BY assessed_at DESC LIMIT $2
	`
	var out []models.RiskAssessment
	err := s.db.SelectContext(ctx, &out, query, toolID, limit)
	return out, err
}
