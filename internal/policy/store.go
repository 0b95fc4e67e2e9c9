package policy

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pcguest/compli/internal/models"
)

var ErrPolicyNotFound = errors.New("policy not found")

// Store defines policy persistence as seen by the evaluator's callers.
type Store interface {
	GetPolicy(ctx context.Context, id uuid.UUID) (*models.Policy, error)
	ListPolicies(ctx context.Context, orgID uuid.UUID, activeOnly bool) ([]*models.Policy, error)
	CreatePolicy(ctx context.Context, p *models.Policy) error
	UpdatePolicy(ctx context.Context, p *models.Policy) error
	DeactivatePolicy(ctx context.Context, id uuid.UUID) error
}

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const policyColumns = `id, org_id, name, description, rules, enforcement_level, priority, is_active,
	applicable_roles, applicable_departments, applicable_tools, created_by, created_at, updated_at`

func (s *PostgresStore) GetPolicy(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	var p models.Policy
	err := s.db.GetContext(ctx, &p, `
		SELECT `+policyColumns+` FROM policies WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListPolicies(ctx context.Context, orgID uuid.UUID, activeOnly bool) ([]*models.Policy, error) {
	var policies []*models.Policy
	var err error

	if activeOnly {
		err = s.db.SelectContext(ctx, &policies, `
			SELECT `+policyColumns+` FROM policies
			WHERE org_id = $1 AND is_active = true ORDER BY priority ASC, created_at DESC
		`, orgID)
	} else {
		err = s.db.SelectContext(ctx, &policies, `
			SELECT `+policyColumns+` FROM policies
			WHERE org_id = $1 ORDER BY priority ASC, created_at DESC
		`, orgID)
	}
	if err != nil {
		return nil, err
	}
	return policies, nil
}

func (s *PostgresStore) CreatePolicy(ctx context.Context, p *models.Policy) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policies (id, org_id, name, description, rules, enforcement_level, priority, is_active,
			applicable_roles, applicable_departments, applicable_tools, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, p.ID, p.OrgID, p.Name, p.Description, p.Rules, string(p.EnforcementLevel), p.Priority, p.IsActive,
		p.ApplicableRoles, p.ApplicableDepts, p.ApplicableTools, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdatePolicy(ctx context.Context, p *models.Policy) error {
	p.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE policies SET
			name = $2, description = $3, rules = $4, enforcement_level = $5, priority = $6,
			is_active = $7, applicable_roles = $8, applicable_departments = $9,
			applicable_tools = $10, updated_at = $11
		WHERE id = $1
	`, p.ID, p.Name, p.Description, p.Rules, string(p.EnforcementLevel), p.Priority,
		p.IsActive, p.ApplicableRoles, p.ApplicableDepts, p.ApplicableTools, p.UpdatedAt)
	return err
}

// DeactivatePolicy retires a policy without deleting it. Evaluation history
// keeps referential integrity with past violations.
func (s *PostgresStore) DeactivatePolicy(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE policies SET is_active = false, updated_at = $2 WHERE id = $1
	`, id, time.Now())
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPolicyNotFound
	}
	return nil
}
