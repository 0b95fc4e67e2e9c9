package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrJobNotFound = errors.New("scheduled job not found")

// orgScopedTypes lists the job types that act on a single organization and
// therefore must carry org_id in their config. Cleanup runs engine-wide.
var orgScopedTypes = map[JobType]bool{
	JobTypeAssessTool:       true,
	JobTypeAssessAllTools:   true,
	JobTypeComplianceReport: true,
	JobTypeDailyDigest:      true,
}

// validateJobConfig rejects jobs the handlers would refuse at execution
// time: unknown types, org-scoped types without an org_id, and tool
// assessments without a tool_id.
func validateJobConfig(job *Job) error {
	switch job.JobType {
	case JobTypeAssessTool, JobTypeAssessAllTools, JobTypeComplianceReport,
		JobTypeDailyDigest, JobTypeCleanupOld:
	default:
		return fmt.Errorf("unknown job type %q", job.JobType)
	}

	if orgScopedTypes[job.JobType] && job.Config["org_id"] == "" {
		return fmt.Errorf("job type %q requires org_id in config", job.JobType)
	}
	if job.JobType == JobTypeAssessTool && job.Config["tool_id"] == "" {
		return fmt.Errorf("job type %q requires tool_id in config", job.JobType)
	}
	return nil
}

// jobOrgID extracts the owning organization from a job's config. Empty for
// engine-wide jobs.
func jobOrgID(job *Job) string {
	return job.Config["org_id"]
}

// keepExecutions bounds per-job execution history.
const keepExecutions = 100

// PostgresStore persists scheduled jobs and their execution history. The
// owning org is denormalized into its own column so the API can list an
// organization's jobs without unpacking config JSON.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `id, org_id, name, description, schedule, job_type, config, enabled, last_run, next_run, created_at, updated_at`

type jobRow struct {
	ID          string     `db:"id"`
	OrgID       string     `db:"org_id"`
	Name        string     `db:"name"`
	Description string     `db:"description"`
	Schedule    string     `db:"schedule"`
	JobType     string     `db:"job_type"`
	Config      []byte     `db:"config"`
	Enabled     bool       `db:"enabled"`
	LastRun     *time.Time `db:"last_run"`
	NextRun     *time.Time `db:"next_run"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

func (r *jobRow) toJob() (*Job, error) {
	config := map[string]string{}
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &config); err != nil {
			return nil, fmt.Errorf("unpacking job config: %w", err)
		}
	}
	// The column is authoritative for org scoping; keep config in sync for
	// the handlers.
	if r.OrgID != "" {
		config["org_id"] = r.OrgID
	}

	return &Job{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Schedule:    r.Schedule,
		JobType:     JobType(r.JobType),
		Config:      config,
		Enabled:     r.Enabled,
		LastRun:     r.LastRun,
		NextRun:     r.NextRun,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func rowsToJobs(rows []jobRow) ([]*Job, error) {
	jobs := make([]*Job, len(rows))
	for i := range rows {
		job, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs[i] = job
	}
	return jobs, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return row.toJob()
}

// ListJobs returns every persisted job across all organizations. The
// scheduler engine loads from it at startup.
func (s *PostgresStore) ListJobs(ctx context.Context) ([]*Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+jobColumns+` FROM scheduled_jobs ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return rowsToJobs(rows)
}

// ListJobsForOrg returns the jobs owned by one organization, the view the
// API exposes.
func (s *PostgresStore) ListJobsForOrg(ctx context.Context, orgID string) ([]*Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+jobColumns+` FROM scheduled_jobs WHERE org_id = $1 ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, err
	}
	return rowsToJobs(rows)
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *Job) error {
	if err := validateJobConfig(job); err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("packing job config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, org_id, name, description, schedule, job_type, config, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, job.ID, jobOrgID(job), job.Name, job.Description, job.Schedule,
		string(job.JobType), configJSON, job.Enabled, job.CreatedAt, job.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *Job) error {
	if err := validateJobConfig(job); err != nil {
		return err
	}
	job.UpdatedAt = time.Now()

	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("packing job config: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET
			org_id = $2, name = $3, description = $4, schedule = $5, job_type = $6,
			config = $7, enabled = $8, next_run = $9, updated_at = $10
		WHERE id = $1
	`, job.ID, jobOrgID(job), job.Name, job.Description, job.Schedule,
		string(job.JobType), configJSON, job.Enabled, job.NextRun, job.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id string) error {
	// Execution history goes with the job.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM job_executions WHERE job_id = $1`, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) UpdateLastRun(ctx context.Context, id string, lastRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET last_run = $2, updated_at = NOW() WHERE id = $1
	`, id, lastRun)
	return err
}

func (s *PostgresStore) CreateExecution(ctx context.Context, exec *JobExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_executions (id, job_id, status, started_at, error, output)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, exec.ID, exec.JobID, string(exec.Status), exec.StartedAt, exec.Error, exec.Output)
	if err != nil {
		return err
	}

	// Cap history per job so frequent schedules cannot grow the table
	// unbounded.
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM job_executions WHERE job_id = $1 AND id NOT IN (
			SELECT id FROM job_executions WHERE job_id = $1
			ORDER BY started_at DESC LIMIT $2
		)
	`, exec.JobID, keepExecutions)
	return err
}

func (s *PostgresStore) UpdateExecution(ctx context.Context, exec *JobExecution) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_executions SET status = $2, ended_at = $3, error = $4, output = $5
		WHERE id = $1
	`, exec.ID, string(exec.Status), exec.EndedAt, exec.Error, exec.Output)
	return err
}

func (s *PostgresStore) GetJobExecutions(ctx context.Context, jobID string, limit int) ([]*JobExecution, error) {
	var execs []*JobExecution
	err := s.db.SelectContext(ctx, &execs, `
		SELECT id, job_id, status, started_at, ended_at, error, output
		FROM job_executions
		WHERE job_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, jobID, limit)
	return execs, err
}
