package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type memoryStore struct {
	mu         sync.Mutex
	jobs       map[string]*Job
	executions map[string][]*JobExecution
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		jobs:       make(map[string]*Job),
		executions: make(map[string][]*JobExecution),
	}
}

func (m *memoryStore) GetJob(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	copied := *job
	return &copied, nil
}

func (m *memoryStore) ListJobs(ctx context.Context) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		copied := *job
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memoryStore) CreateJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", len(m.jobs)+1)
	}
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memoryStore) UpdateJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memoryStore) DeleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memoryStore) UpdateLastRun(ctx context.Context, id string, lastRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.LastRun = &lastRun
	}
	return nil
}

func (m *memoryStore) CreateExecution(ctx context.Context, exec *JobExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *exec
	m.executions[exec.JobID] = append(m.executions[exec.JobID], &copied)
	return nil
}

func (m *memoryStore) UpdateExecution(ctx context.Context, exec *JobExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.executions[exec.JobID] {
		if e.ID == exec.ID {
			copied := *exec
			m.executions[exec.JobID][i] = &copied
		}
	}
	return nil
}

func (m *memoryStore) GetJobExecutions(ctx context.Context, jobID string, limit int) ([]*JobExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	execs := m.executions[jobID]
	if len(execs) > limit {
		execs = execs[:limit]
	}
	return execs, nil
}

func TestValidateJobConfig(t *testing.T) {
	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{
			name:    "unknown type",
			job:     Job{JobType: "reindex"},
			wantErr: true,
		},
		{
			name:    "assess all without org",
			job:     Job{JobType: JobTypeAssessAllTools},
			wantErr: true,
		},
		{
			name:    "assess all with org",
			job:     Job{JobType: JobTypeAssessAllTools, Config: map[string]string{"org_id": "org-1"}},
			wantErr: false,
		},
		{
			name:    "assess tool without tool id",
			job:     Job{JobType: JobTypeAssessTool, Config: map[string]string{"org_id": "org-1"}},
			wantErr: true,
		},
		{
			name:    "assess tool fully configured",
			job:     Job{JobType: JobTypeAssessTool, Config: map[string]string{"org_id": "org-1", "tool_id": "tool-1"}},
			wantErr: false,
		},
		{
			name:    "digest without org",
			job:     Job{JobType: JobTypeDailyDigest},
			wantErr: true,
		},
		{
			name:    "cleanup is engine-wide",
			job:     Job{JobType: JobTypeCleanupOld},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateJobConfig(&tt.job)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateJobConfig() error = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}

func TestJobOrgID(t *testing.T) {
	job := &Job{JobType: JobTypeComplianceReport, Config: map[string]string{"org_id": "org-7"}}
	if got := jobOrgID(job); got != "org-7" {
		t.Errorf("jobOrgID = %q, want org-7", got)
	}
	if got := jobOrgID(&Job{JobType: JobTypeCleanupOld}); got != "" {
		t.Errorf("jobOrgID for engine-wide job = %q, want empty", got)
	}
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	st := newMemoryStore()
	s := NewScheduler(st, nil)

	err := s.AddJob(context.Background(), &Job{
		Name:     "bad",
		Schedule: "not a cron expression",
		JobType:  JobTypeAssessAllTools,
		Enabled:  true,
	})
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestAddDisabledJobSkipsScheduling(t *testing.T) {
	st := newMemoryStore()
	s := NewScheduler(st, nil)

	job := &Job{
		Name:     "disabled",
		Schedule: "garbage",
		JobType:  JobTypeDailyDigest,
		Enabled:  false,
	}
	if err := s.AddJob(context.Background(), job); err != nil {
		t.Fatalf("disabled job should not be parsed: %v", err)
	}
	if runs := s.GetNextRuns(job.ID, 3); runs != nil {
		t.Fatalf("disabled job should have no scheduled runs, got %v", runs)
	}
}

func TestExecuteJobRecordsOutcome(t *testing.T) {
	tests := []struct {
		name       string
		handlerErr error
		want       ExecutionStatus
	}{
		{"success", nil, StatusCompleted},
		{"failure", fmt.Errorf("boom"), StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemoryStore()
			s := NewScheduler(st, nil)

			called := false
			s.RegisterHandler(JobTypeAssessAllTools, func(ctx context.Context, job *Job) error {
				called = true
				return tt.handlerErr
			})

			job := &Job{
				ID:      "job-1",
				Name:    "nightly",
				JobType: JobTypeAssessAllTools,
				Config:  map[string]string{"org_id": "org-1"},
			}
			if err := st.CreateJob(context.Background(), job); err != nil {
				t.Fatal(err)
			}

			s.executeJob(job)

			if !called {
				t.Fatal("handler was not invoked")
			}
			execs, _ := st.GetJobExecutions(context.Background(), job.ID, 10)
			if len(execs) != 1 {
				t.Fatalf("expected 1 execution record, got %d", len(execs))
			}
			if execs[0].Status != tt.want {
				t.Errorf("execution status = %s, want %s", execs[0].Status, tt.want)
			}
			if execs[0].EndedAt == nil {
				t.Error("execution end time not stamped")
			}
			if tt.handlerErr != nil && execs[0].Error == "" {
				t.Error("failed execution should carry the error message")
			}

			stored, _ := st.GetJob(context.Background(), job.ID)
			if tt.handlerErr == nil && stored.LastRun == nil {
				t.Error("last run not stamped after execution")
			}
		})
	}
}

func TestExecuteJobWithoutHandlerFails(t *testing.T) {
	st := newMemoryStore()
	s := NewScheduler(st, nil)

	job := &Job{ID: "job-2", Name: "orphan", JobType: JobTypeComplianceReport}
	_ = st.CreateJob(context.Background(), job)

	s.executeJob(job)

	execs, _ := st.GetJobExecutions(context.Background(), job.ID, 10)
	if len(execs) != 1 || execs[0].Status != StatusFailed {
		t.Fatalf("unhandled job type should record a failed execution, got %+v", execs)
	}
}

func TestDefaultHandlersRequireConfig(t *testing.T) {
	st := newMemoryStore()
	s := NewScheduler(st, nil)

	var gotOrg, gotTool string
	handlers := &DefaultHandlers{
		AssessToolFunc: func(ctx context.Context, orgID, toolID string) error {
			gotOrg, gotTool = orgID, toolID
			return nil
		},
		AssessAllFunc: func(ctx context.Context, orgID string) error {
			gotOrg = orgID
			return nil
		},
	}
	handlers.Register(s)

	handler := s.handlers[JobTypeAssessTool]
	if handler == nil {
		t.Fatal("assess_tool handler not registered")
	}

	err := handler(context.Background(), &Job{Config: map[string]string{"org_id": "org-1"}})
	if err == nil {
		t.Error("missing tool_id should be rejected")
	}

	err = handler(context.Background(), &Job{Config: map[string]string{"org_id": "org-1", "tool_id": "tool-9"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotOrg != "org-1" || gotTool != "tool-9" {
		t.Errorf("handler got org=%s tool=%s", gotOrg, gotTool)
	}

	allHandler := s.handlers[JobTypeAssessAllTools]
	if err := allHandler(context.Background(), &Job{Config: map[string]string{}}); err == nil {
		t.Error("missing org_id should be rejected")
	}
}
