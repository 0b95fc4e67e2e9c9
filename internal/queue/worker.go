package queue

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pcguest/compli/internal/assessment"
	"github.com/pcguest/compli/internal/config"
	"github.com/pcguest/compli/internal/models"
	"github.com/pcguest/compli/internal/notifications"
	"github.com/pcguest/compli/internal/policy"
	"github.com/pcguest/compli/internal/risk"
	"github.com/pcguest/compli/internal/store"
)

type Worker struct {
	id       string
	queue    *Queue
	store    *store.Store
	policies policy.Store
	config   *config.Config
	scorer   *risk.Scorer
	assessor *assessment.Assessor
	notifier *notifications.Service

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running bool
	mu      sync.Mutex
}

type WorkerConfig struct {
	Queue    *Queue
	Store    *store.Store
	Policies policy.Store
	Config   *config.Config
	Notifier *notifications.Service
}

func NewWorker(cfg WorkerConfig) *Worker {
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	return &Worker{
		id:       workerID,
		queue:    cfg.Queue,
		store:    cfg.Store,
		policies: cfg.Policies,
		config:   cfg.Config,
		scorer: risk.NewScorerWithConfig(
			cfg.Config.Risk.Weights,
			cfg.Config.Risk.Thresholds,
			cfg.Config.Risk.TrustedRegions,
			cfg.Config.Risk.UntrustedVendors,
		),
		assessor: assessment.NewAssessor(),
		notifier: cfg.Notifier,
	}
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	log.Printf("[%s] Worker starting", w.id)

	w.wg.Add(1)
	go w.heartbeatLoop()

	w.wg.Add(1)
	go w.processLoop()

	w.wg.Add(1)
	go w.janitorLoop()

	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	log.Printf("[%s] Worker stopping", w.id)
	w.cancel()
	w.wg.Wait()
	log.Printf("[%s] Worker stopped", w.id)
}

func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.queue.WorkerHeartbeat(w.ctx, w.id)
		}
	}
}

func (w *Worker) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			job, err := w.queue.DequeueJob(w.ctx, w.id)
			if err != nil {
				log.Printf("[%s] Error dequeuing job: %v", w.id, err)
				time.Sleep(5 * time.Second)
				continue
			}

			if job == nil {
				time.Sleep(1 * time.Second)
				continue
			}

			log.Printf("[%s] Processing job %s (type: %s, org: %s)",
				w.id, job.ID, job.Type, job.OrgID)

			if err := w.processJob(job); err != nil {
				log.Printf("[%s] Job %s failed: %v", w.id, job.ID, err)
				w.queue.RequeueJob(w.ctx, job, err.Error())
			} else {
				log.Printf("[%s] Job %s completed successfully", w.id, job.ID)
				w.queue.CompleteJob(w.ctx, job, true)
			}
		}
	}
}

func (w *Worker) processJob(job *Job) error {
	switch job.Type {
	case JobTypeRiskAssessment:
		return w.runRiskAssessment(job)
	case JobTypeComplianceAssessment:
		return w.runComplianceAssessment(job)
	case JobTypeDailyDigest:
		return w.runDailyDigest(job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// runRiskAssessment re-scores a single tool, or every active tool in the
// organization when the job carries no tool ID.
func (w *Worker) runRiskAssessment(job *Job) error {
	var tools []models.Tool

	if job.ToolID != nil {
		tool, err := w.store.GetTool(w.ctx, *job.ToolID)
		if err != nil {
			return fmt.Errorf("getting tool: %w", err)
		}
		if tool == nil {
			return fmt.Errorf("tool not found: %s", job.ToolID)
		}
		tools = []models.Tool{*tool}
	} else {
		var err error
		tools, err = w.store.ListTools(w.ctx, job.OrgID, nil, true)
		if err != nil {
			return fmt.Errorf("listing tools: %w", err)
		}
	}

	scored := 0
	for i := range tools {
		tool := &tools[i]
		result := w.scorer.Score(tool)

		ra := &models.RiskAssessment{
			OrgID:           tool.OrgID,
			ToolID:          tool.ID,
			OverallRisk:     result.OverallRisk,
			RiskTier:        result.RiskTier,
			Factors:         models.JSONB{"factors": result.Factors},
			Recommendations: models.StringArray(result.Recommendations),
		}
		if err := w.store.CreateRiskAssessment(w.ctx, ra); err != nil {
			return fmt.Errorf("storing assessment for tool %s: %w", tool.ID, err)
		}
		if err := w.store.UpdateToolRiskLevel(w.ctx, tool.ID, result.RiskTier); err != nil {
			return fmt.Errorf("updating risk level for tool %s: %w", tool.ID, err)
		}

		scored++
		w.queue.UpdateProgress(w.ctx, &JobProgress{
			JobID:       job.ID,
			Status:      JobStatusRunning,
			ToolsScored: scored,
			WorkerID:    w.id,
		})
	}

	return nil
}

// runComplianceAssessment builds an organization snapshot and runs the
// framework checklist over it. An empty framework runs every supported one.
func (w *Worker) runComplianceAssessment(job *Job) error {
	snap, err := w.buildSnapshot(job.OrgID)
	if err != nil {
		return err
	}

	frameworks := []string{job.Framework}
	if job.Framework == "" {
		frameworks = w.assessor.Frameworks()
	}

	checksRun := 0
	nonCompliant := 0
	for _, fw := range frameworks {
		report, err := w.assessor.Assess(fw, snap)
		if err != nil {
			return fmt.Errorf("assessing %s: %w", fw, err)
		}

		checksRun += len(report.Findings)
		for _, f := range report.Findings {
			if !f.Compliant {
				nonCompliant++
			}
		}

		if w.notifier != nil {
			if err := w.notifier.NotifyAssessment(w.ctx, report); err != nil {
				log.Printf("[%s] Error notifying assessment: %v", w.id, err)
			}
		}
	}

	w.queue.UpdateProgress(w.ctx, &JobProgress{
		JobID:         job.ID,
		Status:        JobStatusRunning,
		ChecksRun:     checksRun,
		FindingsFound: nonCompliant,
		WorkerID:      w.id,
	})

	return nil
}

// runDailyDigest summarizes the last 24 hours of compliance activity for the
// organization and sends it through the notifier.
func (w *Worker) runDailyDigest(job *Job) error {
	if w.notifier == nil {
		return nil
	}

	since := time.Now().Add(-24 * time.Hour)

	violations, _, err := w.store.ListViolations(w.ctx, job.OrgID, nil, snapshotPageSize, 0)
	if err != nil {
		return fmt.Errorf("listing violations: %w", err)
	}

	events, err := w.store.ListUsageEvents(w.ctx, job.OrgID, nil, &since, snapshotPageSize, 0)
	if err != nil {
		return fmt.Errorf("listing usage events: %w", err)
	}

	stats := notifications.DigestStats{
		Period:              "last 24 hours",
		UsageEventsRecorded: len(events),
	}

	for _, v := range violations {
		if v.CreatedAt.After(since) {
			stats.NewViolations++
			if v.Severity == models.SeverityCritical {
				stats.CriticalViolations++
			}
			if v.EnforcementLevel == models.EnforcementBlock {
				stats.BlockedEvents++
			}
		}
		if v.LastTransitionAt != nil && v.LastTransitionAt.After(since) &&
			v.RemediationStatus.IsTerminal() {
			stats.ResolvedViolations++
		}
		if v.ReportableToRegulator && v.RemediationStatus == models.RemediationPending {
			stats.PendingReportables++
		}
	}

	return w.notifier.NotifyDailyDigest(w.ctx, stats)
}

// snapshotPageSize bounds how much organization state a single job loads.
const snapshotPageSize = 1000

func (w *Worker) buildSnapshot(orgID uuid.UUID) (*assessment.Snapshot, error) {
	tools, err := w.store.ListTools(w.ctx, orgID, nil, false)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}

	policyPtrs, err := w.policies.ListPolicies(w.ctx, orgID, false)
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	policies := make([]models.Policy, 0, len(policyPtrs))
	for _, p := range policyPtrs {
		policies = append(policies, *p)
	}

	violations, _, err := w.store.ListViolations(w.ctx, orgID, nil, snapshotPageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("listing violations: %w", err)
	}

	since := time.Now().Add(-7 * 24 * time.Hour)
	events, err := w.store.ListUsageEvents(w.ctx, orgID, nil, &since, snapshotPageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("listing usage events: %w", err)
	}

	return &assessment.Snapshot{
		OrgID:        orgID,
		Tools:        tools,
		Policies:     policies,
		Violations:   violations,
		RecentEvents: events,
		TakenAt:      time.Now(),
	}, nil
}

func (w *Worker) janitorLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			cleaned, err := w.queue.CleanupStaleJobs(w.ctx, 30*time.Minute)
			if err != nil {
				log.Printf("[%s] Error cleaning stale jobs: %v", w.id, err)
			} else if cleaned > 0 {
				log.Printf("[%s] Cleaned up %d stale jobs", w.id, cleaned)
			}
		}
	}
}
