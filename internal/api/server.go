// Package api exposes the compliance engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/pcguest/compli/internal/assessment"
	"github.com/pcguest/compli/internal/auth"
	"github.com/pcguest/compli/internal/classifier"
	"github.com/pcguest/compli/internal/config"
	"github.com/pcguest/compli/internal/models"
	"github.com/pcguest/compli/internal/notifications"
	"github.com/pcguest/compli/internal/policy"
	"github.com/pcguest/compli/internal/queue"
	"github.com/pcguest/compli/internal/reports"
	"github.com/pcguest/compli/internal/risk"
	"github.com/pcguest/compli/internal/scheduler"
	"github.com/pcguest/compli/internal/store"
	"github.com/pcguest/compli/internal/violations"
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	store  *store.Store
	http   *http.Server
	logger *slog.Logger

	authService *auth.Service
	userStore   auth.UserStore

	classifier *classifier.Classifier
	scorer     *risk.Scorer
	evaluator  *policy.Evaluator
	assessor   *assessment.Assessor

	policyStore      policy.Store
	violationService *violations.Service

	scheduler      *scheduler.Scheduler
	schedulerStore *scheduler.PostgresStore

	jobQueue *queue.Queue

	reportGenerator *reports.Generator

	notificationService *notifications.Service
	notificationConfig  notifications.Config
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		store:  st,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.userStore = auth.NewPostgresUserStore(st.DB())
	s.authService = auth.NewService(auth.Config{
		JWTSecret:          cfg.Auth.JWTSecret,
		AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
	}, s.userStore)

	s.classifier = classifier.New()
	s.scorer = risk.NewScorerWithConfig(
		cfg.Risk.Weights,
		cfg.Risk.Thresholds,
		cfg.Risk.TrustedRegions,
		cfg.Risk.UntrustedVendors,
	)
	s.evaluator = policy.NewEvaluator()
	s.assessor = assessment.NewAssessor()

	s.policyStore = policy.NewPostgresStore(st.DB())
	s.violationService = violations.NewService(st, s.logger)

	s.schedulerStore = scheduler.NewPostgresStore(st.DB())
	s.scheduler = scheduler.NewScheduler(s.schedulerStore, s.logger)

	jobQueue, err := queue.New(queue.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		// Background job dispatch degrades to synchronous-only mode.
		s.logger.Warn("redis unavailable, job queue disabled", "error", err)
	} else {
		s.jobQueue = jobQueue
	}

	s.notificationConfig = notifications.Config{
		Slack: notifications.SlackConfig{
			WebhookURL:  cfg.Notifications.Slack.WebhookURL,
			Channel:     cfg.Notifications.Slack.Channel,
			Username:    "Compli Bot",
			IconEmoji:   ":shield:",
			Enabled:     cfg.Notifications.Slack.Enabled,
			MinSeverity: cfg.Notifications.MinSeverity,
		},
		Email: notifications.EmailConfig{
			SMTPHost:    cfg.Notifications.Email.SMTPHost,
			SMTPPort:    cfg.Notifications.Email.SMTPPort,
			Username:    cfg.Notifications.Email.Username,
			Password:    cfg.Notifications.Email.Password,
			From:        cfg.Notifications.Email.From,
			To:          cfg.Notifications.Email.To,
			Enabled:     cfg.Notifications.Email.Enabled,
			MinSeverity: cfg.Notifications.MinSeverity,
		},
	}
	s.notificationService = notifications.NewService(s.notificationConfig, s.logger)

	s.reportGenerator = reports.NewGenerator(&reportDataProvider{
		store:       st,
		policyStore: s.policyStore,
		assessor:    s.assessor,
	})

	s.registerJobHandlers()

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// registerJobHandlers binds the built-in scheduled job types. Scheduled runs
// prefer the background queue and fall back to inline execution when Redis
// is unavailable.
func (s *Server) registerJobHandlers() {
	handlers := &scheduler.DefaultHandlers{
		AssessToolFunc: func(ctx context.Context, orgID, toolID string) error {
			org, err := uuid.Parse(orgID)
			if err != nil {
				return fmt.Errorf("invalid org_id: %w", err)
			}
			tid, err := uuid.Parse(toolID)
			if err != nil {
				return fmt.Errorf("invalid tool_id: %w", err)
			}
			return s.scoreAndPersist(ctx, org, tid)
		},
		AssessAllFunc: func(ctx context.Context, orgID string) error {
			org, err := uuid.Parse(orgID)
			if err != nil {
				return fmt.Errorf("invalid org_id: %w", err)
			}
			if s.jobQueue != nil {
				return s.jobQueue.EnqueueJob(ctx, &queue.Job{
					ID:    uuid.New(),
					Type:  queue.JobTypeRiskAssessment,
					OrgID: org,
				})
			}
			tools, err := s.store.ListTools(ctx, org, nil, true)
			if err != nil {
				return err
			}
			for i := range tools {
				if err := s.scoreAndPersist(ctx, org, tools[i].ID); err != nil {
					return err
				}
			}
			return nil
		},
		ReportFunc: func(ctx context.Context, orgID, framework string) error {
			org, err := uuid.Parse(orgID)
			if err != nil {
				return fmt.Errorf("invalid org_id: %w", err)
			}
			if s.jobQueue != nil {
				return s.jobQueue.EnqueueJob(ctx, &queue.Job{
					ID:        uuid.New(),
					Type:      queue.JobTypeComplianceAssessment,
					OrgID:     org,
					Framework: framework,
				})
			}
			snap, err := buildSnapshot(ctx, s.store, s.policyStore, org)
			if err != nil {
				return err
			}
			frameworks := s.assessor.Frameworks()
			if framework != "" {
				frameworks = []string{framework}
			}
			for _, fw := range frameworks {
				report, err := s.assessor.Assess(fw, snap)
				if err != nil {
					return err
				}
				if err := s.notificationService.NotifyAssessment(ctx, report); err != nil {
					s.logger.Warn("assessment notification failed", "error", err)
				}
			}
			return nil
		},
		DigestFunc: func(ctx context.Context, orgID string) error {
			org, err := uuid.Parse(orgID)
			if err != nil {
				return fmt.Errorf("invalid org_id: %w", err)
			}
			if s.jobQueue == nil {
				return fmt.Errorf("digest jobs require the background queue")
			}
			return s.jobQueue.EnqueueJob(ctx, &queue.Job{
				ID:    uuid.New(),
				Type:  queue.JobTypeDailyDigest,
				OrgID: org,
			})
		},
		CleanupFunc: func(ctx context.Context, olderThan time.Duration) error {
			n, err := s.store.PurgeUsageEventsBefore(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			s.logger.Info("purged old usage events", "count", n)
			return nil
		},
	}
	handlers.Register(s.scheduler)
}

func (s *Server) scoreAndPersist(ctx context.Context, orgID, toolID uuid.UUID) error {
	tool, err := s.store.GetTool(ctx, toolID)
	if err != nil {
		return err
	}
	if tool == nil {
		return fmt.Errorf("tool %s not found", toolID)
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
		return err
	}
	return s.store.UpdateToolRiskLevel(ctx, tool.ID, result.RiskTier)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.Server.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)

			r.Post("/auth/logout", s.logout)
			r.Get("/auth/me", s.getCurrentUser)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/users", s.listUsers)
				r.Post("/users", s.createUser)
			})

			r.Route("/tools", func(r chi.Router) {
				r.Get("/", s.listTools)
				r.Post("/", s.createTool)
				r.Get("/{toolID}", s.getTool)
				r.Put("/{toolID}", s.updateTool)
				r.Delete("/{toolID}", s.deactivateTool)
				r.Post("/{toolID}/assess", s.assessToolRisk)
				r.Get("/{toolID}/assessments", s.listToolAssessments)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleComplianceOfficer))
					r.Post("/{toolID}/approval", s.updateToolApproval)
				})
			})

			r.Route("/usage", func(r chi.Router) {
				r.Post("/evaluate", s.evaluateUsage)
				r.Get("/events", s.listUsageEvents)
				r.Get("/events/{eventID}", s.getUsageEvent)
			})

			r.Route("/policies", func(r chi.Router) {
				r.Get("/", s.listPolicies)
				r.Get("/{policyID}", s.getPolicy)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleComplianceOfficer))
					r.Post("/", s.createPolicy)
					r.Put("/{policyID}", s.updatePolicy)
					r.Delete("/{policyID}", s.deactivatePolicy)
				})
			})

			r.Route("/violations", func(r chi.Router) {
				r.Get("/", s.listViolations)
				r.Get("/reportable", s.listReportableViolations)
				r.Get("/{violationID}", s.getViolation)
				r.Post("/{violationID}/transition", s.transitionViolation)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(auth.RoleAdmin))
					r.Post("/{violationID}/reopen", s.reopenViolation)
				})
			})

			r.Route("/assessments", func(r chi.Router) {
				r.Get("/frameworks", s.listFrameworks)
				r.Post("/run", s.runAssessment)
			})

			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/summary", s.getDashboardSummary)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/", s.listScheduledJobs)
				r.Post("/", s.createScheduledJob)
				r.Get("/queue/stats", s.getQueueStats)
				r.Get("/{jobID}", s.getScheduledJob)
				r.Put("/{jobID}", s.updateScheduledJob)
				r.Delete("/{jobID}", s.deleteScheduledJob)
				r.Post("/{jobID}/run", s.runScheduledJobNow)
				r.Get("/{jobID}/executions", s.getJobExecutions)
			})

			r.Route("/reports", func(r chi.Router) {
				r.Get("/types", s.getReportTypes)
				r.Post("/generate", s.generateReport)
				r.Get("/stream", s.streamCSVReport)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/settings", s.getNotificationSettings)
				r.Put("/settings", s.updateNotificationSettings)
			})
		})
	})
}

func (s *Server) Run(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		s.logger.Error("failed to start scheduler", "error", err)
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.scheduler.Stop()
		if s.jobQueue != nil {
			_ = s.jobQueue.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type reportDataProvider struct {
	store       *store.Store
	policyStore policy.Store
	assessor    *assessment.Assessor
}

func (p *reportDataProvider) GetViolations(ctx context.Context, filter reports.ViolationsFilter) ([]*reports.ReportViolation, error) {
	list, _, err := p.store.ListViolations(ctx, filter.OrgID, nil, 10000, 0)
	if err != nil {
		return nil, err
	}

	toolNames := make(map[uuid.UUID]string)

	result := make([]*reports.ReportViolation, 0, len(list))
	for _, v := range list {
		if filter.DateFrom != nil && v.CreatedAt.Before(*filter.DateFrom) {
			continue
		}
		if filter.DateTo != nil && v.CreatedAt.After(*filter.DateTo) {
			continue
		}
		if len(filter.Severities) > 0 && !containsString(filter.Severities, string(v.Severity)) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsString(filter.Statuses, string(v.RemediationStatus)) {
			continue
		}

		name, ok := toolNames[v.ToolID]
		if !ok {
			if tool, err := p.store.GetTool(ctx, v.ToolID); err == nil && tool != nil {
				name = tool.Name
			}
			toolNames[v.ToolID] = name
		}

		result = append(result, &reports.ReportViolation{
			ID:               v.ID.String(),
			ToolName:         name,
			ViolationType:    v.ViolationType,
			Description:      v.Description,
			Severity:         string(v.Severity),
			Status:           string(v.RemediationStatus),
			Reportable:       v.ReportableToRegulator,
			AffectedSubjects: v.AffectedSubjectsCount,
			CreatedAt:        v.CreatedAt,
		})
	}
	return result, nil
}

func (p *reportDataProvider) GetTools(ctx context.Context, filter reports.ToolsFilter) ([]*reports.ReportTool, error) {
	tools, err := p.store.ListTools(ctx, filter.OrgID, nil, filter.ActiveOnly)
	if err != nil {
		return nil, err
	}

	result := make([]*reports.ReportTool, len(tools))
	for i, t := range tools {
		result[i] = &reports.ReportTool{
			ID:             t.ID.String(),
			Name:           t.Name,
			Vendor:         t.Vendor,
			Category:       string(t.Category),
			Deployment:     string(t.Deployment),
			DataResidency:  t.DataResidency,
			ApprovalStatus: string(t.ApprovalStatus),
			RiskLevel:      string(t.RiskLevel),
			CreatedAt:      t.CreatedAt,
		}
	}
	return result, nil
}

func (p *reportDataProvider) GetComplianceReports(ctx context.Context, orgID uuid.UUID, frameworks []string) ([]*models.ComplianceReport, error) {
	snap, err := buildSnapshot(ctx, p.store, p.policyStore, orgID)
	if err != nil {
		return nil, err
	}

	if len(frameworks) == 0 {
		frameworks = p.assessor.Frameworks()
	}

	result := make([]*models.ComplianceReport, 0, len(frameworks))
	for _, fw := range frameworks {
		report, err := p.assessor.Assess(fw, snap)
		if err != nil {
			return nil, err
		}
		result = append(result, report)
	}
	return result, nil
}

func (p *reportDataProvider) GetStats(ctx context.Context, orgID uuid.UUID) (*reports.Stats, error) {
	stats := &reports.Stats{
		RiskTierCounts: make(map[string]int),
	}

	tools, err := p.store.ListTools(ctx, orgID, nil, false)
	if err != nil {
		return nil, err
	}
	stats.TotalTools = len(tools)
	for _, t := range tools {
		switch t.ApprovalStatus {
		case models.ApprovalApproved:
			stats.ApprovedTools++
		case models.ApprovalBanned:
			stats.BannedTools++
		}
		if t.RiskLevel != "" {
			stats.RiskTierCounts[string(t.RiskLevel)]++
		}
	}

	list, total, err := p.store.ListViolations(ctx, orgID, nil, 10000, 0)
	if err != nil {
		return nil, err
	}
	stats.TotalViolations = total
	for _, v := range list {
		switch v.Severity {
		case models.SeverityCritical:
			stats.CriticalViolations++
		case models.SeverityHigh:
			stats.HighViolations++
		case models.SeverityWarning:
			stats.WarningViolations++
		}
		if v.RemediationStatus.IsTerminal() {
			stats.ResolvedViolations++
		} else {
			stats.OpenViolations++
		}
		if v.ReportableToRegulator && v.RemediationStatus == models.RemediationPending {
			stats.PendingReportables++
		}
	}

	return stats, nil
}

// buildSnapshot assembles the organization state an assessment runs over.
func buildSnapshot(ctx context.Context, st *store.Store, ps policy.Store, orgID uuid.UUID) (*assessment.Snapshot, error) {
	tools, err := st.ListTools(ctx, orgID, nil, false)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}

	policyPtrs, err := ps.ListPolicies(ctx, orgID, false)
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	policies := make([]models.Policy, 0, len(policyPtrs))
	for _, p := range policyPtrs {
		policies = append(policies, *p)
	}

	violationList, _, err := st.ListViolations(ctx, orgID, nil, 10000, 0)
	if err != nil {
		return nil, fmt.Errorf("listing violations: %w", err)
	}

	since := time.Now().Add(-7 * 24 * time.Hour)
	events, err := st.ListUsageEvents(ctx, orgID, nil, &since, 10000, 0)
	if err != nil {
		return nil, fmt.Errorf("listing usage events: %w", err)
	}

	return &assessment.Snapshot{
		OrgID:        orgID,
		Tools:        tools,
		Policies:     policies,
		Violations:   violationList,
		RecentEvents: events,
		TakenAt:      time.Now(),
	}, nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *apiMeta) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
