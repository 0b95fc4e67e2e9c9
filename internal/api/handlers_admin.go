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
	"github.com/pcguest/compli/internal/models"
	"github.com/pcguest/compli/internal/reports"
	"github.com/pcguest/compli/internal/scheduler"
)

// Auth

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "missing_field", "email and password are required")
		return
	}

	tokens, err := s.authService.Login(ctx, req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}
	if req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "missing_field", "refresh_token is required")
		return
	}

	tokens, err := s.authService.RefreshTokens(ctx, req.RefreshToken)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired refresh token")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, ok := auth.GetUserFromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.RefreshToken != "" {
		if err := s.authService.Logout(ctx, claims.UserID, req.RefreshToken); err != nil {
			s.logger.Warn("logout failed", "error", err)
		}
	} else {
		if err := s.authService.LogoutAll(ctx, claims.UserID); err != nil {
			s.logger.Warn("logout-all failed", "error", err)
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) getCurrentUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, ok := auth.GetUserFromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	user, err := s.userStore.GetUserByID(ctx, claims.UserID)
	if err != nil {
		respondError(w, http.StatusNotFound, "not_found", "User not found")
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, ok := auth.GetUserFromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	users, err := s.userStore.ListUsers(ctx, claims.OrgID)
	if err != nil {
		s.logger.Error("failed to list users", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list users")
		return
	}

	respondJSONWithMeta(w, http.StatusOK, users, &apiMeta{Total: len(users)})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, ok := auth.GetUserFromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	var req struct {
		Email    string    `json:"email"`
		Name     string    `json:"name"`
		Password string    `json:"password"`
		Role     auth.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "missing_field", "email and password are required")
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleViewer
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to hash password")
		return
	}

	user := &auth.User{
		ID:        uuid.New().String(),
		OrgID:     claims.OrgID,
		Email:     req.Email,
		Name:      req.Name,
		Password:  hash,
		Role:      req.Role,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := s.userStore.CreateUser(ctx, user); err != nil {
		s.logger.Error("failed to create user", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to create user")
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

// Scheduled jobs

func (s *Server) listScheduledJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, ok := auth.GetUserFromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	jobs, err := s.schedulerStore.ListJobsForOrg(ctx, claims.OrgID)
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to list jobs")
		return
	}

	respondJSONWithMeta(w, http.StatusOK, jobs, &apiMeta{Total: len(jobs)})
}

func (s *Server) createScheduledJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, ok := auth.GetUserFromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	var job scheduler.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}
	if job.Name == "" || job.Schedule == "" || job.JobType == "" {
		respondError(w, http.StatusBadRequest, "missing_field", "name, schedule and job_type are required")
		return
	}

	// Jobs run under the caller's organization regardless of the body.
	if job.Config == nil {
		job.Config = map[string]string{}
	}
	job.Config["org_id"] = claims.OrgID

	if err := s.scheduler.AddJob(ctx, &job); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_param", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, job)
}

func (s *Server) getScheduledJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")

	job, err := s.schedulerStore.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Job not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to get job")
		return
	}

	nextRuns := s.scheduler.GetNextRuns(jobID, 5)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job":       job,
		"next_runs": nextRuns,
	})
}

func (s *Server) updateScheduledJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")

	existing, err := s.schedulerStore.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Job not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to get job")
		return
	}

	var job scheduler.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}
	job.ID = jobID
	job.CreatedAt = existing.CreatedAt
	// Ownership never moves between organizations on update.
	if job.Config == nil {
		job.Config = map[string]string{}
	}
	job.Config["org_id"] = existing.Config["org_id"]

	if err := s.scheduler.UpdateJob(ctx, &job); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_param", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, job)
}

func (s *Server) deleteScheduledJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")

	if err := s.scheduler.DeleteJob(ctx, jobID); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to delete job")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) runScheduledJobNow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")

	if err := s.scheduler.RunJobNow(ctx, jobID); err != nil {
		respondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) getJobExecutions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	executions, err := s.schedulerStore.GetJobExecutions(ctx, jobID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to get executions")
		return
	}

	respondJSONWithMeta(w, http.StatusOK, executions, &apiMeta{Total: len(executions), Limit: limit})
}

func (s *Server) getQueueStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.jobQueue == nil {
		respondError(w, http.StatusServiceUnavailable, "queue_unavailable", "Background job queue is not available")
		return
	}

	stats, err := s.jobQueue.GetQueueStats(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to get queue stats")
		return
	}

	workers, err := s.jobQueue.GetActiveWorkers(ctx, 30*time.Second)
	if err != nil {
		s.logger.Warn("failed to list active workers", "error", err)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"queues":  stats,
		"workers": workers,
	})
}

// Reports

func (s *Server) getReportTypes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, []map[string]interface{}{
		{
			"type":        reports.ReportTypeViolations,
			"name":        "Violations Report",
			"description": "Policy violations with severity, status and regulator reportability",
			"formats":     []reports.ReportFormat{reports.FormatCSV, reports.FormatPDF},
		},
		{
			"type":        reports.ReportTypeTools,
			"name":        "Tool Inventory Report",
			"description": "Registered AI tools with approval status and risk tier",
			"formats":     []reports.ReportFormat{reports.FormatCSV, reports.FormatPDF},
		},
		{
			"type":        reports.ReportTypeCompliance,
			"name":        "Compliance Assessment Report",
			"description": "Per-framework compliance scores, findings and recommendations",
			"formats":     []reports.ReportFormat{reports.FormatCSV, reports.FormatPDF},
		},
		{
			"type":        reports.ReportTypeExecutive,
			"name":        "Executive Summary",
			"description": "High-level posture overview for leadership",
			"formats":     []reports.ReportFormat{reports.FormatCSV, reports.FormatPDF},
		},
	})
}

func (s *Server) generateReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, _, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Missing organization context")
		return
	}

	var req struct {
		Type       reports.ReportType   `json:"type"`
		Format     reports.ReportFormat `json:"format"`
		Title      string               `json:"title"`
		Frameworks []string             `json:"frameworks"`
		Severities []string             `json:"severities"`
		Statuses   []string             `json:"statuses"`
		DateFrom   *time.Time           `json:"date_from"`
		DateTo     *time.Time           `json:"date_to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}
	if req.Type == "" {
		respondError(w, http.StatusBadRequest, "missing_field", "type is required")
		return
	}
	if req.Format == "" {
		req.Format = reports.FormatPDF
	}

	report, err := s.reportGenerator.Generate(ctx, &reports.ReportRequest{
		Type:       req.Type,
		Format:     req.Format,
		Title:      req.Title,
		OrgID:      orgID,
		Frameworks: req.Frameworks,
		Severities: req.Severities,
		Statuses:   req.Statuses,
		DateFrom:   req.DateFrom,
		DateTo:     req.DateTo,
	})
	if err != nil {
		s.logger.Error("failed to generate report", "error", err, "type", req.Type)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to generate report")
		return
	}

	w.Header().Set("Content-Type", report.MimeType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+report.Filename+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report.Data)
}

func (s *Server) streamCSVReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, _, ok := orgFromRequest(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Missing organization context")
		return
	}

	reportType := reports.ReportType(r.URL.Query().Get("type"))
	if reportType == "" {
		respondError(w, http.StatusBadRequest, "missing_param", "type query parameter is required")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+string(reportType)+".csv\"")
	w.Header().Set("Transfer-Encoding", "chunked")

	err := s.reportGenerator.StreamCSV(ctx, w, &reports.ReportRequest{
		Type:   reportType,
		Format: reports.FormatCSV,
		OrgID:  orgID,
	})
	if err != nil {
		s.logger.Error("failed to stream report", "error", err, "type", reportType)
	}
}

// Notification settings

type notificationSettings struct {
	MinSeverity  models.ViolationSeverity `json:"min_severity"`
	SlackEnabled bool                     `json:"slack_enabled"`
	SlackChannel string                   `json:"slack_channel"`
	EmailEnabled bool                     `json:"email_enabled"`
	EmailTo      []string                 `json:"email_to"`
}

func (s *Server) getNotificationSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, notificationSettings{
		MinSeverity:  s.notificationConfig.Slack.MinSeverity,
		SlackEnabled: s.notificationConfig.Slack.Enabled,
		SlackChannel: s.notificationConfig.Slack.Channel,
		EmailEnabled: s.notificationConfig.Email.Enabled,
		EmailTo:      s.notificationConfig.Email.To,
	})
}

func (s *Server) updateNotificationSettings(w http.ResponseWriter, r *http.Request) {
	var req notificationSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	if req.MinSeverity != "" {
		s.notificationConfig.Slack.MinSeverity = req.MinSeverity
		s.notificationConfig.Email.MinSeverity = req.MinSeverity
	}
	s.notificationConfig.Slack.Enabled = req.SlackEnabled
	if req.SlackChannel != "" {
		s.notificationConfig.Slack.Channel = req.SlackChannel
	}
	s.notificationConfig.Email.Enabled = req.EmailEnabled
	if len(req.EmailTo) > 0 {
		s.notificationConfig.Email.To = req.EmailTo
	}

	s.notificationService.UpdateConfig(s.notificationConfig)

	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
