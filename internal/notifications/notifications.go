// Package notifications delivers violation and assessment alerts to Slack
// and email.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/pcguest/compli/internal/models"
)

// NotificationType defines the type of notification
type NotificationType string

const (
	NotifyNewViolation        NotificationType = "new_violation"
	NotifyReportableViolation NotificationType = "reportable_violation"
	NotifyAssessmentComplete  NotificationType = "assessment_complete"
	NotifyDigest              NotificationType = "daily_digest"
)

// Notification represents a notification to be sent
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Severity  models.ViolationSeverity
	Data      map[string]interface{}
	Timestamp time.Time
}

// Config holds notification configuration
type Config struct {
	Slack SlackConfig
	Email EmailConfig
}

// SlackConfig holds Slack configuration
type SlackConfig struct {
	WebhookURL  string
	Channel     string
	Username    string
	IconEmoji   string
	Enabled     bool
	MinSeverity models.ViolationSeverity // Minimum severity to notify
}

// EmailConfig holds email configuration
type EmailConfig struct {
	SMTPHost    string
	SMTPPort    int
	Username    string
	Password    string
	From        string
	To          []string
	Enabled     bool
	MinSeverity models.ViolationSeverity
}

// Service handles notifications
type Service struct {
	config Config
	logger *slog.Logger
	client *http.Client
}

// NewService creates a new notification service
func NewService(config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// UpdateConfig swaps the channel configuration. Not safe for concurrent
// use with in-flight sends; callers serialize settings updates.
func (s *Service) UpdateConfig(config Config) {
	s.config = config
}

// Send sends a notification to all enabled channels
func (s *Service) Send(ctx context.Context, notif *Notification) error {
	var errs []error

	if s.config.Slack.Enabled && s.shouldNotify(notif.Severity, s.config.Slack.MinSeverity) {
		if err := s.sendSlack(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}

	if s.config.Email.Enabled && s.shouldNotify(notif.Severity, s.config.Email.MinSeverity) {
		if err := s.sendEmail(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}

	return nil
}

// shouldNotify checks if notification should be sent based on severity
func (s *Service) shouldNotify(actual, minimum models.ViolationSeverity) bool {
	return models.SeverityRank(actual) >= models.SeverityRank(minimum)
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// sendSlack sends a notification to Slack
func (s *Service) sendSlack(ctx context.Context, notif *Notification) error {
	color := s.severityToColor(notif.Severity)

	fields := []SlackField{}
	if notif.Data != nil {
		if toolName, ok := notif.Data["tool_name"].(string); ok {
			fields = append(fields, SlackField{
				Title: "Tool",
				Value: toolName,
				Short: true,
			})
		}
		if violationType, ok := notif.Data["violation_type"].(string); ok {
			fields = append(fields, SlackField{
				Title: "Violation Type",
				Value: violationType,
				Short: true,
			})
		}
		if severity, ok := notif.Data["severity"].(string); ok {
			fields = append(fields, SlackField{
				Title: "Severity",
				Value: severity,
				Short: true,
			})
		}
		if framework, ok := notif.Data["framework"].(string); ok {
			fields = append(fields, SlackField{
				Title: "Framework",
				Value: framework,
				Short: true,
			})
		}
		if score, ok := notif.Data["score"].(int); ok {
			fields = append(fields, SlackField{
				Title: "Score",
				Value: fmt.Sprintf("%d", score),
				Short: true,
			})
		}
	}

	msg := SlackMessage{
		Channel:   s.config.Slack.Channel,
		Username:  s.config.Slack.Username,
		IconEmoji: s.config.Slack.IconEmoji,
		Attachments: []SlackAttachment{
			{
				Color:     color,
				Title:     notif.Title,
				Text:      notif.Message,
				Fallback:  fmt.Sprintf("%s: %s", notif.Title, notif.Message),
				Fields:    fields,
				Footer:    "Compli Alert System",
				Timestamp: notif.Timestamp.Unix(),
			},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.Slack.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack notification sent",
		"type", notif.Type,
		"title", notif.Title)

	return nil
}

// severityToColor converts severity to Slack color
func (s *Service) severityToColor(severity models.ViolationSeverity) string {
	switch severity {
	case models.SeverityCritical:
		return "#FF0000" // Red
	case models.SeverityHigh:
		return "#FFA500" // Orange
	case models.SeverityWarning:
		return "#FFFF00" // Yellow
	default:
		return "#36A64F" // Green
	}
}

// sendEmail sends a notification via email
func (s *Service) sendEmail(ctx context.Context, notif *Notification) error {
	subject := fmt.Sprintf("[Compli Alert] %s", notif.Title)
	body, err := s.formatEmailBody(notif)
	if err != nil {
		return err
	}

	msg := s.buildEmailMessage(subject, body)

	auth := smtp.PlainAuth("", s.config.Email.Username, s.config.Email.Password, s.config.Email.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)

	err = smtp.SendMail(addr, auth, s.config.Email.From, s.config.Email.To, []byte(msg))
	if err != nil {
		return err
	}

	s.logger.Info("email notification sent",
		"type", notif.Type,
		"title", notif.Title,
		"recipients", len(s.config.Email.To))

	return nil
}

// buildEmailMessage builds an email message
func (s *Service) buildEmailMessage(subject, body string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.Email.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(s.config.Email.To, ",")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

// formatEmailBody formats the email body
func (s *Service) formatEmailBody(notif *Notification) (string, error) {
	tmpl := `
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 600px; margin: 0 auto; background: white; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .header { padding: 20px; background: {{.HeaderColor}}; color: white; border-radius: 8px 8px 0 0; }
        .content { padding: 20px; }
        .severity { display: inline-block; padding: 4px 8px; border-radius: 4px; font-weight: bold; background: {{.SeverityColor}}; color: white; }
        .data-table { width: 100%; border-collapse: collapse; margin-top: 15px; }
        .data-table td { padding: 8px; border-bottom: 1px solid #eee; }
        .data-table td:first-child { font-weight: bold; width: 30%; }
        .footer { padding: 15px 20px; background: #f9f9f9; border-radius: 0 0 8px 8px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h2 style="margin:0;">{{.Title}}</h2>
        </div>
        <div class="content">
            <p>{{.Message}}</p>
            <p>Severity: <span class="severity">{{.Severity}}</span></p>
            {{if .HasData}}
            <table class="data-table">
                {{range $key, $value := .Data}}
                <tr>
                    <td>{{$key}}</td>
                    <td>{{$value}}</td>
                </tr>
                {{end}}
            </table>
            {{end}}
        </div>
        <div class="footer">
            <p>This is an automated alert from the Compli system.</p>
            <p>Generated at: {{.Timestamp}}</p>
        </div>
    </div>
</body>
</html>
`
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}

	headerColor := "#2196F3" // Default blue
	severityColor := s.severityToColor(notif.Severity)

	switch notif.Severity {
	case models.SeverityCritical:
		headerColor = "#F44336"
	case models.SeverityHigh:
		headerColor = "#FF9800"
	case models.SeverityWarning:
		headerColor = "#FFC107"
	}

	data := map[string]interface{}{
		"Title":         notif.Title,
		"Message":       notif.Message,
		"Severity":      string(notif.Severity),
		"HeaderColor":   headerColor,
		"SeverityColor": severityColor,
		"Data":          notif.Data,
		"HasData":       len(notif.Data) > 0,
		"Timestamp":     notif.Timestamp.Format(time.RFC1123),
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// NotifyViolation sends a notification for a new policy violation
func (s *Service) NotifyViolation(ctx context.Context, v *models.Violation, toolName string) error {
	notif := &Notification{
		Type:     NotifyNewViolation,
		Title:    fmt.Sprintf("New %s Policy Violation", v.Severity),
		Message:  v.Description,
		Severity: v.Severity,
		Data: map[string]interface{}{
			"violation_id":   v.ID.String(),
			"tool_name":      toolName,
			"violation_type": v.ViolationType,
			"severity":       string(v.Severity),
			"enforcement":    string(v.EnforcementLevel),
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// NotifyReportable sends an immediate notification for a violation that must
// be reported to the regulator
func (s *Service) NotifyReportable(ctx context.Context, v *models.Violation, toolName string) error {
	notif := &Notification{
		Type:     NotifyReportableViolation,
		Title:    "REPORTABLE Compliance Violation",
		Message:  fmt.Sprintf("Regulator-reportable violation recorded: %s on %s", v.ViolationType, toolName),
		Severity: models.SeverityCritical,
		Data: map[string]interface{}{
			"violation_id":      v.ID.String(),
			"tool_name":         toolName,
			"violation_type":    v.ViolationType,
			"affected_subjects": v.AffectedSubjectsCount,
			"description":       v.Description,
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// NotifyAssessment sends a notification when a compliance assessment finishes
func (s *Service) NotifyAssessment(ctx context.Context, report *models.ComplianceReport) error {
	severity := models.SeverityInfo
	if report.Score < 50 {
		severity = models.SeverityCritical
	} else if report.Score < 80 {
		severity = models.SeverityHigh
	}

	notif := &Notification{
		Type:     NotifyAssessmentComplete,
		Title:    "Compliance Assessment Completed",
		Message:  fmt.Sprintf("%s assessment scored %d/100 with %d findings", report.Framework, report.Score, len(report.Findings)),
		Severity: severity,
		Data: map[string]interface{}{
			"framework":       report.Framework,
			"score":           report.Score,
			"findings":        len(report.Findings),
			"recommendations": len(report.Recommendations),
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// DigestStats holds daily digest statistics
type DigestStats struct {
	Period              string
	NewViolations       int
	ResolvedViolations  int
	CriticalViolations  int
	PendingReportables  int
	UsageEventsRecorded int
	BlockedEvents       int
}

// NotifyDailyDigest sends a daily digest notification
func (s *Service) NotifyDailyDigest(ctx context.Context, stats DigestStats) error {
	notif := &Notification{
		Type:     NotifyDigest,
		Title:    "Daily Compliance Digest",
		Message:  fmt.Sprintf("Summary: %d new violations, %d resolved", stats.NewViolations, stats.ResolvedViolations),
		Severity: s.digestToSeverity(stats),
		Data: map[string]interface{}{
			"period":               stats.Period,
			"new_violations":       stats.NewViolations,
			"resolved_violations":  stats.ResolvedViolations,
			"critical_violations":  stats.CriticalViolations,
			"pending_reportables":  stats.PendingReportables,
			"usage_events":         stats.UsageEventsRecorded,
			"blocked_events":       stats.BlockedEvents,
		},
		Timestamp: time.Now(),
	}

	return s.Send(ctx, notif)
}

// digestToSeverity determines notification severity from digest stats
func (s *Service) digestToSeverity(stats DigestStats) models.ViolationSeverity {
	if stats.PendingReportables > 0 || stats.CriticalViolations > 0 {
		return models.SeverityCritical
	}
	if stats.NewViolations > 10 {
		return models.SeverityHigh
	}
	if stats.NewViolations > 0 {
		return models.SeverityWarning
	}
	return models.SeverityInfo
}
