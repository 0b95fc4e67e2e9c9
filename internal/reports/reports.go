// Package reports generates exportable compliance reports in CSV and PDF
// form.
package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/pcguest/compli/internal/models"
)

type ReportType string

const (
	ReportTypeViolations ReportType = "violations"
	ReportTypeTools      ReportType = "tools"
	ReportTypeCompliance ReportType = "compliance"
	ReportTypeExecutive  ReportType = "executive"
)

type ReportFormat string

const (
	FormatCSV ReportFormat = "csv"
	FormatPDF ReportFormat = "pdf"
)

type ReportRequest struct {
	Type       ReportType
	Format     ReportFormat
	Title      string
	OrgID      uuid.UUID
	Frameworks []string
	Severities []string
	Statuses   []string
	DateFrom   *time.Time
	DateTo     *time.Time
}

type Report struct {
	ID          string
	Type        ReportType
	Format      ReportFormat
	Title       string
	GeneratedAt time.Time
	GeneratedBy string
	Data        []byte
	Filename    string
	MimeType    string
}

// ReportViolation is the flattened violation row used in exports.
type ReportViolation struct {
	ID               string
	ToolName         string
	ViolationType    string
	Description      string
	Severity         string
	Status           string
	Reportable       bool
	AffectedSubjects int
	CreatedAt        time.Time
}

// ReportTool is the flattened tool row used in exports.
type ReportTool struct {
	ID             string
	Name           string
	Vendor         string
	Category       string
	Deployment     string
	DataResidency  string
	ApprovalStatus string
	RiskLevel      string
	CreatedAt      time.Time
}

type ViolationsFilter struct {
	OrgID      uuid.UUID
	Severities []string
	Statuses   []string
	DateFrom   *time.Time
	DateTo     *time.Time
}

type ToolsFilter struct {
	OrgID      uuid.UUID
	ActiveOnly bool
}

// Stats is the aggregate view an executive report renders.
type Stats struct {
	TotalTools         int
	ApprovedTools      int
	BannedTools        int
	TotalViolations    int
	CriticalViolations int
	HighViolations     int
	WarningViolations  int
	OpenViolations     int
	ResolvedViolations int
	PendingReportables int
	RiskTierCounts     map[string]int
}

// DataProvider supplies report data. The API layer implements it over the
// store and the assessor so this package stays free of storage concerns.
type DataProvider interface {
	GetViolations(ctx context.Context, filter ViolationsFilter) ([]*ReportViolation, error)
	GetTools(ctx context.Context, filter ToolsFilter) ([]*ReportTool, error)
	GetComplianceReports(ctx context.Context, orgID uuid.UUID, frameworks []string) ([]*models.ComplianceReport, error)
	GetStats(ctx context.Context, orgID uuid.UUID) (*Stats, error)
}

type Generator struct {
	provider DataProvider
}

func NewGenerator(provider DataProvider) *Generator {
	return &Generator{provider: provider}
}

func (g *Generator) Generate(ctx context.Context, req *ReportRequest) (*Report, error) {
	switch req.Type {
	case ReportTypeViolations:
		return g.generateViolationsReport(ctx, req)
	case ReportTypeTools:
		return g.generateToolsReport(ctx, req)
	case ReportTypeCompliance:
		return g.generateComplianceReport(ctx, req)
	case ReportTypeExecutive:
		return g.generateExecutiveReport(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported report type: %s", req.Type)
	}
}

func (g *Generator) generateViolationsReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	violations, err := g.provider.GetViolations(ctx, ViolationsFilter{
		OrgID:      req.OrgID,
		Severities: req.Severities,
		Statuses:   req.Statuses,
		DateFrom:   req.DateFrom,
		DateTo:     req.DateTo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch violations: %w", err)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.violationsToCSV(violations)
		filename = fmt.Sprintf("violations_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.violationsToPDF(violations, req.Title)
		filename = fmt.Sprintf("violations_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) violationsToCSV(violations []*ReportViolation) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"ID", "Tool", "Type", "Description", "Severity", "Status",
		"Reportable", "Affected Subjects", "Created At",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, v := range violations {
		row := []string{
			v.ID,
			v.ToolName,
			v.ViolationType,
			v.Description,
			v.Severity,
			v.Status,
			fmt.Sprintf("%t", v.Reportable),
			fmt.Sprintf("%d", v.AffectedSubjects),
			v.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) violationsToPDF(violations []*ReportViolation, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Summary")
	summary := map[string]int{
		"Critical": 0, "High": 0, "Warning": 0, "Info": 0,
	}
	reportable := 0
	for _, v := range violations {
		switch v.Severity {
		case string(models.SeverityCritical):
			summary["Critical"]++
		case string(models.SeverityHigh):
			summary["High"]++
		case string(models.SeverityWarning):
			summary["Warning"]++
		default:
			summary["Info"]++
		}
		if v.Reportable {
			reportable++
		}
	}
	summary["Reportable"] = reportable
	pdf.AddSummaryTable(summary)

	pdf.AddSection("Violation Detail")
	headers := []string{"ID", "Tool", "Type", "Severity", "Status"}
	rows := make([][]string, len(violations))
	for i, v := range violations {
		idShort := v.ID
		if len(idShort) > 8 {
			idShort = idShort[:8] + "..."
		}
		rows[i] = []string{
			idShort,
			truncate(v.ToolName, 25),
			v.ViolationType,
			v.Severity,
			v.Status,
		}
	}
	pdf.AddTable(headers, rows)

	return pdf.Output()
}

func (g *Generator) generateToolsReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	tools, err := g.provider.GetTools(ctx, ToolsFilter{OrgID: req.OrgID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tools: %w", err)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.toolsToCSV(tools)
		filename = fmt.Sprintf("tools_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.toolsToPDF(tools, req.Title)
		filename = fmt.Sprintf("tools_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) toolsToCSV(tools []*ReportTool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"ID", "Name", "Vendor", "Category", "Deployment", "Data Residency",
		"Approval Status", "Risk Level", "Created At",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, t := range tools {
		row := []string{
			t.ID,
			t.Name,
			t.Vendor,
			t.Category,
			t.Deployment,
			t.DataResidency,
			t.ApprovalStatus,
			t.RiskLevel,
			t.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) toolsToPDF(tools []*ReportTool, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Tool Inventory")

	headers := []string{"Name", "Vendor", "Deployment", "Approval", "Risk"}
	rows := make([][]string, len(tools))
	for i, t := range tools {
		rows[i] = []string{
			truncate(t.Name, 25),
			truncate(t.Vendor, 20),
			t.Deployment,
			t.ApprovalStatus,
			t.RiskLevel,
		}
	}
	pdf.AddTable(headers, rows)

	return pdf.Output()
}

func (g *Generator) generateComplianceReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	assessments, err := g.provider.GetComplianceReports(ctx, req.OrgID, req.Frameworks)
	if err != nil {
		return nil, fmt.Errorf("failed to run assessments: %w", err)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.complianceToCSV(assessments)
		filename = fmt.Sprintf("compliance_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.complianceToPDF(assessments, req.Title)
		filename = fmt.Sprintf("compliance_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) complianceToCSV(assessments []*models.ComplianceReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{"Compliance Report"})
	_ = w.Write([]string{"Generated", time.Now().Format(time.RFC1123)})
	_ = w.Write([]string{""})

	for _, report := range assessments {
		passed := 0
		for _, f := range report.Findings {
			if f.Compliant {
				passed++
			}
		}

		_ = w.Write([]string{"Framework", report.Framework})
		_ = w.Write([]string{"Score", fmt.Sprintf("%d%%", report.Score)})
		_ = w.Write([]string{"Checks Passed", fmt.Sprintf("%d/%d", passed, len(report.Findings))})
		_ = w.Write([]string{""})

		_ = w.Write([]string{"Requirement", "Description", "Compliant", "Severity", "Remediation"})
		for _, f := range report.Findings {
			_ = w.Write([]string{
				f.Requirement,
				f.Description,
				fmt.Sprintf("%t", f.Compliant),
				string(f.Severity),
				f.Remediation,
			})
		}
		_ = w.Write([]string{""})
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) complianceToPDF(assessments []*models.ComplianceReport, title string) ([]byte, error) {
	return AssessmentReportPDF(title, assessments)
}

func (g *Generator) generateExecutiveReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	stats, err := g.provider.GetStats(ctx, req.OrgID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stats: %w", err)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.executiveToCSV(stats)
		filename = fmt.Sprintf("executive_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = ExecutiveSummaryPDF(req.Title, stats)
		filename = fmt.Sprintf("executive_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) executiveToCSV(stats *Stats) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{"Executive Summary Report"})
	_ = w.Write([]string{"Generated", time.Now().Format(time.RFC1123)})
	_ = w.Write([]string{""})

	_ = w.Write([]string{"Metric", "Value"})
	_ = w.Write([]string{"Total Tools", fmt.Sprintf("%d", stats.TotalTools)})
	_ = w.Write([]string{"Approved Tools", fmt.Sprintf("%d", stats.ApprovedTools)})
	_ = w.Write([]string{"Banned Tools", fmt.Sprintf("%d", stats.BannedTools)})
	_ = w.Write([]string{"Total Violations", fmt.Sprintf("%d", stats.TotalViolations)})
	_ = w.Write([]string{"Critical Violations", fmt.Sprintf("%d", stats.CriticalViolations)})
	_ = w.Write([]string{"Open Violations", fmt.Sprintf("%d", stats.OpenViolations)})
	_ = w.Write([]string{"Resolved Violations", fmt.Sprintf("%d", stats.ResolvedViolations)})
	_ = w.Write([]string{"Pending Reportables", fmt.Sprintf("%d", stats.PendingReportables)})

	if len(stats.RiskTierCounts) > 0 {
		_ = w.Write([]string{""})
		_ = w.Write([]string{"Risk Tier", "Tools"})
		for tier, count := range stats.RiskTierCounts {
			_ = w.Write([]string{tier, fmt.Sprintf("%d", count)})
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

// StreamCSV writes a report directly to the response writer instead of
// buffering it.
func (g *Generator) StreamCSV(ctx context.Context, w io.Writer, req *ReportRequest) error {
	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	switch req.Type {
	case ReportTypeViolations:
		violations, err := g.provider.GetViolations(ctx, ViolationsFilter{
			OrgID:      req.OrgID,
			Severities: req.Severities,
			Statuses:   req.Statuses,
			DateFrom:   req.DateFrom,
			DateTo:     req.DateTo,
		})
		if err != nil {
			return err
		}

		header := []string{"ID", "Tool", "Type", "Severity", "Status", "Reportable", "Created At"}
		if err := csvWriter.Write(header); err != nil {
			return err
		}

		for _, v := range violations {
			row := []string{
				v.ID, v.ToolName, v.ViolationType, v.Severity,
				v.Status, fmt.Sprintf("%t", v.Reportable), v.CreatedAt.Format(time.RFC3339),
			}
			if err := csvWriter.Write(row); err != nil {
				return err
			}
		}

	case ReportTypeTools:
		tools, err := g.provider.GetTools(ctx, ToolsFilter{OrgID: req.OrgID})
		if err != nil {
			return err
		}

		header := []string{"ID", "Name", "Vendor", "Deployment", "Approval", "Risk"}
		if err := csvWriter.Write(header); err != nil {
			return err
		}

		for _, t := range tools {
			row := []string{
				t.ID, t.Name, t.Vendor, t.Deployment,
				t.ApprovalStatus, t.RiskLevel,
			}
			if err := csvWriter.Write(row); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("streaming not supported for report type: %s", req.Type)
	}

	return nil
}
