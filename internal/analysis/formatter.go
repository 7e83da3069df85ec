package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/margin-intel/internal/report"
)

// maxListedSKUs caps the SKU rows shown in each summary section.
const maxListedSKUs = 5

// CLIFormatter renders reports and run snapshots for a terminal.
type CLIFormatter struct {
	styles *Styles
}

// NewCLIFormatter creates a new CLI formatter with default styles.
func NewCLIFormatter() *CLIFormatter {
	return &CLIFormatter{
		styles: NewStyles(),
	}
}

// NewCLIFormatterWithWidth creates a formatter whose boxes fit width columns.
func NewCLIFormatterWithWidth(width int) *CLIFormatter {
	return &CLIFormatter{
		styles: NewStyles().WithWidth(width),
	}
}

// FormatSummary creates a high-level summary of a report.
func (f *CLIFormatter) FormatSummary(rep *report.Report) string {
	if rep == nil {
		return f.styles.Error.Render("No report available")
	}

	sections := []string{
		f.formatHeader(rep),
		f.formatFinancials(rep),
		f.formatDependency(rep),
	}

	if risks := f.formatReturnRisks(rep); risks != "" {
		sections = append(sections, risks)
	}
	if themes := f.formatThemes(rep); themes != "" {
		sections = append(sections, themes)
	}
	sections = append(sections, f.formatActions(rep))
	if notes := f.formatNotes(rep); notes != "" {
		sections = append(sections, notes)
	}

	return strings.Join(sections, "\n\n")
}

// FormatRun summarizes a run snapshot: status, progress and error.
func (f *CLIFormatter) FormatRun(run *Run) string {
	if run == nil {
		return f.styles.Error.Render("No run available")
	}

	lines := []string{
		fmt.Sprintf("%s %s", f.styles.Subtle.Render("Run:"), run.RunID),
		fmt.Sprintf("%s %s", f.styles.Subtle.Render("Status:"), f.styles.ForStatus(run.Status).Render(string(run.Status))),
		fmt.Sprintf("%s %d%% %s", f.styles.Subtle.Render("Progress:"), run.Progress.Percent, run.Progress.Label),
	}
	if !run.CreatedAt.IsZero() {
		lines = append(lines, fmt.Sprintf("%s %s", f.styles.Subtle.Render("Created:"), run.CreatedAt.Format(time.RFC3339)))
	}
	if run.Error != "" {
		lines = append(lines, f.styles.Error.Render("Error: "+run.Error))
	}
	return f.styles.RenderBox(strings.Join(lines, "\n"), "Run", f.styles.Box)
}

func (f *CLIFormatter) formatHeader(rep *report.Report) string {
	title := f.styles.Title.Render("📊 Margin Intelligence Report")

	ds := rep.DatasetSummary
	period := "unknown period"
	if ds.DateRange.Start != "" || ds.DateRange.End != "" {
		period = fmt.Sprintf("%s to %s", ds.DateRange.Start, ds.DateRange.End)
	}
	meta := f.styles.Subtle.Render(fmt.Sprintf(
		"Run %s • Generated %s • %s • %d order rows, %d return rows",
		rep.RunID,
		rep.GeneratedAt.Format("Jan 2, 2006 15:04 MST"),
		period,
		ds.OrdersRows,
		ds.ReturnsRows,
	))

	return lipgloss.JoinVertical(lipgloss.Left, title, meta)
}

func (f *CLIFormatter) formatFinancials(rep *report.Report) string {
	p := rep.Profiling
	cur := rep.DatasetSummary.Currency

	lines := []string{
		fmt.Sprintf("Total revenue:  %s", f.styles.Metric.Render(formatMoney(p.TotalRevenue, cur))),
		fmt.Sprintf("Total refunds:  %s", f.styles.Metric.Render(formatMoney(p.TotalRefunds, cur))),
		fmt.Sprintf("AOV:            %s", f.styles.Metric.Render(formatMoney(p.AOV, cur))),
		fmt.Sprintf("Top SKU share:  top1 %s • top3 %s • top5 %s",
			formatPercent(p.TopSKURevenueShare.Top1),
			formatPercent(p.TopSKURevenueShare.Top3),
			formatPercent(p.TopSKURevenueShare.Top5)),
	}

	if len(p.HighReturnSKUs) > 0 {
		lines = append(lines, "", f.styles.Subtle.Render("Highest estimated margin risk:"))
		for i, sku := range p.HighReturnSKUs {
			if i >= maxListedSKUs {
				lines = append(lines, f.styles.Subtle.Render(fmt.Sprintf("  ... and %d more", len(p.HighReturnSKUs)-maxListedSKUs)))
				break
			}
			lines = append(lines, fmt.Sprintf("  %-16s rate %s  risk %s",
				sku.SKU, formatPercent(sku.ReturnRate), formatMoney(sku.EstimatedMarginRisk, cur)))
		}
	}

	return f.styles.RenderBox(strings.Join(lines, "\n"), "Financial Profile", f.styles.Box)
}

func (f *CLIFormatter) formatDependency(rep *report.Report) string {
	dep := rep.Modules.RevenueDependencyRisk
	level := string(dep.RiskLevel)

	lines := []string{
		fmt.Sprintf("Risk level: %s", f.styles.ForLevel(level).Render(strings.ToUpper(level))),
	}
	for _, sig := range dep.Signals {
		lines = append(lines, fmt.Sprintf("  • %s: %s (threshold %s)",
			sig.Signal, formatPercent(sig.Value), formatPercent(sig.Threshold)))
	}

	return f.styles.RenderBox(strings.Join(lines, "\n"), "Revenue Dependency", f.styles.RiskBox)
}

func (f *CLIFormatter) formatReturnRisks(rep *report.Report) string {
	risks := rep.Modules.ReturnsIntelligence.TopRiskSKUs
	if len(risks) == 0 {
		return ""
	}
	cur := rep.DatasetSummary.Currency

	lines := make([]string, 0, len(risks))
	for i, r := range risks {
		if i >= maxListedSKUs {
			lines = append(lines, f.styles.Subtle.Render(fmt.Sprintf("... and %d more", len(risks)-maxListedSKUs)))
			break
		}
		lines = append(lines, fmt.Sprintf("%-16s rate %s  revenue %s  impact %s",
			r.SKU, formatPercent(r.ReturnRate), formatMoney(r.Revenue, cur), formatMoney(r.ImpactEstimate, cur)))
	}

	return f.styles.RenderBox(strings.Join(lines, "\n"), "Top Return Risks", f.styles.RiskBox)
}

func (f *CLIFormatter) formatThemes(rep *report.Report) string {
	themes := rep.Modules.ReturnsIntelligence.Themes
	if len(themes) == 0 {
		return ""
	}

	lines := make([]string, 0, len(themes))
	for _, th := range themes {
		line := fmt.Sprintf("%s %s", severityDots(th.Severity), th.Theme)
		if len(th.SKUsAffected) > 0 {
			line += f.styles.Subtle.Render(" (" + strings.Join(th.SKUsAffected, ", ") + ")")
		}
		lines = append(lines, line)
	}

	return f.styles.RenderBox(strings.Join(lines, "\n"), "Return Themes", f.styles.Box)
}

func (f *CLIFormatter) formatActions(rep *report.Report) string {
	actions := rep.DecisionOutput.RankedActions
	if len(actions) == 0 {
		return f.styles.RenderBox(f.styles.Subtle.Render("No ranked actions"), "Recommended Actions", f.styles.ActionBox)
	}

	var lines []string
	for _, a := range actions {
		impact := string(a.ExpectedImpact)
		lines = append(lines, fmt.Sprintf("%d. %s", a.Rank, f.styles.Normal.Bold(true).Render(a.Title)))
		lines = append(lines, fmt.Sprintf("   %s • impact %s • confidence %s",
			a.ActionType, f.styles.ForLevel(impact).Render(impact), formatPercent(a.Confidence)))
		if a.SuccessMetric != "" {
			lines = append(lines, f.styles.Subtle.Render("   Measure: "+a.SuccessMetric))
		}
	}

	return f.styles.RenderBox(strings.Join(lines, "\n"), "Recommended Actions", f.styles.ActionBox)
}

func (f *CLIFormatter) formatNotes(rep *report.Report) string {
	var lines []string
	for _, n := range rep.DatasetSummary.Notes {
		lines = append(lines, f.styles.Warning.Render("• "+n))
	}
	for _, l := range rep.DecisionOutput.Limitations {
		lines = append(lines, f.styles.Subtle.Render("• "+l))
	}
	if len(lines) == 0 {
		return ""
	}
	return f.styles.RenderBox(strings.Join(lines, "\n"), "Notes & Limitations", f.styles.Box)
}

func formatMoney(v float64, currency string) string {
	s := fmt.Sprintf("%.2f", v)
	if currency == "" {
		return s
	}
	return s + " " + currency
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func severityDots(severity int) string {
	if severity < 1 {
		severity = 1
	}
	if severity > 5 {
		severity = 5
	}
	return strings.Repeat("●", severity) + strings.Repeat("○", 5-severity)
}
