package sheets

import (
	"fmt"
	"strings"

	"github.com/Veraticus/margin-intel/internal/report"
)

// Tab titles written for every report.
const (
	TabSummary = "Summary"
	TabRisk    = "Return Risk"
	TabActions = "Actions"
)

// Tab is one worksheet's title and cell values, row by row.
type Tab struct {
	Title string
	Rows  [][]any
	// HeaderRows lists row indexes rendered bold.
	HeaderRows []int
}

// Tabs lays a report out as worksheets.
func Tabs(rep *report.Report) []Tab {
	return []Tab{summaryTab(rep), riskTab(rep), actionsTab(rep)}
}

func summaryTab(rep *report.Report) Tab {
	ds := rep.DatasetSummary
	p := rep.Profiling
	dep := rep.Modules.RevenueDependencyRisk

	t := Tab{Title: TabSummary}
	t.add(true, "Margin Intelligence Report", rep.RunID)
	t.add(false, "Generated", rep.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	t.add(false, "Period", fmt.Sprintf("%s to %s", ds.DateRange.Start, ds.DateRange.End))
	t.add(false, "Currency", ds.Currency)
	t.add(false, "Order rows", ds.OrdersRows)
	t.add(false, "Return rows", ds.ReturnsRows)
	t.add(false)

	t.add(true, "Financials")
	t.add(false, "Total revenue", p.TotalRevenue)
	t.add(false, "Total refunds", p.TotalRefunds)
	t.add(false, "AOV", p.AOV)
	t.add(false, "Top 1 SKU share", p.TopSKURevenueShare.Top1)
	t.add(false, "Top 3 SKU share", p.TopSKURevenueShare.Top3)
	t.add(false, "Top 5 SKU share", p.TopSKURevenueShare.Top5)
	t.add(false)

	t.add(true, "Revenue dependency", string(dep.RiskLevel))
	for _, sig := range dep.Signals {
		t.add(false, sig.Signal, sig.Value, sig.Threshold)
	}

	if len(ds.Notes) > 0 || len(rep.DecisionOutput.Limitations) > 0 {
		t.add(false)
		t.add(true, "Notes")
		for _, n := range ds.Notes {
			t.add(false, n)
		}
		for _, l := range rep.DecisionOutput.Limitations {
			t.add(false, l)
		}
	}
	return t
}

func riskTab(rep *report.Report) Tab {
	ri := rep.Modules.ReturnsIntelligence

	t := Tab{Title: TabRisk}
	t.add(true, "SKU", "Return rate", "Revenue", "Impact estimate", "Evidence")
	for _, r := range ri.TopRiskSKUs {
		t.add(false, r.SKU, r.ReturnRate, r.Revenue, r.ImpactEstimate, strings.Join(r.Evidence, "; "))
	}

	if len(ri.Themes) > 0 {
		t.add(false)
		t.add(true, "Theme", "Severity", "SKUs affected", "Examples")
		for _, th := range ri.Themes {
			t.add(false, th.Theme, th.Severity, strings.Join(th.SKUsAffected, ", "), strings.Join(th.Examples, "; "))
		}
	}
	return t
}

func actionsTab(rep *report.Report) Tab {
	t := Tab{Title: TabActions}
	t.add(true, "Rank", "Action", "Type", "Impact", "Confidence", "Success metric", "Why it matters", "How to execute")
	for _, a := range rep.DecisionOutput.RankedActions {
		t.add(false,
			a.Rank,
			a.Title,
			string(a.ActionType),
			string(a.ExpectedImpact),
			a.Confidence,
			a.SuccessMetric,
			a.WhyItMatters,
			strings.Join(a.HowToExecute, "\n"),
		)
	}
	return t
}

func (t *Tab) add(header bool, cells ...any) {
	if header {
		t.HeaderRows = append(t.HeaderRows, len(t.Rows))
	}
	if cells == nil {
		cells = []any{}
	}
	t.Rows = append(t.Rows, cells)
}
