// Package report assembles analyzer outputs into the public report document.
package report

import (
	"time"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/model"
)

// Builder composes reports. It performs no analysis of its own.
type Builder struct {
	now func() time.Time
}

// NewBuilder creates a Builder stamping reports with the current UTC time.
func NewBuilder() *Builder {
	return &Builder{now: func() time.Time { return time.Now().UTC() }}
}

// WithClock returns a copy of b using now as its clock.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	return &Builder{now: now}
}

// Build merges every stage's output into one Report.
func (b *Builder) Build(
	runID string,
	profiling *model.ProfilingResult,
	returns *model.ReturnsIntelligence,
	dependency *model.RevenueDependencyRisk,
	decision *model.DecisionOutput,
	meta model.DatasetMeta,
) *Report {
	r := &Report{
		RunID:       runID,
		GeneratedAt: b.now().UTC(),
		DatasetSummary: DatasetSummary{
			OrdersRows:  meta.OrdersRows,
			ReturnsRows: meta.ReturnsRows,
			Currency:    meta.Currency,
			Notes:       nonNil(meta.Notes),
		},
		Profiling:      Profiling{HighReturnSKUs: []HighReturnSKU{}},
		DecisionOutput: NormalizeDecision(decision),
	}

	if profiling != nil {
		r.DatasetSummary.DateRange = DateRange{Start: profiling.DateRange.Start, End: profiling.DateRange.End}
		r.Profiling = ProfilingSection(profiling)
		if len(profiling.SKURevenue) > 0 {
			r.Profiling.SKURevenueBreakdown = make(map[string]float64, len(profiling.SKURevenue))
			for _, s := range profiling.SKURevenue {
				r.Profiling.SKURevenueBreakdown[s.SKU] = common.RoundMoney(s.Revenue)
			}
		}
	}
	r.Modules = ModulesSection(returns, dependency)

	return r
}

// ProfilingSection projects a ProfilingResult onto its wire form, without
// the per-SKU breakdown.
func ProfilingSection(p *model.ProfilingResult) Profiling {
	out := Profiling{
		TotalRevenue:       common.RoundMoney(p.TotalRevenue),
		TotalRefunds:       common.RoundMoney(p.TotalRefunds),
		AOV:                common.RoundMoney(p.AOV),
		TopSKURevenueShare: shareOf(p.TopSKURevenueShare),
		HighReturnSKUs:     make([]HighReturnSKU, 0, len(p.HighReturnSKUs)),
	}
	for _, h := range p.HighReturnSKUs {
		out.HighReturnSKUs = append(out.HighReturnSKUs, HighReturnSKU{
			SKU:                 h.SKU,
			ReturnRate:          common.RoundShare(h.ReturnRate),
			Revenue:             common.RoundMoney(h.Revenue),
			EstimatedMarginRisk: common.RoundMoney(h.EstimatedMarginRisk),
		})
	}
	return out
}

// ModulesSection projects both analyzer outputs onto their wire form.
func ModulesSection(returns *model.ReturnsIntelligence, dependency *model.RevenueDependencyRisk) Modules {
	m := Modules{
		ReturnsIntelligence: ReturnsIntelligence{
			Themes:      []model.Theme{},
			TopRiskSKUs: []RiskSKU{},
		},
		RevenueDependencyRisk: RevenueDependencyRisk{
			RiskLevel: model.RiskLow,
			Signals:   []Signal{},
		},
	}

	if returns != nil {
		if returns.Themes != nil {
			m.ReturnsIntelligence.Themes = returns.Themes
		}
		for _, r := range returns.TopRiskSKUs {
			m.ReturnsIntelligence.TopRiskSKUs = append(m.ReturnsIntelligence.TopRiskSKUs, RiskSKU{
				SKU:            r.SKU,
				ReturnRate:     common.RoundShare(r.ReturnRate),
				Revenue:        common.RoundMoney(r.Revenue),
				ImpactEstimate: common.RoundMoney(r.ImpactEstimate),
				Evidence:       nonNil(r.Evidence),
			})
		}
	}

	if dependency != nil {
		d := &m.RevenueDependencyRisk
		if dependency.RiskLevel != "" {
			d.RiskLevel = dependency.RiskLevel
		}
		d.ConcentrationMetrics = shareOf(dependency.Concentration)
		for _, s := range dependency.Signals {
			d.Signals = append(d.Signals, Signal{
				Signal:    s.Signal,
				Value:     common.RoundShare(s.Value),
				Threshold: s.Threshold,
			})
		}
	}

	return m
}

// NormalizeDecision replaces nil lists so the document always carries arrays.
func NormalizeDecision(d *model.DecisionOutput) model.DecisionOutput {
	if d == nil {
		return model.DecisionOutput{RankedActions: []model.Action{}, Limitations: []string{}, NextQuestions: []string{}}
	}
	out := model.DecisionOutput{
		RankedActions: make([]model.Action, len(d.RankedActions)),
		Limitations:   nonNil(d.Limitations),
		NextQuestions: nonNil(d.NextQuestions),
	}
	copy(out.RankedActions, d.RankedActions)
	for i := range out.RankedActions {
		out.RankedActions[i].HowToExecute = nonNil(out.RankedActions[i].HowToExecute)
		out.RankedActions[i].EvidenceUsed = nonNil(out.RankedActions[i].EvidenceUsed)
	}
	return out
}

func shareOf(t model.TopShare) TopShare {
	return TopShare{
		Top1: common.RoundShare(t.Top1),
		Top3: common.RoundShare(t.Top3),
		Top5: common.RoundShare(t.Top5),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
