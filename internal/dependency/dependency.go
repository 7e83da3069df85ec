// Package dependency classifies how concentrated revenue is across SKUs.
//
// The thresholds are hand-tuned heuristics rather than statistically
// derived cut-offs, and are supplied through configuration.
package dependency

import (
	"github.com/Veraticus/margin-intel/internal/config"
	"github.com/Veraticus/margin-intel/internal/model"
)

// Signal names.
const (
	SignalTop1OverHigh   = "top1_share_over_45pct"
	SignalTop1OverMedium = "top1_share_over_30pct"
	SignalTop3OverHigh   = "top3_share_over_65pct"
)

// Analyzer evaluates revenue concentration rules.
type Analyzer struct {
	thresholds config.Thresholds
}

// NewAnalyzer creates an Analyzer with the given thresholds.
func NewAnalyzer(t config.Thresholds) *Analyzer {
	return &Analyzer{thresholds: t}
}

// Analyze classifies the SKU revenue distribution in profiling. Rules are
// evaluated in order and the first matching level wins; only conditions that
// actually hold produce signals.
func (a *Analyzer) Analyze(profiling *model.ProfilingResult) model.RevenueDependencyRisk {
	out := model.RevenueDependencyRisk{RiskLevel: model.RiskLow, Signals: []model.Signal{}}
	if profiling == nil || len(profiling.SKURevenue) == 0 {
		return out
	}

	sorted := make([]model.SKURevenue, len(profiling.SKURevenue))
	copy(sorted, profiling.SKURevenue)
	model.SortSKURevenue(sorted)

	// Negative net revenue counts as zero concentration.
	var total float64
	for _, s := range sorted {
		total += max(s.Revenue, 0)
	}
	if total == 0 {
		total = 1.0
	}

	sumTop := func(k int) float64 {
		var sum float64
		for i := 0; i < k && i < len(sorted); i++ {
			sum += max(sorted[i].Revenue, 0)
		}
		return sum / total
	}
	m := model.TopShare{Top1: sumTop(1), Top3: sumTop(3), Top5: sumTop(5)}
	out.Concentration = m

	t := a.thresholds
	switch {
	case m.Top1 > t.Top1High:
		out.RiskLevel = model.RiskHigh
		out.Signals = append(out.Signals, model.Signal{Signal: SignalTop1OverHigh, Value: m.Top1, Threshold: t.Top1High})
	case m.Top1 > t.Top1Medium || m.Top3 > t.Top3High:
		out.RiskLevel = model.RiskMedium
		if m.Top1 > t.Top1Medium {
			out.Signals = append(out.Signals, model.Signal{Signal: SignalTop1OverMedium, Value: m.Top1, Threshold: t.Top1Medium})
		}
		if m.Top3 > t.Top3High {
			out.Signals = append(out.Signals, model.Signal{Signal: SignalTop3OverHigh, Value: m.Top3, Threshold: t.Top3High})
		}
	}

	return out
}
