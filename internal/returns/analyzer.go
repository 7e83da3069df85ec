// Package returns detects SKUs whose returns or refunds put material margin
// at risk, and optionally clusters free-text return reasons into themes.
package returns

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/config"
	"github.com/Veraticus/margin-intel/internal/model"
	"github.com/Veraticus/margin-intel/internal/profiler"
)

// ReasonClusterer groups return reasons into themes. Implementations must
// return an error rather than partial output when the response is unusable.
type ReasonClusterer interface {
	ClusterReasons(ctx context.Context, sample []model.ReasonSample) ([]model.Theme, error)
	Available() bool
}

// Config holds the analyzer's gates and caps.
type Config struct {
	ReturnRateThreshold   float64
	RevenueShareThreshold float64
	MaxReasonSamples      int
	TopRiskLimit          int
}

// ConfigFrom derives a Config from application settings.
func ConfigFrom(s config.Settings) Config {
	return Config{
		ReturnRateThreshold:   s.Thresholds.ReturnRate,
		RevenueShareThreshold: s.Thresholds.RevenueShare,
		MaxReasonSamples:      s.Limits.MaxReasonSamples,
		TopRiskLimit:          s.Limits.TopRiskSKUs,
	}
}

// Analyzer produces ReturnsIntelligence.
type Analyzer struct {
	clusterer ReasonClusterer
	logger    *slog.Logger
	cfg       Config
}

// NewAnalyzer creates an Analyzer. clusterer may be nil.
func NewAnalyzer(cfg Config, clusterer ReasonClusterer, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{cfg: cfg, clusterer: clusterer, logger: logger}
}

// Analyze picks a mode from the available data. Uploaded return events take
// precedence; otherwise order refund amounts approximate return rates.
// Clustering failures are logged and yield no themes.
func (a *Analyzer) Analyze(ctx context.Context, orders *model.OrderSet, returns *model.ReturnSet, profiling *model.ProfilingResult) model.ReturnsIntelligence {
	out := model.ReturnsIntelligence{
		Mode:        model.ReturnsModeNone,
		Themes:      []model.Theme{},
		TopRiskSKUs: []model.RiskSKU{},
	}
	if orders == nil || profiling == nil {
		return out
	}

	revenue := profiling.RevenueBySKU()

	switch {
	case returns.Len() > 0:
		out.Mode = model.ReturnsModeEvents
		out.TopRiskSKUs = a.eventRisk(orders, returns, revenue, profiling.TotalRevenue)
		if returns.Columns.Reason {
			out.Themes = a.themes(ctx, returns)
		}
	case orders.Columns.RefundAmount:
		out.Mode = model.ReturnsModeRefunds
		out.TopRiskSKUs = a.refundRisk(orders, revenue, profiling.TotalRevenue)
	}

	return out
}

func (a *Analyzer) eventRisk(orders *model.OrderSet, returns *model.ReturnSet, revenue map[string]float64, total float64) []model.RiskSKU {
	orderCounts := profiler.DistinctOrdersBySKU(orders)

	var risks []model.RiskSKU
	for sku, n := range profiler.ReturnCountsBySKU(returns) {
		ordersForSKU := orderCounts[sku]
		if ordersForSKU == 0 {
			continue
		}
		rate := float64(n) / float64(ordersForSKU)
		rev := revenue[sku]
		share := shareOf(rev, total)
		if !a.passes(rate, share) {
			continue
		}
		risks = append(risks, model.RiskSKU{
			SKU:            sku,
			ReturnRate:     rate,
			RevenueShare:   share,
			Revenue:        rev,
			ImpactEstimate: rate * rev,
			Evidence: []string{
				"return_rate=" + formatMetric(rate),
				"revenue_share=" + formatMetric(share),
			},
		})
	}
	return a.rank(risks)
}

func (a *Analyzer) refundRisk(orders *model.OrderSet, revenue map[string]float64, total float64) []model.RiskSKU {
	refunds := make(map[string]float64)
	for _, o := range orders.Records {
		if o.SKU != "" {
			refunds[o.SKU] += o.RefundAmount
		}
	}

	var risks []model.RiskSKU
	for sku, refund := range refunds {
		if refund <= 0 {
			continue
		}
		rev := revenue[sku]
		if rev == 0 {
			continue
		}
		rate := refund / rev
		share := shareOf(rev, total)
		if !a.passes(rate, share) {
			continue
		}
		risks = append(risks, model.RiskSKU{
			SKU:            sku,
			ReturnRate:     rate,
			RevenueShare:   share,
			Revenue:        rev,
			ImpactEstimate: refund,
			Evidence: []string{
				fmt.Sprintf("refund_rate=%s (from refund_amount)", formatMetric(rate)),
				"revenue_share=" + formatMetric(share),
			},
		})
	}
	return a.rank(risks)
}

// passes applies both gates; a SKU must clear the rate and the share.
func (a *Analyzer) passes(rate, share float64) bool {
	return rate >= a.cfg.ReturnRateThreshold && share >= a.cfg.RevenueShareThreshold
}

func (a *Analyzer) rank(risks []model.RiskSKU) []model.RiskSKU {
	sort.SliceStable(risks, func(i, j int) bool {
		if risks[i].ImpactEstimate != risks[j].ImpactEstimate {
			return risks[i].ImpactEstimate > risks[j].ImpactEstimate
		}
		return risks[i].SKU < risks[j].SKU
	})
	limit := a.cfg.TopRiskLimit
	if limit <= 0 {
		limit = 10
	}
	if len(risks) > limit {
		risks = risks[:limit]
	}
	if risks == nil {
		return []model.RiskSKU{}
	}
	return risks
}

func (a *Analyzer) themes(ctx context.Context, returns *model.ReturnSet) []model.Theme {
	if a.clusterer == nil || !a.clusterer.Available() {
		return []model.Theme{}
	}

	sample := ReasonSample(returns, a.cfg.MaxReasonSamples)
	if len(sample) == 0 {
		return []model.Theme{}
	}

	themes, err := a.clusterer.ClusterReasons(ctx, sample)
	if err != nil {
		a.logger.Warn("reason clustering failed, continuing without themes",
			"samples", len(sample), "error", err)
		return []model.Theme{}
	}
	if themes == nil {
		return []model.Theme{}
	}
	return themes
}

// ReasonSample groups (SKU, reason) pairs by frequency and keeps the most
// common limit pairs. Records without reason text are ignored.
func ReasonSample(returns *model.ReturnSet, limit int) []model.ReasonSample {
	if returns == nil {
		return nil
	}

	type key struct{ sku, reason string }
	counts := make(map[key]int)
	for _, r := range returns.Records {
		if r.SKU == "" || r.Reason == "" {
			continue
		}
		counts[key{r.SKU, r.Reason}]++
	}

	sample := make([]model.ReasonSample, 0, len(counts))
	for k, n := range counts {
		sample = append(sample, model.ReasonSample{SKU: k.sku, Reason: k.reason, Count: n})
	}
	sort.Slice(sample, func(i, j int) bool {
		if sample[i].Count != sample[j].Count {
			return sample[i].Count > sample[j].Count
		}
		if sample[i].SKU != sample[j].SKU {
			return sample[i].SKU < sample[j].SKU
		}
		return sample[i].Reason < sample[j].Reason
	})
	if limit > 0 && len(sample) > limit {
		sample = sample[:limit]
	}
	return sample
}

func shareOf(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total
}

// formatMetric renders a rate with at most four decimals and no trailing zeros.
func formatMetric(v float64) string {
	return strconv.FormatFloat(common.Round(v, 4), 'f', -1, 64)
}
