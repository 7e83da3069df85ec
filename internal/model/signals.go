package model

import "sort"

// TopShare holds cumulative revenue coverage of the top-K SKUs.
type TopShare struct {
	Top1 float64
	Top3 float64
	Top5 float64
}

// SKURevenue pairs a SKU with its summed line revenue.
type SKURevenue struct {
	SKU     string
	Revenue float64
}

// HighReturnSKU is a diagnostic entry ranked by estimated margin risk.
type HighReturnSKU struct {
	SKU                 string
	ReturnRate          float64
	Revenue             float64
	EstimatedMarginRisk float64
}

// DateRange is an inclusive ISO date window; empty strings when unknown.
type DateRange struct {
	Start string
	End   string
}

// ProfilingResult is the Profiler's output, read by both analyzers.
type ProfilingResult struct {
	DateRange          DateRange
	HighReturnSKUs     []HighReturnSKU
	SKURevenue         []SKURevenue // revenue descending, ties by SKU
	TopSKURevenueShare TopShare
	TotalRevenue       float64
	TotalRefunds       float64
	AOV                float64
	TotalOrders        int
}

// RevenueBySKU returns the per-SKU revenue as a map.
func (p *ProfilingResult) RevenueBySKU() map[string]float64 {
	m := make(map[string]float64, len(p.SKURevenue))
	for _, s := range p.SKURevenue {
		m[s.SKU] = s.Revenue
	}
	return m
}

// SortSKURevenue orders entries by revenue descending, breaking ties by SKU.
func SortSKURevenue(entries []SKURevenue) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Revenue != entries[j].Revenue {
			return entries[i].Revenue > entries[j].Revenue
		}
		return entries[i].SKU < entries[j].SKU
	})
}

// ReturnsMode identifies which data drove the returns analysis.
type ReturnsMode string

const (
	// ReturnsModeEvents uses uploaded return records.
	ReturnsModeEvents ReturnsMode = "returns"
	// ReturnsModeRefunds approximates returns from order refund amounts.
	ReturnsModeRefunds ReturnsMode = "refunds"
	// ReturnsModeNone means neither source was available.
	ReturnsModeNone ReturnsMode = "none"
)

// Theme is a cluster of similar return reasons.
type Theme struct {
	Theme        string   `json:"theme"`
	Examples     []string `json:"examples"`
	SKUsAffected []string `json:"skus_affected"`
	Severity     int      `json:"severity"`
}

// ReasonSample is one (SKU, reason) pair with its frequency.
type ReasonSample struct {
	SKU    string `json:"sku"`
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// RiskSKU is a SKU that passed both the return-rate and revenue-share gates.
type RiskSKU struct {
	SKU            string
	Evidence       []string
	ReturnRate     float64
	RevenueShare   float64
	Revenue        float64
	ImpactEstimate float64
}

// ReturnsIntelligence is the Returns Analyzer's output.
type ReturnsIntelligence struct {
	Mode        ReturnsMode
	Themes      []Theme
	TopRiskSKUs []RiskSKU
}

// RiskLevel classifies revenue concentration.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Signal is a triggered concentration rule.
type Signal struct {
	Signal    string
	Value     float64
	Threshold float64
}

// RevenueDependencyRisk is the dependency analyzer's output.
type RevenueDependencyRisk struct {
	RiskLevel     RiskLevel
	Signals       []Signal
	Concentration TopShare
}
