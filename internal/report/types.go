package report

import (
	"time"

	"github.com/Veraticus/margin-intel/internal/model"
)

// Report is the versioned analysis document returned to clients.
type Report struct {
	GeneratedAt    time.Time            `json:"generated_at"`
	RunID          string               `json:"run_id"`
	DatasetSummary DatasetSummary       `json:"dataset_summary"`
	Profiling      Profiling            `json:"profiling"`
	Modules        Modules              `json:"modules"`
	DecisionOutput model.DecisionOutput `json:"decision_output"`
}

// DateRange is the inferred order date window.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DatasetSummary describes the uploaded inputs.
type DatasetSummary struct {
	DateRange   DateRange `json:"date_range"`
	Currency    string    `json:"currency"`
	Notes       []string  `json:"notes"`
	OrdersRows  int       `json:"orders_rows"`
	ReturnsRows int       `json:"returns_rows"`
}

// TopShare is cumulative top-K revenue coverage.
type TopShare struct {
	Top1 float64 `json:"top1"`
	Top3 float64 `json:"top3"`
	Top5 float64 `json:"top5"`
}

// HighReturnSKU is one diagnostic high-return entry.
type HighReturnSKU struct {
	SKU                 string  `json:"sku"`
	ReturnRate          float64 `json:"return_rate"`
	Revenue             float64 `json:"revenue"`
	EstimatedMarginRisk float64 `json:"estimated_margin_risk"`
}

// Profiling is the public profiling section.
type Profiling struct {
	SKURevenueBreakdown map[string]float64 `json:"sku_revenue_breakdown,omitempty"`
	HighReturnSKUs      []HighReturnSKU    `json:"high_return_skus"`
	TopSKURevenueShare  TopShare           `json:"top_sku_revenue_share"`
	TotalRevenue        float64            `json:"total_revenue"`
	TotalRefunds        float64            `json:"total_refunds"`
	AOV                 float64            `json:"aov"`
}

// RiskSKU is a gated top-risk SKU.
type RiskSKU struct {
	SKU            string   `json:"sku"`
	Evidence       []string `json:"evidence"`
	ReturnRate     float64  `json:"return_rate"`
	Revenue        float64  `json:"revenue"`
	ImpactEstimate float64  `json:"impact_estimate"`
}

// ReturnsIntelligence is the returns module section.
type ReturnsIntelligence struct {
	Themes      []model.Theme `json:"themes"`
	TopRiskSKUs []RiskSKU     `json:"top_risk_skus"`
}

// Signal is a triggered concentration rule.
type Signal struct {
	Signal    string  `json:"signal"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// RevenueDependencyRisk is the dependency module section.
type RevenueDependencyRisk struct {
	RiskLevel            model.RiskLevel `json:"risk_level"`
	Signals              []Signal        `json:"signals"`
	ConcentrationMetrics TopShare        `json:"concentration_metrics"`
}

// Modules nests the analyzer outputs.
type Modules struct {
	ReturnsIntelligence   ReturnsIntelligence   `json:"returns_intelligence"`
	RevenueDependencyRisk RevenueDependencyRisk `json:"revenue_dependency_risk"`
}
