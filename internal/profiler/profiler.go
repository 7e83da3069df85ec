// Package profiler computes the deterministic financial profile of an
// orders dataset.
package profiler

import (
	"sort"

	"github.com/Veraticus/margin-intel/internal/model"
)

// DefaultHighReturnLimit caps the diagnostic high-return list.
const DefaultHighReturnLimit = 20

// Profiler computes ProfilingResult values. The zero value is usable.
type Profiler struct {
	HighReturnLimit int
}

// New creates a Profiler that keeps at most limit high-return SKUs.
func New(limit int) *Profiler {
	return &Profiler{HighReturnLimit: limit}
}

// Profile summarises orders and, when present, returns. It never fails:
// missing optional data degrades to the documented fallbacks.
func (p *Profiler) Profile(orders *model.OrderSet, returns *model.ReturnSet) model.ProfilingResult {
	var result model.ProfilingResult
	if orders == nil {
		return result
	}

	orderIDs := make(map[string]struct{}, len(orders.Records))
	skuRevenue := make(map[string]float64)
	var start, end string

	for _, o := range orders.Records {
		result.TotalRevenue += o.Revenue
		result.TotalRefunds += o.RefundAmount
		if o.OrderID != "" {
			orderIDs[o.OrderID] = struct{}{}
		}
		if o.SKU != "" {
			skuRevenue[o.SKU] += o.Revenue
		}
		if o.HasDate() {
			d := o.OrderDate.Format("2006-01-02")
			if start == "" || d < start {
				start = d
			}
			if end == "" || d > end {
				end = d
			}
		}
	}

	result.TotalOrders = len(orderIDs)
	if result.TotalOrders > 0 {
		result.AOV = result.TotalRevenue / float64(result.TotalOrders)
	}
	result.DateRange = model.DateRange{Start: start, End: end}

	result.SKURevenue = make([]model.SKURevenue, 0, len(skuRevenue))
	for sku, rev := range skuRevenue {
		result.SKURevenue = append(result.SKURevenue, model.SKURevenue{SKU: sku, Revenue: rev})
	}
	model.SortSKURevenue(result.SKURevenue)
	result.TopSKURevenueShare = TopShares(result.SKURevenue)

	limit := p.HighReturnLimit
	if limit <= 0 {
		limit = DefaultHighReturnLimit
	}
	result.HighReturnSKUs = highReturnSKUs(orders, returns, skuRevenue, limit)

	return result
}

// TopShares returns cumulative top-1/3/5 revenue coverage over entries
// already sorted by revenue descending. When fewer than K SKUs exist the
// coverage is that of the whole set. SKUs with negative net revenue count
// as zero so every share stays within [0,1].
func TopShares(sorted []model.SKURevenue) model.TopShare {
	if len(sorted) == 0 {
		return model.TopShare{}
	}

	var total float64
	for _, s := range sorted {
		total += max(s.Revenue, 0)
	}
	if total <= 0 {
		return model.TopShare{}
	}

	cumulative := make([]float64, len(sorted))
	var running float64
	for i, s := range sorted {
		running += max(s.Revenue, 0)
		cumulative[i] = running / total
	}

	at := func(k int) float64 {
		return cumulative[min(k-1, len(cumulative)-1)]
	}
	return model.TopShare{Top1: at(1), Top3: at(3), Top5: at(5)}
}

// DistinctOrdersBySKU counts distinct order identifiers per SKU.
func DistinctOrdersBySKU(orders *model.OrderSet) map[string]int {
	seen := make(map[string]map[string]struct{})
	for _, o := range orders.Records {
		if o.SKU == "" || o.OrderID == "" {
			continue
		}
		ids, ok := seen[o.SKU]
		if !ok {
			ids = make(map[string]struct{})
			seen[o.SKU] = ids
		}
		ids[o.OrderID] = struct{}{}
	}
	counts := make(map[string]int, len(seen))
	for sku, ids := range seen {
		counts[sku] = len(ids)
	}
	return counts
}

// ReturnCountsBySKU counts return events per SKU. Records sharing a
// non-empty return identifier count once.
func ReturnCountsBySKU(returns *model.ReturnSet) map[string]int {
	counts := make(map[string]int)
	if returns == nil {
		return counts
	}
	seen := make(map[string]struct{})
	for _, r := range returns.Records {
		if r.SKU == "" {
			continue
		}
		if r.ReturnID != "" {
			key := r.SKU + "\x00" + r.ReturnID
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		counts[r.SKU]++
	}
	return counts
}

func highReturnSKUs(orders *model.OrderSet, returns *model.ReturnSet, skuRevenue map[string]float64, limit int) []model.HighReturnSKU {
	var out []model.HighReturnSKU

	switch {
	case returns.Len() > 0:
		orderCounts := DistinctOrdersBySKU(orders)
		for sku, n := range ReturnCountsBySKU(returns) {
			ordersForSKU := orderCounts[sku]
			if ordersForSKU == 0 {
				continue
			}
			rate := float64(n) / float64(ordersForSKU)
			rev := skuRevenue[sku]
			out = append(out, model.HighReturnSKU{
				SKU:                 sku,
				ReturnRate:          rate,
				Revenue:             rev,
				EstimatedMarginRisk: rate * rev,
			})
		}

	case orders.Columns.RefundAmount:
		refunds := make(map[string]float64)
		for _, o := range orders.Records {
			if o.SKU != "" {
				refunds[o.SKU] += o.RefundAmount
			}
		}
		for sku, refund := range refunds {
			rev := skuRevenue[sku]
			if rev == 0 {
				continue
			}
			out = append(out, model.HighReturnSKU{
				SKU:                 sku,
				ReturnRate:          refund / rev,
				Revenue:             rev,
				EstimatedMarginRisk: refund,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EstimatedMarginRisk != out[j].EstimatedMarginRisk {
			return out[i].EstimatedMarginRisk > out[j].EstimatedMarginRisk
		}
		return out[i].SKU < out[j].SKU
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
