package loader

import "strings"

// Canonical column names.
const (
	colOrderID        = "order_id"
	colSKU            = "sku"
	colQuantity       = "quantity"
	colItemPrice      = "item_price"
	colOrderDate      = "order_date"
	colDiscountAmount = "discount_amount"
	colRefundAmount   = "refund_amount"
	colLineTotal      = "line_total"

	colReturnID     = "return_id"
	colReturnDate   = "return_date"
	colReturnReason = "return_reason_text"
	colReturnAmount = "return_amount"
)

var (
	requiredOrderColumns  = []string{colOrderID, colSKU, colQuantity, colItemPrice}
	requiredReturnColumns = []string{colSKU}
)

// orderAliases maps common storefront export headers onto canonical names.
var orderAliases = map[string]string{
	"order_number":    colOrderID,
	"order_no":        colOrderID,
	"order":           colOrderID,
	"orderid":         colOrderID,
	"product_sku":     colSKU,
	"item_sku":        colSKU,
	"variant_sku":     colSKU,
	"lineitem_sku":    colSKU,
	"qty":             colQuantity,
	"units":           colQuantity,
	"lineitem_qty":    colQuantity,
	"unit_price":      colItemPrice,
	"price":           colItemPrice,
	"lineitem_price":  colItemPrice,
	"date":            colOrderDate,
	"created_at":      colOrderDate,
	"order_created":   colOrderDate,
	"discount":        colDiscountAmount,
	"discounts":       colDiscountAmount,
	"refund":          colRefundAmount,
	"refunded_amount": colRefundAmount,
	"refunds":         colRefundAmount,
	"total":           colLineTotal,
	"line_item_total": colLineTotal,
}

var returnAliases = map[string]string{
	"product_sku":   colSKU,
	"item_sku":      colSKU,
	"variant_sku":   colSKU,
	"order_number":  colOrderID,
	"order_no":      colOrderID,
	"rma":           colReturnID,
	"rma_id":        colReturnID,
	"date":          colReturnDate,
	"returned_at":   colReturnDate,
	"reason":        colReturnReason,
	"return_reason": colReturnReason,
	"amount":        colReturnAmount,
	"refund_amount": colReturnAmount,
}

// normaliseHeader lowercases, trims and snake-cases a raw CSV header.
func normaliseHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.Join(strings.Fields(h), "_")
}

// resolveColumns maps canonical column names to their index in the header
// row. Exact canonical headers take precedence over aliases, and the first
// occurrence of a name wins.
func resolveColumns(header []string, aliases map[string]string) map[string]int {
	idx := make(map[string]int, len(header))
	normalised := make([]string, len(header))
	for i, h := range header {
		n := normaliseHeader(h)
		normalised[i] = n
		if _, seen := idx[n]; !seen && n != "" {
			idx[n] = i
		}
	}
	for i, n := range normalised {
		canonical, ok := aliases[n]
		if !ok {
			continue
		}
		if _, taken := idx[canonical]; taken {
			continue
		}
		idx[canonical] = i
	}
	return idx
}

func missingColumns(idx map[string]int, required []string) []string {
	var missing []string
	for _, c := range required {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}
