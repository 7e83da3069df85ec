// Package loader turns uploaded CSV exports into validated order and return
// record sets.
package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/model"
)

const (
	// OrdersDataset names the orders upload in validation errors.
	OrdersDataset = "orders_file"
	// ReturnsDataset names the returns upload in validation errors.
	ReturnsDataset = "returns_file"
)

// Ingestion notes attached to the dataset summary.
const (
	NoteNoOrderDate     = "order_date column missing - date-range analysis will be skipped."
	NoteNoRevenueInputs = "Neither line_total nor discount_amount found - revenue = quantity × item_price."
	NoteNoRefundAmount  = "refund_amount column missing - refund analysis from orders will be skipped."
	NoteNoReturnReason  = "return_reason_text missing - LLM theme clustering will be skipped."
	NoteNoReturnAmount  = "return_amount missing in returns - using count-based return rates only."
)

// CSVLoader reads order and return exports.
type CSVLoader struct {
	logger  *slog.Logger
	maxRows int
}

// Option configures a CSVLoader.
type Option func(*CSVLoader)

// WithMaxRows rejects uploads with more than n data rows. Zero disables the cap.
func WithMaxRows(n int) Option {
	return func(l *CSVLoader) { l.maxRows = n }
}

// WithLogger sets the loader's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *CSVLoader) { l.logger = logger }
}

// New creates a CSVLoader.
func New(opts ...Option) *CSVLoader {
	l := &CSVLoader{logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadOrders parses an orders export. Missing required columns produce a
// *common.ValidationError; missing optional columns produce notes.
func (l *CSVLoader) LoadOrders(r io.Reader) (*model.OrderSet, error) {
	header, rows, err := l.read(r, OrdersDataset)
	if err != nil {
		return nil, err
	}

	idx := resolveColumns(header, orderAliases)
	if missing := missingColumns(idx, requiredOrderColumns); len(missing) > 0 {
		return nil, &common.ValidationError{Dataset: OrdersDataset, Missing: missing}
	}

	set := &model.OrderSet{Records: make([]model.OrderRecord, 0, len(rows))}
	_, set.Columns.OrderDate = idx[colOrderDate]
	_, set.Columns.DiscountAmount = idx[colDiscountAmount]
	_, set.Columns.RefundAmount = idx[colRefundAmount]
	_, set.Columns.LineTotal = idx[colLineTotal]

	if !set.Columns.OrderDate {
		set.Notes = append(set.Notes, NoteNoOrderDate)
	}
	if !set.Columns.LineTotal && !set.Columns.DiscountAmount {
		set.Notes = append(set.Notes, NoteNoRevenueInputs)
	}
	if !set.Columns.RefundAmount {
		set.Notes = append(set.Notes, NoteNoRefundAmount)
	}

	for _, row := range rows {
		rec := model.OrderRecord{
			OrderID:        cell(row, idx, colOrderID),
			SKU:            cell(row, idx, colSKU),
			Quantity:       parseNumber(cell(row, idx, colQuantity)),
			ItemPrice:      parseNumber(cell(row, idx, colItemPrice)),
			DiscountAmount: parseNumber(cell(row, idx, colDiscountAmount)),
			RefundAmount:   parseNumber(cell(row, idx, colRefundAmount)),
			LineTotal:      parseNumber(cell(row, idx, colLineTotal)),
			OrderDate:      parseDate(cell(row, idx, colOrderDate)),
		}
		rec.Revenue = lineRevenue(rec)
		set.Records = append(set.Records, rec)
	}

	l.logger.Debug("loaded orders", "rows", len(set.Records), "notes", len(set.Notes))
	return set, nil
}

// LoadReturns parses a returns export.
func (l *CSVLoader) LoadReturns(r io.Reader) (*model.ReturnSet, error) {
	header, rows, err := l.read(r, ReturnsDataset)
	if err != nil {
		return nil, err
	}

	idx := resolveColumns(header, returnAliases)
	if missing := missingColumns(idx, requiredReturnColumns); len(missing) > 0 {
		return nil, &common.ValidationError{Dataset: ReturnsDataset, Missing: missing}
	}

	set := &model.ReturnSet{Records: make([]model.ReturnRecord, 0, len(rows))}
	_, set.Columns.OrderID = idx[colOrderID]
	_, set.Columns.ReturnID = idx[colReturnID]
	_, set.Columns.ReturnDate = idx[colReturnDate]
	_, set.Columns.Reason = idx[colReturnReason]
	_, set.Columns.Amount = idx[colReturnAmount]

	if !set.Columns.Reason {
		set.Notes = append(set.Notes, NoteNoReturnReason)
	}
	if !set.Columns.Amount {
		set.Notes = append(set.Notes, NoteNoReturnAmount)
	}

	for _, row := range rows {
		set.Records = append(set.Records, model.ReturnRecord{
			SKU:        cell(row, idx, colSKU),
			OrderID:    cell(row, idx, colOrderID),
			ReturnID:   cell(row, idx, colReturnID),
			Reason:     cell(row, idx, colReturnReason),
			Amount:     parseNumber(cell(row, idx, colReturnAmount)),
			ReturnDate: parseDate(cell(row, idx, colReturnDate)),
		})
	}

	l.logger.Debug("loaded returns", "rows", len(set.Records), "notes", len(set.Notes))
	return set, nil
}

// lineRevenue prefers a positive explicit line total and otherwise falls
// back to quantity × price − discount.
func lineRevenue(o model.OrderRecord) float64 {
	if o.LineTotal > 0 {
		return o.LineTotal
	}
	return o.Quantity*o.ItemPrice - o.DiscountAmount
}

func (l *CSVLoader) read(r io.Reader, dataset string) ([]string, [][]string, error) {
	if r == nil {
		return nil, nil, &common.ValidationError{Dataset: dataset, Reason: "no file provided"}
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, &common.ValidationError{Dataset: dataset, Reason: "file is empty"}
	}
	if err != nil {
		return nil, nil, &common.ValidationError{Dataset: dataset, Reason: fmt.Sprintf("unreadable CSV: %v", err)}
	}

	var rows [][]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, &common.ValidationError{Dataset: dataset, Reason: fmt.Sprintf("unreadable CSV: %v", err)}
		}
		if blankRow(row) {
			continue
		}
		rows = append(rows, row)
		if l.maxRows > 0 && len(rows) > l.maxRows {
			return nil, nil, &common.ValidationError{
				Dataset: dataset,
				Reason:  fmt.Sprintf("more than %d rows", l.maxRows),
			}
		}
	}
	return header, rows, nil
}
