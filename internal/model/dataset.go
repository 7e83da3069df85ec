// Package model defines the record types shared by every pipeline stage.
package model

import "time"

// OrderRecord is one order line after column normalisation.
type OrderRecord struct {
	OrderDate      time.Time // zero when absent or unparseable
	OrderID        string
	SKU            string
	Quantity       float64
	ItemPrice      float64
	DiscountAmount float64
	RefundAmount   float64
	LineTotal      float64
	Revenue        float64 // derived at load time
}

// HasDate reports whether the order carried a parseable date.
func (o OrderRecord) HasDate() bool {
	return !o.OrderDate.IsZero()
}

// OrderColumns records which optional order columns were present in the upload.
type OrderColumns struct {
	OrderDate      bool
	DiscountAmount bool
	RefundAmount   bool
	LineTotal      bool
}

// OrderSet is a validated orders dataset.
type OrderSet struct {
	Records []OrderRecord
	Notes   []string
	Columns OrderColumns
}

// Len returns the number of order lines.
func (s *OrderSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// ReturnRecord is one return event.
type ReturnRecord struct {
	ReturnDate time.Time
	SKU        string
	OrderID    string
	ReturnID   string
	Reason     string
	Amount     float64
}

// ReturnColumns records which optional return columns were present in the upload.
type ReturnColumns struct {
	OrderID    bool
	ReturnID   bool
	ReturnDate bool
	Reason     bool
	Amount     bool
}

// ReturnSet is a validated returns dataset.
type ReturnSet struct {
	Records []ReturnRecord
	Notes   []string
	Columns ReturnColumns
}

// Len returns the number of return events; a nil set has none.
func (s *ReturnSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// DatasetMeta summarises the uploaded inputs for the report.
type DatasetMeta struct {
	Currency    string
	Notes       []string
	OrdersRows  int
	ReturnsRows int
}
