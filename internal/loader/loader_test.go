package loader

import (
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVLoader_LoadOrders(t *testing.T) {
	l := New()

	t.Run("full schema", func(t *testing.T) {
		csv := "order_id,sku,quantity,item_price,order_date,discount_amount,refund_amount,line_total\n" +
			"1,A,2,5,2025-01-01,0,0,10\n" +
			"2,B,1,20,2025-01-03,5,3,\n"
		set, err := l.LoadOrders(strings.NewReader(csv))
		require.NoError(t, err)
		require.Len(t, set.Records, 2)
		assert.Empty(t, set.Notes)

		assert.InDelta(t, 10.0, set.Records[0].Revenue, 1e-9)
		// no line total, so quantity × price − discount
		assert.InDelta(t, 15.0, set.Records[1].Revenue, 1e-9)
		assert.InDelta(t, 3.0, set.Records[1].RefundAmount, 1e-9)
		assert.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), set.Records[1].OrderDate)
		assert.True(t, set.Columns.LineTotal)
		assert.True(t, set.Columns.RefundAmount)
	})

	t.Run("non-positive line total falls back", func(t *testing.T) {
		csv := "order_id,sku,quantity,item_price,line_total\n1,A,3,4,0\n2,A,1,4,-2\n"
		set, err := l.LoadOrders(strings.NewReader(csv))
		require.NoError(t, err)
		assert.InDelta(t, 12.0, set.Records[0].Revenue, 1e-9)
		assert.InDelta(t, 4.0, set.Records[1].Revenue, 1e-9)
	})

	t.Run("minimal schema emits notes", func(t *testing.T) {
		csv := "order_id,sku,quantity,item_price\n1,A,2,5\n"
		set, err := l.LoadOrders(strings.NewReader(csv))
		require.NoError(t, err)
		assert.Equal(t, []string{NoteNoOrderDate, NoteNoRevenueInputs, NoteNoRefundAmount}, set.Notes)
		assert.InDelta(t, 10.0, set.Records[0].Revenue, 1e-9)
		assert.False(t, set.Records[0].HasDate())
	})

	t.Run("missing required column", func(t *testing.T) {
		csv := "order_id,quantity,item_price\n1,2,5\n"
		_, err := l.LoadOrders(strings.NewReader(csv))
		require.Error(t, err)

		var ve *common.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, OrdersDataset, ve.Dataset)
		assert.Equal(t, []string{"sku"}, ve.Missing)
		assert.Equal(t, "orders_file is missing required columns: sku", err.Error())
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := l.LoadOrders(strings.NewReader(""))
		require.Error(t, err)
		assert.True(t, common.IsValidationError(err))
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("headers normalised and aliased", func(t *testing.T) {
		csv := "\ufeffOrder Number, Product SKU ,Qty,Unit Price,Date\n" +
			"1001,SKU-1,2,\"$1,250.00\",01/15/2025\n"
		set, err := l.LoadOrders(strings.NewReader(csv))
		require.NoError(t, err)
		require.Len(t, set.Records, 1)

		rec := set.Records[0]
		assert.Equal(t, "1001", rec.OrderID)
		assert.Equal(t, "SKU-1", rec.SKU)
		assert.InDelta(t, 2500.0, rec.Revenue, 1e-9)
		assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), rec.OrderDate)
		assert.NotContains(t, set.Notes, NoteNoOrderDate)
	})

	t.Run("canonical header beats alias", func(t *testing.T) {
		csv := "order_id,order_number,sku,quantity,item_price\nreal,alias,A,1,1\n"
		set, err := l.LoadOrders(strings.NewReader(csv))
		require.NoError(t, err)
		assert.Equal(t, "real", set.Records[0].OrderID)
	})

	t.Run("lenient numbers and blank rows", func(t *testing.T) {
		csv := "order_id,sku,quantity,item_price,order_date\n" +
			"1,A,two,5,not-a-date\n" +
			",,,,\n" +
			"2,A,1,n/a,2025-02-01\n"
		set, err := l.LoadOrders(strings.NewReader(csv))
		require.NoError(t, err)
		require.Len(t, set.Records, 2)
		assert.Zero(t, set.Records[0].Revenue)
		assert.False(t, set.Records[0].HasDate())
		assert.Zero(t, set.Records[1].Revenue)
	})

	t.Run("row cap", func(t *testing.T) {
		capped := New(WithMaxRows(1))
		csv := "order_id,sku,quantity,item_price\n1,A,1,1\n2,A,1,1\n"
		_, err := capped.LoadOrders(strings.NewReader(csv))
		require.Error(t, err)
		assert.True(t, common.IsValidationError(err))
	})
}

func TestCSVLoader_LoadReturns(t *testing.T) {
	l := New()

	t.Run("full schema", func(t *testing.T) {
		csv := "return_id,order_id,sku,return_date,return_reason_text,return_amount\n" +
			"r1,1,A,2025-01-05,Too small,10\n"
		set, err := l.LoadReturns(strings.NewReader(csv))
		require.NoError(t, err)
		require.Len(t, set.Records, 1)
		assert.Empty(t, set.Notes)
		assert.Equal(t, "Too small", set.Records[0].Reason)
		assert.InDelta(t, 10.0, set.Records[0].Amount, 1e-9)
		assert.True(t, set.Columns.Reason)
	})

	t.Run("sku only", func(t *testing.T) {
		set, err := l.LoadReturns(strings.NewReader("SKU\nA\nB\n"))
		require.NoError(t, err)
		assert.Equal(t, 2, set.Len())
		assert.Equal(t, []string{NoteNoReturnReason, NoteNoReturnAmount}, set.Notes)
	})

	t.Run("missing sku", func(t *testing.T) {
		_, err := l.LoadReturns(strings.NewReader("order_id,reason\n1,broken\n"))
		require.Error(t, err)
		assert.Equal(t, "returns_file is missing required columns: sku", err.Error())
	})

	t.Run("reason alias", func(t *testing.T) {
		set, err := l.LoadReturns(strings.NewReader("sku,Reason\nA,Broken on arrival\n"))
		require.NoError(t, err)
		assert.Equal(t, "Broken on arrival", set.Records[0].Reason)
		assert.NotContains(t, set.Notes, NoteNoReturnReason)
	})
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"12.5", 12.5},
		{" 7 ", 7},
		{"$1,000.25", 1000.25},
		{"(5.00)", -5},
		{"-3", -3},
		{"abc", 0},
		{"NaN", 0},
		{"Inf", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, parseNumber(tt.in), 1e-9)
		})
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2025-03-09", "2025/03/09", "03/09/2025", "3/9/2025", "Mar 9, 2025"} {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, parseDate(in))
		})
	}
	assert.True(t, parseDate("2025-03-09T10:30:00Z").After(want))
	assert.True(t, parseDate("garbage").IsZero())
}
