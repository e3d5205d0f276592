package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"field-service-backend/internal/models"
)

func TestLineItemsFromQuoteKeepsSelectedOnly(t *testing.T) {
	quote := models.Quote{
		LineItems: []models.QuoteLineItem{
			{Description: "Remove oak", AmountCents: 50000, Selected: true},
			{Description: "Prune maple", AmountCents: 30000, Selected: true},
			{Description: "Declined extra", AmountCents: 99900, Selected: false},
		},
	}

	items := LineItemsFromQuote(quote)
	require.Len(t, items, 2)
	assert.Equal(t, "Remove oak", items[0].Description)
	assert.Equal(t, int64(50000), items[0].AmountCents)
	assert.Equal(t, "Prune maple", items[1].Description)
}

func TestLineItemsFromQuoteAppendsCharges(t *testing.T) {
	quote := models.Quote{
		LineItems: []models.QuoteLineItem{
			{Description: "Remove oak", AmountCents: 50000, Selected: true},
		},
		StumpGrindingCents: 15000,
		AddOnCents:         2500,
	}

	items := LineItemsFromQuote(quote)
	require.Len(t, items, 3)
	assert.Equal(t, "Stump grinding", items[1].Description)
	assert.Equal(t, int64(15000), items[1].AmountCents)
	assert.Equal(t, "Additional charges", items[2].Description)
	assert.Equal(t, int64(2500), items[2].AmountCents)
}

func TestLineItemsFromQuoteEmpty(t *testing.T) {
	assert.Empty(t, LineItemsFromQuote(models.Quote{}))
}

func TestComputeTotals(t *testing.T) {
	items := []models.InvoiceLineItem{
		{Description: "Remove oak", AmountCents: 100000},
		{Description: "Stump grinding", AmountCents: 20000},
	}

	totals := ComputeTotals(items, 10000, 825)
	assert.Equal(t, int64(120000), totals.SubtotalCents)
	assert.Equal(t, int64(10000), totals.DiscountCents)
	assert.Equal(t, int64(9075), totals.TaxCents)
	assert.Equal(t, int64(119075), totals.TotalCents)
}

func TestComputeTotalsNoTaxNoDiscount(t *testing.T) {
	items := []models.InvoiceLineItem{{AmountCents: 80000}}
	totals := ComputeTotals(items, 0, 0)
	assert.Equal(t, int64(80000), totals.TotalCents)
	assert.Zero(t, totals.TaxCents)
}

func TestComputeTotalsClampsDiscount(t *testing.T) {
	items := []models.InvoiceLineItem{{AmountCents: 5000}}
	totals := ComputeTotals(items, 9000, 1000)
	assert.Equal(t, int64(5000), totals.DiscountCents, "discount never exceeds the subtotal")
	assert.Zero(t, totals.TaxCents)
	assert.Zero(t, totals.TotalCents)
}

func TestComputeTotalsEmpty(t *testing.T) {
	totals := ComputeTotals(nil, 0, 825)
	assert.Zero(t, totals.TotalCents)
}
