package billing

import "field-service-backend/internal/models"

// LineItemsFromQuote builds invoice line items from a quote: selected quote
// items only, plus stump-grinding and add-on charges when present.
func LineItemsFromQuote(q models.Quote) []models.InvoiceLineItem {
	var items []models.InvoiceLineItem
	for _, li := range q.LineItems {
		if !li.Selected {
			continue
		}
		items = append(items, models.InvoiceLineItem{
			Description: li.Description,
			AmountCents: li.AmountCents,
		})
	}
	if q.StumpGrindingCents > 0 {
		items = append(items, models.InvoiceLineItem{
			Description: "Stump grinding",
			AmountCents: q.StumpGrindingCents,
		})
	}
	if q.AddOnCents > 0 {
		items = append(items, models.InvoiceLineItem{
			Description: "Additional charges",
			AmountCents: q.AddOnCents,
		})
	}
	return items
}

// Totals is the priced summary of an invoice, all integer cents.
type Totals struct {
	SubtotalCents int64
	DiscountCents int64
	TaxCents      int64
	TotalCents    int64
}

// ComputeTotals prices line items: subtotal, then discount, then tax on the
// discounted amount. taxRateBps is the tax rate in basis points. A discount
// larger than the subtotal is clamped so the total never goes negative.
func ComputeTotals(items []models.InvoiceLineItem, discountCents, taxRateBps int64) Totals {
	var subtotal int64
	for _, li := range items {
		subtotal += li.AmountCents
	}
	discount := discountCents
	if discount > subtotal {
		discount = subtotal
	}
	taxable := subtotal - discount
	tax := taxable * taxRateBps / 10000
	return Totals{
		SubtotalCents: subtotal,
		DiscountCents: discount,
		TaxCents:      tax,
		TotalCents:    taxable + tax,
	}
}
