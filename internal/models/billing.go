package models

import "time"

// Client categories used by the automation triggers.
const (
	ClientCategoryPotential = "potential"
	ClientCategoryActive    = "active_customer"
)

// Invoice statuses.
const (
	InvoiceStatusDraft = "draft"
	InvoiceStatusSent  = "sent"
	InvoiceStatusPaid  = "paid"
)

// Form status a job-attached form must reach before work may begin.
const FormStatusCompleted = "completed"

// Client is the billing party for a job. All monetary amounts in this
// package are integer cents.
type Client struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Category string `json:"category"`
}

// Property is the service location for a job.
type Property struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	Address  string `json:"address"`
}

// QuoteLineItem is one priced entry on a quote. Only selected items are
// carried onto the invoice.
type QuoteLineItem struct {
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
	Selected    bool   `json:"selected"`
}

// Quote holds the pricing a completed job is invoiced from.
type Quote struct {
	ID                 string          `json:"id"`
	JobID              string          `json:"job_id"`
	LineItems          []QuoteLineItem `json:"line_items"`
	StumpGrindingCents int64           `json:"stump_grinding_cents,omitempty"`
	AddOnCents         int64           `json:"add_on_cents,omitempty"`
	DiscountCents      int64           `json:"discount_cents,omitempty"`
	TaxRateBasisPoints int64           `json:"tax_rate_basis_points,omitempty"`
}

// InvoiceLineItem is a priced entry on an invoice.
type InvoiceLineItem struct {
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
}

// Invoice is the billing document synthesized when a job completes.
type Invoice struct {
	ID             string            `json:"id"`
	JobID          string            `json:"job_id"`
	ClientID       string            `json:"client_id"`
	Number         string            `json:"number"`
	Status         string            `json:"status"`
	BillingName    string            `json:"billing_name"`
	BillingEmail   string            `json:"billing_email"`
	BillingAddress string            `json:"billing_address"`
	LineItems      []InvoiceLineItem `json:"line_items"`
	SubtotalCents  int64             `json:"subtotal_cents"`
	DiscountCents  int64             `json:"discount_cents"`
	TaxCents       int64             `json:"tax_cents"`
	TotalCents     int64             `json:"total_cents"`
	IssuedAt       time.Time         `json:"issued_at"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
}

// Form is a job-attached form (safety sheet, site checklist, ...).
type Form struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}
