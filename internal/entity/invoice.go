package entity

import (
	"fmt"
	"time"
)

// Cents is a monetary amount in minor currency units. All pipeline
// arithmetic happens in minor units; formatting back to decimal strings is
// only done at the ledger and export boundaries.
type Cents int64

// String renders the amount as a plain decimal with two fraction digits.
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Float64 converts to major units for ledger payloads.
func (c Cents) Float64() float64 { return float64(c) / 100 }

// TotalsTolerance is the reconciliation slack for subtotal+tax vs grand
// total: one minor currency unit.
const TotalsTolerance Cents = 1

// LineItem is a parsed invoice line.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   Cents   `json:"unit_price"`
	TaxRate     float64 `json:"tax_rate"` // percent, 0 when not printed on the line
	Amount      Cents   `json:"amount"`
}

// InvoiceDraft is the structured record built up by the field parser. Fields
// the parser could not determine stay at their zero value and are listed in
// Unresolved.
type InvoiceDraft struct {
	VendorName    string     `json:"vendor_name"`
	VendorTaxID   string     `json:"vendor_tax_id,omitempty"`
	VendorEmail   string     `json:"vendor_email,omitempty"`
	InvoiceNumber string     `json:"invoice_number"`
	IssueDate     *time.Time `json:"issue_date,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	Currency      string     `json:"currency"`
	LineItems     []LineItem `json:"line_items"`
	Subtotal      Cents      `json:"subtotal"`
	TaxTotal      Cents      `json:"tax_total"`
	GrandTotal    Cents      `json:"grand_total"`

	NeedsReview bool     `json:"needs_review"`
	Unresolved  []string `json:"unresolved,omitempty"`
}

// Flag marks the draft for human review and records which field triggered it.
func (d *InvoiceDraft) Flag(field string) {
	d.NeedsReview = true
	for _, u := range d.Unresolved {
		if u == field {
			return
		}
	}
	d.Unresolved = append(d.Unresolved, field)
}

// TotalsReconcile reports whether grand_total matches subtotal+tax_total
// within TotalsTolerance. Drafts missing any of the three totals never
// reconcile.
func (d *InvoiceDraft) TotalsReconcile() bool {
	if d.GrandTotal == 0 {
		return false
	}
	diff := d.GrandTotal - (d.Subtotal + d.TaxTotal)
	if diff < 0 {
		diff = -diff
	}
	return diff <= TotalsTolerance
}
