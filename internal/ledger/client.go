// Package ledger talks to the external accounting system of record. The
// pipeline treats it as a remote transactional store: every write must be
// safely retryable, and uniqueness conflicts are outcomes, not errors.
package ledger

import (
	"context"
	"errors"
	"time"

	"invoicebridge/internal/common"
	"invoicebridge/internal/entity"
)

// BillQuery is the idempotency probe key: a bill already carrying the same
// vendor + invoice number + total (or the same attachment checksum) makes a
// resubmission a duplicate.
type BillQuery struct {
	VendorID      int64
	InvoiceNumber string
	GrandTotal    entity.Cents
	ChecksumSHA1  string
}

// BillLine is one ledger bill line with resolved account/tax identifiers.
type BillLine struct {
	Description string
	Quantity    float64
	UnitPrice   float64
	AccountID   int64
	TaxID       int64
}

// BillInput is the vendor-bill record to create.
type BillInput struct {
	VendorID      int64
	InvoiceNumber string
	IssueDate     *time.Time
	DueDate       *time.Time
	Currency      string
	Lines         []BillLine
}

// Attachment is the source document uploaded onto the created bill.
type Attachment struct {
	Filename     string
	MIMEType     string
	Data         []byte
	ChecksumSHA1 string
}

// Client is everything the pipeline needs from the ledger. The production
// implementation speaks JSON-RPC to an Odoo-style ERP; an in-memory
// implementation backs dry runs and tests.
type Client interface {
	// SearchVendorsByTaxID returns active suppliers with this exact tax ID.
	SearchVendorsByTaxID(ctx context.Context, taxID string) ([]entity.VendorRecord, error)
	// SearchVendorsByName returns active suppliers whose name contains the
	// query (ledger-side matching); scoring happens in the resolver.
	SearchVendorsByName(ctx context.Context, name string, limit int) ([]entity.VendorRecord, error)
	// CreateVendor creates a supplier record and returns its identifier.
	// Only called after explicit caller confirmation.
	CreateVendor(ctx context.Context, rec entity.VendorRecord) (int64, error)

	// ResolveAccount maps an account reference (code, "id:NN", or name) to
	// an account identifier.
	ResolveAccount(ctx context.Context, ref string) (int64, error)
	// ResolveTax maps a tax reference (bare percentage, "id:NN", or name)
	// to a purchase tax identifier.
	ResolveTax(ctx context.Context, ref string) (int64, error)

	// FindBill returns the identifier of an existing bill matching the
	// query, or found=false.
	FindBill(ctx context.Context, q BillQuery) (billID int64, found bool, err error)
	// CreateBill creates the vendor bill and returns its identifier.
	CreateBill(ctx context.Context, bill BillInput) (int64, error)
	// AttachDocument uploads the source document onto a bill.
	AttachDocument(ctx context.Context, billID int64, att Attachment) (int64, error)
	// AddNote appends a free-text comment to the bill's message thread.
	// Best effort; implementations should not fail the run over it.
	AddNote(ctx context.Context, billID int64, body string) error
}

// IsTransient reports whether the error is worth retrying: network-level
// failures and server unavailability, as opposed to validation or auth
// rejections.
func IsTransient(err error) bool {
	return errors.Is(err, common.ErrLedgerTransient)
}
