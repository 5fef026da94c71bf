package entity

// AssignmentTier records which rule tier produced a line assignment.
type AssignmentTier int

const (
	TierVendorOverride AssignmentTier = 1
	TierKeyword        AssignmentTier = 2
	TierDefault        AssignmentTier = 3
)

// LineAssignment maps one invoice line to ledger account and tax codes.
type LineAssignment struct {
	LineIndex   int            `json:"line_index"`
	AccountCode string         `json:"account_code"`
	TaxCode     string         `json:"tax_code"`
	Tier        AssignmentTier `json:"tier"`
	NeedsReview bool           `json:"needs_review"`
	// TaxMismatch is set when the parsed line tax rate disagrees with the
	// assigned tax code. Reported, never auto-corrected.
	TaxMismatch string `json:"tax_mismatch,omitempty"`
}

// AccountAssignment is the full mapping for a draft, attached before
// submission. Every line item receives exactly one entry.
type AccountAssignment struct {
	Lines       []LineAssignment `json:"lines"`
	NeedsReview bool             `json:"needs_review"`
}
