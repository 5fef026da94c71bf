package entity

// MatchStatus is the terminal state of a vendor resolution.
type MatchStatus string

const (
	MatchStatusMatched   MatchStatus = "matched"
	MatchStatusAmbiguous MatchStatus = "ambiguous"
	MatchStatusNotFound  MatchStatus = "not_found"
)

// VendorRecord mirrors a supplier partner in the ledger system.
type VendorRecord struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	TaxID     string `json:"tax_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	BillCount int    `json:"bill_count,omitempty"` // historical vendor-bill count, used for ranking
}

// VendorCandidate is one scored directory hit.
type VendorCandidate struct {
	Vendor VendorRecord `json:"vendor"`
	Score  float64      `json:"score"` // 0..1 name similarity; 1.0 for tax-ID hits
}

// VendorMatch is the outcome of vendor resolution. Ambiguous and not_found
// outcomes are terminal until the caller supplies a confirmation decision;
// the resolver never creates a vendor on its own.
type VendorMatch struct {
	Status     MatchStatus       `json:"status"`
	VendorID   int64             `json:"vendor_id,omitempty"`
	Candidates []VendorCandidate `json:"candidates,omitempty"`
	Proposed   *VendorRecord     `json:"proposed_record,omitempty"`
}
