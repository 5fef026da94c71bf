// Package assign maps parsed invoice lines onto ledger account and tax
// codes using a three-tier rule table. Assignment never aborts a run: lines
// nothing matches fall back to the global default and are flagged.
package assign

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"invoicebridge/internal/entity"
)

type Assigner struct {
	logger *slog.Logger
}

func NewAssigner(logger *slog.Logger) *Assigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assigner{logger: logger}
}

// Assign produces exactly one assignment per line item. Precedence per
// line, highest first: vendor override, keyword match, global default.
// Tier-3 fallthrough is flagged needs_review; a parsed line tax rate that
// disagrees with the assigned tax code is reported, never corrected.
func (a *Assigner) Assign(draft *entity.InvoiceDraft, vendorID int64, rules *Rules) entity.AccountAssignment {
	out := entity.AccountAssignment{Lines: make([]entity.LineAssignment, 0, len(draft.LineItems))}

	override, hasOverride := rules.VendorOverrides[strconv.FormatInt(vendorID, 10)]

	for i, item := range draft.LineItems {
		la := entity.LineAssignment{LineIndex: i}

		switch {
		case hasOverride:
			la.AccountCode = override.AccountCode
			la.TaxCode = override.TaxCode
			la.Tier = entity.TierVendorOverride
		default:
			if rule, ok := matchKeyword(rules.KeywordRules, item.Description); ok {
				la.AccountCode = rule.AccountCode
				la.TaxCode = rule.TaxCode
				la.Tier = entity.TierKeyword
			} else {
				la.AccountCode = rules.Default.AccountCode
				la.TaxCode = rules.Default.TaxCode
				la.Tier = entity.TierDefault
				la.NeedsReview = true
			}
		}
		if la.TaxCode == "" {
			la.TaxCode = rules.Default.TaxCode
		}

		if msg := taxMismatch(item.TaxRate, la.TaxCode); msg != "" {
			la.TaxMismatch = msg
			a.logger.Warn("assign.tax_mismatch", "line", i, "detail", msg)
		}
		if la.NeedsReview {
			out.NeedsReview = true
		}
		out.Lines = append(out.Lines, la)
	}

	a.logger.Info("assign.done",
		"vendor_id", vendorID,
		"lines", len(out.Lines),
		"needs_review", out.NeedsReview,
	)
	return out
}

var keywordFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldKeyword lowercases and strips diacritics so "Tóner" matches a rule
// keyword written as "toner".
func foldKeyword(s string) string {
	folded, _, err := transform.String(keywordFolder, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

func matchKeyword(rules []KeywordRule, description string) (Rule, bool) {
	desc := foldKeyword(description)
	for _, kr := range rules {
		for _, kw := range kr.Keywords {
			if kw != "" && strings.Contains(desc, foldKeyword(kw)) {
				return kr.Rule, true
			}
		}
	}
	return Rule{}, false
}

// taxMismatch compares the tax rate printed on the line with the assigned
// code, when the code is a bare percentage. Non-numeric codes ("id:NN",
// names) are resolved later by the ledger and cannot be compared here.
func taxMismatch(lineRate float64, taxCode string) string {
	if lineRate == 0 {
		return ""
	}
	codeRate, err := strconv.ParseFloat(strings.TrimSpace(taxCode), 64)
	if err != nil {
		return ""
	}
	if math.Abs(codeRate-lineRate) > 0.01 {
		return fmt.Sprintf("line tax %.2f%% != assigned tax code %s%%", lineRate, taxCode)
	}
	return ""
}
