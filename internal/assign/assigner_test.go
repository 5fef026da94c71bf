package assign

import (
	"testing"

	"invoicebridge/internal/entity"
)

func testRules() *Rules {
	return &Rules{
		VendorOverrides: map[string]Rule{
			"42": {AccountCode: "629000", TaxCode: "10"},
		},
		KeywordRules: []KeywordRule{
			{Keywords: []string{"papel", "toner"}, Rule: Rule{AccountCode: "602000", TaxCode: "21"}},
			{Keywords: []string{"hosting", "cloud"}, Rule: Rule{AccountCode: "623000"}},
		},
		Default: Rule{AccountCode: "600000", TaxCode: "21"},
	}
}

func draftWith(lines ...entity.LineItem) *entity.InvoiceDraft {
	return &entity.InvoiceDraft{LineItems: lines}
}

func TestAssignVendorOverrideBeatsKeywords(t *testing.T) {
	draft := draftWith(entity.LineItem{Description: "Papel A4", Amount: 1200})
	got := NewAssigner(nil).Assign(draft, 42, testRules())

	if len(got.Lines) != 1 {
		t.Fatalf("lines = %+v", got.Lines)
	}
	la := got.Lines[0]
	if la.AccountCode != "629000" || la.TaxCode != "10" || la.Tier != entity.TierVendorOverride {
		t.Errorf("assignment = %+v", la)
	}
	if got.NeedsReview {
		t.Error("override assignment flagged for review")
	}
}

func TestAssignKeywordMatch(t *testing.T) {
	draft := draftWith(
		entity.LineItem{Description: "Tóner HP negro", Amount: 4800},
		entity.LineItem{Description: "Cloud hosting March", Amount: 9900},
	)
	got := NewAssigner(nil).Assign(draft, 7, testRules())

	if got.Lines[0].AccountCode != "602000" || got.Lines[0].Tier != entity.TierKeyword {
		t.Errorf("line 0 = %+v", got.Lines[0])
	}
	// empty keyword tax code inherits the default
	if got.Lines[1].AccountCode != "623000" || got.Lines[1].TaxCode != "21" {
		t.Errorf("line 1 = %+v", got.Lines[1])
	}
	if got.NeedsReview {
		t.Error("keyword assignments flagged for review")
	}
}

func TestAssignDefaultFallthroughFlags(t *testing.T) {
	draft := draftWith(entity.LineItem{Description: "Miscelánea", Amount: 500})
	got := NewAssigner(nil).Assign(draft, 7, testRules())

	la := got.Lines[0]
	if la.AccountCode != "600000" || la.Tier != entity.TierDefault || !la.NeedsReview {
		t.Errorf("assignment = %+v", la)
	}
	if !got.NeedsReview {
		t.Error("default fallthrough must flag the assignment")
	}
}

func TestAssignTaxMismatchReportedNotCorrected(t *testing.T) {
	draft := draftWith(entity.LineItem{Description: "Papel A4", Amount: 1200, TaxRate: 10})
	got := NewAssigner(nil).Assign(draft, 7, testRules())

	la := got.Lines[0]
	if la.TaxMismatch == "" {
		t.Fatal("mismatch between line rate 10 and code 21 not reported")
	}
	if la.TaxCode != "21" {
		t.Errorf("tax code changed to %q, must stay at the rule's value", la.TaxCode)
	}
}

func TestAssignNonNumericTaxCodeSkipsComparison(t *testing.T) {
	rules := testRules()
	rules.KeywordRules[0].TaxCode = "id:33"
	draft := draftWith(entity.LineItem{Description: "Papel A4", Amount: 1200, TaxRate: 10})
	got := NewAssigner(nil).Assign(draft, 7, rules)

	if got.Lines[0].TaxMismatch != "" {
		t.Errorf("non-numeric code compared: %q", got.Lines[0].TaxMismatch)
	}
}

func TestAssignOnePerLine(t *testing.T) {
	draft := draftWith(
		entity.LineItem{Description: "a", Amount: 1},
		entity.LineItem{Description: "b", Amount: 2},
		entity.LineItem{Description: "c", Amount: 3},
	)
	got := NewAssigner(nil).Assign(draft, 7, testRules())
	if len(got.Lines) != 3 {
		t.Fatalf("got %d assignments, want 3", len(got.Lines))
	}
	for i, la := range got.Lines {
		if la.LineIndex != i {
			t.Errorf("line %d has index %d", i, la.LineIndex)
		}
	}
}
