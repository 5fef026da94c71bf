package llm

import (
	"testing"
	"time"

	"invoicebridge/internal/common"
	"invoicebridge/internal/entity"
)

func TestNewExtractorDisabledWithoutKey(t *testing.T) {
	if e := NewExtractor(common.LLMConfig{}, nil); e != nil {
		t.Error("extractor enabled without an API key")
	}
}

func TestMergeFillsOnlyEmptyFields(t *testing.T) {
	e := &Extractor{}
	issue := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	draft := &entity.InvoiceDraft{
		VendorName: "Parsed Vendor SL",
		IssueDate:  &issue,
		GrandTotal: 7260,
	}

	var p extractionPayload
	p.VendorName = "Model Vendor"
	p.InvoiceNumber = "F-99"
	p.Currency = "EUR"
	p.GrandTotal = 99.99
	p.IssueDate = "2024-12-31"
	p.DueDate = "2024-04-01"

	filled := e.merge(draft, p)

	if draft.VendorName != "Parsed Vendor SL" {
		t.Error("parser value overwritten by the model")
	}
	if draft.GrandTotal != 7260 {
		t.Error("parsed total overwritten")
	}
	if draft.IssueDate.Format(time.DateOnly) != "2024-03-01" {
		t.Error("parsed issue date overwritten")
	}
	if draft.InvoiceNumber != "F-99" || draft.Currency != "EUR" {
		t.Errorf("empty fields not filled: %+v", draft)
	}
	if draft.DueDate == nil || draft.DueDate.Format(time.DateOnly) != "2024-04-01" {
		t.Errorf("due date = %v", draft.DueDate)
	}
	for _, f := range filled {
		if f == "vendor_name" || f == "grand_total" || f == "issue_date" {
			t.Errorf("reported filling already-set field %q", f)
		}
	}
}

func TestMergeModelLineItemsAreFlagged(t *testing.T) {
	e := &Extractor{}
	draft := &entity.InvoiceDraft{}
	var p extractionPayload
	p.LineItems = append(p.LineItems, struct {
		Description string  `json:"description"`
		Quantity    float64 `json:"quantity"`
		UnitPrice   float64 `json:"unit_price"`
		TaxRate     float64 `json:"tax_rate"`
		Amount      float64 `json:"amount"`
	}{Description: "Servicio", Quantity: 1, UnitPrice: 60, Amount: 60})

	e.merge(draft, p)

	if len(draft.LineItems) != 1 || draft.LineItems[0].Amount != 6000 {
		t.Fatalf("line items = %+v", draft.LineItems)
	}
	if !draft.NeedsReview {
		t.Error("model-sourced line items must be flagged for review")
	}
}

func TestExtractionSchemaRejectsBadOutput(t *testing.T) {
	bad := []any{
		map[string]any{"issue_date": "31/12/2024"},
		map[string]any{"currency": "euros"},
		map[string]any{"line_items": []any{map[string]any{"quantity": 1.0}}},
		map[string]any{"hallucinated_field": true},
	}
	for i, doc := range bad {
		if err := compiledExtractionSchema.Validate(doc); err == nil {
			t.Errorf("case %d accepted: %+v", i, doc)
		}
	}

	good := map[string]any{
		"vendor_name": "Lopez SL",
		"grand_total": 72.6,
		"issue_date":  "2024-03-15",
		"currency":    "EUR",
	}
	if err := compiledExtractionSchema.Validate(good); err != nil {
		t.Errorf("valid output rejected: %v", err)
	}
}

func TestDecodeBase64Forgiving(t *testing.T) {
	want := "hello world"
	tests := []string{
		"aGVsbG8gd29ybGQ=",
		"aGVsbG8gd29ybGQ",
		"aGVsbG8g\nd29ybGQ=",
		"  aGVsbG8gd29ybGQ=  ",
	}
	for _, in := range tests {
		got, err := DecodeBase64(in)
		if err != nil || string(got) != want {
			t.Errorf("DecodeBase64(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := DecodeBase64("!!not base64!!"); err == nil {
		t.Error("garbage accepted")
	}
}
