package submit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"invoicebridge/internal/common"
	"invoicebridge/internal/entity"
	"invoicebridge/internal/ledger"
)

// fakeClient scripts ledger behavior per call site.
type fakeClient struct {
	findResults []findResult // consumed in order; last one repeats
	createErrs  []error      // consumed in order; nil means success
	attachErr   error

	creates  int
	finds    int
	attaches int
	notes    []string
	lastBill ledger.BillInput
}

type findResult struct {
	billID int64
	found  bool
	err    error
}

func (f *fakeClient) FindBill(context.Context, ledger.BillQuery) (int64, bool, error) {
	var r findResult
	if f.finds < len(f.findResults) {
		r = f.findResults[f.finds]
	} else if len(f.findResults) > 0 {
		r = f.findResults[len(f.findResults)-1]
	}
	f.finds++
	return r.billID, r.found, r.err
}

func (f *fakeClient) CreateBill(_ context.Context, bill ledger.BillInput) (int64, error) {
	var err error
	if f.creates < len(f.createErrs) {
		err = f.createErrs[f.creates]
	}
	f.creates++
	if err != nil {
		return 0, err
	}
	f.lastBill = bill
	return 501, nil
}

func (f *fakeClient) AttachDocument(_ context.Context, _ int64, _ ledger.Attachment) (int64, error) {
	f.attaches++
	return 1, f.attachErr
}

func (f *fakeClient) AddNote(_ context.Context, _ int64, body string) error {
	f.notes = append(f.notes, body)
	return nil
}

func (f *fakeClient) SearchVendorsByTaxID(context.Context, string) ([]entity.VendorRecord, error) {
	return nil, nil
}
func (f *fakeClient) SearchVendorsByName(context.Context, string, int) ([]entity.VendorRecord, error) {
	return nil, nil
}
func (f *fakeClient) CreateVendor(context.Context, entity.VendorRecord) (int64, error) { return 0, nil }

func (f *fakeClient) ResolveAccount(_ context.Context, ref string) (int64, error) {
	if ref == "600000" {
		return 10, nil
	}
	return 0, fmt.Errorf("%w: account %q", common.ErrNotFound, ref)
}

func (f *fakeClient) ResolveTax(_ context.Context, ref string) (int64, error) {
	if ref == "21" {
		return 20, nil
	}
	return 0, fmt.Errorf("%w: tax %q", common.ErrNotFound, ref)
}

func testDraft() *entity.InvoiceDraft {
	return &entity.InvoiceDraft{
		VendorName:    "Suministros Lopez SL",
		InvoiceNumber: "2024-0042",
		GrandTotal:    7260,
		LineItems: []entity.LineItem{
			{Description: "Papel A4", Quantity: 10, UnitPrice: 120, Amount: 1200},
		},
	}
}

func testAssignment() entity.AccountAssignment {
	return entity.AccountAssignment{Lines: []entity.LineAssignment{
		{LineIndex: 0, AccountCode: "600000", TaxCode: "21", Tier: entity.TierDefault},
	}}
}

func testRaw() entity.RawDocument {
	return entity.RawDocument{Filename: "invoice.pdf", MIMEType: "application/pdf", Data: []byte("%PDF-1.4")}
}

func fastSubmitter(client ledger.Client) *Submitter {
	return NewSubmitter(Config{
		BackoffSchedule: []time.Duration{time.Millisecond, time.Millisecond},
	}, client, nil)
}

func TestSubmitCreatesBill(t *testing.T) {
	fc := &fakeClient{}
	res, err := fastSubmitter(fc).Submit(context.Background(), testDraft(), testRaw(), 7, testAssignment())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != entity.SubmissionCreated || res.BillID != 501 {
		t.Fatalf("result = %+v", res)
	}
	if fc.creates != 1 || fc.attaches != 1 || len(fc.notes) != 1 {
		t.Errorf("creates=%d attaches=%d notes=%d", fc.creates, fc.attaches, len(fc.notes))
	}
	if len(fc.lastBill.Lines) != 1 || fc.lastBill.Lines[0].AccountID != 10 || fc.lastBill.Lines[0].TaxID != 20 {
		t.Errorf("bill lines = %+v", fc.lastBill.Lines)
	}
}

func TestSubmitDuplicateSkipsCreate(t *testing.T) {
	fc := &fakeClient{findResults: []findResult{{billID: 99, found: true}}}
	res, err := fastSubmitter(fc).Submit(context.Background(), testDraft(), testRaw(), 7, testAssignment())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != entity.SubmissionDuplicate || res.BillID != 99 {
		t.Fatalf("result = %+v", res)
	}
	if fc.creates != 0 {
		t.Error("duplicate must not create")
	}
}

func TestSubmitRetriesTransientCreate(t *testing.T) {
	fc := &fakeClient{
		createErrs: []error{fmt.Errorf("%w: boom", common.ErrLedgerTransient), nil},
	}
	res, err := fastSubmitter(fc).Submit(context.Background(), testDraft(), testRaw(), 7, testAssignment())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != entity.SubmissionCreated || fc.creates != 2 {
		t.Fatalf("result = %+v, creates = %d", res, fc.creates)
	}
}

func TestSubmitRecoversBillCreatedDuringTimeout(t *testing.T) {
	// first create times out but committed server-side; the pre-retry probe
	// finds it and no second create happens
	fc := &fakeClient{
		findResults: []findResult{{found: false}, {billID: 77, found: true}},
		createErrs:  []error{fmt.Errorf("%w: timeout", common.ErrLedgerTransient)},
	}
	res, err := fastSubmitter(fc).Submit(context.Background(), testDraft(), testRaw(), 7, testAssignment())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != entity.SubmissionCreated || res.BillID != 77 {
		t.Fatalf("result = %+v", res)
	}
	if fc.creates != 1 {
		t.Errorf("creates = %d, want 1", fc.creates)
	}
}

func TestSubmitExhaustedRetriesEscalate(t *testing.T) {
	transient := fmt.Errorf("%w: down", common.ErrLedgerTransient)
	fc := &fakeClient{createErrs: []error{transient, transient, transient}}
	res, err := fastSubmitter(fc).Submit(context.Background(), testDraft(), testRaw(), 7, testAssignment())
	if !errors.Is(err, common.ErrLedgerUnavailable) {
		t.Fatalf("err = %v, want LedgerUnavailable", err)
	}
	if res.Status != entity.SubmissionFailed {
		t.Errorf("status = %s", res.Status)
	}
}

func TestSubmitRejectionIsNotRetried(t *testing.T) {
	fc := &fakeClient{createErrs: []error{fmt.Errorf("%w: bad vendor", common.ErrLedgerRejected)}}
	res, err := fastSubmitter(fc).Submit(context.Background(), testDraft(), testRaw(), 7, testAssignment())
	if !errors.Is(err, common.ErrLedgerRejected) {
		t.Fatalf("err = %v", err)
	}
	if fc.creates != 1 {
		t.Errorf("creates = %d, rejection must not retry", fc.creates)
	}
	if res.Status != entity.SubmissionFailed {
		t.Errorf("status = %s", res.Status)
	}
}

func TestSubmitAttachFailureIsWarning(t *testing.T) {
	fc := &fakeClient{attachErr: errors.New("attachment store down")}
	res, err := fastSubmitter(fc).Submit(context.Background(), testDraft(), testRaw(), 7, testAssignment())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != entity.SubmissionCreated {
		t.Fatalf("status = %s", res.Status)
	}
	if res.AttachmentWarning == "" {
		t.Error("attach failure must surface as a warning")
	}
}

func TestSubmitUnresolvedAccountDegrades(t *testing.T) {
	fc := &fakeClient{}
	assignment := entity.AccountAssignment{Lines: []entity.LineAssignment{
		{LineIndex: 0, AccountCode: "999999", TaxCode: "21"},
	}}
	res, err := fastSubmitter(fc).Submit(context.Background(), testDraft(), testRaw(), 7, assignment)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != entity.SubmissionCreated || !res.NeedsReview {
		t.Fatalf("result = %+v", res)
	}
	if fc.lastBill.Lines[0].AccountID != 0 {
		t.Errorf("unresolvable account resolved to %d", fc.lastBill.Lines[0].AccountID)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"invoice.pdf", "invoice.pdf"},
		{"../../etc/passwd", "passwd"},
		{"fact 2024/03 §.pdf", "03 _.pdf"},
		{"", "document"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
