// Package submit turns a resolved, account-assigned invoice draft into a
// vendor bill in the ledger. Creation is idempotent: a duplicate probe runs
// before every create attempt, so a retried or replayed submission can never
// post the same invoice twice.
package submit

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"invoicebridge/internal/common"
	"invoicebridge/internal/entity"
	"invoicebridge/internal/ledger"
)

type Config struct {
	// BackoffSchedule is the wait between retries of transient ledger
	// failures; its length bounds the attempt count.
	BackoffSchedule    []time.Duration
	MaxAttachmentBytes int64
}

type Submitter struct {
	cfg    Config
	client ledger.Client
	logger *slog.Logger
}

func NewSubmitter(cfg Config, client ledger.Client, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.BackoffSchedule) == 0 {
		cfg.BackoffSchedule = []time.Duration{2 * time.Second, 5 * time.Second, 15 * time.Second}
	}
	if cfg.MaxAttachmentBytes <= 0 {
		cfg.MaxAttachmentBytes = 20 << 20
	}
	return &Submitter{cfg: cfg, client: client, logger: logger}
}

// Submit creates the vendor bill for the draft, or reports the existing one.
//
// Unresolvable account or tax references degrade the affected line and flag
// the result for review rather than failing the run; only ledger rejection
// or exhausted retries produce a failed result.
func (s *Submitter) Submit(ctx context.Context, draft *entity.InvoiceDraft, raw entity.RawDocument, vendorID int64, assignment entity.AccountAssignment) (entity.SubmissionResult, error) {
	res := entity.SubmissionResult{
		NeedsReview: draft.NeedsReview || assignment.NeedsReview,
		Unresolved:  append([]string(nil), draft.Unresolved...),
	}

	sum := sha1.Sum(raw.Data)
	checksum := hex.EncodeToString(sum[:])

	query := ledger.BillQuery{
		VendorID:      vendorID,
		InvoiceNumber: draft.InvoiceNumber,
		GrandTotal:    draft.GrandTotal,
		ChecksumSHA1:  checksum,
	}

	if billID, found, err := s.findBill(ctx, query); err != nil {
		return s.failed(res, err), err
	} else if found {
		s.logger.Info("submit.duplicate", "bill_id", billID, "ref", draft.InvoiceNumber)
		res.Status = entity.SubmissionDuplicate
		res.BillID = billID
		return res, nil
	}

	bill, err := s.buildBill(ctx, draft, vendorID, assignment, &res)
	if err != nil {
		return s.failed(res, err), err
	}

	billID, err := s.createBill(ctx, query, bill)
	if err != nil {
		return s.failed(res, err), err
	}
	res.Status = entity.SubmissionCreated
	res.BillID = billID

	s.attach(ctx, billID, raw, checksum, &res)
	s.annotate(ctx, billID, draft, res)

	s.logger.Info("submit.done",
		"bill_id", billID,
		"vendor_id", vendorID,
		"ref", draft.InvoiceNumber,
		"needs_review", res.NeedsReview,
	)
	return res, nil
}

// buildBill resolves account/tax references for every assigned line. A
// reference the ledger does not know degrades that line to the ledger's own
// defaults and flags the result.
func (s *Submitter) buildBill(ctx context.Context, draft *entity.InvoiceDraft, vendorID int64, assignment entity.AccountAssignment, res *entity.SubmissionResult) (ledger.BillInput, error) {
	accountIDs := map[string]int64{}
	taxIDs := map[string]int64{}

	lines := make([]ledger.BillLine, 0, len(draft.LineItems))
	for i, item := range draft.LineItems {
		line := ledger.BillLine{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.Float64(),
		}
		if item.Quantity == 0 {
			line.Quantity = 1
			line.UnitPrice = item.Amount.Float64()
		}

		var la entity.LineAssignment
		if i < len(assignment.Lines) {
			la = assignment.Lines[i]
		}

		if la.AccountCode != "" {
			id, ok, err := s.resolveRef(ctx, accountIDs, la.AccountCode, s.client.ResolveAccount)
			if err != nil {
				return ledger.BillInput{}, err
			}
			if !ok {
				res.NeedsReview = true
				res.Unresolved = appendUnique(res.Unresolved, fmt.Sprintf("line %d: account %q", i, la.AccountCode))
			}
			line.AccountID = id
		}
		if la.TaxCode != "" {
			id, ok, err := s.resolveRef(ctx, taxIDs, la.TaxCode, s.client.ResolveTax)
			if err != nil {
				return ledger.BillInput{}, err
			}
			if !ok {
				res.NeedsReview = true
				res.Unresolved = appendUnique(res.Unresolved, fmt.Sprintf("line %d: tax %q", i, la.TaxCode))
			}
			line.TaxID = id
		}
		if la.TaxMismatch != "" {
			res.NeedsReview = true
			res.Unresolved = appendUnique(res.Unresolved, fmt.Sprintf("line %d: %s", i, la.TaxMismatch))
		}
		lines = append(lines, line)
	}

	return ledger.BillInput{
		VendorID:      vendorID,
		InvoiceNumber: draft.InvoiceNumber,
		IssueDate:     draft.IssueDate,
		DueDate:       draft.DueDate,
		Currency:      draft.Currency,
		Lines:         lines,
	}, nil
}

// resolveRef memoizes reference lookups within one submission. A NotFound
// outcome is cached as zero and reported via ok=false; transient failures
// are retried before being escalated.
func (s *Submitter) resolveRef(ctx context.Context, cache map[string]int64, ref string, resolve func(context.Context, string) (int64, error)) (int64, bool, error) {
	if id, hit := cache[ref]; hit {
		return id, id > 0, nil
	}
	var id int64
	err := s.withRetry(ctx, "resolve "+ref, func() error {
		var rerr error
		id, rerr = resolve(ctx, ref)
		return rerr
	})
	if errors.Is(err, common.ErrNotFound) {
		cache[ref] = 0
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	cache[ref] = id
	return id, true, nil
}

func (s *Submitter) findBill(ctx context.Context, q ledger.BillQuery) (int64, bool, error) {
	var billID int64
	var found bool
	err := s.withRetry(ctx, "duplicate probe", func() error {
		var rerr error
		billID, found, rerr = s.client.FindBill(ctx, q)
		return rerr
	})
	return billID, found, err
}

// createBill retries transient failures, re-probing for a duplicate before
// each retry: a timed-out create may still have committed server-side.
func (s *Submitter) createBill(ctx context.Context, q ledger.BillQuery, bill ledger.BillInput) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= len(s.cfg.BackoffSchedule); attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, s.cfg.BackoffSchedule[attempt-1]); err != nil {
				return 0, err
			}
			if billID, found, err := s.client.FindBill(ctx, q); err == nil && found {
				s.logger.Warn("submit.create_recovered", "bill_id", billID, "ref", bill.InvoiceNumber)
				return billID, nil
			}
		}

		billID, err := s.client.CreateBill(ctx, bill)
		if err == nil {
			return billID, nil
		}
		if !ledger.IsTransient(err) {
			return 0, err
		}
		lastErr = err
		s.logger.Warn("submit.create_retry",
			"attempt", attempt+1, "ref", bill.InvoiceNumber, "error", err)
	}
	return 0, fmt.Errorf("%w: create bill %q: retries exhausted: %v",
		common.ErrLedgerUnavailable, bill.InvoiceNumber, lastErr)
}

// withRetry runs fn, retrying transient failures on the backoff schedule.
func (s *Submitter) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= len(s.cfg.BackoffSchedule); attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, s.cfg.BackoffSchedule[attempt-1]); err != nil {
				return err
			}
		}
		err := fn()
		if err == nil || !ledger.IsTransient(err) {
			return err
		}
		lastErr = err
		s.logger.Warn("submit.retry", "op", op, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("%w: %s: retries exhausted: %v", common.ErrLedgerUnavailable, op, lastErr)
}

// attach uploads the source document; failure downgrades to a warning on an
// otherwise successful submission.
func (s *Submitter) attach(ctx context.Context, billID int64, raw entity.RawDocument, checksum string, res *entity.SubmissionResult) {
	if int64(len(raw.Data)) > s.cfg.MaxAttachmentBytes {
		res.AttachmentWarning = fmt.Sprintf("document not attached: %d bytes exceeds limit", len(raw.Data))
		return
	}
	att := ledger.Attachment{
		Filename:     SanitizeFilename(raw.Filename),
		MIMEType:     raw.MIMEType,
		Data:         raw.Data,
		ChecksumSHA1: checksum,
	}
	if _, err := s.client.AttachDocument(ctx, billID, att); err != nil {
		s.logger.Warn("submit.attach_failed", "bill_id", billID, "error", err)
		res.AttachmentWarning = fmt.Sprintf("document not attached: %v", err)
	}
}

// annotate posts a provenance comment on the bill's thread. Best effort.
func (s *Submitter) annotate(ctx context.Context, billID int64, draft *entity.InvoiceDraft, res entity.SubmissionResult) {
	var b strings.Builder
	fmt.Fprintf(&b, "Bill created automatically from %q.", draft.VendorName)
	if res.NeedsReview {
		b.WriteString(" Flagged for review:")
		for _, u := range res.Unresolved {
			b.WriteString(" ")
			b.WriteString(u)
			b.WriteString(";")
		}
	}
	if err := s.client.AddNote(ctx, billID, b.String()); err != nil {
		s.logger.Warn("submit.note_failed", "bill_id", billID, "error", err)
	}
}

func (s *Submitter) failed(res entity.SubmissionResult, err error) entity.SubmissionResult {
	res.Status = entity.SubmissionFailed
	res.Error = err.Error()
	return res
}

// SanitizeFilename strips directory components and characters that upset
// downstream storage, keeping the extension intact.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "document"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
