// Package pipeline wires the five processing stages together: extract,
// parse, resolve the vendor, assign accounts, submit the bill. It owns the
// two-phase vendor confirmation protocol and the per-run audit trail.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"invoicebridge/internal/assign"
	"invoicebridge/internal/common"
	"invoicebridge/internal/entity"
	"invoicebridge/internal/extract"
	"invoicebridge/internal/ledger"
	"invoicebridge/internal/parser"
	"invoicebridge/internal/repository"
	"invoicebridge/internal/submit"
	"invoicebridge/internal/vendor"
)

// Outcome is the terminal state of a processing call.
type Outcome string

const (
	OutcomeSubmitted         Outcome = "submitted"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeNeedsConfirmation Outcome = "needs_confirmation"
	OutcomeRejected          Outcome = "rejected"
	OutcomeFailed            Outcome = "failed"
)

// ConfirmationRequest is returned when the vendor resolver could not settle
// on a supplier. The caller answers it via Resume with the token.
type ConfirmationRequest struct {
	Token      string                   `json:"token"`
	Status     entity.MatchStatus       `json:"status"`
	Candidates []entity.VendorCandidate `json:"candidates,omitempty"`
	Proposed   *entity.VendorRecord     `json:"proposed,omitempty"`
	ExpiresAt  time.Time                `json:"expires_at"`
}

// Decision is the caller's answer to a ConfirmationRequest. Exactly one of
// the three options applies: pick an existing vendor, approve creation of
// the proposed one, or reject the run.
type Decision struct {
	VendorID     int64 `json:"vendor_id,omitempty"`
	CreateVendor bool  `json:"create_vendor,omitempty"`
	Reject       bool  `json:"reject,omitempty"`
}

// Result is what one Run or Resume call produced.
type Result struct {
	RunID        string                   `json:"run_id"`
	Outcome      Outcome                  `json:"outcome"`
	Draft        *entity.InvoiceDraft     `json:"draft,omitempty"`
	Submission   *entity.SubmissionResult `json:"submission,omitempty"`
	Confirmation *ConfirmationRequest     `json:"confirmation,omitempty"`
}

// Enricher optionally fills draft fields the deterministic parser missed.
// Nil disables the stage.
type Enricher interface {
	Enrich(ctx context.Context, text entity.ExtractedText, draft *entity.InvoiceDraft) error
}

type Config struct {
	ConfirmationTTL time.Duration
}

type Processor struct {
	cfg       Config
	extractor extract.TextExtractor
	parser    *parser.Parser
	resolver  *vendor.Resolver
	assigner  *assign.Assigner
	submitter *submit.Submitter
	client    ledger.Client
	store     *repository.Store
	rules     *assign.Rules
	enricher  Enricher
	locks     *keyedLocks
	logger    *slog.Logger
}

func NewProcessor(cfg Config, extractor extract.TextExtractor, p *parser.Parser,
	r *vendor.Resolver, a *assign.Assigner, s *submit.Submitter,
	client ledger.Client, store *repository.Store, rules *assign.Rules,
	enricher Enricher, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConfirmationTTL <= 0 {
		cfg.ConfirmationTTL = 24 * time.Hour
	}
	return &Processor{
		cfg:       cfg,
		extractor: extractor,
		parser:    p,
		resolver:  r,
		assigner:  a,
		submitter: s,
		client:    client,
		store:     store,
		rules:     rules,
		enricher:  enricher,
		locks:     newKeyedLocks(),
		logger:    logger,
	}
}

// resumeState is everything needed to pick the run back up after a vendor
// confirmation round trip. The raw document rides along so the attachment
// survives the pause.
type resumeState struct {
	RunID    string               `json:"run_id"`
	Filename string               `json:"filename"`
	MIMEType string               `json:"mime_type"`
	Data     []byte               `json:"data"`
	Draft    entity.InvoiceDraft  `json:"draft"`
	Match    entity.VendorMatch   `json:"match"`
	Proposed *entity.VendorRecord `json:"proposed,omitempty"`
}

// Run processes one document end to end. Extraction and parsing failures
// abort the run; everything later degrades to flags where the design allows
// it. An unresolved vendor pauses the run and returns a confirmation
// request instead of a submission.
func (pr *Processor) Run(ctx context.Context, doc entity.RawDocument) (Result, error) {
	runID := uuid.NewString()
	ctx = common.WithRunID(ctx, runID)
	log := pr.logger.With("run_id", runID, "filename", doc.Filename)
	log.Info("pipeline.start", "bytes", len(doc.Data))

	text, err := pr.extractor.Extract(ctx, doc)
	if err != nil {
		pr.recordFailure(ctx, runID, doc, nil, err)
		return Result{RunID: runID, Outcome: OutcomeFailed}, err
	}

	draft := pr.parser.Parse(text)
	pr.enrich(ctx, text, &draft, log)

	release := pr.locks.acquire(vendorKey(&draft))
	match, err := pr.resolver.Resolve(ctx, &draft, pr.client)
	if err != nil {
		release()
		pr.recordFailure(ctx, runID, doc, &draft, err)
		return Result{RunID: runID, Outcome: OutcomeFailed, Draft: &draft}, err
	}

	if match.Status != entity.MatchStatusMatched {
		defer release()
		return pr.stageConfirmation(ctx, runID, doc, draft, match)
	}
	release()

	return pr.finish(ctx, runID, doc, draft, match.VendorID)
}

// Resume completes a paused run once the caller has decided the vendor.
// The token is single use; expired or replayed tokens report NotFound.
func (pr *Processor) Resume(ctx context.Context, token string, decision Decision) (Result, error) {
	if pr.store == nil {
		return Result{}, common.NewAppError("CONFIRMATION_UNAVAILABLE",
			"no confirmation store configured", common.ErrInvalidInput)
	}
	pc, err := pr.store.TakeConfirmation(ctx, token)
	if err != nil {
		return Result{}, err
	}
	var state resumeState
	if err := json.Unmarshal(pc.Payload, &state); err != nil {
		return Result{}, fmt.Errorf("decode confirmation state: %w", err)
	}
	ctx = common.WithRunID(ctx, state.RunID)
	doc := entity.RawDocument{Filename: state.Filename, MIMEType: state.MIMEType, Data: state.Data}
	log := pr.logger.With("run_id", state.RunID)

	switch {
	case decision.Reject:
		log.Info("pipeline.rejected_by_operator")
		pr.saveRun(ctx, repository.RunRecord{
			ID:       state.RunID,
			Filename: doc.Filename,
			Status:   repository.RunStatusRejectedByOp,
		}, &state.Draft)
		return Result{RunID: state.RunID, Outcome: OutcomeRejected, Draft: &state.Draft}, nil

	case decision.VendorID > 0:
		if !allowedVendor(state.Match, decision.VendorID) {
			// put the token back so a typo doesn't burn the run
			_ = pr.store.SaveConfirmation(ctx, pc)
			return Result{}, common.NewAppError("INVALID_DECISION",
				"vendor is not among the staged candidates", common.ErrInvalidInput)
		}
		return pr.finish(ctx, state.RunID, doc, state.Draft, decision.VendorID)

	case decision.CreateVendor:
		if state.Proposed == nil {
			_ = pr.store.SaveConfirmation(ctx, pc)
			return Result{}, common.NewAppError("INVALID_DECISION",
				"no vendor creation was proposed for this run", common.ErrInvalidInput)
		}
		release := pr.locks.acquire(vendorKey(&state.Draft))
		vendorID, created, err := pr.ensureVendor(ctx, *state.Proposed)
		release()
		if err != nil {
			pr.recordFailure(ctx, state.RunID, doc, &state.Draft, err)
			return Result{RunID: state.RunID, Outcome: OutcomeFailed, Draft: &state.Draft}, err
		}
		if created {
			log.Info("pipeline.vendor_created", "vendor_id", vendorID)
		} else {
			log.Info("pipeline.vendor_reused", "vendor_id", vendorID)
		}
		return pr.finish(ctx, state.RunID, doc, state.Draft, vendorID)

	default:
		_ = pr.store.SaveConfirmation(ctx, pc)
		return Result{}, common.NewAppError("INVALID_DECISION",
			"decision must pick a vendor, approve creation, or reject", common.ErrInvalidInput)
	}
}

// ensureVendor turns an approved creation proposal into a vendor ID. The
// directory is searched again under the caller's vendor lock before anything
// is created: another run for the same supplier may have won the race while
// this one was waiting for its confirmation, and the approval must reuse
// that record rather than mint a second one.
func (pr *Processor) ensureVendor(ctx context.Context, proposed entity.VendorRecord) (int64, bool, error) {
	if taxID := vendor.NormalizeTaxID(proposed.TaxID); taxID != "" {
		hits, err := pr.client.SearchVendorsByTaxID(ctx, taxID)
		if err != nil {
			return 0, false, fmt.Errorf("vendor re-probe: %w", err)
		}
		if len(hits) > 0 {
			best := hits[0]
			for _, h := range hits[1:] {
				if h.BillCount > best.BillCount {
					best = h
				}
			}
			return best.ID, false, nil
		}
	}
	if name := vendor.NormalizeName(proposed.Name); name != "" {
		hits, err := pr.client.SearchVendorsByName(ctx, proposed.Name, 10)
		if err != nil {
			return 0, false, fmt.Errorf("vendor re-probe: %w", err)
		}
		for _, h := range hits {
			if vendor.NormalizeName(h.Name) == name {
				return h.ID, false, nil
			}
		}
	}
	id, err := pr.client.CreateVendor(ctx, proposed)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// finish runs assignment and submission for a settled vendor.
func (pr *Processor) finish(ctx context.Context, runID string, doc entity.RawDocument, draft entity.InvoiceDraft, vendorID int64) (Result, error) {
	release := pr.locks.acquire(billKey(vendorID, draft.InvoiceNumber))
	defer release()

	assignment := pr.assigner.Assign(&draft, vendorID, pr.rules)

	sub, err := pr.submitter.Submit(ctx, &draft, doc, vendorID, assignment)
	rec := repository.RunRecord{
		ID:          runID,
		Filename:    doc.Filename,
		VendorID:    vendorID,
		BillID:      sub.BillID,
		NeedsReview: sub.NeedsReview,
		Unresolved:  sub.Unresolved,
	}

	var outcome Outcome
	switch {
	case err != nil:
		outcome = OutcomeFailed
		rec.Status = repository.RunStatusFailed
		rec.ErrorCode = common.ErrorCode(err)
		rec.ErrorDetail = err.Error()
	case sub.Status == entity.SubmissionDuplicate:
		outcome = OutcomeDuplicate
		rec.Status = repository.RunStatusDuplicate
	default:
		outcome = OutcomeSubmitted
		rec.Status = repository.RunStatusSubmitted
	}
	pr.saveRun(ctx, rec, &draft)

	pr.logger.Info("pipeline.done", "run_id", runID, "outcome", outcome, "bill_id", sub.BillID)
	return Result{RunID: runID, Outcome: outcome, Draft: &draft, Submission: &sub}, err
}

// stageConfirmation persists the paused run and hands the decision back to
// the caller.
func (pr *Processor) stageConfirmation(ctx context.Context, runID string, doc entity.RawDocument, draft entity.InvoiceDraft, match entity.VendorMatch) (Result, error) {
	if pr.store == nil {
		err := common.NewAppError("VENDOR_UNRESOLVED",
			"vendor could not be resolved and no confirmation store is configured", common.ErrInvalidInput)
		pr.recordFailure(ctx, runID, doc, &draft, err)
		return Result{RunID: runID, Outcome: OutcomeFailed, Draft: &draft}, err
	}

	token := uuid.NewString()
	expires := time.Now().UTC().Add(pr.cfg.ConfirmationTTL)
	payload, err := json.Marshal(resumeState{
		RunID:    runID,
		Filename: doc.Filename,
		MIMEType: doc.MIMEType,
		Data:     doc.Data,
		Draft:    draft,
		Match:    match,
		Proposed: match.Proposed,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode confirmation state: %w", err)
	}
	if err := pr.store.SaveConfirmation(ctx, repository.PendingConfirmation{
		Token:     token,
		RunID:     runID,
		Payload:   payload,
		ExpiresAt: expires,
	}); err != nil {
		pr.recordFailure(ctx, runID, doc, &draft, err)
		return Result{RunID: runID, Outcome: OutcomeFailed, Draft: &draft}, err
	}

	pr.saveRun(ctx, repository.RunRecord{
		ID:       runID,
		Filename: doc.Filename,
		Status:   repository.RunStatusAwaiting,
	}, &draft)

	pr.logger.Info("pipeline.awaiting_confirmation",
		"run_id", runID, "status", match.Status, "candidates", len(match.Candidates))
	return Result{
		RunID:   runID,
		Outcome: OutcomeNeedsConfirmation,
		Draft:   &draft,
		Confirmation: &ConfirmationRequest{
			Token:      token,
			Status:     match.Status,
			Candidates: match.Candidates,
			Proposed:   match.Proposed,
			ExpiresAt:  expires,
		},
	}, nil
}

func (pr *Processor) enrich(ctx context.Context, text entity.ExtractedText, draft *entity.InvoiceDraft, log *slog.Logger) {
	if pr.enricher == nil || !draftIncomplete(draft) {
		return
	}
	if err := pr.enricher.Enrich(ctx, text, draft); err != nil {
		// fallback is best effort; the deterministic result stands
		log.Warn("pipeline.enrich_failed", "error", err)
	}
}

func draftIncomplete(d *entity.InvoiceDraft) bool {
	return d.VendorName == "" || d.InvoiceNumber == "" || d.GrandTotal == 0 || len(d.LineItems) == 0
}

func (pr *Processor) recordFailure(ctx context.Context, runID string, doc entity.RawDocument, draft *entity.InvoiceDraft, err error) {
	pr.saveRun(ctx, repository.RunRecord{
		ID:          runID,
		Filename:    doc.Filename,
		Status:      repository.RunStatusFailed,
		ErrorCode:   common.ErrorCode(err),
		ErrorDetail: err.Error(),
	}, draft)
	pr.logger.Error("pipeline.failed", "run_id", runID, "code", common.ErrorCode(err), "error", err)
}

// saveRun copies draft identity fields into the audit row. Audit writes
// never fail the run.
func (pr *Processor) saveRun(ctx context.Context, rec repository.RunRecord, draft *entity.InvoiceDraft) {
	if pr.store == nil {
		return
	}
	if draft != nil {
		rec.InvoiceNumber = draft.InvoiceNumber
		rec.VendorName = draft.VendorName
		rec.GrandTotal = draft.GrandTotal
		rec.Currency = draft.Currency
		if rec.Status != repository.RunStatusFailed {
			rec.NeedsReview = rec.NeedsReview || draft.NeedsReview
		}
	}
	if err := pr.store.SaveRun(ctx, rec); err != nil {
		pr.logger.Error("pipeline.audit_write_failed", "run_id", rec.ID, "error", err)
	}
}

func allowedVendor(match entity.VendorMatch, vendorID int64) bool {
	for _, c := range match.Candidates {
		if c.Vendor.ID == vendorID {
			return true
		}
	}
	// a not_found run may still be pointed at any existing vendor the
	// operator knows better than the matcher
	return match.Status == entity.MatchStatusNotFound
}

func vendorKey(d *entity.InvoiceDraft) string {
	if id := vendor.NormalizeTaxID(d.VendorTaxID); id != "" {
		return "vendor:tax:" + id
	}
	return "vendor:name:" + vendor.NormalizeName(d.VendorName)
}

func billKey(vendorID int64, invoiceNumber string) string {
	return "bill:" + strconv.FormatInt(vendorID, 10) + ":" + invoiceNumber
}
