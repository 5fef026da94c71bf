// Package parser turns positioned text blocks into a structured invoice
// draft. It is purely heuristic: pattern scans for scalar fields plus
// positional table reconstruction for line items. Parsing never fails
// outright; anything it cannot determine is left unset and reported through
// the draft's unresolved list.
package parser

import (
	"log/slog"
	"regexp"
	"strings"

	"invoicebridge/internal/entity"
)

// Config holds parser tuning. Thresholds are configuration, not constants.
type Config struct {
	DefaultCurrency string
	// BandTolerance overrides the vertical grouping tolerance (page units).
	// Zero derives it from the median block height.
	BandTolerance float64
	// ExtraTaxIDPatterns are additional jurisdiction regexes.
	ExtraTaxIDPatterns []string
	// MinConfidence below which the whole draft is flagged for review.
	MinConfidence float32
}

type Parser struct {
	cfg      Config
	patterns []TaxIDPattern
	logger   *slog.Logger
}

func NewParser(cfg Config, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "EUR"
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.60
	}
	return &Parser{
		cfg:      cfg,
		patterns: CompileTaxIDPatterns(cfg.ExtraTaxIDPatterns),
		logger:   logger,
	}
}

var (
	invoiceNumberRe = regexp.MustCompile(`(?i)\b(?:invoice|factura|fact?\.?|inv\.?)\s*(?:n[oº°.]*|#|num\.?|number)?\s*[:\-]?\s*([A-Z0-9][A-Z0-9/\-]{1,24})`)
	issueDateLineRe = regexp.MustCompile(`(?i)\b(?:date|fecha)(?:\s+(?:of\s+issue|de\s+emision|factura))?\b`)
	dueDateLineRe   = regexp.MustCompile(`(?i)\b(?:due\s*date|vencimiento|payable\s+by|fecha\s+de\s+vencimiento)\b`)
	subtotalLineRe  = regexp.MustCompile(`(?i)\b(?:sub\s*total|base\s+imponible|net\s+amount|importe\s+neto)\b`)
	taxLineRe       = regexp.MustCompile(`(?i)\b(?:iva|vat|tax|impuestos?)\b`)
	totalLineRe     = regexp.MustCompile(`(?i)\b(?:total(?:\s+(?:due|a\s+pagar|factura|amount))?|importe\s+total|grand\s+total)\b`)
	amountTailRe    = regexp.MustCompile(`-?[\d.,]+\s*(?:€|\$|£|EUR|USD|GBP)?\s*$`)
	skipVendorRe    = regexp.MustCompile(`(?i)^(?:invoice|factura|proforma|recibo|receipt|page|pagina|fecha|date|n[oº°]\.?)\b`)
)

// Parse builds a best-effort draft from extracted text. Partial extraction
// is not an error: missing fields are flagged, never guessed silently.
func (p *Parser) Parse(text entity.ExtractedText) entity.InvoiceDraft {
	draft := entity.InvoiceDraft{}
	rows := groupRows(text.Blocks, p.cfg.BandTolerance)
	plain := text.PlainText()

	p.parseVendor(&draft, rows)
	p.parseScalars(&draft, rows, plain)
	p.parseLineItems(&draft, rows)
	p.parseTotals(&draft, rows)

	if draft.Currency == "" {
		draft.Currency = p.cfg.DefaultCurrency
		draft.Flag("currency")
	}
	if draft.GrandTotal != 0 && !draft.TotalsReconcile() {
		draft.Flag("totals")
	}
	if text.Confidence > 0 && text.Confidence < p.cfg.MinConfidence {
		draft.Flag("ocr_confidence")
	}

	p.logger.Info("parse.done",
		"vendor", draft.VendorName,
		"tax_id", draft.VendorTaxID,
		"invoice_number", draft.InvoiceNumber,
		"lines", len(draft.LineItems),
		"grand_total", draft.GrandTotal.String(),
		"needs_review", draft.NeedsReview,
		"unresolved", strings.Join(draft.Unresolved, ","),
	)
	return draft
}

// parseVendor takes the first prominent text row of page one that is not an
// obvious document label. Invoices lead with the issuer's letterhead.
func (p *Parser) parseVendor(draft *entity.InvoiceDraft, rows []textRow) {
	for i, row := range rows {
		if row.page > 1 || i > 8 {
			break
		}
		text := strings.TrimSpace(row.joined())
		if text == "" || skipVendorRe.MatchString(text) {
			continue
		}
		if !strings.ContainsFunc(text, isLetter) {
			continue
		}
		// letterhead lines are short; a long sentence is body text
		if len(text) > 64 {
			continue
		}
		draft.VendorName = text
		return
	}
	draft.Flag("vendor_name")
}

func (p *Parser) parseScalars(draft *entity.InvoiceDraft, rows []textRow, plain string) {
	if id, _ := FindTaxID(plain, p.patterns); id != "" {
		draft.VendorTaxID = id
	}

	if m := invoiceNumberRe.FindStringSubmatch(plain); m != nil {
		draft.InvoiceNumber = strings.TrimRight(m[1], ".-")
	} else {
		draft.Flag("invoice_number")
	}

	if cur, ok := DetectCurrency(plain); ok {
		draft.Currency = cur
	}

	for _, row := range rows {
		text := row.joined()
		if draft.DueDate == nil && dueDateLineRe.MatchString(text) {
			if t, ok := ParseDate(text); ok {
				due := t
				draft.DueDate = &due
				continue
			}
		}
		if draft.IssueDate == nil && issueDateLineRe.MatchString(text) {
			if t, ok := ParseDate(text); ok {
				issued := t
				draft.IssueDate = &issued
			}
		}
	}
	// last resort: first date anywhere on the document
	if draft.IssueDate == nil {
		if t, ok := ParseDate(plain); ok {
			draft.IssueDate = &t
		} else {
			draft.Flag("issue_date")
		}
	}
}

func (p *Parser) parseLineItems(draft *entity.InvoiceDraft, rows []textRow) {
	items, ambiguous := ReconstructLineItems(rows)
	draft.LineItems = items
	if ambiguous {
		draft.Flag("line_items")
	}
	if len(items) == 0 {
		draft.Flag("line_items")
	}
}

// parseTotals scans bottom-up: totals blocks sit under the table, and the
// last match wins over line-item cells that happen to contain the keyword.
func (p *Parser) parseTotals(draft *entity.InvoiceDraft, rows []textRow) {
	for i := len(rows) - 1; i >= 0; i-- {
		text := strings.TrimSpace(rows[i].joined())
		amtText := amountTailRe.FindString(text)
		if amtText == "" {
			continue
		}
		amount, ok := ParseAmount(amtText)
		if !ok {
			continue
		}
		switch {
		case draft.Subtotal == 0 && subtotalLineRe.MatchString(text):
			draft.Subtotal = amount
		case draft.TaxTotal == 0 && taxLineRe.MatchString(text) && !totalLineRe.MatchString(text):
			draft.TaxTotal = amount
		case draft.GrandTotal == 0 && totalLineRe.MatchString(text):
			draft.GrandTotal = amount
		}
	}

	if draft.GrandTotal == 0 {
		draft.Flag("grand_total")
	}
	// derive the missing leg when two of three are present
	if draft.Subtotal == 0 && draft.GrandTotal != 0 && draft.TaxTotal != 0 {
		draft.Subtotal = draft.GrandTotal - draft.TaxTotal
	}
	if draft.Subtotal == 0 {
		draft.Flag("subtotal")
	}
}
