// Package llm is the optional fallback field extractor. When the
// deterministic parser leaves key fields empty, the extracted text is shown
// to a language model which may fill in the blanks. The model never
// overrides a field the parser already determined, and its output must pass
// schema validation before any of it is used.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"invoicebridge/internal/common"
	"invoicebridge/internal/entity"
)

const extractionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "vendor_name": {"type": "string"},
    "vendor_tax_id": {"type": "string"},
    "invoice_number": {"type": "string"},
    "issue_date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "due_date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "currency": {"type": "string", "pattern": "^[A-Z]{3}$"},
    "subtotal": {"type": "number"},
    "tax_total": {"type": "number"},
    "grand_total": {"type": "number"},
    "line_items": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["description", "amount"],
        "properties": {
          "description": {"type": "string", "minLength": 1},
          "quantity": {"type": "number"},
          "unit_price": {"type": "number"},
          "tax_rate": {"type": "number"},
          "amount": {"type": "number"}
        }
      }
    }
  }
}`

var compiledExtractionSchema = jsonschema.MustCompileString("extraction.schema.json", extractionSchema)

const systemPrompt = `You extract fields from invoice text for accounts payable.
Return ONLY a JSON object. Omit any field you cannot read from the text;
never guess. Dates are YYYY-MM-DD. Monetary values are plain numbers in the
invoice currency. vendor_name is the SELLER issuing the invoice, not the
buyer it is addressed to.`

type extractionPayload struct {
	VendorName    string  `json:"vendor_name"`
	VendorTaxID   string  `json:"vendor_tax_id"`
	InvoiceNumber string  `json:"invoice_number"`
	IssueDate     string  `json:"issue_date"`
	DueDate       string  `json:"due_date"`
	Currency      string  `json:"currency"`
	Subtotal      float64 `json:"subtotal"`
	TaxTotal      float64 `json:"tax_total"`
	GrandTotal    float64 `json:"grand_total"`
	LineItems     []struct {
		Description string  `json:"description"`
		Quantity    float64 `json:"quantity"`
		UnitPrice   float64 `json:"unit_price"`
		TaxRate     float64 `json:"tax_rate"`
		Amount      float64 `json:"amount"`
	} `json:"line_items"`
}

type Extractor struct {
	client *openai.Client
	cfg    common.LLMConfig
	logger *slog.Logger
}

// NewExtractor returns nil when no API key is configured, which disables
// the stage entirely.
func NewExtractor(cfg common.LLMConfig, logger *slog.Logger) *Extractor {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &Extractor{
		client: openai.NewClient(cfg.APIKey),
		cfg:    cfg,
		logger: logger,
	}
}

// Enrich fills only the draft fields still at their zero value. Model
// output that fails schema validation is discarded wholesale.
func (e *Extractor) Enrich(ctx context.Context, text entity.ExtractedText, draft *entity.InvoiceDraft) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	e.logger.Info("llm.extract.start", "model", e.cfg.Model)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		Temperature: e.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: clampText(text.PlainText(), 24000)},
		},
	})
	if err != nil {
		return fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("chat completion returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("model output is not JSON: %w", err)
	}
	if err := compiledExtractionSchema.Validate(doc); err != nil {
		return fmt.Errorf("model output failed validation: %w", err)
	}
	var payload extractionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}

	filled := e.merge(draft, payload)
	e.logger.Info("llm.extract.done",
		"duration_ms", time.Since(start).Milliseconds(),
		"filled", filled,
		"tokens", resp.Usage.TotalTokens,
	)
	return nil
}

// merge copies payload values into empty draft fields, returning the names
// of the fields it filled.
func (e *Extractor) merge(draft *entity.InvoiceDraft, p extractionPayload) []string {
	var filled []string
	fill := func(name string, empty bool, apply func()) {
		if empty {
			apply()
			filled = append(filled, name)
		}
	}

	fill("vendor_name", draft.VendorName == "" && p.VendorName != "", func() { draft.VendorName = p.VendorName })
	fill("vendor_tax_id", draft.VendorTaxID == "" && p.VendorTaxID != "", func() { draft.VendorTaxID = p.VendorTaxID })
	fill("invoice_number", draft.InvoiceNumber == "" && p.InvoiceNumber != "", func() { draft.InvoiceNumber = p.InvoiceNumber })
	fill("currency", draft.Currency == "" && p.Currency != "", func() { draft.Currency = p.Currency })
	fill("subtotal", draft.Subtotal == 0 && p.Subtotal != 0, func() { draft.Subtotal = toCents(p.Subtotal) })
	fill("tax_total", draft.TaxTotal == 0 && p.TaxTotal != 0, func() { draft.TaxTotal = toCents(p.TaxTotal) })
	fill("grand_total", draft.GrandTotal == 0 && p.GrandTotal != 0, func() { draft.GrandTotal = toCents(p.GrandTotal) })

	if draft.IssueDate == nil {
		if t, ok := parseISODate(p.IssueDate); ok {
			draft.IssueDate = &t
			filled = append(filled, "issue_date")
		}
	}
	if draft.DueDate == nil {
		if t, ok := parseISODate(p.DueDate); ok {
			draft.DueDate = &t
			filled = append(filled, "due_date")
		}
	}

	if len(draft.LineItems) == 0 && len(p.LineItems) > 0 {
		for _, li := range p.LineItems {
			draft.LineItems = append(draft.LineItems, entity.LineItem{
				Description: li.Description,
				Quantity:    li.Quantity,
				UnitPrice:   toCents(li.UnitPrice),
				TaxRate:     li.TaxRate,
				Amount:      toCents(li.Amount),
			})
		}
		filled = append(filled, "line_items")
		// model-sourced lines always go to a human
		draft.Flag("line_items")
	}
	return filled
}

func toCents(v float64) entity.Cents {
	return entity.Cents(math.Round(v * 100))
}

func parseISODate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	return t, err == nil
}

func clampText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max], "")
}
