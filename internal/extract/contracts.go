package extract

import (
	"context"

	"invoicebridge/internal/entity"
)

// TextExtractor is stage 1: raw document -> positioned text blocks.
// ocr.Extractor is the production implementation; tests use fakes.
type TextExtractor interface {
	Extract(ctx context.Context, doc entity.RawDocument) (entity.ExtractedText, error)
}
