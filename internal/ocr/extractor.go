package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"invoicebridge/internal/common"
	"invoicebridge/internal/entity"
)

// Config holds external tool settings. Zero values select the binaries from
// PATH and sensible defaults.
type Config struct {
	Pdftotext string
	Pdftoppm  string
	Tesseract string

	TesseractLang string // default "spa+eng"
	TessdataDir   string
	DPI           int // rasterization DPI for scanned PDFs, default 300
	MaxPages      int // 0 = no limit

	// MinTextLayerChars is the minimum recoverable character count for an
	// embedded PDF text layer to be trusted without OCR.
	MinTextLayerChars int
}

// Extractor converts a raw document into positioned text blocks. PDFs with a
// usable embedded text layer bypass OCR entirely; images and scanned PDFs go
// through tesseract.
type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "spa+eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.MinTextLayerChars <= 0 {
		cfg.MinTextLayerChars = 64
	}
	return &Extractor{cfg: cfg, runner: newExecRunner(logger), logger: logger}
}

// Extract picks a strategy from the declared MIME type. It writes the payload
// to a temp file for the external tools and removes it on every exit path.
func (e *Extractor) Extract(ctx context.Context, doc entity.RawDocument) (entity.ExtractedText, error) {
	start := time.Now()

	kind, ext, err := classifyMIME(doc.MIMEType, doc.Filename)
	if err != nil {
		e.logger.Error("extract.unsupported", "mime", doc.MIMEType, "filename", doc.Filename)
		return entity.ExtractedText{}, err
	}

	tmp, err := os.CreateTemp("", "ib-doc-*"+ext)
	if err != nil {
		return entity.ExtractedText{}, fmt.Errorf("temp file: %w", err)
	}
	path := tmp.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil {
			e.logger.Warn("extract.tmp_cleanup_failed", "path", path, "error", rmErr)
		}
	}()
	if _, err := tmp.Write(doc.Data); err != nil {
		_ = tmp.Close()
		return entity.ExtractedText{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return entity.ExtractedText{}, fmt.Errorf("close temp file: %w", err)
	}

	var res entity.ExtractedText
	switch kind {
	case "PDF":
		res, err = e.extractPDF(ctx, path)
	case "IMAGE":
		res, err = e.extractImage(ctx, path)
	}
	if err != nil {
		return res, err
	}
	if len(res.Blocks) == 0 {
		e.logger.Error("extract.empty", "method", res.Method, "filename", doc.Filename)
		return res, fmt.Errorf("%w: no recoverable text blocks", common.ErrExtractionFailed)
	}

	e.logger.Info("extract.ok",
		"filename", doc.Filename,
		"method", res.Method,
		"pages", res.Pages,
		"blocks", len(res.Blocks),
		"confidence", res.Confidence,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// classifyMIME maps a declared MIME type (with a filename-extension fallback)
// onto a processing family. Anything outside image/PDF is rejected.
func classifyMIME(mimeType, filename string) (kind, ext string, err error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	switch mt {
	case "application/pdf":
		return "PDF", ".pdf", nil
	case "image/png":
		return "IMAGE", ".png", nil
	case "image/jpeg", "image/jpg":
		return "IMAGE", ".jpg", nil
	case "image/tiff":
		return "IMAGE", ".tif", nil
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "PDF", ".pdf", nil
	case ".png":
		return "IMAGE", ".png", nil
	case ".jpg", ".jpeg":
		return "IMAGE", ".jpg", nil
	case ".tif", ".tiff":
		return "IMAGE", ".tif", nil
	}
	return "", "", fmt.Errorf("%w: %q", common.ErrUnsupportedFormat, mimeType)
}
