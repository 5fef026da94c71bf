package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"invoicebridge/internal/entity"
)

// extractPDF prefers the embedded text layer and falls back to rasterize+OCR
// when the layer is missing or looks unreliable.
func (e *Extractor) extractPDF(ctx context.Context, path string) (entity.ExtractedText, error) {
	text, pages, err := e.pdfTextLayer(ctx, path)
	if err == nil && textLayerUsable(text, e.cfg.MinTextLayerChars) {
		return entity.ExtractedText{
			Blocks:     layoutTextBlocks(text),
			Pages:      pages,
			SourceType: "PDF",
			Method:     "pdf-text",
			Confidence: 1.0,
		}, nil
	}

	var warns []string
	if err != nil {
		warns = append(warns, fmt.Sprintf("pdftotext: %v", err))
	} else {
		warns = append(warns, "embedded text layer unusable, falling back to OCR")
	}
	e.logger.Warn("extract.pdf_text_layer_unusable", "path", path, "chars", len(text))

	res, ocrErr := e.pdfOCR(ctx, path)
	res.Warnings = append(warns, res.Warnings...)
	return res, ocrErr
}

func (e *Extractor) pdfTextLayer(ctx context.Context, path string) (string, int, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", 0, fmt.Errorf("%v: %s", err, truncate(string(errb), 512))
	}
	text := string(out)
	// form feed is pdftotext's page separator
	pages := 1 + strings.Count(text, "\f")
	return text, pages, nil
}

// pdfOCR rasterizes pages with pdftoppm and runs tesseract TSV on each.
func (e *Extractor) pdfOCR(ctx context.Context, path string) (entity.ExtractedText, error) {
	tmpDir, err := os.MkdirTemp("", "ib-pp-*")
	if err != nil {
		return entity.ExtractedText{SourceType: "PDF"}, err
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			e.logger.Warn("extract.tmp_cleanup_failed", "path", tmpDir, "error", rmErr)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return entity.ExtractedText{SourceType: "PDF", Warnings: []string{string(errb)}}, err
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return entity.ExtractedText{SourceType: "PDF"}, fmt.Errorf("pdftoppm produced no page images")
	}

	out := entity.ExtractedText{SourceType: "PDF", Method: "pdf-ocr", Pages: len(matches)}
	var confSum float32
	var confPages int
	for i, img := range matches {
		blocks, conf, warns, err := e.tesseractTSV(ctx, img, i+1)
		if err != nil {
			out.Warnings = append(out.Warnings, err.Error())
			continue
		}
		out.Blocks = append(out.Blocks, blocks...)
		out.Warnings = append(out.Warnings, warns...)
		if conf > 0 {
			confSum += conf
			confPages++
		}
	}
	if confPages > 0 {
		out.Confidence = confSum / float32(confPages)
	}
	return out, nil
}

// layoutTextBlocks splits -layout output into positioned blocks: one block
// per column run, with the rune offset as the horizontal position. Runs of
// two or more spaces delimit columns, which is how pdftotext renders aligned
// tables.
func layoutTextBlocks(text string) []entity.TextBlock {
	var blocks []entity.TextBlock
	page := 1
	line := 0
	for _, raw := range strings.Split(text, "\n") {
		if strings.Contains(raw, "\f") {
			page++
			line = 0
			raw = strings.ReplaceAll(raw, "\f", "")
		}
		if strings.TrimSpace(raw) == "" {
			line++
			continue
		}
		runes := []rune(raw)
		start := -1
		spaceRun := 0
		flush := func(end int) {
			if start < 0 {
				return
			}
			txt := strings.TrimSpace(string(runes[start:end]))
			if txt != "" {
				blocks = append(blocks, entity.TextBlock{
					Page:   page,
					Line:   line,
					Column: float64(start),
					Text:   txt,
				})
			}
			start = -1
		}
		for i, r := range runes {
			if unicode.IsSpace(r) {
				spaceRun++
				if spaceRun >= 2 {
					flush(i - spaceRun + 1)
				}
				continue
			}
			if start < 0 {
				start = i
			}
			spaceRun = 0
		}
		flush(len(runes))
		line++
	}
	return blocks
}

// textLayerUsable rejects layers that are too short or dominated by
// placeholder/garbage characters (broken font encodings produce U+FFFD runs
// or long stretches of non-letters).
func textLayerUsable(text string, minChars int) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minChars {
		return false
	}
	var total, letters, garbage int
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		switch {
		case r == unicode.ReplacementChar || r < 0x20:
			garbage++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			letters++
		}
	}
	if total == 0 {
		return false
	}
	if float64(garbage)/float64(total) > 0.05 {
		return false
	}
	return float64(letters)/float64(total) >= 0.5
}
