package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"invoicebridge/internal/entity"
)

// tesseractTSV runs tesseract in TSV mode and converts word rows into
// positioned blocks. TSV gives one row per word with box geometry and a
// 0..100 confidence; -1 marks non-word rows.
func (e *Extractor) tesseractTSV(ctx context.Context, path string, page int) ([]entity.TextBlock, float32, []string, error) {
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return nil, 0, []string{truncate(string(errb), 512)}, fmt.Errorf("tesseract: %w", err)
	}

	blocks, conf := parseTSV(string(out), page)
	return blocks, conf, nil, nil
}

// parseTSV converts tesseract TSV output into word blocks plus a mean word
// confidence in 0..1. Line identity is the (block, paragraph, line) triple,
// renumbered sequentially per page.
func parseTSV(tsv string, page int) ([]entity.TextBlock, float32) {
	var blocks []entity.TextBlock
	var confSum float64
	var confN int

	lineSeq := -1
	lastKey := ""
	for i, row := range strings.Split(tsv, "\n") {
		if i == 0 || strings.TrimSpace(row) == "" {
			continue // header
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		confStr := cols[10]
		if confStr == "" || confStr == "-1" {
			continue
		}
		left, err1 := strconv.ParseFloat(cols[6], 64)
		top, err2 := strconv.ParseFloat(cols[7], 64)
		width, err3 := strconv.ParseFloat(cols[8], 64)
		height, err4 := strconv.ParseFloat(cols[9], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}

		key := cols[2] + ":" + cols[3] + ":" + cols[4]
		if key != lastKey {
			lineSeq++
			lastKey = key
		}

		if v, err := strconv.ParseFloat(confStr, 64); err == nil {
			confSum += v
			confN++
		}

		blocks = append(blocks, entity.TextBlock{
			Page:   page,
			Line:   lineSeq,
			Column: left,
			Text:   text,
			Box:    &entity.BBox{X: left, Y: top, Width: width, Height: height},
		})
	}

	var conf float32
	if confN > 0 {
		conf = float32(confSum / float64(confN) / 100.0)
	}
	return blocks, conf
}
