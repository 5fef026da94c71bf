package ocr

import (
	"context"
	"errors"
	"strings"
	"testing"

	"invoicebridge/internal/common"
	"invoicebridge/internal/entity"
)

// stubRunner replays canned outputs per binary name.
type stubRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.calls = append(s.calls, name)
	if err := s.errs[name]; err != nil {
		return nil, []byte("stub failure"), err
	}
	return []byte(s.outputs[name]), nil, nil
}

func TestClassifyMIME(t *testing.T) {
	tests := []struct {
		mime, filename string
		kind           string
		wantErr        bool
	}{
		{"application/pdf", "x.bin", "PDF", false},
		{"application/pdf; charset=binary", "x", "PDF", false},
		{"image/png", "x", "IMAGE", false},
		{"image/jpeg", "x", "IMAGE", false},
		{"", "scan.PDF", "PDF", false},
		{"application/octet-stream", "photo.jpeg", "IMAGE", false},
		{"text/html", "page.html", "", true},
		{"application/msword", "doc.doc", "", true},
	}
	for _, tt := range tests {
		kind, _, err := classifyMIME(tt.mime, tt.filename)
		if tt.wantErr {
			if !errors.Is(err, common.ErrUnsupportedFormat) {
				t.Errorf("classifyMIME(%q, %q) err = %v, want UnsupportedFormat", tt.mime, tt.filename, err)
			}
			continue
		}
		if err != nil || kind != tt.kind {
			t.Errorf("classifyMIME(%q, %q) = %q, %v; want %q", tt.mime, tt.filename, kind, err, tt.kind)
		}
	}
}

func TestExtractUsesTextLayer(t *testing.T) {
	layer := "Suministros Lopez SL        Factura 2024-0042\nPapel A4    10    1,20    12,00\nTotal                        72,60\n"
	runner := &stubRunner{outputs: map[string]string{"pdftotext": layer}}
	e := NewExtractor(Config{MinTextLayerChars: 10}, nil)
	e.runner = runner

	got, err := e.Extract(context.Background(), entity.RawDocument{
		Filename: "f.pdf", MIMEType: "application/pdf", Data: []byte("%PDF-1.4"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Method != "pdf-text" || got.Confidence != 1.0 {
		t.Errorf("method = %q, confidence = %v", got.Method, got.Confidence)
	}
	if len(got.Blocks) == 0 {
		t.Fatal("no blocks")
	}
	for _, call := range runner.calls {
		if call == "tesseract" {
			t.Error("usable text layer must not trigger OCR")
		}
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	e := NewExtractor(Config{}, nil)
	e.runner = &stubRunner{}
	_, err := e.Extract(context.Background(), entity.RawDocument{
		Filename: "report.docx",
		MIMEType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	})
	if !errors.Is(err, common.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want UnsupportedFormat", err)
	}
}

func TestLayoutTextBlocks(t *testing.T) {
	text := "Concepto      Cantidad    Importe\nPapel A4      10          12,00\n\nsegunda\n\fpagina dos\n"
	blocks := layoutTextBlocks(text)

	if len(blocks) != 8 {
		t.Fatalf("got %d blocks: %+v", len(blocks), blocks)
	}
	// column runs keep their rune offset
	if blocks[0].Text != "Concepto" || blocks[0].Column != 0 {
		t.Errorf("block 0 = %+v", blocks[0])
	}
	if blocks[1].Text != "Cantidad" || blocks[1].Column != 14 {
		t.Errorf("block 1 = %+v", blocks[1])
	}
	// rows on the same physical line share a line number
	if blocks[3].Line != blocks[4].Line || blocks[3].Line != blocks[5].Line {
		t.Errorf("line grouping: %+v", blocks[3:6])
	}
	last := blocks[len(blocks)-1]
	if last.Page != 2 || last.Text != "pagina dos" {
		t.Errorf("page split: %+v", last)
	}
}

func TestTextLayerUsable(t *testing.T) {
	tests := []struct {
		name string
		text string
		min  int
		want bool
	}{
		{"clean text", strings.Repeat("Factura 2024 Papel A4 ", 10), 64, true},
		{"too short", "Total 72", 64, false},
		{"replacement garbage", strings.Repeat("��ab ", 50), 64, false},
		{"symbol soup", strings.Repeat("%$#@!&*() ", 30), 64, false},
	}
	for _, tt := range tests {
		if got := textLayerUsable(tt.text, tt.min); got != tt.want {
			t.Errorf("%s: textLayerUsable = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestParseTSV(t *testing.T) {
	tsv := strings.Join([]string{
		"level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext",
		"1\t1\t0\t0\t0\t0\t0\t0\t1000\t1400\t-1\t",
		"5\t1\t1\t1\t1\t1\t10\t100\t80\t20\t96.5\tPapel",
		"5\t1\t1\t1\t1\t2\t100\t101\t40\t20\t91.0\tA4",
		"5\t1\t1\t1\t2\t1\t10\t140\t90\t20\t88.0\tTotal",
		"5\t1\t1\t1\t2\t2\t200\t141\t60\t20\t90.5\t72,60",
	}, "\n")

	blocks, conf := parseTSV(tsv, 3)
	if len(blocks) != 4 {
		t.Fatalf("got %d blocks: %+v", len(blocks), blocks)
	}
	if blocks[0].Line != blocks[1].Line {
		t.Error("words of one TSV line split into different lines")
	}
	if blocks[2].Line == blocks[1].Line {
		t.Error("new TSV line not renumbered")
	}
	if blocks[0].Page != 3 {
		t.Errorf("page = %d, want 3", blocks[0].Page)
	}
	if blocks[0].Box == nil || blocks[0].Box.X != 10 || blocks[0].Box.Height != 20 {
		t.Errorf("box = %+v", blocks[0].Box)
	}
	wantConf := float32((96.5 + 91.0 + 88.0 + 90.5) / 4 / 100)
	if conf < wantConf-0.001 || conf > wantConf+0.001 {
		t.Errorf("confidence = %v, want %v", conf, wantConf)
	}
}
