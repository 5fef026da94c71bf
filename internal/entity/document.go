package entity

// RawDocument is the uploaded invoice binary plus its declared MIME type.
// It is kept in memory for the duration of one pipeline run and reused as
// the attachment payload at submission time.
type RawDocument struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// BBox is an axis-aligned bounding box in page coordinates. OCR output uses
// top-left origin with Y growing downwards (tesseract TSV convention).
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the right edge X coordinate.
func (b BBox) Right() float64 { return b.X + b.Width }

// Bottom returns the bottom edge Y coordinate.
func (b BBox) Bottom() float64 { return b.Y + b.Height }

// CenterY returns the vertical center, used for line-band grouping.
func (b BBox) CenterY() float64 { return b.Y + b.Height/2 }

// TextBlock is one positioned piece of extracted text. Blocks coming from an
// embedded PDF text layer carry no box; Column then holds the character
// offset of the block within its physical line, which preserves enough
// horizontal order for table reconstruction.
type TextBlock struct {
	Page   int     `json:"page"`
	Line   int     `json:"line"`
	Column float64 `json:"column"`
	Text   string  `json:"text"`
	Box    *BBox   `json:"box,omitempty"`
}

// ExtractedText is the ordered block sequence produced by the extractor for a
// single document. It is owned by the pipeline run and never persisted.
type ExtractedText struct {
	Blocks     []TextBlock `json:"blocks"`
	Pages      int         `json:"pages"`
	SourceType string      `json:"source_type"` // "PDF" | "IMAGE"
	Method     string      `json:"method"`      // "pdf-text" | "pdf-ocr" | "image-ocr"
	Confidence float32     `json:"confidence"`  // 0..1, 0 when unknown
	Warnings   []string    `json:"warnings,omitempty"`
}

// PlainText joins all blocks into a newline-separated string, one physical
// line per row, for pattern scans that do not need positions.
func (e ExtractedText) PlainText() string {
	var out []byte
	lastPage, lastLine := -1, -1
	for _, b := range e.Blocks {
		if b.Page != lastPage || b.Line != lastLine {
			if len(out) > 0 {
				out = append(out, '\n')
			}
			lastPage, lastLine = b.Page, b.Line
		} else if len(out) > 0 {
			out = append(out, ' ')
		}
		out = append(out, b.Text...)
	}
	return string(out)
}
