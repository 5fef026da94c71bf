package parser

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"invoicebridge/internal/entity"
)

// textRow is one reconstructed physical line: blocks sharing a vertical band,
// ordered left to right.
type textRow struct {
	page  int
	cells []entity.TextBlock
}

func (r textRow) joined() string {
	parts := make([]string, len(r.cells))
	for i, c := range r.cells {
		parts[i] = c.Text
	}
	return strings.Join(parts, " ")
}

// groupRows rebuilds physical lines from positioned blocks. Blocks carrying a
// bounding box are clustered into bands: a block joins the current band when
// its vertical center lies within the tolerance of the band's running center.
// Blocks without geometry (embedded text layer) already carry a line number.
func groupRows(blocks []entity.TextBlock, bandTolerance float64) []textRow {
	var boxed, plain []entity.TextBlock
	for _, b := range blocks {
		if b.Box != nil {
			boxed = append(boxed, b)
		} else {
			plain = append(plain, b)
		}
	}

	var rows []textRow

	if len(plain) > 0 {
		type key struct{ page, line int }
		index := map[key]int{}
		for _, b := range plain {
			k := key{b.Page, b.Line}
			i, ok := index[k]
			if !ok {
				i = len(rows)
				index[k] = i
				rows = append(rows, textRow{page: b.Page})
			}
			rows[i].cells = append(rows[i].cells, b)
		}
	}

	if len(boxed) > 0 {
		sort.SliceStable(boxed, func(i, j int) bool {
			if boxed[i].Page != boxed[j].Page {
				return boxed[i].Page < boxed[j].Page
			}
			return boxed[i].Box.CenterY() < boxed[j].Box.CenterY()
		})

		tol := bandTolerance
		if tol <= 0 {
			tol = medianHeight(boxed) * 0.6
		}
		if tol <= 0 {
			tol = 8
		}

		var cur *textRow
		var curY float64
		for _, b := range boxed {
			cy := b.Box.CenterY()
			if cur == nil || b.Page != cur.page || cy-curY > tol {
				rows = append(rows, textRow{page: b.Page})
				cur = &rows[len(rows)-1]
				curY = cy
			} else {
				// running average keeps slanted scans in one band
				n := float64(len(cur.cells))
				curY = (curY*n + cy) / (n + 1)
			}
			cur.cells = append(cur.cells, b)
		}
	}

	for i := range rows {
		cells := rows[i].cells
		sort.SliceStable(cells, func(a, b int) bool { return cells[a].Column < cells[b].Column })
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].page < rows[j].page })
	return rows
}

func medianHeight(blocks []entity.TextBlock) float64 {
	hs := make([]float64, 0, len(blocks))
	for _, b := range blocks {
		hs = append(hs, b.Box.Height)
	}
	sort.Float64s(hs)
	if len(hs) == 0 {
		return 0
	}
	return hs[len(hs)/2]
}

// column kinds of a line-item table
const (
	colDescription = "description"
	colQuantity    = "quantity"
	colUnitPrice   = "unit_price"
	colTaxRate     = "tax_rate"
	colAmount      = "amount"
)

var headerKeywords = map[string][]string{
	colDescription: {"description", "descripcion", "concepto", "item", "detalle", "detail", "servicio"},
	colQuantity:    {"qty", "quantity", "cantidad", "uds", "unidades", "units", "cant"},
	colUnitPrice:   {"unit price", "precio", "precio unit", "p. unit", "price", "rate", "p.u", "tarifa"},
	colTaxRate:     {"iva", "vat", "tax", "impuesto", "% iva"},
	colAmount:      {"importe", "amount", "total", "subtotal linea", "monto"},
}

var totalsRowRe = regexp.MustCompile(`(?i)^(sub\s*total|base\s+imponible|total|iva|vat|tax|importe\s+total|a\s+pagar|due|vencimiento)`)

type headerColumn struct {
	kind string
	x    float64
}

// detectHeader returns the column layout when a row looks like a table
// header (two or more recognized column keywords).
func detectHeader(row textRow) []headerColumn {
	var cols []headerColumn
	seen := map[string]bool{}
	for _, cell := range row.cells {
		lc := strings.ToLower(stripDiacriticsASCII(cell.Text))
		for kind, words := range headerKeywords {
			if seen[kind] {
				continue
			}
			for _, w := range words {
				if strings.Contains(lc, w) {
					cols = append(cols, headerColumn{kind: kind, x: cell.Column})
					seen[kind] = true
					break
				}
			}
		}
	}
	if len(cols) < 2 || !seen[colAmount] && !seen[colUnitPrice] {
		return nil
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].x < cols[j].x })
	return cols
}

// assignColumn picks the header column a cell belongs to: the rightmost
// header starting at or left of the cell, with slack for ragged OCR.
func assignColumn(cols []headerColumn, x float64) string {
	const slack = 4
	kind := cols[0].kind
	for _, c := range cols {
		if c.x <= x+slack {
			kind = c.kind
		}
	}
	return kind
}

// ReconstructLineItems rebuilds the line-item table from rows. It returns the
// items plus an ambiguous flag set when no header row could be found and the
// fallback heuristic (trailing amount per row) had to be used.
func ReconstructLineItems(rows []textRow) (items []entity.LineItem, ambiguous bool) {
	headerIdx := -1
	var cols []headerColumn
	for i, row := range rows {
		if c := detectHeader(row); c != nil {
			headerIdx = i
			cols = c
			break
		}
	}

	if headerIdx < 0 {
		return fallbackLineItems(rows), true
	}

	for _, row := range rows[headerIdx+1:] {
		text := row.joined()
		if totalsRowRe.MatchString(strings.TrimSpace(text)) {
			break
		}
		item, ok := mapRowToItem(cols, row)
		if !ok {
			// continuation line: extend the previous description
			if len(items) > 0 && strings.TrimSpace(text) != "" {
				items[len(items)-1].Description += " " + strings.TrimSpace(text)
			}
			continue
		}
		items = append(items, item)
	}
	return items, false
}

var percentRe = regexp.MustCompile(`(\d{1,2}(?:[.,]\d{1,2})?)\s*%`)

func mapRowToItem(cols []headerColumn, row textRow) (entity.LineItem, bool) {
	var item entity.LineItem
	var descParts []string
	haveAmount := false

	for _, cell := range row.cells {
		switch assignColumn(cols, cell.Column) {
		case colDescription:
			descParts = append(descParts, cell.Text)
		case colQuantity:
			if q, ok := parseQuantity(cell.Text); ok {
				item.Quantity = q
			} else {
				descParts = append(descParts, cell.Text)
			}
		case colUnitPrice:
			if v, ok := ParseAmount(cell.Text); ok {
				item.UnitPrice = v
			}
		case colTaxRate:
			if m := percentRe.FindStringSubmatch(cell.Text); m != nil {
				item.TaxRate, _ = strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
			} else if v, err := strconv.ParseFloat(strings.ReplaceAll(cell.Text, ",", "."), 64); err == nil && v < 100 {
				item.TaxRate = v
			}
		case colAmount:
			if v, ok := ParseAmount(cell.Text); ok {
				item.Amount = v
				haveAmount = true
			}
		}
	}

	item.Description = strings.TrimSpace(strings.Join(descParts, " "))
	if !haveAmount || item.Description == "" {
		return entity.LineItem{}, false
	}
	if item.Quantity == 0 {
		item.Quantity = 1
	}
	if item.UnitPrice == 0 && item.Quantity != 0 {
		item.UnitPrice = entity.Cents(float64(item.Amount) / item.Quantity)
	}
	return item, true
}

// fallbackLineItems handles tables without a recognizable header: any row
// ending in a parsable amount with leading text becomes a line item.
func fallbackLineItems(rows []textRow) []entity.LineItem {
	var items []entity.LineItem
	for _, row := range rows {
		if len(row.cells) < 2 {
			continue
		}
		text := strings.TrimSpace(row.joined())
		if totalsRowRe.MatchString(text) {
			continue
		}
		last := row.cells[len(row.cells)-1]
		amount, ok := ParseAmount(last.Text)
		if !ok || amount == 0 {
			continue
		}
		var descParts []string
		for _, cell := range row.cells[:len(row.cells)-1] {
			descParts = append(descParts, cell.Text)
		}
		desc := strings.TrimSpace(strings.Join(descParts, " "))
		if desc == "" || !strings.ContainsFunc(desc, isLetter) {
			continue
		}
		items = append(items, entity.LineItem{
			Description: desc,
			Quantity:    1,
			UnitPrice:   amount,
			Amount:      amount,
		})
	}
	return items
}

func parseQuantity(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 || v > 1e6 {
		return 0, false
	}
	return v, true
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r > 127
}
