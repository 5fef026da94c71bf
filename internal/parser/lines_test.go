package parser

import (
	"testing"

	"invoicebridge/internal/entity"
)

func plainBlock(page, line int, col float64, text string) entity.TextBlock {
	return entity.TextBlock{Page: page, Line: line, Column: col, Text: text}
}

func boxedBlock(page int, x, y float64, text string) entity.TextBlock {
	return entity.TextBlock{
		Page: page, Column: x, Text: text,
		Box: &entity.BBox{X: x, Y: y, Width: 50, Height: 10},
	}
}

func TestGroupRowsPlainBlocks(t *testing.T) {
	rows := groupRows([]entity.TextBlock{
		plainBlock(1, 0, 0, "Acme"),
		plainBlock(1, 0, 40, "Invoice"),
		plainBlock(1, 1, 0, "second line"),
		plainBlock(2, 0, 0, "page two"),
	}, 0)

	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if got := rows[0].joined(); got != "Acme Invoice" {
		t.Errorf("row 0 = %q", got)
	}
	if rows[2].page != 2 {
		t.Errorf("row 2 page = %d, want 2", rows[2].page)
	}
}

func TestGroupRowsBandsBoxedBlocks(t *testing.T) {
	// words at y=100 and y=103 share a band; y=130 starts a new one
	rows := groupRows([]entity.TextBlock{
		boxedBlock(1, 10, 100, "Paper"),
		boxedBlock(1, 200, 103, "12.00"),
		boxedBlock(1, 10, 130, "Toner"),
		boxedBlock(1, 200, 131, "48.00"),
	}, 0)

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if got := rows[0].joined(); got != "Paper 12.00" {
		t.Errorf("row 0 = %q", got)
	}
	if got := rows[1].joined(); got != "Toner 48.00" {
		t.Errorf("row 1 = %q", got)
	}
}

func TestGroupRowsOrdersCellsByColumn(t *testing.T) {
	rows := groupRows([]entity.TextBlock{
		boxedBlock(1, 300, 50, "last"),
		boxedBlock(1, 10, 52, "first"),
	}, 0)
	if len(rows) != 1 || rows[0].joined() != "first last" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestReconstructLineItemsWithHeader(t *testing.T) {
	rows := groupRows([]entity.TextBlock{
		plainBlock(1, 0, 0, "Concepto"),
		plainBlock(1, 0, 40, "Cantidad"),
		plainBlock(1, 0, 55, "Precio"),
		plainBlock(1, 0, 70, "Importe"),
		plainBlock(1, 1, 0, "Papel A4"),
		plainBlock(1, 1, 40, "10"),
		plainBlock(1, 1, 55, "1,20"),
		plainBlock(1, 1, 70, "12,00"),
		plainBlock(1, 2, 0, "Tóner negro"),
		plainBlock(1, 2, 40, "2"),
		plainBlock(1, 2, 55, "24,00"),
		plainBlock(1, 2, 70, "48,00"),
		plainBlock(1, 3, 0, "Base imponible"),
		plainBlock(1, 3, 70, "60,00"),
	}, 0)

	items, ambiguous := ReconstructLineItems(rows)
	if ambiguous {
		t.Fatal("header table reported ambiguous")
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2: %+v", len(items), items)
	}
	want := []entity.LineItem{
		{Description: "Papel A4", Quantity: 10, UnitPrice: 120, Amount: 1200},
		{Description: "Tóner negro", Quantity: 2, UnitPrice: 2400, Amount: 4800},
	}
	for i, w := range want {
		got := items[i]
		if got.Description != w.Description || got.Quantity != w.Quantity ||
			got.UnitPrice != w.UnitPrice || got.Amount != w.Amount {
			t.Errorf("item %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestReconstructLineItemsContinuationLine(t *testing.T) {
	rows := groupRows([]entity.TextBlock{
		plainBlock(1, 0, 0, "Description"),
		plainBlock(1, 0, 60, "Amount"),
		plainBlock(1, 1, 0, "Consulting services"),
		plainBlock(1, 1, 60, "500.00"),
		plainBlock(1, 2, 0, "for March engagement"),
		plainBlock(1, 3, 0, "Total"),
		plainBlock(1, 3, 60, "500.00"),
	}, 0)

	items, ambiguous := ReconstructLineItems(rows)
	if ambiguous || len(items) != 1 {
		t.Fatalf("items = %+v, ambiguous = %v", items, ambiguous)
	}
	if items[0].Description != "Consulting services for March engagement" {
		t.Errorf("description = %q", items[0].Description)
	}
}

func TestReconstructLineItemsFallback(t *testing.T) {
	rows := groupRows([]entity.TextBlock{
		plainBlock(1, 0, 0, "Office cleaning"),
		plainBlock(1, 0, 50, "150,00"),
		plainBlock(1, 1, 0, "Window service"),
		plainBlock(1, 1, 50, "80,00"),
		plainBlock(1, 2, 0, "Total"),
		plainBlock(1, 2, 50, "230,00"),
	}, 0)

	items, ambiguous := ReconstructLineItems(rows)
	if !ambiguous {
		t.Fatal("fallback path must report ambiguous")
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2: %+v", len(items), items)
	}
	if items[0].Description != "Office cleaning" || items[0].Amount != 15000 {
		t.Errorf("item 0 = %+v", items[0])
	}
}
