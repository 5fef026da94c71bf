package parser

import "testing"

func TestFindTaxID(t *testing.T) {
	patterns := CompileTaxIDPatterns(nil)

	tests := []struct {
		name         string
		text         string
		want         string
		jurisdiction string
	}{
		{"labeled CIF", "Suministros López S.L.\nCIF: B-12345678\nCalle Mayor 1", "B12345678", "ES-CIF"},
		{"labeled NIF", "NIF 12345678Z", "12345678Z", "ES-NIF"},
		{"bare EU VAT", "Seller VAT number printed as ESB12345678 on footer", "ESB12345678", "EU-VAT"},
		{"spaced CIF", "C.I.F. no label here B 1234567 J", "B1234567J", "ES-CIF"},
		{"nothing", "no identifiers in this text", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, jur := FindTaxID(tt.text, patterns)
			if got != tt.want {
				t.Errorf("FindTaxID = %q, want %q", got, tt.want)
			}
			if jur != tt.jurisdiction {
				t.Errorf("jurisdiction = %q, want %q", jur, tt.jurisdiction)
			}
		})
	}
}

func TestFindTaxIDLabelBeatsBareScan(t *testing.T) {
	// the buyer's NIF appears first in the text, but the labeled seller CIF
	// must win
	text := "Cliente: 87654321X\nVendedor CIF: B12345678"
	got, _ := FindTaxID(text, CompileTaxIDPatterns(nil))
	if got != "B12345678" {
		t.Errorf("FindTaxID = %q, want labeled B12345678", got)
	}
}

func TestCompileTaxIDPatternsSkipsInvalid(t *testing.T) {
	patterns := CompileTaxIDPatterns([]string{`[`, `\bFR[0-9A-Z]{2}\d{9}\b`})
	if len(patterns) != len(defaultTaxIDPatterns)+1 {
		t.Fatalf("got %d patterns, want %d", len(patterns), len(defaultTaxIDPatterns)+1)
	}
	got, jur := FindTaxID("TVA FR40303265045", patterns)
	if got != "FR40303265045" || jur == "" {
		t.Errorf("custom pattern: got %q (%s)", got, jur)
	}
}
