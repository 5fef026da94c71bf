package parser

import (
	"regexp"
	"strings"
)

// TaxIDPattern is one jurisdiction's tax-identifier shape. Additional
// patterns come in through configuration; the built-in set covers the
// jurisdictions the operator actually bills from.
type TaxIDPattern struct {
	Jurisdiction string
	Re           *regexp.Regexp
}

// defaultTaxIDPatterns: Spanish CIF/NIF first (primary jurisdiction), then a
// generic EU VAT shape. Order matters, first hit wins.
var defaultTaxIDPatterns = []TaxIDPattern{
	{Jurisdiction: "ES-CIF", Re: regexp.MustCompile(`\b[ABCDEFGHJKLMNPQRSUVW][-. ]?\d{7}[-. ]?[0-9A-J]\b`)},
	{Jurisdiction: "ES-NIF", Re: regexp.MustCompile(`\b\d{8}[-. ]?[A-HJ-NP-TV-Z]\b`)},
	{Jurisdiction: "EU-VAT", Re: regexp.MustCompile(`\b[A-Z]{2}[0-9A-Z]{8,12}\b`)},
}

var taxIDLabelRe = regexp.MustCompile(`(?i)\b(?:CIF|NIF|VAT(?:\s+(?:no|number|reg))?|Tax\s*ID|USt-IdNr)\b[.:]?\s*([A-Z0-9][A-Z0-9-. ]{6,16})`)

// CompileTaxIDPatterns appends user-configured regexes to the built-in set.
// Invalid expressions are skipped; configuration mistakes must not break
// parsing.
func CompileTaxIDPatterns(extra []string) []TaxIDPattern {
	patterns := make([]TaxIDPattern, len(defaultTaxIDPatterns))
	copy(patterns, defaultTaxIDPatterns)
	for _, raw := range extra {
		re, err := regexp.Compile(raw)
		if err != nil {
			continue
		}
		patterns = append(patterns, TaxIDPattern{Jurisdiction: "custom", Re: re})
	}
	return patterns
}

// FindTaxID looks for a labeled identifier first ("CIF: B12345678"), then
// falls back to a bare pattern scan. The returned ID is uppercased with
// filler punctuation removed.
func FindTaxID(text string, patterns []TaxIDPattern) (string, string) {
	if m := taxIDLabelRe.FindStringSubmatch(text); m != nil {
		candidate := normalizeTaxID(m[1])
		for _, p := range patterns {
			if p.Re.MatchString(candidate) {
				return candidate, p.Jurisdiction
			}
		}
		// labeled but unknown shape: still worth returning, the resolver
		// only uses it for exact matching
		if len(candidate) >= 7 {
			return candidate, "unknown"
		}
	}
	for _, p := range patterns {
		if m := p.Re.FindString(text); m != "" {
			return normalizeTaxID(m), p.Jurisdiction
		}
	}
	return "", ""
}

func normalizeTaxID(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.':
			return -1
		}
		return r
	}, s)
}
