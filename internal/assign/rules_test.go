package assign

import (
	"os"
	"path/filepath"
	"testing"
)

const validRules = `{
  "vendor_overrides": {
    "42": {"account_code": "629000", "tax_code": "10"}
  },
  "keyword_rules": [
    {"keywords": ["Papel", "TONER"], "account_code": "602000", "tax_code": "21"}
  ],
  "default": {"account_code": "600000", "tax_code": "21"}
}`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(validRules))
	if err != nil {
		t.Fatal(err)
	}
	if rules.Default.AccountCode != "600000" {
		t.Errorf("default = %+v", rules.Default)
	}
	if got := rules.VendorOverrides["42"].AccountCode; got != "629000" {
		t.Errorf("override = %q", got)
	}
	// keywords are lowercased on load
	if got := rules.KeywordRules[0].Keywords[1]; got != "toner" {
		t.Errorf("keyword = %q", got)
	}
}

func TestParseRulesRejectsInvalid(t *testing.T) {
	bad := []string{
		`{}`,                                   // missing default
		`{"default": {"tax_code": "21"}}`,      // default without account
		`{"default": {"account_code": ""}}`,    // empty account
		`{"default": {"account_code": "6"}, "keyword_rules": [{"account_code": "x"}]}`, // rule without keywords
		`{"default": {"account_code": "6"}, "vendor_overrides": {"abc": {"account_code": "6"}}}`, // non-numeric vendor key
		`not json`,
	}
	for _, raw := range bad {
		if _, err := ParseRules([]byte(raw)); err == nil {
			t.Errorf("ParseRules(%q) accepted invalid input", raw)
		}
	}
}

func TestLoadRulesEmptyPath(t *testing.T) {
	rules, err := LoadRules("", "600000", "21")
	if err != nil {
		t.Fatal(err)
	}
	if rules.Default.AccountCode != "600000" || rules.Default.TaxCode != "21" {
		t.Errorf("defaults = %+v", rules.Default)
	}
}

func TestLoadRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, []byte(validRules), 0o600); err != nil {
		t.Fatal(err)
	}
	rules, err := LoadRules(path, "x", "y")
	if err != nil {
		t.Fatal(err)
	}
	if rules.Default.AccountCode != "600000" {
		t.Errorf("default = %+v", rules.Default)
	}
}
