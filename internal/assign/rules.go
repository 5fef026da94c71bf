package assign

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Rule pairs a ledger account reference with a tax reference. Both accept
// the ledger shorthand forms: an account code ("600000"), "id:NN", or a
// name; taxes additionally accept a bare percentage ("21").
type Rule struct {
	AccountCode string `json:"account_code"`
	TaxCode     string `json:"tax_code,omitempty"`
}

// KeywordRule applies when any keyword matches the line description.
type KeywordRule struct {
	Keywords []string `json:"keywords"`
	Rule
}

// Rules is the three-tier assignment table: vendor overrides beat keyword
// rules beat the global default.
type Rules struct {
	VendorOverrides map[string]Rule `json:"vendor_overrides,omitempty"`
	KeywordRules    []KeywordRule   `json:"keyword_rules,omitempty"`
	Default         Rule            `json:"default"`
}

const rulesSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["default"],
  "$defs": {
    "rule": {
      "type": "object",
      "additionalProperties": false,
      "required": ["account_code"],
      "properties": {
        "account_code": {"type": "string", "minLength": 1},
        "tax_code": {"type": "string"}
      }
    }
  },
  "properties": {
    "vendor_overrides": {
      "type": "object",
      "patternProperties": {"^[0-9]+$": {"$ref": "#/$defs/rule"}},
      "additionalProperties": false
    },
    "keyword_rules": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["keywords", "account_code"],
        "properties": {
          "keywords": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1},
          "account_code": {"type": "string", "minLength": 1},
          "tax_code": {"type": "string"}
        }
      }
    },
    "default": {"$ref": "#/$defs/rule"}
  }
}`

var compiledRulesSchema = jsonschema.MustCompileString("rules.schema.json", rulesSchema)

// LoadRules reads and validates a rules table from disk. An empty path
// yields a table with only the supplied defaults.
func LoadRules(path, defaultAccount, defaultTax string) (*Rules, error) {
	if path == "" {
		return &Rules{Default: Rule{AccountCode: defaultAccount, TaxCode: defaultTax}}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules validates the JSON document against the rules schema before
// decoding, so configuration mistakes fail loudly at startup rather than
// silently misrouting lines.
func ParseRules(raw []byte) (*Rules, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if err := compiledRulesSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("rules schema: %w", err)
	}
	var rules Rules
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	for i := range rules.KeywordRules {
		for j, kw := range rules.KeywordRules[i].Keywords {
			rules.KeywordRules[i].Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
	return &rules, nil
}
