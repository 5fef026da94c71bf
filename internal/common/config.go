package common

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration. It is built once at process
// start and passed by reference into each component; nothing reads the
// environment after LoadConfig returns.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ledger   LedgerConfig
	OCR      OCRConfig
	Match    MatchConfig
	Rules    RulesConfig
	LLM      LLMConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr     string
	APIToken string
}

// DatabaseConfig configures the run-audit store. An empty URL selects a
// local SQLite file instead of Postgres.
type DatabaseConfig struct {
	URL        string
	SQLitePath string
}

// LedgerConfig holds ledger (ERP) connection settings and company defaults.
type LedgerConfig struct {
	URL               string
	Database          string
	Username          string
	APIKey            string
	CompanyID         int64
	PurchaseJournalID int64
	DefaultCurrency   string
	MaxAttachmentMB   float64
	// BackoffSchedule is the per-attempt retry delay for transient
	// failures, original schedule "2s,5s,15s".
	BackoffSchedule []time.Duration
	SelfKeywords    []string
	SelfDomains     []string
	Timeout         time.Duration
}

// OCRConfig holds external tool settings for document extraction.
type OCRConfig struct {
	Pdftotext     string
	Pdftoppm      string
	Tesseract     string
	TesseractLang string
	TessdataDir   string
	DPI           int
	MaxPages      int
}

// MatchConfig holds vendor-matching thresholds. Both are tunable, not
// constants: the scoring formula is heuristic pending empirical data.
type MatchConfig struct {
	HighThreshold float64 // single candidate at/above this -> matched
	LowThreshold  float64 // candidates at/above this participate in ambiguous
	MaxCandidates int
}

// RulesConfig points at the assignment rule table and defaults.
type RulesConfig struct {
	Path               string
	DefaultAccountCode string
	DefaultTaxCode     string
	TaxIDPatterns      []string // extra jurisdiction regexes, pipe-separated env
}

// LLMConfig configures the optional fallback field extractor. Empty APIKey
// disables it.
type LLMConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// LoadConfig loads configuration from the environment, honoring a local
// .env file when present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Addr:     ":" + getEnv("PORT", "8080"),
			APIToken: getEnv("API_TOKEN", ""),
		},
		Database: DatabaseConfig{
			URL:        getEnv("DB_URL", ""),
			SQLitePath: getEnv("SQLITE_PATH", "invoicebridge.db"),
		},
		Ledger: LedgerConfig{
			URL:               strings.TrimRight(getEnv("LEDGER_URL", ""), "/"),
			Database:          getEnv("LEDGER_DB", ""),
			Username:          getEnv("LEDGER_USER", ""),
			APIKey:            getEnv("LEDGER_API_KEY", ""),
			CompanyID:         getEnvAsInt64("COMPANY_ID", 0),
			PurchaseJournalID: getEnvAsInt64("PURCHASE_JOURNAL_ID", 0),
			DefaultCurrency:   getEnv("DEFAULT_CURRENCY", "EUR"),
			MaxAttachmentMB:   getEnvAsFloat64("MAX_ATTACHMENT_MB", 20),
			BackoffSchedule:   getEnvAsDurations("BACKOFF_SCHEDULE", []time.Duration{2 * time.Second, 5 * time.Second, 15 * time.Second}),
			SelfKeywords:      getEnvAsList("SELF_COMPANY_KEYWORDS"),
			SelfDomains:       getEnvAsList("SELF_EMAIL_DOMAINS"),
			Timeout:           getEnvAsDuration("LEDGER_TIMEOUT", 30*time.Second),
		},
		OCR: OCRConfig{
			Pdftotext:     getEnv("PDFTOTEXT_BIN", "pdftotext"),
			Pdftoppm:      getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Tesseract:     getEnv("TESSERACT_BIN", "tesseract"),
			TesseractLang: getEnv("TESSERACT_LANG", "spa+eng"),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
			DPI:           getEnvAsInt("OCR_DPI", 300),
			MaxPages:      getEnvAsInt("OCR_MAX_PAGES", 0),
		},
		Match: MatchConfig{
			HighThreshold: getEnvAsFloat64("MATCH_HIGH_THRESHOLD", 0.92),
			LowThreshold:  getEnvAsFloat64("MATCH_LOW_THRESHOLD", 0.72),
			MaxCandidates: getEnvAsInt("MATCH_MAX_CANDIDATES", 5),
		},
		Rules: RulesConfig{
			Path:               getEnv("RULES_PATH", ""),
			DefaultAccountCode: getEnv("DEFAULT_ACCOUNT_CODE", "600000"),
			DefaultTaxCode:     getEnv("DEFAULT_TAX_CODE", "21"),
			TaxIDPatterns:      splitNonEmpty(getEnv("TAXID_PATTERNS", ""), "|"),
		},
		LLM: LLMConfig{
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
	}
}

// Validate checks the settings a server deployment cannot run without.
func (c *Config) Validate() error {
	if c.Server.APIToken == "" {
		return NewAppError("CONFIG_ERROR", "API_TOKEN is required", ErrInvalidInput)
	}
	if c.Ledger.URL == "" || c.Ledger.Database == "" || c.Ledger.Username == "" || c.Ledger.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "LEDGER_URL/LEDGER_DB/LEDGER_USER/LEDGER_API_KEY are required", ErrInvalidInput)
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsDurations(key string, defaultValue []time.Duration) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []time.Duration
	for _, part := range splitNonEmpty(value, ",") {
		d, err := time.ParseDuration(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsList(key string) []string {
	return splitNonEmpty(os.Getenv(key), ",")
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
