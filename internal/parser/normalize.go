package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"invoicebridge/internal/entity"
)

var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// stripDiacriticsASCII folds accented characters to their base form so that
// keyword matching works on OCR output in any of the supported locales.
func stripDiacriticsASCII(s string) string {
	out, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		return s
	}
	return out
}

var amountCleanRe = regexp.MustCompile(`[€$£\s]|EUR|USD|GBP`)

// ParseAmount converts a printed monetary amount into minor units, handling
// both decimal-comma ("1.234,56") and decimal-point ("1,234.56") locales.
// The second return is false when the text is not an amount.
func ParseAmount(s string) (entity.Cents, bool) {
	s = amountCleanRe.ReplaceAllString(strings.TrimSpace(s), "")
	if s == "" {
		return 0, false
	}
	neg := false
	if strings.HasPrefix(s, "-") || (strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")) {
		neg = true
		s = strings.Trim(s, "-()")
	}

	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')

	var intPart, fracPart string
	switch {
	case lastDot < 0 && lastComma < 0:
		intPart = s
	case lastDot >= 0 && lastComma >= 0:
		// the later separator is the decimal mark
		sep := lastDot
		if lastComma > lastDot {
			sep = lastComma
		}
		intPart = strings.Map(dropSeparators, s[:sep])
		fracPart = s[sep+1:]
	default:
		sep := lastDot
		if sep < 0 {
			sep = lastComma
		}
		tail := s[sep+1:]
		// a single separator followed by exactly three digits is a
		// thousands group ("1.234"), not a decimal mark
		if len(tail) == 3 && !strings.ContainsAny(tail, ".,") {
			intPart = strings.Map(dropSeparators, s)
		} else {
			intPart = strings.Map(dropSeparators, s[:sep])
			fracPart = tail
		}
	}

	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > 2 {
		return 0, false
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, false
	}
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, false
	}
	v := whole*100 + frac
	if neg {
		v = -v
	}
	return entity.Cents(v), true
}

func dropSeparators(r rune) rune {
	if r == '.' || r == ',' {
		return -1
	}
	return r
}

var monthNames = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"jun": time.June, "jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June, "julio": time.July,
	"agosto": time.August, "septiembre": time.September, "octubre": time.October,
	"noviembre": time.November, "diciembre": time.December,
}

var (
	isoDateRe     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	numericDateRe = regexp.MustCompile(`\b(\d{1,2})[./-](\d{1,2})[./-](\d{2,4})\b`)
	wordDateRe    = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(?:de\s+)?([a-záéíóúñ]+)\.?\s+(?:de\s+)?(\d{4})\b`)
)

// ParseDate recognizes ISO, numeric European (day first), and written-month
// dates in English and Spanish. Numeric dates prefer day-month order and only
// fall back to month-day when the day field is impossible.
func ParseDate(s string) (time.Time, bool) {
	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if t, ok := makeDate(y, mo, d); ok {
			return t, true
		}
	}
	if m := numericDateRe.FindStringSubmatch(s); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		if y < 100 {
			y += 2000
		}
		if t, ok := makeDate(y, b, a); ok { // DD/MM/YYYY
			return t, true
		}
		if t, ok := makeDate(y, a, b); ok { // MM/DD/YYYY fallback
			return t, true
		}
	}
	if m := wordDateRe.FindStringSubmatch(s); m != nil {
		d, _ := strconv.Atoi(m[1])
		y, _ := strconv.Atoi(m[3])
		if mo, ok := monthNames[strings.ToLower(m[2])]; ok {
			if t, ok := makeDate(y, int(mo), d); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func makeDate(y, m, d int) (time.Time, bool) {
	if y < 1990 || y > 2100 || m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, false
	}
	return t, true
}

var currencyHints = []struct {
	needle string
	code   string
}{
	{"€", "EUR"}, {"EUR", "EUR"},
	{"$", "USD"}, {"USD", "USD"},
	{"£", "GBP"}, {"GBP", "GBP"},
	{"CHF", "CHF"},
}

// DetectCurrency scans for currency symbols or ISO codes.
func DetectCurrency(text string) (string, bool) {
	for _, h := range currencyHints {
		if strings.Contains(text, h.needle) {
			return h.code, true
		}
	}
	return "", false
}
