package validate

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Field coercion helpers. Model output is untrusted: every value may
// be missing, null, the wrong kind, or a locale-formatted string.

var nonNumeric = regexp.MustCompile(`[^\d.\-]`)

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func optionalString(m map[string]any, key string) *string {
	s := stringField(m, key)
	if s == "" {
		return nil
	}
	return &s
}

// toFloat coerces a JSON value to a number. Strings are stripped of
// currency symbols and thousand separators first ("RM 1,234.50" →
// 1234.5). Returns nil when the value cannot be read as a number.
func toFloat(v any) *float64 {
	switch val := v.(type) {
	case nil:
		return nil
	case float64:
		f := val
		return &f
	case int:
		f := float64(val)
		return &f
	case string:
		s := nonNumeric.ReplaceAllString(strings.TrimSpace(val), "")
		if s == "" || s == "-" || s == "." {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func numberField(m map[string]any, key string) *float64 {
	v, ok := m[key]
	if !ok {
		return nil
	}
	return toFloat(v)
}

// round2 rounds to currency precision. The small bias keeps x.005
// values from rounding down through float representation error.
func round2(f float64) float64 {
	return math.Round((f+1e-12)*100) / 100
}

func round2p(f *float64) *float64 {
	if f == nil {
		return nil
	}
	r := round2(*f)
	return &r
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02/01/2006",
	"2006/01/02",
	"02-01-2006",
	"02/01/06",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
}

// parseDate best-effort parses a purchase date into YYYY-MM-DD in the
// target timezone. Returns "" when no layout matches.
func parseDate(s string, loc *time.Location) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		return t.In(loc).Format("2006-01-02")
	}
	return ""
}
