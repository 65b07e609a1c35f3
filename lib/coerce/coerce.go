// Package coerce turns the loosely typed values found in county land-record
// payloads into monetary amounts, dates and tax years. Every function here
// degrades to a "not found" result instead of returning an error: a value
// that cannot be coerced is simply absent.
package coerce

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISOLayout is the timestamp layout every parsed date is rendered in.
const ISOLayout = "2006-01-02T15:04:05"

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"01-02-2006",
	"2006/01/02",
}

var nonAmount = regexp.MustCompile(`[^\d.-]`)
var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// ParseAmount strips currency symbols, commas and any other decoration from
// value and parses the remainder as a float. The second return is false when
// nothing numeric is left.
func ParseAmount(value string) (float64, bool) {
	cleaned := nonAmount.ReplaceAllString(value, "")
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseDate tries the supported date layouts in order and renders the first
// match as an ISO-8601 timestamp. Unrecognized input is returned unchanged,
// never dropped.
func ParseDate(value string) string {
	trimmed := strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, trimmed)
		if err == nil {
			return t.Format(ISOLayout)
		}
	}
	return value
}

// ParseYear accepts a 4-digit year in [1900, 2100].
func ParseYear(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) != 4 {
		return "", false
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 1900 || n > 2100 {
		return "", false
	}
	return trimmed, true
}

var yearFields = []string{"year", "taxYear", "tax_year", "Year", "TAX_YEAR", "TaxYear", "tax-year"}

// YearFrom digs a tax year out of a record: an explicitly named year field
// wins, otherwise the first 4-digit year embedded in any string value (e.g.
// "2025 Tax Year") is used. Returns "" when no plausible year exists.
func YearFrom(record map[string]any) string {
	for _, field := range yearFields {
		v, ok := record[field]
		if !ok || v == nil {
			continue
		}
		if year, ok := ParseYear(Stringify(v)); ok {
			return year
		}
	}
	for _, v := range record {
		s, ok := v.(string)
		if !ok {
			continue
		}
		match := yearPattern.FindString(s)
		if match == "" {
			continue
		}
		if year, ok := ParseYear(match); ok {
			return year
		}
	}
	return ""
}

// AmountFrom probes the named keys in priority order for a monetary amount.
// When none of them yields one, it falls back to scanning every string value
// of the record and accepts the first that looks like currency (contains a
// digit or dollar sign and keeps a decimal point after cleaning).
func AmountFrom(record map[string]any, keys []string) *float64 {
	for _, key := range keys {
		v, ok := record[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			f := n
			return &f
		case int:
			f := float64(n)
			return &f
		case int64:
			f := float64(n)
			return &f
		case string:
			if f, ok := ParseAmount(n); ok {
				return &f
			}
		}
	}
	for _, v := range record {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if !strings.Contains(s, "$") && !strings.ContainsAny(s, "0123456789") {
			continue
		}
		cleaned := nonAmount.ReplaceAllString(s, "")
		if cleaned == "" || !strings.Contains(cleaned, ".") {
			continue
		}
		if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
			return &f
		}
	}
	return nil
}

// KeyedAmount is AmountFrom without the fallback scan: only the named keys
// are consulted. Use it where a stray currency string elsewhere in the record
// must not be mistaken for the field being asked about.
func KeyedAmount(record map[string]any, keys []string) *float64 {
	for _, key := range keys {
		v, ok := record[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			f := n
			return &f
		case int:
			f := float64(n)
			return &f
		case int64:
			f := float64(n)
			return &f
		case string:
			if f, ok := ParseAmount(n); ok {
				return &f
			}
		}
	}
	return nil
}

// DateFrom probes the named keys in priority order for a date. A value that
// matches a supported layout comes back as an ISO-8601 timestamp; any other
// non-empty value comes back as its raw string.
func DateFrom(record map[string]any, keys []string) string {
	for _, key := range keys {
		v, ok := record[key]
		if !ok || v == nil {
			continue
		}
		s := Stringify(v)
		if s == "" {
			continue
		}
		return ParseDate(s)
	}
	return ""
}

// Stringify renders scalar payload values the way the upstream sites print
// them, so string heuristics behave the same on decoded JSON numbers.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return ""
	}
}
