package recognition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Patterns for pulling structured fields out of noisy recognized text.
// Extraction is best-effort: the upstream engine's output is free text, so a
// single-pass match is all we attempt. No extractor returns an error; absence
// of a match is always representable as ""/nil.
var (
	amountPattern = regexp.MustCompile(`\$?\d+\.\d{2}`)
	datePattern   = regexp.MustCompile(`\d{1,2}[-/]\d{1,2}[-/]\d{2,4}`)
	dateSeparator = regexp.MustCompile(`[-/]`)
)

// ExtractVendor returns the first non-empty line that looks like neither an
// amount nor a date. Vendors print their name at the top of a slip, above any
// totals or dates. Returns "" when no line qualifies.
func ExtractVendor(text string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if amountPattern.MatchString(trimmed) || datePattern.MatchString(trimmed) {
			continue
		}
		return trimmed
	}
	return ""
}

// ExtractDate finds the first date-like token, reads its parts as
// month/day/year (two-digit years are assumed to be 2000s) and normalizes to
// YYYY-MM-DD. Returns nil when nothing matches or the token is not a real
// calendar date.
func ExtractDate(text string) *string {
	match := datePattern.FindString(text)
	if match == "" {
		return nil
	}

	parts := dateSeparator.Split(match, -1)
	if len(parts) != 3 {
		return nil
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil
	}
	day, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil
	}
	yearStr := parts[2]
	if len(yearStr) == 2 {
		yearStr = "20" + yearStr
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return nil
	}

	// time.Date normalizes out-of-range components (month 13 becomes
	// January of the next year), so round-trip the parts to reject
	// impossible dates instead of silently shifting them.
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Year() != year || date.Month() != time.Month(month) || date.Day() != day {
		return nil
	}

	normalized := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	return &normalized
}

// ExtractAmount finds the first token that looks like a decimal amount with
// exactly two fraction digits, optionally marked with a currency symbol, and
// returns the numeric portion. Returns nil when nothing matches.
func ExtractAmount(text string) *string {
	match := amountPattern.FindString(text)
	if match == "" {
		return nil
	}
	amount := strings.TrimPrefix(match, "$")
	return &amount
}
