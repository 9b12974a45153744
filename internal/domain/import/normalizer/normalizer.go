// Package normalizer handles money and date parsing for bank statements.
// Converts the formats Indian banks emit into canonical values.
package normalizer

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("invalid amount format")
	ErrInvalidDate   = errors.New("invalid date format")
)

// ParseAmount converts a statement amount string to a decimal.
// Thousands separators ("1,234.56", "1,23,456.78") are stripped; the period
// is the decimal separator.
func ParseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == ',' || r == '.' || r == '-' {
			return r
		}
		return -1
	}, raw)

	if cleaned == "" || cleaned == "-" {
		return decimal.Decimal{}, ErrInvalidAmount
	}

	cleaned = strings.ReplaceAll(cleaned, ",", "")

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return d, nil
}

// ToMinorUnits converts a decimal amount to integer minor units (paise).
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// Date layouts banks use, four-digit years first.
var dateLayouts = []string{
	"02-01-2006",
	"02/01/2006",
	"02.01.2006",
	"2006-01-02",
	"2006/01/02",
	"02-01-2006 15:04:05",
	"02/01/2006 15:04",
	"2006-01-02 15:04:05",
	"02 Jan 2006",
}

// Two-digit-year layouts, tried after the four-digit ones.
var shortYearLayouts = []string{
	"02-01-06",
	"02/01/06",
	"02.01.06",
	"02 Jan 06",
}

// ParseDate attempts to parse a statement date using the known layouts.
// Two-digit years resolve to the current century.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidDate
	}

	if loc == nil {
		loc = time.UTC
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}

	for _, layout := range shortYearLayouts {
		t, err := time.ParseInLocation(layout, raw, loc)
		if err != nil {
			continue
		}
		// Go maps "69".."99" to 19xx; statements always mean this century.
		if t.Year() < 2000 {
			t = t.AddDate(100, 0, 0)
		}
		return t, nil
	}

	return time.Time{}, ErrInvalidDate
}

var spacePattern = regexp.MustCompile(`\s+`)

// CleanNarration trims and collapses whitespace in narration text.
func CleanNarration(raw string) string {
	return spacePattern.ReplaceAllString(strings.TrimSpace(raw), " ")
}
