// Package bankformat identifies which known statement layout a file uses and
// maps its records into normalized raw rows.
//
// Formats are an ordered strategy list: most specific first, the generic
// catch-all last. The generic predicate always matches, so registry order is
// an invariant, not a preference.
package bankformat

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finly-app/finly/internal/domain/import/normalizer"
)

// Direction marks money flow for a statement row.
type Direction string

const (
	DirectionExpense Direction = "EXPENSE"
	DirectionInflow  Direction = "INFLOW"
)

// RawRow is a statement record after format mapping. Amount, Time and
// Direction are nil when the source cell was missing or malformed; downstream
// confidence scoring treats absence as zero confidence rather than an error.
type RawRow struct {
	RawData   map[string]string
	Amount    *decimal.Decimal
	Time      *time.Time
	Direction *Direction
	Narration string
}

// Format is one known statement layout.
type Format struct {
	ID     string
	Detect func(headers []string) bool
	Map    func(record map[string]string) RawRow
}

// registry is ordered most specific first. The generic format matches
// unconditionally and must stay last.
var registry = []Format{
	{
		ID:     "AXIS",
		Detect: headersContain("tran date", "particulars", "debit", "credit"),
		Map:    mapDebitCredit("tran date", "particulars", "debit", "credit"),
	},
	{
		ID:     "HDFC",
		Detect: headersContain("narration", "withdrawal amt", "deposit amt"),
		Map:    mapDebitCredit("date", "narration", "withdrawal amt", "deposit amt"),
	},
	{
		ID:     "ICICI",
		Detect: headersContain("transaction remarks", "withdrawal amount", "deposit amount"),
		Map:    mapDebitCredit("transaction date", "transaction remarks", "withdrawal amount", "deposit amount"),
	},
	{
		ID:     "SBI",
		Detect: headersContain("txn date", "description", "debit", "credit"),
		Map:    mapDebitCredit("txn date", "description", "debit", "credit"),
	},
	{
		ID:     "KOTAK",
		Detect: headersContain("transaction details", "withdrawal (dr)", "deposit (cr)"),
		Map:    mapDebitCredit("transaction date", "transaction details", "withdrawal (dr)", "deposit (cr)"),
	},
	{
		ID:     "GENERIC",
		Detect: func([]string) bool { return true },
		Map:    mapGeneric,
	},
}

// Detect returns the first format whose predicate matches the header row.
// It always returns a format: the generic catch-all is total.
func Detect(headers []string) Format {
	normalized := NormalizeHeaders(headers)
	for _, f := range registry {
		if f.Detect(normalized) {
			return f
		}
	}
	// Unreachable while the generic format stays registered last.
	return registry[len(registry)-1]
}

// Formats returns the registry in priority order.
func Formats() []Format {
	out := make([]Format, len(registry))
	copy(out, registry)
	return out
}

// NormalizeHeaders lowercases and trims headers the way predicates and record
// keys expect.
func NormalizeHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return out
}

func headersContain(wanted ...string) func(headers []string) bool {
	return func(headers []string) bool {
		for _, w := range wanted {
			found := false
			for _, h := range headers {
				if strings.Contains(h, w) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
}

// mapDebitCredit builds a mapper for the common two-column layout: a value in
// the debit column is an expense, a value in the credit column an inflow.
// Record keys are normalized headers; lookup is by substring so "Withdrawal
// Amt." and "Withdrawal Amt" resolve to the same column.
func mapDebitCredit(dateKey, narrationKey, debitKey, creditKey string) func(map[string]string) RawRow {
	return func(record map[string]string) RawRow {
		row := RawRow{
			RawData:   record,
			Narration: normalizer.CleanNarration(lookup(record, narrationKey)),
		}

		if t, err := normalizer.ParseDate(lookup(record, dateKey), time.UTC); err == nil {
			row.Time = &t
		}

		debit := strings.TrimSpace(lookup(record, debitKey))
		credit := strings.TrimSpace(lookup(record, creditKey))

		switch {
		case debit != "":
			if amt, err := normalizer.ParseAmount(debit); err == nil {
				row.Amount = abs(amt)
				row.Direction = direction(DirectionExpense)
			}
		case credit != "":
			if amt, err := normalizer.ParseAmount(credit); err == nil {
				row.Amount = abs(amt)
				row.Direction = direction(DirectionInflow)
			}
		}

		return row
	}
}

// mapGeneric is the catch-all: no structural fields are recoverable, so the
// whole record becomes narration context and every confidence scores zero.
func mapGeneric(record map[string]string) RawRow {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(record))
	for _, k := range keys {
		v := normalizer.CleanNarration(record[k])
		if v != "" {
			parts = append(parts, v)
		}
	}
	return RawRow{
		RawData:   record,
		Narration: strings.Join(parts, " "),
	}
}

func lookup(record map[string]string, key string) string {
	if v, ok := record[key]; ok {
		return v
	}
	for k, v := range record {
		if strings.Contains(k, key) {
			return v
		}
	}
	return ""
}

func abs(d decimal.Decimal) *decimal.Decimal {
	a := d.Abs()
	return &a
}

func direction(d Direction) *Direction {
	return &d
}
