package parser

import (
	"bytes"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"
)

const axisCSV = `Tran Date,CHQNO,PARTICULARS,DEBIT,CREDIT,BAL
01-04-2025,,UPI ZOMATO ORDER 4521,450.00,,12000.00
02-04-2025,,NEFT SALARY APR,,"85,000.00",97000.00
`

func TestParseCSV(t *testing.T) {
	result, err := Parse([]byte(axisCSV), "statement.csv")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.FormatID != "AXIS" {
		t.Fatalf("format = %s, want AXIS", result.FormatID)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(result.Rows))
	}

	first := result.Rows[0]
	if first.Narration != "UPI ZOMATO ORDER 4521" {
		t.Errorf("narration = %q", first.Narration)
	}
	if first.Amount == nil || first.Amount.String() != "450" {
		t.Errorf("amount = %v, want 450", first.Amount)
	}
	if first.Direction == nil || string(*first.Direction) != "EXPENSE" {
		t.Errorf("direction = %v, want EXPENSE", first.Direction)
	}

	second := result.Rows[1]
	if second.Amount == nil || second.Amount.String() != "85000" {
		t.Errorf("quoted thousands amount = %v, want 85000", second.Amount)
	}
	if second.Direction == nil || string(*second.Direction) != "INFLOW" {
		t.Errorf("direction = %v, want INFLOW", second.Direction)
	}
}

func TestParseTSV(t *testing.T) {
	tsv := "Txn Date\tDescription\tDebit\tCredit\n01-04-2025\tPOS AMAZON\t999.00\t\n"
	result, err := Parse([]byte(tsv), "statement.tsv")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.FormatID != "SBI" {
		t.Fatalf("format = %s, want SBI", result.FormatID)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(result.Rows))
	}
}

// Banks prepend account metadata above the header row; the sniffer skips it.
func TestParseSkipsPreamble(t *testing.T) {
	data := "Account Statement\nName: A CUSTOMER\n\n" + axisCSV
	result, err := Parse([]byte(data), "statement.csv")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.FormatID != "AXIS" {
		t.Fatalf("format = %s, want AXIS", result.FormatID)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(result.Rows))
	}
}

func TestParseUnknownHeadersFallBackToGeneric(t *testing.T) {
	data := "alpha,beta,gamma,delta\none,two,three,four\n"
	result, err := Parse([]byte(data), "export.csv")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.FormatID != "GENERIC" {
		t.Fatalf("format = %s, want GENERIC", result.FormatID)
	}
	row := result.Rows[0]
	if row.Amount != nil || row.Time != nil || row.Direction != nil {
		t.Fatalf("generic row carries structural fields: %+v", row)
	}
}

func TestParseEmptyFile(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("   \n  "), []byte("Tran Date,PARTICULARS,DEBIT,CREDIT\n")} {
		if _, err := Parse(data, "statement.csv"); !errors.Is(err, ErrEmptyFile) {
			t.Errorf("Parse(%q): got %v, want ErrEmptyFile", data, err)
		}
	}
}

func TestParseUnreadable(t *testing.T) {
	if _, err := Parse([]byte("no delimiters here\njust text\n"), "notes.txt"); !errors.Is(err, ErrUnreadable) {
		t.Fatalf("got %v, want ErrUnreadable", err)
	}
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Bank Statement"},
		{"Tran Date", "CHQNO", "PARTICULARS", "DEBIT", "CREDIT"},
		{"01-04-2025", "", "UPI SWIGGY ORDER", "320.00", ""},
		{"02-04-2025", "", "IMPS REFUND", "", "150.00"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	result, err := Parse(buf.Bytes(), "statement.xlsx")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.FormatID != "AXIS" {
		t.Fatalf("format = %s, want AXIS", result.FormatID)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(result.Rows))
	}
	if result.Rows[0].Narration != "UPI SWIGGY ORDER" {
		t.Fatalf("narration = %q", result.Rows[0].Narration)
	}
	if result.Rows[1].Direction == nil || string(*result.Rows[1].Direction) != "INFLOW" {
		t.Fatalf("direction = %v, want INFLOW", result.Rows[1].Direction)
	}
}

func TestParseMalformedLineDegrades(t *testing.T) {
	data := axisCSV + "\"unterminated,quote\n03-04-2025,,UPI OLA RIDE,210.00,,11790.00\n"
	result, err := Parse([]byte(data), "statement.csv")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// The malformed line is dropped; surrounding rows survive.
	if len(result.Rows) < 2 {
		t.Fatalf("rows = %d, want at least the well-formed ones", len(result.Rows))
	}
}
