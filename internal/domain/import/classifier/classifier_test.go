package classifier

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finly-app/finly/internal/domain/import/bankformat"
)

func rawRow(narration string) bankformat.RawRow {
	amt := decimal.NewFromInt(450)
	ts := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	dir := bankformat.DirectionExpense
	return bankformat.RawRow{
		Amount:    &amt,
		Time:      &ts,
		Direction: &dir,
		Narration: narration,
	}
}

func TestClassifyKnownMerchant(t *testing.T) {
	rows := Classify([]bankformat.RawRow{rawRow("ZOMATO ORDER 4521")})
	row := rows[0]

	if row.Category != "Food" {
		t.Fatalf("category = %q, want Food", row.Category)
	}
	if row.Confidence.Category < 0.85 {
		t.Fatalf("category confidence = %v, want >= 0.85", row.Confidence.Category)
	}
	if row.Platform != "Zomato" {
		t.Fatalf("platform = %q, want Zomato", row.Platform)
	}
	if row.Confidence.Platform != row.Confidence.Category {
		t.Fatalf("platform confidence %v should mirror category %v", row.Confidence.Platform, row.Confidence.Category)
	}
	if row.ClassifiedBy != ByRule {
		t.Fatalf("classified by %s, want RULE", row.ClassifiedBy)
	}
}

func TestClassifyPaymentMethods(t *testing.T) {
	cases := []struct {
		narration string
		want      string
	}{
		{"UPI-ZOMATO-409 @ybl", "UPI"},
		{"NEFT CR SALARY", "Bank Transfer"},
		{"ATM CASH WDL", "Cash"},
		{"POS 1234 VISA PURCHASE", "Card"},
	}
	for _, tc := range cases {
		rows := Classify([]bankformat.RawRow{rawRow(tc.narration)})
		if rows[0].PaymentMethod != tc.want {
			t.Errorf("%q: method = %q, want %q", tc.narration, rows[0].PaymentMethod, tc.want)
		}
		if rows[0].Confidence.Method != 1.0 {
			t.Errorf("%q: method confidence = %v, want 1.0", tc.narration, rows[0].Confidence.Method)
		}
	}
}

// The gate is conjunctive: one weak field routes the row to fallback no
// matter how strong the rest are.
func TestAutoAcceptGate(t *testing.T) {
	full := Scores{Amount: 1.0, Datetime: 0.95, Type: 1.0, Category: 0.95, Platform: 0.95, Method: 1.0}
	if (Row{Confidence: full}).AutoAccept() != true {
		t.Fatal("all fields above threshold should auto-accept")
	}

	weaken := []func(*Scores){
		func(s *Scores) { s.Amount = 0 },
		func(s *Scores) { s.Datetime = 0.5 },
		func(s *Scores) { s.Type = 0 },
		func(s *Scores) { s.Category = 0.79 },
		func(s *Scores) { s.Platform = 0 },
		func(s *Scores) { s.Method = 0.6 },
	}
	for i, w := range weaken {
		s := full
		w(&s)
		if (Row{Confidence: s}).AutoAccept() {
			t.Errorf("case %d: weak field should block auto-accept (scores %+v)", i, s)
		}
	}
}

func TestClassifyStructuralConfidence(t *testing.T) {
	row := Classify([]bankformat.RawRow{rawRow("UPI ZOMATO")})[0]
	if row.Confidence.Amount != 1.0 || row.Confidence.Type != 1.0 {
		t.Fatalf("structural confidences = %+v", row.Confidence)
	}
	if row.Confidence.Datetime != 0.95 {
		t.Fatalf("datetime confidence = %v, want 0.95", row.Confidence.Datetime)
	}

	bare := Classify([]bankformat.RawRow{{Narration: "SOMETHING"}})[0]
	if bare.Confidence.Amount != 0 || bare.Confidence.Datetime != 0 || bare.Confidence.Type != 0 {
		t.Fatalf("missing structural fields should score zero: %+v", bare.Confidence)
	}
	if bare.AutoAccept() {
		t.Fatal("row with missing structural fields must not auto-accept")
	}
}

func TestClassifyUnknownNarration(t *testing.T) {
	row := Classify([]bankformat.RawRow{rawRow("XYZ SERVICES PVT LTD")})[0]
	if row.Category != "" || row.Confidence.Category != 0 {
		t.Fatalf("unknown narration classified: %q %v", row.Category, row.Confidence.Category)
	}
	if row.AutoAccept() {
		t.Fatal("unclassified row must not auto-accept")
	}
}

func TestRecurringWithinBatch(t *testing.T) {
	rows := Classify([]bankformat.RawRow{
		rawRow("NETFLIX SUBSCRIPTION MAR"),
		rawRow("NETFLIX SUBSCRIPTION APR"),
		rawRow("ZOMATO ORDER 4521"),
	})

	if !rows[0].Recurring || !rows[1].Recurring {
		t.Fatal("repeated merchant fingerprint should flag recurring")
	}
	if rows[2].Recurring {
		t.Fatal("single occurrence flagged recurring")
	}
}

func TestFingerprint(t *testing.T) {
	cases := []struct {
		narration string
		want      string
	}{
		{"NETFLIX SUBSCRIPTION", "netflix"},
		{"UPI-ZOMATO ORDER", "upizomato"},
		{"TO A/C TRANSFER", "transfer"},
		{"", ""},
		{"A B C", ""},
	}
	for _, tc := range cases {
		if got := Fingerprint(tc.narration); got != tc.want {
			t.Errorf("Fingerprint(%q) = %q, want %q", tc.narration, got, tc.want)
		}
	}
}
