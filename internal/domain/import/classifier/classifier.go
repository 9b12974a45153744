// Package classifier assigns category, platform, payment method, and a
// recurring flag to raw statement rows using deterministic keyword rules,
// with a per-field confidence score.
package classifier

import (
	"strings"
	"unicode"

	"github.com/finly-app/finly/internal/domain/import/bankformat"
)

// Classification tiers.
const (
	ByRule = "RULE"
	ByAI   = "AI"
)

// AutoAcceptThreshold is the conjunctive confidence gate: a row is accepted
// without AI fallback only when every field scores at least this much.
const AutoAcceptThreshold = 0.80

// Structural confidences for fields the bank format parsed directly.
const (
	amountStructuralConfidence   = 1.0
	datetimeStructuralConfidence = 0.95
	typeStructuralConfidence     = 1.0
)

// Scores holds per-field confidence in [0,1]. Zero means the field is absent.
type Scores struct {
	Amount   float64 `json:"amount"`
	Datetime float64 `json:"datetime"`
	Type     float64 `json:"type"`
	Category float64 `json:"category"`
	Platform float64 `json:"platform"`
	Method   float64 `json:"payment_method"`
}

// Min returns the lowest field confidence.
func (s Scores) Min() float64 {
	min := s.Amount
	for _, v := range []float64{s.Datetime, s.Type, s.Category, s.Platform, s.Method} {
		if v < min {
			min = v
		}
	}
	return min
}

// Row is a raw statement row plus its classification.
type Row struct {
	bankformat.RawRow

	Category      string
	Platform      string
	PaymentMethod string
	Notes         string
	Tags          []string
	Recurring     bool
	Confidence    Scores
	ClassifiedBy  string
}

// AutoAccept reports whether every field confidence clears the gate. A single
// weak field routes the whole row to AI fallback.
func (r Row) AutoAccept() bool {
	return r.Confidence.Min() >= AutoAcceptThreshold
}

type bucket struct {
	category   string
	confidence float64
	keywords   []string
}

// categoryBuckets are tested in order; the first bucket with a keyword hit
// wins. More distinctive merchants sit above generic terms.
var categoryBuckets = []bucket{
	{"Food", 0.95, []string{"zomato", "swiggy", "dominos", "mcdonald", "kfc", "burger king", "pizza", "eatclub", "restaurant", "dhaba", "cafe"}},
	{"Groceries", 0.92, []string{"bigbasket", "blinkit", "zepto", "instamart", "grofers", "dmart", "grocery", "kirana", "reliance fresh"}},
	{"Transport", 0.90, []string{"uber", "ola", "rapido", "irctc", "redbus", "metro card", "petrol", "diesel", "fuel", "hpcl", "iocl", "bpcl", "fastag"}},
	{"Travel", 0.90, []string{"makemytrip", "goibibo", "cleartrip", "oyo", "airbnb", "indigo", "vistara", "air india", "spicejet", "ixigo"}},
	{"Entertainment", 0.92, []string{"netflix", "hotstar", "spotify", "bookmyshow", "prime video", "sonyliv", "youtube premium", "gaana"}},
	{"Shopping", 0.90, []string{"amazon", "flipkart", "myntra", "ajio", "nykaa", "snapdeal", "meesho", "croma", "decathlon"}},
	{"Utilities", 0.88, []string{"electricity", "bescom", "tneb", "mseb", "recharge", "jio", "airtel", "vodafone", "broadband", "dth", "tata power", "gas bill", "bill pay"}},
	{"Health", 0.88, []string{"pharmacy", "apollo", "pharmeasy", "netmeds", "1mg", "medplus", "hospital", "clinic", "diagnostic"}},
	{"Rent", 0.90, []string{"rent", "landlord", "nobroker pay", "housing.com"}},
	{"Investments", 0.92, []string{"zerodha", "groww", "upstox", "mutual fund", "sip ", "etmoney", "coin dcx", "indmoney"}},
	{"Income", 0.95, []string{"salary", "payroll", "stipend", "reimbursement"}},
	{"Education", 0.85, []string{"udemy", "coursera", "byjus", "unacademy", "school fee", "tuition"}},
}

type methodRule struct {
	method   string
	keywords []string
}

// methodRules assign at most one payment method; first match wins at full
// confidence since the markers are unambiguous statement conventions.
var methodRules = []methodRule{
	{"UPI", []string{"upi", "@ybl", "@oksbi", "@okaxis", "@okhdfcbank", "@okicici", "@paytm", "vpa", "bhim"}},
	{"Bank Transfer", []string{"neft", "imps", "rtgs", "ecs", "ach", "transfer"}},
	{"Cash", []string{"atm", "cash wdl", "cwdr", "cash withdrawal", "self cheque"}},
	{"Card", []string{"pos ", "card", "visa", "mastercard", "rupay"}},
}

// minFingerprintLen is the shortest narration token that can act as a
// merchant fingerprint.
const minFingerprintLen = 4

// Classify scores every row against the rule tables. Pure and synchronous; it
// never fails. Unclassifiable fields stay empty with zero confidence, which
// routes the row to AI fallback through the auto-accept gate.
func Classify(rows []bankformat.RawRow) []Row {
	out := make([]Row, len(rows))

	counts := make(map[string]int, len(rows))
	for _, raw := range rows {
		if fp := Fingerprint(raw.Narration); fp != "" {
			counts[fp]++
		}
	}

	for i, raw := range rows {
		row := Row{RawRow: raw, ClassifiedBy: ByRule}
		narration := strings.ToLower(raw.Narration)

		if raw.Amount != nil {
			row.Confidence.Amount = amountStructuralConfidence
		}
		if raw.Time != nil {
			row.Confidence.Datetime = datetimeStructuralConfidence
		}
		if raw.Direction != nil {
			row.Confidence.Type = typeStructuralConfidence
		}

		for _, b := range categoryBuckets {
			if containsAny(narration, b.keywords) {
				row.Category = b.category
				row.Confidence.Category = b.confidence
				break
			}
		}

		for _, m := range methodRules {
			if containsAny(narration, m.keywords) {
				row.PaymentMethod = m.method
				row.Confidence.Method = 1.0
				break
			}
		}

		// Platform mirrors category: a keyword hit corroborates that the
		// leading narration token names the merchant.
		if row.Category != "" {
			if token := firstToken(raw.Narration); token != "" {
				row.Platform = capitalize(token)
				row.Confidence.Platform = row.Confidence.Category
			}
		}

		if fp := Fingerprint(raw.Narration); fp != "" && counts[fp] >= 2 {
			row.Recurring = true
		}

		out[i] = row
	}

	return out
}

// Fingerprint derives a coarse merchant key from a narration: the first
// normalized token of at least four characters. Counting fingerprints within
// one batch drives recurring detection; there is no cross-session memory.
func Fingerprint(narration string) string {
	for _, field := range strings.Fields(narration) {
		token := normalizeToken(field)
		if len(token) >= minFingerprintLen {
			return token
		}
	}
	return ""
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func normalizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}

func firstToken(narration string) string {
	fields := strings.Fields(narration)
	if len(fields) == 0 {
		return ""
	}
	return normalizeToken(fields[0])
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
