// Package validate normalizes and validates incoming transaction records.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Validation limits. Amounts are denominated in the transaction currency.
var (
	minAmount = decimal.RequireFromString("0.01")
	maxAmount = decimal.RequireFromString("50000.00")

	largeAmount   = decimal.RequireFromString("10000.00")
	preAuthAmount = decimal.RequireFromString("25000.00")
)

var (
	idPattern       = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	locationPattern = regexp.MustCompile(`^[A-Za-z\s,.-]+$`)
	maskedCard      = regexp.MustCompile(`^\*{4,12}\d{4}$`)
	fullCardDigits  = regexp.MustCompile(`\d{13,19}`)
	amountJunk      = regexp.MustCompile(`[^\d.-]`)
	harmfulChars    = regexp.MustCompile(`[<>"']`)
)

var allowedCurrencies = map[string]bool{
	"USD": true,
	"EUR": true,
	"GBP": true,
	"CAD": true,
}

var blockedMerchants = []string{"BLOCKED_MERCHANT_1", "BLOCKED_MERCHANT_2"}

var suspiciousKeywords = []string{"TEST", "TEMP", "FAKE", "DUMMY", "SAMPLE"}

var domesticMarkers = []string{"US", "USA", "UNITED STATES"}

// Validator checks raw transaction records against field and business
// rules. Pure; safe for concurrent use.
type Validator struct {
	now func() time.Time
}

// New creates a validator using wall-clock time.
func New() *Validator {
	return &Validator{now: time.Now}
}

// NewAt creates a validator with a fixed clock, for tests.
func NewAt(now func() time.Time) *Validator {
	return &Validator{now: now}
}

// Validate checks every field of the input and returns one message per
// violated rule. On success the outcome carries the normalized
// transaction; on failure the transaction is nil and never scored.
func (v *Validator) Validate(in *domain.TransactionInput) *domain.ValidationOutcome {
	out := &domain.ValidationOutcome{}

	if in == nil {
		out.Errors = append(out.Errors, "no transaction data provided")
		return out
	}

	// Missing required fields are reported together before field-level
	// checks, one message each so batch callers can attribute failures.
	missing := missingFields(in)
	if len(missing) > 0 {
		for _, f := range missing {
			out.Errors = append(out.Errors, fmt.Sprintf("missing required field: %s", f))
		}
		return out
	}

	tx := &domain.Transaction{}
	tx.ID = v.validateID(in.ID, out)
	tx.Amount = v.validateAmount(in.Amount, out)
	tx.Merchant = v.validateMerchant(in.Merchant, out)
	tx.Location = v.validateLocation(in.Location, out)
	tx.Timestamp = v.validateTimestamp(in.Timestamp, out)
	tx.CardNumber = v.validateCardNumber(in.CardNumber, out)
	tx.Currency = v.validateCurrency(in.Currency, out)
	tx.Description = sanitizeDescription(in.Description)

	if len(out.Errors) > 0 {
		return out
	}

	v.businessWarnings(tx, out)

	out.Valid = true
	out.Transaction = tx
	return out
}

func missingFields(in *domain.TransactionInput) []string {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"id", in.ID},
		{"amount", in.Amount},
		{"merchant", in.Merchant},
		{"location", in.Location},
		{"timestamp", in.Timestamp},
		{"cardNumber", in.CardNumber},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

func (v *Validator) validateID(raw string, out *domain.ValidationOutcome) string {
	id := strings.TrimSpace(raw)
	if !idPattern.MatchString(id) {
		out.Errors = append(out.Errors, "transaction id contains invalid characters")
		return ""
	}
	if len(id) < 3 || len(id) > 50 {
		out.Errors = append(out.Errors, "transaction id must be between 3 and 50 characters")
		return ""
	}
	return id
}

func (v *Validator) validateAmount(raw string, out *domain.ValidationOutcome) decimal.Decimal {
	cleaned := amountJunk.ReplaceAllString(strings.TrimSpace(raw), "")
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("invalid amount format: %q", raw))
		return decimal.Zero
	}

	if amount.LessThan(minAmount) {
		out.Errors = append(out.Errors, fmt.Sprintf("amount %s is below minimum %s", amount, minAmount))
		return decimal.Zero
	}
	if amount.GreaterThan(maxAmount) {
		out.Errors = append(out.Errors, fmt.Sprintf("amount %s exceeds maximum %s", amount, maxAmount))
		return decimal.Zero
	}

	if amount.Exponent() < -2 {
		out.Warnings = append(out.Warnings, "amount has more than 2 decimal places, rounding to cents")
		amount = amount.Round(2)
	}

	if amount.GreaterThan(largeAmount) {
		out.Warnings = append(out.Warnings, fmt.Sprintf("large transaction amount: %s", amount))
	}

	return amount
}

func (v *Validator) validateMerchant(raw string, out *domain.ValidationOutcome) string {
	merchant := strings.TrimSpace(raw)

	if utf8.RuneCountInString(merchant) > 100 {
		out.Warnings = append(out.Warnings, "merchant name truncated to 100 characters")
		merchant = truncateRunes(merchant, 100)
	}

	upper := strings.ToUpper(merchant)
	for _, blocked := range blockedMerchants {
		if strings.Contains(upper, blocked) {
			out.Errors = append(out.Errors, fmt.Sprintf("transactions with merchant %q are not allowed", merchant))
			return ""
		}
	}

	sanitized := harmfulChars.ReplaceAllString(merchant, "")
	if sanitized != merchant {
		out.Warnings = append(out.Warnings, "merchant name contained potentially harmful characters")
	}

	return sanitized
}

func (v *Validator) validateLocation(raw string, out *domain.ValidationOutcome) string {
	location := strings.TrimSpace(raw)

	if len(location) > 200 {
		out.Errors = append(out.Errors, "location exceeds maximum length of 200 characters")
		return ""
	}
	if !locationPattern.MatchString(location) {
		out.Errors = append(out.Errors, "location contains invalid characters")
		return ""
	}
	return location
}

func (v *Validator) validateTimestamp(raw string, out *domain.ValidationOutcome) time.Time {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("invalid timestamp format: %q", raw))
		return time.Time{}
	}
	ts = ts.UTC()

	now := v.now().UTC()

	// Allow 5 minutes of clock skew.
	if ts.After(now.Add(5 * time.Minute)) {
		out.Errors = append(out.Errors, "transaction timestamp cannot be in the future")
		return time.Time{}
	}
	if ts.Before(now.Add(-30 * 24 * time.Hour)) {
		out.Errors = append(out.Errors, "transaction timestamp is too old (>30 days)")
		return time.Time{}
	}
	return ts
}

func (v *Validator) validateCardNumber(raw string, out *domain.ValidationOutcome) string {
	card := strings.TrimSpace(raw)
	compact := strings.ReplaceAll(card, " ", "")

	if !maskedCard.MatchString(compact) {
		out.Errors = append(out.Errors, "card number must be in masked format (e.g. ****1234)")
		return ""
	}
	if fullCardDigits.MatchString(compact) {
		out.Errors = append(out.Errors, "full card numbers are not allowed")
		return ""
	}
	return card
}

func (v *Validator) validateCurrency(raw string, out *domain.ValidationOutcome) string {
	currency := strings.ToUpper(strings.TrimSpace(raw))
	if currency == "" {
		return "USD"
	}
	if !allowedCurrencies[currency] {
		out.Errors = append(out.Errors, fmt.Sprintf("currency %q is not supported", currency))
		return ""
	}
	return currency
}

func sanitizeDescription(raw string) string {
	desc := harmfulChars.ReplaceAllString(strings.TrimSpace(raw), "")
	return truncateRunes(desc, 500)
}

// truncateRunes cuts s to at most n runes so truncation never splits
// a multi-byte character.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// businessWarnings applies advisory rules that flag but do not reject.
func (v *Validator) businessWarnings(tx *domain.Transaction, out *domain.ValidationOutcome) {
	if tx.Amount.GreaterThan(preAuthAmount) {
		out.Warnings = append(out.Warnings, "large transaction requires pre-authorization")
	}

	if wd := tx.Timestamp.Weekday(); (wd == time.Saturday || wd == time.Sunday) && tx.Amount.GreaterThan(largeAmount) {
		out.Warnings = append(out.Warnings, "weekend large transaction flagged for review")
	}

	locUpper := strings.ToUpper(tx.Location)
	domestic := false
	for _, marker := range domesticMarkers {
		if strings.Contains(locUpper, marker) {
			domestic = true
			break
		}
	}
	if !domestic {
		out.Warnings = append(out.Warnings, "international transaction requires location verification")
	}

	merchUpper := strings.ToUpper(tx.Merchant)
	for _, kw := range suspiciousKeywords {
		if strings.Contains(merchUpper, kw) {
			out.Warnings = append(out.Warnings, fmt.Sprintf("merchant name contains suspicious keyword: %s", kw))
			break
		}
	}
}
