// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a validated, immutable transaction record.
// It is produced by the validator and consumed by the scoring pipeline;
// it is never mutated after validation.
type Transaction struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Merchant    string          `json:"merchant"`
	Location    string          `json:"location"`
	Timestamp   time.Time       `json:"timestamp"`
	CardNumber  string          `json:"cardNumber"` // masked, e.g. "****1234"
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
}

// TransactionInput is a raw transaction as received from a caller,
// before any validation. All fields arrive as strings so the validator
// can report malformed values instead of failing at decode time.
type TransactionInput struct {
	ID          string `json:"id"`
	Amount      string `json:"amount"`
	Merchant    string `json:"merchant"`
	Location    string `json:"location"`
	Timestamp   string `json:"timestamp"`
	CardNumber  string `json:"cardNumber"`
	Currency    string `json:"currency,omitempty"`
	Description string `json:"description,omitempty"`
}

// UnmarshalJSON accepts the amount as either a JSON string or a bare
// number, so a numeric amount still reaches the validator's per-field
// reporting instead of failing at decode time.
func (t *TransactionInput) UnmarshalJSON(data []byte) error {
	type alias TransactionInput
	aux := struct {
		Amount json.RawMessage `json:"amount"`
		*alias
	}{alias: (*alias)(t)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	switch {
	case len(aux.Amount) == 0 || string(aux.Amount) == "null":
		t.Amount = ""
	case aux.Amount[0] == '"':
		if err := json.Unmarshal(aux.Amount, &t.Amount); err != nil {
			return err
		}
	default:
		t.Amount = string(aux.Amount)
	}
	return nil
}

// ValidationOutcome is the result of validating a TransactionInput.
// A transaction with errors never proceeds to scoring; warnings
// accompany a passing transaction.
type ValidationOutcome struct {
	Valid       bool         `json:"valid"`
	Errors      []string     `json:"errors,omitempty"`
	Warnings    []string     `json:"warnings,omitempty"`
	Transaction *Transaction `json:"-"`
}

// HistoryContext carries optional per-card context supplied to the
// scorers. A cold transaction (no repository, unseen card) gets a
// zero-value context and the scorers degrade gracefully.
type HistoryContext struct {
	// Recent holds prior transactions on the same card, newest first.
	Recent []*Transaction

	// VelocityCount is the number of transactions on the card within
	// the velocity window preceding this one.
	VelocityCount int64
}

// HasHistory reports whether any per-card history was available.
func (h *HistoryContext) HasHistory() bool {
	return h != nil && len(h.Recent) > 0
}
