package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports the distinct rules a transaction violated.
// Always recoverable by the caller fixing input.
type ValidationError struct {
	TransactionID string
	Violations    []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("transaction validation failed: %s", strings.Join(e.Violations, "; "))
}

// ScoringError is an unexpected failure inside a sub-analyzer. The
// arbiter fails the whole transaction rather than substituting a
// default for the missing signal.
type ScoringError struct {
	Stage string // "fraud", "risk", "ml"
	Err   error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("%s analysis failed: %v", e.Stage, e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }

// TrainingError reports that a model fit could not complete. The
// previously active model state is preserved.
type TrainingError struct {
	Reason string
	Err    error
}

func (e *TrainingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model training failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("model training failed: %s", e.Reason)
}

func (e *TrainingError) Unwrap() error { return e.Err }
