package models

import "fmt"

// ErrorKind is the closed failure taxonomy. Only the three budget kinds are
// surfaced to callers; everything else is recovered inside the core.
type ErrorKind string

const (
	KindRateExceeded        ErrorKind = "rate_exceeded"
	KindTokenBudgetExceeded ErrorKind = "token_budget_exceeded"
	KindCostBudgetExceeded  ErrorKind = "cost_budget_exceeded"
	KindClassifierDegraded  ErrorKind = "classifier_degraded"
	KindCacheUnavailable    ErrorKind = "cache_unavailable"
	KindModelTimeout        ErrorKind = "model_timeout"
	KindModelTransient      ErrorKind = "model_transient"
	KindModelPermanent      ErrorKind = "model_permanent"
	KindLedgerWriteDeferred ErrorKind = "ledger_write_deferred"
	KindLedgerWriteDropped  ErrorKind = "ledger_write_dropped"
)

// KindError carries a closed kind plus a short human-readable detail. It never
// wraps backend-specific response text.
type KindError struct {
	Kind   ErrorKind
	Detail string
}

func (e *KindError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// NewKindError builds a KindError with a formatted detail.
func NewKindError(kind ErrorKind, format string, args ...interface{}) *KindError {
	return &KindError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error, or "" when the error is not a
// KindError.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if ke, ok := err.(*KindError); ok {
		return ke.Kind
	}
	return ""
}

// IsRefusal reports whether an error is one of the three budget refusals that
// the core surfaces to the caller.
func IsRefusal(err error) bool {
	switch KindOf(err) {
	case KindRateExceeded, KindTokenBudgetExceeded, KindCostBudgetExceeded:
		return true
	}
	return false
}

// IsTerminalModelError reports whether an adapter error should flip the router
// into the synthetic-fallback path.
func IsTerminalModelError(err error) bool {
	switch KindOf(err) {
	case KindModelTimeout, KindModelTransient, KindModelPermanent:
		return true
	}
	return false
}
