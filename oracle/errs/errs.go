// Package errs defines the Kind-tagged error family the engine and its
// component packages (reconcile, validate, provider) raise,
// independent of transport wording. It is kept separate from the root
// oracle package so every component package can depend on it without
// creating an import cycle back through the engine.
package errs

import "errors"

// Kind tags the family of error an operation failed with.
type Kind string

const (
	KindSourceUnavailable         Kind = "source_unavailable"
	KindInvalidQuote              Kind = "invalid_quote"
	KindUnknownSymbol             Kind = "unknown_symbol"
	KindNoSources                 Kind = "no_sources"
	KindAllStale                  Kind = "all_stale"
	KindLowSingleSourceConfidence Kind = "low_single_source_confidence"
	KindDeviationTooHigh          Kind = "deviation_too_high"
	KindStale                     Kind = "stale"
	KindHistoryUnavailable        Kind = "history_unavailable"
)

// Error is a Kind-tagged error. Callers can compare Kind directly or use
// errors.As/KindOf to recover it from a wrapped chain.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds a Kind-tagged error, optionally wrapping a cause.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// KindOf recovers the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
