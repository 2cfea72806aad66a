// Package riskerr defines the typed error taxonomy used across the risk
// engine (spec §7, §9). Validation and gate denials are values the caller
// inspects with errors.As, never panics or string-matched messages.
package riskerr

import "fmt"

// Kind classifies an error for dispatch and retry policy.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindGateDenial     Kind = "gate_denial"
	KindExchangeTransient Kind = "exchange_transient"
	KindExchangePermanent Kind = "exchange_permanent"
	KindStalePrice     Kind = "stale_price"
	KindKillSwitch     Kind = "kill_switch"
	KindCircuitOpen    Kind = "circuit_open"
	KindIdempotent     Kind = "idempotent_conflict"
	KindInvariant      Kind = "invariant_violation"
	KindNotFound       Kind = "not_found"
)

// Error is the engine's structured error value. Fields beyond Kind/Message
// are populated as relevant to the kind (see constructors below).
type Error struct {
	Kind       Kind
	Message    string
	Retryable  bool
	Issues     []Issue           // KindValidation: one per offending field
	Reasons    []string          // KindGateDenial: one per failing gate
	Details    map[string]string // KindInvariant: current/attempted state etc.
	Wrapped    error
}

// Issue is a single structured validation failure.
type Issue struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is makes errors.Is(err, riskerr.KindX) work is not idiomatic for Kind
// comparisons; callers should use errors.As and inspect Kind directly.

func Validation(msg string, issues ...Issue) *Error {
	return &Error{Kind: KindValidation, Message: msg, Issues: issues}
}

func GateDenial(reasons ...string) *Error {
	return &Error{Kind: KindGateDenial, Message: "entry gate denied", Reasons: reasons}
}

func ExchangeTransient(msg string, wrapped error) *Error {
	return &Error{Kind: KindExchangeTransient, Message: msg, Retryable: true, Wrapped: wrapped}
}

func ExchangePermanent(msg string, wrapped error) *Error {
	return &Error{Kind: KindExchangePermanent, Message: msg, Retryable: false, Wrapped: wrapped}
}

func StalePrice(symbol string, ageSeconds float64) *Error {
	return &Error{Kind: KindStalePrice, Message: fmt.Sprintf("stale price for %s (age=%.0fs)", symbol, ageSeconds)}
}

func KillSwitch(tenantID string) *Error {
	return &Error{Kind: KindKillSwitch, Message: fmt.Sprintf("trading disabled for tenant %s", tenantID)}
}

func CircuitOpen(symbol string, retryAtUnix int64) *Error {
	return &Error{
		Kind:    KindCircuitOpen,
		Message: fmt.Sprintf("circuit breaker open for %s", symbol),
		Details: map[string]string{"will_retry_at": fmt.Sprintf("%d", retryAtUnix)},
	}
}

func Idempotent(existingID string) *Error {
	return &Error{
		Kind:    KindIdempotent,
		Message: "already processed",
		Details: map[string]string{"existing_id": existingID},
	}
}

func Invariant(msg, current, attempted string, allowed []string) *Error {
	return &Error{
		Kind:    KindInvariant,
		Message: msg,
		Details: map[string]string{
			"current":   current,
			"attempted": attempted,
			"allowed":   fmt.Sprintf("%v", allowed),
		},
	}
}

func NotFound(what, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", what, id)}
}
