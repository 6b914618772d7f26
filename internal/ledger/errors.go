package ledger

import "fmt"

// Error kinds surfaced by the ledger. Expected business conditions (bad input,
// unknown symbol, overselling) get their own types so callers can match with
// errors.As and render a precise message instead of string-sniffing.

// ValidationError reports malformed input, naming the offending field.
// Never worth retrying — the caller must fix the input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a sell against a symbol with no open position.
type NotFoundError struct {
	Symbol string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no position held for %s", e.Symbol)
}

// InsufficientQuantityError reports a sell larger than the held quantity.
// It carries both amounts so the caller can report them.
type InsufficientQuantityError struct {
	Symbol    string
	Requested int64
	Available int64
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("cannot sell %d of %s: only %d held", e.Requested, e.Symbol, e.Available)
}

// StoreError wraps a failure from the underlying position store (I/O,
// connectivity). The ledger never retries; callers decide.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("position store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
