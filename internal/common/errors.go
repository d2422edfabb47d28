package common

import "errors"

// Validation and business-rule errors surfaced to callers per spec §6/§7.
// These are returned values, never panics: they represent caller or
// market-state conditions, not programmer bugs.
var (
	ErrInvalidSymbol          = errors.New("invalid symbol")
	ErrInvalidSize            = errors.New("invalid size")
	ErrInvalidPrice           = errors.New("invalid price")
	ErrInsufficientMargin     = errors.New("insufficient margin")
	ErrReduceOnlyViolation    = errors.New("reduce-only violation")
	ErrPostOnlyCross          = errors.New("post-only order would cross the book")
	ErrFokUnfillable          = errors.New("fill-or-kill order cannot be fully filled")
	ErrNotFound               = errors.New("not found")
	ErrNotOwner               = errors.New("not owner")
	ErrAlreadyTerminal        = errors.New("order already in a terminal state")
	ErrInvalidModification    = errors.New("invalid order modification")
	ErrNoPosition             = errors.New("no open position")
	ErrSymbolHalted           = errors.New("symbol is halted")
	ErrNotEnoughLiquidity     = errors.New("not enough liquidity")
)

// Fatal errors per spec §7: durability failures and detected invariant
// violations. These are never returned to a caller for local recovery —
// they bubble all the way up and halt the affected symbol.
var (
	ErrJournalWriteFailed = errors.New("journal write failed")
	ErrJournalFsyncFailed = errors.New("journal fsync failed")
)

// InvariantViolation is panicked by code paths that detect a state the
// system's own invariants say cannot occur (crossed book post-match,
// negative remaining quantity, margin underflow). Recovery from this is
// restart + journal replay, not local error handling, per spec §7.
type InvariantViolation struct {
	Symbol string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation in " + e.Symbol + ": " + e.Detail
}

// PanicInvariant raises an InvariantViolation for symbol with the given
// detail message.
func PanicInvariant(symbol, detail string) {
	panic(&InvariantViolation{Symbol: symbol, Detail: detail})
}
