// Package position implements the Position & Margin Manager of spec §4.3:
// per-(user,symbol) positions with isolated-margin accounting, realized and
// unrealized PnL, and liquidation checks. Field shapes are grounded on
// _examples/other_examples/6cd08314_uhyunpark-hyperlicked's Account/Position
// pair (AvailableBalance/TotalEquity accessors, per-symbol position map,
// Validate invariant checks); the liquidation penalty/insurance-fund split
// is grounded on
// _examples/VictorVVedtion-perp-dex/x/clearinghouse/keeper/liquidation.go.
package position

import (
	"fmt"
	"sync"

	"fenrir/internal/common"
)

// Account holds one user's cash balance and aggregate margin usage, per
// spec §3. Its own mutex is the "user account lock" named in spec §5's
// lock-ordering rule (symbol lock -> user account lock -> journal lock);
// callers always acquire a symbol lock before an Account's lock.
type Account struct {
	mu sync.Mutex

	User        string
	CashBalance float64
	MarginUsed  float64
	RealizedPnl float64
}

// NewAccount creates a zero-balance account for user.
func NewAccount(user string) *Account {
	return &Account{User: user}
}

// Equity returns cash + the caller-supplied sum of unrealized PnL across
// the user's open positions (the manager computes that sum, since it owns
// the position map). RealizedPnl is not included.
func (a *Account) Equity(unrealizedSum float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.CashBalance + unrealizedSum
}

// Available returns equity minus margin already locked, per spec §3's
// account invariant: available = equity - sum(margin_used) >= 0.
func (a *Account) Available(unrealizedSum float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.CashBalance + unrealizedSum - a.MarginUsed
}

// Deposit credits amount to cash balance.
func (a *Account) Deposit(amount float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CashBalance += amount
}

// Withdraw debits amount from cash balance if sufficient unlocked balance
// exists (unrealizedSum supplied by caller for the equity check).
func (a *Account) Withdraw(amount, unrealizedSum float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	available := a.CashBalance + unrealizedSum - a.MarginUsed
	if amount > available {
		return fmt.Errorf("withdrawal of %f exceeds available balance %f", amount, available)
	}
	a.CashBalance -= amount
	return nil
}

// adjustMargin increases MarginUsed by delta (may be negative to release).
// Caller already holds a.mu. A result below zero beyond float
// noise is the margin-underflow invariant spec §7 marks FATAL — it means a
// release was booked against margin that was never reserved, and clamping
// it to zero would hide exactly that bug instead of catching it.
func (a *Account) adjustMargin(delta float64) {
	a.MarginUsed += delta
	if a.MarginUsed < -1e-6 {
		common.PanicInvariant("", fmt.Sprintf("account %s: margin_used underflowed to %f (delta %f)", a.User, a.MarginUsed, delta))
	}
	if a.MarginUsed < 0 {
		a.MarginUsed = 0
	}
}

// DebitFee subtracts a trading fee from cash (taker side).
func (a *Account) DebitFee(amount float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CashBalance -= amount
}

// CreditFee adds a maker rebate/fee credit to cash.
func (a *Account) CreditFee(amount float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CashBalance += amount
}

// Validate checks the per-account invariant from spec §3/§8: cash +
// realized - margin_used >= 0 immediately after any accepted operation.
func (a *Account) Validate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.CashBalance+a.RealizedPnl-a.MarginUsed < -1e-6 {
		return fmt.Errorf("account %s: cash(%f)+realized(%f)-margin(%f) < 0",
			a.User, a.CashBalance, a.RealizedPnl, a.MarginUsed)
	}
	return nil
}
