package position

import "sync"

// InsuranceFund is the single mutex-protected account named in spec §5's
// "Shared resources": it absorbs liquidation shortfalls and, per spec §9's
// open question on funding policy, receives a configurable share of every
// liquidation penalty. The contribution-vs-draw split is grounded on
// _examples/VictorVVedtion-perp-dex/x/clearinghouse/keeper/liquidation.go's
// liquidator-reward/insurance-fund-share calculation.
type InsuranceFund struct {
	mu      sync.Mutex
	Balance float64
}

// NewInsuranceFund creates a fund seeded with the given balance.
func NewInsuranceFund(seed float64) *InsuranceFund {
	return &InsuranceFund{Balance: seed}
}

// Contribute adds amount to the fund (e.g. a liquidation penalty share).
func (f *InsuranceFund) Contribute(amount float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Balance += amount
}

// Draw removes up to amount from the fund to cover a liquidation shortfall,
// returning the amount actually drawn (may be less than requested if the
// fund is insufficient — a shortfall the fund cannot cover is a socialized
// loss outside this spec's scope).
func (f *InsuranceFund) Draw(amount float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if amount <= 0 {
		return 0
	}
	drawn := amount
	if drawn > f.Balance {
		drawn = f.Balance
	}
	f.Balance -= drawn
	return drawn
}

// Snapshot returns the current balance.
func (f *InsuranceFund) Snapshot() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Balance
}
