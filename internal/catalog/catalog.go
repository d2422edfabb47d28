// Package catalog provides the read-mostly product metadata described in
// spec §2.4/§4.4 and §5: symbol -> {tick, min/max size, leverage, mark
// price, active flag}. It is an external collaborator's data (product
// metadata loading is out of scope per spec §1); this package only holds
// and serves it to the engine.
package catalog

import (
	"fenrir/internal/common"
	"sync"
)

// Product is one symbol's trading parameters.
type Product struct {
	Symbol                 string
	Tick                   common.Price
	MinSize                float64
	MaxSize                float64
	Leverage               float64
	MaintenanceMarginRate  float64 // m in spec §4.3's liquidation_price formula
	MarkPrice              common.Price
	Active                 bool
}

// Snapshot is an immutable copy of a Product handed to callers so they
// never hold a reference into the catalog's internal map across a match,
// per spec §5 ("engine reads snapshot of (tick, leverage, mark) once per
// request").
type Snapshot = Product

// Catalog is a read-mostly symbol -> Product store guarded by a RWMutex,
// per spec §5's "Shared resources" guidance: activate/halt and mark-price
// refresh take a brief write lock, reads are otherwise lock-free relative
// to each other.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]*Product
}

// New constructs an empty catalog.
func New() *Catalog {
	return &Catalog{products: make(map[string]*Product)}
}

// Register adds or replaces a product definition.
func (c *Catalog) Register(p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := p
	c.products[p.Symbol] = &cp
}

// Get returns a value snapshot of the product for symbol, or ok=false.
func (c *Catalog) Get(symbol string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[symbol]
	if !ok {
		return Snapshot{}, false
	}
	return *p, true
}

// SetMarkPrice updates the mark price used for unrealized PnL and
// liquidation checks. Spec §9 leaves the update frequency/source as an
// injected oracle; this is the injection point.
func (c *Catalog) SetMarkPrice(symbol string, price common.Price) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[symbol]
	if !ok {
		return false
	}
	p.MarkPrice = price
	return true
}

// Activate marks symbol tradeable.
func (c *Catalog) Activate(symbol string) bool {
	return c.setActive(symbol, true)
}

// Halt marks symbol untradeable; new orders are rejected with
// ErrSymbolHalted until reactivated.
func (c *Catalog) Halt(symbol string) bool {
	return c.setActive(symbol, false)
}

func (c *Catalog) setActive(symbol string, active bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[symbol]
	if !ok {
		return false
	}
	p.Active = active
	return true
}

// Symbols returns every registered symbol.
func (c *Catalog) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.products))
	for s := range c.products {
		out = append(out, s)
	}
	return out
}
