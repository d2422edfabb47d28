// Package engine implements the Matching Engine of spec §4.2: a global
// router over per-symbol order books, price-time-priority matching, stop-
// limit triggering, self-trade prevention, and the ordered per-trade side
// effects that tie the book to the Position Manager and the Event Journal.
//
// Grounded on the teacher's internal/engine package (Engine as a router over
// per-asset OrderBooks, book.Match()'s btree sweep), generalized from a
// single equities asset class to per-symbol leveraged/perpetual products and
// split so internal/book owns pure book mechanics while this package owns
// matching semantics and side effects.
package engine

import (
	"sync"

	"fenrir/internal/book"
	"fenrir/internal/catalog"
	"fenrir/internal/common"
	"fenrir/internal/journal"
	"fenrir/internal/position"

	"github.com/rs/zerolog/log"
)

// Publisher receives trade/report events the engine emits, per spec §4.2
// step 4 ("publish trade to subscribers"). internal/feed.Hub implements
// this; Engine never imports internal/feed directly, so the dependency runs
// the idiomatic way (engine depends on an interface, feed depends on
// nothing from engine).
type Publisher interface {
	PublishTrade(common.Trade)
	PublishReject(symbol, user, reason string)
}

// MetricsSink receives lifecycle counters. internal/metrics.Registry
// implements this.
type MetricsSink interface {
	OrderAccepted(symbol string)
	OrderRejected(symbol, reason string)
	TradeExecuted(symbol string, qty float64)
	LiquidationTriggered(symbol string)
}

// Config carries the engine-wide defaults spec §9 leaves open (self-trade
// policy, fee schedule).
type Config struct {
	SelfTradePolicy common.SelfTradePolicy
	MakerFeeRate    float64 // may be negative (maker rebate)
	TakerFeeRate    float64
}

// DefaultConfig matches spec §4.2's stated default (CancelOldest) with a
// conservative flat fee schedule.
func DefaultConfig() Config {
	return Config{
		SelfTradePolicy: common.CancelOldest,
		MakerFeeRate:    0.0002,
		TakerFeeRate:    0.0005,
	}
}

// Engine is the global router and sole mutator of books and position state,
// per spec §4.2. One Engine instance per process, per spec §9's singleton
// guidance (constructed once at process init, torn down on shutdown).
type Engine struct {
	mu      sync.RWMutex
	symbols map[string]*SymbolEngine

	orderIndex sync.Map // common.OrderID -> symbol string, for O(1) cross-symbol lookup

	Catalog   *catalog.Catalog
	Positions *position.Manager
	Journal   *journal.Writer
	Publisher Publisher   // nil-safe: a nil Publisher silently drops events
	Metrics   MetricsSink // nil-safe

	orderIDs *common.IDGenerator
	tradeIDs *common.IDGenerator

	cfg Config
}

// New constructs an Engine. Publisher and Metrics may be left nil.
func New(cat *catalog.Catalog, positions *position.Manager, jr *journal.Writer, cfg Config) *Engine {
	return &Engine{
		symbols:   make(map[string]*SymbolEngine),
		Catalog:   cat,
		Positions: positions,
		Journal:   jr,
		orderIDs:  common.NewIDGenerator(0),
		tradeIDs:  common.NewIDGenerator(0),
		cfg:       cfg,
	}
}

func (e *Engine) symbolEngine(symbol string) *SymbolEngine {
	e.mu.RLock()
	se, ok := e.symbols[symbol]
	e.mu.RUnlock()
	if ok {
		return se
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if se, ok := e.symbols[symbol]; ok {
		return se
	}
	se = newSymbolEngine(symbol)
	e.symbols[symbol] = se
	return se
}

// SubmitOrder implements spec §6's submit_order operation in full: gate,
// route, match (or arm, for StopLimit), and book/journal/position side
// effects. replaying suppresses journal writes, per spec §4.5.
func (e *Engine) SubmitOrder(req SubmitRequest, replaying bool) (*common.Order, []common.Trade, error) {
	now := common.NowNanos()

	prod, ok := e.Catalog.Get(req.Symbol)
	if !ok {
		e.reject(req.Symbol, req.User, "invalid_symbol")
		return nil, nil, common.ErrInvalidSymbol
	}
	if !prod.Active {
		e.reject(req.Symbol, req.User, "symbol_halted")
		return nil, nil, common.ErrSymbolHalted
	}
	if err := validateRequest(req, prod); err != nil {
		e.reject(req.Symbol, req.User, err.Error())
		return nil, nil, err
	}

	order := &common.Order{
		ID:            common.OrderID(e.orderIDs.Next()),
		Symbol:        req.Symbol,
		User:          req.User,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		OriginalQty:   req.Qty,
		RemainingQty:  req.Qty,
		Status:        common.New,
		CreatedAt:     now,
		UpdatedAt:     now,
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: req.ClientOrderID,
	}

	// Lock order per spec §5 is symbol lock -> user account lock; the
	// account-touching checks below (reduce-only, margin) must therefore
	// run after the symbol lock is taken, even though they don't mutate
	// the book themselves.
	se := e.symbolEngine(req.Symbol)
	se.mu.Lock()
	defer se.mu.Unlock()

	if se.durabilityHalted {
		e.reject(req.Symbol, req.User, "symbol_halted")
		return nil, nil, common.ErrSymbolHalted
	}

	if order.ReduceOnly {
		if err := e.validateReduceOnly(order); err != nil {
			e.reject(req.Symbol, req.User, err.Error())
			return nil, nil, err
		}
	}
	if !e.marginAvailable(order, prod) {
		e.reject(req.Symbol, req.User, "insufficient_margin")
		return nil, nil, common.ErrInsufficientMargin
	}

	if order.Type == common.StopLimit {
		se.stops.add(order)
		e.orderIndex.Store(order.ID, order.Symbol)
		if err := e.journalOrderNew(se, order, now, replaying); err != nil {
			return order, nil, err
		}
		if e.Metrics != nil {
			e.Metrics.OrderAccepted(order.Symbol)
		}
		return order, nil, nil
	}

	trades, err := e.submitLocked(se, prod, order, now, replaying)
	if err != nil {
		return order, trades, err
	}
	if e.Metrics != nil {
		e.Metrics.OrderAccepted(order.Symbol)
	}
	return order, trades, nil
}

// reject logs and publishes a rejection that never touched the book or
// journal beyond spec §7's optional ORDER_REJECT record.
func (e *Engine) reject(symbol, user, reason string) {
	log.Debug().Str("symbol", symbol).Str("user", user).Str("reason", reason).Msg("order rejected")
	if e.Metrics != nil {
		e.Metrics.OrderRejected(symbol, reason)
	}
	if e.Publisher != nil {
		e.Publisher.PublishReject(symbol, user, reason)
	}
}

// CancelOrder implements spec §6's cancel_order. Filled and cancelled orders
// are no longer in the book or the stop table, so cancelling one returns
// ErrNotFound; ErrAlreadyTerminal is returned only for an order still in the
// book whose status is terminal. Neither case undoes anything.
func (e *Engine) CancelOrder(symbol string, id common.OrderID, user string, replaying bool) (*common.Order, error) {
	se := e.symbolEngine(symbol)
	se.mu.Lock()
	defer se.mu.Unlock()

	if order := se.stops.remove(id); order != nil {
		if order.User != user {
			se.stops.add(order) // put it back; not this user's to cancel
			return nil, common.ErrNotOwner
		}
		order.Status = common.Cancelled
		order.UpdatedAt = common.NowNanos()
		e.orderIndex.Delete(id)
		if err := e.journalCancel(se, order, common.NowNanos(), replaying); err != nil {
			return nil, err
		}
		return order, nil
	}

	existing := se.Book.Order(id)
	if existing == nil {
		return nil, common.ErrNotFound
	}
	if existing.User != user {
		return nil, common.ErrNotOwner
	}
	if existing.Status.IsTerminal() {
		return nil, common.ErrAlreadyTerminal
	}

	removed := se.Book.Cancel(id)
	if removed == nil {
		return nil, common.ErrNotFound
	}
	now := common.NowNanos()
	removed.Status = common.Cancelled
	removed.UpdatedAt = now
	e.orderIndex.Delete(id)
	if err := e.journalCancel(se, removed, now, replaying); err != nil {
		return nil, err
	}
	return removed, nil
}

// ModifyOrder implements spec §6's modify_order / spec §4.1's modify
// contract: a price change or quantity increase loses time priority; a pure
// quantity decrease preserves it.
func (e *Engine) ModifyOrder(symbol string, id common.OrderID, user string, newPrice *common.Price, newQty *float64, replaying bool) (bool, error) {
	se := e.symbolEngine(symbol)
	se.mu.Lock()
	defer se.mu.Unlock()

	existing := se.Book.Order(id)
	if existing == nil {
		return false, common.ErrNotFound
	}
	if existing.User != user {
		return false, common.ErrNotOwner
	}
	if existing.Status.IsTerminal() {
		return false, common.ErrAlreadyTerminal
	}
	if newQty != nil && *newQty <= 0 {
		return false, common.ErrInvalidModification
	}

	now := common.NowNanos()
	ok := se.Book.Modify(id, newPrice, newQty, now)
	if !ok {
		return false, common.ErrInvalidModification
	}
	if err := e.journalModify(se, id, symbol, user, newPrice, newQty, now, replaying); err != nil {
		return false, err
	}
	return true, nil
}

// GetOrder returns the resting or armed order with id in symbol, if any.
func (e *Engine) GetOrder(symbol string, id common.OrderID) (*common.Order, error) {
	se := e.symbolEngine(symbol)
	se.mu.Lock()
	defer se.mu.Unlock()
	if o := se.Book.Order(id); o != nil {
		return o, nil
	}
	for _, entry := range se.stops.index {
		if entry.order.ID == id {
			return entry.order, nil
		}
	}
	return nil, common.ErrNotFound
}

// GetUserOrders scans every symbol's book and stop table for orders
// belonging to user. O(total resting orders); acceptable for the
// introspection/debug surface this supports.
func (e *Engine) GetUserOrders(user string) []*common.Order {
	e.mu.RLock()
	symbols := make([]*SymbolEngine, 0, len(e.symbols))
	for _, se := range e.symbols {
		symbols = append(symbols, se)
	}
	e.mu.RUnlock()

	var out []*common.Order
	for _, se := range symbols {
		se.mu.Lock()
		for _, o := range se.Book.AllOrders() {
			if o.User == user {
				out = append(out, o)
			}
		}
		for _, entry := range se.stops.index {
			if entry.order.User == user {
				out = append(out, entry.order)
			}
		}
		se.mu.Unlock()
	}
	return out
}

// OpenPosition implements spec §6's open_position operation: a direct fill
// applied to (user, symbol) outside order-book matching, gated by the same
// margin check submit_order runs.
func (e *Engine) OpenPosition(symbol, user string, size float64, price common.Price, replaying bool) (realized, marginUsed float64, err error) {
	if e.Positions == nil {
		return 0, 0, common.ErrInvalidSymbol
	}
	return e.Positions.OpenPosition(symbol, user, size, price, common.NowNanos(), replaying)
}

// ClosePosition implements spec §6's close_position operation.
func (e *Engine) ClosePosition(symbol, user string, size float64, price common.Price, replaying bool) (realized, marginUsed float64, err error) {
	if e.Positions == nil {
		return 0, 0, common.ErrNoPosition
	}
	return e.Positions.ClosePosition(symbol, user, size, price, common.NowNanos(), replaying)
}

// GetBBO returns the best bid/ask for symbol.
func (e *Engine) GetBBO(symbol string) (bid common.Price, bidOK bool, ask common.Price, askOK bool, err error) {
	se := e.symbolEngine(symbol)
	se.mu.Lock()
	defer se.mu.Unlock()
	bid, bidOK, ask, askOK = se.Book.BBO()
	return
}

// GetDepth returns up to n levels per side for symbol, best first.
func (e *Engine) GetDepth(symbol string, n int) (bids, asks []book.DepthLevel) {
	se := e.symbolEngine(symbol)
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.Book.Depth(n)
}
