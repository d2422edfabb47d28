package position

import (
	"context"
	"math"
	"sync"
	"time"

	"fenrir/internal/catalog"
	"fenrir/internal/common"
	"fenrir/internal/journal"

	"github.com/rs/zerolog/log"
)

// LiquidationResult summarizes a forced close executed by CheckLiquidation,
// for the caller to report back to the user/journal/metrics.
type LiquidationResult struct {
	User             string
	Symbol           string
	ClosedSize       float64
	MarkPrice        common.Price
	RealizedPnl      float64
	Penalty          float64
	InsuranceDraw    float64
	InsuranceCredit  float64
}

// Manager owns every Account and Position in the system, per spec §4.3.
// Field shapes grounded on
// _examples/other_examples/6cd08314_uhyunpark-hyperlicked's Account type;
// liquidation math grounded on
// _examples/VictorVVedtion-perp-dex/x/clearinghouse/keeper/liquidation.go.
type Manager struct {
	mu        sync.RWMutex
	accounts  map[string]*Account
	positions map[string]map[string]*Position // user -> symbol -> position

	catalog   *catalog.Catalog
	journal   *journal.Writer
	insurance *InsuranceFund

	LiquidationPenaltyRate float64 // fraction of notional, e.g. 0.01
	InsuranceFundShare     float64 // fraction of penalty kept by the fund
}

// New constructs a Manager. journal may be nil for tests that don't care
// about durability.
func New(cat *catalog.Catalog, jr *journal.Writer, insurance *InsuranceFund) *Manager {
	return &Manager{
		accounts:               make(map[string]*Account),
		positions:               make(map[string]map[string]*Position),
		catalog:                cat,
		journal:                jr,
		insurance:              insurance,
		LiquidationPenaltyRate: 0.01,
		InsuranceFundShare:     0.7,
	}
}

// Account returns (creating if necessary) the account for user.
func (m *Manager) Account(user string) *Account {
	m.mu.RLock()
	acct, ok := m.accounts[user]
	m.mu.RUnlock()
	if ok {
		return acct
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if acct, ok := m.accounts[user]; ok {
		return acct
	}
	acct = NewAccount(user)
	m.accounts[user] = acct
	return acct
}

// Position returns the resting position for (user, symbol), or nil.
func (m *Manager) Position(user, symbol string) *Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	posMap, ok := m.positions[user]
	if !ok {
		return nil
	}
	return posMap[symbol]
}

// Positions returns every open position for user.
func (m *Manager) Positions(user string) []*Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	posMap := m.positions[user]
	out := make([]*Position, 0, len(posMap))
	for _, p := range posMap {
		out = append(out, p)
	}
	return out
}

func (m *Manager) positionMap(user string) map[string]*Position {
	m.mu.RLock()
	posMap, ok := m.positions[user]
	m.mu.RUnlock()
	if ok {
		return posMap
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if posMap, ok := m.positions[user]; ok {
		return posMap
	}
	posMap = make(map[string]*Position)
	m.positions[user] = posMap
	return posMap
}

// unrealizedSum sums UnrealizedPnl across all of user's open positions. The
// caller must not hold any account lock when calling this (it only reads
// position fields, which per this package's convention are only mutated
// while the owning account's lock is held — a momentary stale read here is
// acceptable, matching spec §5's "short read-locks...never block writers").
func (m *Manager) unrealizedSum(user string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := 0.0
	for _, p := range m.positions[user] {
		sum += p.UnrealizedPnl
	}
	return sum
}

// ApplyFill implements spec §4.3's apply_fill entry point: opens, grows,
// shrinks or flips the (user, symbol) position in response to one fill
// leg. signedQty is positive for a buy leg, negative for a sell leg.
func (m *Manager) ApplyFill(user, symbol string, signedQty float64, price common.Price, now int64) (realized float64, err error) {
	prod, ok := m.catalog.Get(symbol)
	if !ok {
		return 0, common.ErrInvalidSymbol
	}
	acct := m.Account(user)
	posMap := m.positionMap(user)

	acct.mu.Lock()
	defer acct.mu.Unlock()

	pos, exists := posMap[symbol]
	if !exists {
		pos = &Position{User: user, Symbol: symbol, Leverage: prod.Leverage, OpenedAt: now}
		posMap[symbol] = pos
	}

	oldMargin := pos.MarginUsed
	realized = pos.applyFill(signedQty, price, now)
	acct.RealizedPnl += realized
	acct.adjustMargin(pos.MarginUsed - oldMargin)

	if pos.IsClosed() {
		delete(posMap, symbol)
	}
	return realized, nil
}

// MarkToMarket recomputes unrealized PnL and liquidation price for every
// open position in symbol, per spec §4.3.
func (m *Manager) MarkToMarket(symbol string, markPrice common.Price) {
	prod, ok := m.catalog.Get(symbol)
	if !ok {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, posMap := range m.positions {
		if pos, ok := posMap[symbol]; ok {
			pos.markToMarket(markPrice, prod.MaintenanceMarginRate)
		}
	}
}

// UsersWithPosition returns every user holding an open position in symbol,
// for a periodic mark-to-market/liquidation sweep to iterate over.
func (m *Manager) UsersWithPosition(symbol string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0)
	for user, posMap := range m.positions {
		if _, ok := posMap[symbol]; ok {
			out = append(out, user)
		}
	}
	return out
}

// SettleFunding implements spec §5's funding routine: every open position
// in symbol pays or receives rate * markPrice * size against its account's
// cash balance (a positive rate debits longs and credits shorts, per the
// usual perpetual-funding convention), and the settlement is journaled as
// a single Funding record unless replaying. Returns the number of
// positions settled.
func (m *Manager) SettleFunding(symbol string, rate float64, markPrice common.Price, now int64, replaying bool) int {
	if _, ok := m.catalog.Get(symbol); !ok {
		return 0
	}

	m.mu.RLock()
	type holding struct {
		user string
		size float64
	}
	holdings := make([]holding, 0)
	for user, posMap := range m.positions {
		if pos, ok := posMap[symbol]; ok && !common.QuantityIsZero(pos.Size) {
			holdings = append(holdings, holding{user: user, size: pos.Size})
		}
	}
	m.mu.RUnlock()

	for _, h := range holdings {
		payment := -h.size * float64(markPrice) * rate
		acct := m.Account(h.user)
		acct.mu.Lock()
		acct.CashBalance += payment
		acct.mu.Unlock()
	}

	if !replaying && m.journal != nil {
		body := journal.FundingBody{Symbol: symbol, Rate: rate, MarkPrice: int64(markPrice)}.Encode()
		if _, err := m.journal.Append(journal.EventFunding, body, now); err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("journal: funding write failed")
		}
	}

	return len(holdings)
}

// OpenPosition implements spec §6's open_position operation: a direct fill
// of size at price against (user, symbol), gated by the same margin check
// submit_order runs before a fill is allowed to happen. The adjustment is
// journaled as its own PositionAdjustment record rather than a synthetic
// Trade: a maker==taker Trade would net to zero when replay applies both
// legs of the fill to the same account.
func (m *Manager) OpenPosition(symbol, user string, size float64, price common.Price, now int64, replaying bool) (realized, marginUsed float64, err error) {
	prod, ok := m.catalog.Get(symbol)
	if !ok {
		return 0, 0, common.ErrInvalidSymbol
	}
	if common.QuantityIsZero(size) {
		return 0, 0, common.ErrInvalidSize
	}

	if prod.Leverage > 0 {
		required := abs(size) * float64(price) / prod.Leverage
		if !m.MarginAvailable(user, required) {
			return 0, 0, common.ErrInsufficientMargin
		}
	}

	realized, err = m.ApplyFill(user, symbol, size, price, now)
	if err != nil {
		return 0, 0, err
	}
	if pos := m.Position(user, symbol); pos != nil {
		marginUsed = pos.MarginUsed
	}

	if !replaying && m.journal != nil {
		m.journalDirectAdjustment(user, symbol, size, price, now)
	}
	return realized, marginUsed, nil
}

// ClosePosition implements spec §6's close_position operation: closes some
// or all of an existing position at price, failing with ErrNoPosition if
// the user holds nothing in symbol. size is unsigned; the close direction
// is inferred from the current position's sign.
func (m *Manager) ClosePosition(symbol, user string, size float64, price common.Price, now int64, replaying bool) (realized, marginUsed float64, err error) {
	pos := m.Position(user, symbol)
	if pos == nil || common.QuantityIsZero(pos.Size) {
		return 0, 0, common.ErrNoPosition
	}

	closeQty := math.Min(abs(size), abs(pos.Size))
	signed := closeQty
	if pos.Size > 0 {
		signed = -closeQty
	}

	realized, err = m.ApplyFill(user, symbol, signed, price, now)
	if err != nil {
		return 0, 0, err
	}
	if pos := m.Position(user, symbol); pos != nil {
		marginUsed = pos.MarginUsed
	}

	if !replaying && m.journal != nil {
		m.journalDirectAdjustment(user, symbol, signed, price, now)
	}
	return realized, marginUsed, nil
}

// RunFundingLoop settles funding for every registered symbol every
// interval at the given rate, until ctx is cancelled. Spec §9 leaves the
// funding rate source as an injected oracle and its cadence open; this is
// the injected answer, with the rate configured rather than computed from
// a basis curve.
func (m *Manager) RunFundingLoop(ctx context.Context, interval time.Duration, rate float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range m.catalog.Symbols() {
				prod, ok := m.catalog.Get(symbol)
				if !ok || !prod.Active {
					continue
				}
				n := m.SettleFunding(symbol, rate, prod.MarkPrice, common.NowNanos(), false)
				if n > 0 {
					log.Info().Str("symbol", symbol).Float64("rate", rate).Int("positions", n).Msg("funding settled")
				}
			}
		}
	}
}

func (m *Manager) journalDirectAdjustment(user, symbol string, signedQty float64, price common.Price, now int64) {
	body := journal.PositionAdjustmentBody{User: user, Symbol: symbol, SignedQty: signedQty, Price: int64(price)}.Encode()
	if _, err := m.journal.Append(journal.EventPositionAdjustment, body, now); err != nil {
		log.Error().Err(err).Str("user", user).Str("symbol", symbol).Msg("journal: direct position adjustment write failed")
	}
}

// MarginAvailable reports whether user's account has at least required
// equity beyond margin already in use, without reserving any. This backs
// the engine's pre-trade "required margin computable" validation gate; the
// authoritative margin_used figure is still set by ApplyFill once a fill
// actually happens.
func (m *Manager) MarginAvailable(user string, required float64) bool {
	acct := m.Account(user)
	unrealized := m.unrealizedSum(user)
	return acct.Available(unrealized) >= required
}

// ReserveMargin atomically locks amount of margin against user's account if
// available allows it, per spec §4.3. Journals a MarginLock record unless
// replaying.
func (m *Manager) ReserveMargin(user string, amount float64, now int64, replaying bool) bool {
	acct := m.Account(user)
	unrealized := m.unrealizedSum(user)

	acct.mu.Lock()
	available := acct.CashBalance + unrealized + acct.RealizedPnl - acct.MarginUsed
	if amount > available {
		acct.mu.Unlock()
		return false
	}
	acct.adjustMargin(amount)
	acct.mu.Unlock()

	if !replaying && m.journal != nil {
		body := journal.MarginBody{User: user, Amount: amount}.Encode()
		if _, err := m.journal.Append(journal.EventMarginLock, body, now); err != nil {
			log.Error().Err(err).Str("user", user).Msg("journal: margin lock write failed")
		}
	}
	return true
}

// ReleaseMargin frees previously reserved margin back to the account,
// journaling a MarginRelease record unless replaying.
func (m *Manager) ReleaseMargin(user string, amount float64, now int64, replaying bool) {
	acct := m.Account(user)
	acct.mu.Lock()
	acct.adjustMargin(-amount)
	acct.mu.Unlock()

	if !replaying && m.journal != nil {
		body := journal.MarginBody{User: user, Amount: amount}.Encode()
		if _, err := m.journal.Append(journal.EventMarginRelease, body, now); err != nil {
			log.Error().Err(err).Str("user", user).Msg("journal: margin release write failed")
		}
	}
}

// CheckLiquidation implements spec §4.3: if the position's equity
// contribution has fallen to or below the maintenance-margin threshold at
// markPrice, it is force-closed at markPrice, realized PnL is booked, the
// insurance fund is drawn on if the loss exceeds posted margin, and a
// Liquidation record is journaled unless replaying. Returns (false, nil)
// if the position is healthy or does not exist.
func (m *Manager) CheckLiquidation(user, symbol string, markPrice common.Price, now int64, replaying bool) (bool, *LiquidationResult) {
	prod, ok := m.catalog.Get(symbol)
	if !ok {
		return false, nil
	}
	pos := m.Position(user, symbol)
	if pos == nil {
		return false, nil
	}

	equity := pos.equityContribution(markPrice)
	maintenance := pos.maintenanceMargin(markPrice, prod.MaintenanceMarginRate)
	if equity > maintenance {
		return false, nil
	}

	acct := m.Account(user)
	acct.mu.Lock()

	closedSize := pos.Size
	marginBefore := pos.MarginUsed
	realized := pos.applyFill(-pos.Size, markPrice, now)
	acct.RealizedPnl += realized
	acct.adjustMargin(pos.MarginUsed - marginBefore) // drives MarginUsed to 0 for this position

	notional := abs(closedSize) * float64(markPrice)
	penalty := notional * m.LiquidationPenaltyRate
	insuranceShare := penalty * m.InsuranceFundShare

	shortfall := -(marginBefore + realized)
	insuranceDraw := 0.0
	if shortfall > 0 {
		insuranceDraw = m.insurance.Draw(shortfall)
		acct.CashBalance += insuranceDraw
	}
	acct.CashBalance -= penalty

	posMap := m.positionMap(user)
	delete(posMap, symbol)
	acct.mu.Unlock()

	m.insurance.Contribute(insuranceShare)

	if !replaying && m.journal != nil {
		body := journal.LiquidationBody{
			User:            user,
			Symbol:          symbol,
			Size:            closedSize,
			MarkPrice:       int64(markPrice),
			RealizedPnl:     realized,
			InsuranceDraw:   insuranceDraw,
			Penalty:         penalty,
			InsuranceCredit: insuranceShare,
		}.Encode()
		if _, err := m.journal.Append(journal.EventLiquidation, body, now); err != nil {
			log.Error().Err(err).Str("user", user).Str("symbol", symbol).Msg("journal: liquidation write failed")
		}
	}

	return true, &LiquidationResult{
		User: user, Symbol: symbol, ClosedSize: closedSize, MarkPrice: markPrice,
		RealizedPnl: realized, Penalty: penalty, InsuranceDraw: insuranceDraw, InsuranceCredit: insuranceShare,
	}
}

// ReplayLiquidation reapplies a previously-journaled forced close directly,
// bypassing CheckLiquidation's own maintenance-margin gate: the live run
// already decided this liquidation happened, so replay only needs to
// reproduce its balance effects in the same order.
func (m *Manager) ReplayLiquidation(b journal.LiquidationBody) {
	acct := m.Account(b.User)
	posMap := m.positionMap(b.User)

	acct.mu.Lock()
	if pos, ok := posMap[b.Symbol]; ok {
		acct.adjustMargin(-pos.MarginUsed)
		delete(posMap, b.Symbol)
	}
	acct.RealizedPnl += b.RealizedPnl
	acct.CashBalance += b.InsuranceDraw
	acct.CashBalance -= b.Penalty
	acct.mu.Unlock()

	if b.InsuranceDraw > 0 {
		m.insurance.Draw(b.InsuranceDraw)
	}
	if b.InsuranceCredit > 0 {
		m.insurance.Contribute(b.InsuranceCredit)
	}
}

// SeedAccount restores an account's balances from a loaded snapshot,
// bypassing Deposit's journal write: the snapshot itself is the durable
// record of how this balance came to be.
func (m *Manager) SeedAccount(user string, cashBalance, realizedPnl float64) {
	acct := m.Account(user)
	acct.mu.Lock()
	acct.CashBalance = cashBalance
	acct.RealizedPnl = realizedPnl
	acct.mu.Unlock()
}

// SeedPosition restores an open position from a loaded snapshot. The
// caller supplies every field; no PnL or margin recomputation happens
// here, since the snapshot already captured them as of Sequence.
func (m *Manager) SeedPosition(p Position) {
	posMap := m.positionMap(p.User)
	acct := m.Account(p.User)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	pos := p
	posMap[pos.Symbol] = &pos
}

// Deposit credits a user's cash balance and journals a Deposit record.
func (m *Manager) Deposit(user string, amount float64, currency string, now int64, replaying bool) {
	m.Account(user).Deposit(amount)
	if !replaying && m.journal != nil {
		body := journal.CashMovementBody{User: user, Currency: currency, Amount: amount}.Encode()
		if _, err := m.journal.Append(journal.EventDeposit, body, now); err != nil {
			log.Error().Err(err).Str("user", user).Msg("journal: deposit write failed")
		}
	}
}

// Withdraw debits a user's cash balance if available, journaling a
// Withdrawal record on success.
func (m *Manager) Withdraw(user string, amount float64, currency string, now int64, replaying bool) error {
	acct := m.Account(user)
	unrealized := m.unrealizedSum(user)
	if err := acct.Withdraw(amount, unrealized); err != nil {
		return err
	}
	if !replaying && m.journal != nil {
		body := journal.CashMovementBody{User: user, Currency: currency, Amount: amount}.Encode()
		if _, err := m.journal.Append(journal.EventWithdrawal, body, now); err != nil {
			log.Error().Err(err).Str("user", user).Msg("journal: withdrawal write failed")
		}
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
