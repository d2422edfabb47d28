package engine

import (
	"testing"

	"fenrir/internal/catalog"
	"fenrir/internal/common"
	"fenrir/internal/journal"
	"fenrir/internal/position"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *catalog.Catalog {
	cat := catalog.New()
	cat.Register(catalog.Product{
		Symbol: "BTC-PERP", Tick: 1, MinSize: 0.001, MaxSize: 100,
		Leverage: 10, MaintenanceMarginRate: 0.03, MarkPrice: 50000, Active: true,
	})
	return cat
}

func newTestEngine(t *testing.T) (*Engine, *position.Manager) {
	t.Helper()
	cat := testCatalog()
	positions := position.New(cat, nil, position.NewInsuranceFund(0))
	eng := New(cat, positions, nil, DefaultConfig())
	return eng, positions
}

func fund(t *testing.T, positions *position.Manager, user string, amount float64) {
	t.Helper()
	positions.Deposit(user, amount, "USD", 1, false)
}

func TestSubmitOrder_RestsWhenNothingToMatch(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 100000)

	order, trades, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Buy, Type: common.Limit,
		Price: 50000, Qty: 1,
	}, false)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, common.New, order.Status)

	bid, bidOK, _, askOK := eng.GetBBO("BTC-PERP")
	assert.True(t, bidOK)
	assert.False(t, askOK)
	assert.Equal(t, common.Price(50000), bid)
}

func TestSubmitOrder_CrossingLimitFillsMakerAndTaker(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 100000)
	fund(t, positions, "bob", 100000)

	_, _, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Sell, Type: common.Limit, Price: 50000, Qty: 1,
	}, false)
	require.NoError(t, err)

	_, trades, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "bob", Side: common.Buy, Type: common.Limit, Price: 50000, Qty: 1,
	}, false)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, common.Price(50000), trades[0].Price, "trade prices at the maker's price")
	assert.Equal(t, "alice", trades[0].MakerUser)
	assert.Equal(t, "bob", trades[0].TakerUser)

	alicePos := positions.Position("alice", "BTC-PERP")
	bobPos := positions.Position("bob", "BTC-PERP")
	require.NotNil(t, alicePos)
	require.NotNil(t, bobPos)
	assert.Equal(t, -1.0, alicePos.Size)
	assert.Equal(t, 1.0, bobPos.Size)
}

func TestSubmitOrder_MarketOrderCancelsUnfilledRemainder(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 100000)
	fund(t, positions, "bob", 100000)

	_, _, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Sell, Type: common.Limit, Price: 50000, Qty: 1,
	}, false)
	require.NoError(t, err)

	order, trades, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "bob", Side: common.Buy, Type: common.Market, Qty: 3,
	}, false)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 1.0, trades[0].Quantity)
	assert.Equal(t, common.Cancelled, order.Status, "unfilled market remainder cancels rather than rests")
}

func TestSubmitOrder_PostOnlyRejectsWhenCrossing(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 100000)
	fund(t, positions, "bob", 100000)

	_, _, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Sell, Type: common.Limit, Price: 50000, Qty: 1,
	}, false)
	require.NoError(t, err)

	_, _, err = eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "bob", Side: common.Buy, Type: common.PostOnly, Price: 50000, Qty: 1,
	}, false)
	assert.ErrorIs(t, err, common.ErrPostOnlyCross)
}

func TestSubmitOrder_FOKRejectedWhenInsufficientLiquidity(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 100000)
	fund(t, positions, "bob", 100000)

	_, _, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Sell, Type: common.Limit, Price: 50000, Qty: 1,
	}, false)
	require.NoError(t, err)

	_, _, err = eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "bob", Side: common.Buy, Type: common.FOK, Price: 50000, Qty: 5,
	}, false)
	assert.ErrorIs(t, err, common.ErrFokUnfillable)
}

func TestSubmitOrder_StopLimitArmsThenTriggersOnTrade(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 100000)
	fund(t, positions, "bob", 100000)
	fund(t, positions, "carol", 100000)

	stopOrder, trades, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "carol", Side: common.Buy, Type: common.StopLimit,
		Price: 50500, StopPrice: 50000, Qty: 1,
	}, false)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, common.New, stopOrder.Status)

	_, _, err = eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Sell, Type: common.Limit, Price: 50000, Qty: 1,
	}, false)
	require.NoError(t, err)

	_, tradingTrades, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "bob", Side: common.Buy, Type: common.Limit, Price: 50000, Qty: 1,
	}, false)
	require.NoError(t, err)
	require.Len(t, tradingTrades, 1, "this trade sets lastTradePrice=50000, triggering carol's stop")

	order, err := eng.GetOrder("BTC-PERP", stopOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, common.Limit, order.Type, "triggered stop converts to a resting limit order")
}

func TestSubmitOrder_RejectsUnknownSymbol(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 100000)

	_, _, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "DOGE-PERP", User: "alice", Side: common.Buy, Type: common.Limit, Price: 1, Qty: 1,
	}, false)
	assert.ErrorIs(t, err, common.ErrInvalidSymbol)
}

func TestSubmitOrder_RejectsInsufficientMargin(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 10)

	_, _, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Buy, Type: common.Limit, Price: 50000, Qty: 1,
	}, false)
	assert.ErrorIs(t, err, common.ErrInsufficientMargin)
}

func TestSubmitOrder_RejectsReduceOnlyWithNoPosition(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 100000)

	_, _, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Sell, Type: common.Limit,
		Price: 50000, Qty: 1, ReduceOnly: true,
	}, false)
	assert.ErrorIs(t, err, common.ErrReduceOnlyViolation)
}

func TestCancelOrder_RemovesRestingOrder(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 100000)

	order, _, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Buy, Type: common.Limit, Price: 49000, Qty: 1,
	}, false)
	require.NoError(t, err)

	cancelled, err := eng.CancelOrder("BTC-PERP", order.ID, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, common.Cancelled, cancelled.Status)

	_, err = eng.GetOrder("BTC-PERP", order.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCancelOrder_RejectsWrongOwner(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 100000)

	order, _, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Buy, Type: common.Limit, Price: 49000, Qty: 1,
	}, false)
	require.NoError(t, err)

	_, err = eng.CancelOrder("BTC-PERP", order.ID, "bob", false)
	assert.ErrorIs(t, err, common.ErrNotOwner)
}

func TestCancelOrder_ArmedStopOrder(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 100000)

	order, _, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Buy, Type: common.StopLimit,
		Price: 51000, StopPrice: 51500, Qty: 1,
	}, false)
	require.NoError(t, err)

	cancelled, err := eng.CancelOrder("BTC-PERP", order.ID, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, common.Cancelled, cancelled.Status)
}

func TestModifyOrder_QuantityDecrease(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 100000)

	order, _, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Buy, Type: common.Limit, Price: 49000, Qty: 5,
	}, false)
	require.NoError(t, err)

	newQty := 2.0
	ok, err := eng.ModifyOrder("BTC-PERP", order.ID, "alice", nil, &newQty, false)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := eng.GetOrder("BTC-PERP", order.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.RemainingQty)
}

func TestModifyOrder_RejectsNonPositiveQty(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 100000)

	order, _, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Buy, Type: common.Limit, Price: 49000, Qty: 5,
	}, false)
	require.NoError(t, err)

	zero := 0.0
	_, err = eng.ModifyOrder("BTC-PERP", order.ID, "alice", nil, &zero, false)
	assert.ErrorIs(t, err, common.ErrInvalidModification)
}

func TestSelfTradeAction_CancelOldestPrefersLowerID(t *testing.T) {
	maker := &common.Order{ID: 1}
	taker := &common.Order{ID: 2}
	cancelMaker, cancelTaker := selfTradeAction(common.CancelOldest, maker, taker)
	assert.True(t, cancelMaker)
	assert.False(t, cancelTaker)
}

func TestSelfTradeAction_CancelBoth(t *testing.T) {
	maker := &common.Order{ID: 1}
	taker := &common.Order{ID: 2}
	cancelMaker, cancelTaker := selfTradeAction(common.CancelBoth, maker, taker)
	assert.True(t, cancelMaker)
	assert.True(t, cancelTaker)
}

func TestSubmitOrder_SelfTradeCancelsOldestResting(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 100000)

	resting, _, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Sell, Type: common.Limit, Price: 50000, Qty: 1,
	}, false)
	require.NoError(t, err)

	_, trades, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Buy, Type: common.Limit, Price: 50000, Qty: 1,
	}, false)
	require.NoError(t, err)
	assert.Empty(t, trades, "self-trade produces no fill")

	_, err = eng.GetOrder("BTC-PERP", resting.ID)
	assert.ErrorIs(t, err, common.ErrNotFound, "the older resting order was cancelled under CancelOldest")
}

func TestReplayOrderNew_RestsWithoutJournalingOrPublishing(t *testing.T) {
	eng, positions := newTestEngine(t)
	positions.SeedAccount("alice", 100000, 0)

	eng.ReplayOrderNew(journal.OrderNewBody{
		OrderID: 7, Symbol: "BTC-PERP", User: "alice", Side: common.Buy,
		OrderType: common.Limit, Price: 49000, Quantity: 1,
	}, 1)

	order, err := eng.GetOrder("BTC-PERP", common.OrderID(7))
	require.NoError(t, err)
	assert.Equal(t, 1.0, order.RemainingQty)
}

func TestReplayCancel_RemovesReplayedOrder(t *testing.T) {
	eng, positions := newTestEngine(t)
	positions.SeedAccount("alice", 100000, 0)

	eng.ReplayOrderNew(journal.OrderNewBody{
		OrderID: 7, Symbol: "BTC-PERP", User: "alice", Side: common.Buy,
		OrderType: common.Limit, Price: 49000, Quantity: 1,
	}, 1)
	eng.ReplayCancel(journal.CancelBody{OrderID: 7, Symbol: "BTC-PERP", User: "alice"})

	_, err := eng.GetOrder("BTC-PERP", common.OrderID(7))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestReplayTrade_AppliesFillsWithoutDoubleJournaling(t *testing.T) {
	eng, positions := newTestEngine(t)
	positions.SeedAccount("alice", 100000, 0)
	positions.SeedAccount("bob", 100000, 0)

	eng.ReplayTrade(journal.TradeBody{
		TradeID: 1, Symbol: "BTC-PERP", MakerOrderID: 1, TakerOrderID: 2,
		MakerUser: "alice", TakerUser: "bob", TakerSide: common.Buy,
		Price: 50000, Quantity: 1,
	}, 1)

	alicePos := positions.Position("alice", "BTC-PERP")
	bobPos := positions.Position("bob", "BTC-PERP")
	require.NotNil(t, alicePos)
	require.NotNil(t, bobPos)
	assert.Equal(t, -1.0, alicePos.Size)
	assert.Equal(t, 1.0, bobPos.Size)
}

func TestReplaySeedIDs_FutureOrdersContinueFromSeed(t *testing.T) {
	eng, positions := newTestEngine(t)
	fund(t, positions, "alice", 100000)

	eng.ReplaySeedIDs(100, 50)

	order, _, err := eng.SubmitOrder(SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Buy, Type: common.Limit, Price: 49000, Qty: 1,
	}, false)
	require.NoError(t, err)
	assert.Equal(t, common.OrderID(101), order.ID)
}
