package replay

import (
	"path/filepath"
	"testing"
	"time"

	"fenrir/internal/catalog"
	"fenrir/internal/common"
	"fenrir/internal/engine"
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

func newJournal(t *testing.T) (*journal.Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.bin")
	w, err := journal.OpenWriter(path, journal.DurabilityPolicy{FlushEveryRecords: 1, FlushInterval: time.Hour})
	require.NoError(t, err)
	return w, path
}

func TestRecover_EmptyJournalIsANoOp(t *testing.T) {
	_, path := newJournal(t)
	cat := testCatalog()
	positions := position.New(cat, nil, position.NewInsuranceFund(0))
	eng := engine.New(cat, positions, nil, engine.DefaultConfig())

	res, err := Recover(path, nil, eng, positions, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.RecordsApplied)
	assert.Equal(t, uint64(0), res.LastSequence)
}

func TestRecover_ReplaysOrderNewAndTrade(t *testing.T) {
	w, path := newJournal(t)

	orderBody := journal.OrderNewBody{
		OrderID: 1, Symbol: "BTC-PERP", User: "alice", Side: common.Sell,
		OrderType: common.Limit, Price: 50000, Quantity: 1,
	}.Encode()
	_, err := w.Append(journal.EventOrderNew, orderBody, 1)
	require.NoError(t, err)

	tradeBody := journal.TradeBody{
		TradeID: 1, Symbol: "BTC-PERP", MakerOrderID: 1, TakerOrderID: 2,
		MakerUser: "alice", TakerUser: "bob", TakerSide: common.Buy,
		Price: 50000, Quantity: 1,
	}.Encode()
	_, err = w.Append(journal.EventTrade, tradeBody, 2)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	cat := testCatalog()
	positions := position.New(cat, nil, position.NewInsuranceFund(0))
	positions.SeedAccount("alice", 100000, 0)
	positions.SeedAccount("bob", 100000, 0)
	eng := engine.New(cat, positions, nil, engine.DefaultConfig())

	res, err := Recover(path, nil, eng, positions, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.RecordsApplied)
	assert.Equal(t, uint64(2), res.LastSequence)

	alicePos := positions.Position("alice", "BTC-PERP")
	bobPos := positions.Position("bob", "BTC-PERP")
	require.NotNil(t, alicePos)
	require.NotNil(t, bobPos)
	assert.Equal(t, -1.0, alicePos.Size, "maker leg of the replayed trade fully consumed the resting order")
	assert.Equal(t, 1.0, bobPos.Size)

	_, err = eng.GetOrder("BTC-PERP", common.OrderID(1))
	assert.ErrorIs(t, err, common.ErrNotFound, "fully-filled replayed order is not left resting")
}

func TestRecover_SeedsIDGeneratorsPastJournalMax(t *testing.T) {
	w, path := newJournal(t)

	body := journal.OrderNewBody{
		OrderID: 41, Symbol: "BTC-PERP", User: "alice", Side: common.Buy,
		OrderType: common.Limit, Price: 49000, Quantity: 1,
	}.Encode()
	_, err := w.Append(journal.EventOrderNew, body, 1)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	cat := testCatalog()
	positions := position.New(cat, nil, position.NewInsuranceFund(0))
	positions.SeedAccount("alice", 100000, 0)
	eng := engine.New(cat, positions, nil, engine.DefaultConfig())

	_, err = Recover(path, nil, eng, positions, 2)
	require.NoError(t, err)

	order, _, err := eng.SubmitOrder(engine.SubmitRequest{
		Symbol: "BTC-PERP", User: "alice", Side: common.Buy, Type: common.Limit, Price: 48000, Qty: 1,
	}, false)
	require.NoError(t, err)
	assert.Equal(t, common.OrderID(42), order.ID, "new orders continue past the highest replayed id")
}

func TestRecover_SkipsRecordsAtOrBelowSnapshotSequence(t *testing.T) {
	w, path := newJournal(t)

	depositBody := journal.CashMovementBody{User: "alice", Currency: "USD", Amount: 500}.Encode()
	_, err := w.Append(journal.EventDeposit, depositBody, 1)
	require.NoError(t, err)
	secondDeposit := journal.CashMovementBody{User: "alice", Currency: "USD", Amount: 250}.Encode()
	_, err = w.Append(journal.EventDeposit, secondDeposit, 2)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	cat := testCatalog()
	positions := position.New(cat, nil, position.NewInsuranceFund(0))
	eng := engine.New(cat, positions, nil, engine.DefaultConfig())

	snap := &journal.SnapshotData{
		Sequence: 1,
		Accounts: []journal.SnapshotAccount{{User: "alice", CashBalance: 500, RealizedPnl: 0}},
	}

	res, err := Recover(path, snap, eng, positions, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.RecordsApplied, "only the record after snapshot.Sequence applies")

	assert.Equal(t, 750.0, positions.Account("alice").CashBalance, "snapshot balance plus the one post-snapshot deposit")
}

func TestRecover_IsIdempotentAcrossTwoRuns(t *testing.T) {
	w, path := newJournal(t)
	body := journal.OrderNewBody{
		OrderID: 1, Symbol: "BTC-PERP", User: "alice", Side: common.Buy,
		OrderType: common.Limit, Price: 49000, Quantity: 1,
	}.Encode()
	_, err := w.Append(journal.EventOrderNew, body, 1)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	run := func() *engine.Engine {
		cat := testCatalog()
		positions := position.New(cat, nil, position.NewInsuranceFund(0))
		positions.SeedAccount("alice", 100000, 0)
		eng := engine.New(cat, positions, nil, engine.DefaultConfig())
		_, err := Recover(path, nil, eng, positions, 2)
		require.NoError(t, err)
		return eng
	}

	eng1 := run()
	eng2 := run()

	order1, err1 := eng1.GetOrder("BTC-PERP", common.OrderID(1))
	order2, err2 := eng2.GetOrder("BTC-PERP", common.OrderID(1))
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, order1.RemainingQty, order2.RemainingQty)
	assert.Equal(t, order1.Price, order2.Price)
}
