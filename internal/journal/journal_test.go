package journal

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fenrir/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHeader_EncodeDecodeRoundTrip(t *testing.T) {
	h := FileHeader{Version: CurrentVersion, CreatedTs: 123456789, LastSeq: 42}
	got, err := DecodeFileHeader(h.Encode())
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestDecodeFileHeader_BadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	_, err := DecodeFileHeader(buf)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestEventHeader_EncodeDecodeRoundTrip(t *testing.T) {
	h := EventHeader{TimestampNs: 99, Sequence: 7, Type: EventTrade, DataSize: 64}
	got, err := DecodeEventHeader(h.Encode())
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestOrderNewBody_EncodeDecodeRoundTrip(t *testing.T) {
	b := OrderNewBody{
		OrderID: 1, Symbol: "BTC-PERP", User: "alice",
		Side: common.Buy, OrderType: common.Limit,
		Price: 50000, StopPrice: 0, Quantity: 1.5,
		ReduceOnly: true, ClientOrderID: "client-abc",
	}
	got := DecodeOrderNewBody(b.Encode())
	assert.Equal(t, b, got)
}

func TestCancelBody_EncodeDecodeRoundTrip(t *testing.T) {
	b := CancelBody{OrderID: 5, Symbol: "ETH-PERP", User: "bob"}
	assert.Equal(t, b, DecodeCancelBody(b.Encode()))
}

func TestModifyBody_EncodeDecodeRoundTrip(t *testing.T) {
	b := ModifyBody{OrderID: 9, Symbol: "BTC-PERP", User: "carol", NewPrice: 51000, HasPrice: true, NewQty: 2, HasQty: false}
	assert.Equal(t, b, DecodeModifyBody(b.Encode()))
}

func TestTradeBody_EncodeDecodeRoundTrip(t *testing.T) {
	b := TradeBody{
		TradeID: 11, Symbol: "BTC-PERP", MakerOrderID: 1, TakerOrderID: 2,
		MakerUser: "alice", TakerUser: "bob", TakerSide: common.Sell,
		Price: 50500, Quantity: 0.5, MakerFee: 1.25, TakerFee: 2.5,
	}
	assert.Equal(t, b, DecodeTradeBody(b.Encode()))
}

func TestCashMovementBody_EncodeDecodeRoundTrip(t *testing.T) {
	b := CashMovementBody{User: "alice", Currency: "USD", Amount: 1000.5}
	assert.Equal(t, b, DecodeCashMovementBody(b.Encode()))
}

func TestMarginBody_EncodeDecodeRoundTrip(t *testing.T) {
	b := MarginBody{User: "alice", Symbol: "BTC-PERP", Amount: 250}
	assert.Equal(t, b, DecodeMarginBody(b.Encode()))
}

func TestLiquidationBody_EncodeDecodeRoundTrip(t *testing.T) {
	b := LiquidationBody{
		User: "alice", Symbol: "BTC-PERP", Size: 1.0, MarkPrice: 46000,
		RealizedPnl: -4000, InsuranceDraw: 0, Penalty: 40, InsuranceCredit: 40,
	}
	assert.Equal(t, b, DecodeLiquidationBody(b.Encode()))
}

func TestFundingBody_EncodeDecodeRoundTrip(t *testing.T) {
	b := FundingBody{Symbol: "BTC-PERP", Rate: 0.0001, MarkPrice: 50000}
	assert.Equal(t, b, DecodeFundingBody(b.Encode()))
}

func TestFeeBody_EncodeDecodeRoundTrip(t *testing.T) {
	b := FeeBody{User: "alice", Symbol: "BTC-PERP", Amount: 3.5}
	assert.Equal(t, b, DecodeFeeBody(b.Encode()))
}

func TestInsuranceBody_EncodeDecodeRoundTrip(t *testing.T) {
	b := InsuranceBody{Symbol: "BTC-PERP", Amount: 40, Reason: "liquidation_shortfall"}
	assert.Equal(t, b, DecodeInsuranceBody(b.Encode()))
}

func TestOrderRejectBody_EncodeDecodeRoundTrip(t *testing.T) {
	b := OrderRejectBody{User: "alice", Symbol: "BTC-PERP", Reason: "insufficient_margin"}
	assert.Equal(t, b, DecodeOrderRejectBody(b.Encode()))
}

func TestSnapshotBody_EncodeDecodeRoundTrip(t *testing.T) {
	b := SnapshotBody{Sequence: 100, Path: "snap-100.json"}
	b.Hash[0] = 0xAB
	b.Hash[31] = 0xCD
	assert.Equal(t, b, DecodeSnapshotBody(b.Encode()))
}

func TestWriter_AppendAndReadBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.bin")

	w, err := OpenWriter(path, DurabilityPolicy{FlushEveryRecords: 100, FlushInterval: time.Hour})
	require.NoError(t, err)

	body := CancelBody{OrderID: 1, Symbol: "BTC-PERP", User: "alice"}.Encode()
	seq, err := w.Append(EventCancel, body, common.NowNanos())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	require.NoError(t, w.Close())

	var records []Record
	truncatedAt, err := ReadAll(path, func(r Record) error {
		records = append(records, r)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), truncatedAt)
	require.Len(t, records, 1)
	assert.Equal(t, EventCancel, records[0].Header.Type)
	assert.Equal(t, CancelBody{OrderID: 1, Symbol: "BTC-PERP", User: "alice"}, DecodeCancelBody(records[0].Body))
}

func TestWriter_CriticalEventFlushesImmediately(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.bin")

	w, err := OpenWriter(path, DurabilityPolicy{FlushEveryRecords: 1000, FlushInterval: time.Hour})
	require.NoError(t, err)

	body := CashMovementBody{User: "alice", Currency: "USD", Amount: 100}.Encode()
	_, err = w.Append(EventDeposit, body, common.NowNanos())
	require.NoError(t, err)

	// A critical event flushes+fsyncs before Append returns, so the file on
	// disk must already contain the record even though Close was never
	// called and FlushEveryRecords is far from reached.
	info, statErr := os.Stat(path)
	require.NoError(t, statErr)
	assert.Greater(t, info.Size(), int64(HeaderSize))

	require.NoError(t, w.Close())
}

func TestWriter_NonCriticalEventBuffersUntilThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.bin")

	w, err := OpenWriter(path, DurabilityPolicy{FlushEveryRecords: 2, FlushInterval: time.Hour})
	require.NoError(t, err)

	body := CancelBody{OrderID: 1, Symbol: "BTC-PERP", User: "alice"}.Encode()
	_, err = w.Append(EventCancel, body, common.NowNanos())
	require.NoError(t, err)

	info, _ := os.Stat(path)
	assert.Equal(t, int64(HeaderSize), info.Size(), "first non-critical record stays buffered")

	_, err = w.Append(EventCancel, body, common.NowNanos())
	require.NoError(t, err)

	info, _ = os.Stat(path)
	assert.Greater(t, info.Size(), int64(HeaderSize), "second record crosses FlushEveryRecords and flushes both")

	require.NoError(t, w.Close())
}

func TestWriter_CloseWritesLastSeqIntoHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.bin")

	w, err := OpenWriter(path, DefaultDurabilityPolicy())
	require.NoError(t, err)
	body := CancelBody{OrderID: 1, Symbol: "BTC-PERP", User: "alice"}.Encode()
	_, err = w.Append(EventCancel, body, common.NowNanos())
	require.NoError(t, err)
	_, err = w.Append(EventCancel, body, common.NowNanos())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, uint64(2), r.Header.LastSeq)
}

func TestResumeWriter_ContinuesSequenceAndPreservesCreatedTs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.bin")

	w, err := OpenWriter(path, DefaultDurabilityPolicy())
	require.NoError(t, err)
	body := CancelBody{OrderID: 1, Symbol: "BTC-PERP", User: "alice"}.Encode()
	_, err = w.Append(EventCancel, body, common.NowNanos())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	createdTs := r.Header.CreatedTs
	require.NoError(t, r.Close())

	w2, err := ResumeWriter(path, createdTs, 1, DefaultDurabilityPolicy())
	require.NoError(t, err)
	seq, err := w2.Append(EventCancel, body, common.NowNanos())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
	require.NoError(t, w2.Close())

	r2, err := OpenReader(path)
	require.NoError(t, err)
	defer r2.Close()
	assert.Equal(t, createdTs, r2.Header.CreatedTs)
	assert.Equal(t, uint64(2), r2.Header.LastSeq)
}

func TestReadAll_StopsAtChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.bin")

	w, err := OpenWriter(path, DefaultDurabilityPolicy())
	require.NoError(t, err)
	body := CancelBody{OrderID: 1, Symbol: "BTC-PERP", User: "alice"}.Encode()
	_, err = w.Append(EventCancel, body, common.NowNanos())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	require.NoError(t, err)
	// Corrupt the last byte of the checksum trailer.
	_, err = f.Seek(-1, io.SeekEnd)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xFF})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var seen int
	truncatedAt, err := ReadAll(path, func(r Record) error {
		seen++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, seen)
	assert.Equal(t, uint64(0), truncatedAt, "the single corrupted record was sequence 1, so TruncatedAt reports the boundary before it")
}

func TestSnapshotFile_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")

	data := SnapshotData{
		Sequence: 42,
		Accounts: []SnapshotAccount{{User: "alice", CashBalance: 1000, RealizedPnl: 50}},
		Positions: []SnapshotPosition{
			{User: "alice", Symbol: "BTC-PERP", Size: 1, AvgEntryPrice: 50000, MarginUsed: 5000, Leverage: 10},
		},
		Orders: []SnapshotOrder{
			{ID: 1, Symbol: "BTC-PERP", User: "alice", Side: 0, Type: 0, Price: 49000, RemainingQty: 1, OriginalQty: 1},
		},
	}

	hash, err := WriteSnapshotFile(path, data)
	require.NoError(t, err)

	got, err := ReadSnapshotFile(path, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSnapshotFile_RejectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")

	_, err := WriteSnapshotFile(path, SnapshotData{Sequence: 1})
	require.NoError(t, err)

	var badHash [hashFieldLen]byte
	badHash[0] = 0xFF
	_, err = ReadSnapshotFile(path, badHash)
	assert.ErrorIs(t, err, ErrChecksum)
}
